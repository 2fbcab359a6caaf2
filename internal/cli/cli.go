// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"runtime"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/broadcast-console/internal/ui/app"
)

// Build information. Populated at build time via -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// requestTimeout bounds each command's network work.
const requestTimeout = 30 * time.Second

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "broadcast",
		Short: "Broadcast Console - signed-in terminal console",
		Long: `Broadcast Console is a terminal client for the broadcast service.

It keeps you signed in across restarts, warns before the session expires and
offers to extend it, and signs you out when the server rejects the session.

Configuration:
  Config is loaded from ~/.broadcast/config.toml (or config.json). Set
  BROADCAST_HOME to use another directory. Environment variables with the
  BROADCAST_ prefix override file values.
  Example: BROADCAST_API_URL=https://broadcast.example.com`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(g)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "config file (default: ~/.broadcast/config.toml)")
	flags.StringVar(&g.logLevel, "log-level", "", "log level: trace, debug, info, warn or error")
	flags.BoolVar(&g.testing, "testing", false, "use one-minute sessions with a 15-second warning")

	root.AddCommand(
		newLoginCommand(g),
		newLogoutCommand(g),
		newStatusCommand(g),
		newExtendCommand(g),
		newConfigCommand(g),
		newVersionCommand(),
	)
	return root
}

// runConsole starts the terminal console.
func runConsole(g *globalFlags) error {
	e, err := openEnv(g, envOptions{quiet: true, watch: true, serveMetrics: true})
	if err != nil {
		return err
	}
	defer e.Close()

	m := app.New(app.Options{
		Sessions:       e.manager,
		Auth:           e.client,
		TestingMode:    e.cfg.Session.TestingMode,
		RequestTimeout: requestTimeout,
	})
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "broadcast %s\n", Version)
			fmt.Fprintf(w, "  Commit:     %s\n", GitCommit)
			fmt.Fprintf(w, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
