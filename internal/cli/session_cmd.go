// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/jeranaias/broadcast-console/internal/session"
	"github.com/jeranaias/broadcast-console/internal/util"
)

// errNotSignedIn is returned by commands that need a session.
var errNotSignedIn = errors.New("not signed in")

// =============================================================================
// LOGIN
// =============================================================================

func newLoginCommand(g *globalFlags) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		Long: `Sign in with a username and password.

The password is read without echo from the terminal, or as one line from
stdin when stdin is not a terminal:

  echo "$PASSWORD" | broadcast login -u alice`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(g, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
			if username == "" {
				if username, err = p.Line("Username: "); err != nil {
					return err
				}
			}
			if username == "" {
				return errors.New("username is required")
			}
			password, err := p.Secret("Password: ")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			resp, err := e.client.Login(ctx, username, password)
			if err != nil {
				return fmt.Errorf("sign in failed: %w", err)
			}

			name := resp.Username
			if name == "" {
				name = username
			}
			if err := e.manager.Login(session.UserIdentity{Username: name}, resp.BearerToken(), resp.ExpiresAt.Time); err != nil {
				return err
			}

			st := e.manager.State()
			out := newPainter(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "%s Signed in as %s. %s\n",
				out.ok("✓"), name, expiryLine(st, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (prompted when omitted)")
	return cmd
}

// =============================================================================
// LOGOUT
// =============================================================================

func newLogoutCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(g, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			e.manager.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

// =============================================================================
// STATUS
// =============================================================================

// statusReport is the status command's JSON payload.
type statusReport struct {
	Authenticated    bool       `json:"authenticated"`
	Phase            string     `json:"phase"`
	Username         string     `json:"username,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	WarningAt        *time.Time `json:"warning_at,omitempty"`
	RemainingSecs    int64      `json:"remaining_seconds"`
	Expiring         bool       `json:"expiring"`
	LastLogoutReason string     `json:"last_logout_reason,omitempty"`
	Server           string     `json:"server"`
	Storage          string     `json:"storage"`
	TestingMode      bool       `json:"testing_mode"`
}

func newStatusCommand(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"s"},
		Short:   "Verify and show the persisted session",
		Long: `Restore the persisted session, verify it with the server and show it.

A session that has expired or that the server rejects is cleared, exactly as
the console would on startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(g, envOptions{})
			if err != nil {
				if asJSON {
					_ = NewJSONErrorResponse("status", err).Write(cmd.OutOrStdout())
				}
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			st := e.bootstrap(ctx)
			report := newStatusReport(e, st, time.Now())

			if asJSON {
				return outputJSON(cmd.OutOrStdout(), "status", func() (interface{}, error) {
					return report, nil
				})
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func newStatusReport(e *env, st session.State, now time.Time) statusReport {
	r := statusReport{
		Authenticated:    st.Authenticated(),
		Phase:            st.Phase.String(),
		Expiring:         st.SessionExpiring,
		LastLogoutReason: string(st.LastLogoutReason),
		Server:           e.client.BaseURL(),
		Storage:          e.cfg.Storage.Backend,
		TestingMode:      e.cfg.Session.TestingMode,
	}
	if st.User != nil {
		r.Username = st.User.Username
	}
	if !st.ExpiresAt.IsZero() {
		exp := st.ExpiresAt.UTC()
		r.ExpiresAt = &exp
		r.RemainingSecs = int64(st.Remaining(now) / time.Second)
	}
	if !st.WarningAt.IsZero() {
		warn := st.WarningAt.UTC()
		r.WarningAt = &warn
	}
	return r
}

func printStatus(w io.Writer, r statusReport) {
	p := newPainter(w)

	fmt.Fprintln(w, p.bold("Broadcast session"))
	fmt.Fprintln(w)
	if !r.Authenticated {
		fmt.Fprintf(w, "  Status:   %s\n", p.warn("not signed in"))
		if reason := session.LogoutReason(r.LastLogoutReason); reason.Message() != "" {
			fmt.Fprintf(w, "  Reason:   %s\n", reason.Message())
		}
	} else {
		status := p.ok("signed in")
		if r.Expiring {
			status = p.warn("expiring")
		}
		fmt.Fprintf(w, "  Status:   %s\n", status)
		fmt.Fprintf(w, "  User:     %s\n", r.Username)
		if r.ExpiresAt != nil {
			fmt.Fprintf(w, "  Expires:  %s (in %s)\n",
				r.ExpiresAt.Local().Format("2006-01-02 15:04:05"),
				util.FormatDuration(time.Duration(r.RemainingSecs)*time.Second))
		}
		if r.WarningAt != nil {
			fmt.Fprintf(w, "  Warning:  %s\n", r.WarningAt.Local().Format("2006-01-02 15:04:05"))
		}
	}
	fmt.Fprintf(w, "  Server:   %s\n", r.Server)
	fmt.Fprintf(w, "  Storage:  %s\n", r.Storage)
	if r.TestingMode {
		fmt.Fprintf(w, "  Mode:     %s\n", p.warn("testing"))
	}
}

// =============================================================================
// EXTEND
// =============================================================================

func newExtendCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "extend",
		Short: "Refresh the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(g, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			st := e.bootstrap(ctx)
			if !st.Authenticated() {
				if msg := st.LastLogoutReason.Message(); msg != "" {
					return fmt.Errorf("%w: %s", errNotSignedIn, msg)
				}
				return errNotSignedIn
			}

			if err := e.manager.ExtendSession(ctx); err != nil {
				return err
			}

			out := newPainter(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "%s Session extended. %s\n",
				out.ok("✓"), expiryLine(e.manager.State(), time.Now()))
			return nil
		},
	}
}

// expiryLine describes when st expires.
func expiryLine(st session.State, now time.Time) string {
	if st.ExpiresAt.IsZero() {
		return "The session has no expiry."
	}
	return fmt.Sprintf("Expires at %s (in %s).",
		st.ExpiresAt.Local().Format("15:04:05"),
		util.FormatDuration(st.Remaining(now)))
}

// =============================================================================
// OUTPUT
// =============================================================================

// painter colors terminal output and leaves piped output plain.
type painter struct {
	out *termenv.Output
}

func newPainter(w io.Writer) painter {
	return painter{out: termenv.NewOutput(w, termenv.WithProfile(colorProfile(w)))}
}

func (p painter) ok(s string) string {
	return p.out.String(s).Foreground(p.out.Color("#10B981")).String()
}

func (p painter) warn(s string) string {
	return p.out.String(s).Foreground(p.out.Color("#F59E0B")).String()
}

func (p painter) bold(s string) string {
	return p.out.String(s).Bold().String()
}
