// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/muesli/termenv"
	"github.com/peterh/liner"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// isTerminal reports whether r is a terminal file.
func isTerminal(r interface{}) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// colorProfile returns the profile for output to w. NO_COLOR and non-terminal
// writers get plain text.
func colorProfile(w io.Writer) termenv.Profile {
	if os.Getenv("NO_COLOR") != "" || !isTerminal(w) {
		return termenv.Ascii
	}
	return termenv.NewOutput(w).Profile
}

// =============================================================================
// PROMPTS
// =============================================================================

// errPromptAborted is returned when the user presses ctrl+c at a prompt.
var errPromptAborted = errors.New("prompt aborted")

// prompter reads credentials from a terminal, or line by line from a pipe.
type prompter struct {
	in    io.Reader
	out   io.Writer
	lines *bufio.Reader
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: in, out: out}
}

// Line prompts for a visible value. On a terminal it uses liner for line
// editing.
func (p *prompter) Line(prompt string) (string, error) {
	if isTerminal(p.in) {
		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)

		s, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", errPromptAborted
		}
		return strings.TrimSpace(s), err
	}
	return p.readLine()
}

// Secret prompts for a value without echo.
func (p *prompter) Secret(prompt string) (string, error) {
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(p.out, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return p.readLine()
}

func (p *prompter) readLine() (string, error) {
	if p.lines == nil {
		p.lines = bufio.NewReader(p.in)
	}
	s, err := p.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}
