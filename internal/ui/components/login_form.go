// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/broadcast-console/internal/ui/styles"
)

// =============================================================================
// LOGIN FORM
// =============================================================================

// LoginSubmitMsg carries the entered credentials.
type LoginSubmitMsg struct {
	Username string
	Password string
}

const (
	fieldUsername = iota
	fieldPassword
	fieldCount
)

// LoginForm collects a username and password.
type LoginForm struct {
	theme  *styles.Theme
	inputs [fieldCount]textinput.Model
	focus  int

	notice string
	err    string
	busy   bool

	next   key.Binding
	prev   key.Binding
	submit key.Binding
}

// NewLoginForm creates an empty form with the username focused.
func NewLoginForm(theme *styles.Theme) LoginForm {
	user := textinput.New()
	user.Placeholder = "username"
	user.Prompt = ""
	user.CharLimit = 128
	user.Focus()

	pass := textinput.New()
	pass.Placeholder = "password"
	pass.Prompt = ""
	pass.CharLimit = 256
	pass.EchoMode = textinput.EchoPassword
	pass.EchoCharacter = '*'

	return LoginForm{
		theme:  theme,
		inputs: [fieldCount]textinput.Model{user, pass},
		next:   key.NewBinding(key.WithKeys("tab", "down")),
		prev:   key.NewBinding(key.WithKeys("shift+tab", "up")),
		submit: key.NewBinding(key.WithKeys("enter")),
	}
}

// Init starts the cursor blink.
func (f LoginForm) Init() tea.Cmd {
	return textinput.Blink
}

// SetNotice shows a line above the form, e.g. why the last session ended.
func (f *LoginForm) SetNotice(notice string) { f.notice = notice }

// SetError shows a login failure below the form and re-enables input.
func (f *LoginForm) SetError(err string) {
	f.err = err
	f.busy = false
}

// SetBusy disables input while a login request is in flight.
func (f *LoginForm) SetBusy(busy bool) { f.busy = busy }

// Busy reports whether a login request is in flight.
func (f LoginForm) Busy() bool { return f.busy }

// Reset clears the password and any error, keeping the username.
func (f *LoginForm) Reset() {
	f.inputs[fieldPassword].SetValue("")
	f.err = ""
	f.busy = false
	f.setFocus(fieldUsername)
	if f.inputs[fieldUsername].Value() != "" {
		f.setFocus(fieldPassword)
	}
}

// Username returns the entered username.
func (f LoginForm) Username() string {
	return strings.TrimSpace(f.inputs[fieldUsername].Value())
}

func (f *LoginForm) setFocus(i int) tea.Cmd {
	f.focus = i
	var cmd tea.Cmd
	for j := range f.inputs {
		if j == i {
			cmd = f.inputs[j].Focus()
		} else {
			f.inputs[j].Blur()
		}
	}
	return cmd
}

// Update handles navigation, submission and text entry.
func (f LoginForm) Update(msg tea.Msg) (LoginForm, tea.Cmd) {
	if f.busy {
		return f, nil
	}

	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, f.next):
			cmd := f.setFocus((f.focus + 1) % fieldCount)
			return f, cmd
		case key.Matches(km, f.prev):
			cmd := f.setFocus((f.focus + fieldCount - 1) % fieldCount)
			return f, cmd
		case key.Matches(km, f.submit):
			if f.focus == fieldUsername {
				cmd := f.setFocus(fieldPassword)
				return f, cmd
			}
			return f.trySubmit()
		}
	}

	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return f, cmd
}

func (f LoginForm) trySubmit() (LoginForm, tea.Cmd) {
	username := f.Username()
	password := f.inputs[fieldPassword].Value()
	switch {
	case username == "":
		f.err = "Username is required."
		cmd := f.setFocus(fieldUsername)
		return f, cmd
	case password == "":
		f.err = "Password is required."
		return f, nil
	}

	f.err = ""
	f.busy = true
	return f, emit(LoginSubmitMsg{Username: username, Password: password})
}

// View renders the form.
func (f LoginForm) View() string {
	t := f.theme

	label := func(i int, text string) string {
		if i == f.focus {
			return t.FormFocused.Render("> " + text)
		}
		return t.FormLabel.Render("  " + text)
	}

	var parts []string
	parts = append(parts, t.HeaderTitle.Render("Sign in to Broadcast"), "")
	if f.notice != "" {
		parts = append(parts, t.FormNotice.Render(f.notice), "")
	}
	parts = append(parts,
		label(fieldUsername, "Username"),
		"  "+f.inputs[fieldUsername].View(),
		"",
		label(fieldPassword, "Password"),
		"  "+f.inputs[fieldPassword].View(),
	)
	if f.err != "" {
		parts = append(parts, "", t.FormError.Render(styles.StatusIndicators.Error+" "+f.err))
	}
	if f.busy {
		parts = append(parts, "", t.Hint.Render("Signing in..."))
	} else {
		parts = append(parts, "", t.Hint.Render("tab next field  enter sign in  ctrl+c quit"))
	}

	return t.FormBox.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
