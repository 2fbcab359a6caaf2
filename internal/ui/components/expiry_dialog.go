// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/broadcast-console/internal/ui/styles"
	"github.com/jeranaias/broadcast-console/internal/util"
)

// =============================================================================
// SESSION EXPIRY DIALOG
// =============================================================================

// ExpiryDialog counts down the last minutes of a session and offers to extend
// it or sign out.
type ExpiryDialog struct {
	theme *styles.Theme
	keys  ExpiryKeyMap

	// State
	visible   bool
	remaining time.Duration
	focus     int // 0 = extend, 1 = logout
	extending bool
	err       string

	// seq invalidates ticks from an earlier Open.
	seq int

	width  int
	height int
}

// ExpiryKeyMap binds the dialog actions.
type ExpiryKeyMap struct {
	Extend key.Binding
	Logout key.Binding
	Switch key.Binding
	Select key.Binding
}

// DefaultExpiryKeyMap returns e/l shortcuts, tab to move focus and enter to
// press the focused button.
func DefaultExpiryKeyMap() ExpiryKeyMap {
	return ExpiryKeyMap{
		Extend: key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "extend")),
		Logout: key.NewBinding(key.WithKeys("l", "esc"), key.WithHelp("l", "sign out")),
		Switch: key.NewBinding(key.WithKeys("tab", "shift+tab", "left", "right")),
		Select: key.NewBinding(key.WithKeys("enter", " ")),
	}
}

// NewExpiryDialog creates a hidden dialog.
func NewExpiryDialog(theme *styles.Theme) ExpiryDialog {
	return ExpiryDialog{theme: theme, keys: DefaultExpiryKeyMap()}
}

// =============================================================================
// MESSAGES
// =============================================================================

// ExpiryTickMsg advances the countdown by one second.
type ExpiryTickMsg struct {
	seq int
}

// ExtendRequestedMsg asks the app to extend the session.
type ExtendRequestedMsg struct{}

// LogoutRequestedMsg asks the app to sign out.
type LogoutRequestedMsg struct{}

// =============================================================================
// STATE MANAGEMENT
// =============================================================================

// Open shows the dialog counting down from remaining and returns the first
// tick. Opening an already visible dialog restarts the countdown.
func (d *ExpiryDialog) Open(remaining time.Duration) tea.Cmd {
	if remaining < 0 {
		remaining = 0
	}
	d.seq++
	d.visible = true
	d.remaining = remaining.Truncate(time.Second)
	d.focus = 0
	d.extending = false
	d.err = ""
	return d.tick()
}

// Close hides the dialog. Pending ticks are ignored.
func (d *ExpiryDialog) Close() {
	d.seq++
	d.visible = false
	d.extending = false
	d.err = ""
}

// ExtensionFailed shows err and re-enables the buttons.
func (d *ExpiryDialog) ExtensionFailed(err error) {
	d.extending = false
	if err != nil {
		d.err = err.Error()
	}
}

// SetSize sets the area the dialog is centered in.
func (d *ExpiryDialog) SetSize(width, height int) {
	d.width = width
	d.height = height
}

// Visible reports whether the dialog is shown.
func (d ExpiryDialog) Visible() bool { return d.visible }

// Remaining returns the countdown value.
func (d ExpiryDialog) Remaining() time.Duration { return d.remaining }

// Extending reports whether an extension request is in flight.
func (d ExpiryDialog) Extending() bool { return d.extending }

func (d ExpiryDialog) tick() tea.Cmd {
	seq := d.seq
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return ExpiryTickMsg{seq: seq}
	})
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Update handles keys and ticks while the dialog is visible.
func (d ExpiryDialog) Update(msg tea.Msg) (ExpiryDialog, tea.Cmd) {
	if !d.visible {
		return d, nil
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.SetSize(msg.Width, msg.Height)

	case ExpiryTickMsg:
		if msg.seq != d.seq {
			return d, nil
		}
		d.remaining -= time.Second
		if d.remaining <= 0 {
			d.remaining = 0
			return d, nil
		}
		return d, d.tick()

	case tea.KeyMsg:
		if d.extending {
			return d, nil
		}
		switch {
		case key.Matches(msg, d.keys.Extend):
			return d.extend()
		case key.Matches(msg, d.keys.Logout):
			return d, emit(LogoutRequestedMsg{})
		case key.Matches(msg, d.keys.Switch):
			d.focus = 1 - d.focus
		case key.Matches(msg, d.keys.Select):
			if d.focus == 0 {
				return d.extend()
			}
			return d, emit(LogoutRequestedMsg{})
		}
	}
	return d, nil
}

func (d ExpiryDialog) extend() (ExpiryDialog, tea.Cmd) {
	d.extending = true
	d.err = ""
	return d, emit(ExtendRequestedMsg{})
}

func emit(msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}

// View renders the dialog centered in its area, or "" when hidden.
func (d ExpiryDialog) View() string {
	if !d.visible {
		return ""
	}
	t := d.theme
	width := t.DialogWidth()

	title := t.DialogTitle.Foreground(styles.Amber).
		Render(styles.StatusIndicators.Warning + " Session Expiring")

	msg := lipgloss.NewStyle().
		Foreground(styles.TextPrimary).
		Width(width - 8).
		Align(lipgloss.Center).
		Render("Your session will expire in " + t.Countdown.Render(util.FormatCountdown(d.remaining)))

	extend, logout := t.Button, t.Button
	if d.focus == 0 {
		extend = t.ButtonActive
	} else {
		logout = t.ButtonActive
	}
	extendLabel := "Extend session"
	if d.extending {
		extendLabel = "Extending..."
	}
	buttons := lipgloss.JoinHorizontal(lipgloss.Center,
		extend.Render(extendLabel), "  ", logout.Render("Sign out"))

	parts := []string{title, "", msg, "", buttons}
	if d.err != "" {
		parts = append(parts, "", styles.RenderError(d.err))
	}
	parts = append(parts, "", t.Hint.Render("e extend  l sign out  tab switch"))

	box := t.DialogWarning.Width(width).Render(lipgloss.JoinVertical(lipgloss.Center, parts...))

	w, h := d.width, d.height
	if w == 0 {
		w = width + 4
	}
	if h == 0 {
		h = lipgloss.Height(box)
	}
	return lipgloss.Place(w, h, lipgloss.Center, lipgloss.Center, box,
		lipgloss.WithWhitespaceBackground(styles.SurfaceDim))
}
