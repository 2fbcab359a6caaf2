// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// LoadingSpinner is shown while a persisted session is being restored.
var LoadingSpinner = spinner.Spinner{
	Frames: []string{"|", "/", "-", "\\"},
	FPS:    time.Second / 10,
}

// Theme holds the styled components for each screen.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// CHROME
	// ==========================================================================

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderUser  lipgloss.Style
	StatusBar   lipgloss.Style
	StatusOK    lipgloss.Style
	StatusWarn  lipgloss.Style
	Body        lipgloss.Style
	Hint        lipgloss.Style

	// ==========================================================================
	// DIALOGS
	// ==========================================================================

	DialogWarning lipgloss.Style
	DialogError   lipgloss.Style
	DialogTitle   lipgloss.Style
	Countdown     lipgloss.Style
	Button        lipgloss.Style
	ButtonActive  lipgloss.Style

	// ==========================================================================
	// LOGIN FORM
	// ==========================================================================

	FormBox     lipgloss.Style
	FormLabel   lipgloss.Style
	FormFocused lipgloss.Style
	FormError   lipgloss.Style
	FormNotice  lipgloss.Style

	// ==========================================================================
	// TESTING NOTICE
	// ==========================================================================

	Notice lipgloss.Style
}

// NewTheme detects the terminal and builds the styles.
func NewTheme() *Theme {
	t := &Theme{
		IsDark:       lipgloss.HasDarkBackground(),
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

// HasColor reports whether the terminal renders any color at all.
func (t *Theme) HasColor() bool {
	return t.ColorProfile != termenv.Ascii
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)
	t.HeaderUser = lipgloss.NewStyle().
		Foreground(TextSecondary)

	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextSecondary).
		Padding(0, 1)
	t.StatusOK = lipgloss.NewStyle().
		Foreground(Emerald)
	t.StatusWarn = lipgloss.NewStyle().
		Foreground(Amber).
		Bold(true)

	t.Body = lipgloss.NewStyle().
		Foreground(TextPrimary).
		Padding(1, 2)
	t.Hint = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	dialog := lipgloss.NewStyle().
		BorderStyle(lipgloss.DoubleBorder()).
		Padding(1, 3).
		Align(lipgloss.Center)
	t.DialogWarning = dialog.BorderForeground(Amber)
	t.DialogError = dialog.BorderForeground(Rose)
	t.DialogTitle = lipgloss.NewStyle().Bold(true)
	t.Countdown = lipgloss.NewStyle().
		Foreground(Amber).
		Bold(true)
	t.Button = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Padding(0, 2)
	t.ButtonActive = lipgloss.NewStyle().
		Foreground(TextInverse).
		Background(Cyan).
		Bold(true).
		Padding(0, 2)

	t.FormBox = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(1, 3)
	t.FormLabel = lipgloss.NewStyle().
		Foreground(TextSecondary)
	t.FormFocused = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)
	t.FormError = lipgloss.NewStyle().
		Foreground(Rose)
	t.FormNotice = lipgloss.NewStyle().
		Foreground(Amber)

	t.Notice = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(Amber).
		Foreground(TextSecondary).
		Padding(0, 1)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// DialogWidth returns the width for centered dialogs, between 40 and 60
// columns.
func (t *Theme) DialogWidth() int {
	w := t.Width - 8
	if w < 40 {
		w = 40
	}
	if w > 60 {
		w = 60
	}
	return w
}
