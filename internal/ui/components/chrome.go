// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/broadcast-console/internal/ui/styles"
	"github.com/jeranaias/broadcast-console/internal/util"
)

// =============================================================================
// HEADER
// =============================================================================

// RenderHeader renders the title bar with the signed-in user on the right.
func RenderHeader(t *styles.Theme, width int, username string) string {
	left := t.HeaderTitle.Render("Broadcast Console")
	right := ""
	if username != "" {
		right = t.HeaderUser.Render(util.TruncateRunes(username, 32))
	}
	return spread(t.Header, width, left, right)
}

// =============================================================================
// STATUS BAR
// =============================================================================

// RenderStatusBar renders the session status line. remaining is the time left
// before expiry; zero hides it.
func RenderStatusBar(t *styles.Theme, width int, warning bool, remaining time.Duration) string {
	var left string
	switch {
	case warning:
		left = t.StatusWarn.Render(styles.StatusIndicators.Warning + " Session expiring")
	default:
		left = t.StatusOK.Render(styles.StatusIndicators.Success + " Signed in")
	}

	right := "ctrl+l sign out  ctrl+e extend  q quit"
	if remaining > 0 {
		right = "expires in " + util.FormatDuration(remaining) + "  " + right
	}
	return spread(t.StatusBar, width, left, right)
}

// spread places left and right at the edges of a bar of the given width.
func spread(style lipgloss.Style, width int, left, right string) string {
	inner := width - style.GetHorizontalFrameSize()
	gap := inner - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	line := left + strings.Repeat(" ", gap) + right
	if width > 0 {
		return style.Width(width).Render(line)
	}
	return style.Render(line)
}
