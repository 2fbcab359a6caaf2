// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"time"

	"github.com/jeranaias/broadcast-console/internal/ui/styles"
)

// TestingNotice shows the armed timers while testing mode is on.
type TestingNotice struct {
	theme   *styles.Theme
	enabled bool

	warningAt time.Time
	expiresAt time.Time
	now       time.Time
}

// NewTestingNotice creates a notice. A disabled notice renders nothing.
func NewTestingNotice(theme *styles.Theme, enabled bool) TestingNotice {
	return TestingNotice{theme: theme, enabled: enabled}
}

// Set records the planned times and the current time.
func (n *TestingNotice) Set(warningAt, expiresAt, now time.Time) {
	n.warningAt = warningAt
	n.expiresAt = expiresAt
	n.now = now
}

// View renders "TEST MODE" with the seconds left and both planned times.
func (n TestingNotice) View() string {
	if !n.enabled || n.expiresAt.IsZero() {
		return ""
	}
	left := int(n.expiresAt.Sub(n.now).Seconds())
	if left < 0 {
		left = 0
	}
	text := fmt.Sprintf("TEST MODE  expires in %ds  warning %s  expiry %s",
		left,
		n.warningAt.Local().Format("15:04:05"),
		n.expiresAt.Local().Format("15:04:05"))
	return n.theme.Notice.Render(text)
}
