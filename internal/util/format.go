// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"strconv"
	"time"
)

// FormatCountdown formats d as M:SS. Negative durations render as "0:00".
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		return "0:00"
	}
	totalSecs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", totalSecs/60, totalSecs%60)
}

// FormatDuration returns a compact human-readable duration such as "45s",
// "5m" or "1h 5m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return strconv.Itoa(int(d/time.Second)) + "s"
	}
	if d < time.Hour {
		mins := int(d / time.Minute)
		secs := int(d/time.Second) % 60
		if secs == 0 {
			return strconv.Itoa(mins) + "m"
		}
		return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
	}
	hours := int(d / time.Hour)
	mins := int(d/time.Minute) % 60
	if mins == 0 {
		return strconv.Itoa(hours) + "h"
	}
	return strconv.Itoa(hours) + "h " + strconv.Itoa(mins) + "m"
}

// TruncateRunes shortens s to at most maxRunes runes, replacing the tail
// with "..." when it had to cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
