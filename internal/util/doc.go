// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across broadcast-console.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//   - FormatCountdown: M:SS rendering of a remaining duration
//   - FormatDuration: compact human-readable durations ("4m 30s")
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//
// # Usage
//
//	// Persist the session file without ever leaving a torn write behind
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	// Render the expiry dialog countdown
//	label := util.FormatCountdown(remaining)
package util
