// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the broadcast console.

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection.

# Color System (colors.go)

  - Cyan - Brand color, focused inputs
  - Emerald - Active session, success
  - Amber - Warning window, countdown
  - Rose - Errors, forced sign-out

Status messages pair each color with an ASCII indicator ([OK], [X], [!], [i])
so meaning never depends on color alone.

# Theme (theme.go)

Theme holds the composed styles for each screen: header, status bar, dialog
boxes, the login form and the testing notice. NewTheme detects the terminal
color profile once.

# Spinner

LoadingSpinner is the frame set shown while the session is being restored.
*/
package styles
