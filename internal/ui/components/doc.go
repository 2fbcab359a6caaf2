// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package components provides the Bubble Tea components of the broadcast console.

# Components

ExpiryDialog (expiry_dialog.go) - Countdown shown inside the warning window,
with Extend and Logout actions.

LoginForm (login_form.go) - Username and password form. Shows why the previous
session ended.

TestingNotice (testing_notice.go) - One-line timer readout used when testing
mode shortens sessions.

Header and StatusBar (chrome.go) - Signed-in user and session status.

Components never talk to the session manager. They emit messages
(ExtendRequestedMsg, LogoutRequestedMsg, LoginSubmitMsg) that the app model
turns into manager calls.
*/
package components
