// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"time"
)

// =============================================================================
// PHASE
// =============================================================================

// Phase is the manager's position in the lifecycle.
type Phase int

const (
	// PhaseBootstrapping lasts until Bootstrap finishes.
	PhaseBootstrapping Phase = iota
	// PhaseAnonymous means no user is authenticated.
	PhaseAnonymous
	// PhaseActive means authenticated and outside the warning window.
	PhaseActive
	// PhaseWarning means authenticated and inside the warning window.
	PhaseWarning
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "Bootstrapping"
	case PhaseAnonymous:
		return "Anonymous"
	case PhaseActive:
		return "Active"
	case PhaseWarning:
		return "Warning"
	default:
		return "Unknown"
	}
}

// =============================================================================
// LOGOUT REASONS
// =============================================================================

// LogoutReason says why a session ended.
type LogoutReason string

const (
	ReasonNone                 LogoutReason = ""
	ReasonUser                 LogoutReason = "user"
	ReasonExpired              LogoutReason = "expired"
	ReasonVerificationRejected LogoutReason = "verification_rejected"
	ReasonVerifyFailed         LogoutReason = "verify_failed"
	ReasonExtensionFailed      LogoutReason = "extension_failed"
	ReasonUnauthorized         LogoutReason = "unauthorized"
	ReasonExternal             LogoutReason = "external"
	ReasonCorrupt              LogoutReason = "corrupt_storage"
)

// Message is the text shown on the login view after the session ended.
func (r LogoutReason) Message() string {
	switch r {
	case ReasonUser:
		return "You have been signed out."
	case ReasonExpired:
		return "Your session expired. Please sign in again."
	case ReasonVerificationRejected:
		return "Your saved session is no longer valid. Please sign in again."
	case ReasonVerifyFailed:
		return "Could not confirm your session with the server. Please sign in again."
	case ReasonExtensionFailed:
		return "Your session could not be extended. Please sign in again."
	case ReasonUnauthorized:
		return "The server rejected your credentials. Please sign in again."
	case ReasonExternal:
		return "You were signed out from another window."
	case ReasonCorrupt:
		return "Saved session data was unreadable. Please sign in again."
	default:
		return ""
	}
}

// Forced reports whether the session ended without the user asking.
func (r LogoutReason) Forced() bool {
	return r != ReasonNone && r != ReasonUser
}

// =============================================================================
// STATE SNAPSHOT
// =============================================================================

// State is an immutable snapshot published to observers.
type State struct {
	User            *UserIdentity
	Loading         bool
	SessionExpiring bool
	Phase           Phase

	// ExpiresAt and WarningAt are zero when no timers are armed.
	ExpiresAt time.Time
	WarningAt time.Time

	// LastLogoutReason is the reason the most recent session ended. It is
	// cleared by Login.
	LastLogoutReason LogoutReason
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool {
	return s.User != nil && !s.Loading
}

// Remaining returns the time left before expiry, never negative.
func (s State) Remaining(now time.Time) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
