// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned by ExtendSession when nobody is signed in.
	ErrNoSession = errors.New("session: no active session")

	// ErrSessionChanged is returned by ExtendSession when the session it
	// was extending ended or was replaced while the refresh was in flight.
	ErrSessionChanged = errors.New("session: session changed during extension")

	// ErrExtensionFailed matches every *ExtensionError.
	ErrExtensionFailed = errors.New("session: extension failed")

	// ErrIssuedExpired is the cause of an ExtensionError when the refreshed
	// token's expiry has already passed.
	ErrIssuedExpired = errors.New("session: server issued an already-expired token")

	// ErrEmptyToken is returned by Login for a blank token.
	ErrEmptyToken = errors.New("session: empty token")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: manager closed")
)

// ExtensionError reports a failed refresh. The session has already been
// logged out when it is returned.
type ExtensionError struct {
	Cause error
}

func (e *ExtensionError) Error() string {
	return fmt.Sprintf("session: extension failed: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ExtensionError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrExtensionFailed) hold.
func (e *ExtensionError) Is(target error) bool {
	return target == ErrExtensionFailed
}
