// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session implements the client-side session lifecycle.
//
// A Manager owns the authenticated user, the bearer token and its expiry.
// It persists them to a storage.Store, installs the token on the shared
// api.Client, and schedules two one-shot timers: a warning timer that sets
// SessionExpiring ahead of expiry, and an expiry timer that logs out.
//
// # Lifecycle
//
//	Bootstrapping ──▶ Anonymous ◀──────────────┐
//	      │              │ Login                │ expiry, Logout, 401,
//	      ▼              ▼                      │ extension failure
//	      └─────────▶ Active ──warning──▶ Warning
//	                     ▲                   │
//	                     └──ExtendSession────┘
//
// Any 401 seen by the api.Client logs the session out, whatever the timers
// say. Timers are a UX aid; the server is the authority.
//
// # Usage
//
//	mgr := session.NewManager(session.DefaultConfig(), store, client)
//	defer mgr.Close()
//
//	states, cancel := mgr.Subscribe()
//	defer cancel()
//	go mgr.Bootstrap(ctx)
//
//	for st := range states {
//	    if st.SessionExpiring {
//	        // offer ExtendSession
//	    }
//	}
package session
