// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable key-value string storage for the
// session client.
//
// All backends implement Store. Values are opaque strings; the session
// manager decides what goes in them.
//
// # Backends
//
//   - FileStore: a single JSON document written atomically (0600). Supports
//     Watch, so several processes sharing the file observe each other's
//     logins and logouts.
//   - SQLiteStore: a kv table in a pure Go SQLite database.
//   - BoltStore: one bbolt bucket. bbolt holds an exclusive file lock, so a
//     bolt database cannot be shared between processes.
//   - MemoryStore: process-local map, used in tests and for --ephemeral runs.
//
// EncryptedStore wraps any backend with AES-256-GCM.
//
// # Usage
//
//	store, err := storage.Open(storage.Options{
//	    Backend: storage.BackendFile,
//	    Path:    "~/.broadcast/session.json",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	token, err := store.Get("authToken")
//	if errors.Is(err, storage.ErrNotFound) {
//	    // anonymous
//	}
package storage
