// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for the
// broadcast console.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - SessionConfig: Warning window, default TTL and testing mode
//   - StorageConfig: Session persistence backend and encryption
//   - ValidationError: One invalid field, keyed by its file name
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (BROADCAST_*)
//   - ~/.broadcast/config.toml
//   - ~/.broadcast/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	warning, ttl := cfg.SessionTimings()
package config
