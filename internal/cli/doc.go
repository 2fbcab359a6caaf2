// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the broadcast command line.
//
// Running broadcast with no arguments starts the terminal console. The
// subcommands work on the same persisted session without the UI:
//
//	broadcast                 Start the console (default)
//	broadcast login           Sign in and persist the session
//	broadcast logout          Sign out and clear the persisted session
//	broadcast status [--json] Verify and show the persisted session
//	broadcast extend          Refresh the persisted session
//	broadcast config show     Show the effective configuration
//	broadcast config path     Print the configuration file path
//	broadcast config init     Write a default configuration file
//	broadcast config get KEY  Print one configuration value
//	broadcast version         Print version information
//
// Global flags select the configuration file (--config), override the log
// level (--log-level) and force the short testing timings (--testing).
package cli
