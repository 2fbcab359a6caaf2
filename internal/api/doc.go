// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the broadcast admin API.
//
// The client carries default headers (including the bearer credential)
// that are attached to every request, and runs registered response
// interceptors on every response before handing it back to the caller.
// The session manager uses the interceptor hook to log out on any 401.
//
// # Endpoints
//
//   - POST /token: form login, returns the bearer token
//   - GET /verify-token/: checks the current bearer token
//   - POST /refresh-token/: exchanges the current token for a fresh one
//
// # Usage
//
//	client, err := api.New(api.Config{BaseURL: "https://broadcast.example.org/api"})
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Login(ctx, "alice", "hunter2")
//	if err != nil {
//	    return err
//	}
//	client.SetBearerToken(resp.BearerToken())
package api
