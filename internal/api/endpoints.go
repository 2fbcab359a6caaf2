// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Endpoint paths, relative to the base URL.
const (
	PathLogin   = "/token"
	PathVerify  = "/verify-token/"
	PathRefresh = "/refresh-token/"
)

// Login posts the credentials as a form and returns the issued token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.NewRequest(ctx, http.MethodPost, PathLogin, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// Login must not carry a stale credential from a previous session.
	req.Header.Set("Authorization", "")

	var out LoginResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if out.BearerToken() == "" {
		return nil, fmt.Errorf("login: %w: no token in response", ErrMalformedResponse)
	}
	return &out, nil
}

// VerifyToken asks the server whether the installed credential is valid.
func (c *Client) VerifyToken(ctx context.Context) (*VerifyResponse, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, PathVerify, nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := c.doJSON(req, &raw); err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	validRaw, ok := raw["valid"]
	if !ok {
		return nil, fmt.Errorf("verify token: %w: missing valid field", ErrMalformedResponse)
	}

	var out VerifyResponse
	if err := json.Unmarshal(validRaw, &out.Valid); err != nil {
		return nil, fmt.Errorf("verify token: %w: %v", ErrMalformedResponse, err)
	}
	if expRaw, ok := raw["expiry"]; ok {
		if err := out.Expiry.UnmarshalJSON(expRaw); err != nil {
			return nil, fmt.Errorf("verify token: %w: %v", ErrMalformedResponse, err)
		}
	}
	return &out, nil
}

// RefreshToken exchanges the installed credential for a new one.
func (c *Client) RefreshToken(ctx context.Context) (*RefreshResponse, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, PathRefresh, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		RefreshResponse
		AccessToken string `json:"access_token"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if out.Token == "" {
		out.Token = out.AccessToken
	}
	if out.Token == "" {
		return nil, fmt.Errorf("refresh token: %w: no token in response", ErrMalformedResponse)
	}
	return &out.RefreshResponse, nil
}
