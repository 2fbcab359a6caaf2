// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// secondsCutoff separates epoch seconds from epoch milliseconds. 1e11 seconds
// is the year 5138; 1e11 milliseconds is early 1973.
const secondsCutoff = 1e11

// EpochTime is a server timestamp. It accepts epoch seconds or milliseconds
// (as a number or numeric string), an RFC 3339 string, or null.
type EpochTime struct {
	time.Time
}

// EpochToTime converts a seconds-or-milliseconds epoch value.
func EpochToTime(v float64) time.Time {
	if math.Abs(v) < secondsCutoff {
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9))
	}
	return time.UnixMilli(int64(v))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *EpochTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			t.Time = EpochToTime(v)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("unrecognised timestamp %q", s)
		}
		t.Time = parsed
		return nil
	}

	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("unrecognised timestamp %s", data)
	}
	t.Time = EpochToTime(v)
	return nil
}

// MarshalJSON writes epoch milliseconds, or null for the zero time.
func (t EpochTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

// LoginResponse is the body of POST /token.
type LoginResponse struct {
	Token       string    `json:"token"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Username    string    `json:"username,omitempty"`
	ExpiresAt   EpochTime `json:"expires_at"`
}

// BearerToken returns token, falling back to the OAuth2 access_token field.
func (r *LoginResponse) BearerToken() string {
	if r.Token != "" {
		return r.Token
	}
	return r.AccessToken
}

// VerifyResponse is the body of GET /verify-token/.
type VerifyResponse struct {
	Valid  bool      `json:"valid"`
	Expiry EpochTime `json:"expiry"`
}

// RefreshResponse is the body of POST /refresh-token/.
type RefreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt EpochTime `json:"expires_at"`
}
