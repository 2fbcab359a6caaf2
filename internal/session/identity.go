// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"errors"
)

// UserIdentity is the authenticated user. Fields the client does not know
// about are kept in Extra and written back unchanged.
type UserIdentity struct {
	Username string
	Extra    map[string]json.RawMessage
}

// MarshalJSON implements json.Marshaler.
func (u UserIdentity) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(u.Extra)+1)
	for k, v := range u.Extra {
		out[k] = v
	}
	name, err := json.Marshal(u.Username)
	if err != nil {
		return nil, err
	}
	out["username"] = name
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *UserIdentity) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("user: expected a JSON object")
	}

	var name string
	if v, ok := raw["username"]; ok {
		if err := json.Unmarshal(v, &name); err != nil {
			return err
		}
		delete(raw, "username")
	}

	u.Username = name
	u.Extra = nil
	if len(raw) > 0 {
		u.Extra = raw
	}
	return nil
}

// Clone returns a deep copy.
func (u *UserIdentity) Clone() *UserIdentity {
	if u == nil {
		return nil
	}
	c := &UserIdentity{Username: u.Username}
	if u.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(u.Extra))
		for k, v := range u.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

func parseUser(s string) (*UserIdentity, error) {
	var u UserIdentity
	if err := json.Unmarshal([]byte(s), &u); err != nil {
		return nil, err
	}
	return &u, nil
}
