// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/api"})
	require.NoError(t, err)
	return c, srv
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoBaseURL)

	_, err = New(Config{BaseURL: "ftp://example.org"})
	assert.Error(t, err)

	c, err := New(Config{BaseURL: "https://example.org/api/"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/api", c.BaseURL())
}

func TestClient_DefaultHeaders(t *testing.T) {
	var got http.Header
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		assert.Equal(t, "/api/verify-token/", r.URL.Path)
		w.Write([]byte(`{"valid":true}`))
	}))

	c.SetBearerToken("tok-123")
	assert.Equal(t, "tok-123", c.BearerToken())

	_, err := c.VerifyToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", got.Get("Authorization"))
	assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))
	assert.NotEmpty(t, got.Get(RequestIDHeader))

	c.ClearBearerToken()
	assert.Equal(t, "", c.BearerToken())
	_, err = c.VerifyToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Get("Authorization"))
}

func TestClient_RequestIDsDiffer(t *testing.T) {
	ids := make(chan string, 2)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get(RequestIDHeader)
		w.Write([]byte(`{"valid":true}`))
	}))

	for i := 0; i < 2; i++ {
		_, err := c.VerifyToken(context.Background())
		require.NoError(t, err)
	}
	assert.NotEqual(t, <-ids, <-ids)
}

func TestClient_InterceptorsRunInOrderBeforeReturn(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"expired"}`))
	}))

	var order []string
	c.AddResponseInterceptor(func(r *http.Response) { order = append(order, "first") })
	remove := c.AddResponseInterceptor(func(r *http.Response) { order = append(order, "second") })
	c.AddResponseInterceptor(func(r *http.Response) {
		assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
		order = append(order, "third")
	})

	_, err := c.RefreshToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, []string{"first", "second", "third"}, order)

	remove()
	order = nil
	_, _ = c.RefreshToken(context.Background())
	assert.Equal(t, []string{"first", "third"}, order)
}

func TestClient_InterceptorMayClearCredential(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	c.SetBearerToken("tok")
	c.AddResponseInterceptor(func(r *http.Response) {
		if r.StatusCode == http.StatusUnauthorized {
			c.ClearBearerToken()
		}
	})

	_, err := c.VerifyToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, "", c.BearerToken())
}

func TestClient_Login(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/token", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "login must not send a stale token")
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "alice", r.PostForm.Get("username"))
		assert.Equal(t, "pw", r.PostForm.Get("password"))
		w.Write([]byte(`{"access_token":"oauth-tok","token_type":"bearer","expires_at":1700000000}`))
	}))
	c.SetBearerToken("stale")

	resp, err := c.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "oauth-tok", resp.BearerToken())
	assert.Equal(t, time.Unix(1700000000, 0), resp.ExpiresAt.Time)
}

func TestClient_LoginMissingToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"username":"alice"}`))
	}))
	_, err := c.Login(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_VerifyToken(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantValid bool
		wantExp   time.Time
		wantErr   error
		wantHTTP  int
	}{
		{name: "valid with ms expiry", status: 200, body: `{"valid":true,"expiry":1700000000000}`, wantValid: true, wantExp: time.UnixMilli(1700000000000)},
		{name: "valid no expiry", status: 200, body: `{"valid":true}`, wantValid: true},
		{name: "rejected", status: 200, body: `{"valid":false}`},
		{name: "missing valid", status: 200, body: `{"expiry":1}`, wantErr: ErrMalformedResponse},
		{name: "not json", status: 200, body: `<html>`, wantErr: ErrMalformedResponse},
		{name: "bad expiry", status: 200, body: `{"valid":true,"expiry":"soon"}`, wantErr: ErrMalformedResponse},
		{name: "server error", status: 503, body: `down`, wantHTTP: 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			resp, err := c.VerifyToken(context.Background())
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantHTTP != 0:
				var he *HTTPError
				require.True(t, errors.As(err, &he))
				assert.Equal(t, tt.wantHTTP, he.StatusCode)
				assert.Equal(t, "down", he.Body)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantValid, resp.Valid)
				assert.True(t, tt.wantExp.Equal(resp.Expiry.Time), "expiry %v", resp.Expiry.Time)
			}
		})
	}
}

func TestClient_RefreshToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/refresh-token/", r.URL.Path)
		assert.Equal(t, "Bearer old", r.Header.Get("Authorization"))
		w.Write([]byte(`{"token":"new","expires_at":"2030-01-01T00:00:00Z"}`))
	}))
	c.SetBearerToken("old")

	resp, err := c.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", resp.Token)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), resp.ExpiresAt.UTC())
}

func TestClient_RefreshTokenEmpty(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":""}`))
	}))
	_, err := c.RefreshToken(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.RefreshToken(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_RateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"valid":true}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, RequestsPerSecond: 0.01, Burst: 1})
	require.NoError(t, err)

	_, err = c.VerifyToken(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.VerifyToken(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second request must be held by the limiter")
}

func TestEpochTime_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`1700000000`, time.Unix(1700000000, 0)},
		{`1700000000000`, time.UnixMilli(1700000000000)},
		{`"1700000000000"`, time.UnixMilli(1700000000000)},
		{`1700000000.5`, time.Unix(1700000000, 500000000)},
		{`"2025-03-01T12:00:00Z"`, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		{`null`, time.Time{}},
		{`""`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var et EpochTime
			require.NoError(t, json.Unmarshal([]byte(tt.in), &et))
			assert.True(t, tt.want.Equal(et.Time), "got %v want %v", et.Time, tt.want)
		})
	}

	var et EpochTime
	assert.Error(t, json.Unmarshal([]byte(`"tomorrow"`), &et))
	assert.Error(t, json.Unmarshal([]byte(`true`), &et))
}

func TestEpochTime_Marshal(t *testing.T) {
	b, err := json.Marshal(EpochTime{time.UnixMilli(1700000000123)})
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", string(b))

	b, err = json.Marshal(EpochTime{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
