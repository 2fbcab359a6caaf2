// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SERVER
// =============================================================================

// authServer issues, verifies and refreshes tokens.
type authServer struct {
	mu            sync.Mutex
	valid         map[string]bool
	issued        int
	refreshStatus int
	srv           *httptest.Server
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	s := &authServer{valid: make(map[string]bool)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *authServer) issueLocked() string {
	s.issued++
	tok := fmt.Sprintf("tok-%d", s.issued)
	s.valid[tok] = true
	return tok
}

func (s *authServer) issuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}

func (s *authServer) failRefresh(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
}

func (s *authServer) revokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok := range s.valid {
		s.valid[tok] = false
	}
}

func (s *authServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	expiry := time.Now().Add(time.Hour)

	switch r.URL.Path {
	case "/token":
		if err := r.ParseForm(); err != nil || r.PostForm.Get("password") != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, `{"token":%q,"username":%q,"expires_at":%d}`,
			s.issueLocked(), r.PostForm.Get("username"), expiry.Unix())

	case "/verify-token/":
		if !s.valid[bearer] {
			w.Write([]byte(`{"valid":false}`))
			return
		}
		fmt.Fprintf(w, `{"valid":true,"expiry":%d}`, expiry.UnixMilli())

	case "/refresh-token/":
		if s.refreshStatus != 0 {
			w.WriteHeader(s.refreshStatus)
			return
		}
		if !s.valid[bearer] {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.valid[bearer] = false
		fmt.Fprintf(w, `{"token":%q,"expires_at":%d}`, s.issueLocked(), expiry.Add(time.Hour).Unix())

	default:
		http.NotFound(w, r)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// isolate points the config directory at a temp dir and the API at srv.
func isolate(t *testing.T, apiURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BROADCAST_HOME", dir)
	for _, name := range []string{
		"BROADCAST_WARNING_WINDOW_SECS", "BROADCAST_SESSION_TTL_SECS",
		"BROADCAST_TESTING_MODE", "BROADCAST_STORAGE_BACKEND", "BROADCAST_STORAGE_PATH",
		"BROADCAST_STORAGE_PASSPHRASE", "BROADCAST_LOG_LEVEL", "BROADCAST_METRICS_ADDR",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("BROADCAST_API_URL", apiURL)
	t.Setenv("NO_COLOR", "1")
	return dir
}

// run executes the command line with stdin and returns the combined output.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func signIn(t *testing.T) {
	t.Helper()
	out, err := run(t, "pw\n", "login", "-u", "alice")
	require.NoError(t, err, out)
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func TestLoginStatusLogout(t *testing.T) {
	srv := newAuthServer(t)
	dir := isolate(t, srv.srv.URL)

	out, err := run(t, "pw\n", "login", "-u", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as alice.")
	assert.Contains(t, out, "Expires at")
	assert.FileExists(t, filepath.Join(dir, "session.json"))

	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, srv.srv.URL)

	out, err = run(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out.")

	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not signed in")
}

func TestLoginPromptsForUsername(t *testing.T) {
	srv := newAuthServer(t)
	isolate(t, srv.srv.URL)

	out, err := run(t, "bob\npw\n", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as bob.")
}

func TestLoginFailures(t *testing.T) {
	srv := newAuthServer(t)
	isolate(t, srv.srv.URL)

	_, err := run(t, "wrong\n", "login", "-u", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign in failed")
	assert.Contains(t, err.Error(), "401")

	_, err = run(t, "", "login", "-u", "alice")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "no password on stdin")

	_, err = run(t, "\n", "login")
	assert.EqualError(t, err, "username is required")

	out, err := run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not signed in")
}

func TestStatusJSON(t *testing.T) {
	srv := newAuthServer(t)
	isolate(t, srv.srv.URL)
	signIn(t)

	out, err := run(t, "", "status", "--json")
	require.NoError(t, err)

	var resp struct {
		Success bool         `json:"success"`
		Command string       `json:"command"`
		Data    statusReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.True(t, resp.Success)
	assert.Equal(t, "status", resp.Command)
	assert.True(t, resp.Data.Authenticated)
	assert.Equal(t, "Active", resp.Data.Phase)
	assert.Equal(t, "alice", resp.Data.Username)
	assert.Equal(t, "file", resp.Data.Storage)
	require.NotNil(t, resp.Data.ExpiresAt)
	assert.InDelta(t, time.Hour.Seconds(), float64(resp.Data.RemainingSecs), 60)
	require.NotNil(t, resp.Data.WarningAt)
	assert.Equal(t, 5*time.Minute, resp.Data.ExpiresAt.Sub(*resp.Data.WarningAt))
}

func TestStatusClearsRejectedSession(t *testing.T) {
	srv := newAuthServer(t)
	isolate(t, srv.srv.URL)
	signIn(t)
	srv.revokeAll()

	out, err := run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not signed in")
	assert.Contains(t, out, "no longer valid")

	out, err = run(t, "", "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"authenticated": false`)
	assert.Contains(t, out, `"phase": "Anonymous"`)
}

func TestExtend(t *testing.T) {
	srv := newAuthServer(t)
	isolate(t, srv.srv.URL)
	signIn(t)

	out, err := run(t, "", "extend")
	require.NoError(t, err)
	assert.Contains(t, out, "Session extended.")

	// The refreshed token is persisted and verifies.
	out, err = run(t, "", "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"authenticated": true`)
	assert.Equal(t, 2, srv.issuedCount())
}

func TestExtendFailureSignsOut(t *testing.T) {
	srv := newAuthServer(t)
	isolate(t, srv.srv.URL)
	signIn(t)
	srv.failRefresh(http.StatusInternalServerError)

	_, err := run(t, "", "extend")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extension failed")

	out, err := run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not signed in")
}

func TestExtendWithoutSession(t *testing.T) {
	srv := newAuthServer(t)
	isolate(t, srv.srv.URL)

	_, err := run(t, "", "extend")
	assert.ErrorIs(t, err, errNotSignedIn)
}

func TestTestingFlag(t *testing.T) {
	srv := newAuthServer(t)
	isolate(t, srv.srv.URL)
	signIn(t)

	out, err := run(t, "", "--testing", "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"testing_mode": true`)
}

// =============================================================================
// CONFIG AND GLOBAL FLAGS
// =============================================================================

func TestConfigCommands(t *testing.T) {
	dir := isolate(t, "http://127.0.0.1:1")
	path := filepath.Join(dir, "config.toml")

	out, err := run(t, "", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	out, err = run(t, "", "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	assert.FileExists(t, path)

	_, err = run(t, "", "config", "init")
	assert.ErrorContains(t, err, "already exists")
	_, err = run(t, "", "config", "init", "--force")
	assert.NoError(t, err)

	out, err = run(t, "", "config", "get", "session.warning_window_secs")
	require.NoError(t, err)
	assert.Equal(t, "300\n", out)

	_, err = run(t, "", "config", "get", "session.nope")
	assert.ErrorContains(t, err, "valid keys")

	out, err = run(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"base_url": "http://127.0.0.1:1"`, "env override applied")
}

func TestConfigInitJSON(t *testing.T) {
	dir := isolate(t, "http://127.0.0.1:1")
	path := filepath.Join(dir, "custom", "broadcast.json")

	_, err := run(t, "", "--config", path, "config", "init")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	out, err := run(t, "", "--config", path, "config", "get", "storage.backend")
	require.NoError(t, err)
	assert.Equal(t, "file\n", out)
}

func TestInvalidLogLevel(t *testing.T) {
	isolate(t, "http://127.0.0.1:1")
	_, err := run(t, "", "--log-level", "loud", "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "broadcast "+Version)
	assert.Contains(t, out, "Go version")
}

// =============================================================================
// HELPERS UNDER TEST
// =============================================================================

func TestPrompterReadsPipedLines(t *testing.T) {
	p := newPrompter(strings.NewReader("alice\r\ns3cret"), io.Discard)

	user, err := p.Line("Username: ")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	pass, err := p.Secret("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pass, "last line without newline")

	_, err = p.Line("Again: ")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestOutputJSONError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")

	err := outputJSON(&buf, "status", func() (interface{}, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "boom", *resp.Error)
}

func TestPainterPlainWhenPiped(t *testing.T) {
	var buf bytes.Buffer
	p := newPainter(&buf)
	assert.Equal(t, "ok", p.ok("ok"))
	assert.Equal(t, "warn", p.warn("warn"))
	assert.Equal(t, "bold", p.bold("bold"))
}
