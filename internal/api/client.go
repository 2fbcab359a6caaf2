// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Configuration constants.
const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 15 * time.Second

	// DefaultUserAgent identifies the client to the API.
	DefaultUserAgent = "broadcast-console/1.0"

	// MaxResponseSize caps how much of a response body is read.
	MaxResponseSize = 1 * 1024 * 1024

	// maxErrorBody is how much of a failed response is kept on HTTPError.
	maxErrorBody = 512

	// RequestIDHeader carries a per-request uuid for server-side correlation.
	RequestIDHeader = "X-Request-ID"
)

var (
	// ErrNoBaseURL indicates the client was configured without an API URL.
	ErrNoBaseURL = errors.New("api: base URL not configured")

	// ErrMalformedResponse indicates a 2xx response whose body could not be used.
	ErrMalformedResponse = errors.New("api: malformed response")
)

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("api: HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsUnauthorized reports whether err is a 401 HTTPError.
func IsUnauthorized(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusUnauthorized
}

// =============================================================================
// CLIENT
// =============================================================================

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://host/api. Required.
	BaseURL string

	// Timeout bounds a single request. Zero means DefaultTimeout.
	Timeout time.Duration

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the limiter bucket size. Values below 1 mean 1.
	Burst int

	// UserAgent overrides DefaultUserAgent.
	UserAgent string

	// HTTPClient replaces the default transport, mainly for tests.
	HTTPClient *http.Client
}

// ResponseInterceptor observes every response before it is returned.
// Interceptors must not read or close the body.
type ResponseInterceptor func(*http.Response)

type interceptorEntry struct {
	id int
	fn ResponseInterceptor
}

// Client talks to the broadcast API. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter

	mu           sync.RWMutex
	headers      http.Header
	interceptors []interceptorEntry
	nextID       int
}

// New builds a client from cfg.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api: base URL must be http or https, got %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	c := &Client{
		baseURL: base,
		http:    hc,
		headers: http.Header{},
	}
	c.headers.Set("User-Agent", ua)
	c.headers.Set("Accept", "application/json")

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// =============================================================================
// DEFAULT HEADERS
// =============================================================================

// SetHeader sets a header sent with every request.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers.Set(key, value)
}

// DelHeader removes a default header.
func (c *Client) DelHeader(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers.Del(key)
}

// SetBearerToken installs token as the default Authorization credential.
func (c *Client) SetBearerToken(token string) {
	c.SetHeader("Authorization", "Bearer "+token)
}

// ClearBearerToken removes the default credential.
func (c *Client) ClearBearerToken() {
	c.DelHeader("Authorization")
}

// BearerToken returns the installed credential, or "".
func (c *Client) BearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.TrimPrefix(c.headers.Get("Authorization"), "Bearer ")
}

// =============================================================================
// INTERCEPTORS
// =============================================================================

// AddResponseInterceptor registers fn and returns a func that unregisters it.
// Interceptors run in registration order, synchronously, on the goroutine
// that issued the request.
func (c *Client) AddResponseInterceptor(fn ResponseInterceptor) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.interceptors = append(c.interceptors, interceptorEntry{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.interceptors {
			if e.id == id {
				c.interceptors = append(c.interceptors[:i], c.interceptors[i+1:]...)
				return
			}
		}
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

// NewRequest builds a request for path relative to the base URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

// Do sends req with the default headers and runs the interceptors. Headers
// already present on req win over defaults; a header set to "" suppresses
// the default and is not sent.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	c.mu.RLock()
	for k, vs := range c.headers {
		if _, ok := req.Header[k]; !ok {
			req.Header[k] = append([]string(nil), vs...)
		}
	}
	c.mu.RUnlock()
	for k, vs := range req.Header {
		if len(vs) == 1 && vs[0] == "" {
			delete(req.Header, k)
		}
	}

	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("api: rate limit wait: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	entry := log.WithFields(log.Fields{
		"method":     req.Method,
		"path":       req.URL.Path,
		"request_id": req.Header.Get(RequestIDHeader),
		"duration":   time.Since(start).Round(time.Millisecond),
	})
	if err != nil {
		entry.WithError(err).Debug("api request failed")
		return nil, err
	}
	entry.WithField("status", resp.StatusCode).Debug("api request")

	c.mu.RLock()
	chain := make([]ResponseInterceptor, 0, len(c.interceptors))
	for _, e := range c.interceptors {
		chain = append(chain, e.fn)
	}
	c.mu.RUnlock()

	for _, fn := range chain {
		fn(resp)
	}
	return resp, nil
}

// doJSON sends req and decodes a 2xx JSON body into out.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
