// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/broadcast-console/internal/api"
	"github.com/jeranaias/broadcast-console/internal/clock"
	"github.com/jeranaias/broadcast-console/internal/metrics"
	"github.com/jeranaias/broadcast-console/internal/storage"
)

// =============================================================================
// STORAGE KEYS
// =============================================================================

// Persisted keys. tokenExpiry is decimal epoch milliseconds; the planned
// times are RFC 3339 and only feed diagnostics.
const (
	KeyAuthToken          = "authToken"
	KeyUser               = "user"
	KeyTokenExpiry        = "tokenExpiry"
	KeyPlannedWarningTime = "plannedWarningTime"
	KeyPlannedExpiryTime  = "plannedExpiryTime"
)

// sessionKeys is everything Logout clears.
var sessionKeys = []string{
	KeyAuthToken,
	KeyUser,
	KeyTokenExpiry,
	KeyPlannedWarningTime,
	KeyPlannedExpiryTime,
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for the session manager.
type Config struct {
	// WarningWindow is how long before expiry SessionExpiring turns on
	// (default: 5 minutes)
	WarningWindow time.Duration

	// DefaultTTL is used when Login or a refresh supplies no expiry
	// (default: 1 hour)
	DefaultTTL time.Duration

	// Clock schedules the timers. Nil means the system clock.
	Clock clock.Clock

	// Metrics may be nil.
	Metrics *metrics.Session
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		WarningWindow: 5 * time.Minute,
		DefaultTTL:    time.Hour,
		Clock:         clock.System{},
	}
}

// TestingConfig returns short timings for exercising the warning flow by hand:
// one-minute sessions with a 15-second warning.
func TestingConfig() Config {
	return Config{
		WarningWindow: 15 * time.Second,
		DefaultTTL:    time.Minute,
		Clock:         clock.System{},
	}
}

// Backend is the slice of api.Client the manager depends on.
type Backend interface {
	VerifyToken(ctx context.Context) (*api.VerifyResponse, error)
	RefreshToken(ctx context.Context) (*api.RefreshResponse, error)
	SetBearerToken(token string)
	ClearBearerToken()
	AddResponseInterceptor(fn api.ResponseInterceptor) (remove func())
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager owns the session. All methods are safe for concurrent use.
type Manager struct {
	cfg     Config
	clock   clock.Clock
	store   storage.Store
	backend Backend
	metrics *metrics.Session

	removeInterceptor func()
	bootOnce          sync.Once

	mu sync.Mutex

	// Session
	user      *UserIdentity
	token     string
	expiresAt time.Time
	warningAt time.Time
	sessionID string

	// Observable flags
	loading    bool
	expiring   bool
	lastReason LogoutReason
	lastPhase  Phase

	// gen identifies the session; it changes on every login, logout and
	// adoption. armGen identifies the current timer pair.
	gen    uint64
	armGen uint64

	warningTimer clock.Timer
	expiryTimer  clock.Timer

	subs    map[int]chan State
	nextSub int
	closed  bool
}

// NewManager creates a manager in the Bootstrapping phase and registers the
// 401 interceptor on backend. Call Bootstrap to restore a persisted session.
func NewManager(cfg Config, store storage.Store, backend Backend) *Manager {
	def := DefaultConfig()
	if cfg.WarningWindow < 0 {
		cfg.WarningWindow = 0
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}

	m := &Manager{
		cfg:       cfg,
		clock:     cfg.Clock,
		store:     store,
		backend:   backend,
		metrics:   cfg.Metrics,
		loading:   true,
		lastPhase: PhaseBootstrapping,
		subs:      make(map[int]chan State),
	}
	m.removeInterceptor = backend.AddResponseInterceptor(m.interceptResponse)
	return m
}

// =============================================================================
// OBSERVERS
// =============================================================================

// State returns the current snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel that always holds the latest State. The current
// state is delivered immediately. Intermediate states may be skipped by slow
// readers. cancel closes the channel.
func (m *Manager) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan State, 1)
	ch <- m.snapshotLocked()
	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

func (m *Manager) snapshotLocked() State {
	return State{
		User:             m.user.Clone(),
		Loading:          m.loading,
		SessionExpiring:  m.expiring,
		Phase:            m.phaseLocked(),
		ExpiresAt:        m.expiresAt,
		WarningAt:        m.warningAt,
		LastLogoutReason: m.lastReason,
	}
}

func (m *Manager) phaseLocked() Phase {
	switch {
	case m.loading:
		return PhaseBootstrapping
	case m.user == nil:
		return PhaseAnonymous
	case m.expiring:
		return PhaseWarning
	default:
		return PhaseActive
	}
}

// publishLocked pushes the current snapshot to every subscriber, replacing
// any value the subscriber has not read yet. It never blocks.
func (m *Manager) publishLocked() {
	st := m.snapshotLocked()

	if st.Phase != m.lastPhase {
		m.metrics.Transition(m.lastPhase.String(), st.Phase.String())
		log.WithFields(log.Fields{
			"from":    m.lastPhase.String(),
			"to":      st.Phase.String(),
			"session": m.sessionID,
		}).Debug("session phase changed")
		m.lastPhase = st.Phase
	}

	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

// Login starts a session for user with token. A zero expiresAt means
// now + DefaultTTL. Any previous session is replaced. Login fails only when
// the session cannot be persisted, in which case nothing is left behind and
// the manager is Anonymous.
func (m *Manager) Login(user UserIdentity, token string, expiresAt time.Time) error {
	if token == "" {
		return ErrEmptyToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if expiresAt.IsZero() {
		expiresAt = m.clock.Now().Add(m.cfg.DefaultTTL)
	}

	m.disarmLocked()
	m.gen++

	u := user.Clone()
	if err := m.applySessionLocked(u, token, expiresAt); err != nil {
		if cerr := m.clearSessionLocked(); cerr != nil {
			log.WithError(cerr).Warn("session: rollback after failed login left keys behind")
		}
		m.publishLocked()
		return fmt.Errorf("persist session: %w", err)
	}

	m.sessionID = uuid.NewString()
	m.expiring = false
	m.lastReason = ReasonNone
	m.metrics.Login(expiresAt)
	logSessionEvent("SESSION_LOGIN", m.sessionID, log.Fields{
		"user":       u.Username,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})

	m.setupSessionTimeoutLocked()
	m.publishLocked()
	return nil
}

// Logout ends the session. It is safe to call at any time.
func (m *Manager) Logout() {
	m.logoutWithReason(ReasonUser)
}

// LogoutWithReason ends the session and records reason, for logouts decided
// outside the manager.
func (m *Manager) LogoutWithReason(reason LogoutReason) {
	m.logoutWithReason(reason)
}

func (m *Manager) logoutWithReason(reason LogoutReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutLocked(reason)
	m.publishLocked()
}

// logoutLocked cancels the timers, clears storage and the credential, and
// records reason if a session existed.
func (m *Manager) logoutLocked(reason LogoutReason) {
	had := m.token != "" || m.user != nil

	m.disarmLocked()
	m.gen++
	if err := m.clearSessionLocked(); err != nil {
		log.WithError(err).Warn("session: failed to clear persisted session")
	}

	if !had {
		return
	}
	m.lastReason = reason
	m.metrics.Logout(string(reason))
	logSessionEvent("SESSION_LOGOUT", m.sessionID, log.Fields{"reason": string(reason)})
	m.sessionID = ""
}

// interceptResponse is registered on the api client.
func (m *Manager) interceptResponse(resp *http.Response) {
	if resp.StatusCode != http.StatusUnauthorized {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" && m.user == nil {
		return
	}
	entry := log.WithField("session", m.sessionID)
	if resp.Request != nil {
		entry = entry.WithField("path", resp.Request.URL.Path)
	}
	entry.Info("session: 401 from server, signing out")
	m.logoutLocked(ReasonUnauthorized)
	m.publishLocked()
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// applySessionLocked is the only place that writes a session. Storage is
// written first; memory and the outbound credential follow only on success.
// authToken is written last so a watcher in another process sees a complete
// session when the token changes.
func (m *Manager) applySessionLocked(user *UserIdentity, token string, expiresAt time.Time) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := m.store.Set(KeyUser, string(raw)); err != nil {
		return err
	}
	if expiresAt.IsZero() {
		err = m.store.Remove(KeyTokenExpiry)
	} else {
		err = m.store.Set(KeyTokenExpiry, strconv.FormatInt(expiresAt.UnixMilli(), 10))
	}
	if err != nil {
		return err
	}
	if err := m.store.Set(KeyAuthToken, token); err != nil {
		return err
	}

	m.user = user
	m.token = token
	m.expiresAt = expiresAt
	m.backend.SetBearerToken(token)
	return nil
}

// clearSessionLocked is the only place that erases a session.
func (m *Manager) clearSessionLocked() error {
	m.user = nil
	m.token = ""
	m.expiresAt = time.Time{}
	m.warningAt = time.Time{}
	m.expiring = false
	m.backend.ClearBearerToken()
	return m.store.Remove(sessionKeys...)
}

func (m *Manager) readExpiryLocked() (time.Time, bool, error) {
	raw, err := m.store.Get(KeyTokenExpiry)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return parseExpiry(raw)
}

func parseExpiry(raw string) (time.Time, bool, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s %q: %w", KeyTokenExpiry, raw, err)
	}
	return api.EpochToTime(v), true, nil
}

// =============================================================================
// TIMERS
// =============================================================================

// disarmLocked stops both timers. Bumping armGen turns any callback that
// already started into a no-op.
func (m *Manager) disarmLocked() {
	if m.warningTimer != nil {
		m.warningTimer.Stop()
		m.warningTimer = nil
	}
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
	m.armGen++
}

// setupSessionTimeoutLocked arms the timer pair from the persisted expiry.
// An expiry already in the past logs out immediately.
func (m *Manager) setupSessionTimeoutLocked() {
	m.disarmLocked()

	expiry, ok, err := m.readExpiryLocked()
	if err != nil {
		log.WithError(err).Warn("session: unreadable expiry, timers not armed")
		return
	}
	if !ok {
		return
	}

	now := m.clock.Now()
	untilExpiry := expiry.Sub(now)
	if untilExpiry <= 0 {
		m.logoutLocked(ReasonExpired)
		return
	}

	warningDelay := untilExpiry - m.cfg.WarningWindow
	if warningDelay < 0 {
		warningDelay = 0
	}

	gen := m.armGen
	m.warningTimer = m.clock.AfterFunc(warningDelay, func() { m.onWarning(gen) })
	m.expiryTimer = m.clock.AfterFunc(untilExpiry, func() { m.onExpiry(gen) })

	m.expiresAt = expiry
	m.warningAt = now.Add(warningDelay)
	m.metrics.SetExpiry(expiry)

	if err := m.store.Set(KeyPlannedWarningTime, m.warningAt.UTC().Format(time.RFC3339)); err != nil {
		log.WithError(err).Debug("session: could not record planned warning time")
	}
	if err := m.store.Set(KeyPlannedExpiryTime, expiry.UTC().Format(time.RFC3339)); err != nil {
		log.WithError(err).Debug("session: could not record planned expiry time")
	}

	log.WithFields(log.Fields{
		"session":        m.sessionID,
		"warning_in":     warningDelay.Round(time.Second).String(),
		"expires_in":     untilExpiry.Round(time.Second).String(),
		"warning_at":     m.warningAt.UTC().Format(time.RFC3339),
		"expires_at":     expiry.UTC().Format(time.RFC3339),
		"warning_window": m.cfg.WarningWindow.String(),
	}).Debug("session timers armed")
}

func (m *Manager) onWarning(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.armGen || m.user == nil {
		return
	}
	m.warningTimer = nil
	m.expiring = true
	logSessionEvent("SESSION_WARNING", m.sessionID, log.Fields{
		"expires_in": m.expiresAt.Sub(m.clock.Now()).Round(time.Second).String(),
	})
	m.publishLocked()
}

func (m *Manager) onExpiry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.armGen {
		return
	}
	m.expiryTimer = nil
	m.logoutLocked(ReasonExpired)
	m.publishLocked()
}

// =============================================================================
// EXTENSION
// =============================================================================

// ExtendSession exchanges the current token for a fresh one and re-arms the
// timers. On failure the session is logged out and an *ExtensionError is
// returned. A refresh that succeeds after the session ended or was replaced
// is discarded with ErrSessionChanged.
func (m *Manager) ExtendSession(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.token == "" || m.user == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	gen := m.gen
	sessionID := m.sessionID
	m.mu.Unlock()

	resp, err := m.backend.RefreshToken(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.metrics.Extension(false)
		logSessionEvent("SESSION_EXTEND_FAILED", sessionID, log.Fields{"error": err.Error()})
		if gen == m.gen {
			m.logoutLocked(ReasonExtensionFailed)
			m.publishLocked()
		}
		return &ExtensionError{Cause: err}
	}

	if gen != m.gen {
		log.WithField("session", sessionID).Info("session: discarding refresh for a session that has ended")
		return ErrSessionChanged
	}

	expiresAt := resp.ExpiresAt.Time
	if expiresAt.IsZero() {
		expiresAt = m.clock.Now().Add(m.cfg.DefaultTTL)
	}
	if !expiresAt.After(m.clock.Now()) {
		m.metrics.Extension(false)
		logSessionEvent("SESSION_EXTEND_FAILED", sessionID, log.Fields{
			"error":      ErrIssuedExpired.Error(),
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		})
		m.logoutLocked(ReasonExtensionFailed)
		m.publishLocked()
		return &ExtensionError{Cause: ErrIssuedExpired}
	}

	if err := m.applySessionLocked(m.user, resp.Token, expiresAt); err != nil {
		m.metrics.Extension(false)
		m.logoutLocked(ReasonExtensionFailed)
		m.publishLocked()
		return &ExtensionError{Cause: fmt.Errorf("persist session: %w", err)}
	}

	m.expiring = false
	m.metrics.Extension(true)
	logSessionEvent("SESSION_EXTENDED", m.sessionID, log.Fields{
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	m.setupSessionTimeoutLocked()
	m.publishLocked()
	return nil
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// Bootstrap restores a persisted session. It runs once; later calls return
// immediately. Loading is false when it returns, whatever the outcome.
func (m *Manager) Bootstrap(ctx context.Context) {
	m.bootOnce.Do(func() {
		defer m.finishLoading()
		m.bootstrap(ctx)
	})
}

func (m *Manager) finishLoading() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false
	m.publishLocked()
}

func (m *Manager) bootstrap(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	token, user, expiry, hasExpiry, reason := m.readPersistedLocked()
	if reason != ReasonNone {
		m.token = token // so the logout is recorded
		m.logoutLocked(reason)
		m.mu.Unlock()
		return
	}

	if token == "" {
		// Stray keys without a token are leftovers; drop them.
		if err := m.clearSessionLocked(); err != nil {
			log.WithError(err).Debug("session: could not clear stray keys")
		}
		m.mu.Unlock()
		return
	}

	if hasExpiry && !expiry.After(m.clock.Now()) {
		m.token = token
		m.logoutLocked(ReasonExpired)
		m.mu.Unlock()
		return
	}

	m.token = token
	m.backend.SetBearerToken(token)
	gen := m.gen
	m.mu.Unlock()

	resp, err := m.backend.VerifyToken(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.closed {
		// A 401, a logout or a new login got there first.
		return
	}

	switch {
	case err != nil:
		log.WithError(err).Warn("session: token verification failed")
		m.logoutLocked(ReasonVerifyFailed)
	case !resp.Valid:
		m.logoutLocked(ReasonVerificationRejected)
	default:
		if !resp.Expiry.IsZero() {
			expiry = resp.Expiry.Time
		}
		if err := m.applySessionLocked(user, token, expiry); err != nil {
			log.WithError(err).Warn("session: could not persist verified session")
			m.logoutLocked(ReasonCorrupt)
			break
		}
		m.sessionID = uuid.NewString()
		logSessionEvent("SESSION_RESTORED", m.sessionID, log.Fields{
			"user":       user.Username,
			"expires_at": expiry.UTC().Format(time.RFC3339),
		})
		m.setupSessionTimeoutLocked()
	}
	m.publishLocked()
}

// readPersistedLocked loads the stored session. A non-empty reason means the
// stored data is unusable and the session must be logged out.
func (m *Manager) readPersistedLocked() (token string, user *UserIdentity, expiry time.Time, hasExpiry bool, reason LogoutReason) {
	token, err := m.store.Get(KeyAuthToken)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.WithError(err).Warn("session: could not read token")
		return "", nil, time.Time{}, false, ReasonCorrupt
	}
	if token == "" {
		return "", nil, time.Time{}, false, ReasonNone
	}

	rawUser, err := m.store.Get(KeyUser)
	if err != nil {
		log.WithError(err).Warn("session: token stored without a user")
		return token, nil, time.Time{}, false, ReasonCorrupt
	}
	user, err = parseUser(rawUser)
	if err != nil {
		log.WithError(err).Warn("session: stored user is not valid JSON")
		return token, nil, time.Time{}, false, ReasonCorrupt
	}

	expiry, hasExpiry, err = m.readExpiryLocked()
	if err != nil {
		log.WithError(err).Warn("session: stored expiry is unreadable")
		return token, nil, time.Time{}, false, ReasonCorrupt
	}
	return token, user, expiry, hasExpiry, ReasonNone
}

// =============================================================================
// CROSS-PROCESS RECONCILIATION
// =============================================================================

// WatchStorage follows session changes made by other processes sharing the
// store until ctx is cancelled. A removed token logs this process out; a new
// token is adopted. It returns storage.ErrWatchUnsupported for backends that
// cannot watch.
func (m *Manager) WatchStorage(ctx context.Context) error {
	changes, err := m.watchStore(ctx)
	if err != nil {
		return err
	}
	m.follow(changes)
	return nil
}

func (m *Manager) watchStore(ctx context.Context) (<-chan storage.Change, error) {
	w, ok := m.store.(storage.Watcher)
	if !ok {
		return nil, storage.ErrWatchUnsupported
	}
	return w.Watch(ctx)
}

func (m *Manager) follow(changes <-chan storage.Change) {
	for c := range changes {
		m.reconcile(c)
	}
}

func (m *Manager) reconcile(c storage.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	switch c.Key {
	case KeyAuthToken:
		if c.Removed || c.Value == "" {
			if m.token == "" {
				return
			}
			m.logoutLocked(ReasonExternal)
			m.publishLocked()
			return
		}
		if c.Value == m.token {
			return
		}
		m.adoptLocked(c.Value)

	case KeyTokenExpiry:
		// Another process extended without rotating the token.
		if c.Removed || m.user == nil {
			return
		}
		expiry, ok, err := parseExpiry(c.Value)
		if err != nil || !ok || expiry.Equal(m.expiresAt) {
			return
		}
		m.expiresAt = expiry
		m.expiring = false
		m.setupSessionTimeoutLocked()
		m.publishLocked()
	}
}

func (m *Manager) adoptLocked(token string) {
	rawUser, err := m.store.Get(KeyUser)
	if err != nil {
		log.WithError(err).Warn("session: external login without a user, ignoring")
		return
	}
	user, err := parseUser(rawUser)
	if err != nil {
		log.WithError(err).Warn("session: external login with unreadable user, ignoring")
		return
	}

	m.disarmLocked()
	m.gen++
	m.token = token
	m.user = user
	m.expiresAt = time.Time{}
	m.warningAt = time.Time{}
	m.expiring = false
	m.lastReason = ReasonNone
	m.sessionID = uuid.NewString()
	m.backend.SetBearerToken(token)
	logSessionEvent("SESSION_ADOPTED", m.sessionID, log.Fields{"user": user.Username})

	m.setupSessionTimeoutLocked()
	m.publishLocked()
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Close stops the timers, unregisters the interceptor and closes every
// subscription. The persisted session is kept for the next process.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.disarmLocked()
	if m.removeInterceptor != nil {
		m.removeInterceptor()
	}
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	return nil
}

// logSessionEvent writes an audit line for a lifecycle event.
func logSessionEvent(event, sessionID string, fields log.Fields) {
	log.WithFields(fields).WithFields(log.Fields{
		"event":   event,
		"session": sessionID,
	}).Info("session event")
}
