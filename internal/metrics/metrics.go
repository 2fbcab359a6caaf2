// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes prometheus collectors for the session lifecycle.
//
// All recording methods are nil-safe so callers can pass a nil *Session when
// metrics are disabled.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Session holds the session lifecycle collectors.
type Session struct {
	// counters
	CounterTransitions *prometheus.CounterVec
	CounterLogouts     *prometheus.CounterVec
	CounterExtensions  *prometheus.CounterVec
	CounterLogins      prometheus.Counter

	// gauges
	GaugeActive    prometheus.Gauge
	GaugeExpiresAt prometheus.Gauge
}

// NewTestSession returns collectors bound to a fresh registry.
func NewTestSession() (*Session, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewSession("broadcast", "session", reg), reg
}

// NewSession registers the collectors with reg.
func NewSession(namespace, subsystem string, reg prometheus.Registerer) *Session {
	factory := promauto.With(reg)

	return &Session{
		CounterTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transitions_total",
			Help:      "Session phase transitions",
		}, []string{"from", "to"}),
		CounterLogouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "logouts_total",
			Help:      "Sessions ended, by reason",
		}, []string{"reason"}),
		CounterExtensions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "extensions_total",
			Help:      "Session extension attempts, by result",
		}, []string{"result"}),
		CounterLogins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "logins_total",
			Help:      "Sessions started by login",
		}),
		GaugeActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active",
			Help:      "1 while a user is authenticated",
		}),
		GaugeExpiresAt: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expires_at_seconds",
			Help:      "Unix time at which the current session expires, 0 when anonymous",
		}),
	}
}

// Transition records a phase change.
func (s *Session) Transition(from, to string) {
	if s == nil || from == to {
		return
	}
	s.CounterTransitions.WithLabelValues(from, to).Inc()
}

// Login records a new session expiring at expiresAt.
func (s *Session) Login(expiresAt time.Time) {
	if s == nil {
		return
	}
	s.CounterLogins.Inc()
	s.SetExpiry(expiresAt)
}

// SetExpiry updates the active gauges for a live session.
func (s *Session) SetExpiry(expiresAt time.Time) {
	if s == nil {
		return
	}
	s.GaugeActive.Set(1)
	s.GaugeExpiresAt.Set(float64(expiresAt.Unix()))
}

// Logout records the end of a session.
func (s *Session) Logout(reason string) {
	if s == nil {
		return
	}
	s.CounterLogouts.WithLabelValues(reason).Inc()
	s.GaugeActive.Set(0)
	s.GaugeExpiresAt.Set(0)
}

// Extension records an extension attempt.
func (s *Session) Extension(ok bool) {
	if s == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	s.CounterExtensions.WithLabelValues(result).Inc()
}

// Serve exposes g on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("metrics listener started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
