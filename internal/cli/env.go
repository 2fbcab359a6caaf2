// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/jeranaias/broadcast-console/internal/api"
	"github.com/jeranaias/broadcast-console/internal/config"
	"github.com/jeranaias/broadcast-console/internal/logging"
	"github.com/jeranaias/broadcast-console/internal/metrics"
	"github.com/jeranaias/broadcast-console/internal/session"
	"github.com/jeranaias/broadcast-console/internal/storage"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	testing    bool
}

// loadConfig reads the configuration and applies the flag overrides.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFromPath(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.testing {
		cfg.Session.TestingMode = true
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOptions selects the background services an env starts.
type envOptions struct {
	// quiet discards log output unless a log file is configured.
	quiet bool
	// watch follows session changes made by other processes.
	watch bool
	// serveMetrics starts the metrics listener when it is enabled.
	serveMetrics bool
}

// env is everything a command needs to work on the session.
type env struct {
	cfg      *config.Config
	client   *api.Client
	store    storage.Store
	manager  *session.Manager
	registry *prometheus.Registry

	logCloser io.Closer
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// openEnv wires config, logging, storage, the API client, metrics and the
// session manager. The caller must Close the env.
func openEnv(g *globalFlags, opts envOptions) (*env, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	e := &env{cfg: cfg}
	e.logCloser = logging.Setup(cfg.LoggerParams(opts.quiet))

	sopts, err := cfg.StorageOptions()
	if err != nil {
		e.logCloser.Close()
		return nil, fmt.Errorf("storage options: %w", err)
	}
	e.store, err = storage.Open(sopts)
	if err != nil {
		e.logCloser.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	e.client, err = api.New(cfg.APIClientConfig())
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("api client: %w", err), e.closeResources())
	}

	e.registry = prometheus.NewRegistry()
	warning, ttl := cfg.SessionTimings()
	e.manager = session.NewManager(session.Config{
		WarningWindow: warning,
		DefaultTTL:    ttl,
		Metrics:       metrics.NewSession(cfg.Metrics.Namespace, "session", e.registry),
	}, e.store, e.client)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if opts.watch {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			err := e.manager.WatchStorage(ctx)
			if errors.Is(err, storage.ErrWatchUnsupported) {
				log.WithField("backend", cfg.Storage.Backend).Debug("storage backend cannot be watched")
			} else if err != nil {
				log.WithError(err).Warn("watching session storage failed")
			}
		}()
	}

	if opts.serveMetrics && cfg.Metrics.Enabled {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, e.registry); err != nil {
				log.WithError(err).Warn("metrics listener stopped")
			}
		}()
	}

	log.WithFields(log.Fields{
		"api":     cfg.API.BaseURL,
		"storage": cfg.Storage.Backend,
		"testing": cfg.Session.TestingMode,
	}).Debug("environment ready")
	return e, nil
}

// Close stops the background services, then the manager and the store. The
// persisted session is kept.
func (e *env) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	var err error
	if e.manager != nil {
		err = multierr.Append(err, e.manager.Close())
	}
	return multierr.Append(err, e.closeResources())
}

func (e *env) closeResources() error {
	var err error
	if e.store != nil {
		err = multierr.Append(err, e.store.Close())
	}
	if e.logCloser != nil {
		err = multierr.Append(err, e.logCloser.Close())
	}
	return err
}

// bootstrap restores the persisted session and waits for the result.
func (e *env) bootstrap(ctx context.Context) session.State {
	e.manager.Bootstrap(ctx)
	return e.manager.State()
}
