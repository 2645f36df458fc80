// Package app wires all Valet subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/valet-labs/valet/internal/capture"
	"github.com/valet-labs/valet/internal/command"
	"github.com/valet-labs/valet/internal/config"
	"github.com/valet-labs/valet/internal/health"
	"github.com/valet-labs/valet/internal/intent"
	"github.com/valet-labs/valet/internal/observe"
	"github.com/valet-labs/valet/internal/pipeline"
	"github.com/valet-labs/valet/internal/respond"
	"github.com/valet-labs/valet/pkg/completion"
	"github.com/valet-labs/valet/pkg/speech"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry, with fallback wrapping when fallbacks are
// configured.
type Providers struct {
	Completion completion.Service
}

// App owns all subsystem lifetimes and serves the Valet command API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New, torn down in Shutdown.
	store    command.Store
	pool     *pgxpool.Pool
	orch     *pipeline.Orchestrator
	sessions *SessionManager
	metrics  *observe.Metrics
	health   *health.Handler
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a command store instead of creating one from config.
func WithStore(s command.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics bundle instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Completion == nil {
		return nil, errors.New("app: a completion provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	resolver := intent.NewResolver(providers.Completion)
	generator := respond.NewGenerator(providers.Completion)
	a.orch = pipeline.New(resolver, generator, a.store, pipeline.WithMetrics(a.metrics))

	a.sessions = NewSessionManager(SessionManagerConfig{
		Pipeline: a.orch,
		Capture:  captureConfig(cfg),
		Metrics:  a.metrics,
	})

	checkers := []health.Checker{
		health.StoreCheck(a.store),
		health.CompletionCheck(true),
	}
	if a.pool != nil {
		checkers = append(checkers, health.DatabaseCheck(a.pool))
	}
	a.health = health.New(checkers...)

	mux := http.NewServeMux()
	a.routes(mux)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStore connects the PostgreSQL command store, or falls back to the
// in-memory store when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		slog.Warn("store.postgres_dsn not configured, command history is in-memory only")
		a.store = command.NewMemStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	store := command.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.pool = pool
	a.store = store
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("command store connected", "backend", "postgres")
	return nil
}

// captureConfig derives the base capture session settings from cfg. The
// per-connection Platform and callbacks are filled in by the session manager.
func captureConfig(cfg *config.Config) capture.Config {
	cc := cfg.Capture
	return capture.Config{
		Recognition: speech.Config{
			Language:       cfg.Speech.Language,
			InterimResults: cfg.Speech.InterimResults,
		},
		MaxRetries:     cc.MaxRetries,
		RetryDelay:     time.Duration(cc.RetryDelayMS) * time.Millisecond,
		SessionTimeout: time.Duration(cc.SessionTimeoutMS) * time.Millisecond,
	}
}

// ApplyConfig applies the hot-reloadable parts of next to the running app.
// Capture and speech tuning reach sessions started after the call; everything
// else needs a restart.
func (a *App) ApplyConfig(next *config.Config) {
	a.sessions.UpdateCapture(captureConfig(next))
}

// Handler returns the fully assembled HTTP handler, including middleware.
// Exposed for tests that drive the API without binding a listener.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Sessions returns the live speech session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. A cancelled context triggers a graceful drain before returning.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("serving https", "addr", a.server.Addr)
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving http", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			a.server.Close()
			return err
		}
		return nil
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "active_sessions", a.sessions.Count())

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
