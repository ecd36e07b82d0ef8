// Package app wires all poise subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates the report store,
// session manager and HTTP routes, Run serves until the context ends, and
// Shutdown stops every running session and tears everything down in order.
//
// For testing, inject doubles via functional options (WithReportStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/poise/internal/config"
	"github.com/MrWong99/poise/internal/health"
	"github.com/MrWong99/poise/internal/ingest"
	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/reportstore"
	mongostore "github.com/MrWong99/poise/internal/reportstore/mongo"
	"github.com/MrWong99/poise/internal/reportstore/postgres"
	redisstore "github.com/MrWong99/poise/internal/reportstore/redis"
	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/pose"
	"github.com/MrWong99/poise/pkg/provider/stt"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT  stt.Provider
	Face face.Detector
	Pose pose.Estimator
}

// healthReporter is implemented by the resilience wrappers.
type healthReporter interface {
	Healthy() bool
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    reportstore.Store
	metrics  *observe.Metrics
	sessions *SessionManager
	handler  http.Handler
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithReportStore injects a report store instead of creating one from config.
func WithReportStore(s reportstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the OTel instruments instead of the global defaults.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
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

	// ── 1. Report store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init report store: %w", err)
	}

	// ── 2. Session manager ───────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:    cfg,
		Providers: providers,
		Store:     a.store,
		Metrics:   a.metrics,
	})

	// ── 3. HTTP routes ───────────────────────────────────────────────────
	a.handler = a.initRoutes()
	a.server = &http.Server{
		Addr:              a.listenAddr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured report backend. With none configured
// reports are kept in memory.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Storage
	switch sc.Backend() {
	case "postgres":
		store, err := postgres.NewStore(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	case "mongo":
		store, err := mongostore.NewStore(ctx, sc.MongoURI, sc.MongoDatabaseOrDefault())
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Close(ctx)
		})
	case "redis":
		store, err := redisstore.NewStore(ctx, sc.RedisURL, redisstore.WithTTL(sc.RedisTTL))
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	default:
		slog.Info("no storage backend configured; reports are kept in memory")
		a.store = reportstore.NewMemory()
		return nil
	}
	slog.Info("report store connected", "backend", sc.Backend())
	return nil
}

// initRoutes builds the mux: health checks, Prometheus scrape endpoint and
// the session API, all behind the tracing middleware.
func (a *App) initRoutes() http.Handler {
	mux := http.NewServeMux()

	checks := []health.Checker{health.PingChecker("reportstore", a.store)}
	for _, p := range []struct {
		name string
		v    any
	}{{"stt", a.providers.STT}, {"face", a.providers.Face}, {"pose", a.providers.Pose}} {
		if hr, ok := p.v.(healthReporter); ok {
			checks = append(checks, health.StateChecker(p.name, hr.Healthy))
		}
	}
	health.New(checks...).Register(mux)

	mux.Handle("GET "+a.metricsPath(), promhttp.Handler())
	ingest.New(a.sessions).Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

func (a *App) listenAddr() string {
	if a.cfg.Server.ListenAddr != "" {
		return a.cfg.Server.ListenAddr
	}
	return config.DefaultListenAddr
}

func (a *App) metricsPath() string {
	if a.cfg.Telemetry.MetricsPath != "" {
		return a.cfg.Telemetry.MetricsPath
	}
	return config.DefaultMetricsPath
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ApplyConfig forwards a hot-reloaded config change to the running sessions.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	a.sessions.ApplyConfig(d)
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
// When ctx is done, Run returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errc <- a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errc <- a.server.Serve(ln)
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, stops every running session so their
// reports are persisted, then runs the closers. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", len(a.sessions.Active()), "closers", len(a.closers))

		// Sessions first so open streams receive their close frame.
		a.sessions.StopAll(ctx)

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

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
