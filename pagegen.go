// Package pagegen is a programmatic page engine for insurance content built
// with Go, Echo, and templ. It stores templates, reference geography and
// generated pages in SQLite, runs bulk generation jobs through the pipeline
// package, and serves the published pages.
package pagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eringen/pagegen/logfields"
	"github.com/eringen/pagegen/metrics"
	"github.com/eringen/pagegen/pipeline"
)

// App is the central pagegen application. It wires together the store,
// cache, job runner, dispatcher, handlers and middleware.
type App struct {
	Config     SiteConfig
	Echo       *echo.Echo
	Store      *Store
	Cache      *PageCache
	Runner     *pipeline.Runner
	Dispatcher *Dispatcher
	Metrics    *metrics.PrometheusRecorder
	Logger     *zap.Logger

	loginLimiter      *RateLimiter
	triggerLimiter    *RateLimiter
	invalidator       pipeline.Invalidator
	nc                *nats.Conn
	natsSub           *nats.Subscription
	registry          *prometheus.Registry
	extraInvalidators []pipeline.Invalidator
	runnerOpts        []pipeline.RunnerOption
	customRoutes      []func(*App)
	staticDir         string
	instanceID        string
}

// New creates a new pagegen App with the given configuration.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config:     cfg,
		Echo:       echo.New(),
		Logger:     zap.NewNop(),
		staticDir:  "public",
		instanceID: uuid.NewString(),
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Init opens the store, seeds defaults, and wires the cache, invalidators,
// metrics, runner, dispatcher, middleware and routes. Run calls it when it
// has not been called yet.
func (a *App) Init(ctx context.Context) error {
	// Validate required config
	if a.Config.AdminPassword == "" {
		return fmt.Errorf("pagegen: AdminPassword is required")
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("pagegen: SessionSecret is required")
	}

	store, err := NewStore(a.Config.DatabasePath)
	if err != nil {
		return fmt.Errorf("pagegen: init store: %w", err)
	}
	a.Store = store

	if err := SeedDefaults(ctx, store); err != nil {
		return fmt.Errorf("pagegen: seed defaults: %w", err)
	}

	a.Cache = NewPageCache(a.Store, a.Config.PageCacheTTL)

	if err := a.setupInvalidation(); err != nil {
		return err
	}

	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	a.Metrics = metrics.NewPrometheusRecorder(a.registry)

	runnerOpts := append([]pipeline.RunnerOption{pipeline.WithCheckpointEvery(a.Config.CheckpointEvery)}, a.runnerOpts...)
	a.Runner = pipeline.NewRunner(pipeline.Deps{
		Geo:         a.Store,
		Pages:       a.Store,
		Jobs:        a.Store,
		Invalidator: a.invalidator,
		Logger:      a.Logger.Named("runner"),
		Metrics:     a.Metrics,
	}, runnerOpts...)

	a.Dispatcher, err = NewDispatcher(a.Store, a.Runner, a.Config.DispatchInterval, a.Logger.Named("dispatcher"))
	if err != nil {
		return fmt.Errorf("pagegen: init dispatcher: %w", err)
	}

	a.loginLimiter = NewRateLimiter(5, time.Minute)
	a.triggerLimiter = NewRateLimiter(10, time.Minute)

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	return nil
}

// setupInvalidation builds the fan-out used after page updates: the local
// cache always, plus whatever NewInvalidator derives from the config. With
// NATS, invalidations from other instances are applied to the local cache.
func (a *App) setupInvalidation() error {
	remote, nc, err := NewInvalidator(a.Config, a.instanceID, a.Logger)
	if err != nil {
		return fmt.Errorf("pagegen: %w", err)
	}
	if nc != nil {
		a.nc = nc
		sub, err := SubscribeInvalidations(nc, a.Config.NATSSubject, a.instanceID, a.Cache, a.Logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("pagegen: %w", err)
		}
		a.natsSub = sub
		a.Logger.Info("nats invalidation enabled", logfields.URL(a.Config.NATSURL), logfields.Subject(a.Config.NATSSubject))
	}
	targets := append(MultiInvalidator{a.Cache}, remote...)
	targets = append(targets, a.extraInvalidators...)
	a.invalidator = targets
	return nil
}

// Run serves HTTP and dispatches queued jobs until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	if a.Store == nil {
		if err := a.Init(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	a.Dispatcher.Start()
	g.Go(func() error {
		a.Logger.Info("server listening", zap.String("addr", a.Config.Addr))
		if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Echo.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Start initializes the app and serves until the server stops.
func (a *App) Start() error {
	return a.Run(context.Background())
}

// Close cleans up resources. Running jobs stop between rows and are marked
// FAILED. Call this when the app is shutting down.
func (a *App) Close() error {
	var errs []error
	if a.Dispatcher != nil {
		errs = append(errs, a.Dispatcher.Stop())
	}
	if a.Runner != nil {
		a.Runner.Close()
	}
	if a.natsSub != nil {
		errs = append(errs, a.natsSub.Unsubscribe())
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	if a.triggerLimiter != nil {
		a.triggerLimiter.Stop()
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
