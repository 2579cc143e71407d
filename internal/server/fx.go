// Package server wires the discovery service together and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-discovery/internal/api"
	"github.com/JakeFAU/site-discovery/internal/clock/system"
	"github.com/JakeFAU/site-discovery/internal/config"
	"github.com/JakeFAU/site-discovery/internal/content"
	"github.com/JakeFAU/site-discovery/internal/discovery"
	"github.com/JakeFAU/site-discovery/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/site-discovery/internal/fetcher/colly"
	"github.com/JakeFAU/site-discovery/internal/hash/sha256"
	"github.com/JakeFAU/site-discovery/internal/id/uuid"
	"github.com/JakeFAU/site-discovery/internal/logging"
	"github.com/JakeFAU/site-discovery/internal/metrics"
	"github.com/JakeFAU/site-discovery/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/site-discovery/internal/publisher/memory"
	queuememory "github.com/JakeFAU/site-discovery/internal/queue/memory"
	memorystorage "github.com/JakeFAU/site-discovery/internal/storage/memory"
	"github.com/JakeFAU/site-discovery/internal/worker"
)

const (
	shutdownTimeout = 10 * time.Second
	// markdownMaxBytes caps each rendered page.
	markdownMaxBytes = 256 << 10
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queuememory.Queue
	runStore  *memorystorage.RunStore
	publisher *memorypublisher.Publisher
}

// Engine is a ready-to-use discovery engine and the fetcher under it.
type Engine struct {
	Discoverer *discovery.Discoverer
	Fetcher    *collyfetcher.Fetcher
	Limiter    *ratelimit.Limiter
}

// NewEngine builds the colly-backed discovery engine described by cfg.
func NewEngine(cfg *config.Config, logger *zap.Logger) *Engine {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RateLimitRPS,
		DefaultBurst: cfg.HTTP.RateLimitBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Limiter:      limiter,
	})
	disc := discovery.New(fetcher, cfg.Options(), logger.Named("discovery"), metrics.NewRecorder())
	return &Engine{Discoverer: disc, Fetcher: fetcher, Limiter: limiter}
}

// Build creates the application's dependencies.
func Build(cfg *config.Config) (*App, error) {
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(cfg, logger), nil
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(cfg *config.Config, logger *zap.Logger) *App {
	metrics.Init()
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("workers", cfg.Worker.Concurrency),
		zap.Bool("markdown_enabled", cfg.Content.MarkdownEnabled),
	)

	clock := system.New()
	app := &App{
		cfg:       cfg,
		logger:    logger,
		queue:     queuememory.NewQueue(cfg.Worker.QueueDepth),
		runStore:  memorystorage.NewRunStore(clock),
		publisher: memorypublisher.New(),
	}

	engine := NewEngine(cfg, logger)
	registry := worker.NewRegistry()
	workerCfg := worker.Config{
		Topic:                cfg.Worker.Topic,
		Limits:               cfg.Limits(),
		DocumentProbeTimeout: cfg.Options().DocumentProbeTimeout,
		MarkdownEnabled:      cfg.Content.MarkdownEnabled,
		MaxPages:             cfg.Content.MaxPages,
		ContentFetchTimeout:  cfg.Options().CrawlFetchTimeout,
	}
	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(worker.Deps{
			Queue:      app.queue,
			RunStore:   app.runStore,
			Publisher:  app.publisher,
			Discoverer: engine.Discoverer,
			Fetcher:    engine.Fetcher,
			Converter:  content.NewMarkdownConverter(markdownMaxBytes),
			Hasher:     &sha256.Hasher{Normalize: true},
			Clock:      clock,
			Registry:   registry,
		}, workerCfg, logger.Named("worker").With(zap.Int("worker", i))))
	}
	app.dispatch = dispatcher.New(app.queue, workers, registry)

	app.apiServer = api.NewServer(
		app.runStore,
		app.dispatch,
		uuid.New(),
		clock,
		*cfg,
		logger.Named("api"),
	).WithStats(func() api.Stats {
		return api.Stats{
			QueuedRuns:       app.queue.Len(),
			ActiveRuns:       registry.Active(),
			RateLimitedHosts: engine.Limiter.Hosts(),
			PublishedEvents:  len(app.publisher.Messages()),
		}
	})
	return app
}

// Handler exposes the API router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the dispatcher and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Workers()))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}

	a.Close()
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases resources.
func (a *App) Close() {
	a.queue.Close()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}
