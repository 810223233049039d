package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rustsentry/internal/api"
	"rustsentry/internal/codestore"
	"rustsentry/internal/config"
	"rustsentry/internal/database"
	"rustsentry/internal/events"
	"rustsentry/internal/llm/client"
	"rustsentry/internal/logging"
	"rustsentry/internal/observability"
	"rustsentry/internal/pipeline"
	"rustsentry/internal/queue"
	"rustsentry/internal/services"
)

const shutdownTimeout = 15 * time.Second

// App owns every long-lived resource of the server process.
type App struct {
	cfg config.Config
	log zerolog.Logger

	db       *gorm.DB
	store    *codestore.BadgerStore
	queue    *queue.Queue
	metrics  *observability.Metrics
	services *services.Services
	pool     *pipeline.Pool
	server   *http.Server

	closers []func() error
}

// NewApp creates a new App for the given validated configuration.
func NewApp(cfg config.Config) *App {
	return &App{cfg: cfg, log: logging.Component("app")}
}

// reportingQueue publishes the queue depth after every enqueue.
type reportingQueue struct {
	*queue.Queue
	events events.Emitter
}

func (q reportingQueue) Enqueue(id string) error {
	if err := q.Queue.Enqueue(id); err != nil {
		return err
	}
	q.events.Emit(context.Background(), events.NewQueueDepth(q.Len()))
	return nil
}

// startup opens storage, wires the services and the LLM client, and reconciles
// sessions left over from a previous run.
func (a *App) startup(ctx context.Context) error {
	shutdownTracing, err := observability.InitTracing(ctx, a.cfg.Tracing.Exporter, version)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(ctx)
	})

	logLevel := logger.Warn
	if a.cfg.Log.Level == "debug" || a.cfg.Log.Level == "trace" {
		logLevel = logger.Info
	}
	a.db, err = database.Init(database.Config{
		Driver:   a.cfg.Database.Driver,
		DSN:      a.cfg.Database.DSN,
		LogLevel: logLevel,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	a.store, err = codestore.Open(codestore.Config{
		Path:       a.cfg.Store.Path,
		InMemory:   a.cfg.Store.InMemory,
		GCInterval: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("open code store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.metrics = observability.NewMetrics()
	emitter := events.Multi(events.NewLogEmitter(), a.metrics)

	a.queue = queue.New()
	a.services = services.NewServices(a.db, a.store, reportingQueue{Queue: a.queue, events: emitter}, emitter,
		services.SessionOptions{MaxCodeLength: a.cfg.Limits.MaxCodeLength})

	analyzer, err := a.newAnalyzer(ctx, emitter)
	if err != nil {
		return err
	}
	a.pool = pipeline.NewPool(a.cfg.Worker.PoolSize, a.queue, pipeline.Deps{
		Sessions: a.services.Sessions,
		Analyzer: analyzer,
		Retry: pipeline.RetryPolicy{
			Attempts:    a.cfg.Retry.Attempts,
			Base:        a.cfg.Retry.Base,
			Multiplier:  a.cfg.Retry.Multiplier,
			MaxInterval: a.cfg.Retry.MaxInterval,
		},
		Events: emitter,
	})

	if _, err := a.services.Sessions.Recover(ctx); err != nil {
		return fmt.Errorf("recover sessions: %w", err)
	}

	router := api.NewRouter(a.cfg.Server.Mode, api.Deps{
		Sessions: a.services.Sessions,
		Queue:    a.queue,
		Metrics:  a.metrics.Handler(),
		Polling: api.PollingConfig{
			IntervalMS: a.cfg.Client.PollInterval.Milliseconds(),
			TimeoutMS:  a.cfg.Client.PollTimeout.Milliseconds(),
		},
		MaxBodyBytes: api.MaxRequestBytes(a.cfg.Limits.MaxCodeLength),
	})
	a.server = &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (a *App) newAnalyzer(ctx context.Context, emitter events.Emitter) (client.Analyzer, error) {
	catalog, err := services.LoadModelCatalog()
	if err != nil {
		return nil, err
	}
	resolved, err := catalog.Resolve(a.cfg.LLM.Provider, a.cfg.LLM.Model, a.cfg.LLM.BaseURL)
	if err != nil {
		return nil, err
	}

	var ring *services.KeyringService
	if a.cfg.LLM.APIKey == "" {
		if ring, err = services.OpenKeyring(); err != nil {
			a.log.Warn().Err(err).Msg("keyring unavailable, relying on config and environment")
			ring = nil
		}
	}
	apiKey, err := services.ResolveAPIKey(a.cfg.LLM.APIKey, resolved, ring)
	if err != nil {
		return nil, err
	}

	chat, err := client.NewChatModel(ctx, client.ProviderConfig{
		Driver:      resolved.Driver,
		Model:       resolved.Model,
		BaseURL:     resolved.BaseURL,
		APIKey:      apiKey,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		Temperature: a.cfg.LLM.Temperature,
		Timeout:     a.cfg.LLM.Timeout,
		JSONMode:    a.cfg.LLM.JSONMode,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s chat model: %w", resolved.ProviderID, err)
	}
	a.log.Info().
		Str("provider", resolved.ProviderID).
		Str("model", resolved.Model).
		Str("base_url", resolved.BaseURL).
		Bool("json_mode", a.cfg.LLM.JSONMode).
		Msg("llm client ready")

	return client.NewLLMClient(chat, client.Options{
		Timeout:     a.cfg.LLM.Timeout,
		Limiter:     rate.NewLimiter(rate.Limit(a.cfg.LLM.RatePerSecond), a.cfg.LLM.Burst),
		Model:       resolved.Model,
		TrackTokens: a.cfg.LLM.TrackTokens,
		Events:      emitter,
	})
}

// Run serves HTTP and runs the worker pool until ctx is cancelled or either fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.pool.Run(gctx)
	})
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		a.queue.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	return g.Wait()
}

// shutdown releases resources in reverse order of acquisition.
func (a *App) shutdown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close resource")
		}
	}
	a.closers = nil
}
