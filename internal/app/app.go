// Package app assembles the matcher and its collaborators from configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/trial-matcher-server/internal/database"
	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/feedback"
	"github.com/trial-matcher-server/internal/ingest"
	"github.com/trial-matcher-server/internal/metrics"
	"github.com/trial-matcher-server/internal/repository"
	"github.com/trial-matcher-server/internal/service"
	"github.com/trial-matcher-server/pkg/external"
)

// App holds every long-lived component of a running process.
type App struct {
	Config   *domain.Config
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
	DB       *database.DB
	Trials   domain.TrialStore
	Embedder *external.Embedder
	Cache    *external.CacheClient
	CTGov    *external.CTGovClient
	Ingester *ingest.Ingester
	Matcher  *service.MatcherService
	Feedback feedback.Store

	closers []func()
}

// NewLogger builds the process logger from logging settings.
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// stdout carries the MCP stdio protocol.
	if strings.EqualFold(cfg.Output, "stderr") {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}
	return logger
}

// New wires the application. Postgres-backed stores run migrations before
// the pool is opened so the vector type exists when codecs register.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	if err := a.initTrialStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	embedder, err := external.NewEmbedder(cfg.Embedding, logger, external.WithEmbedderMetrics(a.Metrics))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.Embedder = embedder

	a.initCache()

	a.CTGov = external.NewCTGovClient(cfg.CTGov, logger)
	ingester, err := ingest.NewIngester(a.CTGov, embedder, a.Trials, cfg.CTGov, logger, ingest.WithMetrics(a.Metrics))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create ingester: %w", err)
	}
	a.Ingester = ingester
	a.closers = append(a.closers, ingester.Release)

	opts := []service.MatcherOption{
		service.WithMatchingConfig(cfg.Matching),
		service.WithMetrics(a.Metrics),
	}
	if cfg.CTGov.RefreshOnEmpty {
		opts = append(opts, service.WithRefresher(ingester))
	}
	if cfg.Rationale.Enabled {
		var cache external.ResponseCache
		if a.Cache != nil {
			cache = a.Cache
		}
		generator, err := external.NewRationaleGenerator(ctx, cfg.Rationale, logger, cache)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create rationale generator: %w", err)
		}
		opts = append(opts, service.WithRationaleGenerator(generator))
	}

	a.Matcher = service.NewMatcherService(logger, service.NewProfileExtractor(logger), embedder, a.Trials, opts...)

	if cfg.Feedback.Enabled {
		store, err := a.openFeedbackStore()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Feedback = store
		a.closers = append(a.closers, func() { _ = store.Close() })
	}

	logger.WithFields(logrus.Fields{
		"memory_store":    cfg.Matching.UseMemoryStore,
		"rationale":       cfg.Rationale.Enabled,
		"provider":        cfg.Rationale.Provider,
		"feedback_driver": cfg.Feedback.Driver,
		"redis_cache":     a.Cache != nil,
	}).Info("Application initialized")
	return a, nil
}

func (a *App) initTrialStore(ctx context.Context) error {
	cfg := a.Config
	if cfg.Matching.UseMemoryStore {
		a.Trials = repository.NewMemoryTrialStore(cfg.Embedding.Dimension)
		a.Logger.Warn("Using in-memory trial store; trials are lost on exit")
		return nil
	}

	dbConfig := database.FromDomainConfig(cfg.Database)
	if err := database.Migrate(ctx, dbConfig.URL(), cfg.Database.MigrationsPath, a.Logger); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	db, err := database.NewConnection(ctx, dbConfig, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	a.Trials = repository.NewTrialRepository(db.Pool, cfg.Embedding.Dimension, a.Logger)
	return nil
}

// initCache connects Redis when configured. The cache is optional, so a
// failure only disables it.
func (a *App) initCache() {
	if a.Config.Cache.RedisURL == "" {
		return
	}
	client, err := external.NewCacheClient(a.Config.Cache)
	if err != nil {
		a.Logger.WithError(err).Warn("Redis unavailable, rationale caching disabled")
		return
	}
	a.Cache = client
	a.closers = append(a.closers, func() { _ = client.Close() })
}

func (a *App) openFeedbackStore() (feedback.Store, error) {
	switch a.Config.Feedback.Driver {
	case domain.FeedbackDriverSQLite:
		store, err := feedback.NewSQLiteStore(a.Config.Feedback.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite feedback store: %w", err)
		}
		return store, nil
	case domain.FeedbackDriverPostgres, "":
		store, err := feedback.NewPostgresStoreFromURL(database.FromDomainConfig(a.Config.Database).URL())
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres feedback store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported feedback driver %q", a.Config.Feedback.Driver)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
