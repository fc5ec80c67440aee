// Package app wires the components shared by the binaries from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/climate-cache/internal/aggregation"
	"github.com/smukkama/climate-cache/internal/cache"
	"github.com/smukkama/climate-cache/internal/database"
	"github.com/smukkama/climate-cache/internal/openmeteo"
	"github.com/smukkama/climate-cache/internal/refresh"
	"github.com/smukkama/climate-cache/pkg/config"
)

// OpenDatabase connects to the configured store and runs migrations when
// enabled.
func OpenDatabase(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*database.DB, error) {
	db, err := database.Connect(ctx, cfg.Database.Driver, cfg.Database.DSN(), log)
	if err != nil {
		return nil, err
	}
	log.WithField("driver", cfg.Database.Driver).Info("connected to database")

	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return db, nil
}

// NewResponseCache returns a Redis cache when REDIS_ADDR is set and Redis
// answers, and an in-process cache otherwise. The returned func releases the
// cache's resources.
func NewResponseCache(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (cache.Cache, func()) {
	if !cfg.Redis.Enabled() {
		log.Info("using in-process response cache")
		return cache.NewMemoryCache(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unavailable, falling back to in-process response cache")
		client.Close()
		return cache.NewMemoryCache(), func() {}
	}

	log.WithField("addr", cfg.Redis.Addr).Info("using Redis response cache")
	return cache.NewRedisCache(client), func() { client.Close() }
}

// NewClimateClient builds the Open-Meteo adapter.
func NewClimateClient(cfg *config.Config, c cache.Cache, log logrus.FieldLogger) *openmeteo.Client {
	return openmeteo.New(openmeteo.Config{
		BaseURL:  cfg.Climate.APIURL,
		Models:   cfg.Climate.Models,
		Timeout:  cfg.Climate.HTTPTimeout,
		CacheTTL: cfg.Climate.CacheTTL,
		Backoff: openmeteo.BackoffConfig{
			MaxRetries:      cfg.Climate.MaxRetries,
			InitialInterval: cfg.Climate.InitialBackoff,
			MaxInterval:     cfg.Climate.MaxBackoff,
		},
	}, nil, c, log)
}

// NewOrchestrator builds the batch orchestrator. publisher may be nil.
func NewOrchestrator(cfg *config.Config, store refresh.Store, fetcher refresh.Fetcher, publisher refresh.Publisher, log logrus.FieldLogger) *refresh.Orchestrator {
	return refresh.New(RefreshConfig(cfg), store, fetcher,
		aggregation.NewEngine(aggregation.DefaultConfig()), publisher, log)
}

// RefreshConfig maps the batch settings onto the orchestrator.
func RefreshConfig(cfg *config.Config) refresh.Config {
	return refresh.Config{
		MaxCells:     cfg.Batch.MaxCells,
		Workers:      cfg.Batch.Workers,
		FetchTimeout: cfg.Batch.FetchTimeout,
		MinDate:      cfg.Batch.MinDate,
		MaxDate:      cfg.Batch.MaxDate,
		Models:       cfg.Climate.Models,
	}
}
