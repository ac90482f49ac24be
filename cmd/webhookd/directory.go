package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/goreconcile/pkg/config"
	"github.com/mihaimyh/goreconcile/pkg/reconcile"
	fsdir "github.com/mihaimyh/goreconcile/storage/firestore"
	"github.com/mihaimyh/goreconcile/storage/memory"
	"github.com/mihaimyh/goreconcile/storage/mysql"
	"github.com/mihaimyh/goreconcile/storage/postgres"
	redisdir "github.com/mihaimyh/goreconcile/storage/redis"
	"github.com/mihaimyh/goreconcile/storage/sqlite"
	"github.com/mihaimyh/goreconcile/storage/tiered"
)

// pinger is implemented by directories that can report backend health.
type pinger interface {
	Ping(ctx context.Context) error
}

// openDirectory builds the directory selected by WEBHOOKD_STORAGE. The returned
// cleanup releases backend resources and is never nil.
func openDirectory(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (reconcile.AccountDirectory, func(), error) {
	if cfg.Storage != config.StorageTiered {
		return openBackend(ctx, cfg, cfg.Storage)
	}

	cold, cleanup, err := openBackend(ctx, cfg, cfg.TieredCold)
	if err != nil {
		return nil, cleanup, err
	}
	dir, err := tiered.New(tiered.Config{
		Hot:           memory.New(),
		Cold:          cold,
		AsyncBackfill: true,
		AsyncErrorHandler: func(err error) {
			logger.Warn().Err(err).Msg("Tiered directory backfill failed")
		},
	})
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return dir, func() {
		_ = dir.Close()
		cleanup()
	}, nil
}

func openBackend(ctx context.Context, cfg *config.Config, backend string) (reconcile.AccountDirectory, func(), error) {
	noop := func() {}

	switch backend {
	case config.StorageMemory:
		return memory.New(), noop, nil

	case config.StorageSQLite:
		dir, err := sqlite.Open(cfg.SQLiteDir)
		if err != nil {
			return nil, noop, err
		}
		return dir, func() { _ = dir.Close() }, nil

	case config.StoragePostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.PostgresDSN
		dir, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, noop, err
		}
		return dir, dir.Close, nil

	case config.StorageMySQL:
		myConfig := mysql.DefaultConfig()
		myConfig.DSN = cfg.MySQLDSN
		dir, err := mysql.New(ctx, myConfig)
		if err != nil {
			return nil, noop, err
		}
		return dir, func() { _ = dir.Close() }, nil

	case config.StorageRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("failed to connect to redis: %w", err)
		}
		dir, err := redisdir.New(client, redisdir.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return dir, func() { _ = dir.Close() }, nil

	case config.StorageFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create firestore client: %w", err)
		}
		dir, err := fsdir.New(client, fsdir.Config{})
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return dir, func() { _ = client.Close() }, nil
	}

	return nil, noop, fmt.Errorf("%w: unsupported storage %q", reconcile.ErrInvalidConfig, backend)
}

// withCircuitBreaker wraps dir unless the threshold disables the breaker.
func withCircuitBreaker(dir reconcile.AccountDirectory, threshold int, metrics reconcile.Metrics, logger zerolog.Logger) reconcile.AccountDirectory {
	if threshold <= 0 {
		return dir
	}
	cb := reconcile.NewDefaultCircuitBreaker(threshold, 30*time.Second, func(state reconcile.CircuitBreakerState) {
		metrics.RecordCircuitBreakerStateChange(string(state))
		logger.Warn().Str("state", string(state)).Msg("Directory circuit breaker changed state")
	})
	return reconcile.NewCircuitBreakerDirectory(dir, cb)
}
