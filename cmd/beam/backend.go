package main

import (
	"context"
	"fmt"
	"strings"

	"beam/internal/config"
	"beam/internal/database"
	"beam/internal/models"
	"beam/internal/retry"
	"beam/internal/service"
	"beam/internal/storage"
	"beam/internal/storage/pgstore"
	"beam/internal/storage/redisstore"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisNamespace = "beam:"

// backend is an opened KV store plus, for SQL backends, the sweeper that
// reclaims expired rows
type backend struct {
	kv      storage.KV
	sweeper service.ExpirySweeper
	name    string
}

// openBackend connects to the configured store, retrying with exponential backoff
func openBackend(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*backend, error) {
	var b *backend
	backoff := retry.NewBackoff(retry.FromConfig(cfg.Retry))

	err := backoff.Retry(ctx, func(ctx context.Context) error {
		var initErr error
		b, initErr = dialBackend(ctx, cfg.Storage)
		if initErr != nil {
			logger.WithField("backend", cfg.Storage.Backend).Warnf("Failed to open storage backend: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend after retries: %w", cfg.Storage.Backend, err)
	}
	return b, nil
}

func dialBackend(ctx context.Context, cfg models.StorageConfig) (*backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		secret := ""
		if cfg.EncryptAtRest {
			secret = cfg.EncryptionSecret
		}
		db, err := database.New(ctx, cfg.Path, secret)
		if err != nil {
			return nil, err
		}
		return &backend{kv: db, sweeper: db, name: cfg.Backend}, nil

	case config.BackendRedis:
		store, err := dialRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{kv: store, name: cfg.Backend}, nil

	case config.BackendPostgres:
		store, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &backend{kv: store, sweeper: store, name: cfg.Backend}, nil

	case config.BackendMemory:
		return &backend{kv: storage.NewMemoryKV(), name: cfg.Backend}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// dialRedis accepts either host:port or a redis:// URL
func dialRedis(ctx context.Context, cfg models.StorageConfig) (*redisstore.Store, error) {
	if !strings.Contains(cfg.RedisAddr, "://") {
		return redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, redisNamespace)
	}

	opts, err := redis.ParseURL(cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	store := redisstore.New(redis.NewClient(opts), redisNamespace)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return store, nil
}
