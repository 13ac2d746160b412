package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/nomis52/flowmaster/config"
)

// NewRedisClient builds a client for the configured Redis server.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Open creates the store selected by cfg. Networked backends are pinged
// before Open returns and wrapped with WithRetry when cfg.Retry is set.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		s   Store
		err error
	)
	switch cfg.Type {
	case config.StoreMemory, "":
		s = NewMemoryStore()
	case config.StoreDisk:
		s, err = NewDiskStore(cfg.Disk.Dir, logger)
	case config.StoreRedis:
		client := NewRedisClient(cfg.Redis)
		if err = client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		s = NewRedisStore(client, cfg.Redis.Prefix, logger)
	case config.StorePostgres:
		s, err = OpenPostgres(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns, logger)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("opened flow store", "type", cfg.Type, "retry", cfg.Retry)
	if cfg.Retry {
		s = WithRetry(s, logger)
	}
	return s, nil
}
