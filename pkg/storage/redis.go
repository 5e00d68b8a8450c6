package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lattice-hq/lattice/pkg/observability"
)

// RedisClientOrNil connects to Redis when a URL is configured. Redis only
// carries cache invalidation fan-out, so a missing or unreachable Redis
// degrades the deployment instead of failing it.
func RedisClientOrNil(config Config, logger *observability.Logger) *redis.Client {
	if config.RedisURL == "" {
		logger.Info("No Redis configured, cache invalidation is process-local")
		return nil
	}
	client, err := NewRedisClient(config)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, cache invalidation is process-local")
		return nil
	}
	return client
}

// NewRedisClient creates a Redis client from storage configuration and
// verifies connectivity before returning it.
func NewRedisClient(config Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
