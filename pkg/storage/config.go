// Package storage holds shared storage configuration and the Redis client
// used for cache invalidation fan-out. The Postgres connection manager lives
// in the postgres subpackage.
package storage

import "time"

// Config holds database and cache connection settings
type Config struct {
	// PostgreSQL
	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// DefaultConfig returns sane defaults for local development
func DefaultConfig() Config {
	return Config{
		PostgresURL:      "",
		PostgresMaxConns: 25,
		PostgresMinConns: 5,
		PostgresTimeout:  10 * time.Second,
		RedisURL:         "",
		RedisDB:          0,
		RedisPoolSize:    10,
	}
}
