package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lattice-hq/lattice/pkg/observability"
	"github.com/lattice-hq/lattice/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Access-control engine configuration
	Engine EngineConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// EngineConfig holds access-control engine settings
type EngineConfig struct {
	// PolicyFile is the YAML file declaring per-table row policy clauses.
	PolicyFile string

	// PolicyWatch enables reinstalling policies when PolicyFile changes.
	PolicyWatch bool

	// PermissionCacheSize bounds the in-process effective permission cache.
	PermissionCacheSize int

	// PermissionCacheTTL bounds staleness of cached effective permissions.
	PermissionCacheTTL time.Duration

	// SweepSchedule is the cron expression for the expired-assignment sweep.
	SweepSchedule string

	// EventChannel is the Redis channel for permission-changed events.
	EventChannel string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Engine:        loadEngineConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("LATTICE_HOST", "0.0.0.0"),
		Port:            getEnv("LATTICE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("LATTICE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LATTICE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("LATTICE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LATTICE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("LATTICE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if pgURL := getEnv("LATTICE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("LATTICE_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("LATTICE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("LATTICE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("LATTICE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	if redisURL := getEnv("LATTICE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("LATTICE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("LATTICE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisPoolSize := getEnvInt("LATTICE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadEngineConfig loads access-control engine configuration from environment
func loadEngineConfig() EngineConfig {
	return EngineConfig{
		PolicyFile:          getEnv("LATTICE_POLICY_FILE", "policies.yaml"),
		PolicyWatch:         getEnvBool("LATTICE_POLICY_WATCH", false),
		PermissionCacheSize: getEnvInt("LATTICE_PERMISSION_CACHE_SIZE", 4096),
		PermissionCacheTTL:  getEnvDuration("LATTICE_PERMISSION_CACHE_TTL", 5*time.Minute),
		SweepSchedule:       getEnv("LATTICE_SWEEP_SCHEDULE", "*/5 * * * *"),
		EventChannel:        getEnv("LATTICE_EVENT_CHANNEL", "lattice.permissions.changed"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("LATTICE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("LATTICE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Engine.PolicyFile == "" {
		return fmt.Errorf("policy file is required")
	}
	if c.Engine.PermissionCacheSize <= 0 {
		return fmt.Errorf("permission cache size must be positive")
	}
	if c.Engine.PermissionCacheTTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
