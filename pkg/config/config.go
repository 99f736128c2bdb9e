package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/loopcart/recur/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis / cache configuration
	Cache CacheConfig

	// Sweep scheduling
	Sweeps SweepConfig

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

	// RequestTimeout bounds individual handler execution.
	RequestTimeout time.Duration

	// RateLimitEnabled turns on request throttling. When Redis is
	// configured the limiter buckets are shared across instances.
	RateLimitEnabled bool

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// CacheConfig holds Redis and in-process cache settings
type CacheConfig struct {
	Enabled       bool
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	L1Size        int
	TTL           time.Duration
}

// SweepConfig holds cron schedules for the periodic sweeps
type SweepConfig struct {
	LoyaltySchedule     string
	PriceLockSchedule   string
	OfferExpirySchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Sweeps:        loadSweepConfig(),
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
		Host:             getEnv("RECUR_HOST", "0.0.0.0"),
		Port:             getEnv("RECUR_PORT", "8080"),
		ReadTimeout:      getEnvDuration("RECUR_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:     getEnvDuration("RECUR_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:      getEnvDuration("RECUR_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:  getEnvDuration("RECUR_SHUTDOWN_TIMEOUT", 30*time.Second),
		RequestTimeout:   getEnvDuration("RECUR_REQUEST_TIMEOUT", 30*time.Second),
		RateLimitEnabled: getEnvBool("RECUR_RATE_LIMIT_ENABLED", false),
		HealthPort:       getEnv("RECUR_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("RECUR_POSTGRES_URL", ""),
		MaxOpenConns: getEnvInt("RECUR_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("RECUR_POSTGRES_IDLE_CONNS", 5),
		ConnLifetime: getEnvDuration("RECUR_POSTGRES_CONN_LIFETIME", 5*time.Minute),
	}
}

// loadCacheConfig loads Redis and L1 cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       getEnvBool("RECUR_CACHE_ENABLED", true),
		RedisURL:      getEnv("RECUR_REDIS_URL", ""),
		RedisPassword: getEnv("RECUR_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("RECUR_REDIS_DB", 0),
		RedisPoolSize: getEnvInt("RECUR_REDIS_POOL_SIZE", 10),
		L1Size:        getEnvInt("RECUR_L1_CACHE_SIZE", 1024),
		TTL:           getEnvDuration("RECUR_CACHE_TTL", 5*time.Minute),
	}
}

// loadSweepConfig loads sweep schedules from environment. Schedules use
// standard cron syntax.
func loadSweepConfig() SweepConfig {
	return SweepConfig{
		LoyaltySchedule:     getEnv("RECUR_LOYALTY_SWEEP_SCHEDULE", "0 * * * *"),
		PriceLockSchedule:   getEnv("RECUR_PRICE_LOCK_SWEEP_SCHEDULE", "15 * * * *"),
		OfferExpirySchedule: getEnv("RECUR_OFFER_EXPIRY_SWEEP_SCHEDULE", "*/10 * * * *"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("RECUR_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("RECUR_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("RECUR_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("RECUR_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("RECUR_OTEL_SERVICE_NAME", "recur-engine"),
		OTelServiceVersion: getEnv("RECUR_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("RECUR_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Cache.Enabled && c.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required when caching is enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
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
