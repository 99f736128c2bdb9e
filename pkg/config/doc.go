// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	RECUR_HOST="0.0.0.0"
//	RECUR_PORT="8080"
//	RECUR_HEALTH_PORT="9090"
//	RECUR_READ_TIMEOUT="15s"
//	RECUR_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	RECUR_POSTGRES_URL="postgres://localhost/recur"
//	RECUR_POSTGRES_MAX_CONNS="25"
//	RECUR_POSTGRES_IDLE_CONNS="5"
//	RECUR_POSTGRES_CONN_LIFETIME="5m"
//
// Cache settings:
//
//	RECUR_CACHE_ENABLED="true"
//	RECUR_REDIS_URL="redis://localhost:6379"
//	RECUR_REDIS_POOL_SIZE="10"
//	RECUR_L1_CACHE_SIZE="1024"
//	RECUR_CACHE_TTL="5m"
//
// Sweep schedules (cron syntax, consumed by recur-sweeper):
//
//	RECUR_LOYALTY_SWEEP_SCHEDULE="0 * * * *"
//	RECUR_PRICE_LOCK_SWEEP_SCHEDULE="15 * * * *"
//	RECUR_OFFER_EXPIRY_SWEEP_SCHEDULE="*/10 * * * *"
//
// Observability settings:
//
//	RECUR_LOG_LEVEL="info"  # debug, info, warn, error
//	RECUR_METRICS_ENABLED="true"
//	RECUR_OTEL_ENABLED="true"
//	RECUR_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/cache: Uses cache configuration
//   - pkg/observability: Uses observability configuration
package config
