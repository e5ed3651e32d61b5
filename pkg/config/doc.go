// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. Only the database URL is required.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEKEEPER_HOST="0.0.0.0"
//	GATEKEEPER_PORT="8080"
//	GATEKEEPER_HEALTH_PORT="9090"
//	GATEKEEPER_READ_TIMEOUT="15s"
//	GATEKEEPER_WRITE_TIMEOUT="15s"
//	GATEKEEPER_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	GATEKEEPER_DATABASE_DRIVER="postgres"  # postgres, sqlite3
//	GATEKEEPER_DATABASE_URL="postgres://localhost/gatekeeper"
//	GATEKEEPER_DATABASE_REPLICA_URLS="postgres://replica1/gatekeeper,postgres://replica2/gatekeeper"
//	GATEKEEPER_DATABASE_MAX_CONNS="20"
//	GATEKEEPER_DATABASE_AUTO_MIGRATE="true"
//
// Cache and Redis settings:
//
//	GATEKEEPER_REDIS_URL="redis://localhost:6379"  # empty disables Redis
//	GATEKEEPER_CACHE_ENABLED="true"
//	GATEKEEPER_CACHE_SIZE="10000"
//	GATEKEEPER_CACHE_TTL="1m"
//
// Authentication and rate limiting:
//
//	GATEKEEPER_SESSION_HEADER="X-Session-User"  # empty disables the web guard
//	GATEKEEPER_TOKEN_CLEANUP_INTERVAL="1h"
//	GATEKEEPER_RATE_LIMIT_ENABLED="true"
//	GATEKEEPER_RATE_LIMIT_SUBJECT_REQUESTS="1000"
//	GATEKEEPER_RATE_LIMIT_ANONYMOUS_REQUESTS="100"
//
// Observability settings:
//
//	GATEKEEPER_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEKEEPER_METRICS_ENABLED="true"
//	GATEKEEPER_OTEL_ENABLED="true"
//	GATEKEEPER_OTEL_ENDPOINT="otel-collector:4317"
//	GATEKEEPER_OTEL_METRIC_INTERVAL="15s"
//	GATEKEEPER_ENVIRONMENT="production"
//
// Provisioning settings:
//
//	GATEKEEPER_PROVISION_ON_BOOT="false"
//	GATEKEEPER_PROVISION_MANIFEST_DIR="/etc/gatekeeper/provisioning"
//	GATEKEEPER_PROVISION_WATCH="false"
//	GATEKEEPER_PROVISION_WATCH_DELAY="2s"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	conns, err := storage.NewConnectionManager(ctx, cfg.Database.ConnectionConfig())
//
// # Related Packages
//
//   - pkg/storage: Uses database configuration
//   - pkg/observability: Uses observability configuration
//   - pkg/provisioning: Uses provisioning configuration
package config
