package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Provisioning  ProvisioningConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds the primary and replica database settings
type DatabaseConfig struct {
	Driver      string
	URL         string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	// AutoMigrate applies pending schema migrations at startup
	AutoMigrate bool
}

// ConnectionConfig converts the settings for storage.NewConnectionManager
func (d DatabaseConfig) ConnectionConfig() storage.ConnectionConfig {
	return storage.ConnectionConfig{
		Driver:      d.Driver,
		PrimaryURL:  d.URL,
		ReplicaURLs: d.ReplicaURLs,
		MaxConns:    d.MaxConns,
		MinConns:    d.MinConns,
		Timeout:     d.Timeout,
		MaxLifetime: d.MaxLifetime,
		MaxIdleTime: d.MaxIdleTime,
	}
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// Enabled reports whether a Redis URL is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// CacheConfig holds the effective permission cache settings
type CacheConfig struct {
	Enabled   bool
	Size      int
	TTL       time.Duration
	KeyPrefix string
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	// SessionHeader is set to the user id by a trusted session proxy.
	// Empty disables web guard authentication.
	SessionHeader string
	// TokenCleanupInterval is how often expired and revoked API tokens are
	// purged; 0 disables the purge.
	TokenCleanupInterval time.Duration
	TokenRetention       time.Duration
}

// RateLimitConfig holds request rate limits
type RateLimitConfig struct {
	Enabled          bool
	SubjectRequests  int
	AnonymousRequests int
	Window           time.Duration
	Burst            int
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
	OTelSampleRatio    float64
	OTelMetricInterval time.Duration
	// Environment names the deployment in exported telemetry
	Environment string
}

// OTelConfig converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
		MetricInterval: o.OTelMetricInterval,
		Environment:    o.Environment,
	}
}

// ProvisioningConfig controls provisioning at startup
type ProvisioningConfig struct {
	// RunOnBoot applies pending provisioning steps when the server starts
	RunOnBoot bool
	// ManifestDir holds YAML step manifests applied after the built-in steps
	ManifestDir string
	// Watch applies manifests added to ManifestDir while the server runs
	Watch bool
	// WatchDelay debounces manifest changes
	WatchDelay time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
		Provisioning:  loadProvisioningConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("GATEKEEPER_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("GATEKEEPER_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:      getEnv("GATEKEEPER_DATABASE_DRIVER", storage.DriverPostgres),
		URL:         getEnv("GATEKEEPER_DATABASE_URL", ""),
		ReplicaURLs: storage.ParseReplicaURLs(getEnv("GATEKEEPER_DATABASE_REPLICA_URLS", "")),
		MaxConns:    getEnvInt("GATEKEEPER_DATABASE_MAX_CONNS", 20),
		MinConns:    getEnvInt("GATEKEEPER_DATABASE_MIN_CONNS", 5),
		Timeout:     getEnvDuration("GATEKEEPER_DATABASE_TIMEOUT", 10*time.Second),
		MaxLifetime: getEnvDuration("GATEKEEPER_DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("GATEKEEPER_DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		AutoMigrate: getEnvBool("GATEKEEPER_DATABASE_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("GATEKEEPER_REDIS_URL", ""),
		Password:   getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
		DB:         getEnvInt("GATEKEEPER_REDIS_DB", 0),
		MaxRetries: getEnvInt("GATEKEEPER_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 10),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:   getEnvBool("GATEKEEPER_CACHE_ENABLED", true),
		Size:      getEnvInt("GATEKEEPER_CACHE_SIZE", 10000),
		TTL:       getEnvDuration("GATEKEEPER_CACHE_TTL", time.Minute),
		KeyPrefix: getEnv("GATEKEEPER_CACHE_KEY_PREFIX", "gatekeeper:"),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SessionHeader:        http.CanonicalHeaderKey(getEnv("GATEKEEPER_SESSION_HEADER", "")),
		TokenCleanupInterval: getEnvDuration("GATEKEEPER_TOKEN_CLEANUP_INTERVAL", time.Hour),
		TokenRetention:       getEnvDuration("GATEKEEPER_TOKEN_RETENTION", 30*24*time.Hour),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:          getEnvBool("GATEKEEPER_RATE_LIMIT_ENABLED", true),
		SubjectRequests:  getEnvInt("GATEKEEPER_RATE_LIMIT_SUBJECT_REQUESTS", 1000),
		AnonymousRequests: getEnvInt("GATEKEEPER_RATE_LIMIT_ANONYMOUS_REQUESTS", 100),
		Window:           getEnvDuration("GATEKEEPER_RATE_LIMIT_WINDOW", time.Minute),
		Burst:            getEnvInt("GATEKEEPER_RATE_LIMIT_BURST", 10),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", "gatekeeper"),
		OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEKEEPER_OTEL_SAMPLE_RATIO", 1.0),
		OTelMetricInterval: getEnvDuration("GATEKEEPER_OTEL_METRIC_INTERVAL", 15*time.Second),
		Environment:        getEnv("GATEKEEPER_ENVIRONMENT", ""),
	}
}

func loadProvisioningConfig() ProvisioningConfig {
	return ProvisioningConfig{
		RunOnBoot:   getEnvBool("GATEKEEPER_PROVISION_ON_BOOT", false),
		ManifestDir: getEnv("GATEKEEPER_PROVISION_MANIFEST_DIR", ""),
		Watch:       getEnvBool("GATEKEEPER_PROVISION_WATCH", false),
		WatchDelay:  getEnvDuration("GATEKEEPER_PROVISION_WATCH_DELAY", 2*time.Second),
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

	switch c.Database.Driver {
	case storage.DriverPostgres, storage.DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be %s or %s)", c.Database.Driver, storage.DriverPostgres, storage.DriverSQLite)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min connections (%d) exceed max connections (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Cache.Enabled {
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive when the cache is enabled")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive when the cache is enabled")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.SubjectRequests <= 0 || c.RateLimit.AnonymousRequests <= 0 {
			return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	if dir := c.Provisioning.ManifestDir; dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("provisioning manifest directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("provisioning manifest directory %s is not a directory", dir)
		}
	}
	if c.Provisioning.Watch && c.Provisioning.ManifestDir == "" {
		return fmt.Errorf("provisioning watch requires a manifest directory")
	}

	return nil
}

// parseLogLevel parses a log level string, falling back to info
func parseLogLevel(level string) observability.LogLevel {
	parsed, err := observability.ParseLogLevel(level)
	if err != nil {
		return observability.InfoLevel
	}
	return parsed
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
