package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/gatekeeper/pkg/api"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/provisioning"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, nil).WithField("service", "gatekeeper")
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTelConfig(), logger)
	if err != nil {
		return err
	}

	conns, err := storage.NewConnectionManager(cfg.Database.ConnectionConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		applied, err := storage.RunMigrations(ctx, conns.Primary(), api.Components()...)
		if err != nil {
			return err
		}
		logger.WithField("applied", len(applied)).Info("Schema migrations complete")
	}

	redisClient, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}

	var registry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	var cache *rbac.PermissionCache
	if cfg.Cache.Enabled {
		cache = rbac.NewPermissionCache(rbac.CacheConfig{
			Size:      cfg.Cache.Size,
			TTL:       cfg.Cache.TTL,
			KeyPrefix: cfg.Cache.KeyPrefix,
			Metrics:   metrics,
			Logger:    logger,
		}, redisClient)
	}

	dbAudit, err := audit.NewDBLogger(conns.Primary())
	if err != nil {
		return err
	}
	auditLogger := audit.NewMultiLogger(dbAudit, audit.NewStructuredLogger(logger))

	deps := api.Dependencies{
		DB:            conns.Primary(),
		ReadDB:        conns.Reader(),
		Cache:         cache,
		AuditLogger:   auditLogger,
		Logger:        logger,
		Metrics:       metrics,
		SessionHeader: cfg.Auth.SessionHeader,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	}
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	if cfg.RateLimit.Enabled {
		deps.SubjectLimiter, deps.AnonymousLimiter = newLimiters(bgCtx, cfg, redisClient, logger)
	}
	srv := api.NewServer(deps)

	apply := func(ctx context.Context, steps []provisioning.Step) error {
		return provision(ctx, steps, conns, srv, auditLogger, metrics, logger)
	}
	if cfg.Provisioning.RunOnBoot {
		steps, err := provisioning.LoadSteps(cfg.Provisioning.ManifestDir)
		if err != nil {
			return err
		}
		if err := apply(ctx, steps); err != nil {
			return err
		}
	}

	scheduler, err := startScheduler(cfg, conns, srv, metrics, logger)
	if err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(srv, "gatekeeper"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	checker := observability.NewHealthChecker(conns.Primary(), redisClient, version, metrics)
	checker.AddCheck("provisioning", pendingCheck(cfg, conns, srv))
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if registry != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		stopBackground()
		<-scheduler.Stop().Done()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		// audit rows are written synchronously, so the pool can close with the logger
		if err := auditLogger.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close audit logger")
		}
		return conns.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Gatekeeper %s listening on %s", version, apiServer.Addr)
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		return serve(healthServer)
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})
	if cfg.Provisioning.Watch {
		watcher := provisioning.NewManifestWatcher(cfg.Provisioning.ManifestDir, cfg.Provisioning.WatchDelay, apply, logger)
		g.Go(func() error {
			return watcher.Run(bgCtx)
		})
	}
	return g.Wait()
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", server.Addr, err)
	}
	return nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// newLimiters shares rate limit windows through Redis when it is configured
// and keeps them in process otherwise
func newLimiters(ctx context.Context, cfg *config.Config, client *redis.Client, logger *observability.Logger) (middleware.Limiter, middleware.Limiter) {
	subject := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.SubjectRequests,
		WindowDuration:    cfg.RateLimit.Window,
		BurstSize:         cfg.RateLimit.Burst,
	}
	anonymous := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.AnonymousRequests,
		WindowDuration:    cfg.RateLimit.Window,
		BurstSize:         cfg.RateLimit.Burst,
	}

	if client != nil {
		return middleware.NewDistributedRateLimiter(client, subject, cfg.Cache.KeyPrefix+"ratelimit:subject"),
			middleware.NewDistributedRateLimiter(client, anonymous, cfg.Cache.KeyPrefix+"ratelimit:anonymous")
	}

	subjectLimiter := middleware.NewRateLimiter(subject)
	anonymousLimiter := middleware.NewRateLimiter(anonymous)
	subjectLimiter.StartCleanup(ctx, logger)
	anonymousLimiter.StartCleanup(ctx, logger)
	return subjectLimiter, anonymousLimiter
}

func provision(ctx context.Context, steps []provisioning.Step, conns *storage.ConnectionManager, srv *api.Server, auditLogger audit.Logger, metrics *observability.Metrics, logger *observability.Logger) error {
	runner, err := provisioning.NewRunner(conns.Primary(), srv.RBAC, steps,
		provisioning.WithAuditLogger(auditLogger),
		provisioning.WithMetrics(metrics),
		provisioning.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	applied, err := runner.Up(ctx)
	if err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}
	logger.WithField("applied", len(applied)).Info("Provisioning complete")
	return nil
}

// pendingCheck degrades readiness while provisioning steps are unapplied
func pendingCheck(cfg *config.Config, conns *storage.ConnectionManager, srv *api.Server) observability.CheckFunc {
	return func(ctx context.Context) error {
		steps, err := provisioning.LoadSteps(cfg.Provisioning.ManifestDir)
		if err != nil {
			return err
		}
		runner, err := provisioning.NewRunner(conns.Primary(), srv.RBAC, steps)
		if err != nil {
			return err
		}
		pending, err := runner.Pending(ctx)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return fmt.Errorf("%d provisioning steps pending", len(pending))
		}
		return nil
	}
}

// startScheduler runs the periodic maintenance jobs
func startScheduler(cfg *config.Config, conns *storage.ConnectionManager, srv *api.Server, metrics *observability.Metrics, logger *observability.Logger) (*cron.Cron, error) {
	c := cron.New()

	if interval := cfg.Auth.TokenCleanupInterval; interval > 0 {
		retention := cfg.Auth.TokenRetention
		_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
			defer observability.RecoverPanic(logger, "token cleanup")
			removed, err := srv.Tokens.CleanupExpired(context.Background(), time.Now().Add(-retention))
			if err != nil {
				logger.WithError(err).Error("Token cleanup failed")
				return
			}
			if removed > 0 {
				logger.WithField("removed", removed).Info("Removed expired and revoked API tokens")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule token cleanup: %w", err)
		}
	}

	if metrics != nil {
		_, err := c.AddFunc("@every 15s", func() {
			metrics.RecordDBStats(conns.Primary().Stats())
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule database stats: %w", err)
		}
	}

	c.Start()
	return c, nil
}
