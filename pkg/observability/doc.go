// Package observability provides structured logging, Prometheus metrics,
// health endpoints and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("guard", "web").Info("Provisioning complete")
//
// Request scoped loggers carry the request and user ids:
//
//	observability.FromContext(ctx).WithError(err).Error("Authorization check failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordAuthzDecision("role", "delete", "invariant")
//
// The Record methods are no-ops on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version, metrics)
//	observability.RegisterHealthRoutes(mux, checker)
//
// /healthz is liveness, /readyz checks the database and Redis.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "gatekeeper",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
