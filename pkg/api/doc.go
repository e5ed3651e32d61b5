// Package api assembles the admin HTTP API.
//
// NewServer builds the stores, the policy evaluator and the gate from shared
// Dependencies and mounts every handler set under /api/v1 behind
// authentication and rate limiting:
//
//	srv := api.NewServer(api.Dependencies{
//		DB:            conns.Primary(),
//		ReadDB:        conns.Reader(),
//		Cache:         cache,
//		AuditLogger:   auditLogger,
//		Logger:        logger,
//		Metrics:       metrics,
//		SessionHeader: "X-Session-User",
//	})
//	http.ListenAndServe(":8080", srv)
//
// Writes always go to DB. Without a Cache, policy reads go to ReadDB, so a
// lagging replica can briefly serve decisions older than the latest write.
// With a Cache, policy reads go to DB so a revoke is never cached as allowed.
//
// Components returns every schema component in the order RunMigrations must
// apply them.
package api
