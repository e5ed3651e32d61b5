// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// # Authentication
//
// AuthMiddleware resolves the caller and binds it to a guard:
//
//   - Authorization: Bearer gk_... is validated against pkg/auth and
//     authenticates under the api guard
//   - the configured session header, set by a trusted upstream session
//     proxy to a user id, authenticates under the web guard
//
// The resolved users.Actor is stored with rbac.WithSubject; rbac.Gate reads
// it back when a handler authorizes.
//
//	authn := middleware.NewAuthMiddleware(tokens, userStore, middleware.AuthConfig{
//		SessionHeader: "X-Session-User",
//		Optional:      true,
//	})
//	router.Use(authn.Handler)
//	router.Use(limits.Handler) // see Rate Limiting
//	router.Use(middleware.RequireAuthentication)
//
// With Optional set, bad credentials reach the per-IP limiter before
// RequireAuthentication answers 401.
//
// # Rate Limiting
//
// RateLimitMiddleware keys authenticated requests by guard and subject and
// everything else by client IP. RateLimiter keeps token buckets in process;
// DistributedRateLimiter shares sliding windows through Redis.
//
//	limits := middleware.NewRateLimitMiddleware(
//		middleware.NewDistributedRateLimiter(redisClient, middleware.PerSubjectRateLimitConfig(), "gk:ratelimit:subject"),
//		middleware.NewDistributedRateLimiter(redisClient, middleware.DefaultRateLimitConfig(), "gk:ratelimit:anon"),
//	)
//	router.Use(limits.Handler)
//
// Default (anonymous): 100 req/min, 10 burst
// Per subject: 1000 req/min, 50 burst
//
// Limiter errors fail open unless SetFailOpen(false) is called.
package middleware
