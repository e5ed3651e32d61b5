// Package contextkeys holds the request-scoped context keys shared by
// packages that must not import each other (httputil, middleware, rbac,
// observability and audit).
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SubjectKey holds the rbac.Subject set by middleware.AuthMiddleware
	SubjectKey Key = "subject"

	// RequestIDKey holds the X-Request-ID value set by httputil.RequestIDMiddleware
	RequestIDKey Key = "request_id"

	// ActorKey holds the Actor set by middleware.AuthMiddleware. It mirrors
	// SubjectKey as plain strings for loggers and audit events.
	ActorKey Key = "actor"

	// LoggerKey holds the request *observability.Logger
	LoggerKey Key = "logger"
)

// Actor identifies the authenticated user and the guard it signed in under
type Actor struct {
	Guard  string
	UserID string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor returns the actor of an authenticated request
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(ActorKey).(Actor)
	return actor, ok && actor.UserID != ""
}

// WithLogger stores logger untyped so this package stays dependency free
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}
