package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// WithSubject adds the authenticated subject to the context
func WithSubject(ctx context.Context, subject Subject) context.Context {
	return context.WithValue(ctx, contextkeys.SubjectKey, subject)
}

// SubjectFromContext retrieves the authenticated subject from the context
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	subject, ok := ctx.Value(contextkeys.SubjectKey).(Subject)
	return subject, ok && subject != nil
}

// StatusCode maps an RBAC error to an HTTP status
func StatusCode(err error) int {
	var invErr *InvariantError
	switch {
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &invErr), errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidGuard),
		errors.Is(err, ErrGuardMismatch), errors.Is(err, ErrPermissionNotRegistered):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err with the status StatusCode picks. Denials get a
// generic message so they do not reveal why access was refused; internal
// errors are not echoed.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	switch status {
	case http.StatusForbidden:
		httputil.WriteForbidden(w, ErrForbidden.Error())
	case http.StatusInternalServerError:
		httputil.WriteInternalError(w)
	default:
		httputil.WriteError(w, status, err)
	}
}

// Gate authorizes HTTP requests against the evaluator
type Gate struct {
	evaluator   *Evaluator
	auditLogger audit.Logger
	logger      *observability.Logger
}

// NewGate creates a new gate
func NewGate(evaluator *Evaluator, auditLogger audit.Logger, logger *observability.Logger) *Gate {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Gate{
		evaluator:   evaluator,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// Evaluator returns the evaluator behind the gate
func (g *Gate) Evaluator() *Evaluator {
	return g.evaluator
}

// Check authorizes the request's subject for action on resource. On refusal
// it writes the response and returns false.
func (g *Gate) Check(w http.ResponseWriter, r *http.Request, resource Resource, action Action, targetID uuid.UUID) (Subject, bool) {
	ctx := r.Context()
	subject, ok := SubjectFromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}

	err := g.evaluator.Authorize(ctx, Request{
		Subject:  subject,
		Resource: resource,
		Action:   action,
		TargetID: targetID,
	})
	if err == nil {
		return subject, true
	}

	var invErr *InvariantError
	switch {
	case errors.Is(err, ErrForbidden):
		g.audit(ctx, subject, audit.EventTypeAuthzAccessDenied, resource, action, targetID, "access denied")
	case errors.As(err, &invErr):
		g.audit(ctx, subject, audit.EventTypeAuthzInvariantRejected, resource, action, targetID, invErr.Message)
	default:
		observability.FromContext(ctx).WithError(err).
			WithField("resource", string(resource)).
			WithField("action", string(action)).
			Error("Authorization check failed")
	}
	WriteError(w, err)
	return nil, false
}

// Require returns middleware that authorizes a collection level action
func (g *Gate) Require(resource Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := g.Check(w, r, resource, action, uuid.Nil); !ok {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gate) audit(ctx context.Context, subject Subject, eventType audit.EventType, resource Resource, action Action, targetID uuid.UUID, message string) {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusDenied).
		Actor(subject.SubjectID(), subject.SubjectGuard().String()).
		With(message)
	event.ResourceType = string(resource)
	if targetID != uuid.Nil {
		event.ResourceID = targetID.String()
	}
	event.Metadata["action"] = string(action)
	if err := g.auditLogger.Log(ctx, event); err != nil {
		g.logger.WithError(err).Warn("Failed to record audit event")
	}
}
