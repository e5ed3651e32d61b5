package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NopLogger returns a logger that discards every event
func NopLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }
func (noOpLogger) Close() error                                     { return nil }

// NewEvent builds an event stamped with the current time and the request ID
// carried by ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// Actor sets the actor fields of the event
func (e *AuditEvent) Actor(id uuid.UUID, guard string) *AuditEvent {
	e.ActorID = &id
	e.Guard = guard
	return e
}

// Resource sets the resource fields of the event
func (e *AuditEvent) Resource(resourceType, resourceID string) *AuditEvent {
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	return e
}

// With sets the message of the event
func (e *AuditEvent) With(message string) *AuditEvent {
	e.Message = message
	return e
}
