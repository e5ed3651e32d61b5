package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// ComponentName is the schema_migrations component of the audit tables
const ComponentName = "audit"

// Migrations returns the audit schema
func Migrations() storage.Component {
	return storage.Component{
		Name: ComponentName,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create audit_events table",
				SQL: `
					CREATE TABLE IF NOT EXISTS audit_events (
						id UUID PRIMARY KEY,
						timestamp TIMESTAMP NOT NULL,
						event_type VARCHAR(100) NOT NULL,
						status VARCHAR(20) NOT NULL,
						actor_id UUID,
						guard VARCHAR(64),
						resource_type VARCHAR(64),
						resource_id VARCHAR(255),
						request_id VARCHAR(100),
						message TEXT,
						metadata TEXT
					);

					CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
					CREATE INDEX IF NOT EXISTS idx_audit_events_actor_id ON audit_events(actor_id);
					CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
				`,
			},
		},
	}
}

// DBLogger implements audit logging to the audit_events table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	var actorID interface{}
	if event.ActorID != nil {
		actorID = *event.ActorID
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, timestamp, event_type, status,
			actor_id, guard, resource_type, resource_id,
			request_id, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		event.ID, event.Timestamp, string(event.EventType), string(event.Status),
		actorID, event.Guard, event.ResourceType, event.ResourceID,
		event.RequestID, event.Message, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns stored events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= "+arg(*filter.StartTime))
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= "+arg(*filter.EndTime))
	}
	if filter.ActorID != nil {
		conditions = append(conditions, "actor_id = "+arg(*filter.ActorID))
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = arg(string(et))
		}
		conditions = append(conditions, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.ResourceType != "" {
		conditions = append(conditions, "resource_type = "+arg(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		conditions = append(conditions, "resource_id = "+arg(filter.ResourceID))
	}

	query := `
		SELECT id, timestamp, event_type, status, actor_id, guard,
			resource_type, resource_id, request_id, message, metadata
		FROM audit_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		var event AuditEvent
		var eventType, status string
		var actorID uuid.NullUUID
		var guard, resourceType, resourceID, requestID, msg, metadata sql.NullString
		if err := rows.Scan(&event.ID, &event.Timestamp, &eventType, &status, &actorID, &guard,
			&resourceType, &resourceID, &requestID, &msg, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.EventType = EventType(eventType)
		event.Status = EventStatus(status)
		if actorID.Valid {
			id := actorID.UUID
			event.ActorID = &id
		}
		event.Guard = guard.String
		event.ResourceType = resourceType.String
		event.ResourceID = resourceID.String
		event.RequestID = requestID.String
		event.Message = msg.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
