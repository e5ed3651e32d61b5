package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzAccessDenied      EventType = "authz.access_denied"
	EventTypeAuthzInvariantRejected EventType = "authz.invariant_rejected"

	// RBAC mutations
	EventTypeRoleCreate           EventType = "rbac.role_create"
	EventTypeRoleUpdate           EventType = "rbac.role_update"
	EventTypeRoleDelete           EventType = "rbac.role_delete"
	EventTypePermissionCreate     EventType = "rbac.permission_create"
	EventTypePermissionUpdate     EventType = "rbac.permission_update"
	EventTypePermissionDelete     EventType = "rbac.permission_delete"
	EventTypeRolePermissionAssign EventType = "rbac.role_permission_assign"
	EventTypeRolePermissionRevoke EventType = "rbac.role_permission_revoke"
	EventTypeUserRoleAssign       EventType = "rbac.user_role_assign"
	EventTypeUserRoleRevoke       EventType = "rbac.user_role_revoke"
	EventTypeUserPermissionGrant  EventType = "rbac.user_permission_grant"
	EventTypeUserPermissionRevoke EventType = "rbac.user_permission_revoke"

	// Admin events
	EventTypeAdminUserCreate EventType = "admin.user_create"
	EventTypeAdminUserDelete EventType = "admin.user_delete"
	EventTypeAdminTokenIssue EventType = "admin.token_issue"

	// Sample resource events
	EventTypeItemCreate    EventType = "item.create"
	EventTypeItemUpdate    EventType = "item.update"
	EventTypeItemDelete    EventType = "item.delete"
	EventTypeSubItemCreate EventType = "sub_item.create"
	EventTypeSubItemUpdate EventType = "sub_item.update"
	EventTypeSubItemDelete EventType = "sub_item.delete"

	// Provisioning events
	EventTypeProvisioningUp   EventType = "provisioning.up"
	EventTypeProvisioningDown EventType = "provisioning.down"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        uuid.UUID   `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	ActorID *uuid.UUID `json:"actor_id,omitempty"`
	Guard   string     `json:"guard,omitempty"`

	// Resource
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter narrows a search of stored audit events
type SearchFilter struct {
	StartTime    *time.Time
	EndTime      *time.Time
	ActorID      *uuid.UUID
	EventTypes   []EventType
	ResourceType string
	ResourceID   string
	Limit        int
}
