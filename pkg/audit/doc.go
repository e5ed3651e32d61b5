// Package audit records who changed the authorization model and which
// requests were refused.
//
// Handlers build events with NewEvent and hand them to a Logger:
//
//	event := audit.NewEvent(ctx, audit.EventTypeRoleDelete, audit.EventStatusSuccess).
//		Actor(actor.SubjectID(), actor.SubjectGuard().String()).
//		Resource("role", role.ID.String()).
//		With("role deleted")
//	_ = auditLogger.Log(ctx, event)
//
// DBLogger persists events to the audit_events table, StructuredLogger
// writes them to the JSON application log, and MultiLogger fans out to
// several destinations. Audit failures are logged by callers and never fail
// the audited operation.
package audit
