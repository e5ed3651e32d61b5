package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	store       *Store
	gate        *Gate
	auditLogger audit.Logger
	logger      *observability.Logger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(store *Store, gate *Gate, auditLogger audit.Logger, logger *observability.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		store:       store,
		gate:        gate,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Permissions
	router.HandleFunc("/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/permissions", h.CreatePermission).Methods("POST")
	router.HandleFunc("/permissions/{id}", h.GetPermission).Methods("GET")
	router.HandleFunc("/permissions/{id}", h.UpdatePermission).Methods("PUT")
	router.HandleFunc("/permissions/{id}", h.DeletePermission).Methods("DELETE")

	// Roles
	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/roles/{id}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/roles/{id}", h.DeleteRole).Methods("DELETE")

	// Role permission assignments
	router.HandleFunc("/roles/{role_id}/permissions", h.ListRolePermissions).Methods("GET")
	router.HandleFunc("/roles/{role_id}/permissions", h.AssignRolePermissions).Methods("POST")
	router.HandleFunc("/roles/{role_id}/permissions/{permission_id}", h.RevokeRolePermission).Methods("DELETE")

	// User role assignments
	router.HandleFunc("/users/{user_id}/roles", h.ListUserRoles).Methods("GET")
	router.HandleFunc("/users/{user_id}/roles", h.AssignUserRole).Methods("POST")
	router.HandleFunc("/users/{user_id}/roles/{role_id}", h.RevokeUserRole).Methods("DELETE")

	// User permission grants
	router.HandleFunc("/users/{user_id}/permissions", h.ListUserPermissions).Methods("GET")
	router.HandleFunc("/users/{user_id}/permissions", h.GrantUserPermission).Methods("POST")
	router.HandleFunc("/users/{user_id}/permissions/{permission_id}", h.RevokeUserPermission).Methods("DELETE")

	// Dry-run decision for the caller
	router.HandleFunc("/authorize", h.Authorize).Methods("POST")
}

func (h *Handlers) record(ctx context.Context, subject Subject, eventType audit.EventType, resourceType, resourceID, message string) {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess).
		Actor(subject.SubjectID(), subject.SubjectGuard().String()).
		Resource(resourceType, resourceID).
		With(message)
	if err := h.auditLogger.Log(ctx, event); err != nil {
		h.logger.WithError(err).Warn("Failed to record audit event")
	}
}

func queryGuard(w http.ResponseWriter, r *http.Request) (Guard, bool) {
	raw := r.URL.Query().Get("guard")
	if raw == "" {
		return "", true
	}
	guard, err := ParseGuard(raw)
	if err != nil {
		WriteError(w, err)
		return "", false
	}
	return guard, true
}

// ListPermissions lists permissions, optionally filtered by ?guard=
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.gate.Check(w, r, ResourcePermission, ActionViewAny, uuid.Nil); !ok {
		return
	}
	guard, ok := queryGuard(w, r)
	if !ok {
		return
	}

	permissions, err := h.store.ListPermissions(r.Context(), guard)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

type nameGuardRequest struct {
	Name  string `json:"name"`
	Guard Guard  `json:"guard"`
}

// CreatePermission creates a permission
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.gate.Check(w, r, ResourcePermission, ActionCreate, uuid.Nil)
	if !ok {
		return
	}

	var req nameGuardRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Guard == "" {
		req.Guard = subject.SubjectGuard()
	}

	permission, err := h.store.CreatePermission(r.Context(), req.Name, req.Guard)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypePermissionCreate, "permission", permission.ID.String(), "permission "+permission.Name+" created")
	httputil.WriteCreated(w, permission)
}

// GetPermission retrieves a permission
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.gate.Check(w, r, ResourcePermission, ActionView, id); !ok {
		return
	}

	permission, err := h.store.GetPermission(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, permission)
}

// UpdatePermission renames a permission
func (h *Handlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, ResourcePermission, ActionUpdate, id)
	if !ok {
		return
	}

	var req nameGuardRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	permission, err := h.store.RenamePermission(r.Context(), id, req.Name)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypePermissionUpdate, "permission", id.String(), "permission renamed to "+permission.Name)
	httputil.WriteSuccess(w, permission)
}

// DeletePermission deletes a permission no role or user references
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, ResourcePermission, ActionDelete, id)
	if !ok {
		return
	}

	if err := h.store.DeletePermission(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypePermissionDelete, "permission", id.String(), "permission deleted")
	httputil.WriteNoContent(w)
}

// ListRoles lists roles, optionally filtered by ?guard=
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.gate.Check(w, r, ResourceRole, ActionViewAny, uuid.Nil); !ok {
		return
	}
	guard, ok := queryGuard(w, r)
	if !ok {
		return
	}

	roles, err := h.store.ListRoles(r.Context(), guard)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// CreateRole creates a role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.gate.Check(w, r, ResourceRole, ActionCreate, uuid.Nil)
	if !ok {
		return
	}

	var req nameGuardRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Guard == "" {
		req.Guard = subject.SubjectGuard()
	}

	role, err := h.store.CreateRole(r.Context(), req.Name, req.Guard)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeRoleCreate, "role", role.ID.String(), "role "+role.Name+" created")
	httputil.WriteCreated(w, role)
}

// roleResponse is a role with its permissions
type roleResponse struct {
	*Role
	Permissions []*Permission `json:"permissions"`
}

// GetRole retrieves a role with its permissions
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.gate.Check(w, r, ResourceRole, ActionView, id); !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	permissions, err := h.store.RolePermissions(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, roleResponse{Role: role, Permissions: permissions})
}

// UpdateRole renames a role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, ResourceRole, ActionUpdate, id)
	if !ok {
		return
	}

	var req nameGuardRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.store.RenameRole(r.Context(), id, req.Name)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeRoleUpdate, "role", id.String(), "role renamed to "+role.Name)
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a role no user holds
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, ResourceRole, ActionDelete, id)
	if !ok {
		return
	}

	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeRoleDelete, "role", id.String(), "role deleted")
	httputil.WriteNoContent(w)
}

// ListRolePermissions lists the permissions of a role
func (h *Handlers) ListRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "role_id")
	if !ok {
		return
	}
	if _, ok := h.gate.Check(w, r, ResourceRolePermission, ActionViewAny, uuid.Nil); !ok {
		return
	}

	if _, err := h.store.GetRole(r.Context(), roleID); err != nil {
		WriteError(w, err)
		return
	}
	permissions, err := h.store.RolePermissions(r.Context(), roleID)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

type assignPermissionsRequest struct {
	PermissionIDs []uuid.UUID `json:"permission_ids"`
}

// AssignRolePermissions assigns permissions to a role
func (h *Handlers) AssignRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "role_id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, ResourceRolePermission, ActionCreate, uuid.Nil)
	if !ok {
		return
	}

	var req assignPermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.PermissionIDs) == 0 {
		httputil.WriteValidationError(w, "permission_ids is required")
		return
	}

	inserted, err := h.store.AssignPermissions(r.Context(), roleID, req.PermissionIDs...)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeRolePermissionAssign, "role", roleID.String(), "permissions assigned to role")
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"assigned": inserted})
}

// RevokeRolePermission removes one permission from a role. The assignment is
// addressed by its two ids as separate path segments.
func (h *Handlers) RevokeRolePermission(w http.ResponseWriter, r *http.Request) {
	key, ok := parseRolePermission(w, r)
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, ResourceRolePermission, ActionDelete, key.RoleID)
	if !ok {
		return
	}

	deleted, err := h.store.RevokePermissions(r.Context(), key.RoleID, key.PermissionID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if deleted == 0 {
		httputil.WriteNotFoundError(w, "role permission assignment not found")
		return
	}

	h.record(r.Context(), subject, audit.EventTypeRolePermissionRevoke, "role", key.RoleID.String(), "permission "+key.PermissionID.String()+" revoked from role")
	httputil.WriteNoContent(w)
}

func parseRolePermission(w http.ResponseWriter, r *http.Request) (RolePermission, bool) {
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "role_id")
	if !ok {
		return RolePermission{}, false
	}
	permissionID, ok := httputil.ParsePathUUIDOrError(w, r, "permission_id")
	if !ok {
		return RolePermission{}, false
	}
	return RolePermission{RoleID: roleID, PermissionID: permissionID}, true
}

// ListUserRoles lists the roles of a user, optionally filtered by ?guard=
func (h *Handlers) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}
	if _, ok := h.gate.Check(w, r, ResourceUserRole, ActionViewAny, uuid.Nil); !ok {
		return
	}
	guard, ok := queryGuard(w, r)
	if !ok {
		return
	}

	if err := h.store.requireUser(r.Context(), userID); err != nil {
		WriteError(w, err)
		return
	}
	roles, err := h.store.UserRoles(r.Context(), userID, guard)
	if err != nil {
		WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

type assignRoleRequest struct {
	RoleID uuid.UUID `json:"role_id"`
}

// AssignUserRole grants a role to a user
func (h *Handlers) AssignUserRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, ResourceUserRole, ActionCreate, uuid.Nil)
	if !ok {
		return
	}

	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID == uuid.Nil {
		httputil.WriteValidationError(w, "role_id is required")
		return
	}

	if err := h.store.AssignRoleToUser(r.Context(), userID, req.RoleID); err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeUserRoleAssign, "user", userID.String(), "role "+req.RoleID.String()+" assigned")
	httputil.WriteJSON(w, http.StatusCreated, UserRole{UserID: userID, RoleID: req.RoleID})
}

// RevokeUserRole removes a role from a user
func (h *Handlers) RevokeUserRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "role_id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, ResourceUserRole, ActionDelete, userID)
	if !ok {
		return
	}

	if err := h.store.RevokeRoleFromUser(r.Context(), userID, roleID); err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeUserRoleRevoke, "user", userID.String(), "role "+roleID.String()+" revoked")
	httputil.WriteNoContent(w)
}

// userPermissionsResponse lists direct grants and, on request, the
// effective permission names of one guard
type userPermissionsResponse struct {
	Direct    []*Permission `json:"direct"`
	Effective []string      `json:"effective,omitempty"`
}

// ListUserPermissions lists the direct permissions of a user. With
// ?effective=true&guard=<guard> it also returns the effective permission
// names under that guard.
func (h *Handlers) ListUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}
	if _, ok := h.gate.Check(w, r, ResourceUserPermission, ActionViewAny, uuid.Nil); !ok {
		return
	}
	guard, ok := queryGuard(w, r)
	if !ok {
		return
	}
	effective, err := httputil.ParseQueryBool(r, "effective", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	if err := h.store.requireUser(ctx, userID); err != nil {
		WriteError(w, err)
		return
	}

	var resp userPermissionsResponse
	if resp.Direct, err = h.store.UserDirectPermissions(ctx, userID, guard); err != nil {
		WriteError(w, err)
		return
	}
	if effective {
		if guard == "" {
			httputil.WriteValidationError(w, "guard is required with effective=true")
			return
		}
		if resp.Effective, err = h.store.EffectivePermissionNames(ctx, userID, guard); err != nil {
			WriteError(w, err)
			return
		}
	}
	httputil.WriteSuccess(w, resp)
}

type grantPermissionRequest struct {
	PermissionID uuid.UUID `json:"permission_id"`
}

// GrantUserPermission grants a permission directly to a user
func (h *Handlers) GrantUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, ResourceUserPermission, ActionCreate, uuid.Nil)
	if !ok {
		return
	}

	var req grantPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PermissionID == uuid.Nil {
		httputil.WriteValidationError(w, "permission_id is required")
		return
	}

	if err := h.store.GrantPermissionToUser(r.Context(), userID, req.PermissionID); err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeUserPermissionGrant, "user", userID.String(), "permission "+req.PermissionID.String()+" granted")
	httputil.WriteJSON(w, http.StatusCreated, UserPermission{UserID: userID, PermissionID: req.PermissionID})
}

// RevokeUserPermission removes a directly granted permission from a user
func (h *Handlers) RevokeUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathUUIDOrError(w, r, "permission_id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, ResourceUserPermission, ActionDelete, userID)
	if !ok {
		return
	}

	if err := h.store.RevokePermissionFromUser(r.Context(), userID, permissionID); err != nil {
		WriteError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeUserPermissionRevoke, "user", userID.String(), "permission "+permissionID.String()+" revoked")
	httputil.WriteNoContent(w)
}

type authorizeRequest struct {
	Resource Resource  `json:"resource"`
	Action   string    `json:"action"`
	TargetID uuid.UUID `json:"target_id"`
}

type authorizeResponse struct {
	Allowed    bool   `json:"allowed"`
	Permission string `json:"permission,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Authorize reports whether the caller may perform an action, without
// performing it
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req authorizeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	action, ok := ParseAction(req.Action)
	if !ok {
		httputil.WriteValidationError(w, "unknown action "+req.Action)
		return
	}

	decision, err := h.gate.Evaluator().Evaluate(r.Context(), Request{
		Subject:  subject,
		Resource: req.Resource,
		Action:   action,
		TargetID: req.TargetID,
	})
	resp := authorizeResponse{Allowed: decision.Allowed}
	if err != nil {
		var invErr *InvariantError
		if !errors.As(err, &invErr) {
			WriteError(w, err)
			return
		}
		resp.Message = invErr.Message
	}
	if decision.Allowed {
		resp.Permission = decision.Permission
	}
	httputil.WriteSuccess(w, resp)
}
