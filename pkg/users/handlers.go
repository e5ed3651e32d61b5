package users

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// Handlers provides HTTP handlers for user administration
type Handlers struct {
	store       *Store
	rbac        *rbac.Store
	gate        *rbac.Gate
	auditLogger audit.Logger
	logger      *observability.Logger
}

// NewHandlers creates new user handlers
func NewHandlers(store *Store, rbacStore *rbac.Store, gate *rbac.Gate, auditLogger audit.Logger, logger *observability.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		store:       store,
		rbac:        rbacStore,
		gate:        gate,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// RegisterRoutes registers user routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.Me).Methods("GET")
	router.HandleFunc("/users", h.ListUsers).Methods("GET")
	router.HandleFunc("/users", h.CreateUser).Methods("POST")
	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id}", h.DeleteUser).Methods("DELETE")
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrEmailTaken):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidEmail):
		httputil.WriteValidationError(w, err.Error())
	default:
		rbac.WriteError(w, err)
	}
}

func (h *Handlers) record(ctx context.Context, subject rbac.Subject, eventType audit.EventType, id uuid.UUID, message string) {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess).
		Actor(subject.SubjectID(), subject.SubjectGuard().String()).
		Resource("user", id.String()).
		With(message)
	if err := h.auditLogger.Log(ctx, event); err != nil {
		h.logger.WithError(err).Warn("Failed to record audit event")
	}
}

// meResponse describes the caller and what it may do under its guard
type meResponse struct {
	User        *User      `json:"user"`
	Guard       rbac.Guard `json:"guard"`
	Superuser   bool       `json:"superuser"`
	Permissions []string   `json:"permissions"`
}

// Me returns the authenticated caller with its effective permissions
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, ok := rbac.SubjectFromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	user, err := h.store.Get(ctx, subject.SubjectID())
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.gate.Evaluator().Snapshot(ctx, subject)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("Failed to load permissions")
		httputil.WriteInternalError(w)
		return
	}

	resp := meResponse{
		User:        user,
		Guard:       subject.SubjectGuard(),
		Superuser:   snap.Superuser,
		Permissions: make([]string, 0, len(snap.Permissions)),
	}
	for name := range snap.Permissions {
		resp.Permissions = append(resp.Permissions, name)
	}
	sort.Strings(resp.Permissions)
	httputil.WriteSuccess(w, resp)
}

// ListUsers lists every user
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.gate.Check(w, r, rbac.ResourceUser, rbac.ActionViewAny, uuid.Nil); !ok {
		return
	}

	users, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

type createUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateUser creates a user
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.gate.Check(w, r, rbac.ResourceUser, rbac.ActionCreate, uuid.Nil)
	if !ok {
		return
	}

	var req createUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.Required(req.Name, "name"),
		httputil.Required(req.Email, "email"),
	) {
		return
	}

	user, err := h.store.Create(r.Context(), req.Name, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeAdminUserCreate, user.ID, "user "+user.Email+" created")
	httputil.WriteCreated(w, user)
}

// userResponse is a user with the roles it holds under every guard
type userResponse struct {
	*User
	Roles []*rbac.Role `json:"roles"`
}

// GetUser retrieves a user with its roles
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.gate.Check(w, r, rbac.ResourceUser, rbac.ActionView, id); !ok {
		return
	}

	user, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	roles, err := h.rbac.UserRoles(r.Context(), id, "")
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, userResponse{User: user, Roles: roles})
}

// DeleteUser deletes a user and its assignments
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, rbac.ResourceUser, rbac.ActionDelete, id)
	if !ok {
		return
	}
	if id == subject.SubjectID() {
		httputil.WriteConflict(w, "cannot delete the authenticated user")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeAdminUserDelete, id, "user deleted")
	httputil.WriteNoContent(w)
}
