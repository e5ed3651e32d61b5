package items

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// Handlers provides HTTP handlers for items and sub-items
type Handlers struct {
	store       *Store
	gate        *rbac.Gate
	auditLogger audit.Logger
	logger      *observability.Logger
}

// NewHandlers creates new item handlers
func NewHandlers(store *Store, gate *rbac.Gate, auditLogger audit.Logger, logger *observability.Logger) *Handlers {
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

// RegisterRoutes registers item routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/items", h.ListItems).Methods("GET")
	router.HandleFunc("/items", h.CreateItem).Methods("POST")
	router.HandleFunc("/items/{id}", h.GetItem).Methods("GET")
	router.HandleFunc("/items/{id}", h.UpdateItem).Methods("PUT")
	router.HandleFunc("/items/{id}", h.DeleteItem).Methods("DELETE")

	router.HandleFunc("/items/{item_id}/sub-items", h.ListSubItems).Methods("GET")
	router.HandleFunc("/items/{item_id}/sub-items", h.CreateSubItem).Methods("POST")
	router.HandleFunc("/items/{item_id}/sub-items/{id}", h.GetSubItem).Methods("GET")
	router.HandleFunc("/items/{item_id}/sub-items/{id}", h.UpdateSubItem).Methods("PUT")
	router.HandleFunc("/items/{item_id}/sub-items/{id}", h.DeleteSubItem).Methods("DELETE")
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrNameTooLong), errors.Is(err, ErrNothingToUpdate):
		httputil.WriteValidationError(w, err.Error())
	default:
		rbac.WriteError(w, err)
	}
}

func (h *Handlers) record(ctx context.Context, subject rbac.Subject, eventType audit.EventType, resource rbac.Resource, id uuid.UUID, message string) {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess).
		Actor(subject.SubjectID(), subject.SubjectGuard().String()).
		Resource(string(resource), id.String()).
		With(message)
	if err := h.auditLogger.Log(ctx, event); err != nil {
		h.logger.WithError(err).Warn("Failed to record audit event")
	}
}

type itemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListItems lists every item
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.gate.Check(w, r, rbac.ResourceItem, rbac.ActionViewAny, uuid.Nil); !ok {
		return
	}

	items, err := h.store.ListItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, items)
}

// CreateItem creates an item owned by the caller
func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.gate.Check(w, r, rbac.ResourceItem, rbac.ActionCreate, uuid.Nil)
	if !ok {
		return
	}

	var req itemRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	item, err := h.store.CreateItem(r.Context(), req.Name, req.Description, subject.SubjectID())
	if err != nil {
		writeError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeItemCreate, rbac.ResourceItem, item.ID, "item "+item.Name+" created")
	httputil.WriteCreated(w, item)
}

// GetItem retrieves an item
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.gate.Check(w, r, rbac.ResourceItem, rbac.ActionView, id); !ok {
		return
	}

	item, err := h.store.GetItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, item)
}

// UpdateItem changes an item
func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, rbac.ResourceItem, rbac.ActionUpdate, id)
	if !ok {
		return
	}

	var req Update
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	item, err := h.store.UpdateItem(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeItemUpdate, rbac.ResourceItem, id, "item updated")
	httputil.WriteSuccess(w, item)
}

// DeleteItem deletes an item with its sub-items
func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, rbac.ResourceItem, rbac.ActionDelete, id)
	if !ok {
		return
	}

	if err := h.store.DeleteItem(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeItemDelete, rbac.ResourceItem, id, "item deleted")
	httputil.WriteNoContent(w)
}

// ListSubItems lists the sub-items of an item
func (h *Handlers) ListSubItems(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParsePathUUIDOrError(w, r, "item_id")
	if !ok {
		return
	}
	if _, ok := h.gate.Check(w, r, rbac.ResourceSubItem, rbac.ActionViewAny, uuid.Nil); !ok {
		return
	}

	subItems, err := h.store.ListSubItems(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, subItems)
}

// CreateSubItem creates a sub-item under an item
func (h *Handlers) CreateSubItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParsePathUUIDOrError(w, r, "item_id")
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, rbac.ResourceSubItem, rbac.ActionCreate, uuid.Nil)
	if !ok {
		return
	}

	var req itemRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	subItem, err := h.store.CreateSubItem(r.Context(), itemID, req.Name, req.Description, subject.SubjectID())
	if err != nil {
		writeError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeSubItemCreate, rbac.ResourceSubItem, subItem.ID, "sub-item "+subItem.Name+" created")
	httputil.WriteCreated(w, subItem)
}

// subItemPath parses both ids of a sub-item route
func subItemPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	itemID, ok := httputil.ParsePathUUIDOrError(w, r, "item_id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return itemID, id, true
}

// GetSubItem retrieves a sub-item
func (h *Handlers) GetSubItem(w http.ResponseWriter, r *http.Request) {
	itemID, id, ok := subItemPath(w, r)
	if !ok {
		return
	}
	if _, ok := h.gate.Check(w, r, rbac.ResourceSubItem, rbac.ActionView, id); !ok {
		return
	}

	subItem, err := h.store.GetSubItem(r.Context(), itemID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, subItem)
}

// UpdateSubItem changes a sub-item
func (h *Handlers) UpdateSubItem(w http.ResponseWriter, r *http.Request) {
	itemID, id, ok := subItemPath(w, r)
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, rbac.ResourceSubItem, rbac.ActionUpdate, id)
	if !ok {
		return
	}

	var req Update
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	subItem, err := h.store.UpdateSubItem(r.Context(), itemID, id, req)
	if err != nil {
		writeError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeSubItemUpdate, rbac.ResourceSubItem, id, "sub-item updated")
	httputil.WriteSuccess(w, subItem)
}

// DeleteSubItem deletes a sub-item
func (h *Handlers) DeleteSubItem(w http.ResponseWriter, r *http.Request) {
	itemID, id, ok := subItemPath(w, r)
	if !ok {
		return
	}
	subject, ok := h.gate.Check(w, r, rbac.ResourceSubItem, rbac.ActionDelete, id)
	if !ok {
		return
	}

	if err := h.store.DeleteSubItem(r.Context(), itemID, id); err != nil {
		writeError(w, err)
		return
	}

	h.record(r.Context(), subject, audit.EventTypeSubItemDelete, rbac.ResourceSubItem, id, "sub-item deleted")
	httputil.WriteNoContent(w)
}
