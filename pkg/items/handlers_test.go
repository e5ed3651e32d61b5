package items

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storagetest"
	"github.com/platinummonkey/gatekeeper/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerEnv struct {
	t      *testing.T
	router *mux.Router
	audit  *audit.DBLogger
	admin  *users.Actor
	editor *users.Actor
}

func setupHandlers(t *testing.T) *handlerEnv {
	t.Helper()
	ctx := context.Background()
	db := storagetest.SQLite(t, users.Migrations(), rbac.Migrations(), Migrations(), audit.Migrations())
	rbacStore := rbac.NewStore(db)
	userStore := users.NewStore(db, rbacStore)
	auditLogger, err := audit.NewDBLogger(db)
	require.NoError(t, err)

	gate := rbac.NewGate(rbac.NewEvaluator(rbacStore), auditLogger, nil)
	router := mux.NewRouter()
	NewHandlers(NewStore(db), gate, auditLogger, nil).RegisterRoutes(router)

	admin, err := userStore.Create(ctx, "Admin", "admin@example.com")
	require.NoError(t, err)
	superAdmin, err := rbacStore.EnsureRole(ctx, rbac.SuperAdminRole, rbac.GuardWeb)
	require.NoError(t, err)
	require.NoError(t, rbacStore.AssignRoleToUser(ctx, admin.ID, superAdmin.ID))

	// editors may read and change items and read sub-items, nothing else
	editor, err := userStore.Create(ctx, "Editor", "editor@example.com")
	require.NoError(t, err)
	role, err := rbacStore.EnsureRole(ctx, "editor", rbac.GuardWeb)
	require.NoError(t, err)
	for _, name := range []string{"sample.items.index", "sample.items.show", "sample.items.create", "sample.items.update", "sample.sub_items.index"} {
		p, err := rbacStore.AddPermission(ctx, name, rbac.GuardWeb)
		require.NoError(t, err)
		_, err = rbacStore.AssignPermissions(ctx, role.ID, p.ID)
		require.NoError(t, err)
	}
	require.NoError(t, rbacStore.AssignRoleToUser(ctx, editor.ID, role.ID))

	return &handlerEnv{
		t:      t,
		router: router,
		audit:  auditLogger,
		admin:  users.NewActor(admin, rbac.GuardWeb),
		editor: users.NewActor(editor, rbac.GuardWeb),
	}
}

func (e *handlerEnv) do(subject rbac.Subject, method, path string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != nil {
		req = req.WithContext(rbac.WithSubject(req.Context(), subject))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}

func TestHandlers_ItemLifecycle(t *testing.T) {
	env := setupHandlers(t)

	rec := env.do(env.editor, "POST", "/items", map[string]string{"name": "Widget", "description": "blue"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item Item
	decode(t, rec, &item)
	require.NotNil(t, item.CreatedBy)
	assert.Equal(t, env.editor.User.ID, *item.CreatedBy)

	rec = env.do(env.editor, "GET", "/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Item
	decode(t, rec, &list)
	assert.Len(t, list, 1)

	rec = env.do(env.editor, "PUT", "/items/"+item.ID.String(), map[string]string{"name": "Gizmo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(env.editor, "GET", "/items/"+item.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &item)
	assert.Equal(t, "Gizmo", item.Name)
	assert.Equal(t, "blue", item.Description)

	rec = env.do(env.editor, "POST", "/items", map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// the editor role does not carry sample.items.delete
	rec = env.do(env.editor, "DELETE", "/items/"+item.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(env.admin, "DELETE", "/items/"+item.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(env.admin, "GET", "/items/"+item.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	events, err := env.audit.Search(context.Background(), audit.SearchFilter{
		EventTypes: []audit.EventType{audit.EventTypeItemCreate, audit.EventTypeItemUpdate, audit.EventTypeItemDelete},
	})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestHandlers_SubItems(t *testing.T) {
	env := setupHandlers(t)

	rec := env.do(env.admin, "POST", "/items", map[string]string{"name": "Widget"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var item Item
	decode(t, rec, &item)
	base := "/items/" + item.ID.String() + "/sub-items"

	rec = env.do(env.editor, "POST", base, map[string]string{"name": "bolt"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(env.admin, "POST", base, map[string]string{"name": "bolt"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub SubItem
	decode(t, rec, &sub)
	assert.Equal(t, item.ID, sub.ItemID)

	rec = env.do(env.editor, "GET", base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []SubItem
	decode(t, rec, &list)
	assert.Len(t, list, 1)

	rec = env.do(env.editor, "GET", base+"/"+sub.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(env.admin, "PUT", base+"/"+sub.ID.String(), map[string]string{"description": "m8"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(env.admin, "PUT", base+"/"+sub.ID.String(), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(env.admin, "GET", base+"/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(env.admin, "DELETE", base+"/"+sub.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(env.admin, "DELETE", base+"/"+sub.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_Unauthenticated(t *testing.T) {
	env := setupHandlers(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(nil, "GET", "/items", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(nil, "POST", "/items", map[string]string{"name": "x"}).Code)
}

func TestHandlers_GuardIsolation(t *testing.T) {
	env := setupHandlers(t)

	// the editor's role exists only under the web guard
	api := users.NewActor(env.editor.User, rbac.GuardAPI)
	assert.Equal(t, http.StatusForbidden, env.do(api, "GET", "/items", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(env.editor, "GET", "/items", nil).Code)
}
