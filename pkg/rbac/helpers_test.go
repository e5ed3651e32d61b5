package rbac

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storagetest"
	"github.com/stretchr/testify/require"
)

// testUsers is the minimal users table the RBAC tables reference
var testUsers = storage.Component{
	Name: "users",
	Migrations: []storage.Migration{{
		Version:     1,
		Description: "Create minimal users table",
		SQL:         `CREATE TABLE users (id UUID PRIMARY KEY, name VARCHAR(255) NOT NULL)`,
	}},
}

type countingInvalidator struct {
	calls atomic.Int32
}

func (c *countingInvalidator) Invalidate(ctx context.Context) {
	c.calls.Add(1)
}

type testSubject struct {
	id    uuid.UUID
	guard Guard
}

func (s testSubject) SubjectID() uuid.UUID { return s.id }
func (s testSubject) SubjectGuard() Guard  { return s.guard }

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return storagetest.SQLite(t, testUsers, Migrations())
}

func setupTestStore(t *testing.T, opts ...StoreOption) (*Store, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewStore(db, opts...), db
}

func createUser(t *testing.T, db *sql.DB, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec("INSERT INTO users (id, name) VALUES ($1, $2)", id, name)
	require.NoError(t, err)
	return id
}

func mustPermission(t *testing.T, store *Store, name string, guard Guard) *Permission {
	t.Helper()
	p, err := store.AddPermission(context.Background(), name, guard)
	require.NoError(t, err)
	return p
}

func mustRole(t *testing.T, store *Store, name string, guard Guard, permissions ...*Permission) *Role {
	t.Helper()
	ctx := context.Background()
	role, err := store.EnsureRole(ctx, name, guard)
	require.NoError(t, err)
	for _, p := range permissions {
		_, err := store.AssignPermissions(ctx, role.ID, p.ID)
		require.NoError(t, err)
	}
	return role
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
