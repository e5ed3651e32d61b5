package items

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storagetest"
	"github.com/platinummonkey/gatekeeper/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db := storagetest.SQLite(t, users.Migrations(), Migrations())
	return NewStore(db), db
}

func strPtr(s string) *string { return &s }

func TestStore_ItemLifecycle(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	item, err := store.CreateItem(ctx, "  Widget ", " first ", uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, "Widget", item.Name)
	assert.Equal(t, "first", item.Description)
	assert.Nil(t, item.CreatedBy)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Name, got.Name)
	assert.Nil(t, got.CreatedBy)

	updated, err := store.UpdateItem(ctx, item.ID, Update{Description: strPtr("second")})
	require.NoError(t, err)
	assert.Equal(t, "Widget", updated.Name)
	assert.Equal(t, "second", updated.Description)

	_, err = store.UpdateItem(ctx, item.ID, Update{})
	assert.ErrorIs(t, err, ErrNothingToUpdate)
	_, err = store.UpdateItem(ctx, item.ID, Update{Name: strPtr(" ")})
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = store.UpdateItem(ctx, uuid.New(), Update{Name: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.CreateItem(ctx, "", "", uuid.Nil)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = store.CreateItem(ctx, strings.Repeat("a", 256), "", uuid.Nil)
	assert.ErrorIs(t, err, ErrNameTooLong)

	_, err = store.GetItem(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreatedBy(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()

	alice, err := users.NewStore(db, nil).Create(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)

	item, err := store.CreateItem(ctx, "Widget", "", alice.ID)
	require.NoError(t, err)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CreatedBy)
	assert.Equal(t, alice.ID, *got.CreatedBy)
}

func TestStore_SubItems(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	item, err := store.CreateItem(ctx, "Widget", "", uuid.Nil)
	require.NoError(t, err)
	other, err := store.CreateItem(ctx, "Gadget", "", uuid.Nil)
	require.NoError(t, err)

	bolt, err := store.CreateSubItem(ctx, item.ID, "bolt", "", uuid.Nil)
	require.NoError(t, err)
	_, err = store.CreateSubItem(ctx, item.ID, "axle", "", uuid.Nil)
	require.NoError(t, err)
	_, err = store.CreateSubItem(ctx, other.ID, "gear", "", uuid.Nil)
	require.NoError(t, err)

	_, err = store.CreateSubItem(ctx, uuid.New(), "orphan", "", uuid.Nil)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := store.ListSubItems(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "axle", list[0].Name)
	assert.Equal(t, "bolt", list[1].Name)

	// a sub-item is only reachable through its own item
	_, err = store.GetSubItem(ctx, other.ID, bolt.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteSubItem(ctx, other.ID, bolt.ID), ErrNotFound)

	updated, err := store.UpdateSubItem(ctx, item.ID, bolt.ID, Update{Name: strPtr("nut")})
	require.NoError(t, err)
	assert.Equal(t, "nut", updated.Name)

	require.NoError(t, store.DeleteSubItem(ctx, item.ID, bolt.ID))
	_, err = store.GetSubItem(ctx, item.ID, bolt.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteItemRemovesSubItems(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()

	item, err := store.CreateItem(ctx, "Widget", "", uuid.Nil)
	require.NoError(t, err)
	_, err = store.CreateSubItem(ctx, item.ID, "bolt", "", uuid.Nil)
	require.NoError(t, err)

	require.NoError(t, store.DeleteItem(ctx, item.ID))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sub_items").Scan(&count))
	assert.Zero(t, count)

	_, err = store.ListSubItems(ctx, item.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteItem(ctx, item.ID), ErrNotFound)
}

func TestStore_ListItemsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM items").WillReturnError(errors.New("connection reset"))

	_, err = NewStore(db).ListItems(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list items")
	assert.NoError(t, mock.ExpectationsWereMet())
}
