package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

const (
	itemColumns    = "id, name, description, created_by, created_at, updated_at"
	subItemColumns = "id, item_id, name, description, created_by, created_at, updated_at"
	maxNameLength  = 255
)

// Store handles item and sub-item persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new item store
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", ErrInvalidName
	case len(name) > maxNameLength:
		return "", ErrNameTooLong
	}
	return name, nil
}

func nullActor(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func scanItem(row interface{ Scan(...interface{}) error }) (*Item, error) {
	var it Item
	var createdBy uuid.NullUUID
	if err := row.Scan(&it.ID, &it.Name, &it.Description, &createdBy, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	if createdBy.Valid {
		it.CreatedBy = &createdBy.UUID
	}
	return &it, nil
}

func scanSubItem(row interface{ Scan(...interface{}) error }) (*SubItem, error) {
	var si SubItem
	var createdBy uuid.NullUUID
	if err := row.Scan(&si.ID, &si.ItemID, &si.Name, &si.Description, &createdBy, &si.CreatedAt, &si.UpdatedAt); err != nil {
		return nil, err
	}
	if createdBy.Valid {
		si.CreatedBy = &createdBy.UUID
	}
	return &si, nil
}

// applyUpdate validates u and returns the resulting name and description
func applyUpdate(name, description string, u Update) (string, string, error) {
	if u.Name == nil && u.Description == nil {
		return "", "", ErrNothingToUpdate
	}
	if u.Name != nil {
		n, err := validateName(*u.Name)
		if err != nil {
			return "", "", err
		}
		name = n
	}
	if u.Description != nil {
		description = strings.TrimSpace(*u.Description)
	}
	return name, description, nil
}

// CreateItem creates an item owned by createdBy
func (s *Store) CreateItem(ctx context.Context, name, description string, createdBy uuid.UUID) (*Item, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	it := &Item{ID: uuid.New(), Name: name, Description: strings.TrimSpace(description), CreatedAt: now, UpdatedAt: now}
	if createdBy != uuid.Nil {
		it.CreatedBy = &createdBy
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, it.ID, it.Name, it.Description, nullActor(createdBy), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return it, nil
}

// GetItem retrieves an item by ID
func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM items WHERE id = $1", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// ListItems lists items, newest first
func (s *Store) ListItems(ctx context.Context) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM items ORDER BY created_at DESC, name")
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := make([]*Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateItem changes the name or description of an item
func (s *Store) UpdateItem(ctx context.Context, id uuid.UUID, u Update) (*Item, error) {
	it, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	it.Name, it.Description, err = applyUpdate(it.Name, it.Description, u)
	if err != nil {
		return nil, err
	}
	it.UpdatedAt = s.now()

	res, err := s.db.ExecContext(ctx,
		"UPDATE items SET name = $1, description = $2, updated_at = $3 WHERE id = $4",
		it.Name, it.Description, it.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return it, nil
}

// DeleteItem deletes an item and its sub-items
func (s *Store) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return storage.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sub_items WHERE item_id = $1", id); err != nil {
			return fmt.Errorf("failed to delete sub-items: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM items WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// CreateSubItem creates a sub-item under itemID
func (s *Store) CreateSubItem(ctx context.Context, itemID uuid.UUID, name, description string, createdBy uuid.UUID) (*SubItem, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}

	now := s.now()
	si := &SubItem{ID: uuid.New(), ItemID: itemID, Name: name, Description: strings.TrimSpace(description), CreatedAt: now, UpdatedAt: now}
	if createdBy != uuid.Nil {
		si.CreatedBy = &createdBy
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sub_items (id, item_id, name, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, si.ID, si.ItemID, si.Name, si.Description, nullActor(createdBy), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create sub-item: %w", err)
	}
	return si, nil
}

// GetSubItem retrieves a sub-item of itemID
func (s *Store) GetSubItem(ctx context.Context, itemID, id uuid.UUID) (*SubItem, error) {
	si, err := scanSubItem(s.db.QueryRowContext(ctx,
		"SELECT "+subItemColumns+" FROM sub_items WHERE item_id = $1 AND id = $2", itemID, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sub-item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sub-item: %w", err)
	}
	return si, nil
}

// ListSubItems lists the sub-items of an item ordered by name
func (s *Store) ListSubItems(ctx context.Context, itemID uuid.UUID) ([]*SubItem, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+subItemColumns+" FROM sub_items WHERE item_id = $1 ORDER BY name, created_at",
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sub-items: %w", err)
	}
	defer rows.Close()

	subItems := make([]*SubItem, 0)
	for rows.Next() {
		si, err := scanSubItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sub-item: %w", err)
		}
		subItems = append(subItems, si)
	}
	return subItems, rows.Err()
}

// UpdateSubItem changes the name or description of a sub-item
func (s *Store) UpdateSubItem(ctx context.Context, itemID, id uuid.UUID, u Update) (*SubItem, error) {
	si, err := s.GetSubItem(ctx, itemID, id)
	if err != nil {
		return nil, err
	}
	si.Name, si.Description, err = applyUpdate(si.Name, si.Description, u)
	if err != nil {
		return nil, err
	}
	si.UpdatedAt = s.now()

	if _, err := s.db.ExecContext(ctx,
		"UPDATE sub_items SET name = $1, description = $2, updated_at = $3 WHERE item_id = $4 AND id = $5",
		si.Name, si.Description, si.UpdatedAt, itemID, id,
	); err != nil {
		return nil, fmt.Errorf("failed to update sub-item: %w", err)
	}
	return si, nil
}

// DeleteSubItem deletes a sub-item of itemID
func (s *Store) DeleteSubItem(ctx context.Context, itemID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sub_items WHERE item_id = $1 AND id = $2", itemID, id)
	if err != nil {
		return fmt.Errorf("failed to delete sub-item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sub-item %s: %w", id, ErrNotFound)
	}
	return nil
}
