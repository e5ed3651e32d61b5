package items

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidName     = errors.New("name is required")
	ErrNameTooLong     = errors.New("name must be at most 255 characters")
	ErrNothingToUpdate = errors.New("no fields to update")
)

// Item is the sample top-level resource
type Item struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SubItem belongs to exactly one item and is deleted with it
type SubItem struct {
	ID          uuid.UUID  `json:"id"`
	ItemID      uuid.UUID  `json:"item_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Update carries the fields to change; nil fields are left as they are
type Update struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}
