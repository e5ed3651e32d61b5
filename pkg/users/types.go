package users

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidName  = errors.New("name is required")
	ErrInvalidEmail = errors.New("invalid email address")
)

// User is an account that can authenticate under any guard
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Actor is a user authenticated under one guard for the duration of a
// request
type Actor struct {
	User  *User
	Guard rbac.Guard
}

// NewActor binds user to guard
func NewActor(user *User, guard rbac.Guard) *Actor {
	return &Actor{User: user, Guard: guard}
}

// SubjectID returns the user ID
func (a *Actor) SubjectID() uuid.UUID {
	return a.User.ID
}

// SubjectGuard returns the guard the user authenticated under
func (a *Actor) SubjectGuard() rbac.Guard {
	return a.Guard
}
