package rbac

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Guard names an authentication context. Permissions and roles are
// partitioned by guard; an actor authenticated under one guard never sees
// grants made under another.
type Guard string

const (
	GuardWeb Guard = "web" // session authenticated browser traffic
	GuardAPI Guard = "api" // bearer token traffic
)

var guardPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// String returns the guard name
func (g Guard) String() string {
	return string(g)
}

// Validate checks the guard name format
func (g Guard) Validate() error {
	if !guardPattern.MatchString(string(g)) {
		return fmt.Errorf("%w: %q", ErrInvalidGuard, string(g))
	}
	return nil
}

// ParseGuard trims and validates a guard name
func ParseGuard(s string) (Guard, error) {
	g := Guard(strings.TrimSpace(s))
	if err := g.Validate(); err != nil {
		return "", err
	}
	return g, nil
}

// SuperAdminRole is the role whose holders pass every permission check
// under the guard the role belongs to.
const SuperAdminRole = "super-admin"

// Permission is an atomic named capability within one guard
type Permission struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Guard     Guard     `json:"guard"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is a named bundle of permissions within one guard
type Role struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Guard     Guard     `json:"guard"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RolePermission addresses one role-permission assignment
type RolePermission struct {
	RoleID       uuid.UUID `json:"role_id"`
	PermissionID uuid.UUID `json:"permission_id"`
}

// UserRole addresses one role held by a user
type UserRole struct {
	UserID uuid.UUID `json:"user_id"`
	RoleID uuid.UUID `json:"role_id"`
}

// UserPermission addresses one permission granted directly to a user
type UserPermission struct {
	UserID       uuid.UUID `json:"user_id"`
	PermissionID uuid.UUID `json:"permission_id"`
}

// PermissionReferences counts what keeps a permission alive
type PermissionReferences struct {
	Roles int `json:"roles"`
	Users int `json:"users"`
}

// InUse reports whether anything still references the permission
func (r PermissionReferences) InUse() bool {
	return r.Roles > 0 || r.Users > 0
}

// Resource is a protected resource type
type Resource string

const (
	ResourceItem           Resource = "item"
	ResourceSubItem        Resource = "sub_item"
	ResourceRole           Resource = "role"
	ResourcePermission     Resource = "permission"
	ResourceUser           Resource = "user"
	ResourceRolePermission Resource = "role_permission"
	ResourceUserPermission Resource = "user_permission"
	ResourceUserRole       Resource = "user_role"
)

// Action is one of the canonical actions a policy answers
type Action string

const (
	ActionViewAny Action = "viewAny"
	ActionView    Action = "view"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
)

// Actions lists the canonical actions in display order
var Actions = []Action{ActionViewAny, ActionView, ActionCreate, ActionUpdate, ActionDelete}

var actionSuffixes = map[Action]string{
	ActionViewAny: "index",
	ActionView:    "show",
	ActionCreate:  "create",
	ActionUpdate:  "update",
	ActionDelete:  "delete",
}

// Suffix returns the permission name suffix of the action
func (a Action) Suffix() (string, bool) {
	s, ok := actionSuffixes[a]
	return s, ok
}

// ParseAction accepts either the action name or its permission suffix
func ParseAction(s string) (Action, bool) {
	for action, suffix := range actionSuffixes {
		if s == string(action) || s == suffix {
			return action, true
		}
	}
	return "", false
}

var (
	permissionNamePattern = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`)
	roleNamePattern       = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// ValidatePermissionName checks the dotted permission name format
func ValidatePermissionName(name string) error {
	if !permissionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: permission %q", ErrInvalidName, name)
	}
	return nil
}

// ValidateRoleName checks the role name format
func ValidateRoleName(name string) error {
	if !roleNamePattern.MatchString(name) {
		return fmt.Errorf("%w: role %q", ErrInvalidName, name)
	}
	return nil
}
