package rbac

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrAlreadyExists           = errors.New("already exists")
	ErrForbidden               = errors.New("this action is unauthorized")
	ErrPermissionNotRegistered = errors.New("permission does not exist, call AddPermissions first")
	ErrRoleInUse               = errors.New("role is assigned to users")
	ErrPermissionInUse         = errors.New("permission is referenced by roles or users")
	ErrGuardMismatch           = errors.New("role and permission belong to different guards")
	ErrInvalidName             = errors.New("invalid name")
	ErrInvalidGuard            = errors.New("invalid guard")
)

// InvariantError rejects an operation that would break a referential
// invariant. Message is safe to show to the caller.
type InvariantError struct {
	Err     error
	Message string
}

func (e *InvariantError) Error() string {
	return e.Message
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

func roleInUse() error {
	return &InvariantError{Err: ErrRoleInUse, Message: "cannot delete role assigned to users"}
}

func permissionInUse(refs PermissionReferences) error {
	msg := "cannot delete permission assigned to roles"
	switch {
	case refs.Roles > 0 && refs.Users > 0:
		msg = "cannot delete permission assigned to roles and users"
	case refs.Users > 0:
		msg = "cannot delete permission assigned to users"
	}
	return &InvariantError{Err: ErrPermissionInUse, Message: msg}
}
