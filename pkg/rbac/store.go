package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Invalidator drops cached effective permission sets
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Store handles RBAC data persistence
type Store struct {
	db          storage.DBTX
	pool        *sql.DB // nil when bound to a transaction
	invalidator Invalidator
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithInvalidator registers the cache dropped after every committed write
func WithInvalidator(inv Invalidator) StoreOption {
	return func(s *Store) {
		s.invalidator = inv
	}
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, pool: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewReadStore creates a store for reads only, such as one over a read
// replica. It never invalidates caches.
func NewReadStore(db storage.DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a store bound to tx. Writes made through it do not
// invalidate caches; the owner of the transaction calls Invalidate after
// commit.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx, invalidator: s.invalidator}
}

// InTx runs fn against a transaction-bound store. A store already bound to a
// transaction runs fn in place.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	if err := storage.RunInTx(ctx, s.pool, func(tx *sql.Tx) error {
		return fn(s.WithTx(tx))
	}); err != nil {
		return err
	}
	s.Invalidate(ctx)
	return nil
}

// Invalidate drops cached permission sets
func (s *Store) Invalidate(ctx context.Context) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx)
	}
}

func (s *Store) changed(ctx context.Context) {
	if s.pool != nil {
		s.Invalidate(ctx)
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const (
	permissionColumns = "id, name, guard, created_at, updated_at"
	roleColumns       = "id, name, guard, created_at, updated_at"
)

func scanPermission(row scanner) (*Permission, error) {
	var p Permission
	var guard string
	if err := row.Scan(&p.ID, &p.Name, &guard, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Guard = Guard(guard)
	return &p, nil
}

func scanRole(row scanner) (*Role, error) {
	var r Role
	var guard string
	if err := row.Scan(&r.ID, &r.Name, &guard, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Guard = Guard(guard)
	return &r, nil
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...interface{}) ([]*Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	permissions := make([]*Permission, 0)
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}
	return permissions, rows.Err()
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...interface{}) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	roles := make([]*Role, 0)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func validateNameAndGuard(name string, guard Guard, validate func(string) error) error {
	if err := validate(name); err != nil {
		return err
	}
	return guard.Validate()
}

// AddPermission registers a permission under guard. Registering an existing
// (name, guard) pair returns the stored permission.
func (s *Store) AddPermission(ctx context.Context, name string, guard Guard) (*Permission, error) {
	name = strings.TrimSpace(name)
	if err := validateNameAndGuard(name, guard, ValidatePermissionName); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, name, guard, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name, guard) DO NOTHING
	`, uuid.New(), name, string(guard), now)
	if err != nil {
		return nil, fmt.Errorf("failed to add permission: %w", err)
	}

	return s.FindPermission(ctx, name, guard)
}

// CreatePermission creates a new permission. An existing (name, guard) pair
// is an error.
func (s *Store) CreatePermission(ctx context.Context, name string, guard Guard) (*Permission, error) {
	name = strings.TrimSpace(name)
	if err := validateNameAndGuard(name, guard, ValidatePermissionName); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, name, guard, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name, guard) DO NOTHING
	`, uuid.New(), name, string(guard), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("permission %q (guard %s): %w", name, guard, ErrAlreadyExists)
	}
	return s.FindPermission(ctx, name, guard)
}

// FindPermission looks a permission up by name within guard
func (s *Store) FindPermission(ctx context.Context, name string, guard Guard) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		"SELECT "+permissionColumns+" FROM permissions WHERE name = $1 AND guard = $2",
		name, string(guard),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("permission %q (guard %s): %w", name, guard, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find permission: %w", err)
	}
	return p, nil
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, id uuid.UUID) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		"SELECT "+permissionColumns+" FROM permissions WHERE id = $1", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("permission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// ListPermissions lists permissions of guard, or of every guard when guard is empty
func (s *Store) ListPermissions(ctx context.Context, guard Guard) ([]*Permission, error) {
	return s.queryPermissions(ctx,
		"SELECT "+permissionColumns+" FROM permissions WHERE ($1 = '' OR guard = $1) ORDER BY guard, name",
		string(guard),
	)
}

// RenamePermission changes the name of a permission within its guard
func (s *Store) RenamePermission(ctx context.Context, id uuid.UUID, name string) (*Permission, error) {
	name = strings.TrimSpace(name)
	if err := ValidatePermissionName(name); err != nil {
		return nil, err
	}

	var renamed *Permission
	err := s.InTx(ctx, func(tx *Store) error {
		p, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if existing, err := tx.FindPermission(ctx, name, p.Guard); err == nil && existing.ID != id {
			return fmt.Errorf("permission %q (guard %s): %w", name, p.Guard, ErrAlreadyExists)
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		p.Name = name
		p.UpdatedAt = time.Now().UTC()
		if _, err := tx.db.ExecContext(ctx,
			"UPDATE permissions SET name = $1, updated_at = $2 WHERE id = $3",
			p.Name, p.UpdatedAt, id,
		); err != nil {
			return fmt.Errorf("failed to rename permission: %w", err)
		}
		renamed = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

// PermissionReferences counts the roles and users referencing a permission
func (s *Store) PermissionReferences(ctx context.Context, id uuid.UUID) (PermissionReferences, error) {
	var refs PermissionReferences
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM role_has_permissions WHERE permission_id = $1),
			(SELECT COUNT(*) FROM user_has_permissions WHERE permission_id = $1)
	`, id).Scan(&refs.Roles, &refs.Users)
	if err != nil {
		return refs, fmt.Errorf("failed to count permission references: %w", err)
	}
	return refs, nil
}

// DeletePermission deletes a permission that no role and no user references
func (s *Store) DeletePermission(ctx context.Context, id uuid.UUID) error {
	return s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.GetPermission(ctx, id); err != nil {
			return err
		}
		refs, err := tx.PermissionReferences(ctx, id)
		if err != nil {
			return err
		}
		if refs.InUse() {
			return permissionInUse(refs)
		}
		if _, err := tx.db.ExecContext(ctx, "DELETE FROM permissions WHERE id = $1", id); err != nil {
			return fmt.Errorf("failed to delete permission: %w", err)
		}
		return nil
	})
}

// RemovePermissions deletes the named permissions of guard together with
// every role and user assignment referencing them. Unknown names are
// skipped. It returns the number of permissions removed.
func (s *Store) RemovePermissions(ctx context.Context, names []string, guard Guard) (int, error) {
	removed := 0
	err := s.InTx(ctx, func(tx *Store) error {
		for _, name := range names {
			p, err := tx.FindPermission(ctx, strings.TrimSpace(name), guard)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			for _, stmt := range []string{
				"DELETE FROM role_has_permissions WHERE permission_id = $1",
				"DELETE FROM user_has_permissions WHERE permission_id = $1",
				"DELETE FROM permissions WHERE id = $1",
			} {
				if _, err := tx.db.ExecContext(ctx, stmt, p.ID); err != nil {
					return fmt.Errorf("failed to remove permission %q: %w", p.Name, err)
				}
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// FindRole looks a role up by name within guard
func (s *Store) FindRole(ctx context.Context, name string, guard Guard) (*Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE name = $1 AND guard = $2",
		name, string(guard),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %q (guard %s): %w", name, guard, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find role: %w", err)
	}
	return r, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE id = $1", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

// ListRoles lists roles of guard, or of every guard when guard is empty
func (s *Store) ListRoles(ctx context.Context, guard Guard) ([]*Role, error) {
	return s.queryRoles(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE ($1 = '' OR guard = $1) ORDER BY guard, name",
		string(guard),
	)
}

func (s *Store) insertRole(ctx context.Context, name string, guard Guard) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, guard, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name, guard) DO NOTHING
	`, uuid.New(), name, string(guard), now)
	if err != nil {
		return false, fmt.Errorf("failed to create role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create role: %w", err)
	}
	return n > 0, nil
}

// CreateRole creates a new role. An existing (name, guard) pair is an error.
func (s *Store) CreateRole(ctx context.Context, name string, guard Guard) (*Role, error) {
	name = strings.TrimSpace(name)
	if err := validateNameAndGuard(name, guard, ValidateRoleName); err != nil {
		return nil, err
	}

	created, err := s.insertRole(ctx, name, guard)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("role %q (guard %s): %w", name, guard, ErrAlreadyExists)
	}
	return s.FindRole(ctx, name, guard)
}

// EnsureRole returns the role named name within guard, creating it if absent
func (s *Store) EnsureRole(ctx context.Context, name string, guard Guard) (*Role, error) {
	name = strings.TrimSpace(name)
	if err := validateNameAndGuard(name, guard, ValidateRoleName); err != nil {
		return nil, err
	}

	if _, err := s.insertRole(ctx, name, guard); err != nil {
		return nil, err
	}
	return s.FindRole(ctx, name, guard)
}

// RenameRole changes the name of a role within its guard
func (s *Store) RenameRole(ctx context.Context, id uuid.UUID, name string) (*Role, error) {
	name = strings.TrimSpace(name)
	if err := ValidateRoleName(name); err != nil {
		return nil, err
	}

	var renamed *Role
	err := s.InTx(ctx, func(tx *Store) error {
		r, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if existing, err := tx.FindRole(ctx, name, r.Guard); err == nil && existing.ID != id {
			return fmt.Errorf("role %q (guard %s): %w", name, r.Guard, ErrAlreadyExists)
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		r.Name = name
		r.UpdatedAt = time.Now().UTC()
		if _, err := tx.db.ExecContext(ctx,
			"UPDATE roles SET name = $1, updated_at = $2 WHERE id = $3",
			r.Name, r.UpdatedAt, id,
		); err != nil {
			return fmt.Errorf("failed to rename role: %w", err)
		}
		renamed = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

// CountRoleHolders counts the users holding a role
func (s *Store) CountRoleHolders(ctx context.Context, roleID uuid.UUID) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_has_roles WHERE role_id = $1", roleID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count role holders: %w", err)
	}
	return count, nil
}

// DeleteRole deletes a role no user holds, along with its permission
// assignments. A role held by users is left untouched.
func (s *Store) DeleteRole(ctx context.Context, id uuid.UUID) error {
	return s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.GetRole(ctx, id); err != nil {
			return err
		}
		holders, err := tx.CountRoleHolders(ctx, id)
		if err != nil {
			return err
		}
		if holders > 0 {
			return roleInUse()
		}
		if _, err := tx.db.ExecContext(ctx, "DELETE FROM role_has_permissions WHERE role_id = $1", id); err != nil {
			return fmt.Errorf("failed to delete role permissions: %w", err)
		}
		if _, err := tx.db.ExecContext(ctx, "DELETE FROM roles WHERE id = $1", id); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return nil
	})
}

// AssignPermissions grants permissions to a role. Pairs already present are
// left alone. Every permission must belong to the role's guard. It returns
// the number of pairs inserted.
func (s *Store) AssignPermissions(ctx context.Context, roleID uuid.UUID, permissionIDs ...uuid.UUID) (int, error) {
	inserted := 0
	err := s.InTx(ctx, func(tx *Store) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		for _, permissionID := range permissionIDs {
			p, err := tx.GetPermission(ctx, permissionID)
			if err != nil {
				return err
			}
			if p.Guard != role.Guard {
				return fmt.Errorf("role %q (guard %s), permission %q (guard %s): %w",
					role.Name, role.Guard, p.Name, p.Guard, ErrGuardMismatch)
			}

			res, err := tx.db.ExecContext(ctx, `
				INSERT INTO role_has_permissions (role_id, permission_id, created_at)
				VALUES ($1, $2, $3)
				ON CONFLICT (role_id, permission_id) DO NOTHING
			`, roleID, permissionID, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("failed to assign permission: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// RevokePermissions removes permissions from a role and returns the number
// of pairs deleted
func (s *Store) RevokePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs ...uuid.UUID) (int, error) {
	deleted := 0
	for _, permissionID := range permissionIDs {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM role_has_permissions WHERE role_id = $1 AND permission_id = $2",
			roleID, permissionID,
		)
		if err != nil {
			return deleted, fmt.Errorf("failed to revoke permission: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	if deleted > 0 {
		s.changed(ctx)
	}
	return deleted, nil
}

// RolePermissions lists the permissions of a role
func (s *Store) RolePermissions(ctx context.Context, roleID uuid.UUID) ([]*Permission, error) {
	return s.queryPermissions(ctx, `
		SELECT p.id, p.name, p.guard, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_has_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`, roleID)
}

func (s *Store) requireUser(ctx context.Context, userID uuid.UUID) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = $1", userID).Scan(&count); err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// AssignRoleToUser grants a role to a user. Granting a held role is a no-op.
func (s *Store) AssignRoleToUser(ctx context.Context, userID, roleID uuid.UUID) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_has_roles (user_id, role_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, userID, roleID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	s.changed(ctx)
	return nil
}

// RevokeRoleFromUser removes a role from a user
func (s *Store) RevokeRoleFromUser(ctx context.Context, userID, roleID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM user_has_roles WHERE user_id = $1 AND role_id = $2",
		userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s role %s: %w", userID, roleID, ErrNotFound)
	}
	s.changed(ctx)
	return nil
}

// UserRoles lists the roles a user holds under guard, or under every guard
// when guard is empty
func (s *Store) UserRoles(ctx context.Context, userID uuid.UUID, guard Guard) ([]*Role, error) {
	return s.queryRoles(ctx, `
		SELECT r.id, r.name, r.guard, r.created_at, r.updated_at
		FROM roles r
		JOIN user_has_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 AND ($2 = '' OR r.guard = $2)
		ORDER BY r.guard, r.name
	`, userID, string(guard))
}

// GrantPermissionToUser grants a permission directly to a user. Granting a
// held permission is a no-op.
func (s *Store) GrantPermissionToUser(ctx context.Context, userID, permissionID uuid.UUID) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	if _, err := s.GetPermission(ctx, permissionID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_has_permissions (user_id, permission_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, permission_id) DO NOTHING
	`, userID, permissionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	s.changed(ctx)
	return nil
}

// RevokePermissionFromUser removes a directly granted permission from a user
func (s *Store) RevokePermissionFromUser(ctx context.Context, userID, permissionID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM user_has_permissions WHERE user_id = $1 AND permission_id = $2",
		userID, permissionID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s permission %s: %w", userID, permissionID, ErrNotFound)
	}
	s.changed(ctx)
	return nil
}

// UserDirectPermissions lists the permissions granted directly to a user
// under guard, or under every guard when guard is empty
func (s *Store) UserDirectPermissions(ctx context.Context, userID uuid.UUID, guard Guard) ([]*Permission, error) {
	return s.queryPermissions(ctx, `
		SELECT p.id, p.name, p.guard, p.created_at, p.updated_at
		FROM permissions p
		JOIN user_has_permissions up ON up.permission_id = p.id
		WHERE up.user_id = $1 AND ($2 = '' OR p.guard = $2)
		ORDER BY p.guard, p.name
	`, userID, string(guard))
}

// DetachUser removes every role and direct permission of a user
func (s *Store) DetachUser(ctx context.Context, userID uuid.UUID) error {
	for _, stmt := range []string{
		"DELETE FROM user_has_roles WHERE user_id = $1",
		"DELETE FROM user_has_permissions WHERE user_id = $1",
	} {
		if _, err := s.db.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("failed to detach user: %w", err)
		}
	}
	s.changed(ctx)
	return nil
}

// EffectivePermissionNames returns the union of the role-derived and direct
// permission names of a user within guard
func (s *Store) EffectivePermissionNames(ctx context.Context, userID uuid.UUID, guard Guard) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name
		FROM permissions p
		JOIN role_has_permissions rp ON rp.permission_id = p.id
		JOIN user_has_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1 AND p.guard = $2
		UNION
		SELECT p.name
		FROM permissions p
		JOIN user_has_permissions up ON up.permission_id = p.id
		WHERE up.user_id = $1 AND p.guard = $2
	`, userID, string(guard))
	if err != nil {
		return nil, fmt.Errorf("failed to query effective permissions: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// HasRole reports whether a user holds the named role within guard
func (s *Store) HasRole(ctx context.Context, userID uuid.UUID, role string, guard Guard) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM user_has_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND r.name = $2 AND r.guard = $3
	`, userID, role, string(guard)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return count > 0, nil
}
