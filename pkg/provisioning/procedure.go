package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

type cacheKey struct {
	name  string
	guard rbac.Guard
}

// RunCache remembers the permission ids and roles a provisioning run has
// already resolved. It lives for one run; entries are dropped when the run
// removes what they point at.
type RunCache struct {
	mu          sync.Mutex
	permissions map[cacheKey]uuid.UUID
	roles       map[cacheKey]*rbac.Role
}

// NewRunCache creates an empty run cache
func NewRunCache() *RunCache {
	return &RunCache{
		permissions: make(map[cacheKey]uuid.UUID),
		roles:       make(map[cacheKey]*rbac.Role),
	}
}

func (c *RunCache) permission(name string, guard rbac.Guard) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.permissions[cacheKey{name, guard}]
	return id, ok
}

func (c *RunCache) putPermission(name string, guard rbac.Guard, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permissions[cacheKey{name, guard}] = id
}

func (c *RunCache) forgetPermission(name string, guard rbac.Guard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.permissions, cacheKey{name, guard})
}

func (c *RunCache) role(name string, guard rbac.Guard) (*rbac.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.roles[cacheKey{name, guard}]
	return r, ok
}

func (c *RunCache) putRole(r *rbac.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles[cacheKey{r.Name, r.Guard}] = r
}

// Reset drops every entry. The runner calls it after a failed step so ids
// created by the rolled back transaction are not reused.
func (c *RunCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permissions = make(map[cacheKey]uuid.UUID)
	c.roles = make(map[cacheKey]*rbac.Role)
}

// Procedure provisions permissions and roles under one guard. Every call
// is idempotent, so a step may be re-run safely.
type Procedure struct {
	store *rbac.Store
	guard rbac.Guard
	cache *RunCache
}

// NewProcedure creates a procedure for guard. A nil cache gets a fresh one.
func NewProcedure(store *rbac.Store, guard rbac.Guard, cache *RunCache) *Procedure {
	if cache == nil {
		cache = NewRunCache()
	}
	return &Procedure{store: store, guard: guard, cache: cache}
}

// Guard returns a procedure for another guard sharing the same store and
// run cache
func (p *Procedure) Guard(guard rbac.Guard) *Procedure {
	return &Procedure{store: p.store, guard: guard, cache: p.cache}
}

// CurrentGuard returns the guard the procedure provisions
func (p *Procedure) CurrentGuard() rbac.Guard {
	return p.guard
}

// AddPermissions creates the named permissions that do not exist yet
func (p *Procedure) AddPermissions(ctx context.Context, names ...string) error {
	for _, name := range names {
		perm, err := p.store.AddPermission(ctx, name, p.guard)
		if err != nil {
			return fmt.Errorf("failed to add permission %q: %w", name, err)
		}
		p.cache.putPermission(perm.Name, p.guard, perm.ID)
	}
	return nil
}

// RequireAbsent fails with rbac.ErrAlreadyExists when any named permission
// already exists under the guard
func (p *Procedure) RequireAbsent(ctx context.Context, names ...string) error {
	for _, name := range names {
		_, err := p.store.FindPermission(ctx, name, p.guard)
		if err == nil {
			return fmt.Errorf("permission %q (guard %s): %w", name, p.guard, rbac.ErrAlreadyExists)
		}
		if !errors.Is(err, rbac.ErrNotFound) {
			return fmt.Errorf("failed to look up permission %q: %w", name, err)
		}
	}
	return nil
}

// RemovePermissions deletes the named permissions together with their role
// and user assignments. Unknown names are ignored.
func (p *Procedure) RemovePermissions(ctx context.Context, names ...string) error {
	if _, err := p.store.RemovePermissions(ctx, names, p.guard); err != nil {
		return fmt.Errorf("failed to remove permissions: %w", err)
	}
	for _, name := range names {
		p.cache.forgetPermission(name, p.guard)
	}
	return nil
}

// EnsureRole returns the named role, creating it when missing
func (p *Procedure) EnsureRole(ctx context.Context, name string) (*rbac.Role, error) {
	if r, ok := p.cache.role(name, p.guard); ok {
		return r, nil
	}
	r, err := p.store.EnsureRole(ctx, name, p.guard)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure role %q: %w", name, err)
	}
	p.cache.putRole(r)
	return r, nil
}

func (p *Procedure) permissionID(ctx context.Context, name string) (uuid.UUID, error) {
	if id, ok := p.cache.permission(name, p.guard); ok {
		return id, nil
	}
	perm, err := p.store.FindPermission(ctx, name, p.guard)
	if err != nil {
		return uuid.Nil, err
	}
	p.cache.putPermission(perm.Name, p.guard, perm.ID)
	return perm.ID, nil
}

// Assign gives the named permissions to role, creating the role when
// missing. Every permission must already exist under the guard; the first
// unknown one fails the call with rbac.ErrPermissionNotRegistered.
func (p *Procedure) Assign(ctx context.Context, role string, names ...string) error {
	r, err := p.EnsureRole(ctx, role)
	if err != nil {
		return err
	}

	ids := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		id, err := p.permissionID(ctx, name)
		if errors.Is(err, rbac.ErrNotFound) {
			return fmt.Errorf("%w: %q (guard %s)", rbac.ErrPermissionNotRegistered, name, p.guard)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve permission %q: %w", name, err)
		}
		ids = append(ids, id)
	}

	if _, err := p.store.AssignPermissions(ctx, r.ID, ids...); err != nil {
		return fmt.Errorf("failed to assign permissions to %q: %w", role, err)
	}
	return nil
}

// Unassign takes the named permissions away from role. A missing role makes
// it a no-op and unknown permission names are skipped.
func (p *Procedure) Unassign(ctx context.Context, role string, names ...string) error {
	r, ok := p.cache.role(role, p.guard)
	if !ok {
		var err error
		r, err = p.store.FindRole(ctx, role, p.guard)
		if errors.Is(err, rbac.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find role %q: %w", role, err)
		}
	}

	ids := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		id, err := p.permissionID(ctx, name)
		if errors.Is(err, rbac.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to resolve permission %q: %w", name, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}

	if _, err := p.store.RevokePermissions(ctx, r.ID, ids...); err != nil {
		return fmt.Errorf("failed to unassign permissions from %q: %w", role, err)
	}
	return nil
}
