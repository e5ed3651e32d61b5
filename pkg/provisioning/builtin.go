package provisioning

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// BuiltinGuards are the guards the built-in steps provision
var BuiltinGuards = []rbac.Guard{rbac.GuardWeb, rbac.GuardAPI}

// permissionsFor returns the canonical permission names of resources
func permissionsFor(resources ...rbac.Resource) []string {
	policies := make(map[rbac.Resource]rbac.Policy)
	for _, p := range rbac.DefaultPolicies() {
		policies[p.Resource] = p
	}

	var names []string
	for _, r := range resources {
		names = append(names, policies[r].PermissionNames()...)
	}
	return names
}

// grantToSuperAdmin builds a step that adds names under every built-in
// guard and assigns them to super-admin. Down removes the permissions and
// leaves the role in place.
func grantToSuperAdmin(id, description string, names []string) Step {
	return Step{
		ID:          id,
		Description: description,
		Up: func(ctx context.Context, p *Procedure) error {
			for _, guard := range BuiltinGuards {
				gp := p.Guard(guard)
				if err := gp.AddPermissions(ctx, names...); err != nil {
					return err
				}
				if err := gp.Assign(ctx, rbac.SuperAdminRole, names...); err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(ctx context.Context, p *Procedure) error {
			for _, guard := range BuiltinGuards {
				if err := p.Guard(guard).RemovePermissions(ctx, names...); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// BuiltinSteps returns the steps every deployment starts from: the
// administration permissions and the sample resource permissions, for the
// web and api guards, all held by super-admin.
func BuiltinSteps() []Step {
	return []Step{
		grantToSuperAdmin(
			"2024_01_01_000001_core_admin_permissions",
			"User, role and permission administration",
			permissionsFor(
				rbac.ResourceUser,
				rbac.ResourceRole,
				rbac.ResourcePermission,
				rbac.ResourceRolePermission,
				rbac.ResourceUserPermission,
				rbac.ResourceUserRole,
			),
		),
		grantToSuperAdmin(
			"2024_01_01_000002_sample_items_permissions",
			"Sample items",
			permissionsFor(rbac.ResourceItem),
		),
		grantToSuperAdmin(
			"2024_01_01_000003_sample_sub_items_permissions",
			"Sample sub-items",
			permissionsFor(rbac.ResourceSubItem),
		),
	}
}

// LoadSteps returns the built-in steps followed by the manifests in dir. An
// empty dir yields only the built-in steps.
func LoadSteps(dir string) ([]Step, error) {
	steps := BuiltinSteps()
	if dir == "" {
		return steps, nil
	}
	manifests, err := LoadManifestsFromDir(dir)
	if err != nil {
		return nil, err
	}
	return append(steps, manifests...), nil
}
