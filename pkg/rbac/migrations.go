package rbac

import "github.com/platinummonkey/gatekeeper/pkg/storage"

// ComponentName is the schema_migrations component of the RBAC tables
const ComponentName = "rbac"

// Migrations returns the RBAC schema. The users table must already exist.
func Migrations() storage.Component {
	return storage.Component{
		Name: ComponentName,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create permissions and roles tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS permissions (
						id UUID PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						guard VARCHAR(64) NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (name, guard)
					);

					CREATE TABLE IF NOT EXISTS roles (
						id UUID PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						guard VARCHAR(64) NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (name, guard)
					);

					CREATE INDEX IF NOT EXISTS idx_permissions_guard ON permissions(guard);
					CREATE INDEX IF NOT EXISTS idx_roles_guard ON roles(guard);
				`,
			},
			{
				Version:     2,
				Description: "Create role_has_permissions table",
				SQL: `
					CREATE TABLE IF NOT EXISTS role_has_permissions (
						role_id UUID NOT NULL REFERENCES roles(id),
						permission_id UUID NOT NULL REFERENCES permissions(id),
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (role_id, permission_id)
					);

					CREATE INDEX IF NOT EXISTS idx_role_has_permissions_permission_id ON role_has_permissions(permission_id);
				`,
			},
			{
				Version:     3,
				Description: "Create user_has_roles and user_has_permissions tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS user_has_roles (
						user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
						role_id UUID NOT NULL REFERENCES roles(id),
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (user_id, role_id)
					);

					CREATE TABLE IF NOT EXISTS user_has_permissions (
						user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
						permission_id UUID NOT NULL REFERENCES permissions(id),
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (user_id, permission_id)
					);

					CREATE INDEX IF NOT EXISTS idx_user_has_roles_role_id ON user_has_roles(role_id);
					CREATE INDEX IF NOT EXISTS idx_user_has_permissions_permission_id ON user_has_permissions(permission_id);
				`,
			},
		},
	}
}
