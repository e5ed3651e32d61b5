package users

import "github.com/platinummonkey/gatekeeper/pkg/storage"

// ComponentName is the schema_migrations component of the users table
const ComponentName = "users"

// Migrations returns the users schema. It must run before every component
// whose tables reference users.
func Migrations() storage.Component {
	return storage.Component{
		Name: ComponentName,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create users table",
				SQL: `
					CREATE TABLE IF NOT EXISTS users (
						id UUID PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						email VARCHAR(255) NOT NULL UNIQUE,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);
				`,
			},
		},
	}
}
