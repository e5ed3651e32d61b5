package items

import "github.com/platinummonkey/gatekeeper/pkg/storage"

// ComponentName is the schema_migrations component of the sample tables
const ComponentName = "items"

// Migrations returns the items and sub_items schema. The users table must
// already exist.
func Migrations() storage.Component {
	return storage.Component{
		Name: ComponentName,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create items table",
				SQL: `
					CREATE TABLE IF NOT EXISTS items (
						id UUID PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						created_by UUID NULL REFERENCES users(id) ON DELETE SET NULL,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);
				`,
			},
			{
				Version:     2,
				Description: "Create sub_items table",
				SQL: `
					CREATE TABLE IF NOT EXISTS sub_items (
						id UUID PRIMARY KEY,
						item_id UUID NOT NULL REFERENCES items(id) ON DELETE CASCADE,
						name VARCHAR(255) NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						created_by UUID NULL REFERENCES users(id) ON DELETE SET NULL,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);

					CREATE INDEX IF NOT EXISTS idx_sub_items_item_id ON sub_items(item_id);
				`,
			},
		},
	}
}
