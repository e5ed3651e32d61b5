package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Component groups the migrations owned by one package. Components are
// applied in the order they are passed to RunMigrations, which lets tables
// that reference each other be created in dependency order.
type Component struct {
	Name       string
	Migrations []Migration
}

// AppliedMigration is one row of schema_migrations
type AppliedMigration struct {
	Component   string
	Version     int
	Description string
	AppliedAt   time.Time
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		component VARCHAR(64) NOT NULL,
		version INT NOT NULL,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (component, version)
	)
`

// RunMigrations executes all pending migrations of the given components and
// returns the migrations it applied.
func RunMigrations(ctx context.Context, db *sql.DB, components ...Component) ([]AppliedMigration, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var applied []AppliedMigration
	for _, component := range components {
		done, err := appliedVersions(ctx, db, component.Name)
		if err != nil {
			return applied, err
		}

		migrations := make([]Migration, len(component.Migrations))
		copy(migrations, component.Migrations)
		sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

		for _, migration := range migrations {
			if done[migration.Version] {
				continue
			}

			err := RunInTx(ctx, db, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
					return fmt.Errorf("failed to execute migration %s/%d: %w", component.Name, migration.Version, err)
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO schema_migrations (component, version, description, applied_at) VALUES ($1, $2, $3, $4)",
					component.Name, migration.Version, migration.Description, time.Now().UTC(),
				); err != nil {
					return fmt.Errorf("failed to record migration %s/%d: %w", component.Name, migration.Version, err)
				}
				return nil
			})
			if err != nil {
				return applied, err
			}

			applied = append(applied, AppliedMigration{
				Component:   component.Name,
				Version:     migration.Version,
				Description: migration.Description,
			})
		}
	}

	return applied, nil
}

func appliedVersions(ctx context.Context, db *sql.DB, component string) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations WHERE component = $1", component)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

// ListAppliedMigrations returns every recorded migration ordered by component and version
func ListAppliedMigrations(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT component, version, description, applied_at
		FROM schema_migrations
		ORDER BY component, version
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var migrations []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Component, &m.Version, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		migrations = append(migrations, m)
	}
	return migrations, rows.Err()
}
