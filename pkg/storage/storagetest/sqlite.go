// Package storagetest opens migrated databases for package tests.
package storagetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/stretchr/testify/require"
)

// SQLite opens a private in-memory database and applies the migrations of
// components in order. The database is closed when the test ends.
func SQLite(t testing.TB, components ...storage.Component) *sql.DB {
	t.Helper()

	db, err := sql.Open(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = storage.RunMigrations(context.Background(), db, components...)
	require.NoError(t, err, "failed to run migrations")
	return db
}
