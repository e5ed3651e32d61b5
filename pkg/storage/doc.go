// Package storage owns the relational plumbing shared by every gatekeeper
// component: connection pools with optional read replicas, the transaction
// helper, and the versioned schema migration runner.
//
// # Connections
//
// ConnectionManager keeps one primary pool for writes and any number of read
// replicas. Uncached policy evaluation reads through Reader(), which picks a
// replica per query; a replica that lags the primary can only cause a freshly
// granted permission to be denied for a short window, which the authorization
// model accepts.
//
//	cm, err := storage.NewConnectionManager(storage.ConnectionConfig{
//		Driver:      storage.DriverPostgres,
//		PrimaryURL:  "postgres://localhost/gatekeeper?sslmode=disable",
//		ReplicaURLs: storage.ParseReplicaURLs(os.Getenv("REPLICAS")),
//		MaxConns:    20,
//		MinConns:    2,
//		Timeout:     10 * time.Second,
//	})
//
// # Dialect
//
// All statements use $N placeholders in first-use order and portable DDL, so
// the same SQL runs on PostgreSQL (lib/pq) and SQLite (mattn/go-sqlite3). The
// SQLite driver backs the package tests and local development.
//
// # Migrations
//
// Each component contributes an ordered []Migration under its own component
// name. RunMigrations records applied versions in schema_migrations and
// applies each pending migration in its own transaction.
package storage
