package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/provisioning"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/users"
	"github.com/sirupsen/logrus"
)

// Env is what a command runs against
type Env struct {
	DB     *sql.DB
	RBAC   *rbac.Store
	Users  *users.Store
	Tokens *auth.TokenStore
	// Steps are the provisioning steps known to this binary
	Steps []provisioning.Step

	AuditLogger audit.Logger
	// Log reports progress to the operator
	Log *logrus.Logger
	// Logger receives library logs
	Logger *observability.Logger
	Out    io.Writer

	closeFn func() error
}

// Opener creates the Env for one command invocation
type Opener func(ctx context.Context) (*Env, error)

// NewEnv wires the stores over db
func NewEnv(db *sql.DB, steps []provisioning.Step, log *logrus.Logger) *Env {
	if log == nil {
		log = logrus.New()
	}
	rbacStore := rbac.NewStore(db)
	return &Env{
		DB:          db,
		RBAC:        rbacStore,
		Users:       users.NewStore(db, rbacStore),
		Tokens:      auth.NewTokenStore(db),
		Steps:       steps,
		AuditLogger: audit.NopLogger(),
		Log:         log,
		Logger:      observability.NewLogger(observability.WarnLevel, os.Stderr),
		Out:         os.Stdout,
	}
}

// Runner builds a provisioning runner over the env's steps
func (e *Env) Runner() (*provisioning.Runner, error) {
	return provisioning.NewRunner(e.DB, e.RBAC, e.Steps,
		provisioning.WithAuditLogger(e.AuditLogger),
		provisioning.WithLogger(e.Logger),
	)
}

// Close releases the env's connections
func (e *Env) Close() error {
	if e.closeFn == nil {
		return nil
	}
	return e.closeFn()
}

// OpenFromConfig opens the primary database named by the GATEKEEPER_*
// environment and records provisioning runs in the audit log
func OpenFromConfig(log *logrus.Logger) Opener {
	return func(ctx context.Context) (*Env, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}

		conn := cfg.Database.ConnectionConfig()
		conn.ReplicaURLs = nil
		conns, err := storage.NewConnectionManager(conn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := conns.HealthCheck(ctx); err != nil {
			conns.Close()
			return nil, err
		}

		steps, err := provisioning.LoadSteps(cfg.Provisioning.ManifestDir)
		if err != nil {
			conns.Close()
			return nil, err
		}

		env := NewEnv(conns.Primary(), steps, log)
		env.Logger = observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)
		dbLogger, err := audit.NewDBLogger(conns.Primary())
		if err != nil {
			conns.Close()
			return nil, err
		}
		env.AuditLogger = dbLogger
		env.closeFn = conns.Close
		return env, nil
	}
}

// withEnv opens an env, runs fn and closes it
func withEnv(open Opener, fn func(ctx context.Context, env *Env) error) error {
	ctx := context.Background()
	env, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			env.Log.WithError(err).Warn("Failed to close database")
		}
	}()
	return fn(ctx, env)
}
