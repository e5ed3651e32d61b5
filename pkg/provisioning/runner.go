package provisioning

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ComponentName is the schema_migrations component of the step ledger
const ComponentName = "provisioning"

// Migrations returns the provisioning_steps schema
func Migrations() storage.Component {
	return storage.Component{
		Name: ComponentName,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create provisioning_steps table",
				SQL: `
					CREATE TABLE IF NOT EXISTS provisioning_steps (
						id VARCHAR(255) PRIMARY KEY,
						batch INT NOT NULL,
						applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);
				`,
			},
		},
	}
}

// StepStatus reports whether a step has been applied
type StepStatus struct {
	ID          string     `json:"id"`
	Description string     `json:"description,omitempty"`
	Applied     bool       `json:"applied"`
	Batch       int        `json:"batch,omitempty"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
	// Unregistered marks an applied step this binary does not know
	Unregistered bool `json:"unregistered,omitempty"`
}

type appliedStep struct {
	id        string
	batch     int
	appliedAt time.Time
}

// Runner applies and reverses provisioning steps. Each step runs in its own
// transaction together with its provisioning_steps row, so a failed step
// leaves nothing behind and stops the run.
type Runner struct {
	db           *sql.DB
	store        *rbac.Store
	steps        []Step
	defaultGuard rbac.Guard
	auditLogger  audit.Logger
	metrics      *observability.Metrics
	tracer       trace.Tracer
	logger       *observability.Logger
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithDefaultGuard sets the guard steps start on. It defaults to web.
func WithDefaultGuard(guard rbac.Guard) RunnerOption {
	return func(r *Runner) { r.defaultGuard = guard }
}

// WithAuditLogger records every applied and reversed step
func WithAuditLogger(logger audit.Logger) RunnerOption {
	return func(r *Runner) { r.auditLogger = logger }
}

// WithMetrics counts applied and reversed steps
func WithMetrics(metrics *observability.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = metrics }
}

// WithLogger sets the runner's logger
func WithLogger(logger *observability.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner over steps. Step IDs must be unique.
func NewRunner(db *sql.DB, store *rbac.Store, steps []Step, opts ...RunnerOption) (*Runner, error) {
	sorted, err := sortSteps(steps)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		db:           db,
		store:        store,
		steps:        sorted,
		defaultGuard: rbac.GuardWeb,
		auditLogger:  audit.NopLogger(),
		tracer:       otel.Tracer("github.com/platinummonkey/gatekeeper/pkg/provisioning"),
		logger:       observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.defaultGuard.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Steps returns the registered steps in application order
func (r *Runner) Steps() []Step {
	steps := make([]Step, len(r.steps))
	copy(steps, r.steps)
	return steps
}

func (r *Runner) applied(ctx context.Context) ([]appliedStep, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, batch, applied_at FROM provisioning_steps ORDER BY batch, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query provisioning steps: %w", err)
	}
	defer rows.Close()

	var applied []appliedStep
	for rows.Next() {
		var a appliedStep
		if err := rows.Scan(&a.id, &a.batch, &a.appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provisioning step: %w", err)
		}
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

// Up applies every pending step in ID order as one batch and returns the
// IDs it applied
func (r *Runner) Up(ctx context.Context) ([]string, error) {
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(applied))
	batch := 0
	for _, a := range applied {
		done[a.id] = true
		if a.batch > batch {
			batch = a.batch
		}
	}
	batch++

	cache := NewRunCache()
	var ran []string
	for _, step := range r.steps {
		if done[step.ID] {
			continue
		}
		if err := r.run(ctx, "up", step, step.Up, cache, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO provisioning_steps (id, batch, applied_at) VALUES ($1, $2, $3)",
				step.ID, batch, time.Now().UTC(),
			)
			return err
		}); err != nil {
			return ran, err
		}
		ran = append(ran, step.ID)
	}
	return ran, nil
}

// Down reverses applied steps in reverse order. With n <= 0 it reverses the
// last batch, otherwise the last n steps. It returns the IDs it reversed.
func (r *Runner) Down(ctx context.Context, n int) ([]string, error) {
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	if len(applied) == 0 {
		return nil, nil
	}

	var targets []appliedStep
	if n <= 0 {
		last := applied[len(applied)-1].batch
		for _, a := range applied {
			if a.batch == last {
				targets = append(targets, a)
			}
		}
	} else {
		if n > len(applied) {
			n = len(applied)
		}
		targets = applied[len(applied)-n:]
	}

	byID := make(map[string]Step, len(r.steps))
	for _, step := range r.steps {
		byID[step.ID] = step
	}

	cache := NewRunCache()
	var reversed []string
	for i := len(targets) - 1; i >= 0; i-- {
		id := targets[i].id
		step, ok := byID[id]
		if !ok {
			return reversed, fmt.Errorf("%w: %s", ErrUnknownStep, id)
		}
		if step.Down == nil {
			return reversed, fmt.Errorf("%w: %s", ErrIrreversible, id)
		}
		if err := r.run(ctx, "down", step, step.Down, cache, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "DELETE FROM provisioning_steps WHERE id = $1", id)
			return err
		}); err != nil {
			return reversed, err
		}
		reversed = append(reversed, id)
	}
	return reversed, nil
}

// run executes fn and record in one transaction and invalidates cached
// permission sets once it commits
func (r *Runner) run(ctx context.Context, direction string, step Step, fn StepFunc, cache *RunCache, record func(tx *sql.Tx) error) (err error) {
	ctx, span := r.tracer.Start(ctx, "provisioning."+direction, trace.WithAttributes(
		attribute.String("provisioning.step", step.ID),
	))
	start := time.Now()
	logger := r.logger.WithField("step", step.ID).WithField("direction", direction)

	defer func() {
		r.metrics.RecordProvisioningStep(direction, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	err = storage.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		p := NewProcedure(r.store.WithTx(tx), r.defaultGuard, cache)
		if err := fn(ctx, p); err != nil {
			return err
		}
		if err := record(tx); err != nil {
			return fmt.Errorf("failed to record step: %w", err)
		}
		return nil
	})
	if err != nil {
		cache.Reset()
		logger.WithError(err).Error("Provisioning step failed")
		r.audit(ctx, direction, step, err)
		return fmt.Errorf("step %s %s: %w", step.ID, direction, err)
	}

	r.store.Invalidate(ctx)
	logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Provisioning step applied")
	r.audit(ctx, direction, step, nil)
	return nil
}

func (r *Runner) audit(ctx context.Context, direction string, step Step, stepErr error) {
	eventType := audit.EventTypeProvisioningUp
	if direction == "down" {
		eventType = audit.EventTypeProvisioningDown
	}
	status := audit.EventStatusSuccess
	message := step.Description
	if stepErr != nil {
		status = audit.EventStatusFailure
		message = stepErr.Error()
	}

	event := audit.NewEvent(ctx, eventType, status).
		Resource("provisioning_step", step.ID).
		With(message)
	if err := r.auditLogger.Log(ctx, event); err != nil {
		r.logger.WithError(err).Warn("Failed to record audit event")
	}
}

// Status lists every registered step with its applied state, followed by
// applied steps this runner does not know
func (r *Runner) Status(ctx context.Context) ([]StepStatus, error) {
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]appliedStep, len(applied))
	for _, a := range applied {
		byID[a.id] = a
	}

	statuses := make([]StepStatus, 0, len(r.steps))
	known := make(map[string]bool, len(r.steps))
	for _, step := range r.steps {
		known[step.ID] = true
		s := StepStatus{ID: step.ID, Description: step.Description}
		if a, ok := byID[step.ID]; ok {
			appliedAt := a.appliedAt
			s.Applied, s.Batch, s.AppliedAt = true, a.batch, &appliedAt
		}
		statuses = append(statuses, s)
	}
	for _, a := range applied {
		if known[a.id] {
			continue
		}
		appliedAt := a.appliedAt
		statuses = append(statuses, StepStatus{
			ID: a.id, Applied: true, Batch: a.batch, AppliedAt: &appliedAt, Unregistered: true,
		})
	}
	return statuses, nil
}

// Pending returns the IDs of registered steps not yet applied
func (r *Runner) Pending(ctx context.Context) ([]string, error) {
	statuses, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, s := range statuses {
		if !s.Applied {
			pending = append(pending, s.ID)
		}
	}
	return pending, nil
}
