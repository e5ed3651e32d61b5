package provisioning

import (
	"context"
	"errors"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addStep(id string, names ...string) Step {
	return Step{
		ID: id,
		Up: func(ctx context.Context, p *Procedure) error {
			return p.AddPermissions(ctx, names...)
		},
		Down: func(ctx context.Context, p *Procedure) error {
			return p.RemovePermissions(ctx, names...)
		},
	}
}

func TestRunner_BuiltinSteps(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	runner, err := NewRunner(env.db, env.store, BuiltinSteps(), WithMetrics(metrics))
	require.NoError(t, err)

	applied, err := runner.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024_01_01_000001_core_admin_permissions",
		"2024_01_01_000002_sample_items_permissions",
		"2024_01_01_000003_sample_sub_items_permissions",
	}, applied)
	assert.Equal(t, int64(3), env.invalidator.calls.Load())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.ProvisioningStepsTotal.WithLabelValues("up", "success")))

	// 8 resources, 5 actions, 2 guards
	assert.Equal(t, 80, env.count(t, "permissions"))
	assert.Equal(t, 80, env.count(t, "role_has_permissions"))

	for _, guard := range BuiltinGuards {
		role, err := env.store.FindRole(ctx, rbac.SuperAdminRole, guard)
		require.NoError(t, err)
		perms, err := env.store.RolePermissions(ctx, role.ID)
		require.NoError(t, err)
		assert.Len(t, perms, 40)
	}

	applied, err = runner.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Equal(t, 80, env.count(t, "permissions"))

	statuses, err := runner.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.ID)
		assert.Equal(t, 1, s.Batch)
		assert.NotNil(t, s.AppliedAt)
	}

	reversed, err := runner.Down(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024_01_01_000003_sample_sub_items_permissions",
		"2024_01_01_000002_sample_items_permissions",
		"2024_01_01_000001_core_admin_permissions",
	}, reversed)
	assert.Zero(t, env.count(t, "permissions"))
	assert.Zero(t, env.count(t, "role_has_permissions"))
	assert.Equal(t, 2, env.count(t, "roles"))

	pending, err := runner.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestRunner_Batches(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	first, err := NewRunner(env.db, env.store, []Step{addStep("001", "a.index"), addStep("002", "b.index")})
	require.NoError(t, err)
	_, err = first.Up(ctx)
	require.NoError(t, err)

	second, err := NewRunner(env.db, env.store, []Step{
		addStep("003", "c.index"), addStep("001", "a.index"), addStep("002", "b.index"), addStep("004", "d.index"),
	})
	require.NoError(t, err)
	applied, err := second.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"003", "004"}, applied)

	statuses, err := second.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, statuses[0].Batch)
	assert.Equal(t, 2, statuses[3].Batch)

	reversed, err := second.Down(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"004", "003"}, reversed)
	assert.Equal(t, 2, env.count(t, "permissions"))

	reversed, err = second.Down(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"002"}, reversed)

	reversed, err = second.Down(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, reversed)
	assert.Zero(t, env.count(t, "permissions"))

	reversed, err = second.Down(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, reversed)
}

func TestRunner_FailedStepRollsBack(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	auditLogger, err := audit.NewDBLogger(env.db)
	require.NoError(t, err)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	broken := Step{
		ID:          "002",
		Description: "assigns before adding",
		Up: func(ctx context.Context, p *Procedure) error {
			if err := p.AddPermissions(ctx, "b.index"); err != nil {
				return err
			}
			return p.Assign(ctx, "editor", "b.index", "b.show")
		},
	}
	runner, err := NewRunner(env.db, env.store,
		[]Step{addStep("001", "a.index"), broken, addStep("003", "c.index")},
		WithAuditLogger(auditLogger), WithMetrics(metrics),
	)
	require.NoError(t, err)

	applied, err := runner.Up(ctx)
	require.ErrorIs(t, err, rbac.ErrPermissionNotRegistered)
	assert.Contains(t, err.Error(), "step 002 up")
	assert.Equal(t, []string{"001"}, applied)

	// only the first step survives
	assert.Equal(t, 1, env.count(t, "permissions"))
	assert.Zero(t, env.count(t, "roles"))
	assert.Equal(t, 1, env.count(t, "provisioning_steps"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ProvisioningStepsTotal.WithLabelValues("up", "failure")))

	events, err := auditLogger.Search(ctx, audit.SearchFilter{EventTypes: []audit.EventType{audit.EventTypeProvisioningUp}})
	require.NoError(t, err)
	require.Len(t, events, 2)
	statuses := map[audit.EventStatus]int{}
	for _, e := range events {
		statuses[e.Status]++
	}
	assert.Equal(t, 1, statuses[audit.EventStatusSuccess])
	assert.Equal(t, 1, statuses[audit.EventStatusFailure])
}

func TestRunner_DownErrors(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	oneWay := Step{ID: "001", Up: func(ctx context.Context, p *Procedure) error {
		return p.AddPermissions(ctx, "a.index")
	}}
	runner, err := NewRunner(env.db, env.store, []Step{oneWay})
	require.NoError(t, err)
	_, err = runner.Up(ctx)
	require.NoError(t, err)

	_, err = runner.Down(ctx, 0)
	assert.ErrorIs(t, err, ErrIrreversible)
	assert.Equal(t, 1, env.count(t, "provisioning_steps"))

	forgetful, err := NewRunner(env.db, env.store, nil)
	require.NoError(t, err)
	_, err = forgetful.Down(ctx, 0)
	assert.ErrorIs(t, err, ErrUnknownStep)

	statuses, err := forgetful.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Unregistered)
	assert.True(t, statuses[0].Applied)
}

func TestNewRunner_Validation(t *testing.T) {
	env := setupTestEnv(t)

	_, err := NewRunner(env.db, env.store, []Step{addStep("001"), addStep("001")})
	assert.ErrorIs(t, err, ErrDuplicateStep)

	_, err = NewRunner(env.db, env.store, []Step{{ID: "001"}})
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = NewRunner(env.db, env.store, []Step{{Up: addStep("x").Up}})
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = NewRunner(env.db, env.store, nil, WithDefaultGuard(""))
	assert.ErrorIs(t, err, rbac.ErrInvalidGuard)
}

func TestRunner_DefaultGuard(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	runner, err := NewRunner(env.db, env.store, []Step{addStep("001", "a.index")}, WithDefaultGuard(rbac.GuardAPI))
	require.NoError(t, err)
	_, err = runner.Up(ctx)
	require.NoError(t, err)

	_, err = env.store.FindPermission(ctx, "a.index", rbac.GuardAPI)
	assert.NoError(t, err)
	_, err = env.store.FindPermission(ctx, "a.index", rbac.GuardWeb)
	assert.True(t, errors.Is(err, rbac.ErrNotFound))
}
