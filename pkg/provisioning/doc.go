// Package provisioning creates and removes permissions and roles in
// append-only, reversible steps.
//
// # Procedure
//
// A Procedure provisions under one guard and is idempotent:
//
//	p := provisioning.NewProcedure(store, rbac.GuardWeb, nil)
//	p.AddPermissions(ctx, "sample.items.index", "sample.items.create")
//	p.Assign(ctx, rbac.SuperAdminRole, "sample.items.index", "sample.items.create")
//	p.Guard(rbac.GuardAPI).AddPermissions(ctx, "sample.items.index")
//
// Assign creates the role when missing but fails with
// rbac.ErrPermissionNotRegistered for a permission that was never added.
// Unassign is a no-op for a missing role and skips unknown permissions.
// RemovePermissions deletes the role and user assignments of what it
// removes.
//
// # Steps and the Runner
//
// A Step pairs an Up and a Down function. Runner.Up applies pending steps
// in ID order as one batch; each step runs in one transaction with its
// provisioning_steps row, and cached permission sets are invalidated after
// each commit. Runner.Down reverses the last batch, or the last n steps.
//
//	runner, err := provisioning.NewRunner(db, store, provisioning.BuiltinSteps(),
//		provisioning.WithAuditLogger(auditLogger),
//		provisioning.WithMetrics(metrics),
//	)
//	applied, err := runner.Up(ctx)
//
// # Manifests
//
// Steps can also be declared in YAML files; see Manifest and
// LoadManifestsFromDir.
package provisioning
