package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Subject is an authenticated actor bound to the guard it authenticated under
type Subject interface {
	SubjectID() uuid.UUID
	SubjectGuard() Guard
}

// Relations is the relation state a policy decision reads
type Relations interface {
	HasRole(ctx context.Context, userID uuid.UUID, role string, guard Guard) (bool, error)
	EffectivePermissionNames(ctx context.Context, userID uuid.UUID, guard Guard) ([]string, error)
	CountRoleHolders(ctx context.Context, roleID uuid.UUID) (int, error)
	PermissionReferences(ctx context.Context, permissionID uuid.UUID) (PermissionReferences, error)
}

// Request asks whether Subject may perform Action on Resource. TargetID
// identifies the instance for view, update and delete; it is uuid.Nil for
// collection actions.
type Request struct {
	Subject  Subject
	Resource Resource
	Action   Action
	TargetID uuid.UUID
}

// Precondition rejects a request regardless of the actor's permissions. It
// returns an *InvariantError to reject, nil to continue.
type Precondition func(ctx context.Context, rel Relations, req Request) error

// Policy maps the actions on one resource type to permission names
type Policy struct {
	Resource      Resource
	Prefix        string
	Preconditions map[Action]Precondition
}

// PermissionName returns the permission gating action on the policy's resource
func (p Policy) PermissionName(action Action) (string, bool) {
	suffix, ok := action.Suffix()
	if !ok {
		return "", false
	}
	return p.Prefix + "." + suffix, true
}

// PermissionNames returns the permission names of every canonical action
func (p Policy) PermissionNames() []string {
	names := make([]string, 0, len(Actions))
	for _, action := range Actions {
		name, _ := p.PermissionName(action)
		names = append(names, name)
	}
	return names
}

// DefaultPolicies returns the policies of every built-in resource type
func DefaultPolicies() []Policy {
	return []Policy{
		{Resource: ResourceItem, Prefix: "sample.items"},
		{Resource: ResourceSubItem, Prefix: "sample.sub_items"},
		{
			Resource:      ResourceRole,
			Prefix:        "roles",
			Preconditions: map[Action]Precondition{ActionDelete: roleNotHeld},
		},
		{
			Resource:      ResourcePermission,
			Prefix:        "permissions",
			Preconditions: map[Action]Precondition{ActionDelete: permissionNotReferenced},
		},
		{Resource: ResourceUser, Prefix: "users"},
		{Resource: ResourceRolePermission, Prefix: "role_permissions"},
		{Resource: ResourceUserPermission, Prefix: "user_permissions"},
		{Resource: ResourceUserRole, Prefix: "user_roles"},
	}
}

func roleNotHeld(ctx context.Context, rel Relations, req Request) error {
	if req.TargetID == uuid.Nil {
		return nil
	}
	holders, err := rel.CountRoleHolders(ctx, req.TargetID)
	if err != nil {
		return err
	}
	if holders > 0 {
		return roleInUse()
	}
	return nil
}

func permissionNotReferenced(ctx context.Context, rel Relations, req Request) error {
	if req.TargetID == uuid.Nil {
		return nil
	}
	refs, err := rel.PermissionReferences(ctx, req.TargetID)
	if err != nil {
		return err
	}
	if refs.InUse() {
		return permissionInUse(refs)
	}
	return nil
}

// Reason explains a decision. Reasons are for logs and metrics; callers
// must not show them to a denied actor.
type Reason string

const (
	ReasonSuperuser         Reason = "superuser"
	ReasonGranted           Reason = "granted"
	ReasonMissingPermission Reason = "missing_permission"
	ReasonUnknownPolicy     Reason = "unknown_policy"
	ReasonInvariant         Reason = "invariant"
	ReasonUnauthenticated   Reason = "unauthenticated"
)

// Decision is the outcome of one policy check
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Reason     Reason `json:"reason"`
	Permission string `json:"permission,omitempty"`
}

// Evaluator decides requests against the live relation state
type Evaluator struct {
	relations Relations
	policies  map[Resource]Policy
	cache     *PermissionCache
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithCache serves snapshots from cache
func WithCache(cache *PermissionCache) EvaluatorOption {
	return func(e *Evaluator) { e.cache = cache }
}

// WithMetrics records decisions in metrics
func WithMetrics(metrics *observability.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = metrics }
}

// WithTracer overrides the global tracer
func WithTracer(tracer trace.Tracer) EvaluatorOption {
	return func(e *Evaluator) { e.tracer = tracer }
}

// WithPolicies registers extra policies, replacing built-in ones for the same resource
func WithPolicies(policies ...Policy) EvaluatorOption {
	return func(e *Evaluator) {
		for _, p := range policies {
			e.policies[p.Resource] = p
		}
	}
}

// NewEvaluator creates an evaluator with the default policies
func NewEvaluator(relations Relations, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		relations: relations,
		policies:  make(map[Resource]Policy),
		tracer:    otel.Tracer("github.com/platinummonkey/gatekeeper/pkg/rbac"),
	}
	for _, p := range DefaultPolicies() {
		e.policies[p.Resource] = p
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the policy registered for resource
func (e *Evaluator) Policy(resource Resource) (Policy, bool) {
	p, ok := e.policies[resource]
	return p, ok
}

// Policies returns every registered policy ordered by resource
func (e *Evaluator) Policies() []Policy {
	policies := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		policies = append(policies, p)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Resource < policies[j].Resource })
	return policies
}

// PermissionName returns the permission gating action on resource
func (e *Evaluator) PermissionName(resource Resource, action Action) (string, bool) {
	p, ok := e.policies[resource]
	if !ok {
		return "", false
	}
	return p.PermissionName(action)
}

// Snapshot returns the authorization state of subject
func (e *Evaluator) Snapshot(ctx context.Context, subject Subject) (Snapshot, error) {
	load := func(ctx context.Context) (Snapshot, error) {
		return e.loadSnapshot(ctx, subject)
	}
	if e.cache != nil {
		return e.cache.Get(ctx, subject.SubjectGuard(), subject.SubjectID(), load)
	}
	return load(ctx)
}

func (e *Evaluator) loadSnapshot(ctx context.Context, subject Subject) (Snapshot, error) {
	super, err := e.relations.HasRole(ctx, subject.SubjectID(), SuperAdminRole, subject.SubjectGuard())
	if err != nil {
		return Snapshot{}, err
	}
	if super {
		return newSnapshot(true, nil), nil
	}
	names, err := e.relations.EffectivePermissionNames(ctx, subject.SubjectID(), subject.SubjectGuard())
	if err != nil {
		return Snapshot{}, err
	}
	return newSnapshot(false, names), nil
}

// Evaluate decides req. Holders of the super-admin role under the request
// guard are allowed; everyone else is allowed only when their effective
// permission set contains the permission the policy maps the action to.
// Resource preconditions run only for requests that would be allowed, so a
// denied subject learns nothing about the target. They bind the superuser
// too; a failed precondition returns an *InvariantError alongside the
// denial.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (decision Decision, err error) {
	ctx, span := e.tracer.Start(ctx, "rbac.Evaluate", trace.WithAttributes(
		attribute.String("rbac.resource", string(req.Resource)),
		attribute.String("rbac.action", string(req.Action)),
	))
	defer func() {
		span.SetAttributes(
			attribute.Bool("rbac.allowed", decision.Allowed),
			attribute.String("rbac.reason", string(decision.Reason)),
		)
		if err != nil {
			var invErr *InvariantError
			if !errors.As(err, &invErr) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()
		if err == nil || decision.Reason == ReasonInvariant {
			e.metrics.RecordAuthzDecision(string(req.Resource), string(req.Action), string(decision.Reason))
		}
	}()

	if req.Subject == nil {
		return Decision{Reason: ReasonUnauthenticated}, nil
	}
	span.SetAttributes(attribute.String("rbac.guard", req.Subject.SubjectGuard().String()))

	decision, err = e.decide(ctx, req)
	if err != nil || !decision.Allowed {
		return decision, err
	}

	policy, known := e.policies[req.Resource]
	if !known {
		return decision, nil
	}
	if pre, ok := policy.Preconditions[req.Action]; ok {
		if err := pre(ctx, e.relations, req); err != nil {
			var invErr *InvariantError
			if errors.As(err, &invErr) {
				return Decision{Reason: ReasonInvariant, Permission: decision.Permission}, err
			}
			return Decision{}, fmt.Errorf("failed to evaluate precondition: %w", err)
		}
	}
	return decision, nil
}

// decide checks req against the subject's permissions only
func (e *Evaluator) decide(ctx context.Context, req Request) (Decision, error) {
	snap, err := e.Snapshot(ctx, req.Subject)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load permissions: %w", err)
	}
	if snap.Superuser {
		return Decision{Allowed: true, Reason: ReasonSuperuser}, nil
	}

	name, ok := e.PermissionName(req.Resource, req.Action)
	if !ok {
		return Decision{Reason: ReasonUnknownPolicy}, nil
	}
	if snap.Has(name) {
		return Decision{Allowed: true, Reason: ReasonGranted, Permission: name}, nil
	}
	return Decision{Reason: ReasonMissingPermission, Permission: name}, nil
}

// Authorize returns nil when req is allowed, ErrForbidden when it is denied,
// an *InvariantError when a precondition rejects it, or the infrastructure
// error that prevented a decision.
func (e *Evaluator) Authorize(ctx context.Context, req Request) error {
	decision, err := e.Evaluate(ctx, req)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return ErrForbidden
	}
	return nil
}
