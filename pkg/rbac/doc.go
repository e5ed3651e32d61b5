// Package rbac provides role-based access control for the gatekeeper admin
// service.
//
// # Overview
//
// Access is modelled with four relations:
//
//  1. Permissions: atomic named capabilities such as "sample.items.update"
//  2. Roles: named bundles of permissions
//  3. User roles: which roles a user holds
//  4. User permissions: permissions granted directly to a user
//
// Every permission and role belongs to exactly one guard, the
// authentication context it applies to (GuardWeb for sessions, GuardAPI for
// bearer tokens). A user authenticated under one guard never sees grants
// made under another, and a role only ever holds permissions of its own
// guard.
//
// # Policies
//
// A Policy maps the canonical actions on one resource type to permission
// names by suffix:
//
//	viewAny -> <prefix>.index
//	view    -> <prefix>.show
//	create  -> <prefix>.create
//	update  -> <prefix>.update
//	delete  -> <prefix>.delete
//
// DefaultPolicies covers the sample items, their sub items and the RBAC
// relations themselves. Extra policies are registered with WithPolicies.
//
// # Evaluation
//
// The Evaluator answers a Request in a fixed order:
//
//  1. A request without a subject is denied.
//  2. Holders of the "super-admin" role under the request guard are allowed.
//  3. Unknown resources and actions are denied.
//  4. Otherwise the request is allowed when the user's effective permission
//     set (role derived plus direct grants, within the guard) contains the
//     permission the policy names.
//  5. An allowed request then runs the resource preconditions. Deleting a
//     role held by any user, or a permission referenced by any role or user,
//     is rejected with an *InvariantError. Nobody bypasses a precondition,
//     and a denied subject never sees one.
//
// Checking a request:
//
//	evaluator := rbac.NewEvaluator(store, rbac.WithCache(cache))
//	err := evaluator.Authorize(ctx, rbac.Request{
//		Subject:  actor,
//		Resource: rbac.ResourceItem,
//		Action:   rbac.ActionUpdate,
//		TargetID: itemID,
//	})
//	if errors.Is(err, rbac.ErrForbidden) {
//		// deny
//	}
//
// # Caching
//
// PermissionCache keeps evaluated snapshots in a local expiring LRU. Store
// writes invalidate it after commit. With a Redis client the cache
// generation is shared, so an invalidation on one instance reaches every
// instance on its next lookup.
//
// # HTTP
//
// Gate wraps the evaluator for handlers: it reads the Subject placed in the
// request context by authentication middleware, writes 401, 403 or 409 on
// refusal and records denials in the audit log. Handlers exposes the CRUD
// surface over permissions, roles and assignments. Role-permission pairs
// are addressed as /roles/{role_id}/permissions/{permission_id}.
package rbac
