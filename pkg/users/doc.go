// Package users stores the accounts that authenticate against gatekeeper.
//
// A User carries no guard of its own. Authentication middleware wraps the
// loaded user in an Actor bound to the guard the request authenticated
// under, and the Actor is the rbac.Subject every policy check reads.
package users
