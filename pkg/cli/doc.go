// Package cli provides the gatekeeper-provision command-line interface.
//
// # Overview
//
// Operators use gatekeeper-provision to migrate the schema, apply and
// reverse provisioning steps, bootstrap the first administrator and ask the
// policy evaluator for a single decision. Database settings come from the
// same GATEKEEPER_* environment as the server (see pkg/config).
//
// # Commands
//
// migrate: Apply pending schema migrations
//
//	gatekeeper-provision migrate
//
// up / down / status: Provisioning steps
//
//	gatekeeper-provision up
//	gatekeeper-provision down -batches 1
//	gatekeeper-provision status
//
// Steps are the built-in permission sets followed by the YAML manifests in
// GATEKEEPER_PROVISION_MANIFEST_DIR.
//
// validate: Check manifests offline
//
//	gatekeeper-provision validate -dir ./provisioning
//
// Bootstrapping an administrator:
//
//	gatekeeper-provision create-user -name "Ada" -email ada@example.com
//	gatekeeper-provision assign-role -user ada@example.com -role super-admin -guard api
//	gatekeeper-provision create-token -user ada@example.com -name laptop -ttl 720h
//
// check: Evaluate one decision
//
//	gatekeeper-provision check -user ada@example.com -guard web -resource item -action update
//
// check exits non-zero when the decision is a denial.
package cli
