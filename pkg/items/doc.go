// Package items implements the sample resources of the admin application:
// items and the sub-items that belong to them.
//
// Every handler authorizes through rbac.Gate before touching the store,
// against the sample.items.* and sample.sub_items.* permissions. Deleting an
// item deletes its sub-items in the same transaction.
package items
