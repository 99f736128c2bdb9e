// Package tenancy exposes the read-only view of the platform's
// organization -> client -> company hierarchy that the billing and
// retention engines need.
//
// The hierarchy itself (CRUD, membership, permissions) is owned by the
// platform core service; this package only resolves a company's ancestry
// for plan visibility and answers access checks.
package tenancy
