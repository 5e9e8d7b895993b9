/*
Package auth defines the identity capability passed into core operations.

PURPOSE:
  Credential verification lives in an upstream collaborator (session service,
  API gateway). This package only models the result of that verification: a
  Context value carrying who the caller is and what role they act under.

DESIGN:
  Core packages never read identity from ambient/global state. Every operation
  that is scoped to a tenant or restricted to an admin takes an auth.Context
  argument, resolved exactly once per request by the API middleware.

SEE ALSO:
  - api/middleware.go: resolves a Context from verified request headers
  - billing/ledger.go: consumes Context for tenant/admin checks
*/
package auth

// Role is the coarse access level of a verified caller.
type Role string

const (
	// RoleTenant is a lease holder; operations are scoped to their contracts.
	RoleTenant Role = "tenant"

	// RoleAdmin is portal staff; may create bills and decide payment slips.
	RoleAdmin Role = "admin"

	// RoleScheduler is the external daily-job trigger, authenticated by a
	// shared secret rather than a user credential.
	RoleScheduler Role = "scheduler"
)

// Context identifies a verified caller for the duration of one operation.
// The zero value is an anonymous caller and fails every access check.
type Context struct {
	Role      Role
	SubjectID string
}

// IsAdmin reports whether the caller may perform administrative operations.
func (c Context) IsAdmin() bool { return c.Role == RoleAdmin }

// IsScheduler reports whether the caller is the daily-job trigger.
func (c Context) IsScheduler() bool { return c.Role == RoleScheduler }

// IsTenant reports whether the caller is the tenant identified by tenantID.
func (c Context) IsTenant(tenantID string) bool {
	return c.Role == RoleTenant && c.SubjectID != "" && c.SubjectID == tenantID
}

// Anonymous reports whether no verified identity is attached.
func (c Context) Anonymous() bool { return c.Role == "" }
