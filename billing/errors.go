/*
errors.go - Centralized error taxonomy for the billing core

PURPOSE:
  All billing error categories in one place. The API layer maps these to HTTP
  status codes; core packages wrap them with context via the structured types.

ERROR CATEGORIES:
  1. Validation - missing or malformed input (400)
  2. Forbidden  - identity mismatch or insufficient role (403)
  3. Not found  - bill/slip/contract absent (404)
  4. Conflict   - operation refused in the current state (409)
  5. External   - store or storage failure (500)

USAGE:
  if errors.Is(err, billing.ErrNotFound) { ... }

SEE ALSO:
  - api/handlers.go: status-code mapping
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrForbidden is returned when the caller's identity does not authorize
	// the operation (wrong tenant, missing admin role).
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a referenced bill, slip, or contract is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation is refused in the current
	// state, e.g. a reconciliation run is already in progress.
	ErrConflict = errors.New("conflict")

	// ErrExternalService is returned when a store or storage call fails.
	ErrExternalService = errors.New("external service failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which input field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ForbiddenError reports an access denial without leaking the expected identity.
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind string // "bill", "slip", "contract"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// rather than a server-side failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
