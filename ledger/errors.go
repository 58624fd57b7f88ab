/*
errors.go - Centralized error taxonomy for the ledger engine

PURPOSE:
  All error types in one place. The HTTP layer renders these; the
  orchestrator produces them; the stores classify their constraint
  violations into them.

ERROR CATEGORIES:
  1. Validation errors  - malformed input, caught before any store access
  2. Authorization      - capability missing (custom date, locked override)
  3. Operation errors   - business-rule violations, carry (field, message)
  4. Concurrency        - lost optimistic-lock race
  5. Not found          - missing entity
  6. Store errors       - classified constraint failures from the database

USAGE:
  Callers branch with errors.Is / errors.As:

    var opErr *ledger.OperationError
    if errors.As(err, &opErr) && opErr.Message == ledger.MsgNegativeRemainingDebt {
        ...
    }

SEE ALSO:
  - orchestrator.go: Produces these during mutations
  - store/sqlite: Classifies SQLite constraint codes into store sentinels
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity does not exist or is
	// soft-deleted.
	ErrNotFound = errors.New("resource not found")

	// ErrConcurrentModification is returned when an optimistic version check
	// fails. The caller lost the race and must reload.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrAuthorization is returned when the actor lacks a required capability.
	ErrAuthorization = errors.New("missing capability")

	// ErrValidation is returned for malformed input, before any store access.
	ErrValidation = errors.New("validation failed")

	// Store classification sentinels. The sqlite store maps constraint
	// violations onto these; the memory store returns them directly.

	// ErrForeignKeyMissing: an inserted/updated row references a missing parent.
	ErrForeignKeyMissing = errors.New("referenced record does not exist")

	// ErrUniqueViolation: a uniqueness constraint was violated.
	ErrUniqueViolation = errors.New("duplicate record")

	// ErrDeleteRestricted: a hard delete was blocked by an outstanding
	// reference. This is the one store failure that triggers an alternate
	// successful path (soft delete) instead of propagating.
	ErrDeleteRestricted = errors.New("delete restricted by outstanding reference")
)

// =============================================================================
// OPERATION ERROR - Business-rule violation with field context
// =============================================================================

// Canonical operation-error messages. These are stable identifiers, not
// display strings; the presentation layer localizes them.
const (
	MsgNegativeRemainingDebt  = "NegativeRemainingDebtAmount"
	MsgCannotModifyLocked     = "CannotModifyLockedEntity"
	MsgCannotSetDateLocked    = "CannotSetDateTimeAfterLocked"
	MsgDateInClosedPeriod     = "CannotSetDateTimeInClosedPeriod"
	MsgDanglingReference      = "ReferencedRecordNotFound"
	MsgDuplicateRecord        = "DuplicateRecord"
)

// OperationError is a business-rule violation naming the offending field.
type OperationError struct {
	Field   string
	Message string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation error on %q: %s", e.Field, e.Message)
}

// NewOperationError builds an OperationError for a field.
func NewOperationError(field, message string) *OperationError {
	return &OperationError{Field: field, Message: message}
}

// =============================================================================
// AUTHORIZATION ERROR - Capability missing
// =============================================================================

type AuthorizationError struct {
	ActorID    string
	Capability string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %q lacks capability %q", e.ActorID, e.Capability)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

// =============================================================================
// VALIDATION ERROR - Malformed input
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %q: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is the caller's fault (4xx).
func IsClientError(err error) bool {
	var opErr *OperationError
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAuthorization) ||
		errors.As(err, &opErr)
}

// IsConflict reports whether the error is a lost concurrency race (409).
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrUniqueViolation)
}

// IsNotFound reports whether the error indicates a missing resource (404).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// classifyStoreError maps store constraint sentinels onto the operation
// taxonomy so callers see (field, message) pairs instead of raw constraint
// failures. Non-constraint errors pass through verbatim.
func classifyStoreError(err error, field string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrForeignKeyMissing):
		return NewOperationError(field, MsgDanglingReference)
	case errors.Is(err, ErrUniqueViolation):
		return NewOperationError(field, MsgDuplicateRecord)
	default:
		return err
	}
}
