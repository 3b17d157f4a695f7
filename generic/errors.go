/*
errors.go - Centralized error types for the temporal engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Version errors - Duplicate or missing effective-dated versions
  2. Interval errors - Overlap, bad ranges, missing open intervals
  3. Invoice errors - Empty invoices, ownership, quantities, payment
  4. Store errors - Serialization conflicts from the database

USAGE:
  Domain packages can wrap generic errors:

    if errors.Is(err, generic.ErrNoVersion) {
        return &PriceNotDefinedError{...}
    }

SEE ALSO:
  - versioned.go: Uses version errors
  - interval.go: Uses interval errors
  - pricing/resolver.go, billing/composer.go: Wrap these with domain context
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateVersion is returned when a version already exists for the
	// same key at the exact same effective date.
	ErrDuplicateVersion = errors.New("duplicate version")

	// ErrNoVersion is returned when a key has no version effective on or
	// before the requested date.
	ErrNoVersion = errors.New("no version in effect")

	// ErrPriceNotDefined is the pricing flavor of ErrNoVersion. It aborts the
	// enclosing invoice; a missing price is never defaulted to zero.
	ErrPriceNotDefined = errors.New("price not defined")

	// ErrOverlap is returned when an interval would overlap another interval
	// of the same subject, including the concurrent-assignment case.
	ErrOverlap = errors.New("interval overlap")

	// ErrInvalidRange is returned when an end date precedes a start date,
	// or a required date is missing.
	ErrInvalidRange = errors.New("invalid range")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrEmptyInvoice is returned when an invoice has no lines.
	ErrEmptyInvoice = errors.New("invoice has no lines")

	// ErrOwnership is returned when a service line's pet isn't the customer's.
	ErrOwnership = errors.New("subject does not belong to customer")

	// ErrInvalidQuantity is returned for product lines with quantity <= 0.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidDiscount is returned for discount multipliers outside (0, 1].
	ErrInvalidDiscount = errors.New("discount multiplier must be in (0, 1]")

	// ErrInvalidPayment is returned for unknown payment methods.
	ErrInvalidPayment = errors.New("invalid payment method")

	// ErrInvalidInput is returned when a required field is missing.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotPermitted is returned when a staff member isn't posted at the branch.
	ErrNotPermitted = errors.New("not permitted at branch")

	// ErrSerializationConflict is returned by stores when the database aborted
	// a transaction because of a concurrent writer. Retried once internally.
	ErrSerializationConflict = errors.New("serialization conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateVersionError names the key and date that already have a version.
type DuplicateVersionError struct {
	Key           string
	EffectiveFrom Date
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("version already exists for %s effective %s", e.Key, e.EffectiveFrom)
}

func (e *DuplicateVersionError) Unwrap() error { return ErrDuplicateVersion }

// NoVersionError names the key and the date that had no version in effect.
type NoVersionError struct {
	Key  string
	AsOf Date
}

func (e *NoVersionError) Error() string {
	return fmt.Sprintf("no version of %s in effect on %s", e.Key, e.AsOf)
}

func (e *NoVersionError) Unwrap() error { return ErrNoVersion }

// OverlapError describes why an interval was rejected.
type OverlapError struct {
	SubjectID string
	ScopeID   string
	Start     Date
	Reason    string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("interval for %s at %s from %s overlaps: %s",
		e.SubjectID, e.ScopeID, e.Start, e.Reason)
}

func (e *OverlapError) Unwrap() error { return ErrOverlap }

// InvalidRangeError is an end before a start.
type InvalidRangeError struct {
	Start Date
	End   Date
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: end %s before start %s", e.End, e.Start)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// NotFoundError names what was looked up.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerializationConflict)
}

// IsConflict returns true if the error is a state conflict (HTTP 409).
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateVersion) ||
		errors.Is(err, ErrOverlap) ||
		errors.Is(err, ErrSerializationConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrEmptyInvoice) ||
		errors.Is(err, ErrOwnership) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidDiscount) ||
		errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrPriceNotDefined)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoVersion) && !errors.Is(err, ErrPriceNotDefined)
}
