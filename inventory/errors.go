/*
errors.go - Error types for the inventory core

ERROR CATEGORIES:
  1. ValidationError - malformed input (empty name, non-positive quantity,
     negative price)
  2. NotFoundError - referenced product or transaction does not exist
  3. InsufficientStockError - an exit would drive stock below zero
  4. ConflictError - delete blocked by history, reused idempotency key

USAGE:
  Every structured error unwraps to a sentinel, so callers can branch with
  errors.Is and still pull details out with errors.As:

    var short *inventory.InsufficientStockError
    if errors.As(err, &short) {
        // short.Current, short.Delta
    }

  The core never formats user-facing text; the API layer does.
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")

	// ErrDuplicateIdempotencyKey is returned by stores when a transaction with
	// the same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Entity string // "product" or "transaction"
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError reports a movement that would leave stock negative.
type InsufficientStockError struct {
	ProductID ProductID
	Current   int64
	Delta     int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: current %d, delta %d",
		e.ProductID, e.Current, e.Delta)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type ConflictError struct {
	Entity string
	ID     int64
	Reason string
	Err    error // optional underlying cause
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConflict, e.Err}
	}
	return []error{ErrConflict}
}

func productNotFound(id ProductID) error {
	return &NotFoundError{Entity: "product", ID: int64(id)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to caller input or state
// the caller can act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrConflict)
}
