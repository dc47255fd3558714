package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("order not found")
	ErrForbidden               = errors.New("not authorized to access this order")
	ErrInvalidTransition       = errors.New("status transition not allowed")
	ErrDuplicateOrderNumber    = errors.New("order number already exists")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrIdempotencyConflict     = errors.New("idempotency key was used for a different order")
)

// ValidationError is a client mistake; Message is shown to the user as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// UpstreamUnavailableError means a dependency (catalog, storage) could not be
// reached. It is retryable.
type UpstreamUnavailableError struct {
	Service string
	Err     error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }
