// Package apperror defines the domain error kinds shared by the core services.
// Callers match them with errors.Is / errors.As; the HTTP layer maps them to
// status codes in package apierror.
package apperror

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidReservation     = errors.New("invalid reservation")
	ErrConflictRetryExhausted = errors.New("conflict retry exhausted")
	ErrNotFound               = errors.New("not found")
	ErrStateViolation         = errors.New("state violation")
	ErrValidation             = errors.New("validation failed")
)

// InsufficientStockError carries the amounts involved in a rejected deduction.
type InsufficientStockError struct {
	StockKey  string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %s, available %s",
		e.StockKey, e.Requested.String(), e.Available.String())
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ConflictRetryExhaustedError is returned after the last attempt of a unit of
// work failed with a serialization conflict.
type ConflictRetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ConflictRetryExhaustedError) Error() string {
	return fmt.Sprintf("conflict retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ConflictRetryExhaustedError) Is(target error) bool {
	return target == ErrConflictRetryExhausted
}

func (e *ConflictRetryExhaustedError) Unwrap() error { return e.Last }

// NotFound wraps ErrNotFound with the entity name and id.
func NotFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

// Validation wraps ErrValidation with a message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// StateViolation wraps ErrStateViolation with a message.
func StateViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateViolation, fmt.Sprintf(format, args...))
}

// InvalidReservation wraps ErrInvalidReservation with a message.
func InvalidReservation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidReservation, fmt.Sprintf(format, args...))
}
