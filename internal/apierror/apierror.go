// Package apierror provides standardized error response structures for the API.
// All errors returned to clients go through this package to ensure consistency
// and to prevent leaking internal details (stack traces, DB errors, etc.).
package apierror

import (
	"errors"
	"net/http"

	"nexopos/internal/apperror"
)

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

// Validation wraps multiple field errors.
type ValidationError struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Detail: "validation error", Fields: fields}
}

// RetryAfterSeconds is advertised on 503 responses caused by exhausted conflict retries.
const RetryAfterSeconds = "1"

// FromError maps a domain error to an HTTP status and a safe envelope.
// Unknown errors become 500 with a generic message.
func FromError(err error) (int, *APIError) {
	switch {
	case errors.Is(err, apperror.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, &APIError{Detail: err.Error(), Code: "insufficient_stock"}
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, &APIError{Detail: err.Error(), Code: "validation"}
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, &APIError{Detail: err.Error(), Code: "not_found"}
	case errors.Is(err, apperror.ErrInvalidReservation):
		return http.StatusConflict, &APIError{Detail: err.Error(), Code: "invalid_reservation"}
	case errors.Is(err, apperror.ErrStateViolation):
		return http.StatusConflict, &APIError{Detail: err.Error(), Code: "state_violation"}
	case errors.Is(err, apperror.ErrConflictRetryExhausted):
		return http.StatusServiceUnavailable, &APIError{Detail: "too much contention, retry later", Code: "conflict"}
	default:
		return http.StatusInternalServerError, New("internal server error")
	}
}
