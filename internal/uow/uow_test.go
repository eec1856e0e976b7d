package uow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"nexopos/internal/apperror"
	"nexopos/internal/uow"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = uow.Policy{MaxAttempts: 4, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestRetry_SucceedsAfterConflicts(t *testing.T) {
	calls := 0
	err := uow.Retry(context.Background(), fast, func(attempt int) error {
		calls++
		if attempt < 3 {
			return fmt.Errorf("update stock: %w", uow.ConflictError())
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_BusinessErrorNotRetried(t *testing.T) {
	calls := 0
	err := uow.Retry(context.Background(), fast, func(int) error {
		calls++
		return apperror.Validation("bad quantity")
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustedReturnsTypedError(t *testing.T) {
	calls := 0
	err := uow.Retry(context.Background(), fast, func(int) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, apperror.ErrConflictRetryExhausted)

	var exhausted *apperror.ConflictRetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 4, exhausted.Attempts)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := uow.Policy{MaxAttempts: 10, BaseBackoff: time.Second, MaxBackoff: time.Second}
	calls := 0
	err := uow.Retry(ctx, slow, func(int) error {
		calls++
		cancel()
		return uow.ConflictError()
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsConflict(t *testing.T) {
	assert.True(t, uow.IsConflict(&pgconn.PgError{Code: "40001"}))
	assert.True(t, uow.IsConflict(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "55P03"})))
	assert.False(t, uow.IsConflict(&pgconn.PgError{Code: "23505"}))
	assert.False(t, uow.IsConflict(errors.New("boom")))
}

func TestParseIsolation(t *testing.T) {
	assert.Equal(t, "Serializable", uow.ParseIsolation("serializable").String())
	assert.Equal(t, "Read Committed", uow.ParseIsolation("").String())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, uow.IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, uow.IsUniqueViolation(uow.ConflictError()))
}
