// Package uow runs units of work: one database transaction per top-level
// operation, retried as a whole when the database reports a serialization
// conflict or deadlock.
package uow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"nexopos/internal/apperror"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Runner executes fn inside a transaction. fn receives the transaction handle
// and must pass it to every repository call it makes. A returned error (or a
// panic) rolls everything back.
type Runner interface {
	Do(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Policy controls how conflicting units of work are retried.
type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy is used when a zero Policy is supplied.
var DefaultPolicy = Policy{MaxAttempts: 5, BaseBackoff: 10 * time.Millisecond, MaxBackoff: 500 * time.Millisecond}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultPolicy.BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	return p
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}

// GormRunner is the production Runner backed by gorm transactions.
type GormRunner struct {
	db        *gorm.DB
	isolation sql.IsolationLevel
	policy    Policy
}

func NewGormRunner(db *gorm.DB, isolation sql.IsolationLevel, policy Policy) *GormRunner {
	return &GormRunner{db: db, isolation: isolation, policy: policy.normalized()}
}

func (r *GormRunner) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return Retry(ctx, r.policy, func(attempt int) error {
		return r.db.WithContext(ctx).Transaction(fn, &sql.TxOptions{Isolation: r.isolation})
	})
}

// ParseIsolation maps the TX_ISOLATION setting to a sql isolation level.
func ParseIsolation(s string) sql.IsolationLevel {
	switch s {
	case "serializable":
		return sql.LevelSerializable
	case "repeatable_read":
		return sql.LevelRepeatableRead
	default:
		return sql.LevelReadCommitted
	}
}

// Retry calls fn until it succeeds, fails with a non-conflict error, or the
// policy runs out of attempts. Exhaustion is reported as
// *apperror.ConflictRetryExhaustedError. attempt starts at 1.
func Retry(ctx context.Context, p Policy, fn func(attempt int) error) error {
	p = p.normalized()
	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		err := fn(attempts)
		if err == nil {
			return struct{}{}, nil
		}
		if !IsConflict(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		log.Debug().Int("attempt", attempts).Err(err).Msg("uow: conflict, retrying")
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	if IsConflict(err) {
		log.Warn().Int("attempts", attempts).Err(err).Msg("uow: conflict retries exhausted")
		return &apperror.ConflictRetryExhaustedError{Attempts: attempts, Last: err}
	}
	return err
}

// SQLSTATE codes treated as transient contention.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

// IsConflict reports whether err is a serialization failure, deadlock, or
// lock timeout raised by PostgreSQL.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// ConflictError builds the error a conflicting transaction would return.
// Used by in-memory runners to exercise the retry path.
func ConflictError() error {
	return &pgconn.PgError{Code: codeSerializationFailure, Message: "could not serialize access due to concurrent update"}
}
