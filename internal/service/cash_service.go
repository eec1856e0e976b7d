package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nexopos/internal/apperror"
	"nexopos/internal/model"
	"nexopos/internal/repository"
	"nexopos/internal/uow"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CloseResult is the outcome of counting the drawer at close.
type CloseResult struct {
	Session        *model.CashRegisterSession
	Expected       decimal.Decimal
	Counted        decimal.Decimal
	Difference     decimal.Decimal
	DifferencePct  decimal.Decimal
	Outcome        model.CloseOutcome
	Severity       model.DiscrepancySeverity
	Adjustment     *model.CashMovement
	JournalEntryID *string
}

// SessionSummary groups a session's movements by payment method.
type SessionSummary struct {
	Session *model.CashRegisterSession
	Balance decimal.Decimal
	Totals  []repository.MethodTotal
}

// CashService (the balance reconciler) keeps the register ledger and closes sessions.
type CashService interface {
	OpenSession(ctx context.Context, actor Actor, openingBalance decimal.Decimal, notes string) (*model.CashRegisterSession, error)
	// RecordMovement records a manual deposit, withdrawal or expense.
	RecordMovement(ctx context.Context, sessionID uuid.UUID, entry model.CashEntry, actor Actor) (*model.CashMovement, error)
	// RecordTx appends entry to a session locked in tx.
	RecordTx(tx *gorm.DB, session *model.CashRegisterSession, entry model.CashEntry, actor Actor) (*model.CashMovement, error)
	ComputeBalance(ctx context.Context, sessionID uuid.UUID, actor Actor) (decimal.Decimal, error)
	Close(ctx context.Context, sessionID uuid.UUID, counted decimal.Decimal, actor Actor, notes string) (*CloseResult, error)
	Suspend(ctx context.Context, sessionID uuid.UUID, actor Actor) (*model.CashRegisterSession, error)
	Resume(ctx context.Context, sessionID uuid.UUID, actor Actor) (*model.CashRegisterSession, error)
	MarkReconciled(ctx context.Context, sessionID uuid.UUID, actor Actor) (*model.CashRegisterSession, error)

	GetSession(ctx context.Context, sessionID uuid.UUID, actor Actor) (*model.CashRegisterSession, error)
	ActiveSession(ctx context.Context, actor Actor) (*model.CashRegisterSession, error)
	Movements(ctx context.Context, sessionID uuid.UUID, actor Actor) ([]model.CashMovement, error)
	Summary(ctx context.Context, sessionID uuid.UUID, actor Actor) (*SessionSummary, error)
}

type cashService struct {
	runner     uow.Runner
	cash       repository.CashRepository
	sequences  repository.SequenceRepository
	accounting Accounting
	tolerance  decimal.Decimal
	now        func() time.Time
}

// NewCashService builds the reconciler. accounting may be nil.
func NewCashService(runner uow.Runner, cash repository.CashRepository, sequences repository.SequenceRepository, accounting Accounting, tolerance decimal.Decimal) CashService {
	return &cashService{
		runner:     runner,
		cash:       cash,
		sequences:  sequences,
		accounting: accounting,
		tolerance:  tolerance.Abs(),
		now:        time.Now,
	}
}

// ── Fold ──────────────────────────────────────────────────────────────────────

// FoldBalance folds cash-affecting movements, in Seq order, starting from opening.
// OPENING and CLOSING never contribute.
func FoldBalance(opening decimal.Decimal, movements []model.CashMovement) decimal.Decimal {
	balance := opening
	for i := range movements {
		balance = balance.Add(movements[i].SignedAmount())
	}
	return balance
}

// classifyDiscrepancy returns normal (≤1%), warning (≤5%) or critical (>5%).
func classifyDiscrepancy(pct decimal.Decimal) model.DiscrepancySeverity {
	abs := pct.Abs()
	switch {
	case abs.LessThanOrEqual(decimal.NewFromInt(1)):
		return model.SeverityNormal
	case abs.LessThanOrEqual(decimal.NewFromInt(5)):
		return model.SeverityWarning
	default:
		return model.SeverityCritical
	}
}

// differencePct expresses diff as a percentage of expected. A difference
// against an expected balance of zero counts as 100%.
func differencePct(diff, expected decimal.Decimal) decimal.Decimal {
	if diff.IsZero() {
		return decimal.Zero
	}
	if expected.IsZero() {
		return decimal.NewFromInt(100).Mul(decimal.NewFromInt(int64(diff.Sign())))
	}
	return diff.Div(expected.Abs()).Mul(decimal.NewFromInt(100)).Round(2)
}

// ── Open ──────────────────────────────────────────────────────────────────────

func (s *cashService) OpenSession(ctx context.Context, actor Actor, openingBalance decimal.Decimal, notes string) (*model.CashRegisterSession, error) {
	if openingBalance.IsNegative() {
		return nil, apperror.Validation("opening balance must not be negative")
	}
	if err := checkMoney("opening balance", openingBalance); err != nil {
		return nil, err
	}
	var session *model.CashRegisterSession
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		existing, err := s.cash.LockActiveForUserTx(tx, actor.TenantID, actor.UserID, model.SessionOpen, model.SessionSuspended)
		if err == nil {
			return apperror.StateViolation("user already has session #%d %s", existing.Number, existing.Status)
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		number, err := s.sequences.NextTx(tx, actor.TenantID, model.SequenceCashSession)
		if err != nil {
			return fmt.Errorf("allocate session number: %w", err)
		}
		now := s.now()
		session = &model.CashRegisterSession{
			ID:             uuid.New(),
			TenantID:       actor.TenantID,
			Number:         number,
			UserID:         actor.UserID,
			OpeningBalance: openingBalance,
			CurrentBalance: openingBalance,
			Status:         model.SessionOpen,
			OpenedAt:       now,
			UpdatedAt:      now,
		}
		if notes != "" {
			session.Notes = &notes
		}
		if err := s.cash.CreateSessionTx(tx, session); err != nil {
			if uow.IsUniqueViolation(err) {
				return apperror.StateViolation("user already has an active session")
			}
			return err
		}
		_, err = s.RecordTx(tx, session, model.OpeningEntry{Amount: openingBalance}, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("session_id", session.ID.String()).
		Int64("number", session.Number).
		Str("opening_balance", openingBalance.String()).
		Msg("cash session opened")
	return session, nil
}

// ── Movements ─────────────────────────────────────────────────────────────────

func (s *cashService) RecordMovement(ctx context.Context, sessionID uuid.UUID, entry model.CashEntry, actor Actor) (*model.CashMovement, error) {
	switch entry.(type) {
	case model.DepositEntry, model.WithdrawalEntry, model.ExpenseEntry:
	default:
		return nil, apperror.Validation("manual movements must be deposit, withdrawal or expense")
	}
	var mv *model.CashMovement
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		session, err := s.lockOwned(tx, sessionID, actor)
		if err != nil {
			return err
		}
		mv, err = s.RecordTx(tx, session, entry, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mv, nil
}

func (s *cashService) RecordTx(tx *gorm.DB, session *model.CashRegisterSession, entry model.CashEntry, actor Actor) (*model.CashMovement, error) {
	if !session.AcceptsMovements() {
		return nil, apperror.StateViolation("cash session #%d is %s", session.Number, session.Status)
	}
	mv := entry.Movement()
	if mv.Amount.IsNegative() {
		return nil, apperror.Validation("cash movement amount must not be negative")
	}
	if mv.Amount.IsZero() && mv.Type != model.CashOpening && mv.Type != model.CashClosing {
		return nil, apperror.Validation("cash movement amount must be positive")
	}
	if mv.PaymentMethod == "" {
		return nil, apperror.Validation("cash movement payment method is required")
	}
	if err := checkMoney("cash movement amount", mv.Amount); err != nil {
		return nil, err
	}

	now := s.now()
	session.LastSeq++
	mv.ID = uuid.New()
	mv.TenantID = session.TenantID
	mv.SessionID = session.ID
	mv.Seq = session.LastSeq
	mv.BalanceBefore = session.CurrentBalance
	mv.BalanceAfter = session.CurrentBalance.Add(mv.SignedAmount())
	mv.CreatedBy = actor.userRef()
	mv.CreatedAt = now

	session.CurrentBalance = mv.BalanceAfter
	switch mv.Type {
	case model.CashSale:
		session.TotalSales = session.TotalSales.Add(mv.Amount)
	case model.CashRefund:
		session.TotalRefunds = session.TotalRefunds.Add(mv.Amount)
	case model.CashDeposit:
		session.TotalIn = session.TotalIn.Add(mv.Amount)
	case model.CashExpense, model.CashWithdrawal:
		session.TotalOut = session.TotalOut.Add(mv.Amount)
	case model.CashAdjustment:
		if mv.Sign() > 0 {
			session.TotalIn = session.TotalIn.Add(mv.Amount)
		} else {
			session.TotalOut = session.TotalOut.Add(mv.Amount)
		}
	}
	session.UpdatedAt = now

	if err := s.cash.CreateMovementTx(tx, &mv); err != nil {
		return nil, fmt.Errorf("insert cash movement: %w", err)
	}
	if err := s.cash.SaveSessionTx(tx, session); err != nil {
		return nil, fmt.Errorf("update cash session: %w", err)
	}
	return &mv, nil
}

// ── Balance ───────────────────────────────────────────────────────────────────

func (s *cashService) ComputeBalance(ctx context.Context, sessionID uuid.UUID, actor Actor) (decimal.Decimal, error) {
	session, err := s.GetSession(ctx, sessionID, actor)
	if err != nil {
		return decimal.Zero, err
	}
	movements, err := s.cash.Movements(ctx, sessionID)
	if err != nil {
		return decimal.Zero, err
	}
	return FoldBalance(session.OpeningBalance, movements), nil
}

// ── Close ─────────────────────────────────────────────────────────────────────

func (s *cashService) Close(ctx context.Context, sessionID uuid.UUID, counted decimal.Decimal, actor Actor, notes string) (*CloseResult, error) {
	if counted.IsNegative() {
		return nil, apperror.Validation("counted amount must not be negative")
	}
	if err := checkMoney("counted amount", counted); err != nil {
		return nil, err
	}
	var res *CloseResult
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		session, err := s.lockOwned(tx, sessionID, actor)
		if err != nil {
			return err
		}
		if session.Status != model.SessionOpen && session.Status != model.SessionSuspended {
			return apperror.StateViolation("cash session #%d is already %s", session.Number, session.Status)
		}
		// Closing a suspended drawer still needs the ledger to accept the final entries.
		session.Status = model.SessionOpen

		movements, err := s.cash.MovementsTx(tx, session.ID)
		if err != nil {
			return err
		}
		expected := FoldBalance(session.OpeningBalance, movements)
		diff := counted.Sub(expected)
		pct := differencePct(diff, expected)

		res = &CloseResult{
			Session:       session,
			Expected:      expected,
			Counted:       counted,
			Difference:    diff,
			DifferencePct: pct,
			Outcome:       model.OutcomeBalanced,
			Severity:      classifyDiscrepancy(pct),
		}
		// The cached balance may drift from the ledger; the fold wins.
		session.CurrentBalance = expected
		if diff.Abs().GreaterThan(s.tolerance) {
			res.Outcome = model.OutcomeDiscrepancy
			res.Adjustment, err = s.RecordTx(tx, session, model.AdjustmentEntry{
				Difference:  diff,
				Description: fmt.Sprintf("close count: expected=%s counted=%s", expected, counted),
			}, actor)
			if err != nil {
				return err
			}
		}
		if _, err := s.RecordTx(tx, session, model.ClosingEntry{Counted: counted}, actor); err != nil {
			return err
		}

		now := s.now()
		outcome, severity := res.Outcome, res.Severity
		session.Status = model.SessionClosed
		session.ExpectedBalance = &expected
		session.CountedBalance = &counted
		session.Difference = &diff
		session.DifferencePct = &pct
		session.Outcome = &outcome
		session.Severity = &severity
		session.ClosedAt = &now
		session.ClosedBy = actor.userRef()
		session.UpdatedAt = now
		if notes != "" {
			session.Notes = &notes
		}
		return s.cash.SaveSessionTx(tx, session)
	})
	if err != nil {
		return nil, err
	}

	logEvt := log.Info()
	if res.Outcome == model.OutcomeDiscrepancy {
		logEvt = log.Warn()
	}
	logEvt.
		Str("session_id", sessionID.String()).
		Str("expected", res.Expected.String()).
		Str("counted", counted.String()).
		Str("difference", res.Difference.String()).
		Str("severity", string(res.Severity)).
		Msg("cash session closed")

	res.JournalEntryID = s.bookJournal(ctx, res.Session, actor)
	return res, nil
}

// bookJournal runs after the close committed. Failures are logged only.
func (s *cashService) bookJournal(ctx context.Context, session *model.CashRegisterSession, actor Actor) *string {
	if s.accounting == nil {
		return nil
	}
	entryID, err := s.accounting.CreateClosingJournalEntry(ctx, session, actor.UserID)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("closing journal entry failed")
		return nil
	}
	err = s.runner.Do(ctx, func(tx *gorm.DB) error {
		locked, err := s.cash.LockSessionTx(tx, session.ID)
		if err != nil {
			return err
		}
		locked.JournalEntryID = &entryID
		return s.cash.SaveSessionTx(tx, locked)
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("store journal entry id failed")
	}
	session.JournalEntryID = &entryID
	return &entryID
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func (s *cashService) Suspend(ctx context.Context, sessionID uuid.UUID, actor Actor) (*model.CashRegisterSession, error) {
	return s.transition(ctx, sessionID, actor, model.SessionOpen, func(sess *model.CashRegisterSession, now time.Time) {
		sess.Status = model.SessionSuspended
		sess.SuspendedAt = &now
	})
}

func (s *cashService) Resume(ctx context.Context, sessionID uuid.UUID, actor Actor) (*model.CashRegisterSession, error) {
	return s.transition(ctx, sessionID, actor, model.SessionSuspended, func(sess *model.CashRegisterSession, _ time.Time) {
		sess.Status = model.SessionOpen
		sess.SuspendedAt = nil
	})
}

func (s *cashService) MarkReconciled(ctx context.Context, sessionID uuid.UUID, actor Actor) (*model.CashRegisterSession, error) {
	return s.transition(ctx, sessionID, actor, model.SessionClosed, func(sess *model.CashRegisterSession, now time.Time) {
		sess.Status = model.SessionReconciled
		sess.ReconciledAt = &now
		sess.ReconciledBy = actor.userRef()
	})
}

func (s *cashService) transition(ctx context.Context, sessionID uuid.UUID, actor Actor, from model.SessionStatus, apply func(*model.CashRegisterSession, time.Time)) (*model.CashRegisterSession, error) {
	var session *model.CashRegisterSession
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		var err error
		session, err = s.lockOwned(tx, sessionID, actor)
		if err != nil {
			return err
		}
		if session.Status != from {
			return apperror.StateViolation("cash session #%d is %s, expected %s", session.Number, session.Status, from)
		}
		now := s.now()
		apply(session, now)
		session.UpdatedAt = now
		return s.cash.SaveSessionTx(tx, session)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("session_id", sessionID.String()).Str("status", string(session.Status)).Msg("cash session updated")
	return session, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *cashService) GetSession(ctx context.Context, sessionID uuid.UUID, actor Actor) (*model.CashRegisterSession, error) {
	session, err := s.cash.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := actor.checkTenant("cash session", sessionID, session.TenantID); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *cashService) ActiveSession(ctx context.Context, actor Actor) (*model.CashRegisterSession, error) {
	return s.cash.FindActiveForUser(ctx, actor.TenantID, actor.UserID)
}

func (s *cashService) Movements(ctx context.Context, sessionID uuid.UUID, actor Actor) ([]model.CashMovement, error) {
	if _, err := s.GetSession(ctx, sessionID, actor); err != nil {
		return nil, err
	}
	return s.cash.Movements(ctx, sessionID)
}

func (s *cashService) Summary(ctx context.Context, sessionID uuid.UUID, actor Actor) (*SessionSummary, error) {
	session, err := s.GetSession(ctx, sessionID, actor)
	if err != nil {
		return nil, err
	}
	movements, err := s.cash.Movements(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	totals, err := s.cash.SummaryByMethod(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionSummary{
		Session: session,
		Balance: FoldBalance(session.OpeningBalance, movements),
		Totals:  totals,
	}, nil
}

func (s *cashService) lockOwned(tx *gorm.DB, sessionID uuid.UUID, actor Actor) (*model.CashRegisterSession, error) {
	session, err := s.cash.LockSessionTx(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := actor.checkTenant("cash session", sessionID, session.TenantID); err != nil {
		return nil, err
	}
	return session, nil
}
