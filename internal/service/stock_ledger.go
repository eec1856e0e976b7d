package service

import (
	"context"
	"fmt"
	"sort"
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

// MovementMeta carries the optional attributes of a stock movement.
type MovementMeta struct {
	UnitCost           *decimal.Decimal
	Reference          model.Reference
	Notes              string
	Actor              *uuid.UUID
	ReversesMovementID *uuid.UUID
}

// AdjustResult is the row after the adjustment and the movement that produced it.
type AdjustResult struct {
	Record   *model.StockRecord
	Movement *model.StockMovement
}

// CountResult reports a physical count. Movement is nil when nothing changed.
type CountResult struct {
	Expected   decimal.Decimal
	Actual     decimal.Decimal
	Difference decimal.Decimal
	Record     *model.StockRecord
	Movement   *model.StockMovement
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	TransferID uuid.UUID
	Out        AdjustResult
	In         AdjustResult
}

// LedgerReport compares a balance row with its movement log and active holds.
type LedgerReport struct {
	StockKey         string
	Quantity         decimal.Decimal
	MovementSum      decimal.Decimal
	Reserved         decimal.Decimal
	ActiveReserved   decimal.Decimal
	Available        decimal.Decimal
	QuantityMatches  bool
	ReservedMatches  bool
	AvailableMatches bool
}

// Consistent reports whether every check of the report passed.
func (r *LedgerReport) Consistent() bool {
	return r.QuantityMatches && r.ReservedMatches && r.AvailableMatches
}

// StockLedger owns every change to stock quantities. Each change is a locked
// read-modify-write on one StockRecord plus an appended StockMovement.
type StockLedger interface {
	Adjust(ctx context.Context, key model.StockKey, delta decimal.Decimal, t model.MovementType, meta MovementMeta) (*AdjustResult, error)
	// AdjustTx runs inside the caller's unit of work.
	AdjustTx(tx *gorm.DB, key model.StockKey, delta decimal.Decimal, t model.MovementType, meta MovementMeta) (*AdjustResult, error)
	// AdjustRecordTx applies a movement to a row already locked in tx.
	AdjustRecordTx(tx *gorm.DB, rec *model.StockRecord, delta decimal.Decimal, t model.MovementType, meta MovementMeta) (*model.StockMovement, error)
	// ReverseTx books the inverse of m on its row, linked back to m.
	ReverseTx(tx *gorm.DB, m *model.StockMovement, t model.MovementType, meta MovementMeta) (*AdjustResult, error)
	PerformCount(ctx context.Context, key model.StockKey, actual decimal.Decimal, actor *uuid.UUID) (*CountResult, error)
	Transfer(ctx context.Context, from, to model.StockKey, qty decimal.Decimal, meta MovementMeta) (*TransferResult, error)

	GetStock(ctx context.Context, key model.StockKey) (*model.StockRecord, error)
	ListMovements(ctx context.Context, filter repository.StockMovementFilter) ([]model.StockMovement, int64, error)
	VerifyLedger(ctx context.Context, key model.StockKey) (*LedgerReport, error)
}

type stockLedger struct {
	runner       uow.Runner
	stocks       repository.StockRepository
	reservations repository.ReservationRepository
	minStock     decimal.Decimal
	now          func() time.Time
}

func NewStockLedger(runner uow.Runner, stocks repository.StockRepository, reservations repository.ReservationRepository, minStock decimal.Decimal) StockLedger {
	return &stockLedger{
		runner:       runner,
		stocks:       stocks,
		reservations: reservations,
		minStock:     minStock,
		now:          time.Now,
	}
}

// ── Adjust ────────────────────────────────────────────────────────────────────

func (s *stockLedger) Adjust(ctx context.Context, key model.StockKey, delta decimal.Decimal, t model.MovementType, meta MovementMeta) (*AdjustResult, error) {
	var res *AdjustResult
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		var err error
		res, err = s.AdjustTx(tx, key, delta, t, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("stock_key", key.String()).
		Str("type", string(t)).
		Str("delta", delta.String()).
		Str("quantity_after", res.Record.Quantity.String()).
		Msg("stock adjusted")
	return res, nil
}

func (s *stockLedger) AdjustTx(tx *gorm.DB, key model.StockKey, delta decimal.Decimal, t model.MovementType, meta MovementMeta) (*AdjustResult, error) {
	if err := validateDelta(delta, t); err != nil {
		return nil, err
	}
	rec, err := s.stocks.LockOrCreateTx(tx, key, s.minStock)
	if err != nil {
		return nil, fmt.Errorf("lock stock %s: %w", key, err)
	}
	m, err := s.AdjustRecordTx(tx, rec, delta, t, meta)
	if err != nil {
		return nil, err
	}
	return &AdjustResult{Record: rec, Movement: m}, nil
}

func (s *stockLedger) AdjustRecordTx(tx *gorm.DB, rec *model.StockRecord, delta decimal.Decimal, t model.MovementType, meta MovementMeta) (*model.StockMovement, error) {
	if err := validateDelta(delta, t); err != nil {
		return nil, err
	}
	if meta.UnitCost != nil {
		if err := checkCost("unit cost", *meta.UnitCost); err != nil {
			return nil, err
		}
	}

	before := rec.Quantity
	after := before.Add(delta)
	if delta.IsNegative() {
		// Outflows other than count adjustments may not consume held stock.
		floor := rec.ReservedQuantity
		if t == model.MovementAdjustment {
			floor = decimal.Zero
		}
		if after.IsNegative() || after.LessThan(floor) {
			return nil, &apperror.InsufficientStockError{
				StockKey:  rec.StockKey,
				Requested: delta.Neg(),
				Available: before.Sub(floor),
			}
		}
	}

	m := &model.StockMovement{
		ID:                 uuid.New(),
		StockRecordID:      rec.ID,
		TenantID:           rec.TenantID,
		ProductID:          rec.ProductID,
		Type:               t,
		Quantity:           delta,
		QuantityBefore:     before,
		QuantityAfter:      after,
		Reference:          meta.Reference,
		ReversesMovementID: meta.ReversesMovementID,
		Notes:              meta.Notes,
		CreatedBy:          meta.Actor,
		CreatedAt:          s.now(),
	}
	if meta.UnitCost != nil {
		unit := *meta.UnitCost
		total := delta.Abs().Mul(unit).Round(2)
		m.UnitCost = &unit
		m.TotalCost = &total
		if delta.IsPositive() {
			rec.AverageCost = model.WeightedAverageCost(before, rec.AverageCost, delta, unit)
			rec.LastCost = unit
		}
	}

	rec.Quantity = after
	rec.Recompute()

	if err := s.stocks.CreateMovementTx(tx, m); err != nil {
		return nil, fmt.Errorf("insert stock movement: %w", err)
	}
	if err := s.stocks.SaveTx(tx, rec); err != nil {
		return nil, fmt.Errorf("update stock record: %w", err)
	}
	return m, nil
}

func (s *stockLedger) ReverseTx(tx *gorm.DB, orig *model.StockMovement, t model.MovementType, meta MovementMeta) (*AdjustResult, error) {
	rec, err := s.stocks.LockByIDTx(tx, orig.StockRecordID)
	if err != nil {
		return nil, err
	}
	id := orig.ID
	meta.ReversesMovementID = &id
	if meta.UnitCost == nil && orig.UnitCost != nil {
		meta.UnitCost = orig.UnitCost
	}
	m, err := s.AdjustRecordTx(tx, rec, orig.Quantity.Neg(), t, meta)
	if err != nil {
		return nil, err
	}
	return &AdjustResult{Record: rec, Movement: m}, nil
}

// validateDelta rejects zero deltas and deltas whose sign contradicts the movement type.
func validateDelta(delta decimal.Decimal, t model.MovementType) error {
	dir, ok := t.Direction()
	if !ok {
		return apperror.Validation("unknown movement type %q", t)
	}
	if delta.IsZero() {
		return apperror.Validation("movement quantity must not be zero")
	}
	if err := checkQuantity("movement quantity", delta); err != nil {
		return err
	}
	if dir > 0 && delta.IsNegative() {
		return apperror.Validation("%s requires a positive quantity, got %s", t, delta)
	}
	if dir < 0 && delta.IsPositive() {
		return apperror.Validation("%s requires a negative quantity, got %s", t, delta)
	}
	return nil
}

// ── PerformCount ──────────────────────────────────────────────────────────────

func (s *stockLedger) PerformCount(ctx context.Context, key model.StockKey, actual decimal.Decimal, actor *uuid.UUID) (*CountResult, error) {
	if actual.IsNegative() {
		return nil, apperror.Validation("counted quantity must not be negative")
	}
	if err := checkQuantity("counted quantity", actual); err != nil {
		return nil, err
	}
	var res *CountResult
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		rec, err := s.stocks.LockOrCreateTx(tx, key, s.minStock)
		if err != nil {
			return err
		}
		now := s.now()
		res = &CountResult{
			Expected:   rec.Quantity,
			Actual:     actual,
			Difference: actual.Sub(rec.Quantity),
			Record:     rec,
		}
		rec.LastCountedAt = &now
		if res.Difference.IsZero() {
			return s.stocks.SaveTx(tx, rec)
		}
		countID := uuid.New()
		res.Movement, err = s.AdjustRecordTx(tx, rec, res.Difference, model.MovementAdjustment, MovementMeta{
			Reference: model.Reference{Type: model.ReferenceCount, ID: &countID},
			Notes:     fmt.Sprintf("physical count: expected=%s actual=%s difference=%s", res.Expected, actual, res.Difference),
			Actor:     actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("stock_key", key.String()).
		Str("expected", res.Expected.String()).
		Str("actual", actual.String()).
		Msg("stock count recorded")
	return res, nil
}

// ── Transfer ──────────────────────────────────────────────────────────────────

func (s *stockLedger) Transfer(ctx context.Context, from, to model.StockKey, qty decimal.Decimal, meta MovementMeta) (*TransferResult, error) {
	if !qty.IsPositive() {
		return nil, apperror.Validation("transfer quantity must be positive")
	}
	if err := checkQuantity("transfer quantity", qty); err != nil {
		return nil, err
	}
	if from.TenantID != to.TenantID {
		return nil, apperror.Validation("transfer across tenants is not allowed")
	}
	if from.String() == to.String() {
		return nil, apperror.Validation("transfer source and destination are the same")
	}

	var res *TransferResult
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		// Lock both rows in canonical key order so opposite transfers cannot deadlock.
		keys := []model.StockKey{from, to}
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		locked := make(map[string]*model.StockRecord, 2)
		for _, k := range keys {
			rec, err := s.stocks.LockOrCreateTx(tx, k, s.minStock)
			if err != nil {
				return err
			}
			locked[k.String()] = rec
		}
		src, dst := locked[from.String()], locked[to.String()]

		transferID := uuid.New()
		legMeta := meta
		legMeta.Reference = model.Reference{Type: model.ReferenceTransfer, ID: &transferID, Number: meta.Reference.Number}
		cost := src.AverageCost
		legMeta.UnitCost = &cost

		out, err := s.AdjustRecordTx(tx, src, qty.Neg(), model.MovementTransferOut, legMeta)
		if err != nil {
			return err
		}
		in, err := s.AdjustRecordTx(tx, dst, qty, model.MovementTransferIn, legMeta)
		if err != nil {
			return err
		}
		res = &TransferResult{
			TransferID: transferID,
			Out:        AdjustResult{Record: src, Movement: out},
			In:         AdjustResult{Record: dst, Movement: in},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *stockLedger) GetStock(ctx context.Context, key model.StockKey) (*model.StockRecord, error) {
	return s.stocks.FindByKey(ctx, key)
}

func (s *stockLedger) ListMovements(ctx context.Context, filter repository.StockMovementFilter) ([]model.StockMovement, int64, error) {
	return s.stocks.ListMovements(ctx, filter)
}

// VerifyLedger reads the row and both sums in one transaction under a share
// lock on the row, so a concurrent movement cannot land between the reads.
func (s *stockLedger) VerifyLedger(ctx context.Context, key model.StockKey) (*LedgerReport, error) {
	var (
		rec       *model.StockRecord
		sum, held decimal.Decimal
	)
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		var err error
		if rec, err = s.stocks.ShareByKeyTx(tx, key); err != nil {
			return err
		}
		if sum, err = s.stocks.SumMovementsTx(tx, rec.ID); err != nil {
			return err
		}
		held, err = s.reservations.SumActiveTx(tx, rec.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	report := &LedgerReport{
		StockKey:         rec.StockKey,
		Quantity:         rec.Quantity,
		MovementSum:      sum,
		Reserved:         rec.ReservedQuantity,
		ActiveReserved:   held,
		Available:        rec.AvailableQuantity,
		QuantityMatches:  rec.Quantity.Equal(sum),
		ReservedMatches:  rec.ReservedQuantity.Equal(held),
		AvailableMatches: rec.AvailableQuantity.Equal(rec.Quantity.Sub(rec.ReservedQuantity)),
	}
	if !report.Consistent() {
		log.Error().
			Str("stock_key", rec.StockKey).
			Str("quantity", rec.Quantity.String()).
			Str("movement_sum", sum.String()).
			Str("reserved", rec.ReservedQuantity.String()).
			Str("active_reserved", held.String()).
			Msg("stock ledger inconsistency")
	}
	return report, nil
}
