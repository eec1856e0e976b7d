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

// sweepBatchSize is the page size SweepExpired reads expired reservations in.
const sweepBatchSize = 500

// ReserveRequest describes a hold on available stock.
type ReserveRequest struct {
	Key       model.StockKey
	Quantity  decimal.Decimal
	TTL       time.Duration // zero means the configured default
	Reference model.Reference
}

// ReservationManager places time-boxed holds on available stock and resolves
// them. Every transition locks the reservation row before the stock row.
type ReservationManager interface {
	Reserve(ctx context.Context, req ReserveRequest, actor Actor) (*model.StockReservation, error)
	Confirm(ctx context.Context, id uuid.UUID, actor Actor) (*model.StockReservation, error)
	// ConfirmTx converts the hold into a SALE movement inside the caller's unit of work.
	ConfirmTx(tx *gorm.DB, id uuid.UUID, actor Actor, meta MovementMeta) (*model.StockReservation, *model.StockMovement, error)
	Release(ctx context.Context, id uuid.UUID, actor Actor) (*model.StockReservation, error)
	ReleaseTx(tx *gorm.DB, id uuid.UUID, actor Actor) (*model.StockReservation, error)
	SweepExpired(ctx context.Context) (int, error)
	Get(ctx context.Context, id uuid.UUID, actor Actor) (*model.StockReservation, error)
}

type reservationManager struct {
	runner       uow.Runner
	stocks       repository.StockRepository
	reservations repository.ReservationRepository
	ledger       StockLedger
	minStock     decimal.Decimal
	defaultTTL   time.Duration
	now          func() time.Time
}

func NewReservationManager(
	runner uow.Runner,
	stocks repository.StockRepository,
	reservations repository.ReservationRepository,
	ledger StockLedger,
	minStock decimal.Decimal,
	defaultTTL time.Duration,
) ReservationManager {
	return &reservationManager{
		runner:       runner,
		stocks:       stocks,
		reservations: reservations,
		ledger:       ledger,
		minStock:     minStock,
		defaultTTL:   defaultTTL,
		now:          time.Now,
	}
}

// ── Reserve ───────────────────────────────────────────────────────────────────

func (m *reservationManager) Reserve(ctx context.Context, req ReserveRequest, actor Actor) (*model.StockReservation, error) {
	if !req.Quantity.IsPositive() {
		return nil, apperror.Validation("reservation quantity must be positive")
	}
	if err := checkQuantity("reservation quantity", req.Quantity); err != nil {
		return nil, err
	}
	if req.TTL < 0 {
		return nil, apperror.Validation("reservation ttl must not be negative")
	}
	if req.Key.TenantID != actor.TenantID {
		return nil, apperror.Validation("stock key belongs to another tenant")
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = m.defaultTTL
	}

	var res *model.StockReservation
	err := m.runner.Do(ctx, func(tx *gorm.DB) error {
		rec, err := m.stocks.LockOrCreateTx(tx, req.Key, m.minStock)
		if err != nil {
			return err
		}
		if rec.AvailableQuantity.LessThan(req.Quantity) {
			return &apperror.InsufficientStockError{
				StockKey:  rec.StockKey,
				Requested: req.Quantity,
				Available: rec.AvailableQuantity,
			}
		}
		rec.ReservedQuantity = rec.ReservedQuantity.Add(req.Quantity)
		rec.Recompute()
		if err := m.stocks.SaveTx(tx, rec); err != nil {
			return err
		}

		now := m.now()
		res = &model.StockReservation{
			ID:            uuid.New(),
			TenantID:      rec.TenantID,
			StockRecordID: rec.ID,
			Quantity:      req.Quantity,
			Status:        model.ReservationActive,
			RequestedBy:   actor.userRef(),
			Reference:     req.Reference,
			ExpiresAt:     now.Add(ttl),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return m.reservations.CreateTx(tx, res)
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("reservation_id", res.ID.String()).
		Str("stock_key", req.Key.String()).
		Str("quantity", req.Quantity.String()).
		Time("expires_at", res.ExpiresAt).
		Msg("stock reserved")
	return res, nil
}

// ── Confirm ───────────────────────────────────────────────────────────────────

func (m *reservationManager) Confirm(ctx context.Context, id uuid.UUID, actor Actor) (*model.StockReservation, error) {
	var res *model.StockReservation
	err := m.runner.Do(ctx, func(tx *gorm.DB) error {
		var err error
		res, _, err = m.ConfirmTx(tx, id, actor, MovementMeta{})
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("reservation_id", id.String()).Msg("reservation confirmed")
	return res, nil
}

func (m *reservationManager) ConfirmTx(tx *gorm.DB, id uuid.UUID, actor Actor, meta MovementMeta) (*model.StockReservation, *model.StockMovement, error) {
	res, rec, err := m.lockActive(tx, id, actor)
	if err != nil {
		return nil, nil, err
	}
	now := m.now()
	if res.IsExpired(now) {
		return nil, nil, apperror.InvalidReservation("reservation %s expired at %s", id, res.ExpiresAt.Format(time.RFC3339))
	}

	rec.ReservedQuantity = rec.ReservedQuantity.Sub(res.Quantity)
	rec.Recompute()

	if meta.Reference.ID == nil {
		meta.Reference = res.Reference
	}
	if meta.Actor == nil {
		meta.Actor = actor.userRef()
	}
	mv, err := m.ledger.AdjustRecordTx(tx, rec, res.Quantity.Neg(), model.MovementSale, meta)
	if err != nil {
		return nil, nil, err
	}

	res.Status = model.ReservationConfirmed
	res.ResolvedAt = &now
	res.UpdatedAt = now
	if err := m.reservations.SaveTx(tx, res); err != nil {
		return nil, nil, err
	}
	return res, mv, nil
}

// ── Release ───────────────────────────────────────────────────────────────────

func (m *reservationManager) Release(ctx context.Context, id uuid.UUID, actor Actor) (*model.StockReservation, error) {
	var res *model.StockReservation
	err := m.runner.Do(ctx, func(tx *gorm.DB) error {
		var err error
		res, err = m.ReleaseTx(tx, id, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("reservation_id", id.String()).Msg("reservation released")
	return res, nil
}

func (m *reservationManager) ReleaseTx(tx *gorm.DB, id uuid.UUID, actor Actor) (*model.StockReservation, error) {
	res, rec, err := m.lockActive(tx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := m.returnHold(tx, res, rec, model.ReservationReleased); err != nil {
		return nil, err
	}
	return res, nil
}

// ── SweepExpired ──────────────────────────────────────────────────────────────

// SweepExpired expires every overdue ACTIVE reservation, one unit of work
// each, so a conflict on one row never rolls back the others. Reservations
// resolved concurrently are skipped. Pages are keyed by id, so a reservation
// that fails to expire is passed over and retried on the next sweep.
func (m *reservationManager) SweepExpired(ctx context.Context) (int, error) {
	now := m.now()
	count, failed := 0, 0
	after := uuid.Nil
	for {
		ids, err := m.reservations.ListExpiredIDs(ctx, now, after, sweepBatchSize)
		if err != nil {
			return count, fmt.Errorf("list expired reservations: %w", err)
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			expired, err := m.expireOne(ctx, id, now)
			switch {
			case errors.Is(err, apperror.ErrNotFound):
			case err != nil:
				failed++
				log.Error().Err(err).Str("reservation_id", id.String()).Msg("sweep: expire failed")
			case expired:
				count++
			}
		}
		if len(ids) < sweepBatchSize {
			break
		}
		after = ids[len(ids)-1]
	}
	if count > 0 || failed > 0 {
		log.Info().Int("expired", count).Int("failed", failed).Msg("reservation sweep completed")
	}
	return count, nil
}

func (m *reservationManager) expireOne(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	expired := false
	err := m.runner.Do(ctx, func(tx *gorm.DB) error {
		expired = false
		res, err := m.reservations.LockTx(tx, id)
		if err != nil {
			return err
		}
		// State re-checked under the lock: Confirm/Release may have won.
		if res.Status != model.ReservationActive || !res.IsExpired(now) {
			return nil
		}
		rec, err := m.stocks.LockByIDTx(tx, res.StockRecordID)
		if err != nil {
			return err
		}
		if err := m.returnHold(tx, res, rec, model.ReservationExpired); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

func (m *reservationManager) Get(ctx context.Context, id uuid.UUID, actor Actor) (*model.StockReservation, error) {
	res, err := m.reservations.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := actor.checkTenant("reservation", id, res.TenantID); err != nil {
		return nil, err
	}
	return res, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// lockActive locks the reservation, then its stock row, and requires ACTIVE.
func (m *reservationManager) lockActive(tx *gorm.DB, id uuid.UUID, actor Actor) (*model.StockReservation, *model.StockRecord, error) {
	res, err := m.reservations.LockTx(tx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, apperror.InvalidReservation("reservation %s not found", id)
		}
		return nil, nil, err
	}
	if res.TenantID != actor.TenantID {
		return nil, nil, apperror.InvalidReservation("reservation %s not found", id)
	}
	if res.Status != model.ReservationActive {
		return nil, nil, apperror.InvalidReservation("reservation %s is %s", id, res.Status)
	}
	rec, err := m.stocks.LockByIDTx(tx, res.StockRecordID)
	if err != nil {
		return nil, nil, err
	}
	return res, rec, nil
}

// returnHold gives the held quantity back to available stock and closes the reservation.
func (m *reservationManager) returnHold(tx *gorm.DB, res *model.StockReservation, rec *model.StockRecord, status model.ReservationStatus) error {
	rec.ReservedQuantity = rec.ReservedQuantity.Sub(res.Quantity)
	if rec.ReservedQuantity.IsNegative() {
		return fmt.Errorf("reserved quantity of %s would go negative", rec.StockKey)
	}
	rec.Recompute()
	if err := m.stocks.SaveTx(tx, rec); err != nil {
		return err
	}
	now := m.now()
	res.Status = status
	res.ResolvedAt = &now
	res.UpdatedAt = now
	return m.reservations.SaveTx(tx, res)
}
