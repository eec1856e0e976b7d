package repository

import (
	"context"
	"time"

	"nexopos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReservationRepository interface {
	CreateTx(tx *gorm.DB, res *model.StockReservation) error
	LockTx(tx *gorm.DB, id uuid.UUID) (*model.StockReservation, error)
	SaveTx(tx *gorm.DB, res *model.StockReservation) error
	SumActiveTx(tx *gorm.DB, stockRecordID uuid.UUID) (decimal.Decimal, error)

	FindByID(ctx context.Context, id uuid.UUID) (*model.StockReservation, error)
	// ListExpiredIDs returns up to limit ids, ascending and greater than after,
	// of ACTIVE reservations whose expiresAt < now. uuid.Nil starts at the top.
	ListExpiredIDs(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type reservationRepo struct{ db *gorm.DB }

func NewReservationRepository(db *gorm.DB) ReservationRepository { return &reservationRepo{db: db} }

func (r *reservationRepo) CreateTx(tx *gorm.DB, res *model.StockReservation) error {
	return tx.Create(res).Error
}

func (r *reservationRepo) LockTx(tx *gorm.DB, id uuid.UUID) (*model.StockReservation, error) {
	var res model.StockReservation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&res, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "reservation", id)
	}
	return &res, nil
}

func (r *reservationRepo) SaveTx(tx *gorm.DB, res *model.StockReservation) error {
	return tx.Save(res).Error
}

func (r *reservationRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.StockReservation, error) {
	var res model.StockReservation
	if err := r.db.WithContext(ctx).First(&res, "id = ?", id).Error; err != nil {
		return nil, translate(err, "reservation", id)
	}
	return &res, nil
}

func (r *reservationRepo) ListExpiredIDs(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.StockReservation{}).
		Where("status = ? AND expires_at < ? AND id > ?", model.ReservationActive, now, after).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *reservationRepo) SumActiveTx(tx *gorm.DB, stockRecordID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.Model(&model.StockReservation{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("stock_record_id = ? AND status = ?", stockRecordID, model.ReservationActive).
		Row().Scan(&sum)
	return sum, err
}
