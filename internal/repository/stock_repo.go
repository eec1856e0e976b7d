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

// StockMovementFilter defines filters for listing stock movements.
type StockMovementFilter struct {
	TenantID      uuid.UUID
	StockRecordID *uuid.UUID
	ProductID     *uuid.UUID
	Type          string
	From, To      *time.Time
	Page          int
	Limit         int
}

// StockRepository persists balance rows and their movement log. Methods with a
// Tx suffix run on the caller's transaction; Lock* methods take a row lock
// held until that transaction ends.
type StockRepository interface {
	LockOrCreateTx(tx *gorm.DB, key model.StockKey, minStock decimal.Decimal) (*model.StockRecord, error)
	LockByIDTx(tx *gorm.DB, id uuid.UUID) (*model.StockRecord, error)
	SaveTx(tx *gorm.DB, r *model.StockRecord) error
	CreateMovementTx(tx *gorm.DB, m *model.StockMovement) error
	// MovementsByReferenceTx returns every movement of type t that references refID.
	MovementsByReferenceTx(tx *gorm.DB, refID uuid.UUID, t model.MovementType) ([]model.StockMovement, error)
	// ShareByKeyTx reads the row under FOR SHARE: writers, which all lock the
	// row FOR UPDATE, wait until tx ends.
	ShareByKeyTx(tx *gorm.DB, key model.StockKey) (*model.StockRecord, error)
	// SumMovementsTx folds the signed quantities of every movement of the row.
	SumMovementsTx(tx *gorm.DB, stockRecordID uuid.UUID) (decimal.Decimal, error)

	FindByKey(ctx context.Context, key model.StockKey) (*model.StockRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.StockRecord, error)
	ListMovements(ctx context.Context, filter StockMovementFilter) ([]model.StockMovement, int64, error)
}

type stockRepo struct{ db *gorm.DB }

func NewStockRepository(db *gorm.DB) StockRepository { return &stockRepo{db: db} }

func (r *stockRepo) LockOrCreateTx(tx *gorm.DB, key model.StockKey, minStock decimal.Decimal) (*model.StockRecord, error) {
	// Concurrent first movements race on the unique stock_key; the loser's
	// insert is a no-op and both then lock the same row.
	fresh := model.NewStockRecord(key, minStock)
	fresh.Recompute()
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stock_key"}},
		DoNothing: true,
	}).Create(&fresh).Error; err != nil {
		return nil, err
	}

	var rec model.StockRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("stock_key = ?", key.String()).
		First(&rec).Error
	if err != nil {
		return nil, translate(err, "stock record", key.String())
	}
	return &rec, nil
}

func (r *stockRepo) LockByIDTx(tx *gorm.DB, id uuid.UUID) (*model.StockRecord, error) {
	var rec model.StockRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "stock record", id)
	}
	return &rec, nil
}

func (r *stockRepo) SaveTx(tx *gorm.DB, rec *model.StockRecord) error {
	return tx.Save(rec).Error
}

func (r *stockRepo) CreateMovementTx(tx *gorm.DB, m *model.StockMovement) error {
	return tx.Create(m).Error
}

func (r *stockRepo) MovementsByReferenceTx(tx *gorm.DB, refID uuid.UUID, t model.MovementType) ([]model.StockMovement, error) {
	var ms []model.StockMovement
	err := tx.Where("reference_id = ? AND type = ?", refID, t).
		Order("created_at, id").
		Find(&ms).Error
	return ms, err
}

func (r *stockRepo) FindByKey(ctx context.Context, key model.StockKey) (*model.StockRecord, error) {
	var rec model.StockRecord
	err := r.db.WithContext(ctx).Where("stock_key = ?", key.String()).First(&rec).Error
	if err != nil {
		return nil, translate(err, "stock record", key.String())
	}
	return &rec, nil
}

func (r *stockRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.StockRecord, error) {
	var rec model.StockRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err, "stock record", id)
	}
	return &rec, nil
}

func (r *stockRepo) ListMovements(ctx context.Context, filter StockMovementFilter) ([]model.StockMovement, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.StockMovement{}).Where("tenant_id = ?", filter.TenantID)
	if filter.StockRecordID != nil {
		q = q.Where("stock_record_id = ?", *filter.StockRecordID)
	}
	if filter.ProductID != nil {
		q = q.Where("product_id = ?", *filter.ProductID)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := Page(filter.Page, filter.Limit)
	var movements []model.StockMovement
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&movements).Error
	return movements, total, err
}

func (r *stockRepo) ShareByKeyTx(tx *gorm.DB, key model.StockKey) (*model.StockRecord, error) {
	var rec model.StockRecord
	err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
		Where("stock_key = ?", key.String()).
		First(&rec).Error
	if err != nil {
		return nil, translate(err, "stock record", key.String())
	}
	return &rec, nil
}

func (r *stockRepo) SumMovementsTx(tx *gorm.DB, stockRecordID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.Model(&model.StockMovement{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("stock_record_id = ?", stockRecordID).
		Row().Scan(&sum)
	return sum, err
}
