package repository

import (
	"context"
	"time"

	"nexopos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaleFilter defines filters for listing sales.
type SaleFilter struct {
	TenantID uuid.UUID
	Status   string
	UserID   *uuid.UUID
	From, To *time.Time
	Page     int
	Limit    int
}

type SaleRepository interface {
	// CreateTx inserts the sale together with its items and payments.
	CreateTx(tx *gorm.DB, s *model.Sale) error
	// LockTx locks the sale row and loads its items and payments.
	LockTx(tx *gorm.DB, id uuid.UUID) (*model.Sale, error)
	// SaveTx updates the sale row only; items and payments are immutable.
	SaveTx(tx *gorm.DB, s *model.Sale) error
	CreatePaymentTx(tx *gorm.DB, p *model.SalePayment) error
	// NextNumberTx draws the next sale number from sale_number_seq. nextval
	// takes no row lock, so concurrent sales never queue on numbering.
	NextNumberTx(tx *gorm.DB) (int64, error)

	FindByID(ctx context.Context, id uuid.UUID) (*model.Sale, error)
	List(ctx context.Context, filter SaleFilter) ([]model.Sale, int64, error)
}

type saleRepo struct{ db *gorm.DB }

func NewSaleRepository(db *gorm.DB) SaleRepository { return &saleRepo{db: db} }

func (r *saleRepo) CreateTx(tx *gorm.DB, s *model.Sale) error {
	return tx.Create(s).Error
}

func (r *saleRepo) NextNumberTx(tx *gorm.DB) (int64, error) {
	var num int64
	err := tx.Raw("SELECT nextval('sale_number_seq')").Scan(&num).Error
	return num, err
}

func (r *saleRepo) LockTx(tx *gorm.DB, id uuid.UUID) (*model.Sale, error) {
	var s model.Sale
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "sale", id)
	}
	// Preload would put FOR UPDATE on the child queries too; load them separately.
	if err := tx.Where("sale_id = ?", id).Order("id").Find(&s.Items).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("sale_id = ?", id).Order("created_at").Find(&s.Payments).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *saleRepo) SaveTx(tx *gorm.DB, s *model.Sale) error {
	return tx.Omit(clause.Associations).Save(s).Error
}

func (r *saleRepo) CreatePaymentTx(tx *gorm.DB, p *model.SalePayment) error {
	return tx.Create(p).Error
}

func (r *saleRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Sale, error) {
	var s model.Sale
	err := r.db.WithContext(ctx).Preload("Items").Preload("Payments").First(&s, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "sale", id)
	}
	return &s, nil
}

func (r *saleRepo) List(ctx context.Context, filter SaleFilter) ([]model.Sale, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Sale{}).Where("tenant_id = ?", filter.TenantID)
	if filter.Status != "" && filter.Status != "all" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
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
	var sales []model.Sale
	err := q.Preload("Items").Preload("Payments").
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&sales).Error
	return sales, total, err
}
