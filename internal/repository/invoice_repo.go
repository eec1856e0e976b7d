package repository

import (
	"context"
	"time"

	"nexopos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InvoiceRepository interface {
	Create(ctx context.Context, inv *model.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	FindBySaleID(ctx context.Context, saleID uuid.UUID) (*model.Invoice, error)
	Update(ctx context.Context, inv *model.Invoice) error
	// ListRetryable returns ERROR invoices whose next retry is due.
	ListRetryable(ctx context.Context, now time.Time, maxRetries int) ([]model.Invoice, error)
}

type invoiceRepo struct{ db *gorm.DB }

func NewInvoiceRepository(db *gorm.DB) InvoiceRepository { return &invoiceRepo{db: db} }

func (r *invoiceRepo) Create(ctx context.Context, inv *model.Invoice) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *invoiceRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var inv model.Invoice
	if err := r.db.WithContext(ctx).First(&inv, "id = ?", id).Error; err != nil {
		return nil, translate(err, "invoice", id)
	}
	return &inv, nil
}

func (r *invoiceRepo) FindBySaleID(ctx context.Context, saleID uuid.UUID) (*model.Invoice, error) {
	var inv model.Invoice
	if err := r.db.WithContext(ctx).First(&inv, "sale_id = ?", saleID).Error; err != nil {
		return nil, translate(err, "invoice for sale", saleID)
	}
	return &inv, nil
}

func (r *invoiceRepo) Update(ctx context.Context, inv *model.Invoice) error {
	return r.db.WithContext(ctx).Save(inv).Error
}

func (r *invoiceRepo) ListRetryable(ctx context.Context, now time.Time, maxRetries int) ([]model.Invoice, error) {
	var out []model.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			model.InvoiceError, maxRetries, now).
		Order("created_at").
		Limit(50).
		Find(&out).Error
	return out, err
}
