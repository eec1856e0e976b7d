package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus: PENDING → ISSUED | REJECTED | ERROR (ERROR is retried by the cron).
type InvoiceStatus string

const (
	InvoicePending  InvoiceStatus = "PENDING"
	InvoiceIssued   InvoiceStatus = "ISSUED"
	InvoiceRejected InvoiceStatus = "REJECTED"
	InvoiceError    InvoiceStatus = "ERROR"
)

// Invoice is the fiscal document requested for a completed sale. It is
// created after the sale commits and filled in asynchronously.
type Invoice struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index"`
	SaleID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Number   *int64
	Total    decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Status   InvoiceStatus   `gorm:"type:varchar(20);not null;index"`
	// AuthorizationCode is returned by the e-invoice provider.
	AuthorizationCode *string `gorm:"type:varchar(40)"`
	AuthorizedUntil   *time.Time
	// PDFPath points at the rendered ticket under PDF_STORAGE_PATH.
	PDFPath     *string
	RetryCount  int `gorm:"not null;default:0"`
	NextRetryAt *time.Time
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Invoice) TableName() string { return "invoices" }
