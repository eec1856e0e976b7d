package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleStatus: DRAFT/PENDING → COMPLETED | CANCELLED. COMPLETED can still move to
// CANCELLED through a compensating transaction.
type SaleStatus string

const (
	SaleDraft     SaleStatus = "DRAFT"
	SalePending   SaleStatus = "PENDING"
	SaleCompleted SaleStatus = "COMPLETED"
	SaleCancelled SaleStatus = "CANCELLED"
)

// SaleType distinguishes sales paid at the counter from sales on credit.
type SaleType string

const (
	SaleTypeCash   SaleType = "CASH"
	SaleTypeCredit SaleType = "CREDIT"
)

// PaymentMethod of a sale payment or cash movement. Only PaymentCash moves
// the physical drawer balance. The unpaid part of a CREDIT sale is its
// CreditOutstanding, never a payment.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentOther    PaymentMethod = "OTHER"
)

// AffectsCash reports whether the method changes the physical cash balance.
func (m PaymentMethod) AffectsCash() bool { return m == PaymentCash }

// Sale is the trigger of stock and cash movements. Its transition to
// COMPLETED/CANCELLED shares the transaction that writes those movements.
type Sale struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID          uuid.UUID  `gorm:"type:uuid;not null;index"`
	Number            int64      `gorm:"not null"`
	UserID            uuid.UUID  `gorm:"type:uuid;not null;index"`
	SessionID         *uuid.UUID `gorm:"type:uuid;index"` // register session that recorded the sale
	CustomerID        *uuid.UUID `gorm:"type:uuid"`
	CustomerEmail     *string
	Type              SaleType        `gorm:"type:varchar(10);not null;default:'CASH'"`
	Status            SaleStatus      `gorm:"type:varchar(20);not null;index"`
	Subtotal          decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	DiscountTotal     decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	Total             decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	PaidAmount        decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	CreditOutstanding decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	RequiresInvoice   bool            `gorm:"not null;default:false"`
	Notes             string
	CompletedAt       *time.Time
	CancelledAt       *time.Time
	CancelReason      *string
	CancelledBy       *uuid.UUID `gorm:"type:uuid"`
	CreatedAt         time.Time
	UpdatedAt         time.Time

	Items    []SaleItem    `gorm:"foreignKey:SaleID"`
	Payments []SalePayment `gorm:"foreignKey:SaleID"`
}

func (Sale) TableName() string { return "sales" }

// IsTerminal reports whether the sale can no longer be completed.
func (s *Sale) IsTerminal() bool {
	return s.Status == SaleCompleted || s.Status == SaleCancelled
}

// SaleItem is one line of a sale.
type SaleItem struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SaleID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID   uuid.UUID       `gorm:"type:uuid;not null"`
	VariantID   *uuid.UUID      `gorm:"type:uuid"`
	WarehouseID *uuid.UUID      `gorm:"type:uuid"`
	BatchID     *uuid.UUID      `gorm:"type:uuid"`
	Description string          `gorm:"not null;default:''"`
	Quantity    decimal.Decimal `gorm:"type:decimal(14,3);not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	UnitCost    decimal.Decimal `gorm:"type:decimal(14,4);not null;default:0"`
	Discount    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	// ReservationID is set when the line was held by a quote before checkout.
	ReservationID *uuid.UUID `gorm:"type:uuid"`
}

func (SaleItem) TableName() string { return "sale_items" }

// StockKey of the line within tenant.
func (i *SaleItem) StockKey(tenantID uuid.UUID) StockKey {
	return StockKey{
		TenantID:    tenantID,
		ProductID:   i.ProductID,
		VariantID:   i.VariantID,
		WarehouseID: i.WarehouseID,
		BatchID:     i.BatchID,
	}
}

// SalePayment records money received for a sale, at checkout or later for credit sales.
type SalePayment struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SaleID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Method    PaymentMethod   `gorm:"type:varchar(20);not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Reference string
	Partial   bool       `gorm:"not null;default:false"` // recorded after completion against credit
	CreatedBy *uuid.UUID `gorm:"type:uuid"`
	CreatedAt time.Time
}

func (SalePayment) TableName() string { return "sale_payments" }
