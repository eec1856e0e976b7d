package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType classifies a StockMovement.
type MovementType string

const (
	MovementInitial        MovementType = "INITIAL"
	MovementPurchase       MovementType = "PURCHASE"
	MovementSale           MovementType = "SALE"
	MovementReturnCustomer MovementType = "RETURN_CUSTOMER"
	MovementReturnSupplier MovementType = "RETURN_SUPPLIER"
	MovementAdjustment     MovementType = "ADJUSTMENT"
	MovementTransferIn     MovementType = "TRANSFER_IN"
	MovementTransferOut    MovementType = "TRANSFER_OUT"
	MovementDamage         MovementType = "DAMAGE"
	MovementExpiry         MovementType = "EXPIRY"
)

// Direction reports +1 for inflow types, -1 for outflow types and 0 for
// types that accept either sign (ADJUSTMENT). Unknown types return 0 and false.
func (t MovementType) Direction() (int, bool) {
	switch t {
	case MovementInitial, MovementPurchase, MovementReturnCustomer, MovementTransferIn:
		return 1, true
	case MovementSale, MovementReturnSupplier, MovementTransferOut, MovementDamage, MovementExpiry:
		return -1, true
	case MovementAdjustment:
		return 0, true
	default:
		return 0, false
	}
}

// Reference points at the entity that caused a movement (sale, purchase, count, quote...).
type Reference struct {
	Type   string     `gorm:"column:reference_type;type:varchar(30)"`
	ID     *uuid.UUID `gorm:"column:reference_id;type:uuid;index"`
	Number string     `gorm:"column:reference_number;type:varchar(40)"`
}

// Reference types.
const (
	ReferenceSale        = "SALE"
	ReferenceReservation = "RESERVATION"
	ReferenceCount       = "COUNT"
	ReferenceTransfer    = "TRANSFER"
	ReferenceCashClose   = "CASH_CLOSE"
)

// StockMovement is an immutable ledger entry. Rows are never updated or deleted.
type StockMovement struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey"`
	StockRecordID  uuid.UUID        `gorm:"type:uuid;not null;index"`
	TenantID       uuid.UUID        `gorm:"type:uuid;not null;index"`
	ProductID      uuid.UUID        `gorm:"type:uuid;not null;index"`
	Type           MovementType     `gorm:"type:varchar(20);not null"`
	Quantity       decimal.Decimal  `gorm:"type:decimal(14,3);not null"` // positive = inflow, negative = outflow
	QuantityBefore decimal.Decimal  `gorm:"type:decimal(14,3);not null"`
	QuantityAfter  decimal.Decimal  `gorm:"type:decimal(14,3);not null"`
	UnitCost       *decimal.Decimal `gorm:"type:decimal(14,4)"`
	TotalCost      *decimal.Decimal `gorm:"type:decimal(14,2)"`
	Reference      Reference        `gorm:"embedded"`
	// ReversesMovementID links a compensating movement to the one it undoes.
	ReversesMovementID *uuid.UUID `gorm:"type:uuid"`
	Notes              string
	CreatedBy          *uuid.UUID `gorm:"type:uuid"`
	CreatedAt          time.Time
}

func (StockMovement) TableName() string { return "stock_movements" }
