package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockStatus is derived from the on-hand quantity and the row's MinStock threshold.
type StockStatus string

const (
	StockInStock    StockStatus = "IN_STOCK"
	StockLowStock   StockStatus = "LOW_STOCK"
	StockOutOfStock StockStatus = "OUT_OF_STOCK"
)

// StockKey identifies one StockRecord: (tenant, product, variant?, warehouse?, batch?).
type StockKey struct {
	TenantID    uuid.UUID
	ProductID   uuid.UUID
	VariantID   *uuid.UUID
	WarehouseID *uuid.UUID
	BatchID     *uuid.UUID
}

// String returns the canonical form stored in stock_records.stock_key.
// Absent optional parts are rendered as "-" so that NULLs never defeat the unique index.
func (k StockKey) String() string {
	part := func(id *uuid.UUID) string {
		if id == nil {
			return "-"
		}
		return id.String()
	}
	return strings.Join([]string{
		k.TenantID.String(),
		k.ProductID.String(),
		part(k.VariantID),
		part(k.WarehouseID),
		part(k.BatchID),
	}, "/")
}

// StockRecord is the current-balance row for a StockKey.
// Quantity must always equal the fold of the row's StockMovements from zero.
type StockRecord struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	StockKey          string          `gorm:"type:varchar(200);uniqueIndex;not null"`
	TenantID          uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	VariantID         *uuid.UUID      `gorm:"type:uuid"`
	WarehouseID       *uuid.UUID      `gorm:"type:uuid"`
	BatchID           *uuid.UUID      `gorm:"type:uuid"`
	Quantity          decimal.Decimal `gorm:"type:decimal(14,3);not null;default:0"`
	ReservedQuantity  decimal.Decimal `gorm:"type:decimal(14,3);not null;default:0"`
	AvailableQuantity decimal.Decimal `gorm:"type:decimal(14,3);not null;default:0"`
	AverageCost       decimal.Decimal `gorm:"type:decimal(14,4);not null;default:0"`
	LastCost          decimal.Decimal `gorm:"type:decimal(14,4);not null;default:0"`
	MinStock          decimal.Decimal `gorm:"type:decimal(14,3);not null;default:0"`
	Status            StockStatus     `gorm:"type:varchar(20);not null;default:'OUT_OF_STOCK'"`
	LastCountedAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (StockRecord) TableName() string { return "stock_records" }

// NewStockRecord returns an empty row for key, as created lazily on first movement.
func NewStockRecord(key StockKey, minStock decimal.Decimal) StockRecord {
	return StockRecord{
		ID:          uuid.New(),
		StockKey:    key.String(),
		TenantID:    key.TenantID,
		ProductID:   key.ProductID,
		VariantID:   key.VariantID,
		WarehouseID: key.WarehouseID,
		BatchID:     key.BatchID,
		MinStock:    minStock,
		Status:      StockOutOfStock,
	}
}

// Key rebuilds the StockKey of the row.
func (r *StockRecord) Key() StockKey {
	return StockKey{
		TenantID:    r.TenantID,
		ProductID:   r.ProductID,
		VariantID:   r.VariantID,
		WarehouseID: r.WarehouseID,
		BatchID:     r.BatchID,
	}
}

// Recompute refreshes the derived columns. Call after every mutation of
// Quantity or ReservedQuantity.
func (r *StockRecord) Recompute() {
	r.AvailableQuantity = r.Quantity.Sub(r.ReservedQuantity)
	switch {
	case r.Quantity.LessThanOrEqual(decimal.Zero):
		r.Status = StockOutOfStock
	case r.Quantity.LessThanOrEqual(r.MinStock):
		r.Status = StockLowStock
	default:
		r.Status = StockInStock
	}
}

// WeightedAverageCost returns the new average cost after receiving inflow units at unitCost.
// When the resulting quantity is not positive the unit cost itself is used.
func WeightedAverageCost(before, oldAvg, inflow, unitCost decimal.Decimal) decimal.Decimal {
	after := before.Add(inflow.Abs())
	if after.LessThanOrEqual(decimal.Zero) {
		return unitCost
	}
	return before.Mul(oldAvg).Add(inflow.Abs().Mul(unitCost)).DivRound(after, 4)
}
