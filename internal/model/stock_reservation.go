package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationStatus: ACTIVE → CONFIRMED | RELEASED | EXPIRED (all terminal).
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// StockReservation is a time-boxed hold on available stock. It is the only
// ledger table with update-in-place transitions.
type StockReservation struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID         `gorm:"type:uuid;not null;index"`
	StockRecordID uuid.UUID         `gorm:"type:uuid;not null;index"`
	Quantity      decimal.Decimal   `gorm:"type:decimal(14,3);not null"`
	Status        ReservationStatus `gorm:"type:varchar(20);not null;index"`
	RequestedBy   *uuid.UUID        `gorm:"type:uuid"`
	Reference     Reference         `gorm:"embedded"`
	ExpiresAt     time.Time         `gorm:"not null;index"`
	ResolvedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (StockReservation) TableName() string { return "stock_reservations" }

// IsExpired reports whether the hold lapsed at now.
func (r *StockReservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
