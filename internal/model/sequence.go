package model

import "github.com/google/uuid"

// SequenceCashSession names the per-tenant register session counter. Sales
// are numbered by the sale_number_seq database sequence instead.
const SequenceCashSession = "cash_session"

// Sequence holds the last value handed out for (tenant, name). It is bumped
// atomically inside the transaction that creates the numbered entity.
type Sequence struct {
	TenantID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name     string    `gorm:"type:varchar(40);primaryKey"`
	Value    int64     `gorm:"not null"`
}

func (Sequence) TableName() string { return "sequences" }
