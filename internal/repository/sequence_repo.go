package repository

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SequenceRepository interface {
	// NextTx allocates the next value of (tenant, name) inside tx. Concurrent
	// callers serialize on the sequences row and never see the same value.
	NextTx(tx *gorm.DB, tenantID uuid.UUID, name string) (int64, error)
}

type sequenceRepo struct{}

func NewSequenceRepository() SequenceRepository { return sequenceRepo{} }

func (sequenceRepo) NextTx(tx *gorm.DB, tenantID uuid.UUID, name string) (int64, error) {
	var next int64
	err := tx.Raw(`
		INSERT INTO sequences (tenant_id, name, value) VALUES (?, ?, 1)
		ON CONFLICT (tenant_id, name) DO UPDATE SET value = sequences.value + 1
		RETURNING value`, tenantID, name).Scan(&next).Error
	return next, err
}
