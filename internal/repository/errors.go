package repository

import (
	"errors"

	"nexopos/internal/apperror"

	"gorm.io/gorm"
)

// translate turns gorm.ErrRecordNotFound into apperror.ErrNotFound so that
// services never depend on gorm error values.
func translate(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound(entity, id)
	}
	return err
}

// Page normalizes page/limit pairs used by the list queries.
func Page(page, limit int) (offset, size int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return (page - 1) * limit, limit
}
