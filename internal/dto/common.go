package dto

import (
	"time"

	"github.com/google/uuid"
)

// ListResponse wraps any paginated collection.
type ListResponse[T any] struct {
	Data  []T   `json:"data"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// ReferenceResponse points at the entity that caused a movement.
type ReferenceResponse struct {
	Type   string  `json:"type,omitempty"`
	ID     *string `json:"id,omitempty"`
	Number string  `json:"number,omitempty"`
}

func idPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
