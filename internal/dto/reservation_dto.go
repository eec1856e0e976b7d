package dto

import (
	"time"

	"nexopos/internal/model"

	"github.com/shopspring/decimal"
)

type ReserveRequest struct {
	StockKeyRequest
	Quantity decimal.Decimal `json:"quantity" validate:"required,gt=0"`
	// TTLSeconds overrides RESERVATION_TTL when set.
	TTLSeconds      int     `json:"ttl_seconds"      validate:"min=0,max=604800"`
	ReferenceType   string  `json:"reference_type"   validate:"omitempty,max=30"`
	ReferenceID     *string `json:"reference_id"     validate:"omitempty,uuid"`
	ReferenceNumber string  `json:"reference_number" validate:"max=40"`
}

type ReservationResponse struct {
	ID            string            `json:"id"`
	StockRecordID string            `json:"stock_record_id"`
	Quantity      decimal.Decimal   `json:"quantity"`
	Status        string            `json:"status"`
	Reference     ReferenceResponse `json:"reference"`
	RequestedBy   *string           `json:"requested_by,omitempty"`
	ExpiresAt     string            `json:"expires_at"`
	ResolvedAt    *string           `json:"resolved_at,omitempty"`
	CreatedAt     string            `json:"created_at"`
}

func NewReservationResponse(r *model.StockReservation) ReservationResponse {
	return ReservationResponse{
		ID:            r.ID.String(),
		StockRecordID: r.StockRecordID.String(),
		Quantity:      r.Quantity,
		Status:        string(r.Status),
		Reference:     newReference(r.Reference),
		RequestedBy:   idPtr(r.RequestedBy),
		ExpiresAt:     r.ExpiresAt.Format(time.RFC3339),
		ResolvedAt:    timePtr(r.ResolvedAt),
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
}
