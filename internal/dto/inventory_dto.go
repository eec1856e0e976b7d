package dto

import (
	"time"

	"nexopos/internal/model"

	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

// StockKeyRequest names one stock row. The tenant always comes from the token.
type StockKeyRequest struct {
	ProductID   string  `json:"product_id"   form:"product_id"   validate:"required,uuid"`
	VariantID   *string `json:"variant_id"   form:"variant_id"   validate:"omitempty,uuid"`
	WarehouseID *string `json:"warehouse_id" form:"warehouse_id" validate:"omitempty,uuid"`
	BatchID     *string `json:"batch_id"     form:"batch_id"     validate:"omitempty,uuid"`
}

type AdjustStockRequest struct {
	StockKeyRequest
	// Delta is signed: inflow types take positive values, outflow types negative.
	Delta    decimal.Decimal  `json:"delta"     validate:"required"`
	Type     string           `json:"type"      validate:"required,oneof=INITIAL PURCHASE SALE RETURN_CUSTOMER RETURN_SUPPLIER ADJUSTMENT DAMAGE EXPIRY"`
	UnitCost *decimal.Decimal `json:"unit_cost" validate:"omitempty,min=0"`
	Notes    string           `json:"notes"     validate:"max=500"`
}

type CountStockRequest struct {
	StockKeyRequest
	Actual decimal.Decimal `json:"actual" validate:"min=0"`
}

type TransferStockRequest struct {
	ProductID       string          `json:"product_id"        validate:"required,uuid"`
	VariantID       *string         `json:"variant_id"        validate:"omitempty,uuid"`
	BatchID         *string         `json:"batch_id"          validate:"omitempty,uuid"`
	FromWarehouseID string          `json:"from_warehouse_id" validate:"required,uuid"`
	ToWarehouseID   string          `json:"to_warehouse_id"   validate:"required,uuid,nefield=FromWarehouseID"`
	Quantity        decimal.Decimal `json:"quantity"          validate:"required,gt=0"`
	Notes           string          `json:"notes"             validate:"max=500"`
}

// MovementFilter is bound from the query string of GET /v1/inventory/movements.
type MovementFilter struct {
	ProductID string `form:"product_id" validate:"omitempty,uuid"`
	Type      string `form:"type"`
	From      string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To        string `form:"to"   validate:"omitempty,datetime=2006-01-02"`
	Page      int    `form:"page,default=1"   validate:"min=1"`
	Limit     int    `form:"limit,default=50" validate:"min=1,max=200"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type StockResponse struct {
	ID                string          `json:"id"`
	StockKey          string          `json:"stock_key"`
	ProductID         string          `json:"product_id"`
	VariantID         *string         `json:"variant_id,omitempty"`
	WarehouseID       *string         `json:"warehouse_id,omitempty"`
	BatchID           *string         `json:"batch_id,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
	ReservedQuantity  decimal.Decimal `json:"reserved_quantity"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	AverageCost       decimal.Decimal `json:"average_cost"`
	LastCost          decimal.Decimal `json:"last_cost"`
	MinStock          decimal.Decimal `json:"min_stock"`
	Status            string          `json:"status"`
	LastCountedAt     *string         `json:"last_counted_at,omitempty"`
	UpdatedAt         string          `json:"updated_at"`
}

func NewStockResponse(r *model.StockRecord) StockResponse {
	return StockResponse{
		ID:                r.ID.String(),
		StockKey:          r.StockKey,
		ProductID:         r.ProductID.String(),
		VariantID:         idPtr(r.VariantID),
		WarehouseID:       idPtr(r.WarehouseID),
		BatchID:           idPtr(r.BatchID),
		Quantity:          r.Quantity,
		ReservedQuantity:  r.ReservedQuantity,
		AvailableQuantity: r.AvailableQuantity,
		AverageCost:       r.AverageCost,
		LastCost:          r.LastCost,
		MinStock:          r.MinStock,
		Status:            string(r.Status),
		LastCountedAt:     timePtr(r.LastCountedAt),
		UpdatedAt:         r.UpdatedAt.Format(time.RFC3339),
	}
}

type MovementResponse struct {
	ID                 string            `json:"id"`
	StockRecordID      string            `json:"stock_record_id"`
	ProductID          string            `json:"product_id"`
	Type               string            `json:"type"`
	Quantity           decimal.Decimal   `json:"quantity"`
	QuantityBefore     decimal.Decimal   `json:"quantity_before"`
	QuantityAfter      decimal.Decimal   `json:"quantity_after"`
	UnitCost           *decimal.Decimal  `json:"unit_cost,omitempty"`
	TotalCost          *decimal.Decimal  `json:"total_cost,omitempty"`
	Reference          ReferenceResponse `json:"reference"`
	ReversesMovementID *string           `json:"reverses_movement_id,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	CreatedBy          *string           `json:"created_by,omitempty"`
	CreatedAt          string            `json:"created_at"`
}

func NewMovementResponse(m *model.StockMovement) MovementResponse {
	return MovementResponse{
		ID:                 m.ID.String(),
		StockRecordID:      m.StockRecordID.String(),
		ProductID:          m.ProductID.String(),
		Type:               string(m.Type),
		Quantity:           m.Quantity,
		QuantityBefore:     m.QuantityBefore,
		QuantityAfter:      m.QuantityAfter,
		UnitCost:           m.UnitCost,
		TotalCost:          m.TotalCost,
		Reference:          newReference(m.Reference),
		ReversesMovementID: idPtr(m.ReversesMovementID),
		Notes:              m.Notes,
		CreatedBy:          idPtr(m.CreatedBy),
		CreatedAt:          m.CreatedAt.Format(time.RFC3339),
	}
}

func newReference(r model.Reference) ReferenceResponse {
	return ReferenceResponse{Type: r.Type, ID: idPtr(r.ID), Number: r.Number}
}

type AdjustStockResponse struct {
	Stock    StockResponse    `json:"stock"`
	Movement MovementResponse `json:"movement"`
}

type CountStockResponse struct {
	Expected   decimal.Decimal   `json:"expected"`
	Actual     decimal.Decimal   `json:"actual"`
	Difference decimal.Decimal   `json:"difference"`
	Stock      StockResponse     `json:"stock"`
	Movement   *MovementResponse `json:"movement,omitempty"`
}

type TransferStockResponse struct {
	TransferID string              `json:"transfer_id"`
	Out        AdjustStockResponse `json:"out"`
	In         AdjustStockResponse `json:"in"`
}

type LedgerReportResponse struct {
	StockKey         string          `json:"stock_key"`
	Quantity         decimal.Decimal `json:"quantity"`
	MovementSum      decimal.Decimal `json:"movement_sum"`
	Reserved         decimal.Decimal `json:"reserved"`
	ActiveReserved   decimal.Decimal `json:"active_reserved"`
	Available        decimal.Decimal `json:"available"`
	QuantityMatches  bool            `json:"quantity_matches"`
	ReservedMatches  bool            `json:"reserved_matches"`
	AvailableMatches bool            `json:"available_matches"`
	Consistent       bool            `json:"consistent"`
}
