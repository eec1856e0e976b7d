package dto

import (
	"time"

	"nexopos/internal/model"

	"github.com/shopspring/decimal"
)

// ─── Filter / List ──────────────────────────────────────────────────────────

// SaleFilter is bound from the query string of GET /v1/sales.
type SaleFilter struct {
	Status string `form:"status" validate:"omitempty,oneof=DRAFT PENDING COMPLETED CANCELLED"`
	UserID string `form:"user_id" validate:"omitempty,uuid"`
	From   string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `form:"to"   validate:"omitempty,datetime=2006-01-02"`
	Page   int    `form:"page,default=1"   validate:"min=1"`
	Limit  int    `form:"limit,default=50" validate:"min=1,max=200"`
}

// ─── Request DTOs ────────────────────────────────────────────────────────────

type SaleItemRequest struct {
	StockKeyRequest
	Description   string          `json:"description"    validate:"max=200"`
	Quantity      decimal.Decimal `json:"quantity"       validate:"required,gt=0"`
	UnitPrice     decimal.Decimal `json:"unit_price"     validate:"min=0"`
	UnitCost      decimal.Decimal `json:"unit_cost"      validate:"min=0"`
	Discount      decimal.Decimal `json:"discount"       validate:"min=0"`
	ReservationID *string         `json:"reservation_id" validate:"omitempty,uuid"`
}

type PaymentRequest struct {
	Method    string          `json:"method"    validate:"required,oneof=CASH CARD TRANSFER OTHER"`
	Amount    decimal.Decimal `json:"amount"    validate:"required,gt=0"`
	Reference string          `json:"reference" validate:"max=100"`
}

type CreateSaleRequest struct {
	Type            string            `json:"type"             validate:"omitempty,oneof=CASH CREDIT"`
	CustomerID      *string           `json:"customer_id"      validate:"omitempty,uuid"`
	CustomerEmail   *string           `json:"customer_email"   validate:"omitempty,email"`
	RequiresInvoice bool              `json:"requires_invoice"`
	Notes           string            `json:"notes"            validate:"max=500"`
	Items           []SaleItemRequest `json:"items"            validate:"required,min=1,dive"`
	Payments        []PaymentRequest  `json:"payments"         validate:"dive"`
}

type CancelSaleRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type SaleItemResponse struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	VariantID     *string         `json:"variant_id,omitempty"`
	WarehouseID   *string         `json:"warehouse_id,omitempty"`
	BatchID       *string         `json:"batch_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Discount      decimal.Decimal `json:"discount"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ReservationID *string         `json:"reservation_id,omitempty"`
}

type PaymentResponse struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Partial   bool            `json:"partial"`
	CreatedAt string          `json:"created_at"`
}

type SaleResponse struct {
	ID                string             `json:"id"`
	Number            int64              `json:"number"`
	Type              string             `json:"type"`
	Status            string             `json:"status"`
	UserID            string             `json:"user_id"`
	SessionID         *string            `json:"session_id,omitempty"`
	CustomerID        *string            `json:"customer_id,omitempty"`
	Subtotal          decimal.Decimal    `json:"subtotal"`
	DiscountTotal     decimal.Decimal    `json:"discount_total"`
	Total             decimal.Decimal    `json:"total"`
	PaidAmount        decimal.Decimal    `json:"paid_amount"`
	CreditOutstanding decimal.Decimal    `json:"credit_outstanding"`
	RequiresInvoice   bool               `json:"requires_invoice"`
	Items             []SaleItemResponse `json:"items"`
	Payments          []PaymentResponse  `json:"payments"`
	CompletedAt       *string            `json:"completed_at,omitempty"`
	CancelledAt       *string            `json:"cancelled_at,omitempty"`
	CancelReason      *string            `json:"cancel_reason,omitempty"`
	CreatedAt         string             `json:"created_at"`
}

func NewSaleResponse(s *model.Sale) SaleResponse {
	resp := SaleResponse{
		ID:                s.ID.String(),
		Number:            s.Number,
		Type:              string(s.Type),
		Status:            string(s.Status),
		UserID:            s.UserID.String(),
		SessionID:         idPtr(s.SessionID),
		CustomerID:        idPtr(s.CustomerID),
		Subtotal:          s.Subtotal,
		DiscountTotal:     s.DiscountTotal,
		Total:             s.Total,
		PaidAmount:        s.PaidAmount,
		CreditOutstanding: s.CreditOutstanding,
		RequiresInvoice:   s.RequiresInvoice,
		Items:             make([]SaleItemResponse, 0, len(s.Items)),
		Payments:          make([]PaymentResponse, 0, len(s.Payments)),
		CompletedAt:       timePtr(s.CompletedAt),
		CancelledAt:       timePtr(s.CancelledAt),
		CancelReason:      s.CancelReason,
		CreatedAt:         s.CreatedAt.Format(time.RFC3339),
	}
	for _, it := range s.Items {
		resp.Items = append(resp.Items, SaleItemResponse{
			ID:            it.ID.String(),
			ProductID:     it.ProductID.String(),
			VariantID:     idPtr(it.VariantID),
			WarehouseID:   idPtr(it.WarehouseID),
			BatchID:       idPtr(it.BatchID),
			Description:   it.Description,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			Discount:      it.Discount,
			Subtotal:      it.Subtotal,
			ReservationID: idPtr(it.ReservationID),
		})
	}
	for _, p := range s.Payments {
		resp.Payments = append(resp.Payments, PaymentResponse{
			ID:        p.ID.String(),
			Method:    string(p.Method),
			Amount:    p.Amount,
			Reference: p.Reference,
			Partial:   p.Partial,
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

type InvoiceResponse struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Number            *int64          `json:"number,omitempty"`
	Total             decimal.Decimal `json:"total"`
	AuthorizationCode *string         `json:"authorization_code,omitempty"`
	RetryCount        int             `json:"retry_count"`
}

func NewInvoiceResponse(inv *model.Invoice) *InvoiceResponse {
	if inv == nil {
		return nil
	}
	return &InvoiceResponse{
		ID:                inv.ID.String(),
		Status:            string(inv.Status),
		Number:            inv.Number,
		Total:             inv.Total,
		AuthorizationCode: inv.AuthorizationCode,
		RetryCount:        inv.RetryCount,
	}
}

// CompleteSaleResponse carries the committed sale and, when requested, the
// state of its invoice. Invoice failures never undo the sale.
type CompleteSaleResponse struct {
	Sale         SaleResponse     `json:"sale"`
	Invoice      *InvoiceResponse `json:"invoice,omitempty"`
	InvoiceError string           `json:"invoice_error,omitempty"`
}
