package dto

import (
	"time"

	"nexopos/internal/model"

	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

type OpenSessionRequest struct {
	OpeningBalance decimal.Decimal `json:"opening_balance" validate:"min=0"`
	Notes          string          `json:"notes"           validate:"max=500"`
}

type CashMovementRequest struct {
	Type        string          `json:"type"        validate:"required,oneof=DEPOSIT WITHDRAWAL EXPENSE"`
	Amount      decimal.Decimal `json:"amount"      validate:"required,gt=0"`
	Description string          `json:"description" validate:"required,min=3,max=200"`
}

type CloseSessionRequest struct {
	Counted decimal.Decimal `json:"counted" validate:"min=0"`
	Notes   string          `json:"notes"   validate:"max=500"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type SessionResponse struct {
	ID              string           `json:"id"`
	Number          int64            `json:"number"`
	UserID          string           `json:"user_id"`
	Status          string           `json:"status"`
	OpeningBalance  decimal.Decimal  `json:"opening_balance"`
	CurrentBalance  decimal.Decimal  `json:"current_balance"`
	TotalSales      decimal.Decimal  `json:"total_sales"`
	TotalRefunds    decimal.Decimal  `json:"total_refunds"`
	TotalIn         decimal.Decimal  `json:"total_in"`
	TotalOut        decimal.Decimal  `json:"total_out"`
	ExpectedBalance *decimal.Decimal `json:"expected_balance,omitempty"`
	CountedBalance  *decimal.Decimal `json:"counted_balance,omitempty"`
	Difference      *decimal.Decimal `json:"difference,omitempty"`
	Outcome         *string          `json:"outcome,omitempty"`
	Severity        *string          `json:"severity,omitempty"`
	JournalEntryID  *string          `json:"journal_entry_id,omitempty"`
	OpenedAt        string           `json:"opened_at"`
	ClosedAt        *string          `json:"closed_at,omitempty"`
	ReconciledAt    *string          `json:"reconciled_at,omitempty"`
}

func NewSessionResponse(s *model.CashRegisterSession) SessionResponse {
	resp := SessionResponse{
		ID:              s.ID.String(),
		Number:          s.Number,
		UserID:          s.UserID.String(),
		Status:          string(s.Status),
		OpeningBalance:  s.OpeningBalance,
		CurrentBalance:  s.CurrentBalance,
		TotalSales:      s.TotalSales,
		TotalRefunds:    s.TotalRefunds,
		TotalIn:         s.TotalIn,
		TotalOut:        s.TotalOut,
		ExpectedBalance: s.ExpectedBalance,
		CountedBalance:  s.CountedBalance,
		Difference:      s.Difference,
		JournalEntryID:  s.JournalEntryID,
		OpenedAt:        s.OpenedAt.Format(time.RFC3339),
		ClosedAt:        timePtr(s.ClosedAt),
		ReconciledAt:    timePtr(s.ReconciledAt),
	}
	if s.Outcome != nil {
		o := string(*s.Outcome)
		resp.Outcome = &o
	}
	if s.Severity != nil {
		sv := string(*s.Severity)
		resp.Severity = &sv
	}
	return resp
}

type CashMovementResponse struct {
	ID            string            `json:"id"`
	Seq           int64             `json:"seq"`
	Type          string            `json:"type"`
	Category      string            `json:"category"`
	PaymentMethod string            `json:"payment_method"`
	Amount        decimal.Decimal   `json:"amount"`
	BalanceBefore decimal.Decimal   `json:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	Description   string            `json:"description,omitempty"`
	Reference     ReferenceResponse `json:"reference"`
	CreatedAt     string            `json:"created_at"`
}

func NewCashMovementResponse(m *model.CashMovement) CashMovementResponse {
	return CashMovementResponse{
		ID:            m.ID.String(),
		Seq:           m.Seq,
		Type:          string(m.Type),
		Category:      string(m.Category),
		PaymentMethod: string(m.PaymentMethod),
		Amount:        m.Amount,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		Description:   m.Description,
		Reference:     newReference(m.Reference),
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
}

type BalanceResponse struct {
	SessionID string          `json:"session_id"`
	Balance   decimal.Decimal `json:"balance"`
}

type MethodTotalResponse struct {
	PaymentMethod string          `json:"payment_method"`
	Type          string          `json:"type"`
	Count         int64           `json:"count"`
	Total         decimal.Decimal `json:"total"`
}

type SessionSummaryResponse struct {
	Session   SessionResponse        `json:"session"`
	Balance   decimal.Decimal        `json:"balance"`
	Totals    []MethodTotalResponse  `json:"totals"`
	Movements []CashMovementResponse `json:"movements"`
}

type CloseSessionResponse struct {
	Session        SessionResponse       `json:"session"`
	Expected       decimal.Decimal       `json:"expected"`
	Counted        decimal.Decimal       `json:"counted"`
	Difference     decimal.Decimal       `json:"difference"`
	DifferencePct  decimal.Decimal       `json:"difference_pct"`
	Outcome        string                `json:"outcome"`
	Severity       string                `json:"severity"`
	Adjustment     *CashMovementResponse `json:"adjustment,omitempty"`
	JournalEntryID *string               `json:"journal_entry_id,omitempty"`
}
