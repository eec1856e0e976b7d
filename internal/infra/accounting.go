package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nexopos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClosingEntryRequest is the journal line set the accounting service books
// for one closed register session.
type ClosingEntryRequest struct {
	TenantID      string           `json:"tenant_id"`
	SessionID     string           `json:"session_id"`
	SessionNumber int64            `json:"session_number"`
	Opening       decimal.Decimal  `json:"opening_balance"`
	Sales         decimal.Decimal  `json:"total_sales"`
	Refunds       decimal.Decimal  `json:"total_refunds"`
	CashIn        decimal.Decimal  `json:"total_in"`
	CashOut       decimal.Decimal  `json:"total_out"`
	Expected      *decimal.Decimal `json:"expected_balance,omitempty"`
	Counted       *decimal.Decimal `json:"counted_balance,omitempty"`
	Difference    *decimal.Decimal `json:"difference,omitempty"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
	PostedBy      string           `json:"posted_by"`
}

type closingEntryResponse struct {
	EntryID string `json:"entry_id"`
}

// AccountingClient posts closing journal entries to the accounting service.
type AccountingClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *CircuitBreaker
}

func NewAccountingClient(baseURL string, breaker *CircuitBreaker) *AccountingClient {
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCBConfig("accounting"))
	}
	return &AccountingClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    breaker,
	}
}

// CreateClosingJournalEntry books the session and returns the entry id. The
// session id doubles as idempotency key, so a retried close never books twice.
func (c *AccountingClient) CreateClosingJournalEntry(ctx context.Context, session *model.CashRegisterSession, actor uuid.UUID) (string, error) {
	body, err := json.Marshal(ClosingEntryRequest{
		TenantID:      session.TenantID.String(),
		SessionID:     session.ID.String(),
		SessionNumber: session.Number,
		Opening:       session.OpeningBalance,
		Sales:         session.TotalSales,
		Refunds:       session.TotalRefunds,
		CashIn:        session.TotalIn,
		CashOut:       session.TotalOut,
		Expected:      session.ExpectedBalance,
		Counted:       session.CountedBalance,
		Difference:    session.Difference,
		ClosedAt:      session.ClosedAt,
		PostedBy:      actor.String(),
	})
	if err != nil {
		return "", fmt.Errorf("accounting: marshal payload: %w", err)
	}

	var out closingEntryResponse
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/journal-entries/cash-close", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("accounting: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", session.ID.String())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("accounting: unreachable: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("accounting: returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return "", err
	}
	if out.EntryID == "" {
		return "", fmt.Errorf("accounting: empty entry id")
	}
	return out.EntryID, nil
}
