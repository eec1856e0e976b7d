package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// EInvoiceRequest is posted to the e-invoice sidecar, which owns the
// conversation with the tax authority and returns an authorization code.
type EInvoiceRequest struct {
	IssuerID   string          `json:"issuer_id"`
	SaleID     string          `json:"sale_id"`
	SaleNumber int64           `json:"sale_number"`
	Net        decimal.Decimal `json:"net"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
}

// EInvoiceResponse is the sidecar's verdict.
type EInvoiceResponse struct {
	InvoiceNumber     int64  `json:"invoice_number"`
	AuthorizationCode string `json:"authorization_code"`
	AuthorizedUntil   string `json:"authorized_until"` // YYYYMMDD
	Result            string `json:"result"`           // "A" approved | "R" rejected
	Observations      []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"observations"`
}

// Approved reports whether the authority accepted the document.
func (r *EInvoiceResponse) Approved() bool { return r.Result == "A" }

// AuthorizedUntilTime parses AuthorizedUntil; nil when absent or malformed.
func (r *EInvoiceResponse) AuthorizedUntilTime() *time.Time {
	t, err := time.Parse("20060102", r.AuthorizedUntil)
	if err != nil {
		return nil
	}
	return &t
}

// EInvoiceClient talks to the sidecar over HTTP. Calls go through the breaker
// so a dead sidecar fails fast for both the worker and the retry cron.
type EInvoiceClient struct {
	sidecarURL string
	httpClient *http.Client
	breaker    *CircuitBreaker
}

func NewEInvoiceClient(sidecarURL string, breaker *CircuitBreaker) *EInvoiceClient {
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCBConfig("einvoice"))
	}
	return &EInvoiceClient{
		sidecarURL: sidecarURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    breaker,
	}
}

// Breaker exposes the client's breaker for health reporting.
func (c *EInvoiceClient) Breaker() *CircuitBreaker { return c.breaker }

// Issue requests authorization for one invoice.
func (c *EInvoiceClient) Issue(ctx context.Context, payload EInvoiceRequest) (*EInvoiceResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("einvoice: marshal payload: %w", err)
	}

	var result EInvoiceResponse
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sidecarURL+"/invoices", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("einvoice: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("einvoice: sidecar unreachable: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("einvoice: sidecar returned %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("einvoice: decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
