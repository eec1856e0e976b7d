package infra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nexopos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEInvoiceClient_Issue(t *testing.T) {
	var got EInvoiceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"invoice_number":7,"authorization_code":"CODE1","authorized_until":"20260312","result":"A"}`))
	}))
	defer srv.Close()

	c := NewEInvoiceClient(srv.URL, nil)
	resp, err := c.Issue(context.Background(), EInvoiceRequest{IssuerID: "issuer", SaleNumber: 3, Total: decimal.NewFromInt(15)})
	require.NoError(t, err)
	assert.True(t, resp.Approved())
	assert.Equal(t, int64(7), resp.InvoiceNumber)
	require.NotNil(t, resp.AuthorizedUntilTime())
	assert.Equal(t, time.March, resp.AuthorizedUntilTime().Month())
	assert.Equal(t, "15", got.Total.String())
}

func TestEInvoiceClient_BreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewEInvoiceClient(srv.URL, NewCircuitBreaker(CircuitBreakerConfig{Name: "einvoice", FailureThreshold: 2, OpenTimeout: time.Hour}))
	for i := 0; i < 2; i++ {
		_, err := c.Issue(context.Background(), EInvoiceRequest{})
		require.Error(t, err)
	}
	_, err := c.Issue(context.Background(), EInvoiceRequest{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
	assert.Equal(t, CBOpen, c.Breaker().State())
}

func TestAccountingClient_CreateClosingJournalEntry(t *testing.T) {
	session := &model.CashRegisterSession{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		Number:         9,
		OpeningBalance: decimal.NewFromInt(100),
		TotalSales:     decimal.NewFromInt(40),
	}
	var body ClosingEntryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, session.ID.String(), r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"entry_id":"JE-1"}`))
	}))
	defer srv.Close()

	id, err := NewAccountingClient(srv.URL, nil).CreateClosingJournalEntry(context.Background(), session, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "JE-1", id)
	assert.Equal(t, int64(9), body.SessionNumber)
	assert.Equal(t, "40", body.Sales.String())
}

func TestAccountingClient_EmptyEntryIDIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewAccountingClient(srv.URL, nil).CreateClosingJournalEntry(context.Background(), &model.CashRegisterSession{ID: uuid.New()}, uuid.New())
	assert.Error(t, err)
}
