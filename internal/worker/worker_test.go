package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"nexopos/internal/apperror"
	"nexopos/internal/infra"
	"nexopos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Stubs ─────────────────────────────────────────────────────────────────────

type stubInvoiceRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.Invoice
}

func newStubInvoiceRepo() *stubInvoiceRepo {
	return &stubInvoiceRepo{byID: map[uuid.UUID]model.Invoice{}}
}

func (r *stubInvoiceRepo) Create(_ context.Context, inv *model.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[inv.ID] = *inv
	return nil
}

func (r *stubInvoiceRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.byID[id]
	if !ok {
		return nil, apperror.NotFound("invoice", id)
	}
	return &inv, nil
}

func (r *stubInvoiceRepo) FindBySaleID(_ context.Context, saleID uuid.UUID) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.byID {
		if inv.SaleID == saleID {
			return &inv, nil
		}
	}
	return nil, apperror.NotFound("invoice for sale", saleID)
}

func (r *stubInvoiceRepo) Update(_ context.Context, inv *model.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[inv.ID] = *inv
	return nil
}

func (r *stubInvoiceRepo) ListRetryable(_ context.Context, now time.Time, maxRetries int) ([]model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Invoice
	for _, inv := range r.byID {
		if inv.Status == model.InvoiceError && inv.RetryCount < maxRetries &&
			(inv.NextRetryAt == nil || !inv.NextRetryAt.After(now)) {
			out = append(out, inv)
		}
	}
	return out, nil
}

type stubSales map[uuid.UUID]*model.Sale

func (s stubSales) FindByID(_ context.Context, id uuid.UUID) (*model.Sale, error) {
	sale, ok := s[id]
	if !ok {
		return nil, apperror.NotFound("sale", id)
	}
	return sale, nil
}

type stubIssuer struct {
	calls int
	resp  *infra.EInvoiceResponse
	err   error
}

func (s *stubIssuer) Issue(context.Context, infra.EInvoiceRequest) (*infra.EInvoiceResponse, error) {
	s.calls++
	return s.resp, s.err
}

type stubQueue struct {
	err      error
	invoices []InvoiceJobPayload
	emails   []EmailJobPayload
}

func (q *stubQueue) EnqueueInvoice(_ context.Context, p InvoiceJobPayload) error {
	q.invoices = append(q.invoices, p)
	return q.err
}

func (q *stubQueue) EnqueueEmail(_ context.Context, p EmailJobPayload) error {
	q.emails = append(q.emails, p)
	return q.err
}

type stubMailer struct {
	err  error
	sent []string
}

func (m *stubMailer) SendReceipt(to, _, _, pdfPath string) error {
	m.sent = append(m.sent, to+"|"+pdfPath)
	return m.err
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func testSale() *model.Sale {
	return &model.Sale{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Number:   12,
		Status:   model.SaleCompleted,
		Total:    decimal.RequireFromString("99.90"),
		Items: []model.SaleItem{
			{ProductID: uuid.New(), Description: "Coffee beans", Quantity: decimal.NewFromInt(1), Subtotal: decimal.RequireFromString("99.90")},
		},
	}
}

type workerEnv struct {
	repo   *stubInvoiceRepo
	sales  stubSales
	issuer *stubIssuer
	worker *InvoiceWorker
	sale   *model.Sale
	inv    *model.Invoice
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()
	e := &workerEnv{repo: newStubInvoiceRepo(), sales: stubSales{}, issuer: &stubIssuer{}, sale: testSale()}
	e.sales[e.sale.ID] = e.sale
	e.inv = &model.Invoice{ID: uuid.New(), TenantID: e.sale.TenantID, SaleID: e.sale.ID, Total: e.sale.Total, Status: model.InvoicePending}
	require.NoError(t, e.repo.Create(context.Background(), e.inv))
	e.worker = NewInvoiceWorker(e.issuer, e.repo, e.sales, nil, t.TempDir(), "issuer-1")
	e.worker.retryBase = time.Millisecond
	return e
}

func (e *workerEnv) job(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(InvoiceJobPayload{InvoiceID: e.inv.ID.String()})
	require.NoError(t, err)
	return raw
}

func (e *workerEnv) stored(t *testing.T) *model.Invoice {
	t.Helper()
	inv, err := e.repo.FindByID(context.Background(), e.inv.ID)
	require.NoError(t, err)
	return inv
}

// ── InvoiceWorker ─────────────────────────────────────────────────────────────

func TestInvoiceWorker_Issued(t *testing.T) {
	e := newWorkerEnv(t)
	e.issuer.resp = &infra.EInvoiceResponse{InvoiceNumber: 31, AuthorizationCode: "AUTH-1", AuthorizedUntil: "20260312", Result: "A"}

	require.NoError(t, e.worker.Process(context.Background(), e.job(t)))

	inv := e.stored(t)
	assert.Equal(t, model.InvoiceIssued, inv.Status)
	require.NotNil(t, inv.AuthorizationCode)
	assert.Equal(t, "AUTH-1", *inv.AuthorizationCode)
	require.NotNil(t, inv.Number)
	assert.Equal(t, int64(31), *inv.Number)
	require.NotNil(t, inv.PDFPath)
	_, err := os.Stat(*inv.PDFPath)
	assert.NoError(t, err)

	require.NoError(t, e.worker.Process(context.Background(), e.job(t)))
	assert.Equal(t, 1, e.issuer.calls, "issued invoices are not re-sent")
}

func TestInvoiceWorker_SidecarDownLeavesErrorForCron(t *testing.T) {
	e := newWorkerEnv(t)
	e.issuer.err = errors.New("connection refused")

	require.NoError(t, e.worker.Process(context.Background(), e.job(t)))

	inv := e.stored(t)
	assert.Equal(t, 3, e.issuer.calls)
	assert.Equal(t, model.InvoiceError, inv.Status)
	assert.Equal(t, 1, inv.RetryCount)
	require.NotNil(t, inv.LastError)
	assert.Contains(t, *inv.LastError, "connection refused")
	assert.NotNil(t, inv.NextRetryAt)
	assert.NotNil(t, inv.PDFPath, "the ticket is rendered even without authorization")
}

func TestInvoiceWorker_OpenBreakerStopsImmediately(t *testing.T) {
	e := newWorkerEnv(t)
	e.issuer.err = infra.ErrCircuitOpen

	require.NoError(t, e.worker.Process(context.Background(), e.job(t)))
	assert.Equal(t, 1, e.issuer.calls)
	assert.Equal(t, model.InvoiceError, e.stored(t).Status)
}

func TestInvoiceWorker_Rejected(t *testing.T) {
	e := newWorkerEnv(t)
	e.issuer.resp = &infra.EInvoiceResponse{Result: "R"}

	require.NoError(t, e.worker.Process(context.Background(), e.job(t)))
	inv := e.stored(t)
	assert.Equal(t, model.InvoiceRejected, inv.Status)
	assert.Nil(t, inv.NextRetryAt)
}

func TestInvoiceWorker_BadPayloadIsPermanent(t *testing.T) {
	e := newWorkerEnv(t)
	var perm *permanentError

	err := e.worker.Process(context.Background(), json.RawMessage(`{"invoice_id":"nope"}`))
	assert.ErrorAs(t, err, &perm)
	err = e.worker.Process(context.Background(), json.RawMessage(`{"invoice_id":"`+uuid.NewString()+`"}`))
	assert.ErrorAs(t, err, &perm)
	assert.Zero(t, e.issuer.calls)
}

// ── Retry cron ────────────────────────────────────────────────────────────────

func TestProcessRetries(t *testing.T) {
	e := newWorkerEnv(t)
	past := time.Now().Add(-time.Minute)
	e.inv.Status = model.InvoiceError
	e.inv.RetryCount = 1
	e.inv.NextRetryAt = &past
	require.NoError(t, e.repo.Update(context.Background(), e.inv))
	e.issuer.resp = &infra.EInvoiceResponse{AuthorizationCode: "AUTH-2", Result: "A"}

	n := processRetries(context.Background(), RetryCronConfig{Worker: e.worker})
	assert.Equal(t, 1, n)
	inv := e.stored(t)
	assert.Equal(t, model.InvoiceIssued, inv.Status)
	assert.NotNil(t, inv.PDFPath)

	assert.Zero(t, processRetries(context.Background(), RetryCronConfig{Worker: e.worker}), "nothing left to retry")
}

func TestProcessRetries_GivesUpAfterMax(t *testing.T) {
	e := newWorkerEnv(t)
	past := time.Now().Add(-time.Minute)
	e.inv.Status = model.InvoiceError
	e.inv.RetryCount = MaxInvoiceRetries - 1
	e.inv.NextRetryAt = &past
	require.NoError(t, e.repo.Update(context.Background(), e.inv))
	e.issuer.err = errors.New("still down")

	processRetries(context.Background(), RetryCronConfig{Worker: e.worker})
	inv := e.stored(t)
	assert.Equal(t, MaxInvoiceRetries, inv.RetryCount)
	assert.Nil(t, inv.NextRetryAt)
	assert.Equal(t, 1, e.issuer.calls, "the cron makes a single attempt per tick")
}

func TestProcessRetries_SkipsWhileBreakerOpen(t *testing.T) {
	e := newWorkerEnv(t)
	cb := infra.NewCircuitBreaker(infra.CircuitBreakerConfig{Name: "einvoice", FailureThreshold: 1, OpenTimeout: time.Hour})
	_ = cb.Execute(func() error { return errors.New("x") })

	assert.Zero(t, processRetries(context.Background(), RetryCronConfig{Worker: e.worker, Breaker: cb}))
	assert.Zero(t, e.issuer.calls)
}

func TestComputeRetryBackoff(t *testing.T) {
	assert.Equal(t, time.Minute, computeRetryBackoff(1))
	assert.Equal(t, 4*time.Minute, computeRetryBackoff(3))
	assert.Equal(t, time.Hour, computeRetryBackoff(50))
}

// ── Sale hooks ────────────────────────────────────────────────────────────────

func TestInvoiceRequester(t *testing.T) {
	repo := newStubInvoiceRepo()
	q := &stubQueue{}
	r := &InvoiceRequester{invoices: repo, queue: q, now: time.Now}
	sale := testSale()
	email := "buyer@example.com"
	sale.CustomerEmail = &email

	inv, err := r.GenerateInvoiceFromSale(context.Background(), sale)
	require.NoError(t, err)
	assert.Equal(t, model.InvoicePending, inv.Status)
	require.Len(t, q.invoices, 1)
	assert.Equal(t, inv.ID.String(), q.invoices[0].InvoiceID)
	assert.Equal(t, &email, q.invoices[0].CustomerEmail)

	again, err := r.GenerateInvoiceFromSale(context.Background(), sale)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, again.ID)
	assert.Len(t, q.invoices, 1, "one invoice per sale")
}

func TestInvoiceRequester_QueueDownSchedulesRetry(t *testing.T) {
	repo := newStubInvoiceRepo()
	r := &InvoiceRequester{invoices: repo, queue: &stubQueue{err: errors.New("redis down")}, now: time.Now}

	inv, err := r.GenerateInvoiceFromSale(context.Background(), testSale())
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceError, inv.Status)
	due, err := repo.ListRetryable(context.Background(), time.Now(), MaxInvoiceRetries)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestReceiptNotifier(t *testing.T) {
	q := &stubQueue{}
	n := &ReceiptNotifier{queue: q}
	email := "buyer@example.com"

	n.SaleCompleted(context.Background(), testSale())
	invoiced := testSale()
	invoiced.CustomerEmail = &email
	invoiced.RequiresInvoice = true
	n.SaleCompleted(context.Background(), invoiced)
	assert.Empty(t, q.emails)

	plain := testSale()
	plain.CustomerEmail = &email
	n.SaleCompleted(context.Background(), plain)
	require.Len(t, q.emails, 1)
	assert.Equal(t, plain.ID.String(), q.emails[0].SaleID)
}

// ── Email worker ──────────────────────────────────────────────────────────────

func TestEmailWorker_RendersMissingTicket(t *testing.T) {
	sale := testSale()
	mailer := &stubMailer{}
	w := NewEmailWorker(mailer, stubSales{sale.ID: sale}, t.TempDir())
	raw, _ := json.Marshal(EmailJobPayload{SaleID: sale.ID.String(), ToEmail: "a@b.c", Subject: "s"})

	require.NoError(t, w.Process(context.Background(), raw))
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0], infra.TicketFileName(sale))
}

func TestEmailWorker_SendFailureIsRetryable(t *testing.T) {
	mailer := &stubMailer{err: errors.New("smtp down")}
	w := NewEmailWorker(mailer, nil, t.TempDir())
	raw, _ := json.Marshal(EmailJobPayload{ToEmail: "a@b.c"})

	err := w.Process(context.Background(), raw)
	require.Error(t, err)
	var perm *permanentError
	assert.False(t, errors.As(err, &perm))

	assert.NoError(t, w.Process(context.Background(), json.RawMessage(`{"to_email":""}`)), "empty recipient is skipped")
}

// ── Sweeper ───────────────────────────────────────────────────────────────────

type stubSweeper struct{ calls, n int }

func (s *stubSweeper) SweepExpired(context.Context) (int, error) {
	s.calls++
	return s.n, nil
}

func TestSweepOnce_WithoutLease(t *testing.T) {
	s := &stubSweeper{n: 4}
	assert.Equal(t, 4, SweepOnce(context.Background(), SweepCronConfig{Reservations: s}))
	assert.Equal(t, 1, s.calls)
}
