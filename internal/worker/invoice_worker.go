package worker

// invoice_worker.go
// Processes invoice jobs from QueueInvoice: asks the e-invoice sidecar for an
// authorization with a short backoff, stores the verdict, renders the PDF
// ticket and queues the receipt email. Sales never wait on any of this.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nexopos/internal/apperror"
	"nexopos/internal/infra"
	"nexopos/internal/model"
	"nexopos/internal/repository"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// MaxInvoiceRetries is how many cron retries an invoice gets before it is
// parked as a dead letter.
const MaxInvoiceRetries = 5

// InvoiceJobPayload is the job envelope sent to QueueInvoice.
type InvoiceJobPayload struct {
	InvoiceID     string  `json:"invoice_id"`
	CustomerEmail *string `json:"customer_email,omitempty"`
}

// InvoiceIssuer is the e-invoice sidecar as seen by the worker.
type InvoiceIssuer interface {
	Issue(ctx context.Context, req infra.EInvoiceRequest) (*infra.EInvoiceResponse, error)
}

// SaleReader loads a sale with its items and payments.
type SaleReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Sale, error)
}

// InvoiceWorker processes invoice jobs and backs the retry cron.
type InvoiceWorker struct {
	issuer         InvoiceIssuer
	invoices       repository.InvoiceRepository
	sales          SaleReader
	dispatcher     *Dispatcher
	pdfStoragePath string
	issuerID       string

	attempts  uint
	retryBase time.Duration
	now       func() time.Time
}

// NewInvoiceWorker wires all dependencies for the invoice worker. dispatcher
// may be nil, in which case no receipt email is queued.
func NewInvoiceWorker(
	issuer InvoiceIssuer,
	invoices repository.InvoiceRepository,
	sales SaleReader,
	dispatcher *Dispatcher,
	pdfStoragePath string,
	issuerID string,
) *InvoiceWorker {
	return &InvoiceWorker{
		issuer:         issuer,
		invoices:       invoices,
		sales:          sales,
		dispatcher:     dispatcher,
		pdfStoragePath: pdfStoragePath,
		issuerID:       issuerID,
		attempts:       3,
		retryBase:      time.Second,
		now:            time.Now,
	}
}

// Process handles a single invoice job. Authorization failures are recorded
// on the invoice for the retry cron and do not fail the job.
func (w *InvoiceWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload InvoiceJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Permanent(fmt.Errorf("invoice_worker: invalid payload: %w", err))
	}
	invoiceID, err := uuid.Parse(payload.InvoiceID)
	if err != nil {
		return Permanent(fmt.Errorf("invoice_worker: invalid invoice_id %q", payload.InvoiceID))
	}

	inv, err := w.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return Permanent(err)
		}
		return err
	}
	if inv.Status == model.InvoiceIssued || inv.Status == model.InvoiceRejected {
		log.Debug().Str("invoice_id", inv.ID.String()).Str("status", string(inv.Status)).Msg("invoice_worker: already final, skipping")
		return nil
	}
	sale, err := w.sales.FindByID(ctx, inv.SaleID)
	if err != nil {
		return fmt.Errorf("invoice_worker: load sale: %w", err)
	}

	w.authorize(ctx, inv, sale, w.attempts)
	w.renderTicket(inv, sale)
	if err := w.invoices.Update(ctx, inv); err != nil {
		return fmt.Errorf("invoice_worker: save invoice: %w", err)
	}

	if payload.CustomerEmail != nil && *payload.CustomerEmail != "" && inv.PDFPath != nil && w.dispatcher != nil {
		job := receiptEmail(sale, *payload.CustomerEmail, *inv.PDFPath)
		if err := w.dispatcher.EnqueueEmail(ctx, job); err != nil {
			log.Warn().Err(err).Str("sale_id", sale.ID.String()).Msg("invoice_worker: failed to enqueue email")
		}
	}
	return nil
}

// authorize calls the sidecar up to tries times and applies the verdict to
// inv. A failure leaves inv in ERROR with the next retry scheduled.
func (w *InvoiceWorker) authorize(ctx context.Context, inv *model.Invoice, sale *model.Sale, tries uint) {
	req := infra.EInvoiceRequest{
		IssuerID:   w.issuerID,
		SaleID:     sale.ID.String(),
		SaleNumber: sale.Number,
		Net:        sale.Total,
		Tax:        decimal.Zero,
		Total:      sale.Total,
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.retryBase
	eb.Multiplier = 2
	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*infra.EInvoiceResponse, error) {
		attempt++
		resp, err := w.issuer.Issue(ctx, req)
		if errors.Is(err, infra.ErrCircuitOpen) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("sale_id", req.SaleID).Msg("invoice_worker: sidecar attempt failed")
		}
		return resp, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(tries), backoff.WithMaxElapsedTime(0))

	now := w.now()
	inv.UpdatedAt = now
	switch {
	case err != nil:
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		msg := err.Error()
		inv.Status = model.InvoiceError
		inv.LastError = &msg
		inv.RetryCount++
		next := now.Add(computeRetryBackoff(inv.RetryCount))
		inv.NextRetryAt = &next
		log.Error().Err(err).Str("invoice_id", inv.ID.String()).Int("retry_count", inv.RetryCount).Msg("invoice_worker: authorization failed")
	case resp.Approved():
		inv.Status = model.InvoiceIssued
		code := resp.AuthorizationCode
		inv.AuthorizationCode = &code
		inv.AuthorizedUntil = resp.AuthorizedUntilTime()
		if resp.InvoiceNumber > 0 {
			n := resp.InvoiceNumber
			inv.Number = &n
		}
		inv.LastError = nil
		inv.NextRetryAt = nil
		log.Info().Str("invoice_id", inv.ID.String()).Str("authorization", code).Msg("invoice_worker: invoice issued")
	default:
		inv.Status = model.InvoiceRejected
		msg := fmt.Sprintf("rejected: result=%s", resp.Result)
		for _, o := range resp.Observations {
			msg += fmt.Sprintf("; %d %s", o.Code, o.Message)
		}
		inv.LastError = &msg
		inv.NextRetryAt = nil
		log.Warn().Str("invoice_id", inv.ID.String()).Str("result", resp.Result).Msg("invoice_worker: invoice rejected")
	}
}

// renderTicket writes the PDF ticket; failures are logged only.
func (w *InvoiceWorker) renderTicket(inv *model.Invoice, sale *model.Sale) {
	path, err := infra.GenerateSaleTicketPDF(sale, inv, w.pdfStoragePath)
	if err != nil {
		log.Warn().Err(err).Str("sale_id", sale.ID.String()).Msg("invoice_worker: PDF generation failed")
		return
	}
	inv.PDFPath = &path
}

// computeRetryBackoff spaces cron retries: 1m, 2m, 4m … capped at 1h.
func computeRetryBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := time.Minute << uint(min(retryCount-1, 6))
	return min(d, time.Hour)
}

func receiptEmail(sale *model.Sale, to, pdfPath string) EmailJobPayload {
	return EmailJobPayload{
		SaleID:  sale.ID.String(),
		ToEmail: to,
		Subject: fmt.Sprintf("Your receipt for sale #%d", sale.Number),
		Body:    fmt.Sprintf("Thanks for your purchase. Your receipt is attached.\nTotal: %s", sale.Total.StringFixed(2)),
		PDFPath: pdfPath,
	}
}
