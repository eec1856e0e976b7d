package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nexopos/internal/apperror"
	"nexopos/internal/model"
	"nexopos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// enqueuer is the part of Dispatcher the sale hooks need.
type enqueuer interface {
	EnqueueInvoice(ctx context.Context, payload InvoiceJobPayload) error
	EnqueueEmail(ctx context.Context, payload EmailJobPayload) error
}

// InvoiceRequester turns a completed sale into a PENDING invoice and queues
// the authorization job. It runs after the sale committed.
type InvoiceRequester struct {
	invoices repository.InvoiceRepository
	queue    enqueuer
	now      func() time.Time
}

func NewInvoiceRequester(invoices repository.InvoiceRepository, dispatcher *Dispatcher) *InvoiceRequester {
	return &InvoiceRequester{invoices: invoices, queue: dispatcher, now: time.Now}
}

// GenerateInvoiceFromSale is idempotent per sale. When the job cannot be
// queued the invoice is left in ERROR, due now, for the retry cron.
func (r *InvoiceRequester) GenerateInvoiceFromSale(ctx context.Context, sale *model.Sale) (*model.Invoice, error) {
	existing, err := r.invoices.FindBySaleID(ctx, sale.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	now := r.now()
	inv := &model.Invoice{
		ID:        uuid.New(),
		TenantID:  sale.TenantID,
		SaleID:    sale.ID,
		Total:     sale.Total,
		Status:    model.InvoicePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.invoices.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	if err := r.queue.EnqueueInvoice(ctx, InvoiceJobPayload{InvoiceID: inv.ID.String(), CustomerEmail: sale.CustomerEmail}); err != nil {
		log.Warn().Err(err).Str("invoice_id", inv.ID.String()).Msg("invoice job not queued, leaving it to the retry cron")
		msg := "enqueue: " + err.Error()
		inv.Status = model.InvoiceError
		inv.LastError = &msg
		inv.NextRetryAt = &now
		if err := r.invoices.Update(ctx, inv); err != nil {
			return inv, fmt.Errorf("mark invoice for retry: %w", err)
		}
	}
	return inv, nil
}

// ReceiptNotifier emails the ticket of sales that carry a customer email.
// Sales that require an invoice are mailed by the invoice worker instead,
// once the authorization code is on the ticket.
type ReceiptNotifier struct {
	queue enqueuer
}

func NewReceiptNotifier(dispatcher *Dispatcher) *ReceiptNotifier {
	return &ReceiptNotifier{queue: dispatcher}
}

func (n *ReceiptNotifier) SaleCompleted(ctx context.Context, sale *model.Sale) {
	if sale.CustomerEmail == nil || *sale.CustomerEmail == "" || sale.RequiresInvoice {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := n.queue.EnqueueEmail(ctx, EmailJobPayload{
		SaleID:  sale.ID.String(),
		ToEmail: *sale.CustomerEmail,
		Subject: fmt.Sprintf("Your receipt for sale #%d", sale.Number),
		Body:    fmt.Sprintf("Thanks for your purchase.\nTotal: %s", sale.Total.StringFixed(2)),
	}); err != nil {
		log.Warn().Err(err).Str("sale_id", sale.ID.String()).Msg("receipt email not queued")
	}
}
