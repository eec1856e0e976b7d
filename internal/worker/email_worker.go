package worker

// email_worker.go
// Sends receipt emails queued on QueueEmail. When the job carries no PDF the
// ticket is rendered here first.

import (
	"context"
	"encoding/json"
	"fmt"

	"nexopos/internal/infra"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EmailJobPayload is the job envelope sent to QueueEmail.
type EmailJobPayload struct {
	SaleID  string `json:"sale_id,omitempty"`
	ToEmail string `json:"to_email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	PDFPath string `json:"pdf_path,omitempty"`
}

// ReceiptSender delivers one email.
type ReceiptSender interface {
	SendReceipt(to, subject, body, pdfPath string) error
}

// EmailWorker processes email jobs from QueueEmail.
type EmailWorker struct {
	mailer         ReceiptSender
	sales          SaleReader
	pdfStoragePath string
}

// NewEmailWorker creates an EmailWorker. sales may be nil when every job
// carries its own PDF.
func NewEmailWorker(mailer ReceiptSender, sales SaleReader, pdfStoragePath string) *EmailWorker {
	return &EmailWorker{mailer: mailer, sales: sales, pdfStoragePath: pdfStoragePath}
}

// Process sends one email. Send failures are returned so the pool re-queues.
func (w *EmailWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload EmailJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Permanent(fmt.Errorf("email_worker: invalid payload: %w", err))
	}
	if payload.ToEmail == "" {
		log.Warn().Msg("email_worker: empty to_email, skipping")
		return nil
	}

	if payload.PDFPath == "" && payload.SaleID != "" && w.sales != nil {
		id, err := uuid.Parse(payload.SaleID)
		if err != nil {
			return Permanent(fmt.Errorf("email_worker: invalid sale_id %q", payload.SaleID))
		}
		sale, err := w.sales.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("email_worker: load sale: %w", err)
		}
		path, err := infra.GenerateSaleTicketPDF(sale, nil, w.pdfStoragePath)
		if err != nil {
			log.Warn().Err(err).Str("sale_id", payload.SaleID).Msg("email_worker: PDF generation failed, sending without attachment")
		}
		payload.PDFPath = path
	}

	if err := w.mailer.SendReceipt(payload.ToEmail, payload.Subject, payload.Body, payload.PDFPath); err != nil {
		log.Error().Err(err).Str("to", payload.ToEmail).Msg("email_worker: failed to send email")
		return err
	}
	log.Info().Str("to", payload.ToEmail).Msg("email_worker: receipt sent")
	return nil
}
