package service

import (
	"context"

	"nexopos/internal/model"

	"github.com/google/uuid"
)

// Accounting books the journal entry of a closed register session.
type Accounting interface {
	CreateClosingJournalEntry(ctx context.Context, session *model.CashRegisterSession, actor uuid.UUID) (string, error)
}

// InvoiceGenerator requests the fiscal document of a completed sale.
type InvoiceGenerator interface {
	GenerateInvoiceFromSale(ctx context.Context, sale *model.Sale) (*model.Invoice, error)
}

// Notifier announces sale events. Implementations must not block.
type Notifier interface {
	SaleCompleted(ctx context.Context, sale *model.Sale)
}
