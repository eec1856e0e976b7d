package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"nexopos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ticketSale() *model.Sale {
	done := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	return &model.Sale{
		ID:            uuid.New(),
		Number:        42,
		Status:        model.SaleCompleted,
		Subtotal:      decimal.NewFromInt(1500),
		DiscountTotal: decimal.NewFromInt(100),
		Total:         decimal.NewFromInt(1400),
		CompletedAt:   &done,
		Items: []model.SaleItem{
			{ProductID: uuid.New(), Description: "Sparkling water 500ml, extra long name", Quantity: decimal.NewFromInt(2), Subtotal: decimal.NewFromInt(500)},
			{ProductID: uuid.New(), Quantity: decimal.RequireFromString("1.5"), Subtotal: decimal.NewFromInt(1000)},
		},
		Payments: []model.SalePayment{
			{Method: model.PaymentCash, Amount: decimal.NewFromInt(1000)},
			{Method: model.PaymentCard, Amount: decimal.NewFromInt(400)},
		},
	}
}

func TestGenerateSaleTicketPDF(t *testing.T) {
	dir := t.TempDir()
	sale := ticketSale()
	code := "74123456789012"
	until := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)

	path, err := GenerateSaleTicketPDF(sale, &model.Invoice{AuthorizationCode: &code, AuthorizedUntil: &until}, dir)
	require.NoError(t, err)
	assert.Equal(t, TicketFileName(sale), filepath.Base(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(100))
}

func TestGenerateSaleTicketPDF_WithoutInvoice(t *testing.T) {
	path, err := GenerateSaleTicketPDF(ticketSale(), nil, filepath.Join(t.TempDir(), "nested"))
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
