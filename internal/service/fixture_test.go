package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"nexopos/internal/model"
	"nexopos/internal/service"
	"nexopos/internal/uow"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store        *memStore
	ledger       service.StockLedger
	reservations service.ReservationManager
	cash         service.CashService
	sales        service.SaleService
	invoices     *stubInvoices
	notifier     *stubNotifier
	accounting   *stubAccounting

	tenant  uuid.UUID
	cashier service.Actor

	clockMu sync.Mutex
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      newMemStore(),
		invoices:   &stubInvoices{},
		notifier:   &stubNotifier{},
		accounting: &stubAccounting{},
		tenant:     uuid.New(),
		clock:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.cashier = service.Actor{TenantID: f.tenant, UserID: uuid.New()}

	runner := &memRunner{store: f.store, policy: uow.Policy{MaxAttempts: 3, BaseBackoff: time.Microsecond, MaxBackoff: time.Microsecond}}
	reservations := &memReservations{m: f.store}
	cashRepo := &memCash{m: f.store}
	sequences := &memSequences{m: f.store}

	f.ledger = service.NewStockLedger(runner, f.store, reservations, decimal.NewFromInt(5))
	f.reservations = service.NewReservationManager(runner, f.store, reservations, f.ledger, decimal.NewFromInt(5), 15*time.Minute)
	f.cash = service.NewCashService(runner, cashRepo, sequences, f.accounting, decimal.Zero)
	f.sales = service.NewSaleService(service.SaleDeps{
		Runner:       runner,
		Sales:        &memSales{m: f.store},
		Stocks:       f.store,
		CashRepo:     cashRepo,
		Ledger:       f.ledger,
		Reservations: f.reservations,
		Cash:         f.cash,
		Invoices:     f.invoices,
		Notifier:     f.notifier,
	})
	for _, svc := range []any{f.ledger, f.reservations, f.cash, f.sales} {
		service.SetClock(svc, f.now)
	}
	return f
}

func (f *fixture) now() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.clock
}

func (f *fixture) advance(d time.Duration) {
	f.clockMu.Lock()
	f.clock = f.clock.Add(d)
	f.clockMu.Unlock()
}

func (f *fixture) key(product uuid.UUID) model.StockKey {
	return model.StockKey{TenantID: f.tenant, ProductID: product}
}

// seed puts qty units of a fresh product in stock and returns its key.
func (f *fixture) seed(t *testing.T, qty int64) model.StockKey {
	t.Helper()
	key := f.key(uuid.New())
	cost := decimal.NewFromInt(10)
	_, err := f.ledger.Adjust(context.Background(), key, decimal.NewFromInt(qty), model.MovementInitial,
		service.MovementMeta{UnitCost: &cost, Notes: "seed"})
	require.NoError(t, err)
	return key
}

func (f *fixture) stock(t *testing.T, key model.StockKey) *model.StockRecord {
	t.Helper()
	rec, err := f.ledger.GetStock(context.Background(), key)
	require.NoError(t, err)
	return rec
}

// cashSale builds a single-line cash sale of qty units at 2.50 each.
func cashSale(key model.StockKey, qty int64) service.CreateSaleRequest {
	price := decimal.RequireFromString("2.50")
	total := price.Mul(decimal.NewFromInt(qty))
	return service.CreateSaleRequest{
		Type: model.SaleTypeCash,
		Items: []service.SaleLine{{
			ProductID: key.ProductID,
			Quantity:  decimal.NewFromInt(qty),
			UnitPrice: price,
			UnitCost:  decimal.NewFromInt(1),
		}},
		Payments: []service.PaymentInput{{Method: model.PaymentCash, Amount: total}},
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
