package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"nexopos/internal/apperror"
	"nexopos/internal/model"
	"nexopos/internal/repository"
	"nexopos/internal/uow"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ── In-memory store ───────────────────────────────────────────────────────────
// memStore implements every repository on plain maps. memRunner serializes
// units of work with txMu and restores a snapshot when one fails, which gives
// the same all-or-nothing behaviour as a database transaction.

type memState struct {
	stocks       map[uuid.UUID]model.StockRecord
	stockByKey   map[string]uuid.UUID
	stockMoves   []model.StockMovement
	reservations map[uuid.UUID]model.StockReservation
	sales        map[uuid.UUID]model.Sale
	sessions     map[uuid.UUID]model.CashRegisterSession
	cashMoves    []model.CashMovement
	sequences    map[string]int64
}

func newMemState() memState {
	return memState{
		stocks:       map[uuid.UUID]model.StockRecord{},
		stockByKey:   map[string]uuid.UUID{},
		reservations: map[uuid.UUID]model.StockReservation{},
		sales:        map[uuid.UUID]model.Sale{},
		sessions:     map[uuid.UUID]model.CashRegisterSession{},
		sequences:    map[string]int64{},
	}
}

func (s memState) clone() memState {
	c := newMemState()
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.stockByKey {
		c.stockByKey[k] = v
	}
	c.stockMoves = append([]model.StockMovement(nil), s.stockMoves...)
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.sales {
		c.sales[k] = cloneSale(v)
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	c.cashMoves = append([]model.CashMovement(nil), s.cashMoves...)
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

func cloneSale(s model.Sale) model.Sale {
	s.Items = append([]model.SaleItem(nil), s.Items...)
	s.Payments = append([]model.SalePayment(nil), s.Payments...)
	return s
}

type memStore struct {
	txMu sync.Mutex // held for a whole unit of work
	mu   sync.Mutex // guards st
	st   memState

	saleSeq        int64 // outside st: like nextval, never rolled back
	conflicts      int   // next N attempts fail with a serialization conflict
	failSaleInsert error // returned by SaleRepository.CreateTx when set
}

func newMemStore() *memStore { return &memStore{st: newMemState()} }

var (
	_ repository.StockRepository       = (*memStore)(nil)
	_ repository.ReservationRepository = (*memReservations)(nil)
	_ repository.SaleRepository        = (*memSales)(nil)
	_ repository.CashRepository        = (*memCash)(nil)
	_ repository.SequenceRepository    = (*memSequences)(nil)
	_ uow.Runner                       = (*memRunner)(nil)
)

// ── Runner ────────────────────────────────────────────────────────────────────

type memRunner struct {
	store  *memStore
	policy uow.Policy
}

func (r *memRunner) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return uow.Retry(ctx, r.policy, func(int) error {
		r.store.txMu.Lock()
		defer r.store.txMu.Unlock()

		r.store.mu.Lock()
		if r.store.conflicts > 0 {
			r.store.conflicts--
			r.store.mu.Unlock()
			return uow.ConflictError()
		}
		snap := r.store.st.clone()
		r.store.mu.Unlock()

		rollback := func() {
			r.store.mu.Lock()
			r.store.st = snap
			r.store.mu.Unlock()
		}
		defer func() {
			if p := recover(); p != nil {
				rollback()
				panic(p)
			}
		}()
		if err := fn(nil); err != nil {
			rollback()
			return err
		}
		return nil
	})
}

func (m *memStore) injectConflicts(n int) {
	m.mu.Lock()
	m.conflicts = n
	m.mu.Unlock()
}

// ── Stock ─────────────────────────────────────────────────────────────────────

func (m *memStore) LockOrCreateTx(_ *gorm.DB, key model.StockKey, minStock decimal.Decimal) (*model.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.st.stockByKey[key.String()]; ok {
		rec := m.st.stocks[id]
		return &rec, nil
	}
	rec := model.NewStockRecord(key, minStock)
	rec.Recompute()
	m.st.stocks[rec.ID] = rec
	m.st.stockByKey[rec.StockKey] = rec.ID
	return &rec, nil
}

func (m *memStore) LockByIDTx(_ *gorm.DB, id uuid.UUID) (*model.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.st.stocks[id]
	if !ok {
		return nil, apperror.NotFound("stock record", id)
	}
	return &rec, nil
}

func (m *memStore) SaveTx(_ *gorm.DB, rec *model.StockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.stocks[rec.ID] = *rec
	return nil
}

func (m *memStore) CreateMovementTx(_ *gorm.DB, mv *model.StockMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.stockMoves = append(m.st.stockMoves, *mv)
	return nil
}

func (m *memStore) MovementsByReferenceTx(_ *gorm.DB, refID uuid.UUID, t model.MovementType) ([]model.StockMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StockMovement
	for _, mv := range m.st.stockMoves {
		if mv.Type == t && mv.Reference.ID != nil && *mv.Reference.ID == refID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *memStore) FindByKey(_ context.Context, key model.StockKey) (*model.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.st.stockByKey[key.String()]
	if !ok {
		return nil, apperror.NotFound("stock record", key.String())
	}
	rec := m.st.stocks[id]
	return &rec, nil
}

func (m *memStore) FindByID(_ context.Context, id uuid.UUID) (*model.StockRecord, error) {
	return m.LockByIDTx(nil, id)
}

func (m *memStore) ListMovements(_ context.Context, f repository.StockMovementFilter) ([]model.StockMovement, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StockMovement
	for _, mv := range m.st.stockMoves {
		if mv.TenantID != f.TenantID {
			continue
		}
		if f.StockRecordID != nil && mv.StockRecordID != *f.StockRecordID {
			continue
		}
		if f.ProductID != nil && mv.ProductID != *f.ProductID {
			continue
		}
		if f.Type != "" && string(mv.Type) != f.Type {
			continue
		}
		out = append(out, mv)
	}
	return out, int64(len(out)), nil
}

func (m *memStore) ShareByKeyTx(_ *gorm.DB, key model.StockKey) (*model.StockRecord, error) {
	return m.FindByKey(context.Background(), key)
}

func (m *memStore) SumMovementsTx(_ *gorm.DB, stockRecordID uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, mv := range m.st.stockMoves {
		if mv.StockRecordID == stockRecordID {
			sum = sum.Add(mv.Quantity)
		}
	}
	return sum, nil
}

// movementsFor returns every stock movement of the row, in insertion order.
func (m *memStore) movementsFor(stockRecordID uuid.UUID) []model.StockMovement {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StockMovement
	for _, mv := range m.st.stockMoves {
		if mv.StockRecordID == stockRecordID {
			out = append(out, mv)
		}
	}
	return out
}

func (m *memStore) counts() (stockMoves, reservations, sales, cashMoves int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.stockMoves), len(m.st.reservations), len(m.st.sales), len(m.st.cashMoves)
}

// ── Reservations ──────────────────────────────────────────────────────────────

type memReservations struct{ m *memStore }

func (r *memReservations) CreateTx(_ *gorm.DB, res *model.StockReservation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.st.reservations[res.ID] = *res
	return nil
}

func (r *memReservations) LockTx(_ *gorm.DB, id uuid.UUID) (*model.StockReservation, error) {
	return r.FindByID(context.Background(), id)
}

func (r *memReservations) SaveTx(_ *gorm.DB, res *model.StockReservation) error {
	return r.CreateTx(nil, res)
}

func (r *memReservations) FindByID(_ context.Context, id uuid.UUID) (*model.StockReservation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	res, ok := r.m.st.reservations[id]
	if !ok {
		return nil, apperror.NotFound("reservation", id)
	}
	return &res, nil
}

func (r *memReservations) ListExpiredIDs(_ context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var ids []uuid.UUID
	for id, res := range r.m.st.reservations {
		if res.Status == model.ReservationActive && res.ExpiresAt.Before(now) && id.String() > after.String() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *memReservations) SumActiveTx(_ *gorm.DB, stockRecordID uuid.UUID) (decimal.Decimal, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	sum := decimal.Zero
	for _, res := range r.m.st.reservations {
		if res.StockRecordID == stockRecordID && res.Status == model.ReservationActive {
			sum = sum.Add(res.Quantity)
		}
	}
	return sum, nil
}

// ── Sales ─────────────────────────────────────────────────────────────────────

type memSales struct{ m *memStore }

func (r *memSales) CreateTx(_ *gorm.DB, s *model.Sale) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failSaleInsert != nil {
		return r.m.failSaleInsert
	}
	r.m.st.sales[s.ID] = cloneSale(*s)
	return nil
}

func (r *memSales) NextNumberTx(_ *gorm.DB) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.saleSeq++
	return r.m.saleSeq, nil
}

func (r *memSales) LockTx(_ *gorm.DB, id uuid.UUID) (*model.Sale, error) {
	return r.FindByID(context.Background(), id)
}

func (r *memSales) SaveTx(_ *gorm.DB, s *model.Sale) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.st.sales[s.ID]
	if !ok {
		return apperror.NotFound("sale", s.ID)
	}
	// Items and payments are not written by SaveTx.
	items, payments := stored.Items, stored.Payments
	stored = cloneSale(*s)
	stored.Items, stored.Payments = items, payments
	r.m.st.sales[s.ID] = stored
	return nil
}

func (r *memSales) CreatePaymentTx(_ *gorm.DB, p *model.SalePayment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.st.sales[p.SaleID]
	if !ok {
		return apperror.NotFound("sale", p.SaleID)
	}
	stored = cloneSale(stored)
	stored.Payments = append(stored.Payments, *p)
	r.m.st.sales[p.SaleID] = stored
	return nil
}

func (r *memSales) FindByID(_ context.Context, id uuid.UUID) (*model.Sale, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.st.sales[id]
	if !ok {
		return nil, apperror.NotFound("sale", id)
	}
	c := cloneSale(s)
	return &c, nil
}

func (r *memSales) List(_ context.Context, f repository.SaleFilter) ([]model.Sale, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []model.Sale
	for _, s := range r.m.st.sales {
		if s.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && string(s.Status) != f.Status {
			continue
		}
		out = append(out, cloneSale(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, int64(len(out)), nil
}

// ── Cash ──────────────────────────────────────────────────────────────────────

type memCash struct{ m *memStore }

func (r *memCash) CreateSessionTx(_ *gorm.DB, s *model.CashRegisterSession) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, other := range r.m.st.sessions {
		if other.TenantID == s.TenantID && other.UserID == s.UserID &&
			(other.Status == model.SessionOpen || other.Status == model.SessionSuspended) {
			return &pgconn.PgError{Code: "23505", Message: "duplicate active session"}
		}
	}
	r.m.st.sessions[s.ID] = *s
	return nil
}

func (r *memCash) LockSessionTx(_ *gorm.DB, id uuid.UUID) (*model.CashRegisterSession, error) {
	return r.FindSession(context.Background(), id)
}

func (r *memCash) LockActiveForUserTx(_ *gorm.DB, tenantID, userID uuid.UUID, statuses ...model.SessionStatus) (*model.CashRegisterSession, error) {
	if len(statuses) == 0 {
		statuses = []model.SessionStatus{model.SessionOpen}
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var found *model.CashRegisterSession
	for _, s := range r.m.st.sessions {
		if s.TenantID != tenantID || s.UserID != userID {
			continue
		}
		for _, st := range statuses {
			if s.Status == st && (found == nil || s.OpenedAt.After(found.OpenedAt)) {
				c := s
				found = &c
			}
		}
	}
	if found == nil {
		return nil, apperror.NotFound("active cash session for user", userID)
	}
	return found, nil
}

func (r *memCash) SaveSessionTx(_ *gorm.DB, s *model.CashRegisterSession) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.st.sessions[s.ID] = *s
	return nil
}

func (r *memCash) CreateMovementTx(_ *gorm.DB, mv *model.CashMovement) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, other := range r.m.st.cashMoves {
		if other.SessionID == mv.SessionID && other.Seq == mv.Seq {
			return fmt.Errorf("duplicate seq %d in session %s", mv.Seq, mv.SessionID)
		}
	}
	r.m.st.cashMoves = append(r.m.st.cashMoves, *mv)
	return nil
}

func (r *memCash) MovementsTx(_ *gorm.DB, sessionID uuid.UUID) ([]model.CashMovement, error) {
	return r.Movements(context.Background(), sessionID)
}

func (r *memCash) MovementsByReferenceTx(_ *gorm.DB, refID uuid.UUID, t model.CashMovementType) ([]model.CashMovement, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []model.CashMovement
	for _, mv := range r.m.st.cashMoves {
		if mv.Type == t && mv.Reference.ID != nil && *mv.Reference.ID == refID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (r *memCash) FindSession(_ context.Context, id uuid.UUID) (*model.CashRegisterSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.st.sessions[id]
	if !ok {
		return nil, apperror.NotFound("cash session", id)
	}
	return &s, nil
}

func (r *memCash) FindActiveForUser(_ context.Context, tenantID, userID uuid.UUID) (*model.CashRegisterSession, error) {
	return r.LockActiveForUserTx(nil, tenantID, userID, model.SessionOpen, model.SessionSuspended)
}

func (r *memCash) Movements(_ context.Context, sessionID uuid.UUID) ([]model.CashMovement, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []model.CashMovement
	for _, mv := range r.m.st.cashMoves {
		if mv.SessionID == sessionID {
			out = append(out, mv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *memCash) SummaryByMethod(ctx context.Context, sessionID uuid.UUID) ([]repository.MethodTotal, error) {
	moves, _ := r.Movements(ctx, sessionID)
	type key struct {
		method model.PaymentMethod
		typ    model.CashMovementType
	}
	acc := map[key]*repository.MethodTotal{}
	var keys []key
	for _, mv := range moves {
		if mv.Type == model.CashOpening || mv.Type == model.CashClosing {
			continue
		}
		k := key{mv.PaymentMethod, mv.Type}
		t, ok := acc[k]
		if !ok {
			t = &repository.MethodTotal{PaymentMethod: mv.PaymentMethod, Type: mv.Type, Total: decimal.Zero}
			acc[k] = t
			keys = append(keys, k)
		}
		t.Count++
		t.Total = t.Total.Add(mv.Amount)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].typ < keys[j].typ
	})
	out := make([]repository.MethodTotal, 0, len(keys))
	for _, k := range keys {
		out = append(out, *acc[k])
	}
	return out, nil
}

// ── Sequences ─────────────────────────────────────────────────────────────────

type memSequences struct{ m *memStore }

func (r *memSequences) NextTx(_ *gorm.DB, tenantID uuid.UUID, name string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	k := tenantID.String() + "/" + name
	r.m.st.sequences[k]++
	return r.m.st.sequences[k], nil
}

// ── Collaborators ─────────────────────────────────────────────────────────────

type stubInvoices struct {
	mu    sync.Mutex
	err   error
	sales []uuid.UUID
}

func (s *stubInvoices) GenerateInvoiceFromSale(_ context.Context, sale *model.Sale) (*model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales = append(s.sales, sale.ID)
	if s.err != nil {
		return nil, s.err
	}
	return &model.Invoice{ID: uuid.New(), SaleID: sale.ID, TenantID: sale.TenantID, Total: sale.Total, Status: model.InvoicePending}, nil
}

type stubNotifier struct {
	mu    sync.Mutex
	sales []uuid.UUID
}

func (n *stubNotifier) SaleCompleted(_ context.Context, sale *model.Sale) {
	n.mu.Lock()
	n.sales = append(n.sales, sale.ID)
	n.mu.Unlock()
}

type stubAccounting struct {
	err    error
	calls  int
	lastID uuid.UUID
}

func (a *stubAccounting) CreateClosingJournalEntry(_ context.Context, session *model.CashRegisterSession, _ uuid.UUID) (string, error) {
	a.calls++
	a.lastID = session.ID
	if a.err != nil {
		return "", a.err
	}
	return "JE-" + session.ID.String()[:8], nil
}

var errBoom = errors.New("boom")
