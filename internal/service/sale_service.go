package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"nexopos/internal/apperror"
	"nexopos/internal/model"
	"nexopos/internal/repository"
	"nexopos/internal/uow"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SaleLine is one requested line of a sale.
type SaleLine struct {
	ProductID     uuid.UUID
	VariantID     *uuid.UUID
	WarehouseID   *uuid.UUID
	BatchID       *uuid.UUID
	Description   string
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	UnitCost      decimal.Decimal
	Discount      decimal.Decimal
	ReservationID *uuid.UUID
}

// PaymentInput is money received for a sale.
type PaymentInput struct {
	Method    model.PaymentMethod
	Amount    decimal.Decimal
	Reference string
}

// CreateSaleRequest is the input of CreateSale and Checkout.
type CreateSaleRequest struct {
	Type            model.SaleType
	CustomerID      *uuid.UUID
	CustomerEmail   *string
	RequiresInvoice bool
	Notes           string
	Items           []SaleLine
	Payments        []PaymentInput
}

// SaleResult is a committed sale plus the outcome of its post-commit hooks.
// InvoiceError is set when invoicing failed; the sale stays completed.
type SaleResult struct {
	Sale         *model.Sale
	Invoice      *model.Invoice
	InvoiceError string
}

// SaleService is the sale commit coordinator: each operation is one unit of
// work covering stock, the sale row and the cash ledger.
type SaleService interface {
	CreateSale(ctx context.Context, req CreateSaleRequest, actor Actor) (*model.Sale, error)
	CompleteSale(ctx context.Context, saleID uuid.UUID, actor Actor) (*SaleResult, error)
	// Checkout creates and completes a sale in a single unit of work.
	Checkout(ctx context.Context, req CreateSaleRequest, actor Actor) (*SaleResult, error)
	CancelSale(ctx context.Context, saleID uuid.UUID, reason string, actor Actor) (*model.Sale, error)
	ApplyPartialPayment(ctx context.Context, saleID uuid.UUID, payment PaymentInput, actor Actor) (*model.Sale, error)

	GetSale(ctx context.Context, saleID uuid.UUID, actor Actor) (*model.Sale, error)
	ListSales(ctx context.Context, filter repository.SaleFilter, actor Actor) ([]model.Sale, int64, error)
}

type saleService struct {
	runner       uow.Runner
	sales        repository.SaleRepository
	stocks       repository.StockRepository
	cashRepo     repository.CashRepository
	ledger       StockLedger
	reservations ReservationManager
	cash         CashService
	invoices     InvoiceGenerator
	notifier     Notifier
	now          func() time.Time
}

// SaleDeps groups the collaborators of the sale coordinator. Invoices and
// Notifier may be nil.
type SaleDeps struct {
	Runner       uow.Runner
	Sales        repository.SaleRepository
	Stocks       repository.StockRepository
	CashRepo     repository.CashRepository
	Ledger       StockLedger
	Reservations ReservationManager
	Cash         CashService
	Invoices     InvoiceGenerator
	Notifier     Notifier
}

func NewSaleService(d SaleDeps) SaleService {
	return &saleService{
		runner:       d.Runner,
		sales:        d.Sales,
		stocks:       d.Stocks,
		cashRepo:     d.CashRepo,
		ledger:       d.Ledger,
		reservations: d.Reservations,
		cash:         d.Cash,
		invoices:     d.Invoices,
		notifier:     d.Notifier,
		now:          time.Now,
	}
}

// ── CreateSale ────────────────────────────────────────────────────────────────

func (s *saleService) CreateSale(ctx context.Context, req CreateSaleRequest, actor Actor) (*model.Sale, error) {
	sale, err := s.buildSale(req, actor)
	if err != nil {
		return nil, err
	}
	err = s.runner.Do(ctx, func(tx *gorm.DB) error {
		if err := s.numberTx(tx, sale); err != nil {
			return err
		}
		return s.insertTx(tx, sale)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("sale_id", sale.ID.String()).Int64("number", sale.Number).Msg("sale created")
	return sale, nil
}

// ── CompleteSale ──────────────────────────────────────────────────────────────

func (s *saleService) CompleteSale(ctx context.Context, saleID uuid.UUID, actor Actor) (*SaleResult, error) {
	var sale *model.Sale
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		var err error
		sale, err = s.lockOwned(tx, saleID, actor)
		if err != nil {
			return err
		}
		if sale.IsTerminal() {
			return apperror.StateViolation("sale #%d is already %s", sale.Number, sale.Status)
		}
		if err := s.deductTx(tx, sale, actor); err != nil {
			return err
		}
		s.markCompleted(sale)
		if err := s.sales.SaveTx(tx, sale); err != nil {
			return fmt.Errorf("update sale: %w", err)
		}
		return s.recordPaymentsTx(tx, sale, actor)
	})
	if err != nil {
		log.Warn().Err(err).Str("sale_id", saleID.String()).Msg("complete sale failed")
		return nil, err
	}
	return s.afterCommit(ctx, sale), nil
}

// ── Checkout ──────────────────────────────────────────────────────────────────

func (s *saleService) Checkout(ctx context.Context, req CreateSaleRequest, actor Actor) (*SaleResult, error) {
	var sale *model.Sale
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		// Rebuilt on every attempt so a retried unit of work starts clean.
		var err error
		sale, err = s.buildSale(req, actor)
		if err != nil {
			return err
		}
		if err := s.deductTx(tx, sale, actor); err != nil {
			return err
		}
		if err := s.numberTx(tx, sale); err != nil {
			return err
		}
		s.markCompleted(sale)
		if err := s.insertTx(tx, sale); err != nil {
			return err
		}
		return s.recordPaymentsTx(tx, sale, actor)
	})
	if err != nil {
		log.Warn().Err(err).Msg("checkout failed")
		return nil, err
	}
	return s.afterCommit(ctx, sale), nil
}

// ── CancelSale ────────────────────────────────────────────────────────────────

func (s *saleService) CancelSale(ctx context.Context, saleID uuid.UUID, reason string, actor Actor) (*model.Sale, error) {
	if reason == "" {
		return nil, apperror.Validation("cancel reason is required")
	}
	var sale *model.Sale
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		var err error
		sale, err = s.lockOwned(tx, saleID, actor)
		if err != nil {
			return err
		}
		switch sale.Status {
		case model.SaleCancelled:
			return apperror.StateViolation("sale #%d is already cancelled", sale.Number)
		case model.SaleCompleted:
			if err := s.compensateTx(tx, sale, reason, actor); err != nil {
				return err
			}
		default:
			if err := s.releaseHoldsTx(tx, sale, actor); err != nil {
				return err
			}
		}
		now := s.now()
		sale.Status = model.SaleCancelled
		sale.CancelledAt = &now
		sale.CancelReason = &reason
		sale.CancelledBy = actor.userRef()
		sale.UpdatedAt = now
		return s.sales.SaveTx(tx, sale)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("sale_id", saleID.String()).Str("reason", reason).Msg("sale cancelled")
	return sale, nil
}

// compensateTx books RETURN_CUSTOMER movements and cash refunds, each linked
// to the movement it reverses. History is never rewritten.
func (s *saleService) compensateTx(tx *gorm.DB, sale *model.Sale, reason string, actor Actor) error {
	ref := saleRef(sale)
	movements, err := s.stocks.MovementsByReferenceTx(tx, sale.ID, model.MovementSale)
	if err != nil {
		return err
	}
	sort.Slice(movements, func(i, j int) bool {
		return movements[i].StockRecordID.String() < movements[j].StockRecordID.String()
	})
	for i := range movements {
		_, err := s.ledger.ReverseTx(tx, &movements[i], model.MovementReturnCustomer, MovementMeta{
			Reference: ref,
			Notes:     "sale cancelled: " + reason,
			Actor:     actor.userRef(),
		})
		if err != nil {
			return fmt.Errorf("reverse stock movement %s: %w", movements[i].ID, err)
		}
	}

	cashMoves, err := s.cashRepo.MovementsByReferenceTx(tx, sale.ID, model.CashSale)
	if err != nil {
		return err
	}
	sessions := make(map[uuid.UUID]*model.CashRegisterSession)
	var fallback *model.CashRegisterSession
	fallbackLoaded := false
	for i := range cashMoves {
		orig := &cashMoves[i]
		target, ok := sessions[orig.SessionID]
		if !ok {
			target, err = s.cashRepo.LockSessionTx(tx, orig.SessionID)
			if err != nil {
				return err
			}
			sessions[orig.SessionID] = target
		}
		if !target.AcceptsMovements() {
			if !fallbackLoaded {
				fallback, err = s.openSessionTx(tx, sale.TenantID, actor.UserID)
				if err != nil {
					return err
				}
				if fallback != nil {
					if cached, ok := sessions[fallback.ID]; ok {
						fallback = cached
					} else {
						sessions[fallback.ID] = fallback
					}
				}
				fallbackLoaded = true
			}
			target = fallback
		}
		if target == nil {
			log.Warn().Str("sale_id", sale.ID.String()).Msg("no open cash session for refund, skipped")
			continue
		}
		id := orig.ID
		_, err := s.cash.RecordTx(tx, target, model.RefundEntry{
			SaleID:           sale.ID,
			SaleNumber:       sale.Number,
			Method:           orig.PaymentMethod,
			Amount:           orig.Amount,
			ReversesMovement: &id,
			Reason:           reason,
		}, actor)
		if err != nil {
			return err
		}
	}
	return nil
}

// releaseHoldsTx returns the holds of a sale that never completed.
func (s *saleService) releaseHoldsTx(tx *gorm.DB, sale *model.Sale, actor Actor) error {
	for _, item := range sale.Items {
		if item.ReservationID == nil {
			continue
		}
		_, err := s.reservations.ReleaseTx(tx, *item.ReservationID, actor)
		if errors.Is(err, apperror.ErrInvalidReservation) {
			// Already expired or released.
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ── ApplyPartialPayment ───────────────────────────────────────────────────────

func (s *saleService) ApplyPartialPayment(ctx context.Context, saleID uuid.UUID, payment PaymentInput, actor Actor) (*model.Sale, error) {
	if err := validatePayment(payment); err != nil {
		return nil, err
	}
	var sale *model.Sale
	err := s.runner.Do(ctx, func(tx *gorm.DB) error {
		var err error
		sale, err = s.lockOwned(tx, saleID, actor)
		if err != nil {
			return err
		}
		if sale.Type != model.SaleTypeCredit || sale.Status != model.SaleCompleted {
			return apperror.StateViolation("sale #%d does not accept partial payments", sale.Number)
		}
		if payment.Amount.GreaterThan(sale.CreditOutstanding) {
			return apperror.Validation("payment %s exceeds outstanding credit %s", payment.Amount, sale.CreditOutstanding)
		}

		now := s.now()
		p := model.SalePayment{
			ID:        uuid.New(),
			SaleID:    sale.ID,
			Method:    payment.Method,
			Amount:    payment.Amount,
			Reference: payment.Reference,
			Partial:   true,
			CreatedBy: actor.userRef(),
			CreatedAt: now,
		}
		if err := s.sales.CreatePaymentTx(tx, &p); err != nil {
			return err
		}
		sale.Payments = append(sale.Payments, p)
		sale.PaidAmount = sale.PaidAmount.Add(payment.Amount)
		sale.CreditOutstanding = sale.CreditOutstanding.Sub(payment.Amount)
		sale.UpdatedAt = now
		if err := s.sales.SaveTx(tx, sale); err != nil {
			return err
		}

		session, err := s.openSessionTx(tx, sale.TenantID, actor.UserID)
		if err != nil || session == nil {
			return err
		}
		_, err = s.cash.RecordTx(tx, session, model.SaleEntry{
			SaleID: sale.ID, SaleNumber: sale.Number, Method: payment.Method, Amount: payment.Amount, Credit: true,
		}, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("sale_id", saleID.String()).
		Str("amount", payment.Amount.String()).
		Str("outstanding", sale.CreditOutstanding.String()).
		Msg("partial payment applied")
	return sale, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *saleService) GetSale(ctx context.Context, saleID uuid.UUID, actor Actor) (*model.Sale, error) {
	sale, err := s.sales.FindByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if err := actor.checkTenant("sale", saleID, sale.TenantID); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *saleService) ListSales(ctx context.Context, filter repository.SaleFilter, actor Actor) ([]model.Sale, int64, error) {
	filter.TenantID = actor.TenantID
	return s.sales.List(ctx, filter)
}

// ── Unit-of-work steps ────────────────────────────────────────────────────────

// deductTx takes every line out of stock. Lines are processed in stock key
// order so that two multi-line sales lock shared rows in the same order.
func (s *saleService) deductTx(tx *gorm.DB, sale *model.Sale, actor Actor) error {
	order := make([]int, len(sale.Items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sale.Items[order[a]].StockKey(sale.TenantID).String() < sale.Items[order[b]].StockKey(sale.TenantID).String()
	})

	ref := saleRef(sale)
	for _, i := range order {
		item := &sale.Items[i]
		meta := MovementMeta{Reference: ref, Actor: actor.userRef()}
		if item.UnitCost.IsPositive() {
			cost := item.UnitCost
			meta.UnitCost = &cost
		}

		if item.ReservationID != nil {
			res, mv, err := s.reservations.ConfirmTx(tx, *item.ReservationID, actor, meta)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			// Already locked by ConfirmTx in this transaction.
			rec, err := s.stocks.LockByIDTx(tx, mv.StockRecordID)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			if rec.StockKey != item.StockKey(sale.TenantID).String() || !res.Quantity.Equal(item.Quantity) {
				return apperror.InvalidReservation("line %d: reservation %s does not match the line", i+1, res.ID)
			}
			continue
		}

		if _, err := s.ledger.AdjustTx(tx, item.StockKey(sale.TenantID), item.Quantity.Neg(), model.MovementSale, meta); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

// numberTx draws the sale number. Gaps from rolled back attempts are allowed.
func (s *saleService) numberTx(tx *gorm.DB, sale *model.Sale) error {
	number, err := s.sales.NextNumberTx(tx)
	if err != nil {
		return fmt.Errorf("allocate sale number: %w", err)
	}
	sale.Number = number
	return nil
}

func (s *saleService) insertTx(tx *gorm.DB, sale *model.Sale) error {
	if err := s.sales.CreateTx(tx, sale); err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

// recordPaymentsTx writes one SALE cash movement per payment into the open
// session of the sale's user. Without an open session the sale stays out of
// the cash ledger.
func (s *saleService) recordPaymentsTx(tx *gorm.DB, sale *model.Sale, actor Actor) error {
	if len(sale.Payments) == 0 {
		return nil
	}
	session, err := s.openSessionTx(tx, sale.TenantID, sale.UserID)
	if err != nil {
		return err
	}
	if session == nil {
		log.Debug().Str("sale_id", sale.ID.String()).Msg("no open cash session, sale not recorded in cash")
		return nil
	}
	for _, p := range sale.Payments {
		_, err := s.cash.RecordTx(tx, session, model.SaleEntry{
			SaleID: sale.ID, SaleNumber: sale.Number, Method: p.Method, Amount: p.Amount,
		}, actor)
		if err != nil {
			return err
		}
	}
	sale.SessionID = &session.ID
	return s.sales.SaveTx(tx, sale)
}

// openSessionTx locks the user's OPEN session, or returns nil when there is none.
func (s *saleService) openSessionTx(tx *gorm.DB, tenantID, userID uuid.UUID) (*model.CashRegisterSession, error) {
	session, err := s.cashRepo.LockActiveForUserTx(tx, tenantID, userID, model.SessionOpen)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	return session, err
}

func (s *saleService) markCompleted(sale *model.Sale) {
	now := s.now()
	sale.Status = model.SaleCompleted
	sale.CompletedAt = &now
	sale.UpdatedAt = now
}

// afterCommit runs the hooks that must never share the sale transaction.
func (s *saleService) afterCommit(ctx context.Context, sale *model.Sale) *SaleResult {
	res := &SaleResult{Sale: sale}
	log.Info().
		Str("sale_id", sale.ID.String()).
		Int64("number", sale.Number).
		Str("total", sale.Total.String()).
		Int("items", len(sale.Items)).
		Msg("sale completed")

	if sale.RequiresInvoice && s.invoices != nil {
		inv, err := s.invoices.GenerateInvoiceFromSale(ctx, sale)
		if err != nil {
			log.Error().Err(err).Str("sale_id", sale.ID.String()).Msg("invoice generation failed")
			res.InvoiceError = err.Error()
		} else {
			res.Invoice = inv
		}
	}
	if s.notifier != nil {
		s.notifier.SaleCompleted(ctx, sale)
	}
	return res
}

func (s *saleService) lockOwned(tx *gorm.DB, saleID uuid.UUID, actor Actor) (*model.Sale, error) {
	sale, err := s.sales.LockTx(tx, saleID)
	if err != nil {
		return nil, err
	}
	if err := actor.checkTenant("sale", saleID, sale.TenantID); err != nil {
		return nil, err
	}
	return sale, nil
}

// ── Building ──────────────────────────────────────────────────────────────────

// buildSale validates req and prices it into a PENDING sale with fresh ids.
func (s *saleService) buildSale(req CreateSaleRequest, actor Actor) (*model.Sale, error) {
	if len(req.Items) == 0 {
		return nil, apperror.Validation("sale needs at least one item")
	}
	saleType := req.Type
	if saleType == "" {
		saleType = model.SaleTypeCash
	}
	if saleType != model.SaleTypeCash && saleType != model.SaleTypeCredit {
		return nil, apperror.Validation("unknown sale type %q", req.Type)
	}

	now := s.now()
	sale := &model.Sale{
		ID:              uuid.New(),
		TenantID:        actor.TenantID,
		UserID:          actor.UserID,
		CustomerID:      req.CustomerID,
		CustomerEmail:   req.CustomerEmail,
		Type:            saleType,
		Status:          model.SalePending,
		RequiresInvoice: req.RequiresInvoice,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	reserved := make(map[uuid.UUID]bool)
	for i, line := range req.Items {
		if !line.Quantity.IsPositive() {
			return nil, apperror.Validation("line %d: quantity must be positive", i+1)
		}
		if line.UnitPrice.IsNegative() || line.UnitCost.IsNegative() || line.Discount.IsNegative() {
			return nil, apperror.Validation("line %d: price, cost and discount must not be negative", i+1)
		}
		if err := checkLineScale(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		gross := line.Quantity.Mul(line.UnitPrice)
		if line.Discount.GreaterThan(gross) {
			return nil, apperror.Validation("line %d: discount exceeds line amount", i+1)
		}
		if line.ReservationID != nil {
			if reserved[*line.ReservationID] {
				return nil, apperror.Validation("line %d: reservation used twice", i+1)
			}
			reserved[*line.ReservationID] = true
		}
		subtotal := gross.Sub(line.Discount).Round(2)
		sale.Items = append(sale.Items, model.SaleItem{
			ID:            uuid.New(),
			SaleID:        sale.ID,
			ProductID:     line.ProductID,
			VariantID:     line.VariantID,
			WarehouseID:   line.WarehouseID,
			BatchID:       line.BatchID,
			Description:   line.Description,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			UnitCost:      line.UnitCost,
			Discount:      line.Discount,
			Subtotal:      subtotal,
			ReservationID: line.ReservationID,
		})
		sale.Subtotal = sale.Subtotal.Add(gross.Round(2))
		sale.DiscountTotal = sale.DiscountTotal.Add(line.Discount)
		sale.Total = sale.Total.Add(subtotal)
	}

	paid := decimal.Zero
	for i, p := range req.Payments {
		if err := validatePayment(p); err != nil {
			return nil, fmt.Errorf("payment %d: %w", i+1, err)
		}
		sale.Payments = append(sale.Payments, model.SalePayment{
			ID:        uuid.New(),
			SaleID:    sale.ID,
			Method:    p.Method,
			Amount:    p.Amount,
			Reference: p.Reference,
			CreatedBy: actor.userRef(),
			CreatedAt: now,
		})
		paid = paid.Add(p.Amount)
	}

	switch saleType {
	case model.SaleTypeCash:
		if !paid.Equal(sale.Total) {
			return nil, apperror.Validation("payments %s must equal total %s", paid, sale.Total)
		}
	case model.SaleTypeCredit:
		if paid.GreaterThan(sale.Total) {
			return nil, apperror.Validation("payments %s exceed total %s", paid, sale.Total)
		}
	}
	sale.PaidAmount = paid
	sale.CreditOutstanding = sale.Total.Sub(paid)
	return sale, nil
}

func validatePayment(p PaymentInput) error {
	switch p.Method {
	case model.PaymentCash, model.PaymentCard, model.PaymentTransfer, model.PaymentOther:
	default:
		return apperror.Validation("unsupported payment method %q", p.Method)
	}
	if !p.Amount.IsPositive() {
		return apperror.Validation("payment amount must be positive")
	}
	return checkMoney("payment amount", p.Amount)
}

func checkLineScale(line SaleLine) error {
	if err := checkQuantity("quantity", line.Quantity); err != nil {
		return err
	}
	if err := checkMoney("unit price", line.UnitPrice); err != nil {
		return err
	}
	if err := checkMoney("discount", line.Discount); err != nil {
		return err
	}
	return checkCost("unit cost", line.UnitCost)
}

func saleRef(sale *model.Sale) model.Reference {
	id := sale.ID
	return model.Reference{Type: model.ReferenceSale, ID: &id, Number: strconv.FormatInt(sale.Number, 10)}
}
