package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus of a cash register session.
// OPEN ⇄ SUSPENDED, OPEN → CLOSED → RECONCILED.
type SessionStatus string

const (
	SessionOpen       SessionStatus = "OPEN"
	SessionSuspended  SessionStatus = "SUSPENDED"
	SessionClosed     SessionStatus = "CLOSED"
	SessionReconciled SessionStatus = "RECONCILED"
)

// CloseOutcome is the result of comparing counted cash against the ledger.
type CloseOutcome string

const (
	OutcomeBalanced    CloseOutcome = "balanced"
	OutcomeDiscrepancy CloseOutcome = "discrepancy_detected"
)

// DiscrepancySeverity: "normal" (≤1%) | "warning" (≤5%) | "critical" (>5%)
type DiscrepancySeverity string

const (
	SeverityNormal   DiscrepancySeverity = "normal"
	SeverityWarning  DiscrepancySeverity = "warning"
	SeverityCritical DiscrepancySeverity = "critical"
)

// CashRegisterSession is the lifecycle of one drawer between opening and closing.
// CurrentBalance and the running totals are caches; the movement ledger is authoritative.
type CashRegisterSession struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	Number         int64           `gorm:"not null"`
	UserID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	TotalSales     decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	TotalRefunds   decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	TotalIn        decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	TotalOut       decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	Status         SessionStatus   `gorm:"type:varchar(20);not null;index"`
	// Set on close.
	ExpectedBalance *decimal.Decimal     `gorm:"type:decimal(14,2)"`
	CountedBalance  *decimal.Decimal     `gorm:"type:decimal(14,2)"`
	Difference      *decimal.Decimal     `gorm:"type:decimal(14,2)"`
	DifferencePct   *decimal.Decimal     `gorm:"type:decimal(7,2)"`
	Outcome         *CloseOutcome        `gorm:"type:varchar(30)"`
	Severity        *DiscrepancySeverity `gorm:"type:varchar(20)"`
	JournalEntryID  *string              `gorm:"type:varchar(64)"`
	Notes           *string
	LastSeq         int64 `gorm:"not null;default:0"`
	OpenedAt        time.Time
	SuspendedAt     *time.Time
	ClosedAt        *time.Time
	ClosedBy        *uuid.UUID `gorm:"type:uuid"`
	ReconciledAt    *time.Time
	ReconciledBy    *uuid.UUID `gorm:"type:uuid"`
	UpdatedAt       time.Time
}

func (CashRegisterSession) TableName() string { return "cash_register_sessions" }

// AcceptsMovements reports whether new movements can be recorded.
func (s *CashRegisterSession) AcceptsMovements() bool { return s.Status == SessionOpen }

// CashMovementType of an entry in the session ledger.
type CashMovementType string

const (
	CashSale       CashMovementType = "SALE"
	CashRefund     CashMovementType = "REFUND"
	CashExpense    CashMovementType = "EXPENSE"
	CashDeposit    CashMovementType = "DEPOSIT"
	CashWithdrawal CashMovementType = "WITHDRAWAL"
	CashAdjustment CashMovementType = "ADJUSTMENT"
	CashOpening    CashMovementType = "OPENING"
	CashClosing    CashMovementType = "CLOSING"
)

// CashCategory refines a movement. Only adjustments need it to pick a sign.
type CashCategory string

const (
	CategorySale    CashCategory = "SALE"
	CategoryRefund  CashCategory = "REFUND"
	CategoryExpense CashCategory = "EXPENSE"
	CategoryCashIn  CashCategory = "CASH_IN"
	CategoryCashOut CashCategory = "CASH_OUT"
	CategoryOpening CashCategory = "OPENING"
	CategoryClosing CashCategory = "CLOSING"
	CategoryPayment CashCategory = "CREDIT_PAYMENT"
)

// CashMovement is an immutable event in a session ledger. Amount is always a
// positive magnitude; Sign gives its effect on the drawer.
type CashMovement struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey"`
	TenantID           uuid.UUID        `gorm:"type:uuid;not null;index"`
	SessionID          uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_cash_session_seq"`
	Seq                int64            `gorm:"not null;uniqueIndex:idx_cash_session_seq"`
	Type               CashMovementType `gorm:"type:varchar(20);not null"`
	Category           CashCategory     `gorm:"type:varchar(20);not null"`
	PaymentMethod      PaymentMethod    `gorm:"type:varchar(20);not null"`
	Amount             decimal.Decimal  `gorm:"type:decimal(14,2);not null"`
	BalanceBefore      decimal.Decimal  `gorm:"type:decimal(14,2);not null"`
	BalanceAfter       decimal.Decimal  `gorm:"type:decimal(14,2);not null"`
	Description        string           `gorm:"not null;default:''"`
	Reference          Reference        `gorm:"embedded"`
	ReversesMovementID *uuid.UUID       `gorm:"type:uuid"`
	CreatedBy          *uuid.UUID       `gorm:"type:uuid"`
	CreatedAt          time.Time
}

func (CashMovement) TableName() string { return "cash_movements" }

// Sign returns +1, -1 or 0 for the effect of the movement on the physical
// cash balance. OPENING and CLOSING are markers and never count.
func (m *CashMovement) Sign() int {
	if !m.PaymentMethod.AffectsCash() {
		return 0
	}
	switch m.Type {
	case CashSale, CashDeposit:
		return 1
	case CashRefund, CashExpense, CashWithdrawal:
		return -1
	case CashAdjustment:
		switch m.Category {
		case CategoryCashIn:
			return 1
		case CategoryCashOut:
			return -1
		}
	}
	return 0
}

// SignedAmount is Amount with the Sign applied.
func (m *CashMovement) SignedAmount() decimal.Decimal {
	switch m.Sign() {
	case 1:
		return m.Amount
	case -1:
		return m.Amount.Neg()
	}
	return decimal.Zero
}

// ── Entry variants ────────────────────────────────────────────────────────────

// CashEntry is one of the movement variants accepted by the reconciler.
// Each variant carries only the fields that make sense for it.
type CashEntry interface {
	Movement() CashMovement
}

type SaleEntry struct {
	SaleID     uuid.UUID
	SaleNumber int64
	Method     PaymentMethod
	Amount     decimal.Decimal
	Credit     bool // partial payment against a credit sale
}

func (e SaleEntry) Movement() CashMovement {
	cat := CategorySale
	if e.Credit {
		cat = CategoryPayment
	}
	return CashMovement{
		Type: CashSale, Category: cat, PaymentMethod: e.Method, Amount: e.Amount,
		Reference: saleReference(e.SaleID, e.SaleNumber),
	}
}

type RefundEntry struct {
	SaleID           uuid.UUID
	SaleNumber       int64
	Method           PaymentMethod
	Amount           decimal.Decimal
	ReversesMovement *uuid.UUID
	Reason           string
}

func (e RefundEntry) Movement() CashMovement {
	return CashMovement{
		Type: CashRefund, Category: CategoryRefund, PaymentMethod: e.Method, Amount: e.Amount,
		Description: e.Reason, Reference: saleReference(e.SaleID, e.SaleNumber),
		ReversesMovementID: e.ReversesMovement,
	}
}

type ExpenseEntry struct {
	Amount      decimal.Decimal
	Description string
}

func (e ExpenseEntry) Movement() CashMovement {
	return CashMovement{
		Type: CashExpense, Category: CategoryExpense, PaymentMethod: PaymentCash,
		Amount: e.Amount, Description: e.Description,
	}
}

type DepositEntry struct {
	Amount      decimal.Decimal
	Description string
}

func (e DepositEntry) Movement() CashMovement {
	return CashMovement{
		Type: CashDeposit, Category: CategoryCashIn, PaymentMethod: PaymentCash,
		Amount: e.Amount, Description: e.Description,
	}
}

type WithdrawalEntry struct {
	Amount      decimal.Decimal
	Description string
}

func (e WithdrawalEntry) Movement() CashMovement {
	return CashMovement{
		Type: CashWithdrawal, Category: CategoryCashOut, PaymentMethod: PaymentCash,
		Amount: e.Amount, Description: e.Description,
	}
}

// AdjustmentEntry corrects the drawer after a count. A positive Difference is a surplus.
type AdjustmentEntry struct {
	Difference  decimal.Decimal
	Description string
}

func (e AdjustmentEntry) Movement() CashMovement {
	cat := CategoryCashIn
	if e.Difference.IsNegative() {
		cat = CategoryCashOut
	}
	return CashMovement{
		Type: CashAdjustment, Category: cat, PaymentMethod: PaymentCash,
		Amount: e.Difference.Abs(), Description: e.Description,
	}
}

type OpeningEntry struct {
	Amount decimal.Decimal
}

func (e OpeningEntry) Movement() CashMovement {
	return CashMovement{
		Type: CashOpening, Category: CategoryOpening, PaymentMethod: PaymentCash,
		Amount: e.Amount, Description: "opening balance",
	}
}

type ClosingEntry struct {
	Counted decimal.Decimal
}

func (e ClosingEntry) Movement() CashMovement {
	return CashMovement{
		Type: CashClosing, Category: CategoryClosing, PaymentMethod: PaymentCash,
		Amount: e.Counted, Description: "closing count",
	}
}

func saleReference(id uuid.UUID, number int64) Reference {
	return Reference{Type: ReferenceSale, ID: &id, Number: strconv.FormatInt(number, 10)}
}
