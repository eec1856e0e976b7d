package repository

import (
	"context"

	"nexopos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MethodTotal is one row of a per-payment-method session summary.
type MethodTotal struct {
	PaymentMethod model.PaymentMethod
	Type          model.CashMovementType
	Count         int64
	Total         decimal.Decimal
}

type CashRepository interface {
	CreateSessionTx(tx *gorm.DB, s *model.CashRegisterSession) error
	LockSessionTx(tx *gorm.DB, id uuid.UUID) (*model.CashRegisterSession, error)
	// LockActiveForUserTx locks the user's session in one of statuses, or
	// returns apperror.ErrNotFound.
	LockActiveForUserTx(tx *gorm.DB, tenantID, userID uuid.UUID, statuses ...model.SessionStatus) (*model.CashRegisterSession, error)
	SaveSessionTx(tx *gorm.DB, s *model.CashRegisterSession) error
	CreateMovementTx(tx *gorm.DB, m *model.CashMovement) error
	// MovementsTx returns the session ledger in Seq order.
	MovementsTx(tx *gorm.DB, sessionID uuid.UUID) ([]model.CashMovement, error)
	// MovementsByReferenceTx returns movements of type t that reference refID.
	MovementsByReferenceTx(tx *gorm.DB, refID uuid.UUID, t model.CashMovementType) ([]model.CashMovement, error)

	FindSession(ctx context.Context, id uuid.UUID) (*model.CashRegisterSession, error)
	FindActiveForUser(ctx context.Context, tenantID, userID uuid.UUID) (*model.CashRegisterSession, error)
	Movements(ctx context.Context, sessionID uuid.UUID) ([]model.CashMovement, error)
	SummaryByMethod(ctx context.Context, sessionID uuid.UUID) ([]MethodTotal, error)
}

type cashRepo struct{ db *gorm.DB }

func NewCashRepository(db *gorm.DB) CashRepository { return &cashRepo{db: db} }

func (r *cashRepo) CreateSessionTx(tx *gorm.DB, s *model.CashRegisterSession) error {
	return tx.Create(s).Error
}

func (r *cashRepo) LockSessionTx(tx *gorm.DB, id uuid.UUID) (*model.CashRegisterSession, error) {
	var s model.CashRegisterSession
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "cash session", id)
	}
	return &s, nil
}

func (r *cashRepo) LockActiveForUserTx(tx *gorm.DB, tenantID, userID uuid.UUID, statuses ...model.SessionStatus) (*model.CashRegisterSession, error) {
	if len(statuses) == 0 {
		statuses = []model.SessionStatus{model.SessionOpen}
	}
	var s model.CashRegisterSession
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND user_id = ? AND status IN ?", tenantID, userID, statuses).
		Order("opened_at DESC").
		First(&s).Error
	if err != nil {
		return nil, translate(err, "active cash session for user", userID)
	}
	return &s, nil
}

func (r *cashRepo) SaveSessionTx(tx *gorm.DB, s *model.CashRegisterSession) error {
	return tx.Save(s).Error
}

func (r *cashRepo) CreateMovementTx(tx *gorm.DB, m *model.CashMovement) error {
	return tx.Create(m).Error
}

func (r *cashRepo) MovementsTx(tx *gorm.DB, sessionID uuid.UUID) ([]model.CashMovement, error) {
	var ms []model.CashMovement
	err := tx.Where("session_id = ?", sessionID).Order("seq").Find(&ms).Error
	return ms, err
}

func (r *cashRepo) MovementsByReferenceTx(tx *gorm.DB, refID uuid.UUID, t model.CashMovementType) ([]model.CashMovement, error) {
	var ms []model.CashMovement
	err := tx.Where("reference_id = ? AND type = ?", refID, t).Order("created_at, seq").Find(&ms).Error
	return ms, err
}

func (r *cashRepo) FindSession(ctx context.Context, id uuid.UUID) (*model.CashRegisterSession, error) {
	var s model.CashRegisterSession
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, translate(err, "cash session", id)
	}
	return &s, nil
}

func (r *cashRepo) FindActiveForUser(ctx context.Context, tenantID, userID uuid.UUID) (*model.CashRegisterSession, error) {
	var s model.CashRegisterSession
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND status IN ?", tenantID, userID,
			[]model.SessionStatus{model.SessionOpen, model.SessionSuspended}).
		First(&s).Error
	if err != nil {
		return nil, translate(err, "active cash session for user", userID)
	}
	return &s, nil
}

func (r *cashRepo) Movements(ctx context.Context, sessionID uuid.UUID) ([]model.CashMovement, error) {
	return r.MovementsTx(r.db.WithContext(ctx), sessionID)
}

func (r *cashRepo) SummaryByMethod(ctx context.Context, sessionID uuid.UUID) ([]MethodTotal, error) {
	var rows []MethodTotal
	err := r.db.WithContext(ctx).Model(&model.CashMovement{}).
		Select("payment_method, type, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Where("session_id = ? AND type NOT IN ?", sessionID,
			[]model.CashMovementType{model.CashOpening, model.CashClosing}).
		Group("payment_method, type").
		Order("payment_method, type").
		Scan(&rows).Error
	return rows, err
}
