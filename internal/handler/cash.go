package handler

import (
	"context"
	"net/http"

	"nexopos/internal/dto"
	"nexopos/internal/model"
	"nexopos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CashHandler struct{ svc service.CashService }

func NewCashHandler(svc service.CashService) *CashHandler { return &CashHandler{svc: svc} }

// Open godoc
// @Summary      Open a register session
// @Description  At most one OPEN or SUSPENDED session per user.
// @Tags         cash
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.OpenSessionRequest true "Opening balance"
// @Success      201 {object} dto.SessionResponse
// @Failure      409 {object} apierror.APIError
// @Router       /v1/cash/open [post]
func (h *CashHandler) Open(c *gin.Context) {
	var req dto.OpenSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	s, err := h.svc.OpenSession(c.Request.Context(), actorFrom(c), req.OpeningBalance, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSessionResponse(s))
}

// Active godoc
// @Summary      The caller's active session
// @Tags         cash
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.SessionResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/cash/active [get]
func (h *CashHandler) Active(c *gin.Context) {
	s, err := h.svc.ActiveSession(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionResponse(s))
}

// Movement godoc
// @Summary      Record a manual cash movement
// @Tags         cash
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string                  true "Session UUID"
// @Param        body body dto.CashMovementRequest true "Movement"
// @Success      201 {object} dto.CashMovementResponse
// @Failure      409 {object} apierror.APIError
// @Router       /v1/cash/{id}/movements [post]
func (h *CashHandler) Movement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.CashMovementRequest
	if !bindAndValidate(c, &req) {
		return
	}
	var entry model.CashEntry
	switch req.Type {
	case "DEPOSIT":
		entry = model.DepositEntry{Amount: req.Amount, Description: req.Description}
	case "WITHDRAWAL":
		entry = model.WithdrawalEntry{Amount: req.Amount, Description: req.Description}
	default:
		entry = model.ExpenseEntry{Amount: req.Amount, Description: req.Description}
	}
	m, err := h.svc.RecordMovement(c.Request.Context(), id, entry, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewCashMovementResponse(m))
}

// Balance godoc
// @Summary      Balance recomputed from the movement ledger
// @Tags         cash
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Session UUID"
// @Success      200 {object} dto.BalanceResponse
// @Router       /v1/cash/{id}/balance [get]
func (h *CashHandler) Balance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.svc.ComputeBalance(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.BalanceResponse{SessionID: id.String(), Balance: b})
}

// Summary godoc
// @Summary      Session report with per-method totals
// @Tags         cash
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Session UUID"
// @Success      200 {object} dto.SessionSummaryResponse
// @Router       /v1/cash/{id}/summary [get]
func (h *CashHandler) Summary(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	actor := actorFrom(c)
	sum, err := h.svc.Summary(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	moves, err := h.svc.Movements(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.SessionSummaryResponse{
		Session:   dto.NewSessionResponse(sum.Session),
		Balance:   sum.Balance,
		Totals:    make([]dto.MethodTotalResponse, 0, len(sum.Totals)),
		Movements: make([]dto.CashMovementResponse, 0, len(moves)),
	}
	for _, t := range sum.Totals {
		resp.Totals = append(resp.Totals, dto.MethodTotalResponse{
			PaymentMethod: string(t.PaymentMethod),
			Type:          string(t.Type),
			Count:         t.Count,
			Total:         t.Total,
		})
	}
	for i := range moves {
		resp.Movements = append(resp.Movements, dto.NewCashMovementResponse(&moves[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// Close godoc
// @Summary      Close a session against the counted cash
// @Description  A discrepancy is not an error: it is booked as an ADJUSTMENT and flagged with a severity.
// @Tags         cash
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string                  true "Session UUID"
// @Param        body body dto.CloseSessionRequest true "Counted cash"
// @Success      200 {object} dto.CloseSessionResponse
// @Failure      409 {object} apierror.APIError
// @Router       /v1/cash/{id}/close [post]
func (h *CashHandler) Close(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.CloseSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	res, err := h.svc.Close(c.Request.Context(), id, req.Counted, actorFrom(c), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.CloseSessionResponse{
		Session:        dto.NewSessionResponse(res.Session),
		Expected:       res.Expected,
		Counted:        res.Counted,
		Difference:     res.Difference,
		DifferencePct:  res.DifferencePct,
		Outcome:        string(res.Outcome),
		Severity:       string(res.Severity),
		JournalEntryID: res.JournalEntryID,
	}
	if res.Adjustment != nil {
		adj := dto.NewCashMovementResponse(res.Adjustment)
		resp.Adjustment = &adj
	}
	c.JSON(http.StatusOK, resp)
}

// Suspend godoc
// @Summary      Suspend an open session
// @Tags         cash
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Session UUID"
// @Success      200 {object} dto.SessionResponse
// @Router       /v1/cash/{id}/suspend [post]
func (h *CashHandler) Suspend(c *gin.Context) {
	h.transition(c, h.svc.Suspend)
}

// Resume godoc
// @Summary      Resume a suspended session
// @Tags         cash
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Session UUID"
// @Success      200 {object} dto.SessionResponse
// @Router       /v1/cash/{id}/resume [post]
func (h *CashHandler) Resume(c *gin.Context) {
	h.transition(c, h.svc.Resume)
}

// Reconcile godoc
// @Summary      Mark a closed session as reconciled
// @Tags         cash
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Session UUID"
// @Success      200 {object} dto.SessionResponse
// @Router       /v1/cash/{id}/reconcile [post]
func (h *CashHandler) Reconcile(c *gin.Context) {
	h.transition(c, h.svc.MarkReconciled)
}

type sessionTransition func(ctx context.Context, sessionID uuid.UUID, actor service.Actor) (*model.CashRegisterSession, error)

func (h *CashHandler) transition(c *gin.Context, fn sessionTransition) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s, err := fn(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionResponse(s))
}
