package handler

import (
	"net/http"

	"nexopos/internal/dto"
	"nexopos/internal/model"
	"nexopos/internal/repository"
	"nexopos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type InventoryHandler struct{ ledger service.StockLedger }

func NewInventoryHandler(ledger service.StockLedger) *InventoryHandler {
	return &InventoryHandler{ledger: ledger}
}

// GetStock godoc
// @Summary      Current stock of one key
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Param        product_id   query string true  "Product UUID"
// @Param        variant_id   query string false "Variant UUID"
// @Param        warehouse_id query string false "Warehouse UUID"
// @Param        batch_id     query string false "Batch UUID"
// @Success      200 {object} dto.StockResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/inventory/stock [get]
func (h *InventoryHandler) GetStock(c *gin.Context) {
	var req dto.StockKeyRequest
	if !bindQuery(c, &req) {
		return
	}
	actor := actorFrom(c)
	key, err := stockKey(actor.TenantID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	rec, err := h.ledger.GetStock(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewStockResponse(rec))
}

// ListMovements godoc
// @Summary      Stock movement log
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.ListResponse[dto.MovementResponse]
// @Router       /v1/inventory/movements [get]
func (h *InventoryHandler) ListMovements(c *gin.Context) {
	var q dto.MovementFilter
	if !bindQuery(c, &q) {
		return
	}
	actor := actorFrom(c)
	filter := repository.StockMovementFilter{
		TenantID: actor.TenantID,
		Type:     q.Type,
		Page:     q.Page,
		Limit:    q.Limit,
	}
	if q.ProductID != "" {
		id := uuid.MustParse(q.ProductID)
		filter.ProductID = &id
	}
	filter.From, filter.To = dateRange(q.From, q.To)

	rows, total, err := h.ledger.ListMovements(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.ListResponse[dto.MovementResponse]{
		Data:  make([]dto.MovementResponse, 0, len(rows)),
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
	}
	for i := range rows {
		resp.Data = append(resp.Data, dto.NewMovementResponse(&rows[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// Adjust godoc
// @Summary      Book a stock movement
// @Description  Applies a signed delta to one stock key and appends the movement to the ledger.
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.AdjustStockRequest true "Movement"
// @Success      201 {object} dto.AdjustStockResponse
// @Failure      422 {object} apierror.APIError
// @Router       /v1/inventory/adjust [post]
func (h *InventoryHandler) Adjust(c *gin.Context) {
	var req dto.AdjustStockRequest
	if !bindAndValidate(c, &req) {
		return
	}
	actor := actorFrom(c)
	key, err := stockKey(actor.TenantID, req.StockKeyRequest)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := h.ledger.Adjust(c.Request.Context(), key, req.Delta, model.MovementType(req.Type), service.MovementMeta{
		UnitCost: req.UnitCost,
		Notes:    req.Notes,
		Actor:    &actor.UserID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, adjustResponse(res))
}

// Count godoc
// @Summary      Record a physical count
// @Description  Sets the quantity to the counted value with an ADJUSTMENT for the difference.
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.CountStockRequest true "Count"
// @Success      200 {object} dto.CountStockResponse
// @Router       /v1/inventory/count [post]
func (h *InventoryHandler) Count(c *gin.Context) {
	var req dto.CountStockRequest
	if !bindAndValidate(c, &req) {
		return
	}
	actor := actorFrom(c)
	key, err := stockKey(actor.TenantID, req.StockKeyRequest)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := h.ledger.PerformCount(c.Request.Context(), key, req.Actual, &actor.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.CountStockResponse{
		Expected:   res.Expected,
		Actual:     res.Actual,
		Difference: res.Difference,
		Stock:      dto.NewStockResponse(res.Record),
	}
	if res.Movement != nil {
		m := dto.NewMovementResponse(res.Movement)
		resp.Movement = &m
	}
	c.JSON(http.StatusOK, resp)
}

// Transfer godoc
// @Summary      Move stock between warehouses
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.TransferStockRequest true "Transfer"
// @Success      201 {object} dto.TransferStockResponse
// @Router       /v1/inventory/transfer [post]
func (h *InventoryHandler) Transfer(c *gin.Context) {
	var req dto.TransferStockRequest
	if !bindAndValidate(c, &req) {
		return
	}
	actor := actorFrom(c)
	from, err := stockKey(actor.TenantID, dto.StockKeyRequest{
		ProductID: req.ProductID, VariantID: req.VariantID, BatchID: req.BatchID, WarehouseID: &req.FromWarehouseID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	to := from
	to.WarehouseID, _ = optionalID(&req.ToWarehouseID)

	res, err := h.ledger.Transfer(c.Request.Context(), from, to, req.Quantity, service.MovementMeta{
		Notes: req.Notes,
		Actor: &actor.UserID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.TransferStockResponse{
		TransferID: res.TransferID.String(),
		Out:        adjustResponse(&res.Out),
		In:         adjustResponse(&res.In),
	})
}

// Verify godoc
// @Summary      Check a stock row against its movement log
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.LedgerReportResponse
// @Router       /v1/inventory/verify [get]
func (h *InventoryHandler) Verify(c *gin.Context) {
	var req dto.StockKeyRequest
	if !bindQuery(c, &req) {
		return
	}
	actor := actorFrom(c)
	key, err := stockKey(actor.TenantID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	r, err := h.ledger.VerifyLedger(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.LedgerReportResponse{
		StockKey:         r.StockKey,
		Quantity:         r.Quantity,
		MovementSum:      r.MovementSum,
		Reserved:         r.Reserved,
		ActiveReserved:   r.ActiveReserved,
		Available:        r.Available,
		QuantityMatches:  r.QuantityMatches,
		ReservedMatches:  r.ReservedMatches,
		AvailableMatches: r.AvailableMatches,
		Consistent:       r.Consistent(),
	})
}

func adjustResponse(r *service.AdjustResult) dto.AdjustStockResponse {
	return dto.AdjustStockResponse{
		Stock:    dto.NewStockResponse(r.Record),
		Movement: dto.NewMovementResponse(r.Movement),
	}
}
