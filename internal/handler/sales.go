package handler

import (
	"fmt"
	"net/http"

	"nexopos/internal/dto"
	"nexopos/internal/model"
	"nexopos/internal/repository"
	"nexopos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type SalesHandler struct{ svc service.SaleService }

func NewSalesHandler(svc service.SaleService) *SalesHandler { return &SalesHandler{svc: svc} }

// Create godoc
// @Summary      Create a pending sale
// @Description  Persists the sale without touching stock or cash; complete it later.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.CreateSaleRequest true "Sale"
// @Success      201 {object} dto.SaleResponse
// @Failure      400 {object} apierror.APIError
// @Router       /v1/sales [post]
func (h *SalesHandler) Create(c *gin.Context) {
	var req dto.CreateSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	actor := actorFrom(c)
	in, err := toCreateSale(actor.TenantID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	sale, err := h.svc.CreateSale(c.Request.Context(), in, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSaleResponse(sale))
}

// Checkout godoc
// @Summary      Create and complete a sale in one step
// @Description  Deducts stock, records payments and cash movements atomically, then requests the invoice.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.CreateSaleRequest true "Sale"
// @Success      201 {object} dto.CompleteSaleResponse
// @Failure      422 {object} apierror.APIError
// @Failure      503 {object} apierror.APIError
// @Router       /v1/sales/checkout [post]
func (h *SalesHandler) Checkout(c *gin.Context) {
	var req dto.CreateSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	actor := actorFrom(c)
	in, err := toCreateSale(actor.TenantID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := h.svc.Checkout(c.Request.Context(), in, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, completeResponse(res))
}

// Complete godoc
// @Summary      Complete a pending sale
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Sale UUID"
// @Success      200 {object} dto.CompleteSaleResponse
// @Failure      409 {object} apierror.APIError
// @Failure      422 {object} apierror.APIError
// @Router       /v1/sales/{id}/complete [post]
func (h *SalesHandler) Complete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.CompleteSale(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, completeResponse(res))
}

// Cancel godoc
// @Summary      Cancel a sale
// @Description  A completed sale is compensated: stock returns and cash refunds are booked as reversal movements.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string                true "Sale UUID"
// @Param        body body dto.CancelSaleRequest true "Reason"
// @Success      200 {object} dto.SaleResponse
// @Failure      409 {object} apierror.APIError
// @Router       /v1/sales/{id}/cancel [post]
func (h *SalesHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.CancelSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	sale, err := h.svc.CancelSale(c.Request.Context(), id, req.Reason, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSaleResponse(sale))
}

// AddPayment godoc
// @Summary      Record a payment against a credit sale
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string             true "Sale UUID"
// @Param        body body dto.PaymentRequest true "Payment"
// @Success      200 {object} dto.SaleResponse
// @Router       /v1/sales/{id}/payments [post]
func (h *SalesHandler) AddPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.PaymentRequest
	if !bindAndValidate(c, &req) {
		return
	}
	sale, err := h.svc.ApplyPartialPayment(c.Request.Context(), id, toPayment(req), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSaleResponse(sale))
}

// Get godoc
// @Summary      Sale detail
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Sale UUID"
// @Success      200 {object} dto.SaleResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/sales/{id} [get]
func (h *SalesHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sale, err := h.svc.GetSale(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSaleResponse(sale))
}

// List godoc
// @Summary      List sales
// @Description  Paginated list filtered by status, user and creation date.
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        status query string false "DRAFT | PENDING | COMPLETED | CANCELLED"
// @Param        from   query string false "YYYY-MM-DD"
// @Param        to     query string false "YYYY-MM-DD"
// @Param        page   query int    false "Page (default 1)"
// @Param        limit  query int    false "Page size (default 50)"
// @Success      200 {object} dto.ListResponse[dto.SaleResponse]
// @Router       /v1/sales [get]
func (h *SalesHandler) List(c *gin.Context) {
	var q dto.SaleFilter
	if !bindQuery(c, &q) {
		return
	}
	actor := actorFrom(c)
	filter := repository.SaleFilter{
		TenantID: actor.TenantID,
		Status:   q.Status,
		Page:     q.Page,
		Limit:    q.Limit,
	}
	if q.UserID != "" {
		id := uuid.MustParse(q.UserID)
		filter.UserID = &id
	}
	filter.From, filter.To = dateRange(q.From, q.To)

	sales, total, err := h.svc.ListSales(c.Request.Context(), filter, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.ListResponse[dto.SaleResponse]{
		Data:  make([]dto.SaleResponse, 0, len(sales)),
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
	}
	for i := range sales {
		resp.Data = append(resp.Data, dto.NewSaleResponse(&sales[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func toCreateSale(tenantID uuid.UUID, req dto.CreateSaleRequest) (service.CreateSaleRequest, error) {
	out := service.CreateSaleRequest{
		Type:            model.SaleType(req.Type),
		CustomerEmail:   req.CustomerEmail,
		RequiresInvoice: req.RequiresInvoice,
		Notes:           req.Notes,
	}
	if out.Type == "" {
		out.Type = model.SaleTypeCash
	}
	var err error
	if out.CustomerID, err = optionalID(req.CustomerID); err != nil {
		return out, err
	}
	for i, it := range req.Items {
		key, err := stockKey(tenantID, it.StockKeyRequest)
		if err != nil {
			return out, fmt.Errorf("item %d: %w", i+1, err)
		}
		resID, err := optionalID(it.ReservationID)
		if err != nil {
			return out, err
		}
		out.Items = append(out.Items, service.SaleLine{
			ProductID:     key.ProductID,
			VariantID:     key.VariantID,
			WarehouseID:   key.WarehouseID,
			BatchID:       key.BatchID,
			Description:   it.Description,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			UnitCost:      it.UnitCost,
			Discount:      it.Discount,
			ReservationID: resID,
		})
	}
	for _, p := range req.Payments {
		out.Payments = append(out.Payments, toPayment(p))
	}
	return out, nil
}

func toPayment(p dto.PaymentRequest) service.PaymentInput {
	return service.PaymentInput{Method: model.PaymentMethod(p.Method), Amount: p.Amount, Reference: p.Reference}
}

func completeResponse(res *service.SaleResult) dto.CompleteSaleResponse {
	return dto.CompleteSaleResponse{
		Sale:         dto.NewSaleResponse(res.Sale),
		Invoice:      dto.NewInvoiceResponse(res.Invoice),
		InvoiceError: res.InvoiceError,
	}
}
