package handler

import (
	"net/http"
	"time"

	"nexopos/internal/dto"
	"nexopos/internal/model"
	"nexopos/internal/service"

	"github.com/gin-gonic/gin"
)

type ReservationsHandler struct{ mgr service.ReservationManager }

func NewReservationsHandler(mgr service.ReservationManager) *ReservationsHandler {
	return &ReservationsHandler{mgr: mgr}
}

// Reserve godoc
// @Summary      Hold available stock
// @Description  Moves quantity from available to reserved until confirmed, released or expired.
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.ReserveRequest true "Hold"
// @Success      201 {object} dto.ReservationResponse
// @Failure      422 {object} apierror.APIError
// @Router       /v1/reservations [post]
func (h *ReservationsHandler) Reserve(c *gin.Context) {
	var req dto.ReserveRequest
	if !bindAndValidate(c, &req) {
		return
	}
	actor := actorFrom(c)
	key, err := stockKey(actor.TenantID, req.StockKeyRequest)
	if err != nil {
		respondError(c, err)
		return
	}
	refID, err := optionalID(req.ReferenceID)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := h.mgr.Reserve(c.Request.Context(), service.ReserveRequest{
		Key:       key,
		Quantity:  req.Quantity,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		Reference: model.Reference{Type: req.ReferenceType, ID: refID, Number: req.ReferenceNumber},
	}, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewReservationResponse(res))
}

// Get godoc
// @Summary      Reservation detail
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Reservation UUID"
// @Success      200 {object} dto.ReservationResponse
// @Router       /v1/reservations/{id} [get]
func (h *ReservationsHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.mgr.Get(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewReservationResponse(res))
}

// Confirm godoc
// @Summary      Convert a hold into a sale outflow
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Reservation UUID"
// @Success      200 {object} dto.ReservationResponse
// @Failure      409 {object} apierror.APIError
// @Router       /v1/reservations/{id}/confirm [post]
func (h *ReservationsHandler) Confirm(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.mgr.Confirm(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewReservationResponse(res))
}

// Release godoc
// @Summary      Return a hold to available stock
// @Tags         reservations
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Reservation UUID"
// @Success      200 {object} dto.ReservationResponse
// @Failure      409 {object} apierror.APIError
// @Router       /v1/reservations/{id}/release [post]
func (h *ReservationsHandler) Release(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.mgr.Release(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewReservationResponse(res))
}
