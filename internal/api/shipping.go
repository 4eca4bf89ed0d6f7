package api

import (
	"errors"
	"net/http"

	"fulfillment/internal/apperr"
	"fulfillment/internal/service"

	"github.com/gin-gonic/gin"
)

// ShippingHandler serves shipment records
type ShippingHandler struct {
	shipping *service.ShippingService
}

func NewShippingHandler(shipping *service.ShippingService) *ShippingHandler {
	return &ShippingHandler{shipping: shipping}
}

// SetupRoutes sets up HTTP routes
func (h *ShippingHandler) SetupRoutes(router *gin.Engine) {
	setupCommon(router, "shipping-service")

	router.POST("/shipping/process", h.process)
	router.GET("/shipping/:order_id", h.getShipment)
}

func (h *ShippingHandler) process(c *gin.Context) {
	var req service.ProcessShippingRequest
	if !bindJSON(c, &req) {
		return
	}

	shipment, err := h.shipping.ProcessShipping(c.Request.Context(), req.OrderID)
	if errors.Is(err, apperr.ErrConflict) {
		// An existing shipment is reported as a bad request.
		respondErrorStatus(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, shipment)
}

func (h *ShippingHandler) getShipment(c *gin.Context) {
	shipment, err := h.shipping.GetShipment(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipment)
}
