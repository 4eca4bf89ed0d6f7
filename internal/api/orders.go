package api

import (
	"errors"
	"net/http"

	"fulfillment/internal/apperr"
	"fulfillment/internal/service"

	"github.com/gin-gonic/gin"
)

// OrderHandler serves order placement
type OrderHandler struct {
	orderService *service.OrderService
}

func NewOrderHandler(orderService *service.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// SetupRoutes sets up HTTP routes
func (h *OrderHandler) SetupRoutes(router *gin.Engine) {
	setupCommon(router, "order-service")

	router.POST("/orders", h.placeOrder)
	router.GET("/orders/:id", h.getOrder)
}

// placeOrder answers 201 for a new order, 200 for a replayed idempotency
// key and 202 when the deduction outcome is still being settled.
func (h *OrderHandler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	res, err := h.orderService.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		var unavailable *service.UnavailableError
		var drift *service.DriftError
		switch {
		case errors.As(err, &unavailable):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Some items are out of stock",
				"code":    apperr.CodeInsufficientStock,
				"details": unavailable.Details,
			})
		case errors.As(err, &drift):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Stock changed before the order could be fulfilled",
				"code":  apperr.CodeDeductionDrift,
				"order": drift.Order,
			})
		default:
			respondError(c, err)
		}
		return
	}

	status := http.StatusCreated
	switch res.Outcome {
	case service.OutcomeReplayed:
		status = http.StatusOK
	case service.OutcomeUnsettled:
		status = http.StatusAccepted
	}
	c.JSON(status, res.Order)
}

func (h *OrderHandler) getOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
