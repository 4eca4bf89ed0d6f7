package api

import (
	"net/http"

	"fulfillment/internal/models"
	"fulfillment/internal/service"

	"github.com/gin-gonic/gin"
)

// InventoryHandler serves the inventory ledger
type InventoryHandler struct {
	inventory *service.InventoryService
}

func NewInventoryHandler(inventory *service.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

// SetupRoutes sets up HTTP routes
func (h *InventoryHandler) SetupRoutes(router *gin.Engine) {
	setupCommon(router, "inventory-service")

	router.POST("/products", h.createProduct)
	router.PUT("/products/:sku", h.updateProduct)
	router.GET("/products/:sku", h.getProduct)

	router.POST("/inventory/check", h.check)
	router.POST("/inventory/deduct", h.deduct)
	router.GET("/inventory/deductions/:ref", h.getDeduction)
}

func (h *InventoryHandler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.inventory.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *InventoryHandler) updateProduct(c *gin.Context) {
	var update models.ProductUpdate
	if !bindJSON(c, &update) {
		return
	}

	product, err := h.inventory.UpdateProduct(c.Request.Context(), c.Param("sku"), update)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *InventoryHandler) getProduct(c *gin.Context) {
	product, err := h.inventory.GetProduct(c.Request.Context(), c.Param("sku"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *InventoryHandler) check(c *gin.Context) {
	var req service.CheckRequest
	if !bindJSON(c, &req) {
		return
	}

	report, err := h.inventory.CheckAvailability(c.Request.Context(), req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *InventoryHandler) deduct(c *gin.Context) {
	var req service.DeductRequest
	if !bindJSON(c, &req) {
		return
	}

	levels, err := h.inventory.Deduct(c.Request.Context(), req.Reference, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	if levels == nil {
		levels = models.StockLevels{}
	}
	c.JSON(http.StatusOK, service.DeductResponse{OK: true, Updated: levels})
}

func (h *InventoryHandler) getDeduction(c *gin.Context) {
	d, err := h.inventory.GetDeduction(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
