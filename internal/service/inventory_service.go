package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fulfillment/internal/apperr"
	"fulfillment/internal/models"
	"fulfillment/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// LedgerStore is the record store behind the inventory ledger.
type LedgerStore interface {
	GetProduct(ctx context.Context, sku string) (*models.Product, error)
	GetProducts(ctx context.Context, skus []string) ([]models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, sku string, update models.ProductUpdate) (*models.Product, error)
	ApplyDeduction(ctx context.Context, ref string, items []models.LineItem) (models.StockLevels, error)
	GetDeduction(ctx context.Context, ref string) (*models.Deduction, error)
}

// InventoryService handles the product ledger
type InventoryService struct {
	store  LedgerStore
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(store LedgerStore) *InventoryService {
	return &InventoryService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// CreateProductRequest represents a request to add a product
type CreateProductRequest struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Quantity *int    `json:"quantity"`
	Price    float64 `json:"price"`
}

// CheckRequest is the body of an availability check
type CheckRequest struct {
	Items []models.LineItem `json:"items"`
}

// DeductRequest is the body of a batch deduction. Reference makes the
// deduction idempotent; the order coordinator passes the order id.
type DeductRequest struct {
	Reference string            `json:"reference,omitempty"`
	Items     []models.LineItem `json:"items"`
}

// DeductResponse reports the quantities left after a deduction
type DeductResponse struct {
	OK      bool                `json:"ok"`
	Updated []models.StockLevel `json:"updated"`
}

// CreateProduct adds a product to the ledger
func (s *InventoryService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.CreateProduct")
	defer span.End()

	req.SKU = strings.TrimSpace(req.SKU)
	switch {
	case req.SKU == "":
		return nil, apperr.Validation("sku", "is required")
	case strings.TrimSpace(req.Name) == "":
		return nil, apperr.Validation("name", "is required")
	case req.Quantity == nil:
		return nil, apperr.Validation("quantity", "is required")
	case *req.Quantity < 0:
		return nil, apperr.Validation("quantity", "must not be negative")
	case req.Price < 0:
		return nil, apperr.Validation("price", "must not be negative")
	}

	product := &models.Product{
		SKU:      req.SKU,
		Name:     req.Name,
		Quantity: *req.Quantity,
		Price:    req.Price,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, err
	}

	util.ProductsCreatedTotal.Inc()
	s.logger.Info("Product created",
		zap.String("sku", product.SKU),
		zap.Int("quantity", product.Quantity),
		zap.Float64("price", product.Price))
	return product, nil
}

// UpdateProduct applies a partial update
func (s *InventoryService) UpdateProduct(ctx context.Context, sku string, update models.ProductUpdate) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.UpdateProduct")
	defer span.End()

	if update.Quantity != nil && *update.Quantity < 0 {
		return nil, apperr.Validation("quantity", "must not be negative")
	}
	if update.Price != nil && *update.Price < 0 {
		return nil, apperr.Validation("price", "must not be negative")
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, apperr.Validation("name", "must not be empty")
	}

	product, err := s.store.UpdateProduct(ctx, sku, update)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product updated", zap.String("sku", sku), zap.Int("quantity", product.Quantity))
	return product, nil
}

// GetProduct retrieves a product by SKU
func (s *InventoryService) GetProduct(ctx context.Context, sku string) (*models.Product, error) {
	return s.store.GetProduct(ctx, sku)
}

// CheckAvailability reports, per item, whether the requested quantity is in
// stock right now. Unknown SKUs report zero available. A repeated SKU is
// checked against what the earlier lines leave, as a deduction would apply
// it. Nothing is reserved.
func (s *InventoryService) CheckAvailability(ctx context.Context, items []models.LineItem) (*models.AvailabilityReport, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.CheckAvailability")
	defer span.End()

	if err := ValidateItems(items); err != nil {
		return nil, err
	}

	products, err := s.store.GetProducts(ctx, models.DistinctSKUs(items))
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	bySKU := make(map[string]models.Product, len(products))
	for _, p := range products {
		bySKU[p.SKU] = p
	}

	report := &models.AvailabilityReport{
		OK:      true,
		Details: make([]models.ItemAvailability, 0, len(items)),
	}
	remaining := make(map[string]int, len(bySKU))
	for sku, p := range bySKU {
		remaining[sku] = p.Quantity
	}
	for _, it := range items {
		p := bySKU[it.SKU]
		left := remaining[it.SKU]
		d := models.ItemAvailability{
			SKU:       it.SKU,
			Requested: it.Qty,
			Available: left,
			OK:        left >= it.Qty,
			Price:     p.Price,
		}
		if d.OK {
			remaining[it.SKU] = left - it.Qty
		}
		report.OK = report.OK && d.OK
		report.Details = append(report.Details, d)
	}

	span.SetAttributes(attribute.Bool("inventory.available", report.OK))
	return report, nil
}

// Deduct removes the batch from stock atomically. A non-empty ref that was
// already applied returns the recorded levels without touching stock.
func (s *InventoryService) Deduct(ctx context.Context, ref string, items []models.LineItem) (models.StockLevels, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Deduct")
	defer span.End()
	span.SetAttributes(attribute.String("inventory.reference", ref))

	if err := ValidateItems(items); err != nil {
		return nil, err
	}

	start := time.Now()
	levels, err := s.store.ApplyDeduction(ctx, ref, items)
	util.InventoryDeductLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.InventoryDeductionsFailed.WithLabelValues(apperr.Code(err)).Inc()
		s.logger.Warn("Deduction rejected", zap.String("reference", ref), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Deduction applied", zap.String("reference", ref), zap.Int("items", len(items)))
	return levels, nil
}

// GetDeduction returns the deduction recorded under ref
func (s *InventoryService) GetDeduction(ctx context.Context, ref string) (*models.Deduction, error) {
	return s.store.GetDeduction(ctx, ref)
}

// ValidateItems rejects empty batches, missing SKUs and non-positive quantities
func ValidateItems(items []models.LineItem) error {
	if len(items) == 0 {
		return apperr.Validation("items", "must not be empty")
	}
	for i, it := range items {
		if strings.TrimSpace(it.SKU) == "" {
			return apperr.Validation(fmt.Sprintf("items[%d].sku", i), "is required")
		}
		if it.Qty <= 0 {
			return apperr.Validation(fmt.Sprintf("items[%d].qty", i), "must be positive")
		}
	}
	return nil
}
