package service

import (
	"context"
	"net/url"

	"fulfillment/internal/httpclient"
	"fulfillment/internal/models"
	"fulfillment/internal/util"

	"go.uber.org/zap"
)

// InventoryClient calls the inventory service over HTTP
type InventoryClient struct {
	http   *httpclient.Client
	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client
func NewInventoryClient(client *httpclient.Client) *InventoryClient {
	return &InventoryClient{
		http:   client,
		logger: util.GetLogger(),
	}
}

// Check asks the ledger whether every item is in stock and at what price
func (ic *InventoryClient) Check(ctx context.Context, items []models.LineItem) (*models.AvailabilityReport, error) {
	var report models.AvailabilityReport
	if err := ic.http.Post(ctx, "/inventory/check", CheckRequest{Items: items}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Deduct applies the batch under ref
func (ic *InventoryClient) Deduct(ctx context.Context, ref string, items []models.LineItem) (models.StockLevels, error) {
	var resp DeductResponse
	if err := ic.http.Post(ctx, "/inventory/deduct", DeductRequest{Reference: ref, Items: items}, &resp); err != nil {
		return nil, err
	}
	return resp.Updated, nil
}

// Deduction looks up a previously applied deduction
func (ic *InventoryClient) Deduction(ctx context.Context, ref string) (*models.Deduction, error) {
	var d models.Deduction
	if err := ic.http.Get(ctx, "/inventory/deductions/"+url.PathEscape(ref), &d); err != nil {
		return nil, err
	}
	return &d, nil
}
