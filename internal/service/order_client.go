package service

import (
	"context"
	"net/url"

	"fulfillment/internal/httpclient"
	"fulfillment/internal/models"
)

// OrderClient calls the order service over HTTP
type OrderClient struct {
	http *httpclient.Client
}

func NewOrderClient(client *httpclient.Client) *OrderClient {
	return &OrderClient{http: client}
}

// GetOrder fetches an order; an unknown id is apperr.ErrNotFound
func (oc *OrderClient) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := oc.http.Get(ctx, "/orders/"+url.PathEscape(orderID), &order); err != nil {
		return nil, err
	}
	return &order, nil
}
