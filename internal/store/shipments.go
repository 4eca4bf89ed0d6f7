package store

import (
	"context"
	"database/sql"
	"fmt"

	"fulfillment/internal/apperr"
	"fulfillment/internal/models"
)

// CreateShipment inserts a shipment. The unique key on order_id is the only
// duplicate guard; a second insert for the same order yields ErrConflict.
func (s *Store) CreateShipment(ctx context.Context, shipment *models.Shipment) error {
	query := `
		INSERT INTO shipments (order_id, items, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING created_at`

	err := s.db.GetContext(ctx, &shipment.CreatedAt, query,
		shipment.OrderID, shipment.Items, shipment.Status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("shipment for order %s already exists: %w", shipment.OrderID, apperr.ErrConflict)
	}
	return err
}

// GetShipment retrieves the shipment of an order
func (s *Store) GetShipment(ctx context.Context, orderID string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.GetContext(ctx, &shipment, "SELECT * FROM shipments WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("shipment for order %s: %w", orderID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}
