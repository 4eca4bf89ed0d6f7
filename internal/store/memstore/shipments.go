package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fulfillment/internal/apperr"
	"fulfillment/internal/models"
)

// Shipments enforces one shipment per order id with a unique-key insert.
type Shipments struct {
	mu sync.RWMutex
	m  map[string]models.Shipment
}

func NewShipments() *Shipments {
	return &Shipments{m: make(map[string]models.Shipment)}
}

func (s *Shipments) CreateShipment(_ context.Context, shipment *models.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[shipment.OrderID]; ok {
		return fmt.Errorf("shipment for order %s already exists: %w", shipment.OrderID, apperr.ErrConflict)
	}
	shipment.CreatedAt = time.Now().UTC()
	stored := *shipment
	stored.Items = shipment.Items.Clone()
	s.m[shipment.OrderID] = stored
	return nil
}

func (s *Shipments) GetShipment(_ context.Context, orderID string) (*models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shipment, ok := s.m[orderID]
	if !ok {
		return nil, fmt.Errorf("shipment for order %s: %w", orderID, apperr.ErrNotFound)
	}
	shipment.Items = shipment.Items.Clone()
	return &shipment, nil
}

// Count returns the number of stored shipments.
func (s *Shipments) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
