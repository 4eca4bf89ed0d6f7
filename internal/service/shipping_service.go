package service

import (
	"context"
	"errors"
	"strings"

	"fulfillment/internal/apperr"
	"fulfillment/internal/models"
	"fulfillment/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ShipmentStore is the shipping record store. CreateShipment fails with
// apperr.ErrConflict when the order already has a shipment.
type ShipmentStore interface {
	CreateShipment(ctx context.Context, shipment *models.Shipment) error
	GetShipment(ctx context.Context, orderID string) (*models.Shipment, error)
}

// OrderFetcher reads orders from the order service
type OrderFetcher interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// ProcessShippingRequest is the body of a direct shipment request
type ProcessShippingRequest struct {
	OrderID string `json:"order_id"`
}

// ShippingService creates one shipment per order, from events or on request
type ShippingService struct {
	store  ShipmentStore
	orders OrderFetcher
	logger *zap.Logger
}

func NewShippingService(store ShipmentStore, orders OrderFetcher) *ShippingService {
	return &ShippingService{
		store:  store,
		orders: orders,
		logger: util.GetLogger(),
	}
}

// ProcessShipping creates the shipment for an order fetched from the order
// service. A second call for the same order fails with apperr.ErrConflict.
func (s *ShippingService) ProcessShipping(ctx context.Context, orderID string) (*models.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "ShippingService.ProcessShipping")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, apperr.Validation("order_id", "is required")
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusDeductionFailed {
		return nil, apperr.Validation("order", "failed inventory deduction and cannot ship")
	}
	if order.DeductionPending {
		return nil, apperr.Validation("order", "inventory deduction is not confirmed yet")
	}

	shipment := &models.Shipment{
		OrderID: order.OrderID,
		Items:   order.Items.Clone(),
		Status:  models.ShipmentStatusProcessing,
	}
	if err := s.store.CreateShipment(ctx, shipment); err != nil {
		return nil, err
	}

	util.ShipmentsCreatedTotal.WithLabelValues("direct").Inc()
	s.logger.Info("Shipment created", zap.String("order_id", orderID), zap.String("path", "direct"))
	return shipment, nil
}

// HandleOrderCreated creates the shipment announced by an event. A shipment
// that already exists counts as success, so redelivery is harmless.
func (s *ShippingService) HandleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "ShippingService.HandleOrderCreated")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", event.OrderID))

	shipment := &models.Shipment{
		OrderID: event.OrderID,
		Items:   event.Items.Clone(),
		Status:  models.ShipmentStatusProcessing,
	}
	err := s.store.CreateShipment(ctx, shipment)
	if errors.Is(err, apperr.ErrConflict) {
		util.DuplicateDeliveriesTotal.Inc()
		s.logger.Info("Shipment already exists, skipping duplicate event",
			zap.String("order_id", event.OrderID),
			zap.String("event_id", event.EventID))
		return nil
	}
	if err != nil {
		return err
	}

	util.ShipmentsCreatedTotal.WithLabelValues("event").Inc()
	s.logger.Info("Shipment created",
		zap.String("order_id", event.OrderID),
		zap.String("event_id", event.EventID),
		zap.String("path", "event"))
	return nil
}

// GetShipment retrieves the shipment for an order
func (s *ShippingService) GetShipment(ctx context.Context, orderID string) (*models.Shipment, error) {
	return s.store.GetShipment(ctx, orderID)
}
