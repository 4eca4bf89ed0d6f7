package worker

import (
	"context"
	"errors"
	"time"

	"fulfillment/internal/broker"
	"fulfillment/internal/models"
	"fulfillment/internal/util"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// OrderCreatedHandler creates the shipment for an order event
type OrderCreatedHandler interface {
	HandleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
}

// ShipmentListener consumes order events and creates shipments. An event is
// committed only after its shipment exists, so a crash means redelivery and
// never loss.
type ShipmentListener struct {
	reader       broker.Reader
	eventHandler *broker.EventHandler
	newBackOff   func() backoff.BackOff
	logger       *zap.Logger
}

// NewShipmentListener creates a new shipment listener
func NewShipmentListener(reader broker.Reader, handler OrderCreatedHandler) *ShipmentListener {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCreated(handler.HandleOrderCreated)

	return &ShipmentListener{
		reader:       reader,
		eventHandler: eventHandler,
		newBackOff:   broker.DefaultBackOff,
		logger:       util.GetLogger(),
	}
}

// WithBackOff replaces the per-message retry policy
func (l *ShipmentListener) WithBackOff(newBackOff func() backoff.BackOff) *ShipmentListener {
	l.newBackOff = newBackOff
	return l
}

// Start runs the listener until ctx is done
func (l *ShipmentListener) Start(ctx context.Context) error {
	l.logger.Info("Starting shipment listener")
	err := broker.Consume(ctx, l.reader, l.eventHandler.HandleMessage, l.newBackOff)
	if errors.Is(err, context.Canceled) {
		l.logger.Info("Shipment listener stopped")
		return nil
	}
	return err
}

// StaleOrderReconciler settles orders left unsettled by placement
type StaleOrderReconciler interface {
	ReconcileStale(ctx context.Context) (int, error)
}

// Reconciler periodically settles held orders
type Reconciler struct {
	orders   StaleOrderReconciler
	interval time.Duration
	logger   *zap.Logger
}

func NewReconciler(orders StaleOrderReconciler, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reconciler{
		orders:   orders,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs reconciliation passes until ctx is done
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("Starting reconciler", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.orders.ReconcileStale(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Reconcile pass failed", zap.Error(err))
			}
		}
	}
}
