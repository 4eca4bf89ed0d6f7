package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"fulfillment/internal/apperr"
	"fulfillment/internal/models"
	"fulfillment/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Order placement states
const (
	StateChecking   = "CHECKING"
	StatePricing    = "PRICING"
	StatePersisting = "PERSISTING"
	StateDeducting  = "DEDUCTING"
	StatePublishing = "PUBLISHING"
	StateDone       = "DONE"
	StateAborted    = "ABORTED"
)

// OrderStore is the order store with its outbox
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, event *models.OutboxEvent) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	MarkDeductionFailed(ctx context.Context, orderID, reason string) (*models.Order, error)
	ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ReleaseOutbox(ctx context.Context, orderID string, leaseUntil time.Time) (*models.OutboxEvent, error)
}

// Ledger is the inventory service as seen by the coordinator
type Ledger interface {
	Check(ctx context.Context, items []models.LineItem) (*models.AvailabilityReport, error)
	Deduct(ctx context.Context, ref string, items []models.LineItem) (models.StockLevels, error)
	Deduction(ctx context.Context, ref string) (*models.Deduction, error)
}

// KeyGuard hands out exclusive claims on idempotency keys
type KeyGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Dispatcher delivers an outbox row to the message channel
type Dispatcher interface {
	Dispatch(ctx context.Context, e models.OutboxEvent, attempts int) error
}

type OrderConfig struct {
	PublishAttempts int
	Lease           time.Duration
	HoldTimeout     time.Duration
	ReconcileBatch  int
}

// Outcome tells the caller how a placement ended
type Outcome int

const (
	// OutcomeCreated: deducted and handed to the publisher
	OutcomeCreated Outcome = iota
	// OutcomeReplayed: an order already existed for the idempotency key
	OutcomeReplayed
	// OutcomeUnsettled: persisted, deduction outcome unknown; the reconciler finishes it
	OutcomeUnsettled
)

// PlaceOrderRequest represents a request to place an order
type PlaceOrderRequest struct {
	Items          []models.LineItem `json:"items"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type PlaceOrderResult struct {
	Order   *models.Order
	Outcome Outcome
}

// UnavailableError rejects an order whose items are not all in stock
type UnavailableError struct {
	Details []models.ItemAvailability
}

func (e *UnavailableError) Error() string {
	return "some items are out of stock"
}

func (e *UnavailableError) Unwrap() error {
	return apperr.ErrInsufficientStock
}

// DriftError reports an order marked DEDUCTION_FAILED because stock changed
// between the check and the deduction
type DriftError struct {
	Order *models.Order
	Cause error
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("order %s: %v: %v", e.Order.OrderID, apperr.ErrDeductionDrift, e.Cause)
}

func (e *DriftError) Unwrap() []error {
	return []error{apperr.ErrDeductionDrift, e.Cause}
}

// OrderService coordinates order placement
type OrderService struct {
	store      OrderStore
	ledger     Ledger
	guard      KeyGuard
	dispatcher Dispatcher
	cfg        OrderConfig
	logger     *zap.Logger
}

// NewOrderService creates a new order service. guard may be nil, in which
// case the unique idempotency key column is the only duplicate barrier.
func NewOrderService(store OrderStore, ledger Ledger, guard KeyGuard, dispatcher Dispatcher, cfg OrderConfig) *OrderService {
	if cfg.PublishAttempts <= 0 {
		cfg.PublishAttempts = 3
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Second
	}
	if cfg.HoldTimeout <= 0 {
		cfg.HoldTimeout = time.Minute
	}
	if cfg.ReconcileBatch <= 0 {
		cfg.ReconcileBatch = 50
	}
	return &OrderService{
		store:      store,
		ledger:     ledger,
		guard:      guard,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     util.GetLogger(),
	}
}

// PlaceOrder checks stock, prices, persists, deducts and publishes an order.
// Stock is never deducted for an order that was not persisted first.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if err := ValidateItems(req.Items); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if res, err := s.claimKey(ctx, key); res != nil || err != nil {
			return res, err
		}
	}

	var report *models.AvailabilityReport
	err := s.step(ctx, "", StateChecking, func(ctx context.Context) error {
		var err error
		report, err = s.ledger.Check(ctx, req.Items)
		if err != nil {
			return fmt.Errorf("availability check failed: %w", err)
		}
		if !report.OK {
			return &UnavailableError{Details: report.Details}
		}
		if len(report.Details) != len(req.Items) {
			return fmt.Errorf("availability check returned %d details for %d items: %w",
				len(report.Details), len(req.Items), apperr.ErrDependencyUnavailable)
		}
		return nil
	})
	if err != nil {
		s.abort(ctx, key, err)
		return nil, err
	}

	var total float64
	_ = s.step(ctx, "", StatePricing, func(context.Context) error {
		total = priceItems(req.Items, report.Details)
		return nil
	})

	order := &models.Order{
		OrderID:     uuid.New().String(),
		Items:       models.LineItems(req.Items).Clone(),
		TotalAmount: total,
		Status:      models.OrderStatusPending,
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	err = s.step(ctx, order.OrderID, StatePersisting, func(ctx context.Context) error {
		return s.persist(ctx, order)
	})
	if err != nil {
		if key != "" && errors.Is(err, apperr.ErrConflict) {
			if existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, key); lookupErr == nil && existing != nil {
				util.OrdersReplayedTotal.Inc()
				return &PlaceOrderResult{Order: existing, Outcome: OutcomeReplayed}, nil
			}
		}
		s.abort(ctx, key, err)
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order persisted",
		zap.String("order_id", order.OrderID),
		zap.Float64("total_amount", order.TotalAmount))

	settled, outcome, err := s.settle(ctx, order)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeCreated {
		s.logger.Info("Order saga transition", zap.String("order_id", order.OrderID), zap.String("state", StateDone))
	}
	return &PlaceOrderResult{Order: settled, Outcome: outcome}, nil
}

// claimKey replays an existing order for key or takes the key for this
// request. A nil result and nil error mean the caller now owns the key.
func (s *OrderService) claimKey(ctx context.Context, key string) (*PlaceOrderResult, error) {
	existing, err := s.store.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if existing != nil {
		util.OrdersReplayedTotal.Inc()
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", key),
			zap.String("order_id", existing.OrderID))
		return &PlaceOrderResult{Order: existing, Outcome: OutcomeReplayed}, nil
	}

	if s.guard == nil {
		return nil, nil
	}

	claimed, err := s.guard.Claim(ctx, key)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("dependency").Inc()
		return nil, fmt.Errorf("failed to claim idempotency key: %w: %v", apperr.ErrDependencyUnavailable, err)
	}
	if claimed {
		return nil, nil
	}

	// The other holder may have finished between the lookup and the claim.
	if existing, err = s.store.GetOrderByIdempotencyKey(ctx, key); err == nil && existing != nil {
		util.OrdersReplayedTotal.Inc()
		return &PlaceOrderResult{Order: existing, Outcome: OutcomeReplayed}, nil
	}
	util.OrdersRejectedTotal.WithLabelValues("in_progress").Inc()
	return nil, fmt.Errorf("order with idempotency key %s is in progress: %w", key, apperr.ErrConflict)
}

// abort ends a placement before anything was deducted and frees its key.
func (s *OrderService) abort(ctx context.Context, key string, cause error) {
	reason := "dependency"
	var unavailable *UnavailableError
	switch {
	case errors.As(cause, &unavailable):
		reason = "unavailable"
	case apperr.Terminal(cause):
		reason = apperr.Code(cause)
	}
	util.OrdersRejectedTotal.WithLabelValues(reason).Inc()

	s.logger.Info("Order saga transition",
		zap.String("state", StateAborted),
		zap.String("reason", reason),
		zap.Error(cause))

	if key != "" && s.guard != nil {
		if err := s.guard.Release(ctx, key); err != nil {
			s.logger.Warn("Failed to release idempotency key", zap.String("idempotency_key", key), zap.Error(err))
		}
	}
}

func (s *OrderService) persist(ctx context.Context, order *models.Order) error {
	payload, err := json.Marshal(models.NewOrderCreatedEvent(order))
	if err != nil {
		return fmt.Errorf("failed to encode order event: %w", err)
	}
	event := &models.OutboxEvent{
		AggregateID:   order.OrderID,
		EventType:     models.EventTypeOrderCreated,
		Payload:       payload,
		Status:        models.OutboxStatusHeld,
		NextAttemptAt: time.Now().UTC(),
	}
	if err := s.store.CreateOrder(ctx, order, event); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// settle runs the deducting and publishing steps for a persisted PENDING
// order. It is safe to repeat: the ledger deduction is keyed by order id and
// only a HELD outbox row is ever released.
func (s *OrderService) settle(ctx context.Context, order *models.Order) (*models.Order, Outcome, error) {
	err := s.step(ctx, order.OrderID, StateDeducting, func(ctx context.Context) error {
		return s.deduct(ctx, order)
	})

	if err != nil && apperr.Terminal(err) {
		return s.markDrift(ctx, order, err)
	}
	if err != nil {
		util.OrdersUnsettledTotal.Inc()
		s.logger.Warn("Deduction outcome unknown, leaving order for reconciliation",
			zap.String("order_id", order.OrderID),
			zap.Error(err))
		order.DeductionPending = true
		return order, OutcomeUnsettled, nil
	}
	order.DeductionPending = false

	_ = s.step(ctx, order.OrderID, StatePublishing, func(ctx context.Context) error {
		return s.publish(ctx, order.OrderID)
	})
	return order, OutcomeCreated, nil
}

// deduct applies the order's items under its id. When the ledger cannot be
// reached, or reports the reference as recorded concurrently, the outcome is
// re-queried; a definite miss is retried once.
func (s *OrderService) deduct(ctx context.Context, order *models.Order) error {
	_, err := s.ledger.Deduct(ctx, order.OrderID, order.Items)
	if err == nil || (apperr.Terminal(err) && !errors.Is(err, apperr.ErrConflict)) {
		return err
	}

	_, qerr := s.ledger.Deduction(ctx, order.OrderID)
	switch {
	case qerr == nil:
		s.logger.Info("Deduction found after unknown outcome", zap.String("order_id", order.OrderID))
		return nil
	case errors.Is(qerr, apperr.ErrNotFound):
		_, err = s.ledger.Deduct(ctx, order.OrderID, order.Items)
		return err
	default:
		return err
	}
}

func (s *OrderService) markDrift(ctx context.Context, order *models.Order, cause error) (*models.Order, Outcome, error) {
	failed, err := s.store.MarkDeductionFailed(ctx, order.OrderID, cause.Error())
	if err != nil {
		if !errors.Is(err, apperr.ErrConflict) {
			util.OrdersUnsettledTotal.Inc()
			s.logger.Error("Failed to mark order DEDUCTION_FAILED",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
			order.DeductionPending = true
			return order, OutcomeUnsettled, nil
		}
		// Settled concurrently; report what is stored.
		if failed, err = s.store.GetOrder(ctx, order.OrderID); err != nil {
			return nil, OutcomeCreated, err
		}
	}

	util.OrdersDeductionFailedTotal.Inc()
	s.logger.Warn("Order marked DEDUCTION_FAILED",
		zap.String("order_id", order.OrderID),
		zap.Error(cause))
	return nil, OutcomeCreated, &DriftError{Order: failed, Cause: cause}
}

// publish releases the held outbox row and dispatches it. Failures are left
// to the relay and never undo the order.
func (s *OrderService) publish(ctx context.Context, orderID string) error {
	event, err := s.store.ReleaseOutbox(ctx, orderID, time.Now().Add(s.cfg.Lease))
	if err != nil {
		s.logger.Error("Failed to release outbox event", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	if event == nil {
		return nil
	}
	if err := s.dispatcher.Dispatch(ctx, *event, s.cfg.PublishAttempts); err != nil {
		s.logger.Warn("Order event left for relay", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	return nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// ReconcileStale settles orders whose deduction outcome was unknown when they
// were placed. It returns how many orders left the held state.
func (s *OrderService) ReconcileStale(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ReconcileStale")
	defer span.End()

	stale, err := s.store.ListStaleHeld(ctx, time.Now().Add(-s.cfg.HoldTimeout), s.cfg.ReconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list held orders: %w", err)
	}

	settled := 0
	for i := range stale {
		order := stale[i]
		_, outcome, err := s.settle(ctx, &order)
		var drift *DriftError
		switch {
		case errors.As(err, &drift):
			settled++
		case err != nil:
			s.logger.Error("Reconcile failed", zap.String("order_id", order.OrderID), zap.Error(err))
		case outcome != OutcomeUnsettled:
			settled++
		}
	}

	if len(stale) > 0 {
		s.logger.Info("Reconciled held orders", zap.Int("found", len(stale)), zap.Int("settled", settled))
	}
	return settled, nil
}

func (s *OrderService) step(ctx context.Context, orderID, state string, fn func(context.Context) error) error {
	ctx, span := util.StartSpan(ctx, "PlaceOrder."+state)
	defer span.End()

	s.logger.Info("Order saga transition", zap.String("order_id", orderID), zap.String("state", state))

	start := time.Now()
	err := fn(ctx)
	util.SagaStepLatency.WithLabelValues(state).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// priceItems totals the check-time price snapshot, rounded to cents.
func priceItems(items []models.LineItem, details []models.ItemAvailability) float64 {
	var total float64
	for i, it := range items {
		total += details[i].Price * float64(it.Qty)
	}
	return math.Round(total*100) / 100
}
