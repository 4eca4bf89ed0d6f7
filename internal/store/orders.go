package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment/internal/apperr"
	"fulfillment/internal/models"
)

// CreateOrder persists the order together with its held outbox event in one
// transaction, so an order never exists without the intent to announce it.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, event *models.OutboxEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (order_id, items, total_amount, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err = tx.GetContext(ctx, order, query,
		order.OrderID, order.Items, order.TotalAmount, order.Status, order.IdempotencyKey)
	if isUniqueViolation(err) {
		return fmt.Errorf("order %s: %w", order.OrderID, apperr.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	outboxQuery := `
		INSERT INTO outbox (aggregate_id, event_type, payload, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err = tx.GetContext(ctx, event, outboxQuery,
		event.AggregateID, event.EventType, event.Payload, event.Status, event.NextAttemptAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return tx.Commit()
}

const selectOrder = `
	SELECT o.*, EXISTS (
		SELECT 1 FROM outbox x WHERE x.aggregate_id = o.order_id AND x.status = 'HELD'
	) AS deduction_pending
	FROM orders o`

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, selectOrder+" WHERE o.order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, selectOrder+" WHERE o.idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkDeductionFailed moves a PENDING order to DEDUCTION_FAILED and cancels
// its held event in the same transaction.
func (s *Store) MarkDeductionFailed(ctx context.Context, orderID, reason string) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE order_id = $2 AND status = $3 RETURNING *",
		models.OrderStatusDeductionFailed, orderID, models.OrderStatusPending)
	if err == sql.ErrNoRows {
		current, getErr := s.GetOrder(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("order %s is %s: %w", orderID, current.Status, apperr.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE outbox SET status = $1, last_error = $2 WHERE aggregate_id = $3 AND status = $4",
		models.OutboxStatusCancelled, reason, orderID, models.OutboxStatusHeld)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListStaleHeld returns PENDING orders whose event has been held since before cutoff
func (s *Store) ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT o.*, TRUE AS deduction_pending FROM orders o
		JOIN outbox x ON x.aggregate_id = o.order_id
		WHERE x.status = $1 AND x.created_at < $2 AND o.status = $3
		ORDER BY x.created_at
		LIMIT $4`,
		models.OutboxStatusHeld, cutoff, models.OrderStatusPending, limit)
	return orders, err
}
