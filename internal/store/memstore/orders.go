package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fulfillment/internal/apperr"
	"fulfillment/internal/models"
)

// Orders stores orders and their outbox events under one lock, so the
// order-plus-event write is atomic as in the Postgres store.
type Orders struct {
	mu     sync.Mutex
	orders map[string]models.Order
	byKey  map[string]string
	outbox []models.OutboxEvent
	nextID int64
}

func NewOrders() *Orders {
	return &Orders{
		orders: make(map[string]models.Order),
		byKey:  make(map[string]string),
	}
}

func (o *Orders) CreateOrder(_ context.Context, order *models.Order, event *models.OutboxEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.orders[order.OrderID]; ok {
		return fmt.Errorf("order %s: %w", order.OrderID, apperr.ErrConflict)
	}
	if order.IdempotencyKey != nil {
		if _, ok := o.byKey[*order.IdempotencyKey]; ok {
			return fmt.Errorf("idempotency key %s: %w", *order.IdempotencyKey, apperr.ErrConflict)
		}
		o.byKey[*order.IdempotencyKey] = order.OrderID
	}

	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	o.orders[order.OrderID] = copyOrder(*order)

	o.nextID++
	event.ID = o.nextID
	event.CreatedAt = now
	o.outbox = append(o.outbox, *event)
	return nil
}

func (o *Orders) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
	}
	out := o.view(order)
	return &out, nil
}

func (o *Orders) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.byKey[key]
	if !ok {
		return nil, nil
	}
	out := o.view(o.orders[id])
	return &out, nil
}

func (o *Orders) MarkDeductionFailed(_ context.Context, orderID, reason string) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, ok := o.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
	}
	if !models.CanTransitionOrder(order.Status, models.OrderStatusDeductionFailed) {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, apperr.ErrConflict)
	}
	order.Status = models.OrderStatusDeductionFailed
	order.UpdatedAt = time.Now().UTC()
	o.orders[orderID] = order

	for i := range o.outbox {
		e := &o.outbox[i]
		if e.AggregateID == orderID && e.Status == models.OutboxStatusHeld {
			e.Status = models.OutboxStatusCancelled
			msg := reason
			e.LastError = &msg
		}
	}

	out := copyOrder(order)
	return &out, nil
}

func (o *Orders) ListStaleHeld(_ context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []models.Order
	for _, e := range o.outbox {
		if len(out) >= limit {
			break
		}
		if e.Status != models.OutboxStatusHeld || !e.CreatedAt.Before(cutoff) {
			continue
		}
		if order, ok := o.orders[e.AggregateID]; ok && order.Status == models.OrderStatusPending {
			out = append(out, o.view(order))
		}
	}
	return out, nil
}

func (o *Orders) ReleaseOutbox(_ context.Context, orderID string, leaseUntil time.Time) (*models.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.outbox {
		e := &o.outbox[i]
		if e.AggregateID == orderID && e.Status == models.OutboxStatusHeld {
			e.Status = models.OutboxStatusPending
			e.NextAttemptAt = leaseUntil
			out := *e
			return &out, nil
		}
	}
	return nil, nil
}

func (o *Orders) LockBatch(_ context.Context, limit int, lease time.Duration) ([]models.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	var events []models.OutboxEvent
	for i := range o.outbox {
		if len(events) >= limit {
			break
		}
		e := &o.outbox[i]
		if e.Status != models.OutboxStatusPending || e.NextAttemptAt.After(now) {
			continue
		}
		events = append(events, *e)
		e.NextAttemptAt = now.Add(lease)
	}
	return events, nil
}

func (o *Orders) MarkSent(_ context.Context, id int64) error {
	return o.update(id, func(e *models.OutboxEvent) {
		e.Status = models.OutboxStatusSent
		e.Attempts++
		e.LastError = nil
	})
}

func (o *Orders) MarkFailed(_ context.Context, id int64, errMsg string, next time.Time) error {
	return o.update(id, func(e *models.OutboxEvent) {
		if e.Status != models.OutboxStatusPending {
			return
		}
		e.Attempts++
		e.LastError = &errMsg
		e.NextAttemptAt = next
	})
}

// OutboxEvents returns a snapshot of all outbox rows ordered by id.
func (o *Orders) OutboxEvents() []models.OutboxEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := append([]models.OutboxEvent(nil), o.outbox...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (o *Orders) update(id int64, fn func(e *models.OutboxEvent)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.outbox {
		if o.outbox[i].ID == id {
			fn(&o.outbox[i])
			return nil
		}
	}
	return fmt.Errorf("outbox event %d: %w", id, apperr.ErrNotFound)
}

// view copies order and marks it pending while its event is held.
// Callers hold o.mu.
func (o *Orders) view(order models.Order) models.Order {
	out := copyOrder(order)
	for _, e := range o.outbox {
		if e.AggregateID == order.OrderID && e.Status == models.OutboxStatusHeld {
			out.DeductionPending = true
			break
		}
	}
	return out
}

func copyOrder(o models.Order) models.Order {
	o.Items = o.Items.Clone()
	if o.IdempotencyKey != nil {
		key := *o.IdempotencyKey
		o.IdempotencyKey = &key
	}
	return o
}
