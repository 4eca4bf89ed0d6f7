package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"fulfillment/internal/apperr"
	"fulfillment/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to TEST_DATABASE_URL and loads all service schemas
// into it. Integration tests skip when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires TEST_DATABASE_URL")
	}

	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, f := range []string{"inventory_service.sql", "order_service.sql", "shipping_service.sql"} {
		schema, err := os.ReadFile("../../migrations/" + f)
		require.NoError(t, err)
		_, err = s.GetDB().Exec(string(schema))
		require.NoError(t, err)
	}
	return s
}

func uniqueSKU(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

func TestProductRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Product{SKU: uniqueSKU("A101"), Name: "Widget", Quantity: 5, Price: 10}
	require.NoError(t, s.CreateProduct(ctx, p))
	assert.False(t, p.CreatedAt.IsZero())

	got, err := s.GetProduct(ctx, p.SKU)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Quantity, got.Quantity)
	assert.Equal(t, p.Price, got.Price)

	err = s.CreateProduct(ctx, &models.Product{SKU: p.SKU, Name: "Dup"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestApplyDeductionAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &models.Product{SKU: uniqueSKU("A"), Name: "A", Quantity: 5, Price: 1}
	b := &models.Product{SKU: uniqueSKU("B"), Name: "B", Quantity: 1, Price: 1}
	require.NoError(t, s.CreateProduct(ctx, a))
	require.NoError(t, s.CreateProduct(ctx, b))

	_, err := s.ApplyDeduction(ctx, "", []models.LineItem{{SKU: a.SKU, Qty: 2}, {SKU: b.SKU, Qty: 2}})
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	got, err := s.GetProduct(ctx, a.SKU)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)
}

func TestApplyDeductionIdempotentByReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Product{SKU: uniqueSKU("R"), Name: "R", Quantity: 5, Price: 1}
	require.NoError(t, s.CreateProduct(ctx, p))

	ref := uuid.New().String()
	items := []models.LineItem{{SKU: p.SKU, Qty: 2}}

	first, err := s.ApplyDeduction(ctx, ref, items)
	require.NoError(t, err)
	second, err := s.ApplyDeduction(ctx, ref, items)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := s.GetProduct(ctx, p.SKU)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Quantity)

	d, err := s.GetDeduction(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.LineItems(items), d.Items)
}

func TestApplyDeductionConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Product{SKU: uniqueSKU("C"), Name: "C", Quantity: 5, Price: 1}
	require.NoError(t, s.CreateProduct(ctx, p))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyDeduction(ctx, "", []models.LineItem{{SKU: p.SKU, Qty: 1}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 5, succeeded)

	got, err := s.GetProduct(ctx, p.SKU)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Quantity)
}

func TestOrderWithOutboxLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := uuid.New().String()
	order := &models.Order{
		OrderID:        uuid.New().String(),
		Items:          models.LineItems{{SKU: "A101", Qty: 2}},
		TotalAmount:    20,
		Status:         models.OrderStatusPending,
		IdempotencyKey: &key,
	}
	event := &models.OutboxEvent{
		AggregateID:   order.OrderID,
		EventType:     models.EventTypeOrderCreated,
		Payload:       []byte(`{}`),
		Status:        models.OutboxStatusHeld,
		NextAttemptAt: time.Now(),
	}
	require.NoError(t, s.CreateOrder(ctx, order, event))
	assert.NotZero(t, event.ID)

	byKey, err := s.GetOrderByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, order.OrderID, byKey.OrderID)
	assert.Equal(t, order.Items, byKey.Items)
	assert.True(t, byKey.DeductionPending)

	released, err := s.ReleaseOutbox(ctx, order.OrderID, time.Now().Add(-time.Second))
	require.NoError(t, err)
	require.NotNil(t, released)
	assert.Equal(t, models.OutboxStatusPending, released.Status)

	current, err := s.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.False(t, current.DeductionPending)

	again, err := s.ReleaseOutbox(ctx, order.OrderID, time.Now())
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, s.MarkSent(ctx, released.ID))

	_, err = s.MarkDeductionFailed(ctx, uuid.New().String(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestShipmentUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orderID := uuid.New().String()
	first := &models.Shipment{OrderID: orderID, Items: models.LineItems{{SKU: "A", Qty: 1}}, Status: models.ShipmentStatusProcessing}
	require.NoError(t, s.CreateShipment(ctx, first))

	err := s.CreateShipment(ctx, &models.Shipment{OrderID: orderID, Items: first.Items, Status: models.ShipmentStatusProcessing})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := s.GetShipment(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, first.Items, got.Items)
}
