package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fulfillment/internal/broker/brokertest"
	"fulfillment/internal/models"
	"fulfillment/internal/outbox"
	"fulfillment/internal/service"
	"fulfillment/internal/store/memstore"
	"fulfillment/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func orderMessage(t *testing.T, orderID string) kafka.Message {
	t.Helper()
	order := &models.Order{OrderID: orderID, Items: models.LineItems{{SKU: "A101", Qty: 2}}, TotalAmount: 20}
	payload, err := json.Marshal(models.NewOrderCreatedEvent(order))
	require.NoError(t, err)
	return kafka.Message{Key: []byte(orderID), Value: payload}
}

// runListener starts l and returns a stop function that waits for it to exit.
func runListener(t *testing.T, l *ShipmentListener) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not stop")
		}
	}
}

type flakyHandler struct {
	inner    OrderCreatedHandler
	failures int32
	calls    int32
}

func (h *flakyHandler) HandleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	n := atomic.AddInt32(&h.calls, 1)
	if n <= atomic.LoadInt32(&h.failures) {
		return errors.New("shipping store unavailable")
	}
	return h.inner.HandleOrderCreated(ctx, event)
}

func TestListenerCreatesShipmentAndCommits(t *testing.T) {
	queue := brokertest.NewQueue("order_queue")
	shipments := memstore.NewShipments()
	shipping := service.NewShippingService(shipments, nil)

	require.NoError(t, queue.WriteMessages(context.Background(), orderMessage(t, "o-1"), orderMessage(t, "o-2")))

	stop := runListener(t, NewShipmentListener(queue, shipping).WithBackOff(fastBackOff))
	require.Eventually(t, func() bool { return queue.Committed() == 2 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, 2, shipments.Count())
	s, err := shipping.GetShipment(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.LineItems{{SKU: "A101", Qty: 2}}, s.Items)
}

func TestListenerDuplicateDeliveryOneShipment(t *testing.T) {
	queue := brokertest.NewQueue("order_queue")
	shipments := memstore.NewShipments()
	shipping := service.NewShippingService(shipments, nil)

	msg := orderMessage(t, "o-1")
	require.NoError(t, queue.WriteMessages(context.Background(), msg, msg))

	stop := runListener(t, NewShipmentListener(queue, shipping).WithBackOff(fastBackOff))
	require.Eventually(t, func() bool { return queue.Committed() == 2 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, 1, shipments.Count())
}

func TestListenerRetriesWithoutCommitting(t *testing.T) {
	queue := brokertest.NewQueue("order_queue")
	shipments := memstore.NewShipments()
	handler := &flakyHandler{inner: service.NewShippingService(shipments, nil), failures: 3}

	require.NoError(t, queue.WriteMessages(context.Background(), orderMessage(t, "o-1")))

	stop := runListener(t, NewShipmentListener(queue, handler).WithBackOff(fastBackOff))
	require.Eventually(t, func() bool { return queue.Committed() == 1 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, int32(4), atomic.LoadInt32(&handler.calls))
	assert.Equal(t, 1, shipments.Count())
}

func TestListenerCrashRedelivers(t *testing.T) {
	queue := brokertest.NewQueue("order_queue")
	shipments := memstore.NewShipments()
	handler := &flakyHandler{inner: service.NewShippingService(shipments, nil), failures: 1 << 30}

	require.NoError(t, queue.WriteMessages(context.Background(), orderMessage(t, "o-1")))

	stop := runListener(t, NewShipmentListener(queue, handler).WithBackOff(fastBackOff))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&handler.calls) > 2 }, time.Second, time.Millisecond)
	stop()

	assert.Zero(t, queue.Committed())
	assert.Zero(t, shipments.Count())

	// Restart with a healthy store.
	queue.Rewind()
	stop = runListener(t, NewShipmentListener(queue, service.NewShippingService(shipments, nil)).WithBackOff(fastBackOff))
	require.Eventually(t, func() bool { return queue.Committed() == 1 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, 1, shipments.Count())
}

func TestListenerCommitsPoisonPill(t *testing.T) {
	queue := brokertest.NewQueue("order_queue")
	shipments := memstore.NewShipments()
	shipping := service.NewShippingService(shipments, nil)

	require.NoError(t, queue.WriteMessages(context.Background(),
		kafka.Message{Key: []byte("bad"), Value: []byte("not json")},
		kafka.Message{Key: []byte("o-0"), Value: []byte(`{"event_type":"ORDER_CREATED","items":[]}`)},
		orderMessage(t, "o-1"),
	))

	stop := runListener(t, NewShipmentListener(queue, shipping).WithBackOff(fastBackOff))
	require.Eventually(t, func() bool { return queue.Committed() == 3 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, 1, shipments.Count())
}

func TestOrderToShipmentEndToEnd(t *testing.T) {
	ctx := context.Background()

	inventory := service.NewInventoryService(memstore.NewLedger())
	qty := 5
	_, err := inventory.CreateProduct(ctx, &service.CreateProductRequest{SKU: "A101", Name: "Widget", Quantity: &qty, Price: 10.0})
	require.NoError(t, err)

	orders := memstore.NewOrders()
	queue := brokertest.NewQueue("order_queue")
	relay := outbox.NewRelay(orders, queue, outbox.Config{})
	orderSvc := service.NewOrderService(orders, ledgerAdapter{inventory}, memstore.NewClaims(time.Minute), relay, service.OrderConfig{})

	shipments := memstore.NewShipments()
	stop := runListener(t, NewShipmentListener(queue, service.NewShippingService(shipments, nil)).WithBackOff(fastBackOff))
	defer stop()

	res, err := orderSvc.PlaceOrder(ctx, &service.PlaceOrderRequest{Items: []models.LineItem{{SKU: "A101", Qty: 2}}})
	require.NoError(t, err)
	assert.Equal(t, 20.0, res.Order.TotalAmount)

	p, err := inventory.GetProduct(ctx, "A101")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Quantity)

	require.Eventually(t, func() bool { return shipments.Count() == 1 }, time.Second, time.Millisecond)
	s, err := shipments.GetShipment(ctx, res.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.Items, s.Items)
}

type ledgerAdapter struct {
	svc *service.InventoryService
}

func (l ledgerAdapter) Check(ctx context.Context, items []models.LineItem) (*models.AvailabilityReport, error) {
	return l.svc.CheckAvailability(ctx, items)
}

func (l ledgerAdapter) Deduct(ctx context.Context, ref string, items []models.LineItem) (models.StockLevels, error) {
	return l.svc.Deduct(ctx, ref, items)
}

func (l ledgerAdapter) Deduction(ctx context.Context, ref string) (*models.Deduction, error) {
	return l.svc.GetDeduction(ctx, ref)
}

type countingReconciler struct {
	mu    sync.Mutex
	calls int
}

func (c *countingReconciler) ReconcileStale(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0, nil
}

func (c *countingReconciler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestReconcilerRunsUntilCancelled(t *testing.T) {
	rec := &countingReconciler{}
	r := NewReconciler(rec, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	require.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
