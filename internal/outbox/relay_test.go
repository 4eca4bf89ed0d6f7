package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fulfillment/internal/broker/brokertest"
	"fulfillment/internal/models"
	"fulfillment/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func persistOrder(t *testing.T, orders *memstore.Orders, id string) models.OutboxEvent {
	t.Helper()
	order := &models.Order{
		OrderID:     id,
		Items:       models.LineItems{{SKU: "A101", Qty: 2}},
		TotalAmount: 20,
		Status:      models.OrderStatusPending,
	}
	payload, err := json.Marshal(models.NewOrderCreatedEvent(order))
	require.NoError(t, err)
	event := &models.OutboxEvent{
		AggregateID: id,
		EventType:   models.EventTypeOrderCreated,
		Payload:     payload,
		Status:      models.OutboxStatusHeld,
	}
	require.NoError(t, orders.CreateOrder(context.Background(), order, event))
	return *event
}

func TestDispatchMarksSent(t *testing.T) {
	ctx := context.Background()
	orders := memstore.NewOrders()
	queue := brokertest.NewQueue("order_queue")
	relay := NewRelay(orders, queue, Config{})

	persistOrder(t, orders, "o-1")
	e, err := orders.ReleaseOutbox(ctx, "o-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, e)

	require.NoError(t, relay.Dispatch(ctx, *e, 3))

	msgs := queue.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "o-1", string(msgs[0].Key))
	assert.Equal(t, e.Payload, msgs[0].Value)

	rows := orders.OutboxEvents()
	assert.Equal(t, models.OutboxStatusSent, rows[0].Status)
}

func TestDispatchRetriesWithinAttempts(t *testing.T) {
	ctx := context.Background()
	orders := memstore.NewOrders()
	queue := brokertest.NewQueue("order_queue")
	relay := NewRelay(orders, queue, Config{})

	persistOrder(t, orders, "o-1")
	e, _ := orders.ReleaseOutbox(ctx, "o-1", time.Now())
	queue.FailWrites(2, errors.New("leader not available"))

	require.NoError(t, relay.Dispatch(ctx, *e, 3))
	assert.Len(t, queue.Messages(), 1)
	assert.Equal(t, models.OutboxStatusSent, orders.OutboxEvents()[0].Status)
}

func TestDispatchFailureLeavesRowForRelay(t *testing.T) {
	ctx := context.Background()
	orders := memstore.NewOrders()
	queue := brokertest.NewQueue("order_queue")
	relay := NewRelay(orders, queue, Config{RetryBase: time.Millisecond})

	persistOrder(t, orders, "o-1")
	e, _ := orders.ReleaseOutbox(ctx, "o-1", time.Now())
	queue.FailWrites(2, errors.New("broker down"))

	err := relay.Dispatch(ctx, *e, 2)
	require.Error(t, err)
	assert.Empty(t, queue.Messages())

	row := orders.OutboxEvents()[0]
	assert.Equal(t, models.OutboxStatusPending, row.Status)
	assert.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.LastError)

	time.Sleep(5 * time.Millisecond)
	sent, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, queue.Messages(), 1)
	assert.Equal(t, models.OutboxStatusSent, orders.OutboxEvents()[0].Status)
}

func TestRunOnceSkipsHeldRows(t *testing.T) {
	ctx := context.Background()
	orders := memstore.NewOrders()
	queue := brokertest.NewQueue("order_queue")
	relay := NewRelay(orders, queue, Config{})

	persistOrder(t, orders, "o-held")

	sent, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, queue.Messages())
}

func TestRetryDelay(t *testing.T) {
	relay := NewRelay(nil, nil, Config{RetryBase: time.Second, RetryMax: 10 * time.Second})

	assert.Equal(t, time.Second, relay.RetryDelay(1))
	assert.Equal(t, 2*time.Second, relay.RetryDelay(2))
	assert.Equal(t, 8*time.Second, relay.RetryDelay(4))
	assert.Equal(t, 10*time.Second, relay.RetryDelay(5))
	assert.Equal(t, 10*time.Second, relay.RetryDelay(50))
}

func TestRunStopsOnCancel(t *testing.T) {
	orders := memstore.NewOrders()
	queue := brokertest.NewQueue("order_queue")
	relay := NewRelay(orders, queue, Config{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	persistOrder(t, orders, "o-1")
	_, err := orders.ReleaseOutbox(context.Background(), "o-1", time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(queue.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
