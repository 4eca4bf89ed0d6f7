package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderCreated = "ORDER_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent is carried on the order queue to the shipment listener
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string    `json:"order_id"`
	Items       LineItems `json:"items"`
	TotalAmount float64   `json:"total_amount"`
}

// NewOrderCreatedEvent builds the event for a persisted order
func NewOrderCreatedEvent(order *Order) *OrderCreatedEvent {
	return &OrderCreatedEvent{
		BaseEvent: BaseEvent{
			EventID:   uuid.New().String(),
			EventType: EventTypeOrderCreated,
			Timestamp: time.Now().UTC(),
		},
		OrderID:     order.OrderID,
		Items:       order.Items.Clone(),
		TotalAmount: order.TotalAmount,
	}
}
