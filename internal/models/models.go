package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Product is a stock record in the inventory ledger, keyed by SKU.
type Product struct {
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	Quantity  int       `db:"quantity" json:"quantity"`
	Price     float64   `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ProductUpdate carries a partial update; nil fields are left unchanged.
type ProductUpdate struct {
	Name     *string  `json:"name,omitempty"`
	Quantity *int     `json:"quantity,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

// Apply copies the supplied fields onto p.
func (u ProductUpdate) Apply(p *Product) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Quantity != nil {
		p.Quantity = *u.Quantity
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
}

// LineItem is one {sku, qty} entry of an order.
type LineItem struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// LineItems is stored as a JSON column.
type LineItems []LineItem

func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *LineItems) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Clone returns a copy that does not share the backing array.
func (l LineItems) Clone() LineItems {
	out := make(LineItems, len(l))
	copy(out, l)
	return out
}

// ItemAvailability is the per-item result of an availability check.
type ItemAvailability struct {
	SKU       string  `json:"sku"`
	Requested int     `json:"requested"`
	Available int     `json:"available"`
	OK        bool    `json:"ok"`
	Price     float64 `json:"price"`
}

// AvailabilityReport is the result of an availability check.
type AvailabilityReport struct {
	OK      bool               `json:"ok"`
	Details []ItemAvailability `json:"details"`
}

// StockLevel is the quantity left for a SKU after a deduction.
type StockLevel struct {
	SKU         string `json:"sku"`
	NewQuantity int    `json:"new_quantity"`
}

type StockLevels []StockLevel

func (s StockLevels) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

func (s *StockLevels) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// Deduction records a batch deduction applied under a caller reference.
type Deduction struct {
	Reference string      `db:"reference" json:"reference"`
	Items     LineItems   `db:"items" json:"items"`
	Levels    StockLevels `db:"levels" json:"updated"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// Order is a placed customer order.
type Order struct {
	OrderID        string    `db:"order_id" json:"order_id"`
	Items          LineItems `db:"items" json:"items"`
	TotalAmount    float64   `db:"total_amount" json:"total_amount"`
	Status         string    `db:"status" json:"status"`
	IdempotencyKey *string   `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	// DeductionPending is set while the order's event is still held because
	// its stock deduction has not been confirmed.
	DeductionPending bool `db:"deduction_pending" json:"deduction_pending,omitempty"`
}

// Shipment is the shipping record created once per order.
type Shipment struct {
	OrderID   string    `db:"order_id" json:"order_id"`
	Items     LineItems `db:"items" json:"items"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// OutboxEvent is an event persisted next to the order that produced it.
type OutboxEvent struct {
	ID            int64     `db:"id" json:"id"`
	AggregateID   string    `db:"aggregate_id" json:"aggregate_id"`
	EventType     string    `db:"event_type" json:"event_type"`
	Payload       []byte    `db:"payload" json:"payload"`
	Status        string    `db:"status" json:"status"`
	Attempts      int       `db:"attempts" json:"attempts"`
	LastError     *string   `db:"last_error" json:"last_error,omitempty"`
	NextAttemptAt time.Time `db:"next_attempt_at" json:"next_attempt_at"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending         = "PENDING"
	OrderStatusShipped         = "SHIPPED"
	OrderStatusDeductionFailed = "DEDUCTION_FAILED"
)

// Shipment statuses
const (
	ShipmentStatusProcessing = "PROCESSING"
	ShipmentStatusShipped    = "SHIPPED"
)

// Outbox statuses
const (
	OutboxStatusHeld      = "HELD"
	OutboxStatusPending   = "PENDING"
	OutboxStatusSent      = "SENT"
	OutboxStatusCancelled = "CANCELLED"
)

// CanTransitionOrder reports whether an order may move from one status to
// another. Status only ever advances out of PENDING.
func CanTransitionOrder(from, to string) bool {
	if from != OrderStatusPending {
		return false
	}
	return to == OrderStatusShipped || to == OrderStatusDeductionFailed
}

func scanJSON(src interface{}, dst interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
	return json.Unmarshal(data, dst)
}
