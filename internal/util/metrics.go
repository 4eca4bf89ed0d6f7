package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProductsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_products_created_total",
		Help: "Total number of products added to the ledger",
	})

	InventoryDeductLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_deduct_latency_seconds",
		Help:    "Latency of batch deductions in the ledger",
		Buckets: prometheus.DefBuckets,
	})

	InventoryDeductionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_deductions_failed_total",
		Help: "Total number of rejected batch deductions",
	}, []string{"reason"})

	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders persisted by the coordinator",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Total number of order placements rejected before persisting",
	}, []string{"reason"})

	OrdersDeductionFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_deduction_failed_total",
		Help: "Total number of orders marked DEDUCTION_FAILED",
	})

	OrdersUnsettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_unsettled_total",
		Help: "Total number of orders left for the reconciler after an unknown deduction outcome",
	})

	OrdersReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_replayed_total",
		Help: "Total number of placements answered from an existing idempotency key",
	})

	SagaStepLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "order_saga_step_latency_seconds",
		Help:    "Latency of each order placement step",
		Buckets: prometheus.DefBuckets,
	}, []string{"state"})

	OutboxPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Total number of outbox events delivered to the channel",
	})

	OutboxPublishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Total number of failed outbox dispatch attempts",
	})

	ShipmentsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipments_created_total",
		Help: "Total number of shipments created",
	}, []string{"path"})

	DuplicateDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipping_duplicate_deliveries_total",
		Help: "Total number of order events whose shipment already existed",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
