// Package outbox delivers persisted order events to the message channel.
package outbox

import (
	"context"
	"fmt"
	"time"

	"fulfillment/internal/broker"
	"fulfillment/internal/models"
	"fulfillment/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Store is the outbox side of the order store.
type Store interface {
	LockBatch(ctx context.Context, limit int, lease time.Duration) ([]models.OutboxEvent, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string, next time.Time) error
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	Lease     time.Duration
	// RetryBase is the delay before the first redelivery of a failed row;
	// it doubles per attempt up to RetryMax.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// Relay publishes PENDING outbox rows. Rows are claimed with a lease, so a
// crashed relay's batch becomes due again once the lease expires.
type Relay struct {
	store  Store
	writer broker.Writer
	cfg    Config
	logger *zap.Logger
}

func NewRelay(store Store, writer broker.Writer, cfg Config) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Minute
	}
	return &Relay{
		store:  store,
		writer: writer,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// Message builds the channel message for an outbox row, keyed by order id.
func Message(ctx context.Context, e models.OutboxEvent) kafka.Message {
	headers := []kafka.Header{{Key: broker.HeaderEventType, Value: []byte(e.EventType)}}
	return kafka.Message{
		Key:     []byte(e.AggregateID),
		Value:   e.Payload,
		Headers: util.InjectKafkaHeaders(ctx, headers),
	}
}

// Dispatch writes one row to the channel, trying up to attempts times with
// exponential backoff, then marks it SENT. On failure the row stays PENDING
// with its next attempt scheduled, and the error is returned.
func (r *Relay) Dispatch(ctx context.Context, e models.OutboxEvent, attempts int) error {
	ctx, span := util.StartSpan(ctx, "Outbox.Dispatch")
	defer span.End()

	if attempts < 1 {
		attempts = 1
	}
	msg := Message(ctx, e)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	err := backoff.Retry(func() error {
		return r.writer.WriteMessages(ctx, msg)
	}, policy)

	if err != nil {
		util.OutboxPublishFailuresTotal.Inc()
		next := time.Now().Add(r.RetryDelay(e.Attempts + 1))
		if markErr := r.store.MarkFailed(ctx, e.ID, err.Error(), next); markErr != nil {
			r.logger.Error("Failed to record outbox failure", zap.Int64("outbox_id", e.ID), zap.Error(markErr))
		}
		r.logger.Warn("Outbox dispatch failed",
			zap.Int64("outbox_id", e.ID),
			zap.String("order_id", e.AggregateID),
			zap.Time("next_attempt_at", next),
			zap.Error(err))
		return fmt.Errorf("failed to publish %s for order %s: %w", e.EventType, e.AggregateID, err)
	}

	if err := r.store.MarkSent(ctx, e.ID); err != nil {
		// Delivered but not marked: the row will be sent again, which the
		// shipment listener tolerates.
		r.logger.Error("Failed to mark outbox event sent", zap.Int64("outbox_id", e.ID), zap.Error(err))
		return nil
	}

	util.OutboxPublishedTotal.Inc()
	r.logger.Info("Outbox event published",
		zap.Int64("outbox_id", e.ID),
		zap.String("order_id", e.AggregateID),
		zap.String("event_type", e.EventType))
	return nil
}

// RetryDelay is the wait before attempt n+1 of a row that has failed n times.
func (r *Relay) RetryDelay(attempts int) time.Duration {
	d := r.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.cfg.RetryMax {
			return r.cfg.RetryMax
		}
	}
	return d
}

// RunOnce dispatches one batch of due rows and returns how many were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, fmt.Errorf("failed to lock outbox batch: %w", err)
	}

	sent := 0
	for _, e := range events {
		if err := r.Dispatch(ctx, e, 1); err == nil {
			sent++
		}
	}
	return sent, nil
}

// Run polls the outbox until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Outbox relay started", zap.Duration("interval", r.cfg.Interval))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Outbox relay pass failed", zap.Error(err))
			}
		}
	}
}
