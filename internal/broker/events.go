package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fulfillment/internal/models"
	"fulfillment/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// HeaderEventType carries the event type next to the payload
const HeaderEventType = "event_type"

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// EventHandler routes incoming events by type
type EventHandler struct {
	onOrderCreated func(context.Context, *models.OrderCreatedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderCreated registers a handler for OrderCreated events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable
// payloads are returned as permanent errors; retrying them cannot help.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to unmarshal base event: %w", err))
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		if eh.onOrderCreated == nil {
			return nil
		}
		var event models.OrderCreatedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to unmarshal OrderCreated event: %w", err))
		}
		if event.OrderID == "" {
			return backoff.Permanent(errors.New("OrderCreated event without order_id"))
		}
		return eh.onOrderCreated(ctx, &event)

	default:
		util.GetLogger().Warn("Unhandled event type",
			zap.String("event_type", baseEvent.EventType),
			zap.Int64("offset", msg.Offset))
	}

	return nil
}

// Consume runs the at-least-once consume loop: fetch, handle, commit. A
// failing handler is retried with newBackOff on the same message, which stays
// uncommitted meanwhile; permanent failures are logged and committed so one
// bad payload cannot stall the queue. Returns when ctx is done.
func Consume(ctx context.Context, r Reader, handler MessageHandler, newBackOff func() backoff.BackOff) error {
	logger := util.GetLogger()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Consumer context cancelled, stopping")
				return ctx.Err()
			}
			logger.Error("Error fetching message", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		msgCtx := util.ExtractKafkaHeaders(ctx, msg.Headers)
		attempt := 0
		err = backoff.Retry(func() error {
			attempt++
			return handler(msgCtx, msg)
		}, backoff.WithContext(newBackOff(), ctx))

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("Dropping undeliverable message",
				zap.Int64("offset", msg.Offset),
				zap.ByteString("key", msg.Key),
				zap.Int("attempts", attempt),
				zap.Error(err))
		}

		if err := r.CommitMessages(ctx, msg); err != nil {
			logger.Error("Error committing message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// DefaultBackOff retries a message forever with capped exponential delays
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}
