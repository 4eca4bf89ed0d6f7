package store

import (
	"context"
	"database/sql"
	"time"

	"fulfillment/internal/models"

	"github.com/lib/pq"
)

// ReleaseOutbox makes the held event of an order eligible for dispatch and
// leases it to the caller until leaseUntil. It returns nil when there is no
// held event left for the order.
func (s *Store) ReleaseOutbox(ctx context.Context, orderID string, leaseUntil time.Time) (*models.OutboxEvent, error) {
	var event models.OutboxEvent
	err := s.db.GetContext(ctx, &event,
		"UPDATE outbox SET status = $1, next_attempt_at = $2 WHERE aggregate_id = $3 AND status = $4 RETURNING *",
		models.OutboxStatusPending, leaseUntil, orderID, models.OutboxStatusHeld)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// LockBatch claims up to limit due events and pushes their next attempt out
// by lease, so concurrent relays skip them until the lease expires.
func (s *Store) LockBatch(ctx context.Context, limit int, lease time.Duration) ([]models.OutboxEvent, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var events []models.OutboxEvent
	err = tx.SelectContext(ctx, &events, `
		SELECT * FROM outbox
		WHERE status = $1 AND next_attempt_at <= NOW()
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $2`,
		models.OutboxStatusPending, limit)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE outbox SET next_attempt_at = $1 WHERE id = ANY($2)",
		time.Now().Add(lease), pq.Array(ids))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkSent records a successful dispatch
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox SET status = $1, last_error = NULL, attempts = attempts + 1 WHERE id = $2",
		models.OutboxStatusSent, id)
	return err
}

// MarkFailed records a failed dispatch and schedules the next attempt
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox SET attempts = attempts + 1, last_error = $1, next_attempt_at = $2 WHERE id = $3 AND status = $4",
		errMsg, next, id, models.OutboxStatusPending)
	return err
}
