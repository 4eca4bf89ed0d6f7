// Package brokertest provides an in-process queue that satisfies the broker
// Reader and Writer interfaces, for tests.
package brokertest

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Queue is a single-partition in-process channel with Kafka's delivery
// contract: FIFO, fetch without commit, and redelivery of everything past the
// committed offset after Rewind.
type Queue struct {
	mu        sync.Mutex
	topic     string
	messages  []kafka.Message
	next      int
	committed int
	wake      chan struct{}

	failWrites int
	failErr    error
}

func NewQueue(topic string) *Queue {
	return &Queue{topic: topic, wake: make(chan struct{})}
}

// WriteMessages appends messages, or fails if a failure has been injected
func (q *Queue) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.failWrites > 0 {
		q.failWrites--
		return q.failErr
	}

	for _, m := range msgs {
		m.Topic = q.topic
		m.Partition = 0
		m.Offset = int64(len(q.messages))
		if m.Time.IsZero() {
			m.Time = time.Now()
		}
		q.messages = append(q.messages, m)
	}

	close(q.wake)
	q.wake = make(chan struct{})
	return nil
}

// FetchMessage blocks until a message is available or ctx is done
func (q *Queue) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		q.mu.Lock()
		if q.next < len(q.messages) {
			m := q.messages[q.next]
			q.next++
			q.mu.Unlock()
			return m, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-wake:
		}
	}
}

// CommitMessages advances the committed offset
func (q *Queue) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range msgs {
		if int(m.Offset)+1 > q.committed {
			q.committed = int(m.Offset) + 1
		}
	}
	return nil
}

// Rewind moves the read position back to the committed offset, as a
// consumer restart would.
func (q *Queue) Rewind() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next = q.committed
}

// FailWrites makes the next n writes return err
func (q *Queue) FailWrites(n int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failWrites = n
	q.failErr = err
}

// Messages returns a copy of everything written so far
func (q *Queue) Messages() []kafka.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]kafka.Message(nil), q.messages...)
}

// Committed returns the next offset a restarted consumer would read
func (q *Queue) Committed() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.committed)
}
