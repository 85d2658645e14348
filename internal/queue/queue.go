// Package queue is an at-least-once message queue on the shared sqlite
// database. Consumers receive messages under a visibility lease; messages
// that are not acknowledged before the lease expires are redelivered, so
// every consumer must tolerate duplicates.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/easel/internal/store"
)

// Topics carried by the queue.
const (
	TopicAnalyze = "analyze"
	TopicPanels  = "panels"
	TopicRetry   = "retry"

	// TopicBibleChanges is the change feed: one message per persisted
	// bible version.
	TopicBibleChanges = "bible-changes"
)

// DefaultVisibility is how long a received message stays invisible before
// it is redelivered to another consumer.
const DefaultVisibility = 5 * time.Minute

// Message is one delivery. DeliveryCount counts deliveries including this
// one, so consumers can spot redeliveries.
type Message struct {
	ID            string
	Topic         string
	Body          []byte
	DeliveryCount int
	CreatedAt     time.Time
}

// Queue reads and writes queue_messages.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	// Visibility is the lease duration for received messages.
	Visibility time.Duration

	wake chan struct{}
}

// New creates a queue on the shared store.
func New(st *store.Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:         st.DB(),
		logger:     logger.With("component", "queue"),
		now:        time.Now,
		Visibility: DefaultVisibility,
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue appends a message to a topic. A positive delay keeps the message
// invisible until it elapses, which is how retries back off without a
// separate timer store.
func (q *Queue) Enqueue(ctx context.Context, topic string, body []byte, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	now := q.now().UTC()
	id := uuid.NewString()

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_messages (id, topic, body, available_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, topic, string(body),
		store.FormatTime(now.Add(delay)), store.FormatTime(now))
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", topic, err)
	}

	q.logger.Debug("message enqueued", "topic", topic, "id", id, "delay", delay)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return id, nil
}

// Wake signals when a message was enqueued. Consumers select on it
// alongside a poll ticker; delayed messages only surface via the ticker.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Receive claims up to max visible messages from a topic. Claimed messages
// get a visibility lease; each claim bumps the delivery count. An empty
// slice means nothing is ready.
func (q *Queue) Receive(ctx context.Context, topic string, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	nowStr := store.FormatTime(q.now().UTC())

	rows, err := q.db.QueryContext(ctx, `
		SELECT id FROM queue_messages
		WHERE topic = ? AND available_at <= ?
		  AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
		ORDER BY available_at, created_at LIMIT ?`,
		topic, nowStr, nowStr, max)
	if err != nil {
		return nil, fmt.Errorf("scan queue %s: %w", topic, err)
	}
	candidates := make([]string, 0, max)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan queue id: %w", err)
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lease := store.FormatTime(q.now().UTC().Add(q.Visibility))
	var claimed []Message
	for _, id := range candidates {
		// The conditional claim makes concurrent receivers safe: only
		// one UPDATE wins each message.
		res, err := q.db.ExecContext(ctx, `
			UPDATE queue_messages
			SET lease_expires_at = ?, delivery_count = delivery_count + 1
			WHERE id = ? AND available_at <= ?
			  AND (lease_expires_at IS NULL OR lease_expires_at <= ?)`,
			lease, id, nowStr, nowStr)
		if err != nil {
			return nil, fmt.Errorf("claim message %s: %w", id, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			continue
		}

		msg, err := q.get(ctx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, *msg)
	}
	return claimed, nil
}

// Ack deletes a handled message. Acking an already-deleted message is a
// no-op, which redelivered duplicates depend on.
func (q *Queue) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ack message %s: %w", id, err)
	}
	return nil
}

// Extend pushes out the lease on a message a slow consumer is still
// working on.
func (q *Queue) Extend(ctx context.Context, id string, d time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_messages SET lease_expires_at = ?
		WHERE id = ? AND lease_expires_at IS NOT NULL`,
		store.FormatTime(q.now().UTC().Add(d)), id)
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", id, err)
	}
	return nil
}

// Release drops the lease so the message becomes deliverable immediately
// instead of waiting out the visibility timeout.
func (q *Queue) Release(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_messages SET lease_expires_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("release message %s: %w", id, err)
	}
	return nil
}

// Len reports how many messages a topic holds, visible or not.
func (q *Queue) Len(ctx context.Context, topic string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM queue_messages WHERE topic = ?`, topic).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue %s: %w", topic, err)
	}
	return n, nil
}

func (q *Queue) get(ctx context.Context, id string) (*Message, error) {
	var (
		msg       Message
		body      string
		createdAt string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, topic, body, delivery_count, created_at
		FROM queue_messages WHERE id = ?`, id).
		Scan(&msg.ID, &msg.Topic, &body, &msg.DeliveryCount, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", id, err)
	}
	msg.Body = []byte(body)
	msg.CreatedAt = store.ParseTime(createdAt)
	return &msg, nil
}
