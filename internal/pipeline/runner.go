package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/easel/internal/queue"
)

// Handler processes one delivery. Returning nil acknowledges the
// message; returning an error leaves it leased until the visibility
// timeout redelivers it.
type Handler func(ctx context.Context, msg queue.Message) error

// DefaultPollInterval paces the consumer loops when the wake channel is
// quiet. Delayed retries only become visible through polling.
const DefaultPollInterval = 2 * time.Second

type subscription struct {
	topic     string
	batchSize int
	handler   Handler
}

// Runner drives registered topic consumers. Each topic gets one
// goroutine that drains batches on wake signals and a poll ticker. A
// failing message in a batch does not block the rest: every message is
// handled and acked individually.
type Runner struct {
	queue  *queue.Queue
	logger *slog.Logger

	// PollInterval overrides the poll cadence; zero means the default.
	PollInterval time.Duration

	subs []subscription
}

// NewRunner builds an empty runner.
func NewRunner(q *queue.Queue, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		queue:  q,
		logger: logger.With("component", "pipeline"),
	}
}

// Register adds a topic consumer. Call before Run.
func (r *Runner) Register(topic string, batchSize int, handler Handler) {
	if batchSize <= 0 {
		batchSize = 1
	}
	r.subs = append(r.subs, subscription{topic: topic, batchSize: batchSize, handler: handler})
}

// Run blocks until the context is cancelled, then waits for in-flight
// handlers to return.
func (r *Runner) Run(ctx context.Context) {
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var wg sync.WaitGroup
	for _, sub := range r.subs {
		wg.Add(1)
		go func(sub subscription) {
			defer wg.Done()
			r.consume(ctx, sub, interval)
		}(sub)
	}
	wg.Wait()
}

func (r *Runner) consume(ctx context.Context, sub subscription, interval time.Duration) {
	logger := r.logger.With("topic", sub.topic)
	logger.Info("consumer started", "batch_size", sub.batchSize)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n := r.drain(ctx, sub, logger); n > 0 {
			// More may be waiting; loop again before sleeping.
			continue
		}
		select {
		case <-ctx.Done():
			logger.Info("consumer stopped")
			return
		case <-r.queue.Wake():
			// A single wake channel serves all topics; whichever
			// consumer catches it drains, the rest catch up on tick.
		case <-ticker.C:
		}
	}
}

// drain receives and handles one batch, returning how many messages it
// processed.
func (r *Runner) drain(ctx context.Context, sub subscription, logger *slog.Logger) int {
	if ctx.Err() != nil {
		return 0
	}
	msgs, err := r.queue.Receive(ctx, sub.topic, sub.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("receive failed", "error", err)
		}
		return 0
	}

	for _, msg := range msgs {
		if err := sub.handler(ctx, msg); err != nil {
			// Leave it leased; the visibility timeout redelivers it.
			logger.Warn("message handling failed, leaving for redelivery",
				"id", msg.ID, "delivery_count", msg.DeliveryCount, "error", err)
			continue
		}
		if err := r.queue.Ack(ctx, msg.ID); err != nil {
			logger.Warn("ack failed", "id", msg.ID, "error", err)
		}
	}
	return len(msgs)
}
