package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackzampolin/easel/internal/jobs"
	"github.com/jackzampolin/easel/internal/queue"
	"github.com/jackzampolin/easel/internal/tasks"
)

// DefaultStaleAfter is how long an in-flight task may go without an
// update before the dispatcher reclaims it.
const DefaultStaleAfter = 10 * time.Minute

// RetryDispatcher sweeps tasks whose worker died mid-flight. A stale
// in-progress task is charged a failed attempt and, if budget remains,
// requeued with the same exponential delay as an ordinary failure.
type RetryDispatcher struct {
	deps       Deps
	logger     *slog.Logger
	StaleAfter time.Duration
}

// NewRetryDispatcher builds the dispatcher.
func NewRetryDispatcher(deps Deps) *RetryDispatcher {
	return &RetryDispatcher{
		deps:       deps,
		logger:     deps.logger().With("worker", "retry-dispatcher"),
		StaleAfter: DefaultStaleAfter,
	}
}

// Sweep runs one pass. Per-task errors are logged and skipped so one bad
// row cannot wedge the sweep.
func (d *RetryDispatcher) Sweep(ctx context.Context) error {
	stale, err := d.deps.Tasks.Stale(ctx, d.StaleAfter)
	if err != nil {
		return err
	}
	for _, task := range stale {
		if err := d.reclaim(ctx, task); err != nil {
			d.logger.Warn("reclaim stale task failed",
				"job_id", task.JobID, "panel_id", task.PanelID, "error", err)
		}
	}
	return nil
}

func (d *RetryDispatcher) reclaim(ctx context.Context, stale *tasks.Task) error {
	d.logger.Info("reclaiming stale task",
		"job_id", stale.JobID, "panel_id", stale.PanelID, "mode", stale.Mode,
		"age", time.Since(stale.UpdatedAt))

	task, err := d.deps.Tasks.MarkFailed(ctx, stale.Key, "task lease expired")
	if err != nil {
		return err
	}
	if task.Retryable() {
		if err := d.deps.Tasks.Requeue(ctx, task.Key); err != nil {
			return err
		}
		body, err := json.Marshal(PanelMessage{
			JobID:        task.JobID,
			PanelID:      task.PanelID,
			StoryboardID: task.StoryboardID,
			Mode:         task.Mode,
		})
		if err != nil {
			return err
		}
		_, err = d.deps.Queue.Enqueue(ctx, queue.TopicPanels, body, tasks.Backoff(task.RetryCount))
		return err
	}

	// Budget exhausted. Record the panel failure and close the job if
	// this was the last open task.
	if err := d.deps.Panels.MarkFailed(ctx, task.PanelID); err != nil {
		return err
	}
	_ = d.deps.Jobs.UpdateProgress(ctx, task.JobID, func(p *jobs.Progress) {
		p.PanelsFailed++
		p.RecalcPanelPercentage()
	})
	worker := &PanelWorker{deps: d.deps, logger: d.logger}
	return worker.finishIfDone(ctx, PanelMessage{
		JobID:        task.JobID,
		PanelID:      task.PanelID,
		StoryboardID: task.StoryboardID,
		Mode:         task.Mode,
	})
}

// Run sweeps on an interval until the context is cancelled.
func (d *RetryDispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Sweep(ctx); err != nil {
				d.logger.Error("stale task sweep failed", "error", err)
			}
		}
	}
}
