// Package tasks tracks per-panel work items for a generation job.
//
// A task is keyed by (job, panel, mode). Workers claim tasks with a
// conditional status transition, so a redelivered panel message cannot run
// the same panel twice. Failed tasks retry with exponential backoff a
// bounded number of times, then stay failed.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/easel/internal/store"
)

// Status of one panel task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MaxAttempts bounds retries per task. After this many failures the task is
// permanently failed and only a new job can regenerate the panel.
const MaxAttempts = 3

// backoffBase is the first retry delay; each further attempt doubles it.
const backoffBase = 10 * time.Second

// ErrTaskNotFound is returned for unknown task keys.
var ErrTaskNotFound = errors.New("panel task not found")

// Backoff returns the delay before retry number attempt (1-based): the
// base delay doubled once per attempt.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > MaxAttempts {
		attempt = MaxAttempts
	}
	return time.Duration(1<<uint(attempt)) * backoffBase
}

// Key identifies one task.
type Key struct {
	JobID   string
	PanelID string
	Mode    string
}

// Task is one row of the panel task ledger.
type Task struct {
	Key
	StoryboardID string
	Status       Status
	RetryCount   int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Retryable reports whether the task has retry budget left.
func (t *Task) Retryable() bool {
	return t.Status == StatusRetrying && t.RetryCount < MaxAttempts
}

// Summary aggregates task counts for a job and mode.
type Summary struct {
	Pending    int
	InProgress int
	Retrying   int
	Completed  int
	Failed     int
}

// Total is the number of tasks in the job.
func (s Summary) Total() int {
	return s.Pending + s.InProgress + s.Retrying + s.Completed + s.Failed
}

// Done reports whether no task can make further progress.
func (s Summary) Done() bool {
	return s.Pending == 0 && s.InProgress == 0 && s.Retrying == 0
}

// Store persists panel tasks.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a task store on the shared database.
func NewStore(st *store.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     st.DB(),
		logger: logger.With("component", "tasks"),
		now:    time.Now,
	}
}

// CreateBatch inserts pending tasks for every panel in the job. Re-running
// the batch (a redelivered job message) leaves existing tasks untouched.
func (s *Store) CreateBatch(ctx context.Context, jobID, storyboardID, mode string, panelIDs []string) error {
	now := store.FormatTime(s.now().UTC())
	for _, panelID := range panelIDs {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO panel_tasks
				(job_id, panel_id, mode, storyboard_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			jobID, panelID, mode, storyboardID, StatusPending, now, now)
		if err != nil {
			return fmt.Errorf("create panel task %s: %w", panelID, err)
		}
	}
	return nil
}

// Claim transitions a task to in_progress, but only from pending or
// retrying. A false return means another worker owns it or it finished.
func (s *Store) Claim(ctx context.Context, key Key) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE panel_tasks SET status = ?, updated_at = ?
		WHERE job_id = ? AND panel_id = ? AND mode = ? AND status IN (?, ?)`,
		StatusInProgress, store.FormatTime(s.now().UTC()),
		key.JobID, key.PanelID, key.Mode, StatusPending, StatusRetrying)
	if err != nil {
		return false, fmt.Errorf("claim panel task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim panel task rows: %w", err)
	}
	return affected > 0, nil
}

// MarkCompleted finishes a task.
func (s *Store) MarkCompleted(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE panel_tasks SET status = ?, last_error = '', updated_at = ?
		WHERE job_id = ? AND panel_id = ? AND mode = ?`,
		StatusCompleted, store.FormatTime(s.now().UTC()),
		key.JobID, key.PanelID, key.Mode)
	if err != nil {
		return fmt.Errorf("complete panel task: %w", err)
	}
	return nil
}

// MarkFailed records a failure and spends one retry. Tasks with budget left
// go to retrying; the rest go to failed for good. The updated task is
// returned so the caller can schedule the retry.
func (s *Store) MarkFailed(ctx context.Context, key Key, taskErr string) (*Task, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE panel_tasks
		SET retry_count = retry_count + 1,
		    last_error = ?,
		    status = CASE WHEN retry_count + 1 < ? THEN ? ELSE ? END,
		    updated_at = ?
		WHERE job_id = ? AND panel_id = ? AND mode = ?`,
		taskErr, MaxAttempts, StatusRetrying, StatusFailed,
		store.FormatTime(s.now().UTC()),
		key.JobID, key.PanelID, key.Mode)
	if err != nil {
		return nil, fmt.Errorf("fail panel task: %w", err)
	}

	task, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if task.Status == StatusFailed {
		s.logger.Warn("panel task exhausted retries",
			"job_id", key.JobID, "panel_id", key.PanelID, "attempts", task.RetryCount)
	}
	return task, nil
}

// Get loads one task.
func (s *Store) Get(ctx context.Context, key Key) (*Task, error) {
	row := s.db.QueryRowContext(ctx, selectTask+`
		WHERE job_id = ? AND panel_id = ? AND mode = ?`,
		key.JobID, key.PanelID, key.Mode)
	task, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrTaskNotFound, key.JobID, key.PanelID, key.Mode)
	}
	return task, err
}

// ListByJob returns all tasks for a job and mode.
func (s *Store) ListByJob(ctx context.Context, jobID, mode string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTask+`
		WHERE job_id = ? AND mode = ? ORDER BY panel_id`, jobID, mode)
	if err != nil {
		return nil, fmt.Errorf("list panel tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Summarize counts tasks by status for a job and mode.
func (s *Store) Summarize(ctx context.Context, jobID, mode string) (Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(1) FROM panel_tasks
		WHERE job_id = ? AND mode = ? GROUP BY status`, jobID, mode)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize panel tasks: %w", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var (
			status Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, fmt.Errorf("scan task summary: %w", err)
		}
		switch status {
		case StatusPending:
			summary.Pending = count
		case StatusInProgress:
			summary.InProgress = count
		case StatusRetrying:
			summary.Retrying = count
		case StatusCompleted:
			summary.Completed = count
		case StatusFailed:
			summary.Failed = count
		}
	}
	return summary, rows.Err()
}

// Stale returns in_progress tasks untouched since the cutoff. These are
// tasks whose worker died mid-panel; the dispatcher requeues them.
func (s *Store) Stale(ctx context.Context, olderThan time.Duration) ([]*Task, error) {
	cutoff := store.FormatTime(s.now().UTC().Add(-olderThan))
	rows, err := s.db.QueryContext(ctx, selectTask+`
		WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		StatusInProgress, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Reset returns a failed task to pending with a fresh retry budget. Used
// when a caller explicitly retries a job whose panels exhausted their
// attempts.
func (s *Store) Reset(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE panel_tasks
		SET status = ?, retry_count = 0, last_error = '', updated_at = ?
		WHERE job_id = ? AND panel_id = ? AND mode = ? AND status = ?`,
		StatusPending, store.FormatTime(s.now().UTC()),
		key.JobID, key.PanelID, key.Mode, StatusFailed)
	if err != nil {
		return fmt.Errorf("reset panel task: %w", err)
	}
	return nil
}

// Requeue moves a retrying or stale in_progress task back to pending so a
// worker can claim it again.
func (s *Store) Requeue(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE panel_tasks SET status = ?, updated_at = ?
		WHERE job_id = ? AND panel_id = ? AND mode = ? AND status IN (?, ?)`,
		StatusPending, store.FormatTime(s.now().UTC()),
		key.JobID, key.PanelID, key.Mode, StatusRetrying, StatusInProgress)
	if err != nil {
		return fmt.Errorf("requeue panel task: %w", err)
	}
	return nil
}

const selectTask = `
	SELECT job_id, panel_id, mode, storyboard_id, status, retry_count, last_error,
	       created_at, updated_at
	FROM panel_tasks`

func scanTask(scan func(...any) error) (*Task, error) {
	var (
		task                 Task
		createdAt, updatedAt string
	)
	err := scan(&task.JobID, &task.PanelID, &task.Mode, &task.StoryboardID,
		&task.Status, &task.RetryCount, &task.LastError, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan panel task: %w", err)
	}
	task.CreatedAt = store.ParseTime(createdAt)
	task.UpdatedAt = store.ParseTime(updatedAt)
	return &task, nil
}
