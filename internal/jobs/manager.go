package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/jackzampolin/easel/internal/store"
)

// ErrJobNotFound is returned when a job ID does not exist.
var ErrJobNotFound = errors.New("job not found")

// errStaleProgress signals that another writer updated the job between our
// read and write. Progress updates retry on it a few times, then give up:
// progress is advisory and the next stage transition repairs it.
var errStaleProgress = errors.New("stale job progress token")

const (
	progressAttempts = 3
	progressDelay    = 10 * time.Millisecond

	defaultListLimit = 50
	maxListLimit     = 200
)

// Manager handles job ledger CRUD. It does not execute jobs - the pipeline
// workers do that, and record their transitions through the manager.
type Manager struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a new job manager.
func NewManager(st *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:     st.DB(),
		logger: logger.With("component", "jobs"),
		now:    time.Now,
	}
}

// Create inserts a new queued job and returns its record.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*Record, error) {
	now := m.now().UTC()
	record := &Record{
		ID:           uuid.NewString(),
		Type:         params.Type,
		Status:       StatusQueued,
		SubjectID:    params.SubjectID,
		StoryboardID: params.StoryboardID,
		Mode:         params.Mode,
		UserID:       params.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	progressJSON, err := json.Marshal(record.Progress)
	if err != nil {
		return nil, fmt.Errorf("marshal progress: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, subject_id, storyboard_id, mode, user_id,
		                  progress_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Type, record.Status, record.SubjectID, record.StoryboardID,
		record.Mode, record.UserID, string(progressJSON),
		store.FormatTime(record.CreatedAt), store.FormatTime(record.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	m.logger.Info("job created", "id", record.ID, "type", record.Type)
	return record, nil
}

// Get returns a job record by ID.
func (m *Manager) Get(ctx context.Context, jobID string) (*Record, error) {
	row := m.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, jobID)
	record, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return record, err
}

// List returns jobs matching the filter, newest first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.StoryboardID != "" {
		conds = append(conds, "storyboard_id = ?")
		args = append(args, filter.StoryboardID)
	}

	query := selectJob
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// TryClaim transitions a job to running, but only from queued or failed.
// A false return with no error means another worker already owns the job
// (or it finished); the caller must skip it without treating that as a
// failure. This is what makes redelivered queue messages harmless.
func (m *Manager) TryClaim(ctx context.Context, jobID string) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?, error_message = ''
		WHERE id = ? AND status IN (?, ?)`,
		StatusRunning, store.FormatTime(m.now().UTC()),
		jobID, StatusQueued, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job rows: %w", err)
	}
	if affected == 0 {
		m.logger.Debug("job claim lost", "id", jobID)
		return false, nil
	}

	m.logger.Info("job claimed", "id", jobID)
	return true, nil
}

// Complete marks a running job completed and records its result.
func (m *Manager) Complete(ctx context.Context, jobID string, result map[string]any) error {
	var resultJSON sql.NullString
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
		resultJSON = sql.NullString{String: string(raw), Valid: true}
	}

	now := store.FormatTime(m.now().UTC())
	res, err := m.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result_json = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		StatusCompleted, resultJSON, now, now, jobID, StatusRunning)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("complete job %s: not running", jobID)
	}

	m.logger.Info("job completed", "id", jobID)
	return nil
}

// Fail marks a job failed with an error message. Failed jobs stay claimable
// so a retry can transition them back to running.
func (m *Manager) Fail(ctx context.Context, jobID, errMsg string) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		StatusFailed, errMsg, store.FormatTime(m.now().UTC()),
		jobID, StatusCompleted, StatusCancelled)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		m.logger.Warn("job failed", "id", jobID, "error", errMsg)
	}
	return nil
}

// Cancel marks a job cancelled unless it already finished.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, store.FormatTime(m.now().UTC()),
		jobID, StatusQueued, StatusFailed)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("cancel job %s: not cancellable", jobID)
	}
	return nil
}

// SetStage updates just the progress stage.
func (m *Manager) SetStage(ctx context.Context, jobID, stage string) error {
	return m.UpdateProgress(ctx, jobID, func(p *Progress) {
		p.Stage = stage
	})
}

// UpdateProgress applies a mutation to the job's aggregated progress. The
// write is guarded by the record's updated_at token: if another writer got
// there first the read-apply-write is retried, and after a few losses the
// update is dropped with a warning rather than failing the job. Progress is
// a read model; correctness lives in the status column and the task table.
func (m *Manager) UpdateProgress(ctx context.Context, jobID string, apply func(*Progress)) error {
	err := retry.Do(func() error {
		record, err := m.Get(ctx, jobID)
		if err != nil {
			return retry.Unrecoverable(err)
		}

		apply(&record.Progress)
		progressJSON, err := json.Marshal(record.Progress)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("marshal progress: %w", err))
		}

		res, err := m.db.ExecContext(ctx, `
			UPDATE jobs SET progress_json = ?, updated_at = ?
			WHERE id = ? AND updated_at = ?`,
			string(progressJSON), store.FormatTime(m.now().UTC()),
			jobID, store.FormatTime(record.UpdatedAt))
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("write progress: %w", err))
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return errStaleProgress
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(progressAttempts),
		retry.Delay(progressDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errStaleProgress) }),
	)
	if errors.Is(err, errStaleProgress) {
		m.logger.Warn("dropping contended progress update", "id", jobID)
		return nil
	}
	return err
}

const selectJob = `
	SELECT id, type, status, subject_id, storyboard_id, mode, user_id,
	       progress_json, result_json, error_message,
	       created_at, updated_at, completed_at
	FROM jobs`

func scanJob(scan func(...any) error) (*Record, error) {
	var (
		record               Record
		progressJSON         string
		resultJSON           sql.NullString
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	err := scan(&record.ID, &record.Type, &record.Status,
		&record.SubjectID, &record.StoryboardID, &record.Mode, &record.UserID,
		&progressJSON, &resultJSON, &record.Error,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal([]byte(progressJSON), &record.Progress); err != nil {
		return nil, fmt.Errorf("decode job progress: %w", err)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &record.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	record.CreatedAt = store.ParseTime(createdAt)
	record.UpdatedAt = store.ParseTime(updatedAt)
	if completedAt.Valid && completedAt.String != "" {
		t := store.ParseTime(completedAt.String)
		record.CompletedAt = &t
	}
	return &record, nil
}
