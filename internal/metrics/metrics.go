// Package metrics records provider generation calls for cost and latency
// accounting. Every storyboard or image generation writes one row; the
// summary queries aggregate by provider and kind.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/easel/internal/store"
)

// Call kinds.
const (
	KindStoryboard = "storyboard"
	KindImage      = "image"
)

// Call is one recorded provider invocation.
type Call struct {
	ID        string        `json:"id"`
	JobID     string        `json:"jobId,omitempty"`
	SubjectID string        `json:"subjectId,omitempty"`
	Kind      string        `json:"kind"`
	Provider  string        `json:"provider"`
	Mode      string        `json:"mode,omitempty"`
	ItemKey   string        `json:"itemKey,omitempty"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	ErrorType string        `json:"errorType,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Recorder writes generation calls to the shared database.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder on the shared database.
func NewRecorder(st *store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		db:     st.DB(),
		logger: logger.With("component", "metrics"),
		now:    time.Now,
	}
}

// Record stores one call. Recording is bookkeeping, not pipeline state:
// callers treat a failure here as log-and-continue.
func (r *Recorder) Record(ctx context.Context, c Call) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO generation_calls
			(id, job_id, subject_id, kind, provider, mode, item_key,
			 duration_ms, success, error_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.JobID, c.SubjectID, c.Kind, c.Provider, c.Mode, c.ItemKey,
		c.Duration.Milliseconds(), c.Success, c.ErrorType,
		store.FormatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("record generation call: %w", err)
	}
	return nil
}

// Filter narrows List and Summarize.
type Filter struct {
	JobID    string
	Provider string
	Kind     string
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.JobID != "" {
		conds = append(conds, "job_id = ?")
		args = append(args, f.JobID)
	}
	if f.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns recorded calls, newest first.
func (r *Recorder) List(ctx context.Context, f Filter, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 100
	}
	where, args := f.where()
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, subject_id, kind, provider, mode, item_key,
		       duration_ms, success, error_type, created_at
		FROM generation_calls`+where+`
		ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list generation calls: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var (
			c          Call
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(&c.ID, &c.JobID, &c.SubjectID, &c.Kind, &c.Provider,
			&c.Mode, &c.ItemKey, &durationMS, &c.Success, &c.ErrorType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan generation call: %w", err)
		}
		c.Duration = time.Duration(durationMS) * time.Millisecond
		c.CreatedAt = store.ParseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ProviderSummary aggregates calls for one provider and kind.
type ProviderSummary struct {
	Provider      string        `json:"provider"`
	Kind          string        `json:"kind"`
	Calls         int           `json:"calls"`
	Failures      int           `json:"failures"`
	TotalDuration time.Duration `json:"totalDuration"`
}

// Summarize aggregates recorded calls grouped by provider and kind.
func (r *Recorder) Summarize(ctx context.Context, f Filter) ([]ProviderSummary, error) {
	where, args := f.where()

	rows, err := r.db.QueryContext(ctx, `
		SELECT provider, kind, COUNT(1),
		       SUM(CASE WHEN success THEN 0 ELSE 1 END),
		       SUM(duration_ms)
		FROM generation_calls`+where+`
		GROUP BY provider, kind
		ORDER BY provider, kind`, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize generation calls: %w", err)
	}
	defer rows.Close()

	var out []ProviderSummary
	for rows.Next() {
		var (
			s          ProviderSummary
			durationMS int64
		)
		if err := rows.Scan(&s.Provider, &s.Kind, &s.Calls, &s.Failures, &durationMS); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.TotalDuration = time.Duration(durationMS) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}
