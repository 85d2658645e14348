// Package pipeline runs the asynchronous generation workers.
//
// Every worker is a queue consumer. Delivery is at least once, so each
// worker starts by claiming its unit of work with a conditional transition
// (job ledger or task ledger) and drops the message when the claim is lost.
// A worker that errors before recording anything leaves its message leased;
// redelivery after the visibility timeout is the retry.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackzampolin/easel/internal/bible"
	"github.com/jackzampolin/easel/internal/blob"
	"github.com/jackzampolin/easel/internal/jobs"
	"github.com/jackzampolin/easel/internal/metrics"
	"github.com/jackzampolin/easel/internal/novels"
	"github.com/jackzampolin/easel/internal/panels"
	"github.com/jackzampolin/easel/internal/providers"
	"github.com/jackzampolin/easel/internal/queue"
	"github.com/jackzampolin/easel/internal/tasks"
)

// Deps bundles the shared services the workers run against.
type Deps struct {
	Jobs     *jobs.Manager
	Tasks    *tasks.Store
	Queue    *queue.Queue
	Bibles   *bible.Store
	Novels   *novels.Store
	Panels   *panels.Store
	Blobs    *blob.Store
	Registry *providers.Registry

	// Metrics is optional; a nil recorder disables call accounting.
	Metrics *metrics.Recorder

	// Generator names the registered provider the workers use.
	Generator string

	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// errorType buckets provider errors for the call log.
func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case providers.IsRateLimit(err):
		return "rate_limit"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// record writes a generation call if a recorder is wired. Accounting
// failures never affect the pipeline.
func (d Deps) record(ctx context.Context, c metrics.Call) {
	if d.Metrics == nil {
		return
	}
	if err := d.Metrics.Record(ctx, c); err != nil {
		d.logger().Warn("recording generation call failed", "error", err)
	}
}

// AnalyzeMessage starts (or resumes) one analyze job.
type AnalyzeMessage struct {
	JobID   string `json:"jobId"`
	NovelID string `json:"novelId"`
}

// PanelMessage requests one panel image for one mode. Instruction is set
// only for edit jobs: a natural-language change request appended to the
// panel's render prompt when the image is regenerated.
type PanelMessage struct {
	JobID        string `json:"jobId"`
	PanelID      string `json:"panelId"`
	StoryboardID string `json:"storyboardId"`
	Mode         string `json:"mode"`
	Instruction  string `json:"instruction,omitempty"`
}

// BibleChange is the change-feed event published after every persisted
// bible version.
type BibleChange struct {
	SubjectID string `json:"subjectId"`
	Version   int    `json:"version"`
}

// Analyze job stages, in order.
const (
	StageFetchingText          = "fetching_text"
	StageInitializingGenerator = "initializing_generator"
	StageLoadingBible          = "loading_bible"
	StageGenerating            = "generating"
	StageValidating            = "validating"
	StageMergingBible          = "merging_bible"
	StageWritingPanels         = "writing_panels"
	StageCompleted             = "completed"
)
