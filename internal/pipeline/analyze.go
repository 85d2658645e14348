package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/easel/internal/bible"
	"github.com/jackzampolin/easel/internal/jobs"
	"github.com/jackzampolin/easel/internal/metrics"
	"github.com/jackzampolin/easel/internal/panels"
	"github.com/jackzampolin/easel/internal/providers"
	"github.com/jackzampolin/easel/internal/queue"
	"github.com/jackzampolin/easel/internal/schema"
)

// AnalyzeWorker consumes the analyze topic. One message is one novel to
// storyboard: chapter-by-chapter generation merged into the continuity
// bible, then a storyboard with panel records.
type AnalyzeWorker struct {
	deps   Deps
	logger *slog.Logger
}

// NewAnalyzeWorker builds the worker.
func NewAnalyzeWorker(deps Deps) *AnalyzeWorker {
	return &AnalyzeWorker{
		deps:   deps,
		logger: deps.logger().With("worker", "analyze"),
	}
}

// storyboardDoc is the validated shape of generated output.
type storyboardDoc struct {
	Title      string            `json:"title"`
	Summary    string            `json:"summary"`
	Characters []bible.Character `json:"characters"`
	Scenes     []bible.Scene     `json:"scenes"`
	Panels     []panelDoc        `json:"panels"`
}

type panelDoc struct {
	SceneID     string            `json:"sceneId"`
	Description string            `json:"description"`
	Characters  []string          `json:"characters"`
	Dialogue    []panels.Dialogue `json:"dialogue"`
}

// stagePercent maps each analyze stage to its coarse progress percentage.
// Chapter iteration refines the middle of the range via CurrentChapter.
var stagePercent = map[string]int{
	StageFetchingText:          5,
	StageInitializingGenerator: 10,
	StageLoadingBible:          15,
	StageGenerating:            30,
	StageValidating:            60,
	StageMergingBible:          75,
	StageWritingPanels:         90,
	StageCompleted:             100,
}

// stage records the current analyze stage and its percentage on the job.
func (w *AnalyzeWorker) stage(ctx context.Context, jobID, stage string) error {
	return w.deps.Jobs.UpdateProgress(ctx, jobID, func(p *jobs.Progress) {
		p.Stage = stage
		if pct, ok := stagePercent[stage]; ok && pct > p.Percentage {
			p.Percentage = pct
		}
	})
}

// Process handles one analyze message. A nil return acknowledges the
// message; an error leaves it leased for redelivery. Execution failures
// after the claim are recorded on the job and acknowledged - redelivering
// them would only replay a failure the ledger already knows about.
func (w *AnalyzeWorker) Process(ctx context.Context, msg queue.Message) error {
	var m AnalyzeMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		w.logger.Warn("dropping malformed analyze message", "id", msg.ID, "error", err)
		return nil
	}

	// Claim protocol: unknown jobs and finished/running jobs drop the
	// message silently. Only a queued or failed job transitions to
	// running, exactly once per race.
	if _, err := w.deps.Jobs.Get(ctx, m.JobID); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			w.logger.Warn("dropping analyze message for unknown job", "job_id", m.JobID)
			return nil
		}
		return err
	}
	claimed, err := w.deps.Jobs.TryClaim(ctx, m.JobID)
	if err != nil {
		return err
	}
	if !claimed {
		w.logger.Debug("analyze claim lost, dropping message", "job_id", m.JobID)
		return nil
	}

	if err := w.execute(ctx, m); err != nil {
		w.logger.Error("analyze job failed", "job_id", m.JobID, "error", err)
		if failErr := w.deps.Jobs.Fail(ctx, m.JobID, err.Error()); failErr != nil {
			// Nothing was recorded; leave the message for redelivery.
			return fmt.Errorf("record job failure: %w", failErr)
		}
		return nil
	}
	return nil
}

func (w *AnalyzeWorker) execute(ctx context.Context, m AnalyzeMessage) error {
	jm := w.deps.Jobs

	if err := w.stage(ctx, m.JobID, StageFetchingText); err != nil {
		return err
	}
	novel, err := w.deps.Novels.Get(ctx, m.NovelID)
	if err != nil {
		return fmt.Errorf("fetch novel: %w", err)
	}
	chapters := splitChapters(novel.Text)
	if len(chapters) == 0 {
		return fmt.Errorf("novel %s has no text", novel.ID)
	}

	if err := w.stage(ctx, m.JobID, StageInitializingGenerator); err != nil {
		return err
	}
	generator, err := w.deps.Registry.Storyboard(w.deps.Generator)
	if err != nil {
		return err
	}
	schemaRaw, err := schema.StoryboardRaw()
	if err != nil {
		return err
	}

	if err := w.stage(ctx, m.JobID, StageLoadingBible); err != nil {
		return err
	}
	current, err := w.deps.Bibles.GetLatest(ctx, novel.ID)
	if err != nil {
		return fmt.Errorf("load bible: %w", err)
	}

	_ = jm.UpdateProgress(ctx, m.JobID, func(p *jobs.Progress) {
		p.TotalChapters = len(chapters)
	})

	var (
		doc        storyboardDoc
		allPanels  []*panels.Panel
		lastMerged *bible.Bible
	)
	for i, chapterText := range chapters {
		chapter := i + 1

		if err := w.stage(ctx, m.JobID, StageGenerating); err != nil {
			return err
		}
		_ = jm.UpdateProgress(ctx, m.JobID, func(p *jobs.Progress) {
			p.CurrentChapter = chapter
		})

		bibleJSON, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("serialize bible context: %w", err)
		}
		started := time.Now()
		raw, err := generator.GenerateStoryboard(ctx, providerRequest(novel.Title, chapterText, chapter, bibleJSON, schemaRaw))
		w.deps.record(ctx, metrics.Call{
			JobID:     m.JobID,
			SubjectID: novel.ID,
			Kind:      metrics.KindStoryboard,
			Provider:  w.deps.Generator,
			ItemKey:   fmt.Sprintf("chapter_%d", chapter),
			Duration:  time.Since(started),
			Success:   err == nil,
			ErrorType: errorType(err),
		})
		if err != nil {
			return fmt.Errorf("generate chapter %d: %w", chapter, err)
		}

		if err := w.stage(ctx, m.JobID, StageValidating); err != nil {
			return err
		}
		if err := schema.ValidateStoryboard(raw); err != nil {
			return fmt.Errorf("chapter %d: %w", chapter, err)
		}
		var chapterDoc storyboardDoc
		if err := json.Unmarshal(raw, &chapterDoc); err != nil {
			return fmt.Errorf("decode chapter %d storyboard: %w", chapter, err)
		}

		if err := w.stage(ctx, m.JobID, StageMergingBible); err != nil {
			return err
		}
		merged, err := w.deps.Bibles.MergeSave(ctx, novel.ID, bible.Update{
			Characters: chapterDoc.Characters,
			Scenes:     chapterDoc.Scenes,
			Chapter:    chapter,
			UpdatedBy:  "analyze:" + m.JobID,
		})
		if err != nil {
			return err
		}
		lastMerged = merged
		current = merged
		w.publishBibleChange(ctx, novel.ID, merged.Version)

		if doc.Title == "" {
			doc.Title = chapterDoc.Title
		}
		if doc.Summary == "" {
			doc.Summary = chapterDoc.Summary
		}
		for _, p := range chapterDoc.Panels {
			allPanels = append(allPanels, &panels.Panel{
				SceneID:     p.SceneID,
				Description: p.Description,
				Characters:  p.Characters,
				Dialogue:    p.Dialogue,
			})
		}
	}

	if err := w.stage(ctx, m.JobID, StageWritingPanels); err != nil {
		return err
	}
	sb := &panels.Storyboard{
		NovelID:         novel.ID,
		Title:           firstNonEmpty(doc.Title, novel.Title),
		Summary:         doc.Summary,
		TotalCharacters: len(lastMerged.Characters),
		TotalScenes:     len(lastMerged.Scenes),
	}
	if err := w.deps.Panels.CreateStoryboard(ctx, sb, allPanels); err != nil {
		return err
	}
	if err := w.deps.Novels.SetStoryboard(ctx, novel.ID, sb.ID); err != nil {
		return err
	}

	if err := w.stage(ctx, m.JobID, StageCompleted); err != nil {
		return err
	}
	return jm.Complete(ctx, m.JobID, map[string]any{
		"storyboardId": sb.ID,
		"panels":       len(allPanels),
		"bibleVersion": lastMerged.Version,
	})
}

// publishBibleChange emits a change-feed event. Best effort: a missed
// event only delays reference image backfill.
func (w *AnalyzeWorker) publishBibleChange(ctx context.Context, subjectID string, version int) {
	body, err := json.Marshal(BibleChange{SubjectID: subjectID, Version: version})
	if err != nil {
		return
	}
	if _, err := w.deps.Queue.Enqueue(ctx, queue.TopicBibleChanges, body, 0); err != nil {
		w.logger.Warn("publish bible change", "subject_id", subjectID, "error", err)
	}
}

func providerRequest(title, text string, chapter int, bibleJSON, schemaRaw json.RawMessage) providers.StoryboardRequest {
	return providers.StoryboardRequest{
		NovelTitle: title,
		Text:       text,
		Chapter:    chapter,
		Bible:      bibleJSON,
		Schema:     schemaRaw,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
