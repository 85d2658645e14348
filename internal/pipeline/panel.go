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
	"github.com/jackzampolin/easel/internal/tasks"
)

// PanelWorker consumes the panels topic. Each message is one panel image
// to render. Ownership is the task row, not the message: a redelivered
// message whose task is already in flight or finished drops quietly.
type PanelWorker struct {
	deps   Deps
	logger *slog.Logger
}

// NewPanelWorker builds the worker.
func NewPanelWorker(deps Deps) *PanelWorker {
	return &PanelWorker{
		deps:   deps,
		logger: deps.logger().With("worker", "panel"),
	}
}

// Process handles one panel message. Errors from the generator are
// charged against the task's retry budget; only store errors that keep
// us from recording an outcome propagate for redelivery.
func (w *PanelWorker) Process(ctx context.Context, msg queue.Message) error {
	var m PanelMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		w.logger.Warn("dropping malformed panel message", "id", msg.ID, "error", err)
		return nil
	}
	key := tasks.Key{JobID: m.JobID, PanelID: m.PanelID, Mode: m.Mode}

	// Flip a queued panels job to running. The result is ignored: every
	// panel message of the job races for this and only one wins, which
	// is fine because task claims gate the actual work.
	if _, err := w.deps.Jobs.TryClaim(ctx, m.JobID); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			w.logger.Warn("dropping panel message for unknown job", "job_id", m.JobID)
			return nil
		}
		return err
	}

	claimed, err := w.deps.Tasks.Claim(ctx, key)
	if err != nil {
		return err
	}
	if !claimed {
		w.logger.Debug("panel task claim lost, dropping message",
			"job_id", m.JobID, "panel_id", m.PanelID, "mode", m.Mode)
		return nil
	}

	if genErr := w.render(ctx, m); genErr != nil {
		return w.fail(ctx, m, key, genErr)
	}

	if err := w.deps.Tasks.MarkCompleted(ctx, key); err != nil {
		return err
	}
	_ = w.deps.Jobs.UpdateProgress(ctx, m.JobID, func(p *jobs.Progress) {
		p.PanelsDone++
		p.RecalcPanelPercentage()
	})
	return w.finishIfDone(ctx, m)
}

// render generates the image, stores it, and records the locator.
func (w *PanelWorker) render(ctx context.Context, m PanelMessage) error {
	panel, err := w.deps.Panels.GetPanel(ctx, m.PanelID)
	if err != nil {
		return err
	}
	generator, err := w.deps.Registry.Image(w.deps.Generator)
	if err != nil {
		return err
	}

	prompt := panelPrompt(panel)
	if m.Instruction != "" {
		prompt += "\nApply this change: " + m.Instruction
	}

	started := time.Now()
	result, err := generator.GenerateImage(ctx, providers.ImageRequest{
		Prompt: prompt,
		Mode:   m.Mode,
	})
	w.deps.record(ctx, metrics.Call{
		JobID:     m.JobID,
		SubjectID: m.StoryboardID,
		Kind:      metrics.KindImage,
		Provider:  w.deps.Generator,
		Mode:      m.Mode,
		ItemKey:   m.PanelID,
		Duration:  time.Since(started),
		Success:   err == nil,
		ErrorType: errorType(err),
	})
	if err != nil {
		return fmt.Errorf("generate image: %w", err)
	}

	key := fmt.Sprintf("panels/%s/%s-%s.png", m.StoryboardID, m.PanelID, m.Mode)
	locator, err := w.deps.Blobs.Put(key, result.Data)
	if err != nil {
		return fmt.Errorf("store image: %w", err)
	}
	if err := w.deps.Panels.SetImage(ctx, m.PanelID, m.Mode, locator); err != nil {
		return err
	}
	w.attachSceneReference(ctx, panel, locator)
	return nil
}

// attachSceneReference records the generated image on the panel's scene
// so later generations can reuse it for visual continuity. Best effort.
func (w *PanelWorker) attachSceneReference(ctx context.Context, panel *panels.Panel, locator string) {
	if panel.SceneID == "" {
		return
	}
	sb, err := w.deps.Panels.GetStoryboard(ctx, panel.StoryboardID)
	if err != nil {
		return
	}
	_, err = w.deps.Bibles.AppendSceneImage(ctx, sb.NovelID, panel.SceneID, bible.ReferenceImage{
		StorageLocation: locator,
		Source:          "auto",
		Label:           fmt.Sprintf("panel %d", panel.Index+1),
		UploadedBy:      "panel-worker",
	})
	if err != nil && !errors.Is(err, bible.ErrSceneNotFound) && !errors.Is(err, bible.ErrBibleNotFound) {
		w.logger.Warn("attach scene reference image", "scene_id", panel.SceneID, "error", err)
	}
}

// fail charges the error to the task's retry budget. Retryable tasks go
// back on the queue after an exponential delay; exhausted tasks mark the
// panel failed and count toward job completion.
func (w *PanelWorker) fail(ctx context.Context, m PanelMessage, key tasks.Key, genErr error) error {
	w.logger.Warn("panel generation failed",
		"job_id", m.JobID, "panel_id", m.PanelID, "mode", m.Mode, "error", genErr)

	task, err := w.deps.Tasks.MarkFailed(ctx, key, genErr.Error())
	if err != nil {
		return err
	}

	if task.Retryable() {
		if err := w.deps.Tasks.Requeue(ctx, key); err != nil {
			return err
		}
		body, err := json.Marshal(m)
		if err != nil {
			return err
		}
		delay := tasks.Backoff(task.RetryCount)
		if _, err := w.deps.Queue.Enqueue(ctx, queue.TopicPanels, body, delay); err != nil {
			return err
		}
		w.logger.Info("panel task requeued",
			"panel_id", m.PanelID, "attempt", task.RetryCount, "delay", delay)
		return nil
	}

	if err := w.deps.Panels.MarkFailed(ctx, m.PanelID); err != nil {
		return err
	}
	_ = w.deps.Jobs.UpdateProgress(ctx, m.JobID, func(p *jobs.Progress) {
		p.PanelsFailed++
		p.RecalcPanelPercentage()
	})
	return w.finishIfDone(ctx, m)
}

// finishIfDone closes the job once every task has reached a terminal
// state. Racing finishers are harmless: Complete and Fail both guard on
// the job's current status.
func (w *PanelWorker) finishIfDone(ctx context.Context, m PanelMessage) error {
	summary, err := w.deps.Tasks.Summarize(ctx, m.JobID, m.Mode)
	if err != nil {
		return err
	}
	if !summary.Done() {
		return nil
	}
	if summary.Failed > 0 {
		msg := fmt.Sprintf("%d of %d panels failed", summary.Failed, summary.Total())
		if err := w.deps.Jobs.Fail(ctx, m.JobID, msg); err != nil {
			return err
		}
		return nil
	}
	return w.completeJob(ctx, m, summary)
}

func (w *PanelWorker) completeJob(ctx context.Context, m PanelMessage, summary tasks.Summary) error {
	err := w.deps.Jobs.Complete(ctx, m.JobID, map[string]any{
		"storyboardId": m.StoryboardID,
		"mode":         m.Mode,
		"panels":       summary.Completed,
	})
	if err != nil {
		// Another finisher got there first.
		w.logger.Debug("panels job already closed", "job_id", m.JobID, "error", err)
		return nil
	}
	w.logger.Info("panels job completed",
		"job_id", m.JobID, "storyboard_id", m.StoryboardID, "panels", summary.Completed)
	return nil
}

// panelPrompt renders a panel record into an image prompt.
func panelPrompt(p *panels.Panel) string {
	prompt := p.Description
	if len(p.Characters) > 0 {
		prompt += "\nCharacters present:"
		for _, c := range p.Characters {
			prompt += " " + c + ";"
		}
	}
	for _, d := range p.Dialogue {
		prompt += fmt.Sprintf("\n%s says: %q", d.Character, d.Line)
	}
	return prompt
}
