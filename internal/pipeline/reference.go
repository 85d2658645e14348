package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/easel/internal/bible"
	"github.com/jackzampolin/easel/internal/metrics"
	"github.com/jackzampolin/easel/internal/providers"
	"github.com/jackzampolin/easel/internal/queue"
)

// ReferenceWorker consumes the bible change feed and backfills character
// reference images. Re-running a change is harmless: the blob key is
// derived from the character, so the append dedupes.
type ReferenceWorker struct {
	deps   Deps
	logger *slog.Logger
}

// NewReferenceWorker builds the worker.
func NewReferenceWorker(deps Deps) *ReferenceWorker {
	return &ReferenceWorker{
		deps:   deps,
		logger: deps.logger().With("worker", "reference"),
	}
}

// Process handles one change event. Failures on individual characters
// are logged and skipped; the next change for the subject retries them.
func (w *ReferenceWorker) Process(ctx context.Context, msg queue.Message) error {
	var change BibleChange
	if err := json.Unmarshal(msg.Body, &change); err != nil {
		w.logger.Warn("dropping malformed bible change", "id", msg.ID, "error", err)
		return nil
	}

	// Always read the latest. The change's version is a lower bound:
	// the feed is at-least-once and a newer merge may have landed.
	b, err := w.deps.Bibles.GetLatest(ctx, change.SubjectID)
	if err != nil {
		return err
	}
	if !b.Exists {
		w.logger.Warn("bible change for missing subject", "subject_id", change.SubjectID)
		return nil
	}

	generator, err := w.deps.Registry.Image(w.deps.Generator)
	if err != nil {
		if errors.Is(err, providers.ErrProviderNotFound) {
			w.logger.Warn("no image generator configured, skipping references")
			return nil
		}
		return err
	}

	for _, c := range b.Characters {
		if len(c.ReferenceImages) > 0 || c.ID == "" {
			continue
		}
		if err := w.backfill(ctx, generator, change.SubjectID, c); err != nil {
			w.logger.Warn("reference image backfill failed",
				"subject_id", change.SubjectID, "character", c.Name, "error", err)
		}
	}
	return nil
}

func (w *ReferenceWorker) backfill(ctx context.Context, generator providers.ImageGenerator, subjectID string, c bible.Character) error {
	started := time.Now()
	result, err := generator.GenerateImage(ctx, providers.ImageRequest{
		Prompt: characterPrompt(c),
		Mode:   "preview",
	})
	w.deps.record(ctx, metrics.Call{
		SubjectID: subjectID,
		Kind:      metrics.KindImage,
		Provider:  w.deps.Generator,
		Mode:      "preview",
		ItemKey:   c.ID,
		Duration:  time.Since(started),
		Success:   err == nil,
		ErrorType: errorType(err),
	})
	if err != nil {
		return err
	}

	key := fmt.Sprintf("references/%s/%s.png", subjectID, c.ID)
	locator, err := w.deps.Blobs.Put(key, result.Data)
	if err != nil {
		return err
	}

	_, err = w.deps.Bibles.AppendCharacterImage(ctx, subjectID, c.ID, bible.ReferenceImage{
		StorageLocation: locator,
		Source:          "auto",
		Label:           "reference portrait",
		UploadedBy:      "reference-worker",
	})
	if errors.Is(err, bible.ErrCharacterNotFound) {
		// Character was renamed or removed between read and write.
		return nil
	}
	return err
}

// characterPrompt renders a character's bible entry into a portrait prompt.
func characterPrompt(c bible.Character) string {
	var sb strings.Builder
	sb.WriteString("Full-body character reference portrait of ")
	sb.WriteString(c.Name)
	sb.WriteString(".")
	if c.Role != "" {
		sb.WriteString(" Role: ")
		sb.WriteString(c.Role)
		sb.WriteString(".")
	}
	if raw, err := json.Marshal(c.Appearance); err == nil && string(raw) != "{}" {
		sb.WriteString("\nAppearance: ")
		sb.Write(raw)
	}
	if len(c.Personality) > 0 {
		sb.WriteString("\nPersonality: ")
		sb.WriteString(strings.Join(c.Personality, ", "))
	}
	return sb.String()
}
