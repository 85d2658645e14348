// Package providers wraps the generation capability behind narrow
// interfaces. The pipeline only sees opaque generators: a storyboard
// generator that turns text plus continuity context into a JSON document,
// and an image generator that turns a prompt into bytes.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrProviderNotFound is returned when a named generator is not registered.
var ErrProviderNotFound = errors.New("provider not found")

// StoryboardRequest asks for one chapter's storyboard extraction.
type StoryboardRequest struct {
	// NovelTitle and Text are the material to storyboard.
	NovelTitle string
	Text       string

	// Chapter is the 1-based chapter being analyzed.
	Chapter int

	// Bible is the current continuity document, serialized, so the
	// generator keeps recurring characters and scenes consistent.
	Bible json.RawMessage

	// Schema constrains the response shape.
	Schema json.RawMessage
}

// StoryboardGenerator produces a raw storyboard document. Output is
// validated by the caller; generators never guarantee schema conformance.
type StoryboardGenerator interface {
	Name() string
	GenerateStoryboard(ctx context.Context, req StoryboardRequest) (json.RawMessage, error)
}

// ImageRequest asks for one panel image.
type ImageRequest struct {
	Prompt string
	// Mode selects quality: panels.ModePreview or panels.ModeHD.
	Mode string
}

// ImageResult is generated image bytes plus their mime type.
type ImageResult struct {
	Data []byte
	MIME string
}

// ImageGenerator produces panel images.
type ImageGenerator interface {
	Name() string
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// RateLimitError indicates the provider asked us to back off.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimit reports whether err is a provider rate limit.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
