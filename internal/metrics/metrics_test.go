package metrics

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/easel/internal/store"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "easel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return NewRecorder(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecordAndList(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	calls := []Call{
		{JobID: "job-1", Kind: KindStoryboard, Provider: "openai", ItemKey: "chapter_1", Duration: 1200 * time.Millisecond, Success: true},
		{JobID: "job-1", Kind: KindStoryboard, Provider: "openai", ItemKey: "chapter_2", Duration: 900 * time.Millisecond, Success: true},
		{JobID: "job-2", Kind: KindImage, Provider: "openai", Mode: "preview", Success: false, ErrorType: "rate_limit"},
	}
	for _, c := range calls {
		if err := r.Record(ctx, c); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	t.Run("all", func(t *testing.T) {
		got, err := r.List(ctx, Filter{}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
	})

	t.Run("by_job", func(t *testing.T) {
		got, err := r.List(ctx, Filter{JobID: "job-1"}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		for _, c := range got {
			if c.Kind != KindStoryboard {
				t.Errorf("kind = %s, want storyboard", c.Kind)
			}
			if c.ID == "" || c.CreatedAt.IsZero() {
				t.Error("record not stamped")
			}
		}
	})

	t.Run("by_kind", func(t *testing.T) {
		got, err := r.List(ctx, Filter{Kind: KindImage}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if got[0].Success {
			t.Error("image call should be a failure")
		}
		if got[0].ErrorType != "rate_limit" {
			t.Errorf("errorType = %s, want rate_limit", got[0].ErrorType)
		}
	})
}

func TestSummarize(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	seed := []Call{
		{Kind: KindStoryboard, Provider: "openai", Duration: time.Second, Success: true},
		{Kind: KindStoryboard, Provider: "openai", Duration: time.Second, Success: false, ErrorType: "timeout"},
		{Kind: KindImage, Provider: "openai", Duration: 2 * time.Second, Success: true},
	}
	for _, c := range seed {
		if err := r.Record(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	summaries, err := r.Summarize(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len = %d, want 2 (image, storyboard)", len(summaries))
	}

	byKind := map[string]ProviderSummary{}
	for _, s := range summaries {
		byKind[s.Kind] = s
	}

	sb := byKind[KindStoryboard]
	if sb.Calls != 2 || sb.Failures != 1 {
		t.Errorf("storyboard = %+v, want 2 calls 1 failure", sb)
	}
	if sb.TotalDuration != 2*time.Second {
		t.Errorf("storyboard duration = %v, want 2s", sb.TotalDuration)
	}

	img := byKind[KindImage]
	if img.Calls != 1 || img.Failures != 0 {
		t.Errorf("image = %+v, want 1 call 0 failures", img)
	}
}
