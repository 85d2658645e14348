package novels

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/easel/internal/blob"
	"github.com/jackzampolin/easel/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "easel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := blob.NewStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	return NewStore(st, blobs, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Create(ctx, "The Gilded Goose", "A. Writer", "Chapter 1. It began...", "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.TextLocation != "" {
		t.Errorf("small text offloaded to %q", n.TextLocation)
	}

	got, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "The Gilded Goose" || got.Text != "Chapter 1. It began..." {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLargeTextOffloads(t *testing.T) {
	s := newTestStore(t)
	s.SetOffloadThreshold(64)
	ctx := context.Background()

	text := strings.Repeat("and so the story went on ", 16)
	n, err := s.Create(ctx, "Long Novel", "", text, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(n.TextLocation, blob.Scheme) {
		t.Fatalf("large text not offloaded: %q", n.TextLocation)
	}

	got, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != text {
		t.Error("offloaded text differs on read")
	}
}

func TestSetStoryboard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Create(ctx, "Novel", "", "text", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetStoryboard(ctx, n.ID, "sb-1"); err != nil {
		t.Fatalf("set storyboard: %v", err)
	}

	got, _ := s.Get(ctx, n.ID)
	if got.StoryboardID != "sb-1" {
		t.Errorf("storyboardId = %q", got.StoryboardID)
	}

	if err := s.SetStoryboard(ctx, "missing", "sb-1"); !errors.Is(err, ErrNovelNotFound) {
		t.Errorf("err = %v, want ErrNovelNotFound", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNovelNotFound) {
		t.Errorf("err = %v, want ErrNovelNotFound", err)
	}
}
