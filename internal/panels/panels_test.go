package panels

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/easel/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "easel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return NewStore(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedStoryboard(t *testing.T, s *Store) (*Storyboard, []*Panel) {
	t.Helper()

	sb := &Storyboard{NovelID: "novel-1", Title: "The Gilded Goose"}
	panels := []*Panel{
		{SceneID: "tavern", Description: "Aria enters the tavern", Characters: []string{"Aria"}},
		{SceneID: "tavern", Description: "Brom pours a drink", Dialogue: []Dialogue{
			{Character: "Brom", Line: "What'll it be?"},
		}},
	}
	if err := s.CreateStoryboard(context.Background(), sb, panels); err != nil {
		t.Fatalf("create storyboard: %v", err)
	}
	return sb, panels
}

func TestCreateAndListStoryboard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sb, _ := seedStoryboard(t, s)

	got, err := s.GetStoryboard(ctx, sb.ID)
	if err != nil {
		t.Fatalf("get storyboard: %v", err)
	}
	if got.TotalPanels != 2 {
		t.Errorf("totalPanels = %d, want 2", got.TotalPanels)
	}

	listed, err := s.ListPanels(ctx, sb.ID)
	if err != nil {
		t.Fatalf("list panels: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("panels = %d, want 2", len(listed))
	}
	if listed[0].Index != 0 || listed[1].Index != 1 {
		t.Errorf("panel order wrong: %d, %d", listed[0].Index, listed[1].Index)
	}
	if listed[1].Dialogue[0].Line != "What'll it be?" {
		t.Errorf("dialogue lost: %+v", listed[1].Dialogue)
	}
	if listed[0].Status != StatusPending {
		t.Errorf("initial status = %s", listed[0].Status)
	}
}

func TestSetImage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, panels := seedStoryboard(t, s)

	if err := s.SetImage(ctx, panels[0].ID, ModePreview, "blob://panels/p0-preview.png"); err != nil {
		t.Fatalf("set preview: %v", err)
	}
	if err := s.SetImage(ctx, panels[0].ID, ModeHD, "blob://panels/p0-hd.png"); err != nil {
		t.Fatalf("set hd: %v", err)
	}

	p, err := s.GetPanel(ctx, panels[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Image(ModePreview) != "blob://panels/p0-preview.png" {
		t.Errorf("preview image = %q", p.PreviewImage)
	}
	if p.Image(ModeHD) != "blob://panels/p0-hd.png" {
		t.Errorf("hd image = %q", p.HDImage)
	}
	if p.Status != StatusGenerated {
		t.Errorf("status = %s", p.Status)
	}

	if err := s.SetImage(ctx, "missing", ModePreview, "x"); !errors.Is(err, ErrPanelNotFound) {
		t.Errorf("err = %v, want ErrPanelNotFound", err)
	}
}

func TestMarkFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, panels := seedStoryboard(t, s)

	if err := s.MarkFailed(ctx, panels[1].ID); err != nil {
		t.Fatal(err)
	}
	p, err := s.GetPanel(ctx, panels[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != StatusFailed {
		t.Errorf("status = %s", p.Status)
	}
}

func TestGetStoryboardNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetStoryboard(context.Background(), "missing")
	if !errors.Is(err, ErrStoryboardNotFound) {
		t.Errorf("err = %v, want ErrStoryboardNotFound", err)
	}
}
