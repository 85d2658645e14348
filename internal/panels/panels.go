// Package panels persists storyboards and their panels.
package panels

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/easel/internal/store"
)

// Sentinel errors.
var (
	ErrStoryboardNotFound = errors.New("storyboard not found")
	ErrPanelNotFound      = errors.New("panel not found")
)

// Generation modes for panel images.
const (
	ModePreview = "preview"
	ModeHD      = "hd"
)

// Panel statuses.
const (
	StatusPending   = "pending"
	StatusGenerated = "generated"
	StatusFailed    = "failed"
)

// Storyboard is the generated production for one novel.
type Storyboard struct {
	ID              string    `json:"id"`
	NovelID         string    `json:"novelId"`
	Title           string    `json:"title,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	TotalPanels     int       `json:"totalPanels"`
	TotalCharacters int       `json:"totalCharacters"`
	TotalScenes     int       `json:"totalScenes"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Dialogue is one spoken line in a panel.
type Dialogue struct {
	Character string `json:"character"`
	Line      string `json:"line"`
}

// Panel is one frame of a storyboard.
type Panel struct {
	ID           string     `json:"id"`
	StoryboardID string     `json:"storyboardId"`
	Index        int        `json:"index"`
	SceneID      string     `json:"sceneId,omitempty"`
	Description  string     `json:"description,omitempty"`
	Characters   []string   `json:"characters,omitempty"`
	Dialogue     []Dialogue `json:"dialogue,omitempty"`
	Status       string     `json:"status"`
	PreviewImage string     `json:"previewImage,omitempty"`
	HDImage      string     `json:"hdImage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Image returns the stored image locator for a mode.
func (p *Panel) Image(mode string) string {
	if mode == ModeHD {
		return p.HDImage
	}
	return p.PreviewImage
}

// Store persists storyboards and panels.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a panel store on the shared database.
func NewStore(st *store.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     st.DB(),
		logger: logger.With("component", "panels"),
		now:    time.Now,
	}
}

// CreateStoryboard writes a storyboard and its panels in one transaction.
// Panels are indexed from zero in the order given; a unique index on
// (storyboard_id, idx) rejects duplicates.
func (s *Store) CreateStoryboard(ctx context.Context, sb *Storyboard, panels []*Panel) error {
	now := s.now().UTC()
	if sb.ID == "" {
		sb.ID = uuid.NewString()
	}
	if sb.Status == "" {
		sb.Status = "generated"
	}
	sb.TotalPanels = len(panels)
	sb.CreatedAt = now
	sb.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin storyboard tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO storyboards (id, novel_id, title, summary,
		                         total_panels, total_characters, total_scenes,
		                         status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sb.ID, sb.NovelID, sb.Title, sb.Summary,
		sb.TotalPanels, sb.TotalCharacters, sb.TotalScenes,
		sb.Status, store.FormatTime(now), store.FormatTime(now))
	if err != nil {
		return fmt.Errorf("insert storyboard: %w", err)
	}

	for i, p := range panels {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.StoryboardID = sb.ID
		p.Index = i
		if p.Status == "" {
			p.Status = StatusPending
		}
		p.CreatedAt = now
		p.UpdatedAt = now

		charactersJSON, err := json.Marshal(p.Characters)
		if err != nil {
			return fmt.Errorf("marshal panel characters: %w", err)
		}
		dialogueJSON, err := json.Marshal(p.Dialogue)
		if err != nil {
			return fmt.Errorf("marshal panel dialogue: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO panels (id, storyboard_id, idx, scene_id, description,
			                    characters_json, dialogue_json, status,
			                    created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.StoryboardID, p.Index, p.SceneID, p.Description,
			string(charactersJSON), string(dialogueJSON), p.Status,
			store.FormatTime(now), store.FormatTime(now))
		if err != nil {
			return fmt.Errorf("insert panel %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit storyboard: %w", err)
	}

	s.logger.Info("storyboard created", "id", sb.ID, "novel_id", sb.NovelID, "panels", len(panels))
	return nil
}

// GetStoryboard loads one storyboard.
func (s *Store) GetStoryboard(ctx context.Context, id string) (*Storyboard, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, novel_id, title, summary, total_panels, total_characters,
		       total_scenes, status, created_at, updated_at
		FROM storyboards WHERE id = ?`, id)

	var (
		sb                   Storyboard
		createdAt, updatedAt string
	)
	err := row.Scan(&sb.ID, &sb.NovelID, &sb.Title, &sb.Summary,
		&sb.TotalPanels, &sb.TotalCharacters, &sb.TotalScenes,
		&sb.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStoryboardNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan storyboard: %w", err)
	}
	sb.CreatedAt = store.ParseTime(createdAt)
	sb.UpdatedAt = store.ParseTime(updatedAt)
	return &sb, nil
}

// GetPanel loads one panel by ID.
func (s *Store) GetPanel(ctx context.Context, id string) (*Panel, error) {
	row := s.db.QueryRowContext(ctx, selectPanel+` WHERE id = ?`, id)
	p, err := scanPanel(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPanelNotFound, id)
	}
	return p, err
}

// ListPanels returns a storyboard's panels in order.
func (s *Store) ListPanels(ctx context.Context, storyboardID string) ([]*Panel, error) {
	rows, err := s.db.QueryContext(ctx, selectPanel+`
		WHERE storyboard_id = ? ORDER BY idx`, storyboardID)
	if err != nil {
		return nil, fmt.Errorf("list panels: %w", err)
	}
	defer rows.Close()

	var out []*Panel
	for rows.Next() {
		p, err := scanPanel(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetImage records a generated image locator for one mode and marks the
// panel generated.
func (s *Store) SetImage(ctx context.Context, panelID, mode, locator string) error {
	column := "preview_image"
	if mode == ModeHD {
		column = "hd_image"
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE panels SET %s = ?, status = ?, updated_at = ? WHERE id = ?`, column),
		locator, StatusGenerated, store.FormatTime(s.now().UTC()), panelID)
	if err != nil {
		return fmt.Errorf("set panel image: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrPanelNotFound, panelID)
	}
	return nil
}

// MarkFailed records that image generation for the panel gave up.
func (s *Store) MarkFailed(ctx context.Context, panelID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE panels SET status = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, store.FormatTime(s.now().UTC()), panelID)
	if err != nil {
		return fmt.Errorf("mark panel failed: %w", err)
	}
	return nil
}

const selectPanel = `
	SELECT id, storyboard_id, idx, scene_id, description,
	       characters_json, dialogue_json, status, preview_image, hd_image,
	       created_at, updated_at
	FROM panels`

func scanPanel(scan func(...any) error) (*Panel, error) {
	var (
		p                            Panel
		charactersJSON, dialogueJSON string
		createdAt, updatedAt         string
	)
	err := scan(&p.ID, &p.StoryboardID, &p.Index, &p.SceneID, &p.Description,
		&charactersJSON, &dialogueJSON, &p.Status, &p.PreviewImage, &p.HDImage,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan panel: %w", err)
	}
	if err := json.Unmarshal([]byte(charactersJSON), &p.Characters); err != nil {
		return nil, fmt.Errorf("decode panel characters: %w", err)
	}
	if err := json.Unmarshal([]byte(dialogueJSON), &p.Dialogue); err != nil {
		return nil, fmt.Errorf("decode panel dialogue: %w", err)
	}
	p.CreatedAt = store.ParseTime(createdAt)
	p.UpdatedAt = store.ParseTime(updatedAt)
	return &p, nil
}
