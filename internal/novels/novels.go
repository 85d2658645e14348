// Package novels persists uploaded novel texts. Large texts are offloaded
// to the blob store the same way large bibles are.
package novels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/easel/internal/blob"
	"github.com/jackzampolin/easel/internal/store"
)

// ErrNovelNotFound is returned for unknown novel IDs.
var ErrNovelNotFound = errors.New("novel not found")

// OffloadThreshold is the text size at which the body moves to the blob
// store instead of living in the row.
const OffloadThreshold = 400 * 1024

// Novel is one uploaded book.
type Novel struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Author       string    `json:"author,omitempty"`
	Text         string    `json:"-"`
	TextLocation string    `json:"textLocation,omitempty"`
	StoryboardID string    `json:"storyboardId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists novels.
type Store struct {
	db     *sql.DB
	blobs  *blob.Store
	logger *slog.Logger

	offloadThreshold int
	now              func() time.Time
}

// NewStore creates a novel store on the shared database and blob store.
func NewStore(st *store.Store, blobs *blob.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:               st.DB(),
		blobs:            blobs,
		logger:           logger.With("component", "novels"),
		offloadThreshold: OffloadThreshold,
		now:              time.Now,
	}
}

// SetOffloadThreshold overrides the blob offload threshold. Non-positive
// values keep the default.
func (s *Store) SetOffloadThreshold(bytes int) {
	if bytes > 0 {
		s.offloadThreshold = bytes
	}
}

// Create stores a new novel and returns it with its generated ID.
func (s *Store) Create(ctx context.Context, title, author, text, userID string) (*Novel, error) {
	now := s.now().UTC()
	n := &Novel{
		ID:        uuid.NewString(),
		Title:     title,
		Author:    author,
		Text:      text,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	inline := text
	var location sql.NullString
	if len(text) >= s.offloadThreshold {
		locator, err := s.blobs.Put(fmt.Sprintf("novels/%s/text.txt", n.ID), []byte(text))
		if err != nil {
			return nil, fmt.Errorf("offload novel text: %w", err)
		}
		location = sql.NullString{String: locator, Valid: true}
		n.TextLocation = locator
		inline = ""
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO novels (id, title, author, text, text_location, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Author, inline, location, n.UserID,
		store.FormatTime(n.CreatedAt), store.FormatTime(n.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("create novel: %w", err)
	}

	s.logger.Info("novel created", "id", n.ID, "title", n.Title, "bytes", len(text))
	return n, nil
}

// Get loads a novel including its text, wherever it lives.
func (s *Store) Get(ctx context.Context, id string) (*Novel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, author, text, text_location, storyboard_id, user_id,
		       created_at, updated_at
		FROM novels WHERE id = ?`, id)

	var (
		n                    Novel
		location             sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&n.ID, &n.Title, &n.Author, &n.Text, &location,
		&n.StoryboardID, &n.UserID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNovelNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan novel: %w", err)
	}

	n.CreatedAt = store.ParseTime(createdAt)
	n.UpdatedAt = store.ParseTime(updatedAt)
	if location.Valid && location.String != "" {
		n.TextLocation = location.String
		raw, err := s.blobs.Get(location.String)
		if err != nil {
			return nil, fmt.Errorf("fetch novel text %s: %w", location.String, err)
		}
		n.Text = string(raw)
	}
	return &n, nil
}

// SetStoryboard links the novel to its generated storyboard.
func (s *Store) SetStoryboard(ctx context.Context, novelID, storyboardID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE novels SET storyboard_id = ?, updated_at = ? WHERE id = ?`,
		storyboardID, store.FormatTime(s.now().UTC()), novelID)
	if err != nil {
		return fmt.Errorf("link novel storyboard: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrNovelNotFound, novelID)
	}
	return nil
}

// List returns novels newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Novel, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, author, storyboard_id, user_id, created_at, updated_at
		FROM novels ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list novels: %w", err)
	}
	defer rows.Close()

	var out []*Novel
	for rows.Next() {
		var (
			n                    Novel
			createdAt, updatedAt string
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Author, &n.StoryboardID,
			&n.UserID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan novel: %w", err)
		}
		n.CreatedAt = store.ParseTime(createdAt)
		n.UpdatedAt = store.ParseTime(updatedAt)
		out = append(out, &n)
	}
	return out, rows.Err()
}
