package bible

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/jackzampolin/easel/internal/blob"
	"github.com/jackzampolin/easel/internal/store"
)

// OffloadThreshold is the serialized payload size at which character and
// scene data moves out of the row and into the blob store.
const OffloadThreshold = 400 * 1024

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100

	// Concurrent writers retry the read-merge-persist loop on version
	// conflicts. Conflicts resolve fast, so the delay stays small.
	persistAttempts = 5
	persistDelay    = 25 * time.Millisecond
)

// Update carries one chapter's worth of extracted continuity data.
type Update struct {
	Characters []Character
	Scenes     []Scene
	Chapter    int
	UpdatedBy  string
}

// CharacterPatch replaces whole fields on a character. Nil fields are left
// alone; set fields replace, they do not merge.
type CharacterPatch struct {
	Role        *string
	Appearance  *Appearance
	Personality *[]string
}

// ScenePatch replaces whole fields on a scene.
type ScenePatch struct {
	Name                  *string
	Type                  *string
	Description           *string
	VisualCharacteristics *VisualTraits
	SpatialLayout         *SpatialLayout
	TimeVariations        *[]TimeVariation
	WeatherVariations     *[]WeatherVariation
}

// Store persists versioned bibles. Every write creates a new immutable
// version row; large payloads are offloaded to the blob store.
type Store struct {
	db     *sql.DB
	blobs  *blob.Store
	logger *slog.Logger

	offloadThreshold int
	now              func() time.Time
}

// NewStore builds a bible store on the shared database and blob store.
func NewStore(st *store.Store, blobs *blob.Store, logger *slog.Logger) *Store {
	return &Store{
		db:               st.DB(),
		blobs:            blobs,
		logger:           logger.With("component", "bible"),
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

// payload is the offloadable portion of a bible version.
type payload struct {
	SubjectID  string      `json:"subjectId"`
	Version    int         `json:"version"`
	Characters []Character `json:"characters"`
	Scenes     []Scene     `json:"scenes"`
}

// GetLatest returns the newest version for the subject. Subjects with no
// bible yet get an empty version 0 with Exists false, never an error.
func (s *Store) GetLatest(ctx context.Context, subjectID string) (*Bible, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT subject_id, version, characters_json, scenes_json,
		       created_at, updated_at, updated_by,
		       last_chapter, total_characters, total_scenes, storage_location
		FROM bibles WHERE subject_id = ?
		ORDER BY updated_at DESC, version DESC LIMIT 1`, subjectID)

	b, err := s.scanBible(row)
	if errors.Is(err, sql.ErrNoRows) {
		return emptyBible(subjectID), nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetVersion returns one specific version of the subject's bible.
func (s *Store) GetVersion(ctx context.Context, subjectID string, version int) (*Bible, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT subject_id, version, characters_json, scenes_json,
		       created_at, updated_at, updated_by,
		       last_chapter, total_characters, total_scenes, storage_location
		FROM bibles WHERE subject_id = ? AND version = ?`, subjectID, version)

	b, err := s.scanBible(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s version %d", ErrBibleNotFound, subjectID, version)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListHistory returns version metadata for the subject, newest first.
func (s *Store) ListHistory(ctx context.Context, subjectID string, limit int) ([]VersionInfo, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, updated_at, updated_by,
		       last_chapter, total_characters, total_scenes, storage_location
		FROM bibles WHERE subject_id = ?
		ORDER BY version DESC LIMIT ?`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bible history: %w", err)
	}
	defer rows.Close()

	history := make([]VersionInfo, 0, limit)
	for rows.Next() {
		var (
			info      VersionInfo
			updatedAt string
			location  sql.NullString
		)
		if err := rows.Scan(&info.Version, &updatedAt, &info.UpdatedBy,
			&info.LastChapter, &info.TotalCharacters, &info.TotalScenes, &location); err != nil {
			return nil, fmt.Errorf("scan bible history: %w", err)
		}
		info.UpdatedAt = store.ParseTime(updatedAt)
		info.StorageLocation = location.String
		history = append(history, info)
	}
	return history, rows.Err()
}

// MergeSave merges one chapter's extracted data into the subject's bible and
// persists the result as a new version. Concurrent writers are serialized by
// a compare-and-swap on the version number: whoever loses the insert re-reads
// the winner's version and merges again, so no writer's data is lost.
func (s *Store) MergeSave(ctx context.Context, subjectID string, update Update) (*Bible, error) {
	var merged *Bible
	err := retry.Do(func() error {
		current, err := s.GetLatest(ctx, subjectID)
		if err != nil {
			return retry.Unrecoverable(err)
		}

		next := &Bible{
			SubjectID:  subjectID,
			Version:    current.Version + 1,
			Exists:     true,
			Characters: MergeCharacters(current.Characters, update.Characters, update.Chapter),
			Scenes:     MergeScenes(current.Scenes, update.Scenes, update.Chapter),
			Metadata: Metadata{
				CreatedAt:   current.Metadata.CreatedAt,
				UpdatedBy:   update.UpdatedBy,
				LastChapter: current.Metadata.LastChapter,
			},
		}
		if update.Chapter > next.Metadata.LastChapter {
			next.Metadata.LastChapter = update.Chapter
		}

		if err := s.persist(ctx, next); err != nil {
			return err
		}
		merged = next
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(persistAttempts),
		retry.Delay(persistDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrVersionConflict) }),
	)
	if err != nil {
		return nil, fmt.Errorf("merge bible %s: %w", subjectID, err)
	}

	s.logger.Debug("bible merged",
		"subject_id", subjectID,
		"version", merged.Version,
		"chapter", update.Chapter,
		"characters", len(merged.Characters),
		"scenes", len(merged.Scenes))
	return merged, nil
}

// UpdateCharacter applies a whole-field patch to one character and persists
// a new version. The character is located by ID, falling back to name.
func (s *Store) UpdateCharacter(ctx context.Context, subjectID, characterID string, patch CharacterPatch, updatedBy string) (*Bible, error) {
	return s.mutate(ctx, subjectID, func(b *Bible) error {
		c := findCharacter(b.Characters, characterID)
		if c == nil {
			return fmt.Errorf("%w: %s", ErrCharacterNotFound, characterID)
		}
		if patch.Role != nil {
			c.Role = *patch.Role
		}
		if patch.Appearance != nil {
			c.Appearance = *patch.Appearance
		}
		if patch.Personality != nil {
			c.Personality = *patch.Personality
		}
		c.UpdatedAt = s.now().UTC()
		c.UpdatedBy = updatedBy
		b.Metadata.UpdatedBy = updatedBy
		return nil
	})
}

// UpdateScene applies a whole-field patch to one scene and persists a new
// version.
func (s *Store) UpdateScene(ctx context.Context, subjectID, sceneID string, patch ScenePatch, updatedBy string) (*Bible, error) {
	return s.mutate(ctx, subjectID, func(b *Bible) error {
		sc := findScene(b.Scenes, sceneID)
		if sc == nil {
			return fmt.Errorf("%w: %s", ErrSceneNotFound, sceneID)
		}
		if patch.Name != nil {
			sc.Name = *patch.Name
		}
		if patch.Type != nil {
			sc.Type = *patch.Type
		}
		if patch.Description != nil {
			sc.Description = *patch.Description
		}
		if patch.VisualCharacteristics != nil {
			sc.VisualCharacteristics = *patch.VisualCharacteristics
		}
		if patch.SpatialLayout != nil {
			sc.SpatialLayout = *patch.SpatialLayout
		}
		if patch.TimeVariations != nil {
			sc.TimeVariations = *patch.TimeVariations
		}
		if patch.WeatherVariations != nil {
			sc.WeatherVariations = *patch.WeatherVariations
		}
		sc.UpdatedAt = s.now().UTC()
		sc.UpdatedBy = updatedBy
		b.Metadata.UpdatedBy = updatedBy
		return nil
	})
}

// AppendCharacterImage adds a reference image to a character.
func (s *Store) AppendCharacterImage(ctx context.Context, subjectID, characterID string, img ReferenceImage) (*Bible, error) {
	if !img.Valid() {
		return nil, ErrInvalidImage
	}
	return s.mutate(ctx, subjectID, func(b *Bible) error {
		c := findCharacter(b.Characters, characterID)
		if c == nil {
			return fmt.Errorf("%w: %s", ErrCharacterNotFound, characterID)
		}
		c.ReferenceImages = MergeReferenceImages(c.ReferenceImages, []ReferenceImage{s.stampImage(img)})
		b.Metadata.UpdatedBy = img.UploadedBy
		return nil
	})
}

// AppendSceneImage adds a reference image to a scene.
func (s *Store) AppendSceneImage(ctx context.Context, subjectID, sceneID string, img ReferenceImage) (*Bible, error) {
	if !img.Valid() {
		return nil, ErrInvalidImage
	}
	return s.mutate(ctx, subjectID, func(b *Bible) error {
		sc := findScene(b.Scenes, sceneID)
		if sc == nil {
			return fmt.Errorf("%w: %s", ErrSceneNotFound, sceneID)
		}
		sc.ReferenceImages = MergeReferenceImages(sc.ReferenceImages, []ReferenceImage{s.stampImage(img)})
		b.Metadata.UpdatedBy = img.UploadedBy
		return nil
	})
}

// mutate re-reads the latest bible, applies fn, and persists the result as a
// new version under the same compare-and-swap loop MergeSave uses. Mutating
// a subject with no bible yet fails with ErrBibleNotFound.
func (s *Store) mutate(ctx context.Context, subjectID string, fn func(*Bible) error) (*Bible, error) {
	var result *Bible
	err := retry.Do(func() error {
		current, err := s.GetLatest(ctx, subjectID)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		if !current.Exists {
			return retry.Unrecoverable(fmt.Errorf("%w: %s", ErrBibleNotFound, subjectID))
		}

		current.Version++
		if err := fn(current); err != nil {
			return retry.Unrecoverable(err)
		}
		if err := s.persist(ctx, current); err != nil {
			return err
		}
		result = current
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(persistAttempts),
		retry.Delay(persistDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrVersionConflict) }),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// persist writes one bible version. The primary key on (subject_id, version)
// rejects a second writer at the same version; that surfaces as
// ErrVersionConflict so callers can re-read and merge again.
func (s *Store) persist(ctx context.Context, b *Bible) error {
	now := s.now().UTC()
	if b.Metadata.CreatedAt.IsZero() {
		b.Metadata.CreatedAt = now
	}
	b.Metadata.UpdatedAt = now
	b.Metadata.TotalCharacters = len(b.Characters)
	b.Metadata.TotalScenes = len(b.Scenes)
	b.Metadata.StorageLocation = ""

	doc := payload{
		SubjectID:  b.SubjectID,
		Version:    b.Version,
		Characters: b.Characters,
		Scenes:     b.Scenes,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("marshal bible payload: %w", err))
	}

	charactersJSON, scenesJSON := "[]", "[]"
	var location sql.NullString
	if len(raw) >= s.offloadThreshold {
		key := fmt.Sprintf("bibles/%s/v%d.json", b.SubjectID, b.Version)
		locator, err := s.blobs.Put(key, raw)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("offload bible payload: %w", err))
		}
		location = sql.NullString{String: locator, Valid: true}
		b.Metadata.StorageLocation = locator
		s.logger.Debug("bible payload offloaded",
			"subject_id", b.SubjectID, "version", b.Version, "bytes", len(raw))
	} else {
		chars, err := json.Marshal(doc.Characters)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("marshal characters: %w", err))
		}
		scenes, err := json.Marshal(doc.Scenes)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("marshal scenes: %w", err))
		}
		charactersJSON, scenesJSON = string(chars), string(scenes)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bibles (subject_id, version, characters_json, scenes_json,
		                    created_at, updated_at, updated_by,
		                    last_chapter, total_characters, total_scenes, storage_location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.SubjectID, b.Version, charactersJSON, scenesJSON,
		store.FormatTime(b.Metadata.CreatedAt), store.FormatTime(b.Metadata.UpdatedAt), b.Metadata.UpdatedBy,
		b.Metadata.LastChapter, b.Metadata.TotalCharacters, b.Metadata.TotalScenes, location)
	if err != nil {
		if store.IsConstraint(err) {
			if location.Valid {
				_ = s.blobs.Delete(location.String)
			}
			return fmt.Errorf("%w: %s version %d", ErrVersionConflict, b.SubjectID, b.Version)
		}
		return retry.Unrecoverable(fmt.Errorf("insert bible version: %w", err))
	}
	return nil
}

func (s *Store) scanBible(row *sql.Row) (*Bible, error) {
	var (
		b                    Bible
		charactersJSON       string
		scenesJSON           string
		createdAt, updatedAt string
		location             sql.NullString
	)
	err := row.Scan(&b.SubjectID, &b.Version, &charactersJSON, &scenesJSON,
		&createdAt, &updatedAt, &b.Metadata.UpdatedBy,
		&b.Metadata.LastChapter, &b.Metadata.TotalCharacters, &b.Metadata.TotalScenes, &location)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan bible: %w", err)
	}

	b.Exists = true
	b.Metadata.CreatedAt = store.ParseTime(createdAt)
	b.Metadata.UpdatedAt = store.ParseTime(updatedAt)
	b.Metadata.StorageLocation = location.String

	if location.Valid && location.String != "" {
		raw, err := s.blobs.Get(location.String)
		if err != nil {
			return nil, fmt.Errorf("fetch offloaded bible %s: %w", location.String, err)
		}
		var doc payload
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode offloaded bible %s: %w", location.String, err)
		}
		b.Characters = doc.Characters
		b.Scenes = doc.Scenes
	} else {
		if err := json.Unmarshal([]byte(charactersJSON), &b.Characters); err != nil {
			return nil, fmt.Errorf("decode bible characters: %w", err)
		}
		if err := json.Unmarshal([]byte(scenesJSON), &b.Scenes); err != nil {
			return nil, fmt.Errorf("decode bible scenes: %w", err)
		}
	}
	if b.Characters == nil {
		b.Characters = []Character{}
	}
	if b.Scenes == nil {
		b.Scenes = []Scene{}
	}
	return &b, nil
}

func (s *Store) stampImage(img ReferenceImage) ReferenceImage {
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.UploadedAt.IsZero() {
		img.UploadedAt = s.now().UTC()
	}
	return img
}

func emptyBible(subjectID string) *Bible {
	return &Bible{
		SubjectID:  subjectID,
		Version:    0,
		Exists:     false,
		Characters: []Character{},
		Scenes:     []Scene{},
	}
}

func findCharacter(characters []Character, id string) *Character {
	for i := range characters {
		if characters[i].ID == id {
			return &characters[i]
		}
	}
	for i := range characters {
		if strings.EqualFold(characters[i].Name, id) {
			return &characters[i]
		}
	}
	return nil
}

func findScene(scenes []Scene, id string) *Scene {
	for i := range scenes {
		if scenes[i].ID == id {
			return &scenes[i]
		}
	}
	return nil
}
