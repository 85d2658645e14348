// Package bible implements the continuity store: a versioned, mergeable
// document per subject (novel) tracking recurring characters and scenes
// across chapters.
//
// Every write produces a new immutable version. Merges preserve established
// continuity: scalar traits are first-write-wins, array traits union, and a
// character's first appearance never changes once recorded. Oversized
// documents are offloaded to blob storage with only a locator kept in the
// primary record.
package bible

import (
	"errors"
	"time"
)

// Sentinel errors. Callers map these to distinct missing-resource responses.
var (
	ErrBibleNotFound     = errors.New("bible not found")
	ErrCharacterNotFound = errors.New("character not found")
	ErrSceneNotFound     = errors.New("scene not found")

	// ErrInvalidImage is returned when a reference image carries neither a
	// storage location nor an external URL.
	ErrInvalidImage = errors.New("reference image requires a storage location or external url")

	// ErrVersionConflict signals a concurrent writer persisted the same next
	// version first. MergeSave and the patch operations retry internally; the
	// error only escapes when retries are exhausted.
	ErrVersionConflict = errors.New("bible version conflict")
)

// Bible is the materialized continuity document for a subject.
type Bible struct {
	SubjectID  string      `json:"subjectId"`
	Version    int         `json:"version"`
	Exists     bool        `json:"exists"`
	Characters []Character `json:"characters"`
	Scenes     []Scene     `json:"scenes"`
	Metadata   Metadata    `json:"metadata"`
}

// Metadata describes a bible version without its payload.
type Metadata struct {
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	UpdatedBy       string    `json:"updatedBy,omitempty"`
	LastChapter     int       `json:"lastChapter"`
	TotalCharacters int       `json:"totalCharacters"`
	TotalScenes     int       `json:"totalScenes"`
	// StorageLocation is the blob locator when the version's payload is
	// offloaded; empty when characters/scenes are stored inline.
	StorageLocation string `json:"storageLocation,omitempty"`
}

// VersionInfo is one entry in a bible's history listing.
type VersionInfo struct {
	Version         int       `json:"version"`
	UpdatedAt       time.Time `json:"updatedAt"`
	UpdatedBy       string    `json:"updatedBy,omitempty"`
	LastChapter     int       `json:"lastChapter"`
	TotalCharacters int       `json:"totalCharacters"`
	TotalScenes     int       `json:"totalScenes"`
	StorageLocation string    `json:"storageLocation,omitempty"`
}

// ChapterRef records the chapter in which an entry first appeared.
type ChapterRef struct {
	Chapter int `json:"chapter"`
}

// Character is one recurring character. Name is the merge key
// (case-insensitive).
type Character struct {
	ID              string           `json:"id,omitempty"`
	Name            string           `json:"name"`
	Role            string           `json:"role,omitempty"`
	Appearance      Appearance       `json:"appearance,omitzero"`
	Personality     []string         `json:"personality,omitempty"`
	ReferenceImages []ReferenceImage `json:"referenceImages,omitempty"`
	FirstAppearance *ChapterRef      `json:"firstAppearance,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt,omitzero"`
	UpdatedBy       string           `json:"updatedBy,omitempty"`
}

// Scene is one recurring location, keyed by ID.
type Scene struct {
	ID                    string             `json:"id"`
	Name                  string             `json:"name,omitempty"`
	Type                  string             `json:"type,omitempty"`
	Description           string             `json:"description,omitempty"`
	VisualCharacteristics VisualTraits       `json:"visualCharacteristics,omitzero"`
	SpatialLayout         SpatialLayout      `json:"spatialLayout,omitzero"`
	TimeVariations        []TimeVariation    `json:"timeVariations,omitempty"`
	WeatherVariations     []WeatherVariation `json:"weatherVariations,omitempty"`
	ReferenceImages       []ReferenceImage   `json:"referenceImages,omitempty"`
	FirstAppearance       *ChapterRef        `json:"firstAppearance,omitempty"`
	UpdatedAt             time.Time          `json:"updatedAt,omitzero"`
	UpdatedBy             string             `json:"updatedBy,omitempty"`
}

// ReferenceImage is one stored or linked image attached to a character or
// scene. Exactly one of StorageLocation and ExternalURL should be set.
type ReferenceImage struct {
	ID              string    `json:"id,omitempty"`
	StorageLocation string    `json:"storageLocation,omitempty"`
	ExternalURL     string    `json:"externalUrl,omitempty"`
	Source          string    `json:"source,omitempty"` // auto | user | external
	Label           string    `json:"label,omitempty"`
	UploadedAt      time.Time `json:"uploadedAt,omitzero"`
	UploadedBy      string    `json:"uploadedBy,omitempty"`
}

// DedupKey identifies a reference image for merge purposes: the storage
// location if present, else the external URL, else the record ID.
func (r ReferenceImage) DedupKey() string {
	if r.StorageLocation != "" {
		return r.StorageLocation
	}
	if r.ExternalURL != "" {
		return r.ExternalURL
	}
	return r.ID
}

// Valid reports whether the image has at least one locator.
func (r ReferenceImage) Valid() bool {
	return r.StorageLocation != "" || r.ExternalURL != ""
}

// KeyArea is a named sub-area of a scene's spatial layout, merged by name.
type KeyArea struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Extra       map[string]any `json:"-"`
}

// TimeVariation describes a scene at a particular time of day, merged by
// timeOfDay.
type TimeVariation struct {
	TimeOfDay   string         `json:"timeOfDay"`
	Description string         `json:"description,omitempty"`
	Lighting    string         `json:"lighting,omitempty"`
	Extra       map[string]any `json:"-"`
}

// WeatherVariation describes a scene in particular weather, merged by
// weather.
type WeatherVariation struct {
	Weather     string         `json:"weather"`
	Description string         `json:"description,omitempty"`
	Extra       map[string]any `json:"-"`
}

// Appearance holds a character's visual traits: known optional fields plus a
// free-form extra bag for traits the generator invents. Scalars are
// first-write-wins on merge; arrays union.
type Appearance struct {
	HairColor           string         `json:"hairColor,omitempty"`
	HairStyle           string         `json:"hairStyle,omitempty"`
	EyeColor            string         `json:"eyeColor,omitempty"`
	SkinTone            string         `json:"skinTone,omitempty"`
	Build               string         `json:"build,omitempty"`
	Height              string         `json:"height,omitempty"`
	Age                 string         `json:"age,omitempty"`
	Clothing            []string       `json:"clothing,omitempty"`
	DistinctiveFeatures []string       `json:"distinctiveFeatures,omitempty"`
	Accessories         []string       `json:"accessories,omitempty"`
	Extra               map[string]any `json:"-"`
}

// VisualTraits holds a scene's visual characteristics.
type VisualTraits struct {
	Lighting     string         `json:"lighting,omitempty"`
	Mood         string         `json:"mood,omitempty"`
	Architecture string         `json:"architecture,omitempty"`
	ColorPalette []string       `json:"colorPalette,omitempty"`
	Extra        map[string]any `json:"-"`
}

// SpatialLayout holds a scene's layout, including the keyAreas sub-list
// merged by name.
type SpatialLayout struct {
	Size         string         `json:"size,omitempty"`
	KeyAreas     []KeyArea      `json:"keyAreas,omitempty"`
	KeyLandmarks []string       `json:"keyLandmarks,omitempty"`
	Extra        map[string]any `json:"-"`
}
