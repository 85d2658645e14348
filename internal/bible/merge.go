package bible

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/google/uuid"
)

// The merge algorithm operates generically over the JSON representation of
// trait maps: scalars are first-write-wins, string arrays union with set
// semantics, nested maps recurse, and designated object lists merge by a key
// field. Values in Extra bags must be JSON-compatible.

// MergeCharacters unions incoming characters into existing ones. Characters
// are keyed by name, case-insensitively. New characters without a recorded
// first appearance are stamped with chapter, and every character ends up
// with an id: generated storyboards carry characters by name only, so ids
// are minted here (including for rows persisted before ids existed).
func MergeCharacters(existing, incoming []Character, chapter int) []Character {
	merged := make([]Character, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing))

	for _, c := range existing {
		if c.Name == "" {
			continue
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		index[strings.ToLower(c.Name)] = len(merged)
		merged = append(merged, c)
	}

	for _, inc := range incoming {
		if inc.Name == "" {
			continue
		}
		key := strings.ToLower(inc.Name)
		if i, ok := index[key]; ok {
			mergeCharacterInto(&merged[i], inc)
			continue
		}
		if inc.ID == "" {
			inc.ID = uuid.NewString()
		}
		if inc.FirstAppearance == nil {
			inc.FirstAppearance = &ChapterRef{Chapter: normalizeChapter(chapter)}
		}
		inc.Personality = mergeStringSet(nil, inc.Personality)
		index[key] = len(merged)
		merged = append(merged, inc)
	}

	return merged
}

// MergeScenes unions incoming scenes into existing ones, keyed by ID.
func MergeScenes(existing, incoming []Scene, chapter int) []Scene {
	merged := make([]Scene, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing))

	for _, s := range existing {
		if s.ID == "" {
			continue
		}
		index[s.ID] = len(merged)
		merged = append(merged, s)
	}

	for _, inc := range incoming {
		if inc.ID == "" {
			continue
		}
		if i, ok := index[inc.ID]; ok {
			mergeSceneInto(&merged[i], inc)
			continue
		}
		if inc.FirstAppearance == nil {
			inc.FirstAppearance = &ChapterRef{Chapter: normalizeChapter(chapter)}
		}
		index[inc.ID] = len(merged)
		merged = append(merged, inc)
	}

	return merged
}

// MergeReferenceImages upserts incoming images by dedup key. Unlike trait
// merges, matching images take incoming non-empty fields (last-write-wins) so
// relabeling or re-sourcing an image sticks.
func MergeReferenceImages(existing, incoming []ReferenceImage) []ReferenceImage {
	merged := make([]ReferenceImage, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing))

	for _, img := range existing {
		index[img.DedupKey()] = len(merged)
		merged = append(merged, img)
	}

	for _, inc := range incoming {
		i, ok := index[inc.DedupKey()]
		if !ok {
			index[inc.DedupKey()] = len(merged)
			merged = append(merged, inc)
			continue
		}
		cur := &merged[i]
		if inc.ID != "" {
			cur.ID = inc.ID
		}
		if inc.StorageLocation != "" {
			cur.StorageLocation = inc.StorageLocation
		}
		if inc.ExternalURL != "" {
			cur.ExternalURL = inc.ExternalURL
		}
		if inc.Source != "" {
			cur.Source = inc.Source
		}
		if inc.Label != "" {
			cur.Label = inc.Label
		}
		if !inc.UploadedAt.IsZero() {
			cur.UploadedAt = inc.UploadedAt
		}
		if inc.UploadedBy != "" {
			cur.UploadedBy = inc.UploadedBy
		}
	}

	return merged
}

func mergeCharacterInto(cur *Character, inc Character) {
	if cur.Role == "" {
		cur.Role = inc.Role
	}
	cur.Personality = mergeStringSet(cur.Personality, inc.Personality)
	cur.Appearance = mergeTraits(cur.Appearance, inc.Appearance, nil)
	if cur.FirstAppearance == nil {
		cur.FirstAppearance = inc.FirstAppearance
	}
	cur.ReferenceImages = MergeReferenceImages(cur.ReferenceImages, inc.ReferenceImages)
	if !inc.UpdatedAt.IsZero() {
		cur.UpdatedAt = inc.UpdatedAt
	}
	if inc.UpdatedBy != "" {
		cur.UpdatedBy = inc.UpdatedBy
	}
}

func mergeSceneInto(cur *Scene, inc Scene) {
	if cur.Name == "" {
		cur.Name = inc.Name
	}
	if cur.Type == "" {
		cur.Type = inc.Type
	}
	if cur.Description == "" {
		cur.Description = inc.Description
	}
	cur.VisualCharacteristics = mergeTraits(cur.VisualCharacteristics, inc.VisualCharacteristics, nil)
	cur.SpatialLayout = mergeTraits(cur.SpatialLayout, inc.SpatialLayout, map[string]string{"keyAreas": "name"})
	cur.TimeVariations = mergeKeyedSlice(cur.TimeVariations, inc.TimeVariations, "timeOfDay")
	cur.WeatherVariations = mergeKeyedSlice(cur.WeatherVariations, inc.WeatherVariations, "weather")
	if cur.FirstAppearance == nil {
		cur.FirstAppearance = inc.FirstAppearance
	}
	cur.ReferenceImages = MergeReferenceImages(cur.ReferenceImages, inc.ReferenceImages)
	if !inc.UpdatedAt.IsZero() {
		cur.UpdatedAt = inc.UpdatedAt
	}
	if inc.UpdatedBy != "" {
		cur.UpdatedBy = inc.UpdatedBy
	}
}

// mergeTraits runs the generic map merge over two trait values of the same
// type. keyedLists maps a JSON key to the field that identifies elements of
// an object list stored under that key.
func mergeTraits[T any](base, incoming T, keyedLists map[string]string) T {
	merged := mergeMaps(toJSONMap(base), toJSONMap(incoming), keyedLists)
	var out T
	raw, err := json.Marshal(merged)
	if err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

// mergeKeyedSlice merges two object slices by a key field using the generic
// algorithm, preserving element order (base first, then new keys).
func mergeKeyedSlice[T any](base, incoming []T, keyField string) []T {
	if len(incoming) == 0 {
		return base
	}
	merged := mergeKeyedList(toJSONList(base), toJSONList(incoming), keyField)
	out := make([]T, 0, len(merged))
	raw, err := json.Marshal(merged)
	if err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

// mergeMaps merges incoming into a copy of base, generically over keys.
func mergeMaps(base, incoming map[string]any, keyedLists map[string]string) map[string]any {
	result := make(map[string]any, len(base)+len(incoming))
	for k, v := range base {
		result[k] = v
	}

	for k, iv := range incoming {
		if iv == nil {
			continue
		}
		bv := result[k]

		switch incVal := iv.(type) {
		case map[string]any:
			if baseVal, ok := bv.(map[string]any); ok {
				result[k] = mergeMaps(baseVal, incVal, nil)
			} else if isEmptyScalar(bv) {
				result[k] = incVal
			}
		case []any:
			baseList, _ := bv.([]any)
			if keyField, keyed := keyedLists[k]; keyed {
				result[k] = mergeKeyedList(baseList, incVal, keyField)
			} else {
				result[k] = unionList(baseList, incVal)
			}
		default:
			// Scalar: first-write-wins.
			if isEmptyScalar(bv) {
				result[k] = iv
			}
		}
	}

	return result
}

// mergeKeyedList upserts incoming objects into base by keyField. Matching
// objects merge field-wise with the same rules as mergeMaps.
func mergeKeyedList(base, incoming []any, keyField string) []any {
	result := make([]any, 0, len(base)+len(incoming))
	index := make(map[string]int, len(base))

	for _, item := range base {
		if m, ok := item.(map[string]any); ok {
			if key, ok := m[keyField].(string); ok && key != "" {
				index[key] = len(result)
			}
		}
		result = append(result, item)
	}

	for _, item := range incoming {
		m, ok := item.(map[string]any)
		if !ok {
			result = append(result, item)
			continue
		}
		key, _ := m[keyField].(string)
		if key == "" {
			result = append(result, item)
			continue
		}
		if i, found := index[key]; found {
			if cur, ok := result[i].(map[string]any); ok {
				result[i] = mergeMaps(cur, m, nil)
				continue
			}
		}
		index[key] = len(result)
		result = append(result, item)
	}

	return result
}

// unionList unions two lists. String elements get set semantics; other
// elements are kept from base and appended from incoming when not already
// present by deep equality.
func unionList(base, incoming []any) []any {
	result := make([]any, 0, len(base)+len(incoming))
	seen := make(map[string]bool)

	add := func(item any) {
		if s, ok := item.(string); ok {
			if strings.TrimSpace(s) == "" || seen[s] {
				return
			}
			seen[s] = true
			result = append(result, s)
			return
		}
		for _, existing := range result {
			if reflect.DeepEqual(existing, item) {
				return
			}
		}
		result = append(result, item)
	}

	for _, item := range base {
		add(item)
	}
	for _, item := range incoming {
		add(item)
	}
	return result
}

// mergeStringSet unions string slices preserving first-seen order.
func mergeStringSet(base, incoming []string) []string {
	if len(base) == 0 && len(incoming) == 0 {
		return base
	}
	result := make([]string, 0, len(base)+len(incoming))
	seen := make(map[string]bool, len(base)+len(incoming))
	for _, s := range base {
		if strings.TrimSpace(s) == "" || seen[s] {
			continue
		}
		seen[s] = true
		result = append(result, s)
	}
	for _, s := range incoming {
		if strings.TrimSpace(s) == "" || seen[s] {
			continue
		}
		seen[s] = true
		result = append(result, s)
	}
	return result
}

func isEmptyScalar(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case float64:
		return val == 0
	default:
		return false
	}
}

func normalizeChapter(chapter int) int {
	if chapter < 1 {
		return 1
	}
	return chapter
}

func toJSONMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	m := make(map[string]any)
	_ = json.Unmarshal(raw, &m)
	return m
}

func toJSONList(v any) []any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var list []any
	_ = json.Unmarshal(raw, &list)
	return list
}
