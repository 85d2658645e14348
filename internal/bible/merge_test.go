package bible

import (
	"reflect"
	"testing"
	"time"
)

func TestMergeCharacters(t *testing.T) {
	t.Run("scalar traits are first write wins", func(t *testing.T) {
		existing := []Character{{
			Name:       "Aria",
			Role:       "protagonist",
			Appearance: Appearance{HairColor: "blonde"},
		}}
		incoming := []Character{{
			Name:       "Aria",
			Role:       "villain",
			Appearance: Appearance{HairColor: "red", EyeColor: "green"},
		}}

		merged := MergeCharacters(existing, incoming, 2)
		if len(merged) != 1 {
			t.Fatalf("expected 1 character, got %d", len(merged))
		}
		c := merged[0]
		if c.Role != "protagonist" {
			t.Errorf("role overwritten: got %q", c.Role)
		}
		if c.Appearance.HairColor != "blonde" {
			t.Errorf("hairColor overwritten: got %q", c.Appearance.HairColor)
		}
		if c.Appearance.EyeColor != "green" {
			t.Errorf("empty eyeColor not filled: got %q", c.Appearance.EyeColor)
		}
	})

	t.Run("names match case insensitively", func(t *testing.T) {
		merged := MergeCharacters(
			[]Character{{Name: "Aria"}},
			[]Character{{Name: "aria", Role: "mage"}},
			2,
		)
		if len(merged) != 1 {
			t.Fatalf("expected 1 character, got %d", len(merged))
		}
		if merged[0].Name != "Aria" {
			t.Errorf("original casing lost: got %q", merged[0].Name)
		}
		if merged[0].Role != "mage" {
			t.Errorf("role not filled: got %q", merged[0].Role)
		}
	})

	t.Run("personality unions without duplicates", func(t *testing.T) {
		merged := MergeCharacters(
			[]Character{{Name: "Aria", Personality: []string{"brave", "curious"}}},
			[]Character{{Name: "Aria", Personality: []string{"curious", "stubborn"}}},
			2,
		)
		want := []string{"brave", "curious", "stubborn"}
		if !reflect.DeepEqual(merged[0].Personality, want) {
			t.Errorf("personality = %v, want %v", merged[0].Personality, want)
		}
	})

	t.Run("string array traits union", func(t *testing.T) {
		merged := MergeCharacters(
			[]Character{{Name: "Aria", Appearance: Appearance{Clothing: []string{"cloak"}}}},
			[]Character{{Name: "Aria", Appearance: Appearance{Clothing: []string{"cloak", "boots"}}}},
			2,
		)
		want := []string{"cloak", "boots"}
		if !reflect.DeepEqual(merged[0].Appearance.Clothing, want) {
			t.Errorf("clothing = %v, want %v", merged[0].Appearance.Clothing, want)
		}
	})

	t.Run("first appearance is never overwritten", func(t *testing.T) {
		merged := MergeCharacters(nil, []Character{{Name: "Aria"}}, 3)
		if merged[0].FirstAppearance == nil || merged[0].FirstAppearance.Chapter != 3 {
			t.Fatalf("firstAppearance = %+v, want chapter 3", merged[0].FirstAppearance)
		}

		merged = MergeCharacters(merged, []Character{{
			Name:            "Aria",
			FirstAppearance: &ChapterRef{Chapter: 7},
		}}, 7)
		if merged[0].FirstAppearance.Chapter != 3 {
			t.Errorf("firstAppearance moved to %d, want 3", merged[0].FirstAppearance.Chapter)
		}
	})

	t.Run("invalid chapter clamps to one", func(t *testing.T) {
		merged := MergeCharacters(nil, []Character{{Name: "Aria"}}, 0)
		if merged[0].FirstAppearance.Chapter != 1 {
			t.Errorf("chapter = %d, want 1", merged[0].FirstAppearance.Chapter)
		}
	})

	t.Run("new characters are assigned ids", func(t *testing.T) {
		merged := MergeCharacters(nil, []Character{{Name: "Aria"}, {Name: "Brom"}}, 1)
		if merged[0].ID == "" || merged[1].ID == "" {
			t.Fatalf("characters missing ids: %+v", merged)
		}
		if merged[0].ID == merged[1].ID {
			t.Error("characters share an id")
		}

		// Later merges keep the minted id.
		again := MergeCharacters(merged, []Character{{Name: "aria", Role: "mage"}}, 2)
		if again[0].ID != merged[0].ID {
			t.Errorf("id changed on merge: %q -> %q", merged[0].ID, again[0].ID)
		}
	})

	t.Run("existing characters without ids are backfilled", func(t *testing.T) {
		merged := MergeCharacters([]Character{{Name: "Aria"}}, nil, 2)
		if merged[0].ID == "" {
			t.Error("pre-existing character not stamped with an id")
		}
	})

	t.Run("nameless characters are dropped", func(t *testing.T) {
		merged := MergeCharacters(nil, []Character{{Role: "extra"}, {Name: "Aria"}}, 1)
		if len(merged) != 1 || merged[0].Name != "Aria" {
			t.Errorf("merged = %+v, want only Aria", merged)
		}
	})

	t.Run("extra trait keys merge generically", func(t *testing.T) {
		merged := MergeCharacters(
			[]Character{{Name: "Aria", Appearance: Appearance{Extra: map[string]any{"scars": "left cheek"}}}},
			[]Character{{Name: "Aria", Appearance: Appearance{Extra: map[string]any{"scars": "right arm", "tattoos": "raven"}}}},
			2,
		)
		extra := merged[0].Appearance.Extra
		if extra["scars"] != "left cheek" {
			t.Errorf("extra scalar overwritten: %v", extra["scars"])
		}
		if extra["tattoos"] != "raven" {
			t.Errorf("new extra key missing: %v", extra)
		}
	})
}

func TestMergeScenes(t *testing.T) {
	t.Run("keyed by id", func(t *testing.T) {
		merged := MergeScenes(
			[]Scene{{ID: "tavern", Name: "The Gilded Goose"}},
			[]Scene{{ID: "tavern", Type: "interior"}, {ID: "forest", Name: "Darkwood"}},
			2,
		)
		if len(merged) != 2 {
			t.Fatalf("expected 2 scenes, got %d", len(merged))
		}
		if merged[0].Name != "The Gilded Goose" || merged[0].Type != "interior" {
			t.Errorf("tavern merge wrong: %+v", merged[0])
		}
	})

	t.Run("key landmarks union", func(t *testing.T) {
		merged := MergeScenes(
			[]Scene{{ID: "tavern", SpatialLayout: SpatialLayout{KeyLandmarks: []string{"hearth"}}}},
			[]Scene{{ID: "tavern", SpatialLayout: SpatialLayout{KeyLandmarks: []string{"hearth", "bar"}}}},
			2,
		)
		want := []string{"hearth", "bar"}
		if !reflect.DeepEqual(merged[0].SpatialLayout.KeyLandmarks, want) {
			t.Errorf("keyLandmarks = %v, want %v", merged[0].SpatialLayout.KeyLandmarks, want)
		}
	})

	t.Run("key areas merge by name", func(t *testing.T) {
		merged := MergeScenes(
			[]Scene{{ID: "tavern", SpatialLayout: SpatialLayout{KeyAreas: []KeyArea{
				{Name: "bar", Description: "long oak counter"},
			}}}},
			[]Scene{{ID: "tavern", SpatialLayout: SpatialLayout{KeyAreas: []KeyArea{
				{Name: "bar", Description: "short counter"},
				{Name: "stage"},
			}}}},
			2,
		)
		areas := merged[0].SpatialLayout.KeyAreas
		if len(areas) != 2 {
			t.Fatalf("expected 2 key areas, got %d: %+v", len(areas), areas)
		}
		if areas[0].Description != "long oak counter" {
			t.Errorf("key area description overwritten: %q", areas[0].Description)
		}
		if areas[1].Name != "stage" {
			t.Errorf("new key area missing: %+v", areas)
		}
	})

	t.Run("time variations merge by time of day", func(t *testing.T) {
		merged := MergeScenes(
			[]Scene{{ID: "tavern", TimeVariations: []TimeVariation{
				{TimeOfDay: "night", Lighting: "candlelight"},
			}}},
			[]Scene{{ID: "tavern", TimeVariations: []TimeVariation{
				{TimeOfDay: "night", Description: "rowdy crowd"},
				{TimeOfDay: "morning", Lighting: "pale sun"},
			}}},
			2,
		)
		tvs := merged[0].TimeVariations
		if len(tvs) != 2 {
			t.Fatalf("expected 2 time variations, got %d", len(tvs))
		}
		if tvs[0].Lighting != "candlelight" || tvs[0].Description != "rowdy crowd" {
			t.Errorf("night variation merge wrong: %+v", tvs[0])
		}
	})

	t.Run("weather variations merge by weather", func(t *testing.T) {
		merged := MergeScenes(
			[]Scene{{ID: "forest", WeatherVariations: []WeatherVariation{
				{Weather: "rain", Description: "dripping canopy"},
			}}},
			[]Scene{{ID: "forest", WeatherVariations: []WeatherVariation{
				{Weather: "rain", Description: "flooded paths"},
				{Weather: "snow"},
			}}},
			2,
		)
		wvs := merged[0].WeatherVariations
		if len(wvs) != 2 {
			t.Fatalf("expected 2 weather variations, got %d", len(wvs))
		}
		if wvs[0].Description != "dripping canopy" {
			t.Errorf("rain description overwritten: %q", wvs[0].Description)
		}
	})
}

func TestMergeReferenceImages(t *testing.T) {
	uploaded := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("deduplicates by storage location", func(t *testing.T) {
		merged := MergeReferenceImages(
			[]ReferenceImage{{ID: "a", StorageLocation: "blob://images/1.png"}},
			[]ReferenceImage{{ID: "b", StorageLocation: "blob://images/1.png", Label: "portrait", UploadedAt: uploaded}},
		)
		if len(merged) != 1 {
			t.Fatalf("expected 1 image, got %d", len(merged))
		}
		if merged[0].Label != "portrait" {
			t.Errorf("incoming label not applied: %+v", merged[0])
		}
		if !merged[0].UploadedAt.Equal(uploaded) {
			t.Errorf("uploadedAt not applied: %v", merged[0].UploadedAt)
		}
	})

	t.Run("distinct images append", func(t *testing.T) {
		merged := MergeReferenceImages(
			[]ReferenceImage{{StorageLocation: "blob://images/1.png"}},
			[]ReferenceImage{{ExternalURL: "https://example.com/2.png"}},
		)
		if len(merged) != 2 {
			t.Fatalf("expected 2 images, got %d", len(merged))
		}
	})
}

func TestMergeIsOrderIndependentForSets(t *testing.T) {
	a := []Character{{Name: "Aria", Personality: []string{"brave"}}}
	b := []Character{{Name: "Aria", Personality: []string{"curious"}}}

	ab := MergeCharacters(MergeCharacters(nil, a, 1), b, 2)
	ba := MergeCharacters(MergeCharacters(nil, b, 1), a, 2)

	got := map[string]bool{}
	for _, p := range ab[0].Personality {
		got[p] = true
	}
	for _, p := range ba[0].Personality {
		if !got[p] {
			t.Errorf("union differs by order: %v vs %v", ab[0].Personality, ba[0].Personality)
		}
	}
	if len(ab[0].Personality) != len(ba[0].Personality) {
		t.Errorf("union sizes differ: %v vs %v", ab[0].Personality, ba[0].Personality)
	}
}
