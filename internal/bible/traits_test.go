package bible

import (
	"encoding/json"
	"testing"
)

func TestAppearanceExtraRoundTrip(t *testing.T) {
	raw := []byte(`{"hairColor":"blonde","scars":"left cheek","tattoos":["raven"]}`)

	var a Appearance
	if err := json.Unmarshal(raw, &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.HairColor != "blonde" {
		t.Errorf("hairColor = %q", a.HairColor)
	}
	if a.Extra["scars"] != "left cheek" {
		t.Errorf("extra scars = %v", a.Extra["scars"])
	}

	out, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal roundtrip: %v", err)
	}
	if m["hairColor"] != "blonde" || m["scars"] != "left cheek" {
		t.Errorf("roundtrip lost keys: %v", m)
	}
	if _, ok := m["tattoos"]; !ok {
		t.Errorf("extra array lost: %v", m)
	}
}

func TestKnownKeysWinOverExtra(t *testing.T) {
	a := Appearance{
		HairColor: "blonde",
		Extra:     map[string]any{"hairColor": "red"},
	}
	out, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["hairColor"] != "blonde" {
		t.Errorf("extra shadowed typed field: %v", m["hairColor"])
	}
}

func TestEmptyExtraStaysNil(t *testing.T) {
	var v VisualTraits
	if err := json.Unmarshal([]byte(`{"lighting":"dim"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Extra != nil {
		t.Errorf("extra should stay nil when no unknown keys: %v", v.Extra)
	}
}
