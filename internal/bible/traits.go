package bible

import "encoding/json"

// The trait-bearing types carry known optional fields plus a free-form Extra
// bag. On the wire the bag is flattened into the same JSON object, so a
// generated trait the schema doesn't know about survives the roundtrip and
// participates in merges like any other key.

var (
	appearanceKeys = []string{
		"hairColor", "hairStyle", "eyeColor", "skinTone", "build", "height",
		"age", "clothing", "distinctiveFeatures", "accessories",
	}
	visualTraitKeys   = []string{"lighting", "mood", "architecture", "colorPalette"}
	spatialLayoutKeys = []string{"size", "keyAreas", "keyLandmarks"}
	keyAreaKeys       = []string{"name", "description"}
	timeVariationKeys = []string{"timeOfDay", "description", "lighting"}
	weatherKeys       = []string{"weather", "description"}
)

// marshalFlat marshals v and overlays extra keys that the struct does not
// already produce.
func marshalFlat(v any, extra map[string]any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return raw, nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, ok := m[k]; !ok {
			m[k] = val
		}
	}
	return json.Marshal(m)
}

// unmarshalFlat fills v from data and returns the keys not claimed by the
// struct as the extra bag (nil when there are none).
func unmarshalFlat(data []byte, v any, known []string) (map[string]any, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func (a Appearance) MarshalJSON() ([]byte, error) {
	type alias Appearance
	return marshalFlat(alias(a), a.Extra)
}

func (a *Appearance) UnmarshalJSON(data []byte) error {
	type alias Appearance
	var aa alias
	extra, err := unmarshalFlat(data, &aa, appearanceKeys)
	if err != nil {
		return err
	}
	*a = Appearance(aa)
	a.Extra = extra
	return nil
}

func (v VisualTraits) MarshalJSON() ([]byte, error) {
	type alias VisualTraits
	return marshalFlat(alias(v), v.Extra)
}

func (v *VisualTraits) UnmarshalJSON(data []byte) error {
	type alias VisualTraits
	var vv alias
	extra, err := unmarshalFlat(data, &vv, visualTraitKeys)
	if err != nil {
		return err
	}
	*v = VisualTraits(vv)
	v.Extra = extra
	return nil
}

func (l SpatialLayout) MarshalJSON() ([]byte, error) {
	type alias SpatialLayout
	return marshalFlat(alias(l), l.Extra)
}

func (l *SpatialLayout) UnmarshalJSON(data []byte) error {
	type alias SpatialLayout
	var ll alias
	extra, err := unmarshalFlat(data, &ll, spatialLayoutKeys)
	if err != nil {
		return err
	}
	*l = SpatialLayout(ll)
	l.Extra = extra
	return nil
}

func (k KeyArea) MarshalJSON() ([]byte, error) {
	type alias KeyArea
	return marshalFlat(alias(k), k.Extra)
}

func (k *KeyArea) UnmarshalJSON(data []byte) error {
	type alias KeyArea
	var kk alias
	extra, err := unmarshalFlat(data, &kk, keyAreaKeys)
	if err != nil {
		return err
	}
	*k = KeyArea(kk)
	k.Extra = extra
	return nil
}

func (t TimeVariation) MarshalJSON() ([]byte, error) {
	type alias TimeVariation
	return marshalFlat(alias(t), t.Extra)
}

func (t *TimeVariation) UnmarshalJSON(data []byte) error {
	type alias TimeVariation
	var tt alias
	extra, err := unmarshalFlat(data, &tt, timeVariationKeys)
	if err != nil {
		return err
	}
	*t = TimeVariation(tt)
	t.Extra = extra
	return nil
}

func (w WeatherVariation) MarshalJSON() ([]byte, error) {
	type alias WeatherVariation
	return marshalFlat(alias(w), w.Extra)
}

func (w *WeatherVariation) UnmarshalJSON(data []byte) error {
	type alias WeatherVariation
	var ww alias
	extra, err := unmarshalFlat(data, &ww, weatherKeys)
	if err != nil {
		return err
	}
	*w = WeatherVariation(ww)
	w.Extra = extra
	return nil
}
