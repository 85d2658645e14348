package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStoryboardCompiles(t *testing.T) {
	if _, err := Storyboard(); err != nil {
		t.Fatalf("embedded schema failed to compile: %v", err)
	}
}

func TestValidateStoryboard(t *testing.T) {
	valid := `{
		"title": "The Gilded Goose",
		"characters": [{"name": "Aria", "role": "protagonist", "personality": ["brave"]}],
		"scenes": [{"id": "tavern", "name": "The Gilded Goose", "type": "interior"}],
		"panels": [{"sceneId": "tavern", "description": "Aria enters", "characters": ["Aria"]}]
	}`

	t.Run("valid document", func(t *testing.T) {
		if err := ValidateStoryboard(json.RawMessage(valid)); err != nil {
			t.Errorf("valid storyboard rejected: %v", err)
		}
	})

	t.Run("missing panels", func(t *testing.T) {
		err := ValidateStoryboard(json.RawMessage(`{"characters": [], "scenes": []}`))
		if err == nil {
			t.Fatal("storyboard without panels accepted")
		}
	})

	t.Run("empty panel list", func(t *testing.T) {
		err := ValidateStoryboard(json.RawMessage(`{"characters": [], "scenes": [], "panels": []}`))
		if err == nil {
			t.Fatal("empty panel list accepted")
		}
	})

	t.Run("panel without description", func(t *testing.T) {
		err := ValidateStoryboard(json.RawMessage(
			`{"characters": [], "scenes": [], "panels": [{"sceneId": "tavern"}]}`))
		if err == nil {
			t.Fatal("panel without description accepted")
		}
	})

	t.Run("nameless character", func(t *testing.T) {
		err := ValidateStoryboard(json.RawMessage(
			`{"characters": [{"role": "extra"}], "scenes": [], "panels": [{"description": "x"}]}`))
		if err == nil {
			t.Fatal("nameless character accepted")
		}
	})

	t.Run("not json", func(t *testing.T) {
		err := ValidateStoryboard(json.RawMessage(`panels ahoy`))
		if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
			t.Errorf("err = %v", err)
		}
	})
}
