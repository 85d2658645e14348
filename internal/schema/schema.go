// Package schema validates generated storyboard documents before anything
// is persisted from them. Generation output that fails validation fails the
// job; it is never coerced into shape.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	storyboardOnce   sync.Once
	storyboardSchema *jsonschema.Schema
	storyboardErr    error
)

// Storyboard returns the compiled storyboard schema. Compilation happens
// once; an embedded schema that fails to compile is a build defect, so the
// error is sticky.
func Storyboard() (*jsonschema.Schema, error) {
	storyboardOnce.Do(func() {
		storyboardSchema, storyboardErr = compile("schemas/storyboard.json")
	})
	return storyboardSchema, storyboardErr
}

// StoryboardRaw returns the embedded schema document, for handing to
// generation providers as a response format.
func StoryboardRaw() (json.RawMessage, error) {
	raw, err := schemaFS.ReadFile("schemas/storyboard.json")
	if err != nil {
		return nil, fmt.Errorf("read storyboard schema: %w", err)
	}
	return raw, nil
}

// ValidateStoryboard checks a generated storyboard document against the
// schema and returns a descriptive error on mismatch.
func ValidateStoryboard(raw json.RawMessage) error {
	compiled, err := Storyboard()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("storyboard is not valid JSON: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("storyboard does not match schema: %w", err)
	}
	return nil
}

func compile(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return compiled, nil
}
