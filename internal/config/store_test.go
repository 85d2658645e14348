package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/easel/internal/store"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "easel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewStore(st)
}

func TestSQLStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("missing key returns nil", func(t *testing.T) {
		entry, err := s.Get(ctx, "does.not.exist")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if entry != nil {
			t.Errorf("Get() = %v, want nil for non-existent key", entry)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		if err := s.Set(ctx, "defaults.generator", "openai", "worker provider"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		entry, err := s.Get(ctx, "defaults.generator")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if entry == nil {
			t.Fatal("Get() returned nil for existing key")
		}
		if entry.Value != "openai" {
			t.Errorf("Value = %v, want openai", entry.Value)
		}
		if entry.Description != "worker provider" {
			t.Errorf("Description = %q", entry.Description)
		}
	})

	t.Run("set overwrites", func(t *testing.T) {
		if err := s.Set(ctx, "defaults.generator", "mock", "worker provider"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		entry, _ := s.Get(ctx, "defaults.generator")
		if entry.Value != "mock" {
			t.Errorf("Value = %v, want mock after overwrite", entry.Value)
		}
	})

	t.Run("preserves value types", func(t *testing.T) {
		if err := s.Set(ctx, "pipeline.batch_size", 4, ""); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := s.Set(ctx, "providers.openai.enabled", true, ""); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		batch, _ := s.Get(ctx, "pipeline.batch_size")
		if v, ok := batch.Value.(float64); !ok || v != 4 {
			t.Errorf("batch_size = %v (%T), want 4", batch.Value, batch.Value)
		}
		enabled, _ := s.Get(ctx, "providers.openai.enabled")
		if v, ok := enabled.Value.(bool); !ok || !v {
			t.Errorf("enabled = %v (%T), want true", enabled.Value, enabled.Value)
		}
	})

	t.Run("rejects invalid keys", func(t *testing.T) {
		err := s.Set(ctx, "bad key!", "x", "")
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Set() error = %v, want ErrInvalidKey", err)
		}
	})
}

func TestSQLStore_GetAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seed := map[string]any{
		"providers.openai.chat_model": "gpt-4o",
		"defaults.generator":          "openai",
	}
	for k, v := range seed {
		if err := s.Set(ctx, k, v, ""); err != nil {
			t.Fatalf("seed %q: %v", k, err)
		}
	}

	entries, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("GetAll() returned %d entries, want 2", len(entries))
	}
	for k := range seed {
		if _, ok := entries[k]; !ok {
			t.Errorf("GetAll() missing key %q", k)
		}
	}
}

func TestSQLStore_GetByPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, k := range []string{
		"providers.openai.type",
		"providers.openai.chat_model",
		"defaults.generator",
	} {
		if err := s.Set(ctx, k, "x", ""); err != nil {
			t.Fatalf("seed %q: %v", k, err)
		}
	}

	entries, err := s.GetByPrefix(ctx, "providers.")
	if err != nil {
		t.Fatalf("GetByPrefix() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("GetByPrefix('providers.') returned %d entries, want 2", len(entries))
	}
	if _, ok := entries["defaults.generator"]; ok {
		t.Error("GetByPrefix() should not include non-matching prefix")
	}
}

func TestSQLStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Set(ctx, "scratch.key", 1, ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Delete(ctx, "scratch.key"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if entry, _ := s.Get(ctx, "scratch.key"); entry != nil {
		t.Errorf("Get() after delete = %v, want nil", entry)
	}

	// Deleting a missing key is a no-op.
	if err := s.Delete(ctx, "never.existed"); err != nil {
		t.Errorf("Delete() for missing key = %v, want nil", err)
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid simple key", "foo", false},
		{"valid dotted key", "providers.openai.type", false},
		{"valid with underscore", "defaults.panel_mode", false},
		{"valid with hyphen", "my-setting", false},
		{"valid with numbers", "provider1.config2", false},
		{"empty key", "", true},
		{"starts with dot", ".foo", true},
		{"ends with dot", "foo.", true},
		{"contains space", "foo bar", true},
		{"contains special char", "foo@bar", true},
		{"contains slash", "foo/bar", true},
		{"contains colon", "foo:bar", true},
		{"contains quote", "foo\"bar", true},
		{"contains curly brace", "foo{bar}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ValidateKey(%q) error should wrap ErrInvalidKey, got %v", tt.key, err)
			}
		})
	}
}
