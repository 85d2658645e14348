package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// DefaultEntries returns the default configuration entries.
// These are seeded into the settings table on first run.
func DefaultEntries() []Entry {
	return []Entry{
		// ===================
		// Providers
		// ===================
		{
			Key:         "providers.openai.type",
			Value:       "openai",
			Description: "Provider type for OpenAI",
		},
		{
			Key:         "providers.openai.chat_model",
			Value:       "gpt-4o",
			Description: "Model used for storyboard generation",
		},
		{
			Key:         "providers.openai.image_model",
			Value:       "gpt-image-1",
			Description: "Model used for panel rendering",
		},
		{
			Key:         "providers.openai.api_key",
			Value:       "${OPENAI_API_KEY}",
			Description: "OpenAI API key (uses environment variable)",
		},
		{
			Key:         "providers.openai.temperature",
			Value:       0.7,
			Description: "Sampling temperature for storyboard generation",
		},
		{
			Key:         "providers.openai.max_retries",
			Value:       3,
			Description: "Maximum retry attempts for failed OpenAI requests",
		},
		{
			Key:         "providers.openai.timeout_seconds",
			Value:       300,
			Description: "HTTP timeout in seconds for OpenAI requests",
		},
		{
			Key:         "providers.openai.enabled",
			Value:       true,
			Description: "Whether the OpenAI provider is enabled",
		},

		// ===================
		// Generation Defaults
		// ===================
		{
			Key:         "defaults.generator",
			Value:       "openai",
			Description: "Provider used by the analyze and panel workers",
		},
		{
			Key:         "defaults.panel_mode",
			Value:       "preview",
			Description: "Default image mode for new panel jobs (preview or hd)",
		},

		// ===================
		// Pipeline Tuning
		// ===================
		{
			Key:         "pipeline.poll_interval_seconds",
			Value:       2,
			Description: "Queue poll cadence when no wake signal arrives",
		},
		{
			Key:         "pipeline.visibility_minutes",
			Value:       5,
			Description: "Message lease duration before redelivery",
		},
		{
			Key:         "pipeline.stale_after_minutes",
			Value:       10,
			Description: "Age at which an in-flight panel task is reclaimed",
		},
		{
			Key:         "pipeline.batch_size",
			Value:       4,
			Description: "Messages received per queue poll",
		},
		{
			Key:         "pipeline.credential_ttl_minutes",
			Value:       5,
			Description: "How long resolved API credentials are cached",
		},
	}
}

// SeedDefaults seeds default configuration entries into the store.
// This is idempotent - existing entries are not overwritten.
func SeedDefaults(ctx context.Context, store Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultEntries()
	seeded := 0
	skipped := 0

	for _, entry := range defaults {
		// Check if key already exists
		existing, err := store.Get(ctx, entry.Key)
		if err != nil {
			return fmt.Errorf("failed to check key %q: %w", entry.Key, err)
		}

		if existing != nil {
			skipped++
			continue
		}

		// Create the entry
		if err := store.Set(ctx, entry.Key, entry.Value, entry.Description); err != nil {
			return fmt.Errorf("failed to seed key %q: %w", entry.Key, err)
		}
		seeded++
	}

	if seeded > 0 {
		logger.Info("seeded default config entries", "seeded", seeded, "skipped", skipped)
	}
	return nil
}

// GetDefault returns the default value for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ResetToDefault resets a config key to its default value.
// Returns ErrNoDefault if no default exists for the key.
func ResetToDefault(ctx context.Context, store Store, key string) error {
	def := GetDefault(key)
	if def == nil {
		return fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	return store.Set(ctx, key, def.Value, def.Description)
}
