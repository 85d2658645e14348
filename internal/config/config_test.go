package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	openai, ok := cfg.GetProvider("openai")
	if !ok {
		t.Fatal("expected a default openai provider")
	}
	if openai.APIKey != "${OPENAI_API_KEY}" {
		t.Errorf("api key = %q, want env placeholder", openai.APIKey)
	}
	if !openai.Enabled {
		t.Error("default provider should be enabled")
	}
	if cfg.Defaults.Generator != "openai" {
		t.Errorf("default generator = %q", cfg.Defaults.Generator)
	}
	if cfg.Pipeline.VisibilityMinutes <= 0 {
		t.Error("expected a positive visibility window")
	}
	if cfg.Storage.OffloadThresholdKB != 400 {
		t.Errorf("offload threshold = %dKB, want 400", cfg.Storage.OffloadThresholdKB)
	}
	if cfg.Storage.OffloadThresholdBytes() != 400*1024 {
		t.Errorf("offload threshold bytes = %d", cfg.Storage.OffloadThresholdBytes())
	}
}

func TestStorageCfgZeroValue(t *testing.T) {
	var c StorageCfg
	if c.OffloadThresholdBytes() != 0 {
		t.Errorf("unset threshold = %d, want 0", c.OffloadThresholdBytes())
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		os.Setenv("TEST_API_KEY", "secret123")
		defer os.Unsetenv("TEST_API_KEY")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestEnabledProviders(t *testing.T) {
	cfg := &Config{
		Providers: map[string]ProviderCfg{
			"openai": {Type: "openai", Enabled: true},
			"mock":   {Type: "mock", Enabled: false},
		},
	}

	enabled := cfg.EnabledProviders()
	if len(enabled) != 1 {
		t.Fatalf("enabled = %d providers, want 1", len(enabled))
	}
	if _, ok := enabled["openai"]; !ok {
		t.Error("openai missing from enabled providers")
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")

		configContent := `
defaults:
  generator: mock
  panel_mode: hd
server:
  addr: localhost:9999
`
		if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Defaults.Generator != "mock" {
			t.Errorf("generator = %q, want mock", cfg.Defaults.Generator)
		}
		if cfg.Defaults.PanelMode != "hd" {
			t.Errorf("panel mode = %q, want hd", cfg.Defaults.PanelMode)
		}
		if cfg.Server.Addr != "localhost:9999" {
			t.Errorf("addr = %q", cfg.Server.Addr)
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
defaults:
  generator: openai
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Register multiple callbacks
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
defaults:
  generator: openai
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Call Get concurrently to verify no race conditions
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Defaults.Generator
			}
			done <- struct{}{}
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
defaults:
  generator: initial-provider
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Verify initial value
	cfg := mgr.Get()
	if cfg.Defaults.Generator != "initial-provider" {
		t.Errorf("initial generator = %q, want initial-provider", cfg.Defaults.Generator)
	}

	// Track callback invocations
	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Defaults.Generator)
	})

	// Start watching
	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	// Update the config file
	newContent := `
defaults:
  generator: updated-provider
`
	if err := os.WriteFile(configFile, []byte(newContent), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	// Wait for the watcher to detect the change (fsnotify is async)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Error("callback was not invoked after config file change")
	}

	// Verify the config was updated
	newCfg := mgr.Get()
	if newCfg.Defaults.Generator != "updated-provider" {
		t.Errorf("generator not updated: got %q", newCfg.Defaults.Generator)
	}

	// Verify callback received the updated value
	if v := lastValue.Load(); v != "updated-provider" {
		t.Errorf("callback received wrong value: %v", v)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("write default: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "OPENAI_API_KEY") {
		t.Error("written config missing the API key placeholder")
	}
	if !strings.HasPrefix(string(data), "# Easel configuration") {
		t.Error("written config missing the header comment")
	}
}
