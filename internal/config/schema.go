package config

// Config holds easel configuration.
// Stored at: ~/.easel/config.yaml
type Config struct {
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers"`
	Defaults  DefaultsCfg            `mapstructure:"defaults" yaml:"defaults"`
	Pipeline  PipelineCfg            `mapstructure:"pipeline" yaml:"pipeline"`
	Storage   StorageCfg             `mapstructure:"storage" yaml:"storage"`
	Server    ServerCfg              `mapstructure:"server" yaml:"server"`
}

// ProviderCfg configures one generation provider.
type ProviderCfg struct {
	Type        string  `mapstructure:"type" yaml:"type"`                 // "openai", "mock"
	ChatModel   string  `mapstructure:"chat_model" yaml:"chat_model"`     // storyboard generation model
	ImageModel  string  `mapstructure:"image_model" yaml:"image_model"`   // panel rendering model
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`           // supports ${ENV_VAR} syntax
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`         // optional API base override
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxRetries  int     `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSecs int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default provider selections.
type DefaultsCfg struct {
	Generator string `mapstructure:"generator" yaml:"generator"` // provider the workers use
	PanelMode string `mapstructure:"panel_mode" yaml:"panel_mode"` // "preview" or "hd"
}

// PipelineCfg tunes the queue consumers.
type PipelineCfg struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	VisibilityMinutes   int `mapstructure:"visibility_minutes" yaml:"visibility_minutes"`
	StaleAfterMinutes   int `mapstructure:"stale_after_minutes" yaml:"stale_after_minutes"`
	BatchSize           int `mapstructure:"batch_size" yaml:"batch_size"`
	CredentialTTLMins   int `mapstructure:"credential_ttl_minutes" yaml:"credential_ttl_minutes"`
}

// StorageCfg tunes the persistence layer.
type StorageCfg struct {
	// OffloadThresholdKB is the payload size above which bible documents
	// and novel texts move out of the database into the blob store.
	OffloadThresholdKB int `mapstructure:"offload_threshold_kb" yaml:"offload_threshold_kb"`
}

// OffloadThresholdBytes returns the configured threshold in bytes, or 0
// when unset.
func (c StorageCfg) OffloadThresholdBytes() int {
	if c.OffloadThresholdKB <= 0 {
		return 0
	}
	return c.OffloadThresholdKB * 1024
}

// ServerCfg holds the HTTP server settings.
type ServerCfg struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			"openai": {
				Type:        "openai",
				ChatModel:   "gpt-4o",
				ImageModel:  "gpt-image-1",
				APIKey:      "${OPENAI_API_KEY}",
				Temperature: 0.7,
				MaxRetries:  3,
				TimeoutSecs: 300,
				Enabled:     true,
			},
		},
		Defaults: DefaultsCfg{
			Generator: "openai",
			PanelMode: "preview",
		},
		Pipeline: PipelineCfg{
			PollIntervalSeconds: 2,
			VisibilityMinutes:   5,
			StaleAfterMinutes:   10,
			BatchSize:           4,
			CredentialTTLMins:   5,
		},
		Storage: StorageCfg{
			OffloadThresholdKB: 400,
		},
		Server: ServerCfg{
			Addr: "localhost:8780",
		},
	}
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
