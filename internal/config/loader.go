package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	OutputDir    string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// Local diffusion runtime; empty disables the local route.
	SDBin string `json:"sd_bin" yaml:"sd_bin" toml:"sd_bin"`

	// Remote provider.
	ProviderBaseURL string `json:"provider_base_url" yaml:"provider_base_url" toml:"provider_base_url"`
	ProviderAPIKey  string `json:"provider_api_key" yaml:"provider_api_key" toml:"provider_api_key"`
	WebhookBase     string `json:"webhook_base" yaml:"webhook_base" toml:"webhook_base"`

	// Completion timers, in seconds. Zero picks the broker defaults.
	PushTimeoutSec  int `json:"push_timeout_sec" yaml:"push_timeout_sec" toml:"push_timeout_sec"`
	PollIntervalSec int `json:"poll_interval_sec" yaml:"poll_interval_sec" toml:"poll_interval_sec"`
	TotalTimeoutSec int `json:"total_timeout_sec" yaml:"total_timeout_sec" toml:"total_timeout_sec"`

	// CORS (opt-in).
	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`

	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
