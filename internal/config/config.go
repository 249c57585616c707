// Package config holds the daemon's YAML configuration and the per-user JSON
// config store under ~/.jacques.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from an optional YAML file.
// Missing file or missing fields take defaults; ports are fixed in the
// protocol and overridable only for tests.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Monitor MonitorConfig `yaml:"monitor"`
	Models  map[string]int `yaml:"models"`

	// Terminal preference override for the orchestrator, e.g. "kitty".
	PreferredTerminal string `yaml:"preferred_terminal"`
	// AssistantCmd is the binary launched for new sessions.
	AssistantCmd string `yaml:"assistant_cmd"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	WSPort   int    `yaml:"ws_port"`
	HTTPPort int    `yaml:"http_port"`
}

type MonitorConfig struct {
	VerifyInterval  time.Duration `yaml:"verify_interval"`
	IdleStatusAfter time.Duration `yaml:"idle_status_after"`
	IdleRemoveAfter time.Duration `yaml:"idle_remove_after"`
	EnrichGrace     time.Duration `yaml:"enrich_grace"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "localhost",
			WSPort:   4242,
			HTTPPort: 4243,
		},
		Monitor: MonitorConfig{
			VerifyInterval:  30 * time.Second,
			IdleStatusAfter: 5 * time.Minute,
			IdleRemoveAfter: 4 * time.Hour,
			EnrichGrace:     60 * time.Second,
			CleanupInterval: 15 * time.Second,
		},
		Models: map[string]int{
			"default": 200000,
		},
		AssistantCmd: "claude",
	}
}

// Load reads the YAML config at path over the defaults. A missing file is
// not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MaxContextTokens returns the context window for a model id, falling back
// to the configured default.
func (c *Config) MaxContextTokens(model string) int {
	if n, ok := c.Models[model]; ok {
		return n
	}
	if n, ok := c.Models["default"]; ok {
		return n
	}
	return 200000
}
