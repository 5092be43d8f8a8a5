package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models civicline.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Batch struct {
		Workers int `yaml:"workers"`
	} `yaml:"batch"`
	Runtime struct {
		Type           string `yaml:"type"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"runtime"`
	Ledger struct {
		Enabled       bool `yaml:"enabled"`
		MaxAttempts   int  `yaml:"max_attempts"`
		BaseBackoffMs int  `yaml:"base_backoff_ms"`
		LatencyMs     int  `yaml:"latency_ms"`
	} `yaml:"ledger"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run cvl init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("config.batch.workers must be at least 1")
	}
	if c.Runtime.Type != "local" {
		return fmt.Errorf("config.runtime.type must be 'local'")
	}
	if c.Runtime.TimeoutSeconds < 1 {
		return fmt.Errorf("config.runtime.timeout_seconds must be at least 1")
	}
	if c.Ledger.Enabled {
		if c.Ledger.MaxAttempts < 1 {
			return fmt.Errorf("config.ledger.max_attempts must be at least 1")
		}
		if c.Ledger.BaseBackoffMs < 1 {
			return fmt.Errorf("config.ledger.base_backoff_ms must be at least 1")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "civicline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: "127.0.0.1:8787"
  jwt_secret: ""

batch:
  workers: 4

runtime:
  type: local
  timeout_seconds: 30

ledger:
  enabled: true
  max_attempts: 3
  base_backoff_ms: 500
  latency_ms: 50
`
