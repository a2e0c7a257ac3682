package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"regline/internal/domain"
)

// Config models registry.yml. Every field has a default so a workspace
// without a config file works out of the box.
type Config struct {
	Exports struct {
		Dir     string   `yaml:"dir"`
		Formats []string `yaml:"formats"`
	} `yaml:"exports"`
	Importer struct {
		MaxRetries int `yaml:"max_retries"`
		BackoffMS  int `yaml:"backoff_ms"`
	} `yaml:"importer"`
	Defaults struct {
		Priority string `yaml:"priority"`
		Category string `yaml:"category"`
	} `yaml:"defaults"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	c.Exports.Dir = "exports"
	c.Exports.Formats = []string{"markdown", "json"}
	c.Importer.MaxRetries = 5
	c.Importer.BackoffMS = 100
	c.Defaults.Priority = domain.PriorityMedium
	return &c
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Exports.Dir == "" {
		return fmt.Errorf("config.exports.dir is required")
	}
	for _, f := range c.Exports.Formats {
		if f != "markdown" && f != "json" {
			return fmt.Errorf("config.exports.formats contains unknown format %q", f)
		}
	}
	if c.Importer.MaxRetries < 0 {
		return fmt.Errorf("config.importer.max_retries must be >= 0")
	}
	if c.Importer.BackoffMS < 0 {
		return fmt.Errorf("config.importer.backoff_ms must be >= 0")
	}
	if c.Defaults.Priority != "" && !domain.ValidPriority(c.Defaults.Priority) {
		return fmt.Errorf("config.defaults.priority %q is not a priority", c.Defaults.Priority)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "registry.yml")
}

// Load reads registry.yml from the workspace, falling back to defaults when
// the file does not exist. Explicit values override defaults field by field.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
