// Package config holds all mlc configuration: compiler options, the
// security policy tables, sandbox limits, and logging switches. One
// YAML file per workspace (.mlc/config.yaml), environment variables
// override on load.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Compiler CompilerConfig `yaml:"compiler"`
	Security SecurityConfig `yaml:"security"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "mlc",
		Version:  "0.9.0",
		Compiler: DefaultCompilerConfig(),
		Security: DefaultSecurityConfig(),
		Sandbox:  DefaultSandboxConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a config file and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadOrDefault loads the workspace config, falling back to defaults
// (with env overrides) when no file exists.
func LoadOrDefault(workspace string) *Config {
	path := filepath.Join(workspace, ".mlc", "config.yaml")
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := c.Sandbox.validate(); err != nil {
		return err
	}
	return c.Compiler.validate()
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	Level      string          `yaml:"level"`
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}
