package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ArchiveConfig is the root configuration for an archiver instance.
type ArchiveConfig struct {
	Instance   InstanceConfig    `yaml:"instance"`
	Storage    StorageConfig     `yaml:"storage"`
	Registry   RegistryConfig    `yaml:"registry"`
	Collectors []CollectorConfig `yaml:"collectors"`
	Backfill   BackfillConfig    `yaml:"backfill"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// InstanceConfig identifies this archiver.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// StorageConfig holds the data directory root.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// RegistryConfig points at the market descriptor file.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// CollectorConfig configures one upstream collector and the markets
// it claims. Each market may be claimed by exactly one collector.
type CollectorConfig struct {
	Name    string        `yaml:"name"` // collector implementation, e.g. "gridapi"
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Markets []string      `yaml:"markets"`
	Timeout time.Duration `yaml:"timeout"`
}

// BackfillConfig holds coordinator tuning.
type BackfillConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxChunk       time.Duration `yaml:"max_chunk"`
	Concurrency    int           `yaml:"concurrency"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*ArchiveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg ArchiveConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*ArchiveConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*ArchiveConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
