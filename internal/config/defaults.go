package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDataDir          = "data"
	DefaultRegistryPath     = "configs/market_registry.json"
	DefaultCollectorTimeout = 30 * time.Second
	DefaultMaxAttempts      = 4
	DefaultInitialBackoff   = 2 * time.Second
	DefaultMaxChunk         = 7 * 24 * time.Hour
	DefaultConcurrency      = 4
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
)

func (c *ArchiveConfig) applyDefaults() {
	// Storage defaults
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}

	// Registry defaults
	if c.Registry.Path == "" {
		c.Registry.Path = DefaultRegistryPath
	}

	// Collector defaults
	for i := range c.Collectors {
		if c.Collectors[i].Timeout == 0 {
			c.Collectors[i].Timeout = DefaultCollectorTimeout
		}
	}

	// Backfill defaults
	if c.Backfill.MaxAttempts == 0 {
		c.Backfill.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backfill.InitialBackoff == 0 {
		c.Backfill.InitialBackoff = DefaultInitialBackoff
	}
	if c.Backfill.MaxChunk == 0 {
		c.Backfill.MaxChunk = DefaultMaxChunk
	}
	if c.Backfill.Concurrency == 0 {
		c.Backfill.Concurrency = DefaultConcurrency
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
