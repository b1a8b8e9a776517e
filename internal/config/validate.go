package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ArchiveConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Registry.Path == "" {
		return errors.New("registry.path is required")
	}

	if len(c.Collectors) == 0 {
		return errors.New("at least one collector is required")
	}
	claimed := make(map[string]string)
	for i, col := range c.Collectors {
		prefix := fmt.Sprintf("collectors[%d]", i)
		if col.Name != "gridapi" {
			return fmt.Errorf("%s.name: unknown collector %q", prefix, col.Name)
		}
		if col.BaseURL == "" {
			return fmt.Errorf("%s.base_url is required", prefix)
		}
		if len(col.Markets) == 0 {
			return fmt.Errorf("%s.markets must not be empty", prefix)
		}
		for _, m := range col.Markets {
			if prev, dup := claimed[m]; dup {
				return fmt.Errorf("%s: market %s already claimed by %s", prefix, m, prev)
			}
			claimed[m] = prefix
		}
	}

	if c.Backfill.MaxAttempts < 1 {
		return errors.New("backfill.max_attempts must be >= 1")
	}
	if c.Backfill.Concurrency < 1 {
		return errors.New("backfill.concurrency must be >= 1")
	}
	if c.Backfill.InitialBackoff <= 0 {
		return errors.New("backfill.initial_backoff must be positive")
	}
	if c.Backfill.MaxChunk <= 0 {
		return errors.New("backfill.max_chunk must be positive")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}
