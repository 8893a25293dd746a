package matcher

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds configuration for the group matcher
type Config struct {
	// MinGroupSize is the member count at which an active group
	// graduates into a work item. Default: 3
	MinGroupSize int

	// AutoGraduate enables synchronous graduation when a group reaches
	// MinGroupSize. When false, groups only accumulate. Default: true
	AutoGraduate bool

	// BatchParallelism bounds concurrent workers in BatchMatch.
	// Items sharing a canonical signature are always serialized on one
	// worker. Default: 4
	BatchParallelism int
}

// DefaultConfig returns the default matcher configuration
func DefaultConfig() Config {
	return Config{
		MinGroupSize:     3,
		AutoGraduate:     true,
		BatchParallelism: 4,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.MinGroupSize < 1 {
		return fmt.Errorf("min_group_size must be positive (got %d)", c.MinGroupSize)
	}
	if c.MinGroupSize > 1000 {
		return fmt.Errorf("min_group_size too large (got %d, max 1000)", c.MinGroupSize)
	}
	if c.BatchParallelism < 1 {
		return fmt.Errorf("batch_parallelism must be positive (got %d)", c.BatchParallelism)
	}
	if c.BatchParallelism > 64 {
		return fmt.Errorf("batch_parallelism too large (got %d, max 64)", c.BatchParallelism)
	}
	return nil
}

// ConfigFromEnv creates a Config from environment variables, falling
// back to defaults.
//
// Environment variables:
//   - COALESCE_MIN_GROUP_SIZE: graduation threshold (default: 3)
//   - COALESCE_AUTO_GRADUATE: enable auto graduation (default: true)
//   - COALESCE_BATCH_PARALLELISM: batch worker bound (default: 4)
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvInt("COALESCE_MIN_GROUP_SIZE", &cfg.MinGroupSize); err != nil {
		return cfg, err
	}
	if err := parseEnvBool("COALESCE_AUTO_GRADUATE", &cfg.AutoGraduate); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("COALESCE_BATCH_PARALLELISM", &cfg.BatchParallelism); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
