package quality

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds configuration for the theme quality gate
type Config struct {
	// Threshold is the minimum score (0.0-1.0) a theme needs to pass.
	// Default: 0.3 (low-confidence themes fail unless vocabulary-matched)
	Threshold float64

	// VocabularyBonus is added to the base score when the signature
	// matched the curated issue vocabulary. Default: 0.2
	VocabularyBonus float64

	// Denylist holds signatures that always fail with score 0.0,
	// regardless of confidence. Matched after normalization.
	// Default: catch-all buckets like "uncategorized"
	Denylist []string
}

// DefaultDenylist covers the classifier's catch-all buckets
var DefaultDenylist = []string{
	"uncategorized",
	"unknown",
	"other",
	"misc",
	"general inquiry",
}

// DefaultConfig returns the default quality gate configuration
func DefaultConfig() Config {
	return Config{
		Threshold:       0.3,
		VocabularyBonus: 0.2,
		Denylist:        DefaultDenylist,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.Threshold < 0.0 || c.Threshold > 1.0 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0 (got %.2f)", c.Threshold)
	}
	if c.VocabularyBonus < 0.0 || c.VocabularyBonus > 1.0 {
		return fmt.Errorf("vocabulary_bonus must be between 0.0 and 1.0 (got %.2f)", c.VocabularyBonus)
	}
	return nil
}

// ConfigFromEnv creates a Config from environment variables, falling
// back to defaults.
//
// Environment variables:
//   - COALESCE_GATE_THRESHOLD: minimum passing score (default: 0.3)
//   - COALESCE_GATE_VOCAB_BONUS: vocabulary match bonus (default: 0.2)
//   - COALESCE_GATE_DENYLIST: comma-separated extra denylist entries
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvFloat("COALESCE_GATE_THRESHOLD", &cfg.Threshold); err != nil {
		return cfg, err
	}
	if err := parseEnvFloat("COALESCE_GATE_VOCAB_BONUS", &cfg.VocabularyBonus); err != nil {
		return cfg, err
	}
	if extra := os.Getenv("COALESCE_GATE_DENYLIST"); extra != "" {
		for _, entry := range strings.Split(extra, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				cfg.Denylist = append(cfg.Denylist, entry)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
