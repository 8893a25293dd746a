// Package config loads the engine's file-based configuration. A config
// file is optional: every field has a default, environment variables
// (COALESCE_*) override file values, and the zero-value path runs the
// engine fully local with a SQLite group store.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coalesce-dev/coalesce/internal/matcher"
	"github.com/coalesce-dev/coalesce/internal/quality"
	"github.com/coalesce-dev/coalesce/internal/storage"
	"github.com/coalesce-dev/coalesce/internal/types"
)

// DefaultPath is where the CLI looks for a config file when --config is
// not given. A missing file at this path is not an error.
const DefaultPath = ".coalesce/config.yaml"

// Config is the full engine configuration as read from YAML.
type Config struct {
	// DBPath is the SQLite group store location
	DBPath string `yaml:"db_path"`

	// Actor is stamped on audit events for mutations made by this process
	Actor string `yaml:"actor"`

	// MaxExcerpts bounds the excerpt sample kept per group
	MaxExcerpts int `yaml:"max_excerpts"`

	Gate    GateConfig    `yaml:"gate"`
	Matcher MatcherConfig `yaml:"matcher"`
	Sink    SinkConfig    `yaml:"sink"`
}

// GateConfig mirrors quality.Config for YAML loading.
type GateConfig struct {
	Threshold       float64  `yaml:"threshold"`
	VocabularyBonus float64  `yaml:"vocabulary_bonus"`
	Denylist        []string `yaml:"denylist"`
}

// MatcherConfig mirrors matcher.Config for YAML loading.
type MatcherConfig struct {
	MinGroupSize     int  `yaml:"min_group_size"`
	AutoGraduate     bool `yaml:"auto_graduate"`
	BatchParallelism int  `yaml:"batch_parallelism"`
}

// SinkConfig configures the built-in SQLite reference sink and its rate
// limit. Path empty means no sink: the engine groups but never
// graduates.
type SinkConfig struct {
	// Path is the SQLite work-item database; empty disables the sink
	Path string `yaml:"path"`

	// RatePerSecond throttles sink calls; 0 disables throttling
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	gate := quality.DefaultConfig()
	match := matcher.DefaultConfig()
	return &Config{
		DBPath:      ".coalesce/groups.db",
		Actor:       "coalesce",
		MaxExcerpts: types.DefaultMaxExcerpts,
		Gate: GateConfig{
			Threshold:       gate.Threshold,
			VocabularyBonus: gate.VocabularyBonus,
			Denylist:        gate.Denylist,
		},
		Matcher: MatcherConfig{
			MinGroupSize:     match.MinGroupSize,
			AutoGraduate:     match.AutoGraduate,
			BatchParallelism: match.BatchParallelism,
		},
		Sink: SinkConfig{
			Path:          ".coalesce/workitems.db",
			RatePerSecond: 0,
			Burst:         1,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies
// environment overrides. When path is DefaultPath and the file does not
// exist, defaults are returned without error; an explicit path must
// exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return applyEnv(cfg)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return applyEnv(cfg)
}

// applyEnv layers COALESCE_* path and identity overrides over file
// values. Subsystem tunables have their own env surface via the gate
// and matcher packages' ConfigFromEnv for library embedders; the file
// is authoritative for them here.
func applyEnv(cfg *Config) (*Config, error) {
	if v := os.Getenv("COALESCE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("COALESCE_ACTOR"); v != "" {
		cfg.Actor = v
	}
	if v := os.Getenv("COALESCE_SINK_PATH"); v != "" {
		cfg.Sink.Path = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate delegates to the sub-configs' own validation.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.MaxExcerpts < 0 {
		return fmt.Errorf("max_excerpts cannot be negative (got %d)", c.MaxExcerpts)
	}
	if err := c.QualityConfig().Validate(); err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	if err := c.MatchingConfig().Validate(); err != nil {
		return fmt.Errorf("matcher: %w", err)
	}
	if c.Sink.RatePerSecond < 0 {
		return fmt.Errorf("sink rate_per_second cannot be negative (got %g)", c.Sink.RatePerSecond)
	}
	return nil
}

// StorageConfig builds the group store config.
func (c *Config) StorageConfig() *storage.Config {
	return &storage.Config{
		Path:        c.DBPath,
		Actor:       c.Actor,
		MaxExcerpts: c.MaxExcerpts,
	}
}

// QualityConfig builds the quality gate config.
func (c *Config) QualityConfig() quality.Config {
	return quality.Config{
		Threshold:       c.Gate.Threshold,
		VocabularyBonus: c.Gate.VocabularyBonus,
		Denylist:        c.Gate.Denylist,
	}
}

// MatchingConfig builds the matcher config.
func (c *Config) MatchingConfig() matcher.Config {
	return matcher.Config{
		MinGroupSize:     c.Matcher.MinGroupSize,
		AutoGraduate:     c.Matcher.AutoGraduate,
		BatchParallelism: c.Matcher.BatchParallelism,
	}
}
