package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coalesce-dev/coalesce/internal/config"
	"github.com/coalesce-dev/coalesce/internal/matcher"
	"github.com/coalesce-dev/coalesce/internal/sink"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "coalesce",
	Short: "Group support conversations by issue signature",
	Long: `Coalesce groups classified support conversations into buckets by
canonical issue signature and graduates buckets into work items once
they accumulate enough members.

Typical flow:
  coalesce init                    # Create the local databases
  coalesce ingest themes.jsonl     # Match a batch of classified conversations
  coalesce alias "Billing_Cancel_V1" "billing cancel"
  coalesce groups --min-size 2     # Inspect accumulation
  coalesce stats`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath,
		"Path to the YAML config file")
}

// loadConfig reads the config file named by --config.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openEngine assembles the engine from config, wiring the SQLite
// reference sink when one is configured.
func openEngine(ctx context.Context, cfg *config.Config) *matcher.Engine {
	ec := matcher.EngineConfig{
		Storage: cfg.StorageConfig(),
		Gate:    cfg.QualityConfig(),
		Matcher: cfg.MatchingConfig(),
	}

	if cfg.Sink.Path != "" {
		s, err := sink.NewSQLite(cfg.Sink.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open work item sink: %v\n", err)
			os.Exit(1)
		}
		if cfg.Sink.RatePerSecond > 0 {
			limited := sink.NewRateLimited(s, s, cfg.Sink.RatePerSecond, cfg.Sink.Burst)
			ec.WorkItems = limited
			ec.Evidence = limited
		} else {
			ec.WorkItems = s
			ec.Evidence = s
		}
	}

	engine, err := matcher.NewEngine(ctx, ec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return engine
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
