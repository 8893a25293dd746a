package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the local group store in the current directory",
	Long: `Initialize the local databases by creating the .coalesce/ directory.

This creates:
  - .coalesce/groups.db (the group store)
  - .coalesce/workitems.db (the built-in work item sink, if configured)

Paths come from the config file; the defaults put everything under
.coalesce/ in the current directory.

Example:
  cd ~/support-data
  coalesce init
  coalesce ingest themes.jsonl`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		ctx := context.Background()
		engine := openEngine(ctx, cfg)
		if err := engine.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to initialize databases: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s Initialized group store\n\n", green("✓"))
		fmt.Printf("  Groups: %s\n", cyan(cfg.DBPath))
		if cfg.Sink.Path != "" {
			fmt.Printf("  Work items: %s\n", cyan(cfg.Sink.Path))
		}
		fmt.Println()
		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("coalesce ingest themes.jsonl"))
		fmt.Printf("  %s\n", gray("coalesce stats"))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
