package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate grouping statistics",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		engine := openEngine(ctx, loadConfig())
		defer engine.Close()

		stats, err := engine.Statistics(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("\n  Groups:      %s (%d active, %d graduated)\n",
			cyan(stats.TotalGroups), stats.ActiveGroups, stats.GraduatedGroups)
		fmt.Printf("  Members:     %s\n", cyan(stats.TotalMembers))
		fmt.Printf("  Largest:     %s\n\n", cyan(stats.LargestGroupSize))
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
