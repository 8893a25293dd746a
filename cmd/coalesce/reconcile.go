package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <counts.json>",
	Short: "Re-key raw signature counts by canonical signature",
	Long: `Reconcile an external per-signature conversation tally against the
group store. Input is a JSON object mapping raw signatures to counts:

  {"Billing_Cancel_V1": 12, "billing cancel": 30, "weird typo": 2}

Counts are re-keyed by canonical signature and split into signatures
that have a group and signatures that do not. Unmatched entries with
high counts are candidates for 'coalesce alias'. Counts are conserved:
the two sections always sum to the input total.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		var raw map[string]int
		if err := json.Unmarshal(data, &raw); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to parse %s: %v\n", args[0], err)
			os.Exit(1)
		}

		ctx := context.Background()
		engine := openEngine(ctx, loadConfig())
		defer engine.Close()

		matched, unmatched, err := engine.Reconcile(ctx, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		fmt.Printf("\n%s Matched (%d signatures)\n", green("✓"), len(matched))
		printCounts(matched)
		fmt.Printf("\n%s Unmatched (%d signatures)\n", yellow("!"), len(unmatched))
		printCounts(unmatched)
		fmt.Println()
	},
}

// printCounts prints a count map highest first.
func printCounts(counts map[string]int) {
	sigs := make([]string, 0, len(counts))
	for sig := range counts {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool {
		if counts[sigs[i]] != counts[sigs[j]] {
			return counts[sigs[i]] > counts[sigs[j]]
		}
		return sigs[i] < sigs[j]
	})
	for _, sig := range sigs {
		fmt.Printf("  %6d  %s\n", counts[sig], sig)
	}
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
