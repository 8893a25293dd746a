package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/coalesce-dev/coalesce/internal/types"
)

var (
	groupsGraduated bool
	groupsActive    bool
	groupsMinSize   int
	groupsLimit     int
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List conversation groups",
	Long: `List groups, largest first.

Example:
  coalesce groups                  # Everything
  coalesce groups --active --min-size 2
  coalesce groups --graduated`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if groupsGraduated && groupsActive {
			fmt.Fprintf(os.Stderr, "Error: --graduated and --active are mutually exclusive\n")
			os.Exit(1)
		}

		ctx := context.Background()
		engine := openEngine(ctx, loadConfig())
		defer engine.Close()

		filter := types.OrphanFilter{MinSize: groupsMinSize, Limit: groupsLimit}
		if groupsGraduated {
			v := true
			filter.Graduated = &v
		}
		if groupsActive {
			v := false
			filter.Graduated = &v
		}

		orphans, err := engine.ListOrphans(ctx, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(orphans) == 0 {
			fmt.Println("No groups match.")
			return
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, o := range orphans {
			state := gray("active")
			if o.IsGraduated() {
				state = green("graduated → " + o.WorkItemID)
			}
			fmt.Printf("%s  %s  %d members  %s\n",
				gray(shortID(o.ID)), cyan(o.Signature), len(o.ConversationIDs), state)
			if len(o.Bundle.Intents) > 0 {
				fmt.Printf("    %s\n", gray("intents: "+strings.Join(o.Bundle.Intents, "; ")))
			}
		}
		fmt.Printf("\n%d groups\n", len(orphans))
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.Flags().BoolVar(&groupsGraduated, "graduated", false, "Only graduated groups")
	groupsCmd.Flags().BoolVar(&groupsActive, "active", false, "Only active groups")
	groupsCmd.Flags().IntVar(&groupsMinSize, "min-size", 0, "Minimum member count")
	groupsCmd.Flags().IntVar(&groupsLimit, "limit", 0, "Maximum groups to list (0 = all)")
}
