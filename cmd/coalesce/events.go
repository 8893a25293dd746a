package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/coalesce-dev/coalesce/internal/types"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events <group-id-or-signature>",
	Short: "Show the audit trail for a group",
	Long: `Show a group's audit trail: creation, member additions, graduation,
and work item recording. The argument is a group id or a signature
(resolved through registered equivalences).

Example:
  coalesce events "billing cancel"
  coalesce events 7f3a9c21-... --limit 20`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		engine := openEngine(ctx, loadConfig())
		defer engine.Close()

		orphanID := args[0]
		// Try the argument as a signature first; fall back to the raw id.
		if o, err := engine.GetOrphanBySignature(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		} else if o != nil {
			orphanID = o.ID
		}

		events, err := engine.Events(ctx, orphanID, eventsLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(events) == 0 {
			fmt.Println("No events found.")
			return
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, e := range events {
			marker := eventMarker(e.EventType)
			fmt.Printf("%s %s %-13s %s %s\n",
				gray(e.CreatedAt.Format("2006-01-02 15:04:05")),
				marker, e.EventType, e.Detail, gray("("+e.Actor+")"))
		}
	},
}

func eventMarker(t types.GroupEventType) string {
	switch t {
	case types.GroupEventGraduated, types.GroupEventWorkItemSet:
		return color.New(color.FgGreen).Sprint("●")
	case types.GroupEventCreated:
		return color.New(color.FgCyan).Sprint("●")
	default:
		return "●"
	}
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum events to show (0 = all)")
}
