package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/coalesce-dev/coalesce/internal/signature"
)

var aliasCmd = &cobra.Command{
	Use:   "alias <from-signature> <to-signature>",
	Short: "Register two signature spellings as the same issue",
	Long: `Register an equivalence so that conversations classified under the
first spelling group under the second. Equivalences are persisted and
resolve transitively; registering a pair that would create a cycle is
rejected.

The equivalence applies to conversations matched after registration.
Existing groups keep their signatures; use 'coalesce reconcile' to see
which spellings still have no group.

Example:
  coalesce alias "Billing_Cancel_V1" "billing cancel"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		engine := openEngine(ctx, loadConfig())
		defer engine.Close()

		from, to := args[0], args[1]
		if err := engine.RegisterEquivalence(ctx, from, to); err != nil {
			var conflict *signature.ConflictingEquivalenceError
			if errors.As(err, &conflict) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", conflict)
				fmt.Fprintf(os.Stderr, "Existing equivalences were left unchanged.\n")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s %s now resolves to %s\n",
			green("✓"), cyan(signature.Normalize(from)), cyan(engine.Canonical(from)))
	},
}

func init() {
	rootCmd.AddCommand(aliasCmd)
}
