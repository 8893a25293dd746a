package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/coalesce-dev/coalesce/internal/matcher"
	"github.com/coalesce-dev/coalesce/internal/quality"
	"github.com/coalesce-dev/coalesce/internal/types"
)

var ingestVerbose bool

// themeRecord is one JSONL line of classifier output
type themeRecord struct {
	ConversationID    string   `json:"conversation_id"`
	Signature         string   `json:"signature"`
	Intent            string   `json:"intent,omitempty"`
	Symptoms          []string `json:"symptoms,omitempty"`
	ProductArea       string   `json:"product_area,omitempty"`
	Component         string   `json:"component,omitempty"`
	Excerpt           string   `json:"excerpt,omitempty"`
	MatchedVocabulary bool     `json:"matched_vocabulary"`
	Confidence        string   `json:"confidence"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Match a batch of classified conversations from JSONL",
	Long: `Ingest classifier output and match each conversation into a group.

Input is JSONL, one record per line:
  {"conversation_id": "conv-123", "signature": "billing cancel",
   "intent": "cancel subscription", "symptoms": ["charged after cancel"],
   "excerpt": "I cancelled but was charged again",
   "matched_vocabulary": true, "confidence": "high"}

Reads from stdin when no file is given. Records that fail the quality
gate are skipped and reported; records sharing a signature are matched
in input order.

Example:
  coalesce ingest themes.jsonl
  classifier --since=1h | coalesce ingest`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()
			in = f
		}

		candidates, skipped, err := readCandidates(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(candidates) == 0 && skipped == 0 {
			fmt.Println("No records to ingest.")
			return
		}

		ctx := context.Background()
		cfg := loadConfig()
		engine := openEngine(ctx, cfg)
		defer engine.Close()

		gated, outcome := engine.ProcessBatch(ctx, candidates)

		printIngestSummary(gated, outcome, skipped)
		if len(outcome.Errors) > 0 {
			os.Exit(1)
		}
	},
}

// readCandidates parses JSONL into gate candidates. Malformed lines are
// counted and skipped rather than aborting the batch.
func readCandidates(in io.Reader) ([]quality.Candidate, int, error) {
	var candidates []quality.Candidate
	skipped := 0

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec themeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping malformed line %d: %v\n", line, err)
			skipped++
			continue
		}
		candidates = append(candidates, quality.Candidate{
			ConversationID: rec.ConversationID,
			Theme: types.ExtractedTheme{
				Signature:   rec.Signature,
				Intent:      rec.Intent,
				Symptoms:    rec.Symptoms,
				ProductArea: rec.ProductArea,
				Component:   rec.Component,
				Excerpt:     rec.Excerpt,
			},
			MatchedVocabulary: rec.MatchedVocabulary,
			Confidence:        types.Confidence(rec.Confidence),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to read input: %w", err)
	}
	return candidates, skipped, nil
}

func printIngestSummary(gated quality.BatchResult, outcome *matcher.BatchOutcome, skipped int) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	byAction := make(map[types.MatchAction]int)
	for _, r := range outcome.Results {
		if r != nil {
			byAction[r.Action]++
		}
	}

	fmt.Printf("\n%s Ingested %d conversations\n\n", green("✓"), len(gated.Accepted))
	for _, action := range []types.MatchAction{
		types.ActionCreated, types.ActionUpdated, types.ActionGraduated,
		types.ActionAddedToStory, types.ActionAlreadyExists,
		types.ActionGraduationFailed, types.ActionNoEvidenceService,
	} {
		if n := byAction[action]; n > 0 {
			fmt.Printf("  %-20s %d\n", action, n)
		}
	}

	if len(gated.Rejected) > 0 {
		fmt.Printf("\n%s %d rejected by the quality gate\n", yellow("!"), len(gated.Rejected))
		if ingestVerbose {
			for _, d := range gated.Diagnostics {
				fmt.Printf("  %s\n", gray(d))
			}
		} else {
			fmt.Printf("  %s\n", gray("(use --verbose for reasons)"))
		}
	}
	if skipped > 0 {
		fmt.Printf("\n%s %d malformed lines skipped\n", yellow("!"), skipped)
	}
	for i, err := range outcome.Errors {
		fmt.Printf("\n%s item %d: %v\n", red("✗"), i, err)
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVarP(&ingestVerbose, "verbose", "v", false, "Print gate rejection reasons")
}
