package matcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/coalesce-dev/coalesce/internal/quality"
	"github.com/coalesce-dev/coalesce/internal/storage"
	"github.com/coalesce-dev/coalesce/internal/types"
)

func newEngineConfig(t *testing.T) EngineConfig {
	t.Helper()
	cfg := DefaultEngineConfig()
	cfg.Storage = &storage.Config{
		Path:        filepath.Join(t.TempDir(), "groups.db"),
		Actor:       "test",
		MaxExcerpts: types.DefaultMaxExcerpts,
	}
	return cfg
}

func candidate(convID, sig string, conf types.Confidence) quality.Candidate {
	return quality.Candidate{
		ConversationID:    convID,
		Theme:             theme(sig),
		MatchedVocabulary: true,
		Confidence:        conf,
	}
}

func TestEngineProcessGatesBeforeMatching(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, newEngineConfig(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	// Denylisted signature never reaches the store.
	res, err := engine.Process(ctx, candidate("conv-1", "uncategorized", types.ConfidenceHigh))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Gate.Passed || res.Match != nil {
		t.Errorf("denylisted theme was not rejected: %+v", res)
	}
	stats, err := engine.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalGroups != 0 {
		t.Errorf("rejected theme created a group")
	}

	res, err = engine.Process(ctx, candidate("conv-1", "billing cancel", types.ConfidenceHigh))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Gate.Passed || res.Match == nil {
		t.Fatalf("expected accepted match, got %+v", res)
	}
	if res.Match.Action != types.ActionCreated {
		t.Errorf("expected created, got %s", res.Match.Action)
	}
}

func TestEngineEquivalencesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	cfg := newEngineConfig(t)

	engine, err := NewEngine(ctx, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.RegisterEquivalence(ctx, "Billing_Cancel_V1", "billing cancel"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := engine.Process(ctx, candidate("conv-1", "billing cancel", types.ConfidenceHigh)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewEngine(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen engine: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Canonical("billing_cancel_v1"); got != "billing cancel" {
		t.Errorf("equivalence lost across restart: canonical=%q", got)
	}
	o, err := reopened.GetOrphanBySignature(ctx, "Billing_Cancel_V1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if o == nil {
		t.Fatal("alias lookup found no group after restart")
	}
}

func TestEngineProcessBatch(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, newEngineConfig(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	batch := []quality.Candidate{
		candidate("conv-1", "billing cancel", types.ConfidenceHigh),
		candidate("conv-2", "uncategorized", types.ConfidenceHigh),
		candidate("conv-3", "billing cancel", types.ConfidenceMedium),
	}
	gated, outcome := engine.ProcessBatch(ctx, batch)

	if len(gated.Accepted) != 2 || len(gated.Rejected) != 1 {
		t.Fatalf("unexpected gate split: %d accepted, %d rejected",
			len(gated.Accepted), len(gated.Rejected))
	}
	if len(outcome.Errors) != 0 {
		t.Fatalf("unexpected match errors: %v", outcome.Errors)
	}
	if outcome.Results[0].Action != types.ActionCreated {
		t.Errorf("expected created, got %s", outcome.Results[0].Action)
	}
	if outcome.Results[1].Action != types.ActionUpdated {
		t.Errorf("expected updated, got %s", outcome.Results[1].Action)
	}
}

func TestEngineReconcile(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, newEngineConfig(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	if _, err := engine.Process(ctx, candidate("conv-1", "billing cancel", types.ConfidenceHigh)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := engine.RegisterEquivalence(ctx, "billing_cancel_v1", "billing cancel"); err != nil {
		t.Fatalf("register: %v", err)
	}

	raw := map[string]int{
		"Billing_Cancel_V1": 12,
		"billing cancel":    30,
		"weird typo":        2,
	}
	matched, unmatched, err := engine.Reconcile(ctx, raw)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if matched["billing cancel"] != 42 {
		t.Errorf("expected 42 matched under canonical signature, got %d", matched["billing cancel"])
	}
	if unmatched["weird typo"] != 2 {
		t.Errorf("expected weird typo unmatched, got %v", unmatched)
	}

	total := 0
	for _, n := range matched {
		total += n
	}
	for _, n := range unmatched {
		total += n
	}
	if total != 44 {
		t.Errorf("counts not conserved: %d", total)
	}
}
