package matcher

import (
	"context"
	"fmt"
	"log"

	"github.com/coalesce-dev/coalesce/internal/quality"
	"github.com/coalesce-dev/coalesce/internal/signature"
	"github.com/coalesce-dev/coalesce/internal/sink"
	"github.com/coalesce-dev/coalesce/internal/storage"
	"github.com/coalesce-dev/coalesce/internal/types"
)

// EngineConfig wires the storage backend, gate, matcher, and sinks into
// one engine. Sinks may be nil (grouping-only mode).
type EngineConfig struct {
	Storage   *storage.Config
	Gate      quality.Config
	Matcher   Config
	WorkItems sink.WorkItemSink
	Evidence  sink.EvidenceSink
}

// DefaultEngineConfig returns an engine config with all sub-configs at
// their defaults and no sinks.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Storage: storage.DefaultConfig(),
		Gate:    quality.DefaultConfig(),
		Matcher: DefaultConfig(),
	}
}

// Engine is the top-level façade: it owns the storage handle, keeps the
// signature registry warm from persisted equivalences, and runs themes
// through the quality gate before matching.
type Engine struct {
	store    storage.Storage
	registry *signature.Registry
	gate     *quality.Gate
	matcher  *Matcher
}

// NewEngine opens storage, seeds the registry from persisted
// equivalences, and assembles the gate and matcher. The caller owns the
// engine and must Close it.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	if cfg.Storage == nil {
		cfg.Storage = storage.DefaultConfig()
	}

	store, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	registry := signature.NewRegistry(store)
	pairs, err := store.ListEquivalences(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load equivalences: %w", err)
	}
	if n := registry.Load(pairs); n > 0 {
		log.Printf("[ENGINE] loaded %d signature equivalences", n)
	}

	gate, err := quality.NewGate(cfg.Gate)
	if err != nil {
		store.Close()
		return nil, err
	}

	m, err := New(cfg.Matcher, store, registry, cfg.WorkItems, cfg.Evidence)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Engine{
		store:    store,
		registry: registry,
		gate:     gate,
		matcher:  m,
	}, nil
}

// ProcessResult pairs the gate decision with the match outcome. Match
// is nil when the gate rejected the theme.
type ProcessResult struct {
	Gate  quality.Result
	Match *types.MatchResult
}

// Process runs one conversation through the gate and, if it passes,
// through the matcher. Gate rejections are not errors: the caller gets
// the score and reason and decides what to log or count.
func (e *Engine) Process(ctx context.Context, c quality.Candidate) (*ProcessResult, error) {
	res := e.gate.Check(c.Theme.Signature, c.MatchedVocabulary, c.Confidence)
	if !res.Passed {
		return &ProcessResult{Gate: res}, nil
	}

	match, err := e.matcher.MatchAndAccumulate(ctx, c.ConversationID, c.Theme)
	if err != nil {
		return nil, err
	}
	return &ProcessResult{Gate: res, Match: match}, nil
}

// ProcessBatch gates a batch and matches the survivors in parallel.
// Rejected candidates surface only in Diagnostics; per-item match
// errors surface in the batch outcome, keyed by the accepted slice's
// indices.
func (e *Engine) ProcessBatch(ctx context.Context, candidates []quality.Candidate) (quality.BatchResult, *BatchOutcome) {
	gated := e.gate.CheckBatch(candidates)

	items := make([]BatchItem, len(gated.Accepted))
	for i, c := range gated.Accepted {
		items[i] = BatchItem{ConversationID: c.ConversationID, Theme: c.Theme}
	}
	return gated, e.matcher.BatchMatch(ctx, items)
}

// RegisterEquivalence records that fromSignature should resolve to
// toSignature, persisting the pair through storage.
func (e *Engine) RegisterEquivalence(ctx context.Context, fromSignature, toSignature string) error {
	return e.registry.RegisterEquivalence(ctx, fromSignature, toSignature)
}

// Canonical returns the canonical form of a signature under the
// currently registered equivalences.
func (e *Engine) Canonical(sig string) string {
	return e.registry.GetCanonical(sig)
}

// Reconcile re-keys raw per-signature conversation counts by canonical
// signature and splits them by whether a group exists for the
// signature. Useful for spotting spellings that should be registered as
// equivalences.
func (e *Engine) Reconcile(ctx context.Context, raw map[string]int) (matched, unmatched map[string]int, err error) {
	orphans, err := e.store.ListOrphans(ctx, types.OrphanFilter{})
	if err != nil {
		return nil, nil, err
	}
	known := make(map[string]struct{}, len(orphans))
	for _, o := range orphans {
		known[o.Signature] = struct{}{}
	}
	matched, unmatched = e.registry.ReconcileCounts(raw, known)
	return matched, unmatched, nil
}

// ListOrphans returns groups matching the filter.
func (e *Engine) ListOrphans(ctx context.Context, filter types.OrphanFilter) ([]*types.Orphan, error) {
	return e.store.ListOrphans(ctx, filter)
}

// GetOrphanBySignature returns the group for a signature's canonical
// form, or nil if none exists.
func (e *Engine) GetOrphanBySignature(ctx context.Context, sig string) (*types.Orphan, error) {
	return e.store.GetOrphanBySignature(ctx, e.registry.GetCanonical(sig))
}

// Events returns the audit trail for one group, oldest first. A limit
// of 0 means no limit.
func (e *Engine) Events(ctx context.Context, orphanID string, limit int) ([]*types.GroupEvent, error) {
	return e.store.GetGroupEvents(ctx, orphanID, limit)
}

// Statistics returns aggregate grouping numbers.
func (e *Engine) Statistics(ctx context.Context) (*types.Statistics, error) {
	return e.store.GetStatistics(ctx)
}

// Close releases the storage handle.
func (e *Engine) Close() error {
	return e.store.Close()
}
