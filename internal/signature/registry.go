// Package signature resolves free-text issue signatures to their
// canonical form.
//
// The upstream classifier is free-text, so the same underlying issue
// shows up under several spellings ("billing_cancel_v1", "Billing
// Cancel"). Reviewers and batch jobs record equivalences between
// spellings; the registry normalizes text and walks the equivalence
// chain so grouping always keys on one canonical signature.
package signature

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// EquivalenceRecorder persists registered equivalences so they survive
// restarts. The sqlite storage backend implements it.
type EquivalenceRecorder interface {
	RecordEquivalence(ctx context.Context, from, to string) error
}

// ConflictingEquivalenceError is returned when registering a pair would
// create a resolution cycle. Existing mappings are left untouched.
type ConflictingEquivalenceError struct {
	From string
	To   string
}

func (e *ConflictingEquivalenceError) Error() string {
	return fmt.Sprintf("equivalence %q -> %q would create a cycle", e.From, e.To)
}

// Registry maps signature spellings to canonical signatures.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	forward  map[string]string // normalized from -> normalized to
	recorder EquivalenceRecorder
}

// NewRegistry creates an empty registry. The recorder is optional; when
// nil, equivalences live only in memory.
func NewRegistry(recorder EquivalenceRecorder) *Registry {
	return &Registry{
		forward:  make(map[string]string),
		recorder: recorder,
	}
}

// Normalize reduces a signature to its canonical text form: lowercased,
// trimmed, underscores treated as spaces, internal whitespace collapsed.
func Normalize(signature string) string {
	s := strings.ToLower(strings.TrimSpace(signature))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

// GetCanonical returns the fully resolved canonical form of a
// signature, following registered equivalences transitively. A
// signature with no mapping resolves to its own normalized form.
// Pure read; never mutates the registry.
func (r *Registry) GetCanonical(signature string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(Normalize(signature))
}

// resolveLocked walks the chain under a held lock. The visited set is a
// guard only: RegisterEquivalence refuses cycles, so a loop here means
// persisted state was corrupted externally, and we stop walking.
func (r *Registry) resolveLocked(normalized string) string {
	current := normalized
	visited := map[string]struct{}{current: {}}
	for {
		next, ok := r.forward[current]
		if !ok {
			return current
		}
		if _, seen := visited[next]; seen {
			return current
		}
		visited[next] = struct{}{}
		current = next
	}
}

// RegisterEquivalence records that from resolves to to. Registering the
// same pair again is a no-op; a pair whose normalized forms are equal
// is a no-op; a pair that would make resolution cyclic fails with
// ConflictingEquivalenceError without touching existing mappings.
func (r *Registry) RegisterEquivalence(ctx context.Context, from, to string) error {
	nf, nt := Normalize(from), Normalize(to)
	if nf == "" || nt == "" {
		return fmt.Errorf("equivalence signatures must be non-empty")
	}
	if nf == nt {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.forward[nf]; ok && existing == nt {
		return nil
	}

	// Walking from the target must not lead back to the source.
	if r.resolveLocked(nt) == nf {
		return &ConflictingEquivalenceError{From: from, To: to}
	}

	if r.recorder != nil {
		if err := r.recorder.RecordEquivalence(ctx, nf, nt); err != nil {
			return fmt.Errorf("failed to persist equivalence: %w", err)
		}
	}
	r.forward[nf] = nt
	return nil
}

// Load seeds the registry from persisted pairs, skipping any that would
// introduce a cycle. Used at engine startup.
func (r *Registry) Load(pairs map[string]string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for from, to := range pairs {
		nf, nt := Normalize(from), Normalize(to)
		if nf == "" || nt == "" || nf == nt {
			continue
		}
		if r.resolveLocked(nt) == nf {
			continue
		}
		r.forward[nf] = nt
		loaded++
	}
	return loaded
}

// ReconcileCounts re-keys raw per-signature counts by canonical
// signature. Entries whose canonical form appears in knownGroups land
// in matched, the rest in unmatched. Counts are conserved: the sums of
// both outputs always equal the sum of the input.
func (r *Registry) ReconcileCounts(raw map[string]int, knownGroups map[string]struct{}) (matched, unmatched map[string]int) {
	matched = make(map[string]int)
	unmatched = make(map[string]int)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for sig, count := range raw {
		canonical := r.resolveLocked(Normalize(sig))
		if _, known := knownGroups[canonical]; known {
			matched[canonical] += count
		} else {
			unmatched[canonical] += count
		}
	}
	return matched, unmatched
}
