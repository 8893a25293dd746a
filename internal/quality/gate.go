// Package quality filters noisy extracted themes before they reach the
// grouping engine. Catch-all signatures and low-confidence themes would
// otherwise accumulate into junk groups that graduate into junk work
// items.
package quality

import (
	"fmt"

	"github.com/coalesce-dev/coalesce/internal/signature"
	"github.com/coalesce-dev/coalesce/internal/types"
)

// Result is the outcome of checking one theme
type Result struct {
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// Candidate pairs a conversation's theme with its gate inputs for
// batch checking
type Candidate struct {
	ConversationID    string
	Theme             types.ExtractedTheme
	MatchedVocabulary bool
	Confidence        types.Confidence
}

// BatchResult splits a batch of candidates into accepted and rejected,
// with one diagnostic per rejection. Diagnostics carry the signature
// and the reason but never conversation identifiers.
type BatchResult struct {
	Accepted    []Candidate
	Rejected    []Candidate
	Diagnostics []string
}

// Gate is a stateless, side-effect-free scorer for extracted themes
type Gate struct {
	cfg      Config
	denylist map[string]struct{}
}

// NewGate creates a quality gate from the given configuration
func NewGate(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gate config: %w", err)
	}
	denylist := make(map[string]struct{}, len(cfg.Denylist))
	for _, entry := range cfg.Denylist {
		denylist[signature.Normalize(entry)] = struct{}{}
	}
	return &Gate{cfg: cfg, denylist: denylist}, nil
}

// Check scores a signature for noise. Denylisted signatures
// short-circuit to score 0.0 before any score computation. Otherwise
// the base score comes from confidence (high=1.0, medium=0.6, low=0.2)
// plus a flat vocabulary bonus, capped at 1.0. A theme passes iff its
// score meets the threshold.
func (g *Gate) Check(sig string, matchedVocabulary bool, confidence types.Confidence) Result {
	normalized := signature.Normalize(sig)
	if normalized == "" {
		return Result{Passed: false, Score: 0.0, Reason: "empty signature"}
	}
	if _, denied := g.denylist[normalized]; denied {
		return Result{Passed: false, Score: 0.0, Reason: fmt.Sprintf("signature %q is denylisted", normalized)}
	}

	score := baseScore(confidence)
	if matchedVocabulary {
		score += g.cfg.VocabularyBonus
	}
	if score > 1.0 {
		score = 1.0
	}

	if score < g.cfg.Threshold {
		return Result{
			Passed: false,
			Score:  score,
			Reason: fmt.Sprintf("score %.2f below threshold %.2f (confidence=%s)", score, g.cfg.Threshold, confidence),
		}
	}
	return Result{Passed: true, Score: score}
}

// CheckBatch applies the gate to many candidates. Rejections do not
// abort the batch; each rejected candidate contributes one diagnostic.
func (g *Gate) CheckBatch(candidates []Candidate) BatchResult {
	var out BatchResult
	for _, c := range candidates {
		res := g.Check(c.Theme.Signature, c.MatchedVocabulary, c.Confidence)
		if res.Passed {
			out.Accepted = append(out.Accepted, c)
			continue
		}
		out.Rejected = append(out.Rejected, c)
		out.Diagnostics = append(out.Diagnostics,
			fmt.Sprintf("rejected signature %q: %s", signature.Normalize(c.Theme.Signature), res.Reason))
	}
	return out
}

func baseScore(confidence types.Confidence) float64 {
	switch confidence {
	case types.ConfidenceHigh:
		return 1.0
	case types.ConfidenceMedium:
		return 0.6
	case types.ConfidenceLow:
		return 0.2
	default:
		// Unknown confidence is treated as low rather than rejected
		// outright; the threshold decides.
		return 0.2
	}
}
