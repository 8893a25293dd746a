package sink

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a pair of sinks with a shared token-bucket limiter
// so a burst of graduations cannot overwhelm an external tracker API.
// A blocked Wait respects the caller's context; cancellation surfaces
// as a SinkError to the matcher, which reports graduation_failed or
// no_evidence_service without losing the grouping decision.
type RateLimited struct {
	workItems WorkItemSink
	evidence  EvidenceSink
	limiter   *rate.Limiter
}

// NewRateLimited wraps the given sinks, allowing rps calls per second
// with the given burst
func NewRateLimited(workItems WorkItemSink, evidence EvidenceSink, rps float64, burst int) *RateLimited {
	return &RateLimited{
		workItems: workItems,
		evidence:  evidence,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Create waits for limiter capacity, then delegates
func (r *RateLimited) Create(ctx context.Context, req CreateRequest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return r.workItems.Create(ctx, req)
}

// AddConversation waits for limiter capacity, then delegates
func (r *RateLimited) AddConversation(ctx context.Context, workItemID, conversationID, excerpt, originatingSignature string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return r.evidence.AddConversation(ctx, workItemID, conversationID, excerpt, originatingSignature)
}
