// Package matcher orchestrates grouping and graduation. For each
// incoming conversation it canonicalizes the theme's signature, finds
// or creates the group for it, appends the conversation, and decides
// whether the group graduates into a work item.
//
// Per signature the lifecycle is absent -> active -> graduated;
// graduated is terminal for the group, and the signature keeps routing
// new conversations to the resulting work item. All race handling
// leans on the store's conditional writes: the matcher holds no locks
// and never caches group state across calls.
package matcher

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coalesce-dev/coalesce/internal/signature"
	"github.com/coalesce-dev/coalesce/internal/sink"
	"github.com/coalesce-dev/coalesce/internal/storage"
	"github.com/coalesce-dev/coalesce/internal/types"
)

// Matcher routes conversations into groups and graduates groups into
// work items
type Matcher struct {
	cfg       Config
	store     storage.Storage
	registry  *signature.Registry
	workItems sink.WorkItemSink
	evidence  sink.EvidenceSink
}

// New creates a matcher. Both sinks may be nil: without a work-item
// sink auto-graduation is disabled, and without an evidence sink
// post-graduation matches report no_evidence_service so the caller can
// retry once one is wired up.
func New(cfg Config, store storage.Storage, registry *signature.Registry, workItems sink.WorkItemSink, evidence sink.EvidenceSink) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matcher config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("signature registry is required")
	}
	return &Matcher{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		workItems: workItems,
		evidence:  evidence,
	}, nil
}

// MatchAndAccumulate processes one conversation's extracted theme.
// Storage failures propagate as errors; sink failures are captured in
// the result action because the grouping decision has already been
// durably made and must not be undone by a downstream hiccup.
func (m *Matcher) MatchAndAccumulate(ctx context.Context, conversationID string, theme types.ExtractedTheme) (*types.MatchResult, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, &types.ValidationError{Field: "conversation_id", Reason: "is required"}
	}
	if err := theme.Validate(); err != nil {
		return nil, err
	}

	canonical := m.registry.GetCanonical(theme.Signature)

	orphan, err := m.store.GetOrphanBySignature(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if orphan != nil {
		return m.handleExisting(ctx, orphan, conversationID, theme)
	}

	orphan, created, err := m.store.CreateOrGetOrphan(ctx, canonical, conversationID, theme)
	if err != nil {
		return nil, err
	}
	if created {
		log.Printf("[MATCHER] created group for signature %q", canonical)
		return &types.MatchResult{
			Matched:     true,
			Action:      types.ActionCreated,
			OrphanID:    orphan.ID,
			Signature:   canonical,
			MemberCount: len(orphan.ConversationIDs),
		}, nil
	}

	// Lost the create race: branch on the winner's record exactly as if
	// it had been found in the lookup. One retry, no recursion, and the
	// conversation is never dropped.
	return m.handleExisting(ctx, orphan, conversationID, theme)
}

func (m *Matcher) handleExisting(ctx context.Context, orphan *types.Orphan, conversationID string, theme types.ExtractedTheme) (*types.MatchResult, error) {
	if orphan.IsGraduated() {
		return m.routeToWorkItem(ctx, orphan, conversationID, theme)
	}

	updated, status, err := m.store.AddConversation(ctx, orphan.ID, conversationID, theme)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("group %s for signature %q no longer exists", orphan.ID, orphan.Signature)
	}

	switch status {
	case storage.AddStatusAlreadyMember:
		return &types.MatchResult{
			Matched:     true,
			Action:      types.ActionAlreadyExists,
			OrphanID:    updated.ID,
			Signature:   updated.Signature,
			WorkItemID:  updated.WorkItemID,
			MemberCount: len(updated.ConversationIDs),
		}, nil

	case storage.AddStatusGraduated:
		// Graduated between lookup and append; route instead
		return m.routeToWorkItem(ctx, updated, conversationID, theme)
	}

	count := len(updated.ConversationIDs)
	if m.cfg.AutoGraduate && m.workItems != nil && count >= m.cfg.MinGroupSize {
		return m.attemptGraduation(ctx, updated, conversationID, theme)
	}

	return &types.MatchResult{
		Matched:     true,
		Action:      types.ActionUpdated,
		OrphanID:    updated.ID,
		Signature:   updated.Signature,
		MemberCount: count,
	}, nil
}

// attemptGraduation claims the graduation and, on a win, creates the
// work item. The claim is already durable when the sink is called, so a
// sink failure yields graduation_failed with membership intact; the
// retry only re-attempts work-item creation.
func (m *Matcher) attemptGraduation(ctx context.Context, orphan *types.Orphan, conversationID string, theme types.ExtractedTheme) (*types.MatchResult, error) {
	won, err := m.store.TryClaimGraduation(ctx, orphan.ID)
	if err != nil {
		return nil, err
	}

	if !won {
		// Another caller claimed first. This conversation was appended
		// before the claim, so it is part of the winner's member list;
		// report it against the winner's work item, waiting briefly for
		// the winner's in-flight sink call to record the id.
		fresh, err := m.awaitWorkItemID(ctx, orphan.ID)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, fmt.Errorf("group %s vanished after lost claim", orphan.ID)
		}
		return &types.MatchResult{
			Matched:     true,
			Action:      types.ActionAddedToStory,
			OrphanID:    fresh.ID,
			Signature:   fresh.Signature,
			WorkItemID:  fresh.WorkItemID,
			MemberCount: len(fresh.ConversationIDs),
		}, nil
	}

	// Re-read after the claim: the group is terminal now, so this is
	// the final member list and it seeds downstream evidence in one shot.
	fresh, err := m.store.GetOrphan(ctx, orphan.ID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, fmt.Errorf("group %s vanished after won claim", orphan.ID)
	}

	workItemID, err := m.createWorkItem(ctx, fresh)
	if err != nil {
		log.Printf("[MATCHER] graduation claim held but work item creation failed for %q: %v", fresh.Signature, err)
		if relErr := m.store.ReleaseWorkItemClaim(ctx, fresh.ID); relErr != nil {
			log.Printf("[MATCHER] failed to release work item claim for %q: %v", fresh.Signature, relErr)
		}
		return &types.MatchResult{
			Matched:     true,
			Action:      types.ActionGraduationFailed,
			OrphanID:    fresh.ID,
			Signature:   fresh.Signature,
			MemberCount: len(fresh.ConversationIDs),
			MemberIDs:   fresh.ConversationIDs,
		}, nil
	}

	log.Printf("[MATCHER] graduated signature %q with %d members into %s",
		fresh.Signature, len(fresh.ConversationIDs), workItemID)
	return &types.MatchResult{
		Matched:     true,
		Action:      types.ActionGraduated,
		OrphanID:    fresh.ID,
		Signature:   fresh.Signature,
		WorkItemID:  workItemID,
		MemberCount: len(fresh.ConversationIDs),
		MemberIDs:   fresh.ConversationIDs,
	}, nil
}

// createWorkItem calls the sink and records the resulting id. If a
// concurrent retry recorded an id first, the recorded id wins.
func (m *Matcher) createWorkItem(ctx context.Context, orphan *types.Orphan) (string, error) {
	workItemID, err := m.workItems.Create(ctx, sink.CreateRequest{
		TitleSeed:             orphan.Signature,
		MemberConversationIDs: orphan.ConversationIDs,
		Bundle:                orphan.Bundle,
	})
	if err != nil {
		return "", err
	}

	recorded, err := m.store.SetWorkItem(ctx, orphan.ID, workItemID)
	if err != nil {
		return "", err
	}
	if !recorded {
		fresh, err := m.store.GetOrphan(ctx, orphan.ID)
		if err != nil {
			return "", err
		}
		if fresh != nil && fresh.WorkItemID != "" {
			return fresh.WorkItemID, nil
		}
		return "", fmt.Errorf("work item id for group %s not recorded", orphan.ID)
	}
	return workItemID, nil
}

// awaitWorkItemID re-reads a group a bounded number of times until its
// work-item id is recorded, returning the freshest record either way.
// Covers the window between another caller's claim and its SetWorkItem.
func (m *Matcher) awaitWorkItemID(ctx context.Context, orphanID string) (*types.Orphan, error) {
	var fresh *types.Orphan
	for attempt := 0; attempt < workItemWaitAttempts; attempt++ {
		var err error
		fresh, err = m.store.GetOrphan(ctx, orphanID)
		if err != nil {
			return nil, err
		}
		if fresh == nil || fresh.WorkItemID != "" {
			return fresh, nil
		}
		select {
		case <-ctx.Done():
			return fresh, ctx.Err()
		case <-time.After(workItemWaitInterval):
		}
	}
	return fresh, nil
}

const (
	workItemWaitAttempts = 10
	workItemWaitInterval = 25 * time.Millisecond
)

// routeToWorkItem handles a conversation whose signature's group is
// already graduated: the conversation goes to the work item, never onto
// the terminal group.
func (m *Matcher) routeToWorkItem(ctx context.Context, orphan *types.Orphan, conversationID string, theme types.ExtractedTheme) (*types.MatchResult, error) {
	// A prior graduation_failed leaves a claimed group without a work
	// item; re-attempt creation before routing. The sink must see one
	// Create per graduation, so the retry goes through a conditional
	// claim: one caller re-creates, everyone else waits for the
	// recorded id.
	if orphan.WorkItemID == "" {
		if m.workItems == nil {
			return &types.MatchResult{
				Matched:     true,
				Action:      types.ActionNoEvidenceService,
				OrphanID:    orphan.ID,
				Signature:   orphan.Signature,
				MemberCount: len(orphan.ConversationIDs),
			}, nil
		}
		claimed, err := m.store.TryClaimWorkItem(ctx, orphan.ID)
		if err != nil {
			return nil, err
		}
		if claimed {
			workItemID, err := m.createWorkItem(ctx, orphan)
			if err != nil {
				log.Printf("[MATCHER] work item retry failed for %q: %v", orphan.Signature, err)
				if relErr := m.store.ReleaseWorkItemClaim(ctx, orphan.ID); relErr != nil {
					log.Printf("[MATCHER] failed to release work item claim for %q: %v", orphan.Signature, relErr)
				}
				return &types.MatchResult{
					Matched:     true,
					Action:      types.ActionGraduationFailed,
					OrphanID:    orphan.ID,
					Signature:   orphan.Signature,
					MemberCount: len(orphan.ConversationIDs),
					MemberIDs:   orphan.ConversationIDs,
				}, nil
			}
			orphan.WorkItemID = workItemID
		} else {
			fresh, err := m.awaitWorkItemID(ctx, orphan.ID)
			if err != nil {
				return nil, err
			}
			if fresh == nil {
				return nil, fmt.Errorf("group %s vanished while waiting for work item", orphan.ID)
			}
			if fresh.WorkItemID == "" {
				// The holder's sink call is still in flight or failed
				// again; report retryable without touching the sink.
				return &types.MatchResult{
					Matched:     true,
					Action:      types.ActionGraduationFailed,
					OrphanID:    fresh.ID,
					Signature:   fresh.Signature,
					MemberCount: len(fresh.ConversationIDs),
					MemberIDs:   fresh.ConversationIDs,
				}, nil
			}
			orphan = fresh
		}
	}

	if orphan.HasConversation(conversationID) {
		// Already a member, so it was part of the evidence seed
		return &types.MatchResult{
			Matched:     true,
			Action:      types.ActionAlreadyExists,
			OrphanID:    orphan.ID,
			Signature:   orphan.Signature,
			WorkItemID:  orphan.WorkItemID,
			MemberCount: len(orphan.ConversationIDs),
		}, nil
	}

	if m.evidence == nil {
		return &types.MatchResult{
			Matched:     true,
			Action:      types.ActionNoEvidenceService,
			OrphanID:    orphan.ID,
			Signature:   orphan.Signature,
			WorkItemID:  orphan.WorkItemID,
			MemberCount: len(orphan.ConversationIDs),
		}, nil
	}

	// The originating signature is the raw, pre-canonical form: the
	// evidence trail keeps what the classifier actually said.
	if err := m.evidence.AddConversation(ctx, orphan.WorkItemID, conversationID, theme.Excerpt, theme.Signature); err != nil {
		log.Printf("[MATCHER] evidence sink failed for work item %s: %v", orphan.WorkItemID, err)
		return &types.MatchResult{
			Matched:     true,
			Action:      types.ActionNoEvidenceService,
			OrphanID:    orphan.ID,
			Signature:   orphan.Signature,
			WorkItemID:  orphan.WorkItemID,
			MemberCount: len(orphan.ConversationIDs),
		}, nil
	}

	return &types.MatchResult{
		Matched:     true,
		Action:      types.ActionAddedToStory,
		OrphanID:    orphan.ID,
		Signature:   orphan.Signature,
		WorkItemID:  orphan.WorkItemID,
		MemberCount: len(orphan.ConversationIDs),
	}, nil
}

// BatchItem pairs one conversation with its theme for batch matching
type BatchItem struct {
	ConversationID string
	Theme          types.ExtractedTheme
}

// BatchOutcome collects per-item results and per-item errors; a failed
// item never aborts the rest of the batch
type BatchOutcome struct {
	// Results is index-aligned with the input; nil where Errors has an entry
	Results []*types.MatchResult
	Errors  map[int]error
}

// BatchMatch processes many conversations. Items with distinct
// canonical signatures run in parallel; items sharing a signature stay
// on one worker in input order, preserving the store's serialization
// guarantees without cross-worker interleaving.
func (m *Matcher) BatchMatch(ctx context.Context, items []BatchItem) *BatchOutcome {
	out := &BatchOutcome{
		Results: make([]*types.MatchResult, len(items)),
		Errors:  make(map[int]error),
	}

	bySignature := make(map[string][]int)
	for i, item := range items {
		canonical := m.registry.GetCanonical(item.Theme.Signature)
		bySignature[canonical] = append(bySignature[canonical], i)
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.BatchParallelism)

	for _, indices := range bySignature {
		indices := indices
		g.Go(func() error {
			for _, i := range indices {
				res, err := m.MatchAndAccumulate(ctx, items[i].ConversationID, items[i].Theme)
				mu.Lock()
				if err != nil {
					out.Errors[i] = err
				} else {
					out.Results[i] = res
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return out
}
