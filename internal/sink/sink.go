// Package sink defines the downstream surfaces a graduated group flows
// into: a work-item tracker and an evidence service. Both are external
// collaborators; the engine only calls these interfaces and never
// depends on a particular tracker.
package sink

import (
	"context"

	"github.com/coalesce-dev/coalesce/internal/types"
)

// CreateRequest carries everything the tracker needs to open a work
// item for a graduated group
type CreateRequest struct {
	// TitleSeed is the canonical signature, used as the work item's
	// starting title
	TitleSeed string

	// MemberConversationIDs is the full member list at graduation time
	MemberConversationIDs []string

	// Bundle is the group's accumulated theme data
	Bundle types.ThemeBundle
}

// WorkItemSink receives graduated groups. Create is called exactly once
// per successful graduation and returns the tracker's work-item id.
type WorkItemSink interface {
	Create(ctx context.Context, req CreateRequest) (string, error)
}

// EvidenceSink receives individual conversations that match an
// already-graduated group
type EvidenceSink interface {
	AddConversation(ctx context.Context, workItemID, conversationID, excerpt, originatingSignature string) error
}

// Null discards everything. Useful for dry runs where graduation should
// proceed but nothing downstream should be written.
type Null struct{}

// Create returns a fixed placeholder id
func (Null) Create(ctx context.Context, req CreateRequest) (string, error) {
	return "wi-null", nil
}

// AddConversation discards the evidence
func (Null) AddConversation(ctx context.Context, workItemID, conversationID, excerpt, originatingSignature string) error {
	return nil
}
