package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory sink for tests and dry runs. Thread-safe.
// Implements both WorkItemSink and EvidenceSink.
type Memory struct {
	mu sync.Mutex

	// FailCreate makes Create return an error, for exercising the
	// graduation_failed path
	FailCreate bool

	// FailEvidence makes AddConversation return an error
	FailEvidence bool

	created  []CreateRequest
	ids      []string
	evidence map[string][]string // work item id -> conversation ids
}

// NewMemory creates an empty in-memory sink
func NewMemory() *Memory {
	return &Memory{evidence: make(map[string][]string)}
}

// Create records the request and hands back a generated work-item id
func (m *Memory) Create(ctx context.Context, req CreateRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate {
		return "", fmt.Errorf("work item sink unavailable")
	}
	id := "wi-" + uuid.NewString()[:8]
	m.created = append(m.created, req)
	m.ids = append(m.ids, id)
	return id, nil
}

// AddConversation records evidence for a work item
func (m *Memory) AddConversation(ctx context.Context, workItemID, conversationID, excerpt, originatingSignature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailEvidence {
		return fmt.Errorf("evidence sink unavailable")
	}
	m.evidence[workItemID] = append(m.evidence[workItemID], conversationID)
	return nil
}

// Created returns a copy of every create request received
func (m *Memory) Created() []CreateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CreateRequest, len(m.created))
	copy(out, m.created)
	return out
}

// CreatedIDs returns the work-item ids handed out, in order
func (m *Memory) CreatedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out
}

// Evidence returns the conversation ids attached to a work item
func (m *Memory) Evidence(workItemID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.evidence[workItemID]))
	copy(out, m.evidence[workItemID])
	return out
}
