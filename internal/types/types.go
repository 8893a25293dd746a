package types

import (
	"fmt"
	"time"
)

// Orphan is a pre-graduation accumulation bucket: the set of
// conversations that share one canonical signature, plus the theme data
// merged from every member. Exactly one active Orphan exists per
// canonical signature. Once graduated it is logically read-only and
// only serves as a routing target for the resulting work item.
type Orphan struct {
	ID              string      `json:"id"`
	Signature       string      `json:"signature"`
	ConversationIDs []string    `json:"conversation_ids"`
	Bundle          ThemeBundle `json:"bundle"`
	FirstSeenAt     time.Time   `json:"first_seen_at"`
	LastUpdatedAt   time.Time   `json:"last_updated_at"`
	GraduatedAt     *time.Time  `json:"graduated_at,omitempty"`
	WorkItemID      string      `json:"work_item_id,omitempty"`
}

// IsGraduated reports whether the graduation claim has been taken
func (o *Orphan) IsGraduated() bool {
	return o.GraduatedAt != nil
}

// HasConversation reports whether the conversation is already a member
func (o *Orphan) HasConversation(conversationID string) bool {
	for _, id := range o.ConversationIDs {
		if id == conversationID {
			return true
		}
	}
	return false
}

// Validate checks the orphan's structural invariants
func (o *Orphan) Validate() error {
	if o.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if o.Signature == "" {
		return &ValidationError{Field: "signature", Reason: "is required"}
	}
	seen := make(map[string]struct{}, len(o.ConversationIDs))
	for _, id := range o.ConversationIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("orphan %s has duplicate member %s", o.ID, id)
		}
		seen[id] = struct{}{}
	}
	if o.WorkItemID != "" && o.GraduatedAt == nil {
		return fmt.Errorf("orphan %s has a work item but no graduation timestamp", o.ID)
	}
	return nil
}

// Equivalence records that one signature spelling resolves to another.
// Unique on From; chains are resolved at read time by the registry.
type Equivalence struct {
	From      string    `json:"from_signature"`
	To        string    `json:"to_signature"`
	CreatedAt time.Time `json:"created_at"`
}

// MatchAction describes what a match call did with the conversation
type MatchAction string

const (
	// ActionCreated means this call created the first group for the signature
	ActionCreated MatchAction = "created"
	// ActionUpdated means the conversation was appended to an active group
	ActionUpdated MatchAction = "updated"
	// ActionAlreadyExists means the conversation was already a member
	ActionAlreadyExists MatchAction = "already_exists"
	// ActionGraduated means this call won the graduation claim and created the work item
	ActionGraduated MatchAction = "graduated"
	// ActionAddedToStory means the conversation was routed to an existing work item
	ActionAddedToStory MatchAction = "added_to_story"
	// ActionNoEvidenceService means the group is graduated but no sink is wired up;
	// the caller may retry once one is configured
	ActionNoEvidenceService MatchAction = "no_evidence_service"
	// ActionGraduationFailed means the claim was taken but the work-item sink failed;
	// membership is intact and a retry re-attempts only the sink call
	ActionGraduationFailed MatchAction = "graduation_failed"
)

// IsValid checks if the match action value is valid
func (a MatchAction) IsValid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionAlreadyExists, ActionGraduated,
		ActionAddedToStory, ActionNoEvidenceService, ActionGraduationFailed:
		return true
	}
	return false
}

// MatchResult is the outcome of matching one conversation
type MatchResult struct {
	Matched     bool        `json:"matched"`
	Action      MatchAction `json:"action"`
	OrphanID    string      `json:"orphan_id,omitempty"`
	Signature   string      `json:"signature"` // canonical form
	WorkItemID  string      `json:"work_item_id,omitempty"`
	MemberCount int         `json:"member_count,omitempty"`

	// MemberIDs is populated only on graduation, so the caller can seed
	// downstream evidence for the whole group in one shot
	MemberIDs []string `json:"member_ids,omitempty"`
}

// OrphanFilter is used to filter group listings
type OrphanFilter struct {
	Graduated *bool // nil = both active and graduated
	MinSize   int
	Limit     int
}

// Statistics provides aggregate metrics over the group store
type Statistics struct {
	TotalGroups      int `json:"total_groups"`
	ActiveGroups     int `json:"active_groups"`
	GraduatedGroups  int `json:"graduated_groups"`
	TotalMembers     int `json:"total_members"`
	LargestGroupSize int `json:"largest_group_size"`
}

// GroupEventType categorizes audit trail events on a group
type GroupEventType string

const (
	GroupEventCreated     GroupEventType = "created"
	GroupEventMemberAdded GroupEventType = "member_added"
	GroupEventGraduated   GroupEventType = "graduated"
	GroupEventWorkItemSet GroupEventType = "work_item_set"
)

// GroupEvent is an audit trail entry for a group mutation
type GroupEvent struct {
	ID        int64          `json:"id"`
	OrphanID  string         `json:"orphan_id"`
	Signature string         `json:"signature"`
	EventType GroupEventType `json:"event_type"`
	Actor     string         `json:"actor"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
