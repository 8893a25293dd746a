package types

import (
	"fmt"
	"testing"
	"time"
)

func TestThemeValidate(t *testing.T) {
	tests := []struct {
		name    string
		theme   ExtractedTheme
		wantErr bool
	}{
		{"valid minimal", ExtractedTheme{Signature: "billing cancel"}, false},
		{"valid full", ExtractedTheme{
			Signature:   "billing cancel",
			Intent:      "cancel subscription",
			Symptoms:    []string{"charged after cancel"},
			ProductArea: "billing",
			Component:   "subscriptions",
			Excerpt:     "I cancelled but was still charged",
		}, false},
		{"empty signature", ExtractedTheme{Signature: ""}, true},
		{"blank signature", ExtractedTheme{Signature: "   "}, true},
		{"blank symptom", ExtractedTheme{Signature: "x", Symptoms: []string{"ok", " "}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.theme.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOrphanValidateDuplicateMembers(t *testing.T) {
	o := &Orphan{
		ID:              "orphan-1",
		Signature:       "billing cancel",
		ConversationIDs: []string{"c1", "c2", "c1"},
	}
	if err := o.Validate(); err == nil {
		t.Error("expected duplicate member validation to fail")
	}
}

func TestOrphanValidateGraduationPair(t *testing.T) {
	o := &Orphan{ID: "orphan-1", Signature: "s", WorkItemID: "wi-1"}
	if err := o.Validate(); err == nil {
		t.Error("work item without graduation timestamp should fail validation")
	}

	now := time.Now()
	o.GraduatedAt = &now
	if err := o.Validate(); err != nil {
		t.Errorf("graduated orphan should validate: %v", err)
	}
}

func TestBundleMergeUnionsPreserveFirstSeenOrder(t *testing.T) {
	b := NewBundle("c1", ExtractedTheme{
		Signature: "s",
		Intent:    "cancel",
		Symptoms:  []string{"a", "b"},
	}, 0)
	b.Merge("c2", ExtractedTheme{
		Signature: "s",
		Intent:    "cancel", // duplicate
		Symptoms:  []string{"b", "c"},
	}, 0)

	if len(b.Intents) != 1 || b.Intents[0] != "cancel" {
		t.Errorf("intents = %v, want [cancel]", b.Intents)
	}
	want := []string{"a", "b", "c"}
	if len(b.Symptoms) != len(want) {
		t.Fatalf("symptoms = %v, want %v", b.Symptoms, want)
	}
	for i, s := range want {
		if b.Symptoms[i] != s {
			t.Errorf("symptoms[%d] = %q, want %q", i, b.Symptoms[i], s)
		}
	}
}

func TestBundleMergeExcerptBound(t *testing.T) {
	var b ThemeBundle
	for i := 0; i < 15; i++ {
		b.Merge(convID(i), ExtractedTheme{Signature: "s", Excerpt: "text"}, 10)
	}
	if len(b.Excerpts) != 10 {
		t.Errorf("excerpts len = %d, want 10 (first N retained)", len(b.Excerpts))
	}
	// First N seen win deterministically
	if b.Excerpts[0].ConversationID != "conv-0" || b.Excerpts[9].ConversationID != "conv-9" {
		t.Errorf("excerpt retention order wrong: first=%s last=%s",
			b.Excerpts[0].ConversationID, b.Excerpts[9].ConversationID)
	}
}

func TestBundleMergeIdempotentPerConversation(t *testing.T) {
	var b ThemeBundle
	theme := ExtractedTheme{Signature: "s", Excerpt: "quote"}
	b.Merge("c1", theme, 10)
	b.Merge("c1", theme, 10)
	if len(b.Excerpts) != 1 {
		t.Errorf("excerpts len = %d, want 1 after duplicate merge", len(b.Excerpts))
	}
}

func convID(i int) string {
	return fmt.Sprintf("conv-%d", i)
}
