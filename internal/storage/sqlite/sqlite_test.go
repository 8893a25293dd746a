package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/coalesce-dev/coalesce/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(dbPath, "test", 10)
	if err != nil {
		t.Fatalf("Failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateOrGetOrphanCreates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	theme := types.ExtractedTheme{Signature: "billing cancel", Intent: "cancel", Excerpt: "please cancel"}
	orphan, created, err := store.CreateOrGetOrphan(ctx, "billing cancel", "conv-1", theme)
	if err != nil {
		t.Fatalf("CreateOrGetOrphan failed: %v", err)
	}
	if !created {
		t.Error("expected created=true for fresh signature")
	}
	if orphan.Signature != "billing cancel" {
		t.Errorf("Signature = %q", orphan.Signature)
	}
	if len(orphan.ConversationIDs) != 1 || orphan.ConversationIDs[0] != "conv-1" {
		t.Errorf("ConversationIDs = %v, want [conv-1]", orphan.ConversationIDs)
	}
	if orphan.IsGraduated() {
		t.Error("fresh orphan must not be graduated")
	}
}

func TestCreateOrGetOrphanReturnsWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, created, err := store.CreateOrGetOrphan(ctx, "login failure", "conv-1", types.ExtractedTheme{Signature: "login failure"})
	if err != nil || !created {
		t.Fatalf("first create failed: created=%v err=%v", created, err)
	}

	second, created, err := store.CreateOrGetOrphan(ctx, "login failure", "conv-2", types.ExtractedTheme{Signature: "login failure"})
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if created {
		t.Error("expected created=false for existing signature")
	}
	if second.ID != first.ID {
		t.Errorf("loser got a different orphan: %s != %s", second.ID, first.ID)
	}
	// The losing conversation must not have been appended
	if len(second.ConversationIDs) != 1 {
		t.Errorf("loser's conversation was appended: members=%v", second.ConversationIDs)
	}
}

func TestGetOrphanBySignatureAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	orphan, err := store.GetOrphanBySignature(ctx, "nope")
	if err != nil {
		t.Fatalf("GetOrphanBySignature failed: %v", err)
	}
	if orphan != nil {
		t.Errorf("expected nil for absent signature, got %+v", orphan)
	}
}

func TestAddConversation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	orphan, _, err := store.CreateOrGetOrphan(ctx, "payment declined", "conv-1",
		types.ExtractedTheme{Signature: "payment declined", Symptoms: []string{"card rejected"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, status, err := store.AddConversation(ctx, orphan.ID, "conv-2",
		types.ExtractedTheme{Signature: "payment declined", Symptoms: []string{"card rejected", "retry failed"}, Excerpt: "my card keeps failing"})
	if err != nil {
		t.Fatalf("AddConversation failed: %v", err)
	}
	if status != AddStatusAdded {
		t.Errorf("status = %q, want %q", status, AddStatusAdded)
	}
	if len(updated.ConversationIDs) != 2 {
		t.Errorf("member count = %d, want 2", len(updated.ConversationIDs))
	}
	// Bundle union preserves first-seen order with dedup
	if len(updated.Bundle.Symptoms) != 2 || updated.Bundle.Symptoms[0] != "card rejected" || updated.Bundle.Symptoms[1] != "retry failed" {
		t.Errorf("Symptoms = %v", updated.Bundle.Symptoms)
	}

	// Re-read to confirm durability
	reread, err := store.GetOrphan(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("GetOrphan failed: %v", err)
	}
	if len(reread.ConversationIDs) != 2 {
		t.Errorf("durable member count = %d, want 2", len(reread.ConversationIDs))
	}
	if len(reread.Bundle.Excerpts) != 1 {
		t.Errorf("durable excerpts = %v", reread.Bundle.Excerpts)
	}
}

func TestAddConversationDuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	orphan, _, _ := store.CreateOrGetOrphan(ctx, "sig", "conv-1", types.ExtractedTheme{Signature: "sig"})

	current, status, err := store.AddConversation(ctx, orphan.ID, "conv-1", types.ExtractedTheme{Signature: "sig"})
	if err != nil {
		t.Fatalf("AddConversation failed: %v", err)
	}
	if status != AddStatusAlreadyMember {
		t.Errorf("status = %q, want %q", status, AddStatusAlreadyMember)
	}
	if len(current.ConversationIDs) != 1 {
		t.Errorf("member count changed on duplicate add: %v", current.ConversationIDs)
	}
	if err := current.Validate(); err != nil {
		t.Errorf("orphan invariant violated: %v", err)
	}
}

func TestAddConversationMissingOrphan(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	orphan, status, err := store.AddConversation(ctx, "no-such-id", "conv-1", types.ExtractedTheme{Signature: "sig"})
	if err != nil {
		t.Fatalf("AddConversation failed: %v", err)
	}
	if orphan != nil || status != "" {
		t.Errorf("expected (nil, \"\"), got (%+v, %q)", orphan, status)
	}
}

func TestAddConversationToGraduatedGroup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	orphan, _, _ := store.CreateOrGetOrphan(ctx, "sig", "conv-1", types.ExtractedTheme{Signature: "sig"})
	if won, err := store.TryClaimGraduation(ctx, orphan.ID); err != nil || !won {
		t.Fatalf("claim failed: won=%v err=%v", won, err)
	}

	current, status, err := store.AddConversation(ctx, orphan.ID, "conv-2", types.ExtractedTheme{Signature: "sig"})
	if err != nil {
		t.Fatalf("AddConversation failed: %v", err)
	}
	if status != AddStatusGraduated {
		t.Errorf("status = %q, want %q", status, AddStatusGraduated)
	}
	// The terminal orphan must not have gained the member
	if len(current.ConversationIDs) != 1 {
		t.Errorf("graduated orphan mutated: %v", current.ConversationIDs)
	}
}

func TestTryClaimGraduationSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	orphan, _, _ := store.CreateOrGetOrphan(ctx, "sig", "conv-1", types.ExtractedTheme{Signature: "sig"})

	won, err := store.TryClaimGraduation(ctx, orphan.ID)
	if err != nil || !won {
		t.Fatalf("first claim: won=%v err=%v", won, err)
	}
	won, err = store.TryClaimGraduation(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if won {
		t.Error("second claim must lose")
	}

	reread, _ := store.GetOrphan(ctx, orphan.ID)
	if !reread.IsGraduated() {
		t.Error("orphan should be graduated after claim")
	}
}

func TestSetWorkItem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	orphan, _, _ := store.CreateOrGetOrphan(ctx, "sig", "conv-1", types.ExtractedTheme{Signature: "sig"})

	// Unclaimed orphan cannot receive a work item (graduation pair rule)
	if ok, err := store.SetWorkItem(ctx, orphan.ID, "wi-1"); err != nil || ok {
		t.Fatalf("SetWorkItem before claim: ok=%v err=%v", ok, err)
	}

	if won, _ := store.TryClaimGraduation(ctx, orphan.ID); !won {
		t.Fatal("claim lost unexpectedly")
	}
	if ok, err := store.SetWorkItem(ctx, orphan.ID, "wi-1"); err != nil || !ok {
		t.Fatalf("SetWorkItem after claim: ok=%v err=%v", ok, err)
	}
	// Write-once: a second recording is refused
	if ok, _ := store.SetWorkItem(ctx, orphan.ID, "wi-2"); ok {
		t.Error("work item id overwritten")
	}

	reread, _ := store.GetOrphan(ctx, orphan.ID)
	if reread.WorkItemID != "wi-1" {
		t.Errorf("WorkItemID = %q, want wi-1", reread.WorkItemID)
	}
	if err := reread.Validate(); err != nil {
		t.Errorf("orphan invariant violated: %v", err)
	}
}

func TestWorkItemClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	orphan, _, _ := store.CreateOrGetOrphan(ctx, "sig", "conv-1", types.ExtractedTheme{Signature: "sig"})

	// An active orphan has no creation right to take
	if ok, err := store.TryClaimWorkItem(ctx, orphan.ID); err != nil || ok {
		t.Fatalf("TryClaimWorkItem before graduation: ok=%v err=%v", ok, err)
	}

	// The graduation claim takes the creation right with it, so a
	// retrier cannot call the sink while the winner's create is in flight
	if won, _ := store.TryClaimGraduation(ctx, orphan.ID); !won {
		t.Fatal("claim lost unexpectedly")
	}
	if ok, _ := store.TryClaimWorkItem(ctx, orphan.ID); ok {
		t.Error("creation right taken while the graduation winner held it")
	}

	// A failed sink call releases the right; the next retrier takes it
	if err := store.ReleaseWorkItemClaim(ctx, orphan.ID); err != nil {
		t.Fatalf("ReleaseWorkItemClaim failed: %v", err)
	}
	if ok, _ := store.TryClaimWorkItem(ctx, orphan.ID); !ok {
		t.Fatal("creation right not claimable after release")
	}
	if ok, _ := store.TryClaimWorkItem(ctx, orphan.ID); ok {
		t.Error("creation right taken twice without a release")
	}

	// Recording the id ends the lifecycle: no further claims, and a
	// stray release cannot reopen it
	if ok, err := store.SetWorkItem(ctx, orphan.ID, "wi-1"); err != nil || !ok {
		t.Fatalf("SetWorkItem: ok=%v err=%v", ok, err)
	}
	if err := store.ReleaseWorkItemClaim(ctx, orphan.ID); err != nil {
		t.Fatalf("ReleaseWorkItemClaim after recording failed: %v", err)
	}
	if ok, _ := store.TryClaimWorkItem(ctx, orphan.ID); ok {
		t.Error("creation right claimable after the id was recorded")
	}
}

func TestEquivalencePersistence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.RecordEquivalence(ctx, "billing cancel v1", "billing cancel"); err != nil {
		t.Fatalf("RecordEquivalence failed: %v", err)
	}
	// Idempotent re-registration
	if err := store.RecordEquivalence(ctx, "billing cancel v1", "billing cancel"); err != nil {
		t.Fatalf("re-registration failed: %v", err)
	}

	pairs, err := store.ListEquivalences(ctx)
	if err != nil {
		t.Fatalf("ListEquivalences failed: %v", err)
	}
	if pairs["billing cancel v1"] != "billing cancel" {
		t.Errorf("pairs = %v", pairs)
	}
}

func TestListOrphansAndStatistics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a, _, _ := store.CreateOrGetOrphan(ctx, "sig a", "conv-1", types.ExtractedTheme{Signature: "sig a"})
	_, _, _ = store.AddConversation(ctx, a.ID, "conv-2", types.ExtractedTheme{Signature: "sig a"})
	b, _, _ := store.CreateOrGetOrphan(ctx, "sig b", "conv-3", types.ExtractedTheme{Signature: "sig b"})
	if won, _ := store.TryClaimGraduation(ctx, b.ID); !won {
		t.Fatal("claim lost")
	}

	all, err := store.ListOrphans(ctx, types.OrphanFilter{})
	if err != nil {
		t.Fatalf("ListOrphans failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all groups = %d, want 2", len(all))
	}

	graduated := true
	grads, err := store.ListOrphans(ctx, types.OrphanFilter{Graduated: &graduated})
	if err != nil {
		t.Fatalf("ListOrphans(graduated) failed: %v", err)
	}
	if len(grads) != 1 || grads[0].ID != b.ID {
		t.Errorf("graduated groups = %+v", grads)
	}

	big, err := store.ListOrphans(ctx, types.OrphanFilter{MinSize: 2})
	if err != nil {
		t.Fatalf("ListOrphans(min size) failed: %v", err)
	}
	if len(big) != 1 || big[0].ID != a.ID {
		t.Errorf("min-size groups = %+v", big)
	}

	stats, err := store.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.TotalGroups != 2 || stats.ActiveGroups != 1 || stats.GraduatedGroups != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalMembers != 3 || stats.LargestGroupSize != 2 {
		t.Errorf("member stats = %+v", stats)
	}
}

func TestGroupEventsAuditTrail(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	orphan, _, _ := store.CreateOrGetOrphan(ctx, "sig", "conv-1", types.ExtractedTheme{Signature: "sig"})
	_, _, _ = store.AddConversation(ctx, orphan.ID, "conv-2", types.ExtractedTheme{Signature: "sig"})
	_, _ = store.TryClaimGraduation(ctx, orphan.ID)
	_, _ = store.SetWorkItem(ctx, orphan.ID, "wi-1")

	events, err := store.GetGroupEvents(ctx, orphan.ID, 0)
	if err != nil {
		t.Fatalf("GetGroupEvents failed: %v", err)
	}
	wantTypes := []types.GroupEventType{
		types.GroupEventCreated,
		types.GroupEventMemberAdded,
		types.GroupEventGraduated,
		types.GroupEventWorkItemSet,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("events = %d, want %d", len(events), len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].EventType != want {
			t.Errorf("event[%d] = %s, want %s", i, events[i].EventType, want)
		}
	}
}

func TestCreateOrGetOrphanValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, _, err := store.CreateOrGetOrphan(ctx, "", "conv-1", types.ExtractedTheme{}); err == nil {
		t.Error("empty signature should fail validation")
	}
	if _, _, err := store.CreateOrGetOrphan(ctx, "sig", "", types.ExtractedTheme{Signature: "sig"}); err == nil {
		t.Error("empty conversation id should fail validation")
	}
}
