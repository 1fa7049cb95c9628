package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

func TestRelationshipRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	hash := types.HashParticipant("sam@example.com", "salt")
	r := &types.Relationship{
		ID:              ids.New(ids.PrefixRelationship),
		ParticipantHash: hash,
		DisplayName:     "Sam",
		Email:           "sam@example.com",
		City:            "Lisbon",
		Tier:            1,
	}
	if err := store.InsertRelationship(ctx, r); err != nil {
		t.Fatalf("InsertRelationship failed: %v", err)
	}

	got, err := store.GetRelationshipByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetRelationshipByHash failed: %v", err)
	}
	if got.ID != r.ID || got.City != "Lisbon" || got.Tier != 1 {
		t.Errorf("Round trip mismatch: %+v", got)
	}
	if got.LastInteractionTS != nil {
		t.Errorf("Expected nil last_interaction_ts, got %v", got.LastInteractionTS)
	}

	dup := &types.Relationship{
		ID:              ids.New(ids.PrefixRelationship),
		ParticipantHash: hash,
	}
	if err := store.InsertRelationship(ctx, dup); !types.IsConflict(err) {
		t.Errorf("Duplicate participant hash: expected CONFLICT, got %v", err)
	}
}

func TestTouchRelationshipInteraction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	hash := types.HashParticipant("ana@example.com", "salt")
	r := &types.Relationship{
		ID:              ids.New(ids.PrefixRelationship),
		ParticipantHash: hash,
		Tier:            2,
	}
	if err := store.InsertRelationship(ctx, r); err != nil {
		t.Fatalf("InsertRelationship failed: %v", err)
	}

	later := now().Add(time.Hour)
	earlier := now().Add(-time.Hour)

	if err := store.TouchRelationshipInteraction(ctx, hash, later); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	// An older interaction must not move the timestamp backwards.
	if err := store.TouchRelationshipInteraction(ctx, hash, earlier); err != nil {
		t.Fatalf("Second touch failed: %v", err)
	}

	got, err := store.GetRelationshipByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetRelationshipByHash failed: %v", err)
	}
	if got.LastInteractionTS == nil {
		t.Fatal("last_interaction_ts not set")
	}
	if !got.LastInteractionTS.Equal(later) {
		t.Errorf("last_interaction_ts = %v, want %v", got.LastInteractionTS, later)
	}

	// Unknown hash is a silent no-op.
	if err := store.TouchRelationshipInteraction(ctx, "nope", later); err != nil {
		t.Errorf("Touch of unknown hash failed: %v", err)
	}
}

func TestLedgerAppendAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	hash := types.HashParticipant("kim@example.com", "salt")
	kinds := []types.OutcomeKind{types.OutcomeMet, types.OutcomeCancelled, types.OutcomeMet}
	for i, k := range kinds {
		if err := store.AppendLedger(ctx, &types.LedgerEntry{
			ID:              ids.New(ids.PrefixLedger),
			ParticipantHash: hash,
			Kind:            k,
			TS:              now().Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("AppendLedger failed: %v", err)
		}
	}

	entries, err := store.ListLedger(ctx, hash, 0)
	if err != nil {
		t.Fatalf("ListLedger failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 ledger entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].Kind != types.OutcomeMet || entries[1].Kind != types.OutcomeCancelled {
		t.Errorf("Unexpected ledger order: %s, %s", entries[0].Kind, entries[1].Kind)
	}

	limited, err := store.ListLedger(ctx, hash, 2)
	if err != nil {
		t.Fatalf("ListLedger with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Limit 2 returned %d entries", len(limited))
	}
}

func TestMilestones(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	hash := types.HashParticipant("lee@example.com", "salt")
	m := &types.Milestone{
		ID:              ids.New(ids.PrefixMilestone),
		ParticipantHash: hash,
		Title:           "Birthday",
		Date:            "1990-06-15",
		Recurring:       true,
	}
	if err := store.InsertMilestone(ctx, m); err != nil {
		t.Fatalf("InsertMilestone failed: %v", err)
	}

	got, err := store.ListMilestones(ctx)
	if err != nil {
		t.Fatalf("ListMilestones failed: %v", err)
	}
	if len(got) != 1 || !got[0].Recurring || got[0].Date != "1990-06-15" {
		t.Errorf("Milestone round trip mismatch: %+v", got)
	}

	if err := store.DeleteMilestone(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMilestone failed: %v", err)
	}
	if err := store.DeleteMilestone(ctx, m.ID); !errors.Is(err, storage.ErrNoRows) {
		t.Errorf("Second delete: expected ErrNoRows, got %v", err)
	}
}

func TestReplaceEventParticipants(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := makeTestEvent("acct_work", "prov-parts")
	if err := store.InsertCanonicalEvent(ctx, e); err != nil {
		t.Fatalf("Insert event failed: %v", err)
	}

	first := []types.EventParticipant{
		{ParticipantHash: "h1", Email: "a@example.com", Response: "accepted"},
		{ParticipantHash: "h2", Email: "b@example.com"},
	}
	if err := store.ReplaceEventParticipants(ctx, e.ID, first); err != nil {
		t.Fatalf("ReplaceEventParticipants failed: %v", err)
	}

	// Replacement is whole-set: h2 drops out, h3 appears.
	second := []types.EventParticipant{
		{ParticipantHash: "h1", Email: "a@example.com", Response: "declined"},
		{ParticipantHash: "h3", Email: "c@example.com"},
	}
	if err := store.ReplaceEventParticipants(ctx, e.ID, second); err != nil {
		t.Fatalf("Second replace failed: %v", err)
	}

	got, err := store.GetEventParticipants(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEventParticipants failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 participants, got %d", len(got))
	}
	if got[0].ParticipantHash != "h1" || got[0].Response != "declined" {
		t.Errorf("Participant h1 not updated: %+v", got[0])
	}
	if got[1].ParticipantHash != "h3" {
		t.Errorf("Expected h3, got %s", got[1].ParticipantHash)
	}
}
