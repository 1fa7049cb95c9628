package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

func makeTestMirror(t *testing.T, store *Store, targetAccount string) *types.EventMirror {
	t.Helper()
	ctx := context.Background()
	e := makeTestEvent("acct_work", ids.New(ids.PrefixEvent))
	if err := store.InsertCanonicalEvent(ctx, e); err != nil {
		t.Fatalf("Failed to insert parent event: %v", err)
	}
	m := &types.EventMirror{
		ID:               ids.New(ids.PrefixMirror),
		CanonicalEventID: e.ID,
		TargetAccountID:  targetAccount,
		TargetCalendarID: "primary",
		State:            types.MirrorPendingCreate,
	}
	if err := store.InsertMirror(ctx, m); err != nil {
		t.Fatalf("Failed to insert mirror: %v", err)
	}
	return m
}

func TestMirrorRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	m := makeTestMirror(t, store, "acct_personal")

	got, err := store.GetMirror(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMirror failed: %v", err)
	}
	if got.State != types.MirrorPendingCreate {
		t.Errorf("State = %s, want PENDING_CREATE", got.State)
	}
	if got.ProviderEventID != nil {
		t.Errorf("Expected nil provider_event_id, got %v", *got.ProviderEventID)
	}

	byKey, err := store.GetMirrorByKey(ctx, m.Key())
	if err != nil {
		t.Fatalf("GetMirrorByKey failed: %v", err)
	}
	if byKey.ID != m.ID {
		t.Errorf("Key lookup returned %s, want %s", byKey.ID, m.ID)
	}

	dup := &types.EventMirror{
		ID:               ids.New(ids.PrefixMirror),
		CanonicalEventID: m.CanonicalEventID,
		TargetAccountID:  m.TargetAccountID,
		TargetCalendarID: m.TargetCalendarID,
		State:            types.MirrorPendingCreate,
	}
	if err := store.InsertMirror(ctx, dup); !types.IsConflict(err) {
		t.Errorf("Duplicate mirror triple: expected CONFLICT, got %v", err)
	}
}

func TestCompareAndSwapMirrorState(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	m := makeTestMirror(t, store, "acct_personal")

	swapped, err := store.CompareAndSwapMirrorState(ctx, m.ID, types.MirrorPendingCreate, types.MirrorWriting)
	if err != nil {
		t.Fatalf("CAS failed: %v", err)
	}
	if !swapped {
		t.Fatal("Expected CAS from PENDING_CREATE to succeed")
	}

	// Second CAS from the stale state must lose.
	swapped, err = store.CompareAndSwapMirrorState(ctx, m.ID, types.MirrorPendingCreate, types.MirrorWriting)
	if err != nil {
		t.Fatalf("Second CAS failed: %v", err)
	}
	if swapped {
		t.Error("Expected CAS from stale state to fail")
	}

	got, err := store.GetMirror(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMirror failed: %v", err)
	}
	if got.State != types.MirrorWriting {
		t.Errorf("State = %s, want WRITING", got.State)
	}
}

func TestListMirrorsFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	pending := makeTestMirror(t, store, "acct_a")
	live := makeTestMirror(t, store, "acct_b")
	live.State = types.MirrorLive
	if err := store.UpdateMirror(ctx, live); err != nil {
		t.Fatalf("UpdateMirror failed: %v", err)
	}

	retryLater := makeTestMirror(t, store, "acct_c")
	future := now().Add(time.Hour)
	retryLater.NextRetryAt = &future
	retryLater.AttemptCount = 3
	if err := store.UpdateMirror(ctx, retryLater); err != nil {
		t.Fatalf("UpdateMirror failed: %v", err)
	}

	got, err := store.ListMirrors(ctx, storage.MirrorFilter{
		States: []types.MirrorState{types.MirrorPendingCreate},
	})
	if err != nil {
		t.Fatalf("ListMirrors by state failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 PENDING_CREATE mirrors, got %d", len(got))
	}

	// DueBefore excludes the mirror whose retry is still in the future.
	cutoff := now()
	got, err = store.ListMirrors(ctx, storage.MirrorFilter{
		States:    []types.MirrorState{types.MirrorPendingCreate},
		DueBefore: &cutoff,
	})
	if err != nil {
		t.Fatalf("ListMirrors due failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != pending.ID {
		t.Errorf("Expected only the due mirror, got %d rows", len(got))
	}

	got, err = store.ListMirrors(ctx, storage.MirrorFilter{TargetAccountID: "acct_b"})
	if err != nil {
		t.Fatalf("ListMirrors by target failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != live.ID {
		t.Errorf("Target filter returned %d rows", len(got))
	}
}

func TestCountMirrorsByState(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	makeTestMirror(t, store, "acct_a")
	makeTestMirror(t, store, "acct_b")
	failed := makeTestMirror(t, store, "acct_c")
	failed.State = types.MirrorFailed
	failed.Error = "permanent: calendar gone"
	if err := store.UpdateMirror(ctx, failed); err != nil {
		t.Fatalf("UpdateMirror failed: %v", err)
	}

	counts, err := store.CountMirrorsByState(ctx)
	if err != nil {
		t.Fatalf("CountMirrorsByState failed: %v", err)
	}
	if counts[types.MirrorPendingCreate] != 2 {
		t.Errorf("PENDING_CREATE count = %d, want 2", counts[types.MirrorPendingCreate])
	}
	if counts[types.MirrorFailed] != 1 {
		t.Errorf("FAILED count = %d, want 1", counts[types.MirrorFailed])
	}
}

func TestMirrorCascadeDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	m := makeTestMirror(t, store, "acct_personal")
	if err := store.RemoveCanonicalEvent(ctx, m.CanonicalEventID); err != nil {
		t.Fatalf("RemoveCanonicalEvent failed: %v", err)
	}
	mirrors, err := store.GetMirrorsForEvent(ctx, m.CanonicalEventID)
	if err != nil {
		t.Fatalf("GetMirrorsForEvent failed: %v", err)
	}
	if len(mirrors) != 0 {
		t.Errorf("Expected cascade delete of mirrors, got %d rows", len(mirrors))
	}
}

func TestGetMirrorByProviderEvent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	m := makeTestMirror(t, store, "acct_personal")
	provID := "prov-p-9"
	m.ProviderEventID = &provID
	m.State = types.MirrorLive
	if err := store.UpdateMirror(ctx, m); err != nil {
		t.Fatalf("UpdateMirror failed: %v", err)
	}

	got, err := store.GetMirrorByProviderEvent(ctx, "acct_personal", provID)
	if err != nil {
		t.Fatalf("GetMirrorByProviderEvent failed: %v", err)
	}
	if got.ID != m.ID {
		t.Errorf("Lookup returned %s, want %s", got.ID, m.ID)
	}

	// Same event id on a different account is a different provider namespace.
	if _, err := store.GetMirrorByProviderEvent(ctx, "acct_other", provID); err != storage.ErrNoRows {
		t.Errorf("Cross-account lookup err = %v, want ErrNoRows", err)
	}
	if _, err := store.GetMirrorByProviderEvent(ctx, "acct_personal", "prov-unknown"); err != storage.ErrNoRows {
		t.Errorf("Unknown id lookup err = %v, want ErrNoRows", err)
	}
}

func TestUpdateMirrorWriteStatePreservesHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	m := makeTestMirror(t, store, "acct_personal")
	m.LastProjectedHash = "hash-1"
	if err := store.UpdateMirror(ctx, m); err != nil {
		t.Fatalf("UpdateMirror failed: %v", err)
	}

	// Guard mismatch: the row is PENDING_CREATE, not WRITING.
	m.State = types.MirrorLive
	ok, err := store.UpdateMirrorWriteState(ctx, m, types.MirrorWriting)
	if err != nil {
		t.Fatalf("UpdateMirrorWriteState failed: %v", err)
	}
	if ok {
		t.Error("Guard mismatch reported as applied")
	}
	got, _ := store.GetMirror(ctx, m.ID)
	if got.State != types.MirrorPendingCreate {
		t.Errorf("State = %s, want PENDING_CREATE untouched", got.State)
	}

	// Matching guard applies the writer columns but never the hash.
	provID := "prov-p-10"
	ts := time.Now().UTC()
	m.State = types.MirrorLive
	m.ProviderEventID = &provID
	m.LastWriteTS = &ts
	m.AttemptCount = 1
	m.LastProjectedHash = "stale-copy"
	ok, err = store.UpdateMirrorWriteState(ctx, m, types.MirrorPendingCreate)
	if err != nil || !ok {
		t.Fatalf("UpdateMirrorWriteState failed: ok=%v err=%v", ok, err)
	}
	got, _ = store.GetMirror(ctx, m.ID)
	if got.State != types.MirrorLive || got.ProviderEventID == nil || got.AttemptCount != 1 {
		t.Errorf("Writer columns not applied: %+v", got)
	}
	if got.LastProjectedHash != "hash-1" {
		t.Errorf("Hash = %q, want hash-1 untouched", got.LastProjectedHash)
	}
}
