package useractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/mirrorwriter"
	"github.com/tminus/tminus/internal/provider"
	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/storage/sqlite"
	"github.com/tminus/tminus/internal/types"
)

type actorFixture struct {
	ctx    context.Context
	store  *sqlite.Store
	queue  *queue.Memory
	fake   *provider.Fake
	actor  *Actor
	writer *mirrorwriter.Writer
}

func setupActor(t *testing.T, cfg Config) *actorFixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	q := queue.NewMemory(64)
	t.Cleanup(q.Close)
	fake := provider.NewFake()

	a := New(store, q, fake, cfg, zerolog.Nop())
	t.Cleanup(a.Close)

	return &actorFixture{
		ctx:    ctx,
		store:  store,
		queue:  q,
		fake:   fake,
		actor:  a,
		writer: mirrorwriter.New(store, q, q, fake, nil, zerolog.Nop(), mirrorwriter.DefaultConfig()),
	}
}

// testConfig disables the sweeper ticker so tests control timing.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = 0
	return cfg
}

func (f *actorFixture) drainQueue(t *testing.T) {
	t.Helper()
	for f.queue.Depth() > 0 {
		job, err := f.queue.Receive(f.ctx)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if err := f.writer.Handle(f.ctx, job); err != nil {
			t.Fatalf("Writer handle failed: %v", err)
		}
	}
}

func standupDelta() types.Delta {
	return types.Delta{
		Type:          types.ChangeCreated,
		OriginEventID: "g_standup",
		Event: &types.ProviderEvent{
			Title:        "Standup",
			Start:        "2026-02-16T14:00:00Z",
			End:          "2026-02-16T14:15:00Z",
			Status:       types.StatusConfirmed,
			Transparency: types.TransparencyOpaque,
		},
	}
}

func TestApplyProviderDeltasThroughActor(t *testing.T) {
	f := setupActor(t, testConfig())

	if _, err := f.actor.AddPolicyEdge(f.ctx, &types.PolicyEdge{
		SourceAccountID:  "acct_work",
		TargetAccountID:  "acct_personal",
		TargetCalendarID: "primary",
	}); err != nil {
		t.Fatalf("AddPolicyEdge failed: %v", err)
	}

	summary, err := f.actor.ApplyProviderDeltas(f.ctx, "acct_work", []types.Delta{standupDelta()})
	if err != nil {
		t.Fatalf("ApplyProviderDeltas failed: %v", err)
	}
	if summary.Created != 1 {
		t.Errorf("created = %d, want 1", summary.Created)
	}

	f.drainQueue(t)
	if got := f.fake.Len(); got != 1 {
		t.Errorf("Provider events = %d, want 1", got)
	}
}

func TestOperationsSerializeUnderConcurrency(t *testing.T) {
	f := setupActor(t, testConfig())

	hash := types.HashParticipant("pat@example.com", "tminus")
	if _, err := f.actor.CreateRelationship(f.ctx, &types.Relationship{
		Email: "pat@example.com",
	}); err != nil {
		t.Fatalf("CreateRelationship failed: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.actor.MarkOutcome(f.ctx, hash, types.OutcomeMet, "", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("MarkOutcome failed: %v", err)
		}
	}

	entries, err := f.actor.ListOutcomes(f.ctx, hash, 0)
	if err != nil {
		t.Fatalf("ListOutcomes failed: %v", err)
	}
	if len(entries) != n {
		t.Errorf("Ledger entries = %d, want %d", len(entries), n)
	}
}

func TestBackPressureGateLatchesUntilLowWatermark(t *testing.T) {
	cfg := testConfig()
	cfg.HighWatermark = 2
	cfg.LowWatermark = 0
	f := setupActor(t, cfg)

	for i := 0; i < 2; i++ {
		if err := f.queue.Send(f.ctx, queue.Job{Type: queue.JobCreateMirror, MirrorID: "mir_fake"}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	_, err := f.actor.ApplyProviderDeltas(f.ctx, "acct_work", []types.Delta{standupDelta()})
	if !types.IsTransient(err) {
		t.Fatalf("Expected RETRY_LATER, got %v", err)
	}
	var te *types.Error
	if !errors.As(err, &te) || te.RetryAfter <= 0 {
		t.Errorf("Expected RetryAfter hint, got %+v", te)
	}

	// Still gated after a partial drain: one job left is above the low
	// watermark of zero.
	if _, err := f.queue.Receive(f.ctx); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if _, err := f.actor.ApplyProviderDeltas(f.ctx, "acct_work", []types.Delta{standupDelta()}); !types.IsTransient(err) {
		t.Fatalf("Expected RETRY_LATER while latched, got %v", err)
	}

	// Fully drained: the gate reopens.
	if _, err := f.queue.Receive(f.ctx); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if _, err := f.actor.ApplyProviderDeltas(f.ctx, "acct_work", []types.Delta{standupDelta()}); err != nil {
		t.Fatalf("Expected ingestion to resume, got %v", err)
	}
}

func TestResetMirrorRequeuesFailedWrite(t *testing.T) {
	f := setupActor(t, testConfig())

	m := &types.EventMirror{
		ID:               ids.New(ids.PrefixMirror),
		CanonicalEventID: "evt_x",
		TargetAccountID:  "acct_personal",
		TargetCalendarID: "primary",
		State:            types.MirrorFailed,
		Error:            "provider said 500 eight times",
		AttemptCount:     8,
	}
	if err := f.store.InsertMirror(f.ctx, m); err != nil {
		t.Fatalf("InsertMirror failed: %v", err)
	}

	reset, err := f.actor.ResetMirror(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("ResetMirror failed: %v", err)
	}
	if reset.State != types.MirrorPendingCreate {
		t.Errorf("State = %s, want PENDING_CREATE", reset.State)
	}
	if reset.Error != "" || reset.AttemptCount != 0 {
		t.Errorf("Error/attempts not cleared: %q %d", reset.Error, reset.AttemptCount)
	}
	job, err := f.queue.Receive(f.ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if job.Type != queue.JobCreateMirror || job.MirrorID != m.ID {
		t.Errorf("Job = %+v", job)
	}
}

func TestResetMirrorWithProviderEventUpdates(t *testing.T) {
	f := setupActor(t, testConfig())

	pid := "prov_123"
	m := &types.EventMirror{
		ID:               ids.New(ids.PrefixMirror),
		CanonicalEventID: "evt_x",
		TargetAccountID:  "acct_personal",
		TargetCalendarID: "primary",
		ProviderEventID:  &pid,
		State:            types.MirrorFailed,
	}
	if err := f.store.InsertMirror(f.ctx, m); err != nil {
		t.Fatalf("InsertMirror failed: %v", err)
	}

	reset, err := f.actor.ResetMirror(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("ResetMirror failed: %v", err)
	}
	if reset.State != types.MirrorPendingUpdate {
		t.Errorf("State = %s, want PENDING_UPDATE", reset.State)
	}
	job, err := f.queue.Receive(f.ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if job.Type != queue.JobUpdateMirror {
		t.Errorf("Job type = %s, want UPDATE", job.Type)
	}
}

func TestResetMirrorRejectsNonFailed(t *testing.T) {
	f := setupActor(t, testConfig())

	m := &types.EventMirror{
		ID:               ids.New(ids.PrefixMirror),
		CanonicalEventID: "evt_x",
		TargetAccountID:  "acct_personal",
		TargetCalendarID: "primary",
		State:            types.MirrorLive,
	}
	if err := f.store.InsertMirror(f.ctx, m); err != nil {
		t.Fatalf("InsertMirror failed: %v", err)
	}

	if _, err := f.actor.ResetMirror(f.ctx, m.ID); !types.IsConflict(err) {
		t.Errorf("Expected CONFLICT, got %v", err)
	}
	if _, err := f.actor.ResetMirror(f.ctx, "mir_missing"); !types.IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestGetMirrorHealth(t *testing.T) {
	f := setupActor(t, testConfig())

	for _, state := range []types.MirrorState{types.MirrorLive, types.MirrorLive, types.MirrorFailed} {
		m := &types.EventMirror{
			ID:               ids.New(ids.PrefixMirror),
			CanonicalEventID: ids.New(ids.PrefixEvent),
			TargetAccountID:  "acct_personal",
			TargetCalendarID: "primary",
			State:            state,
		}
		if err := f.store.InsertMirror(f.ctx, m); err != nil {
			t.Fatalf("InsertMirror failed: %v", err)
		}
	}
	if err := f.queue.Send(f.ctx, queue.Job{Type: queue.JobCreateMirror, MirrorID: "mir_x"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	health, err := f.actor.GetMirrorHealth(f.ctx)
	if err != nil {
		t.Fatalf("GetMirrorHealth failed: %v", err)
	}
	if health.CountsByState[types.MirrorLive] != 2 || health.CountsByState[types.MirrorFailed] != 1 {
		t.Errorf("CountsByState = %v", health.CountsByState)
	}
	if len(health.Failed) != 1 {
		t.Errorf("Failed list = %d entries, want 1", len(health.Failed))
	}
	if health.QueueDepth != 1 {
		t.Errorf("QueueDepth = %d, want 1", health.QueueDepth)
	}
}

func TestCreateRelationshipDerivesHash(t *testing.T) {
	f := setupActor(t, testConfig())

	r, err := f.actor.CreateRelationship(f.ctx, &types.Relationship{
		Email:       "Sam@Example.com",
		DisplayName: "Sam",
		Tier:        1,
	})
	if err != nil {
		t.Fatalf("CreateRelationship failed: %v", err)
	}
	if r.ParticipantHash != types.HashParticipant("Sam@Example.com", "tminus") {
		t.Errorf("Hash mismatch: %s", r.ParticipantHash)
	}

	if _, err := f.actor.CreateRelationship(f.ctx, &types.Relationship{DisplayName: "no handle"}); !types.IsValidation(err) {
		t.Errorf("Expected VALIDATION without email or hash, got %v", err)
	}
}

func TestAddPolicyEdgeValidation(t *testing.T) {
	f := setupActor(t, testConfig())

	e, err := f.actor.AddPolicyEdge(f.ctx, &types.PolicyEdge{
		SourceAccountID:  "a",
		TargetAccountID:  "b",
		TargetCalendarID: "primary",
	})
	if err != nil {
		t.Fatalf("AddPolicyEdge failed: %v", err)
	}
	if e.DetailLevel != types.DetailBusy {
		t.Errorf("Default detail = %s, want BUSY", e.DetailLevel)
	}

	if _, err := f.actor.AddPolicyEdge(f.ctx, &types.PolicyEdge{
		SourceAccountID: "a",
	}); !types.IsValidation(err) {
		t.Errorf("Expected VALIDATION, got %v", err)
	}
	if _, err := f.actor.AddPolicyEdge(f.ctx, &types.PolicyEdge{
		SourceAccountID:  "a",
		TargetAccountID:  "b",
		TargetCalendarID: "primary",
		DetailLevel:      "LOUD",
	}); !types.IsValidation(err) {
		t.Errorf("Expected VALIDATION for bad detail level, got %v", err)
	}
}

func TestMilestoneDateValidation(t *testing.T) {
	f := setupActor(t, testConfig())

	if _, err := f.actor.AddMilestone(f.ctx, &types.Milestone{
		ParticipantHash: "hash",
		Title:           "Birthday",
		Date:            "March 5",
	}); !types.IsValidation(err) {
		t.Errorf("Expected VALIDATION, got %v", err)
	}

	m, err := f.actor.AddMilestone(f.ctx, &types.Milestone{
		ParticipantHash: "hash",
		Title:           "Birthday",
		Date:            "1990-03-05",
		Recurring:       true,
	})
	if err != nil {
		t.Fatalf("AddMilestone failed: %v", err)
	}
	listed, err := f.actor.ListMilestones(f.ctx)
	if err != nil {
		t.Fatalf("ListMilestones failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != m.ID {
		t.Errorf("Milestones = %+v", listed)
	}
}

func TestExpiredContextRejectedBeforeExecution(t *testing.T) {
	f := setupActor(t, testConfig())

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err := f.actor.ListConstraints(ctx, "")
	if !types.IsCancelled(err) {
		t.Errorf("Expected CANCELLED, got %v", err)
	}
}

func TestClosedActorRejectsCalls(t *testing.T) {
	f := setupActor(t, testConfig())

	f.actor.Close()
	if _, err := f.actor.ListConstraints(f.ctx, ""); !types.IsCancelled(err) {
		t.Errorf("Expected CANCELLED after close, got %v", err)
	}
	// Close is idempotent.
	f.actor.Close()
}

func TestSweeperTickerExpiresNothingOnEmptyStore(t *testing.T) {
	cfg := testConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	f := setupActor(t, cfg)

	// Give the ticker a few turns; it must not wedge the mailbox.
	time.Sleep(25 * time.Millisecond)
	n, err := f.actor.SweepHolds(f.ctx)
	if err != nil {
		t.Fatalf("SweepHolds failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Swept %d holds on empty store", n)
	}
}

func TestDeleteUserRemovesDatabaseFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "user.db")

	store, err := sqlite.New(ctx, path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	q := queue.NewMemory(64)
	defer q.Close()
	a := New(store, q, provider.NewFake(), testConfig(), zerolog.Nop())

	if _, err := a.CreateConstraint(ctx, types.ConstraintBuffer,
		`{"before_minutes":10,"after_minutes":0}`, "", ""); err != nil {
		t.Fatalf("CreateConstraint failed: %v", err)
	}

	if err := a.DeleteUser(ctx); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Database file still present: %v", err)
	}
	if _, err := a.ListConstraints(ctx, ""); !types.IsCancelled(err) {
		t.Errorf("Expected CANCELLED after DeleteUser, got %v", err)
	}
}
