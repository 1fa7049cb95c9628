package mirrorwriter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/projection"
	"github.com/tminus/tminus/internal/provider"
	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/storage/sqlite"
	"github.com/tminus/tminus/internal/types"
)

type writerFixture struct {
	store   *sqlite.Store
	queue   *queue.Memory
	fake    *provider.Fake
	writer  *Writer
	event   *types.CanonicalEvent
	mirror  *types.EventMirror
	ctx     context.Context
	created []queue.Job
}

func setupWriter(t *testing.T) *writerFixture {
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

	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 5 * time.Millisecond
	w := New(store, q, q, fake, nil, zerolog.Nop(), cfg)

	e := &types.CanonicalEvent{
		ID:              ids.New(ids.PrefixEvent),
		OriginAccountID: "acct_a",
		OriginEventID:   "g1",
		Title:           "Team Sync",
		Start:           "2026-02-16T14:00:00Z",
		End:             "2026-02-16T15:00:00Z",
		Status:          types.StatusConfirmed,
		Transparency:    types.TransparencyOpaque,
		Source:          types.SourceProvider,
	}
	if err := store.InsertCanonicalEvent(ctx, e); err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}
	if err := store.InsertPolicyEdge(ctx, &types.PolicyEdge{
		ID:               ids.New(ids.PrefixEdge),
		SourceAccountID:  "acct_a",
		TargetAccountID:  "acct_b",
		TargetCalendarID: "primary",
		DetailLevel:      types.DetailBusy,
	}); err != nil {
		t.Fatalf("Failed to insert edge: %v", err)
	}

	var jobs []queue.Job
	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		jobs, err = projection.Reconcile(ctx, tx, e, projection.DesiredMirrors(e, []*types.PolicyEdge{{
			SourceAccountID:  "acct_a",
			TargetAccountID:  "acct_b",
			TargetCalendarID: "primary",
			DetailLevel:      types.DetailBusy,
		}}))
		return err
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 create job, got %d", len(jobs))
	}

	mirrors, err := store.GetMirrorsForEvent(ctx, e.ID)
	if err != nil || len(mirrors) != 1 {
		t.Fatalf("Mirror row missing: %v", err)
	}

	return &writerFixture{
		store:   store,
		queue:   q,
		fake:    fake,
		writer:  w,
		event:   e,
		mirror:  mirrors[0],
		ctx:     ctx,
		created: jobs,
	}
}

func (f *writerFixture) reloadMirror(t *testing.T) *types.EventMirror {
	t.Helper()
	m, err := f.store.GetMirror(f.ctx, f.mirror.ID)
	if err != nil {
		t.Fatalf("GetMirror failed: %v", err)
	}
	return m
}

func TestCreateMirrorSuccess(t *testing.T) {
	f := setupWriter(t)

	if err := f.writer.Handle(f.ctx, f.created[0]); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	m := f.reloadMirror(t)
	if m.State != types.MirrorLive {
		t.Errorf("State = %s, want LIVE", m.State)
	}
	if m.ProviderEventID == nil {
		t.Fatal("provider_event_id not stored")
	}
	if m.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", m.AttemptCount)
	}
	if m.LastWriteTS == nil {
		t.Error("last_write_ts not stored")
	}

	pe := f.fake.Event(*m.ProviderEventID)
	if pe == nil {
		t.Fatal("Provider event missing")
	}
	if pe.Payload.Title != "Busy" {
		t.Errorf("Provider title = %q, want Busy", pe.Payload.Title)
	}
	if pe.Payload.Tags[types.TagCanonicalEventID] != f.event.ID {
		t.Error("Managed tags not stamped on provider event")
	}
}

func TestStaleJobAcksWithoutEffect(t *testing.T) {
	f := setupWriter(t)

	// Row already moved on; the old create job must be a no-op.
	f.mirror.State = types.MirrorLive
	if err := f.store.UpdateMirror(f.ctx, f.mirror); err != nil {
		t.Fatalf("UpdateMirror failed: %v", err)
	}
	if err := f.writer.Handle(f.ctx, f.created[0]); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if f.fake.Len() != 0 {
		t.Errorf("Stale job produced %d provider events", f.fake.Len())
	}
	if m := f.reloadMirror(t); m.AttemptCount != 0 {
		t.Errorf("Stale job consumed an attempt: %d", m.AttemptCount)
	}
}

func TestRetryableErrorSchedulesRetry(t *testing.T) {
	f := setupWriter(t)
	f.fake.FailNext(&provider.StatusError{StatusCode: 503})

	if err := f.writer.Handle(f.ctx, f.created[0]); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	m := f.reloadMirror(t)
	if m.State != types.MirrorPendingCreate {
		t.Errorf("State = %s, want PENDING_CREATE", m.State)
	}
	if m.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", m.AttemptCount)
	}
	if m.NextRetryAt == nil {
		t.Fatal("next_retry_at not set")
	}
	if m.Error == "" {
		t.Error("Error text not recorded")
	}
	if f.queue.Depth() != 1 {
		t.Errorf("Retry job not enqueued, depth = %d", f.queue.Depth())
	}

	// The retry succeeds.
	job, err := f.queue.Receive(f.ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if err := f.writer.Handle(f.ctx, job); err != nil {
		t.Fatalf("Retry handle failed: %v", err)
	}
	m = f.reloadMirror(t)
	if m.State != types.MirrorLive {
		t.Errorf("State after retry = %s, want LIVE", m.State)
	}
	if m.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", m.AttemptCount)
	}
	if m.Error != "" {
		t.Errorf("Error not cleared: %q", m.Error)
	}
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	f := setupWriter(t)
	f.fake.FailNext(&provider.StatusError{StatusCode: 429, RetryAfter: time.Hour})

	if err := f.writer.Handle(f.ctx, f.created[0]); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	m := f.reloadMirror(t)
	if m.NextRetryAt == nil {
		t.Fatal("next_retry_at not set")
	}
	if until := time.Until(*m.NextRetryAt); until < 55*time.Minute {
		t.Errorf("Retry-After not honored: next retry in %v", until)
	}
}

func TestPermanentErrorDeadLetters(t *testing.T) {
	f := setupWriter(t)
	f.fake.FailNext(&provider.StatusError{StatusCode: 403, Message: "auth revoked"})

	if err := f.writer.Handle(f.ctx, f.created[0]); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	m := f.reloadMirror(t)
	if m.State != types.MirrorFailed {
		t.Errorf("State = %s, want FAILED", m.State)
	}
	if m.Error == "" {
		t.Error("Error text not recorded")
	}
	if f.queue.Depth() != 0 {
		t.Error("Permanent failure re-enqueued")
	}
}

func TestRetryBudgetExhaustionDeadLetters(t *testing.T) {
	f := setupWriter(t)

	job := f.created[0]
	for i := 0; i < f.writer.cfg.MaxAttempts; i++ {
		f.fake.FailNext(&provider.StatusError{StatusCode: 503})
		if err := f.writer.Handle(f.ctx, job); err != nil {
			t.Fatalf("Handle attempt %d failed: %v", i+1, err)
		}
		m := f.reloadMirror(t)
		if i < f.writer.cfg.MaxAttempts-1 {
			if m.State != types.MirrorPendingCreate {
				t.Fatalf("Attempt %d: state = %s, want PENDING_CREATE", i+1, m.State)
			}
			var err error
			job, err = f.queue.Receive(f.ctx)
			if err != nil {
				t.Fatalf("Receive failed: %v", err)
			}
		}
	}

	m := f.reloadMirror(t)
	if m.State != types.MirrorFailed {
		t.Errorf("State = %s, want FAILED after %d attempts", m.State, f.writer.cfg.MaxAttempts)
	}
	if m.AttemptCount != f.writer.cfg.MaxAttempts {
		t.Errorf("AttemptCount = %d, want %d", m.AttemptCount, f.writer.cfg.MaxAttempts)
	}
	if f.queue.Depth() != 0 {
		t.Error("Dead-lettered mirror still has queued work")
	}
}

func TestUpdateAndDeletePropagation(t *testing.T) {
	f := setupWriter(t)

	if err := f.writer.Handle(f.ctx, f.created[0]); err != nil {
		t.Fatalf("Create handle failed: %v", err)
	}

	// Update: canonical moves, reconcile marks PENDING_UPDATE.
	f.event.Start = "2026-02-16T14:30:00Z"
	f.event.End = "2026-02-16T15:30:00Z"
	f.event.Version = 2
	if err := f.store.UpdateCanonicalEvent(f.ctx, f.event); err != nil {
		t.Fatalf("UpdateCanonicalEvent failed: %v", err)
	}
	edges, _ := f.store.ListPolicyEdges(f.ctx)
	var jobs []queue.Job
	err := f.store.RunInTransaction(f.ctx, func(tx storage.Tx) error {
		var err error
		jobs, err = projection.Reconcile(f.ctx, tx, f.event, projection.DesiredMirrors(f.event, edges))
		return err
	})
	if err != nil || len(jobs) != 1 || jobs[0].Type != queue.JobUpdateMirror {
		t.Fatalf("Expected UPDATE job, got %+v (err %v)", jobs, err)
	}
	if err := f.writer.Handle(f.ctx, jobs[0]); err != nil {
		t.Fatalf("Update handle failed: %v", err)
	}
	m := f.reloadMirror(t)
	if m.State != types.MirrorLive {
		t.Errorf("State = %s, want LIVE", m.State)
	}
	pe := f.fake.Event(*m.ProviderEventID)
	if pe.Payload.Start != "2026-02-16T14:30:00Z" {
		t.Errorf("Provider start = %s, want 14:30", pe.Payload.Start)
	}

	// Delete: cancelled canonical reconciles to DELETING.
	f.event.Status = types.StatusCancelled
	if err := f.store.UpdateCanonicalEvent(f.ctx, f.event); err != nil {
		t.Fatalf("UpdateCanonicalEvent failed: %v", err)
	}
	err = f.store.RunInTransaction(f.ctx, func(tx storage.Tx) error {
		var err error
		jobs, err = projection.Reconcile(f.ctx, tx, f.event, projection.DesiredMirrors(f.event, edges))
		return err
	})
	if err != nil || len(jobs) != 1 || jobs[0].Type != queue.JobDeleteMirror {
		t.Fatalf("Expected DELETE job, got %+v (err %v)", jobs, err)
	}
	if err := f.writer.Handle(f.ctx, jobs[0]); err != nil {
		t.Fatalf("Delete handle failed: %v", err)
	}
	m = f.reloadMirror(t)
	if m.State != types.MirrorDeleted {
		t.Errorf("State = %s, want DELETED", m.State)
	}
	if f.fake.Len() != 0 {
		t.Errorf("Provider still holds %d events after delete", f.fake.Len())
	}
}

// hookAdapter runs fn before delegating CreateEvent, simulating work that
// interleaves with the provider call.
type hookAdapter struct {
	provider.WriteAdapter
	beforeCreate func()
}

func (h *hookAdapter) CreateEvent(ctx context.Context, account, calendar, idemKey string, payload *types.MirrorPayload) (string, error) {
	if h.beforeCreate != nil {
		h.beforeCreate()
	}
	return h.WriteAdapter.CreateEvent(ctx, account, calendar, idemKey, payload)
}

func TestHashRefreshDuringWriteSurvives(t *testing.T) {
	f := setupWriter(t)

	// A canonical edit lands while the create call is in flight: reconcile
	// sees WRITING and refreshes the stored hash. The writer finishing the
	// call must not restore the hash it loaded before the call.
	hooked := &hookAdapter{WriteAdapter: f.fake, beforeCreate: func() {
		m, err := f.store.GetMirror(f.ctx, f.mirror.ID)
		if err != nil {
			t.Fatalf("GetMirror failed: %v", err)
		}
		if m.State != types.MirrorWriting {
			t.Fatalf("State during call = %s, want WRITING", m.State)
		}
		m.LastProjectedHash = "refreshed"
		if err := f.store.UpdateMirror(f.ctx, m); err != nil {
			t.Fatalf("UpdateMirror failed: %v", err)
		}
	}}
	w := New(f.store, f.queue, f.queue, hooked, nil, zerolog.Nop(), DefaultConfig())

	if err := w.Handle(f.ctx, f.created[0]); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	m := f.reloadMirror(t)
	if m.State != types.MirrorLive {
		t.Errorf("State = %s, want LIVE", m.State)
	}
	if m.LastProjectedHash != "refreshed" {
		t.Errorf("Hash = %q, want the refresh stored during the call", m.LastProjectedHash)
	}
	if m.ProviderEventID == nil {
		t.Error("provider_event_id not stored")
	}
	if f.queue.Depth() != 0 {
		t.Errorf("Queue depth = %d, want 0", f.queue.Depth())
	}
}

func TestExternalTransitionDuringWriteWins(t *testing.T) {
	f := setupWriter(t)

	// Ingestion observed an external removal and tombstoned the row while
	// the provider call was in flight. Its decision stands.
	hooked := &hookAdapter{WriteAdapter: f.fake, beforeCreate: func() {
		m, err := f.store.GetMirror(f.ctx, f.mirror.ID)
		if err != nil {
			t.Fatalf("GetMirror failed: %v", err)
		}
		m.State = types.MirrorTombstoned
		if err := f.store.UpdateMirror(f.ctx, m); err != nil {
			t.Fatalf("UpdateMirror failed: %v", err)
		}
	}}
	w := New(f.store, f.queue, f.queue, hooked, nil, zerolog.Nop(), DefaultConfig())

	if err := w.Handle(f.ctx, f.created[0]); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if m := f.reloadMirror(t); m.State != types.MirrorTombstoned {
		t.Errorf("State = %s, want TOMBSTONED", m.State)
	}
}

func TestHoldReleaseJob(t *testing.T) {
	f := setupWriter(t)

	id, err := f.fake.CreateEvent(f.ctx, "acct_b", "primary", "", &types.MirrorPayload{
		Title:  "HOLD: Coffee",
		Status: types.StatusTentative,
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	err = f.writer.Handle(f.ctx, queue.Job{
		Type:             queue.JobReleaseHold,
		HoldID:           "hold_1",
		TargetAccountID:  "acct_b",
		TargetCalendarID: "primary",
		ProviderEventID:  id,
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if f.fake.Event(id) != nil {
		t.Error("Tentative provider event not deleted")
	}
}

func TestRetryDelayCapped(t *testing.T) {
	f := setupWriter(t)
	for attempt := 1; attempt <= 12; attempt++ {
		d := f.writer.retryDelay(attempt)
		if d < 0 || d > f.writer.cfg.BackoffCap {
			t.Errorf("Attempt %d: delay %v outside [0, %v]", attempt, d, f.writer.cfg.BackoffCap)
		}
	}
}
