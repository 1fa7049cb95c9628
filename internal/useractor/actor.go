// Package useractor is the single-threaded owner of one user's engine: a
// mailbox actor that runs every public operation to completion in arrival
// order over the user's store, plus the periodic hold sweeper. Provider
// network I/O stays out of the actor; it happens in the mirror writer, with
// the one exception of tentative hold reservations made by the scheduler.
package useractor

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tminus/tminus/internal/analytics"
	"github.com/tminus/tminus/internal/classify"
	"github.com/tminus/tminus/internal/constraints"
	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/ingest"
	"github.com/tminus/tminus/internal/provider"
	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/schedule"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// Config tunes one user actor.
type Config struct {
	// HighWatermark gates ingestion when the pending mirror-write queue
	// grows past it; LowWatermark re-opens the gate.
	HighWatermark int
	LowWatermark  int
	// RetryAfter is the back-off hint returned while gated.
	RetryAfter time.Duration
	// SweepInterval drives the hold/session expiry sweeper.
	SweepInterval time.Duration
	// MailboxSize bounds queued operations before callers block.
	MailboxSize int
	// Salt feeds participant hashing.
	Salt string
	// ForeignMarkers are tag keys that identify other tools' mirrors.
	ForeignMarkers []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HighWatermark: 512,
		LowWatermark:  128,
		RetryAfter:    30 * time.Second,
		SweepInterval: time.Minute,
		MailboxSize:   256,
		Salt:          "tminus",
	}
}

type result struct {
	value any
	err   error
}

type call struct {
	ctx   context.Context
	fn    func(ctx context.Context) (any, error)
	reply chan result
}

// Actor serializes all operations for one user.
type Actor struct {
	store  storage.Store
	queue  queue.Sender
	ingest *ingest.Coordinator
	rules  *constraints.Engine
	sched  *schedule.Engine
	query  *analytics.Engine
	log    zerolog.Logger
	cfg    Config

	mailbox chan call
	stop    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// gated latches between the high and low watermarks.
	gated bool
}

// New assembles and starts an actor over an already-migrated store. The
// mailbox loop and the sweeper run until Close.
func New(store storage.Store, sender queue.Sender, adapter provider.WriteAdapter, cfg Config, log zerolog.Logger) *Actor {
	cls := classify.New(cfg.ForeignMarkers)
	ing := ingest.New(store, sender, cls, cfg.Salt, log)
	query := analytics.New(store, log)

	a := &Actor{
		store:   store,
		queue:   sender,
		ingest:  ing,
		rules:   constraints.New(store, sender, log),
		sched:   schedule.New(store, sender, adapter, query, ing, nil, log),
		query:   query,
		log:     log,
		cfg:     cfg,
		mailbox: make(chan call, cfg.MailboxSize),
		stop:    make(chan struct{}),
	}
	a.wg.Add(2)
	go a.loop()
	go a.sweeper()
	return a
}

// Close stops the actor. Queued operations fail with CANCELLED; the store
// stays open (the owner closes it).
func (a *Actor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.stop)
	a.mu.Unlock()
	a.wg.Wait()
}

// loop is the single-threaded heart: operations run to completion in
// arrival order.
func (a *Actor) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stop:
			a.drainMailbox()
			return
		case c := <-a.mailbox:
			a.serve(c)
		}
	}
}

func (a *Actor) serve(c call) {
	// The caller may have given up while the call sat in the mailbox.
	if err := c.ctx.Err(); err != nil {
		c.reply <- result{err: types.Cancelledf("operation deadline passed before execution")}
		return
	}
	value, err := c.fn(c.ctx)
	c.reply <- result{value: value, err: err}
}

func (a *Actor) drainMailbox() {
	for {
		select {
		case c := <-a.mailbox:
			c.reply <- result{err: types.Cancelledf("actor stopped")}
		default:
			return
		}
	}
}

// sweeper periodically expires overdue holds inside the actor.
func (a *Actor) sweeper() {
	defer a.wg.Done()
	if a.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			if _, err := a.SweepHolds(context.Background()); err != nil && !types.IsCancelled(err) {
				a.log.Warn().Err(err).Msg("hold sweep failed")
			}
		}
	}
}

// do runs fn on the actor goroutine and waits for its result or the
// caller's deadline.
func (a *Actor) do(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, types.Cancelledf("actor stopped")
	}
	a.mu.Unlock()

	c := call{ctx: ctx, fn: fn, reply: make(chan result, 1)}
	select {
	case a.mailbox <- c:
	case <-ctx.Done():
		return nil, types.Cancelledf("mailbox full, deadline passed")
	case <-a.stop:
		return nil, types.Cancelledf("actor stopped")
	}
	select {
	case r := <-c.reply:
		return r.value, r.err
	case <-ctx.Done():
		// The operation still runs to its next safe point on the actor
		// goroutine; the caller just stops waiting.
		return nil, types.Cancelledf("operation deadline passed")
	}
}

// ---- Ingestion ----

// ApplyProviderDeltas ingests one provider delta batch, honoring the
// pending-write back-pressure gate.
func (a *Actor) ApplyProviderDeltas(ctx context.Context, originAccountID string, deltas []types.Delta) (*types.DeltaSummary, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		if err := a.checkBackPressure(); err != nil {
			return nil, err
		}
		return a.ingest.ApplyProviderDeltas(ctx, originAccountID, deltas)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.DeltaSummary), nil
}

// ApplyICS imports an iCalendar stream as created deltas on the account.
func (a *Actor) ApplyICS(ctx context.Context, originAccountID string, r io.Reader) (*types.DeltaSummary, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		if err := a.checkBackPressure(); err != nil {
			return nil, err
		}
		return a.ingest.ApplyICS(ctx, originAccountID, r)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.DeltaSummary), nil
}

// checkBackPressure runs on the actor goroutine. The gate closes at the
// high watermark and stays closed until the writer drains the queue past
// the low watermark.
func (a *Actor) checkBackPressure() error {
	depth := a.queue.Depth()
	if a.gated {
		if depth > a.cfg.LowWatermark {
			return types.RetryLater(a.cfg.RetryAfter)
		}
		a.gated = false
		return nil
	}
	if a.cfg.HighWatermark > 0 && depth >= a.cfg.HighWatermark {
		a.gated = true
		a.log.Warn().Int("depth", depth).Msg("mirror queue past high watermark, gating ingestion")
		return types.RetryLater(a.cfg.RetryAfter)
	}
	return nil
}

// ---- Constraints and policy edges ----

func (a *Actor) CreateConstraint(ctx context.Context, kind types.ConstraintKind, config, activeFrom, activeTo string) (*types.Constraint, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.rules.Create(ctx, kind, config, activeFrom, activeTo)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Constraint), nil
}

func (a *Actor) UpdateConstraint(ctx context.Context, id, config, activeFrom, activeTo string) (*types.Constraint, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.rules.Update(ctx, id, config, activeFrom, activeTo)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Constraint), nil
}

func (a *Actor) DeleteConstraint(ctx context.Context, id string) error {
	_, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return nil, a.rules.Delete(ctx, id)
	})
	return err
}

func (a *Actor) ListConstraints(ctx context.Context, kind types.ConstraintKind) ([]*types.Constraint, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.rules.List(ctx, kind)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.Constraint), nil
}

// AddPolicyEdge creates a directed mirroring rule.
func (a *Actor) AddPolicyEdge(ctx context.Context, e *types.PolicyEdge) (*types.PolicyEdge, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		if e.ID == "" {
			e.ID = ids.New(ids.PrefixEdge)
		}
		if e.DetailLevel == "" {
			e.DetailLevel = types.DetailBusy
		}
		switch e.DetailLevel {
		case types.DetailBusy, types.DetailTitle, types.DetailFull:
		default:
			return nil, types.Validationf("unknown detail level %q", e.DetailLevel)
		}
		if e.SourceAccountID == "" || e.TargetAccountID == "" || e.TargetCalendarID == "" {
			return nil, types.Validationf("policy edge requires source account, target account and target calendar")
		}
		if err := a.store.InsertPolicyEdge(ctx, e); err != nil {
			return nil, err
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.PolicyEdge), nil
}

func (a *Actor) RemovePolicyEdge(ctx context.Context, id string) error {
	_, err := a.do(ctx, func(ctx context.Context) (any, error) {
		if err := a.store.DeletePolicyEdge(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNoRows) {
				return nil, types.NotFoundf("no policy edge %s", id)
			}
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (a *Actor) ListPolicyEdges(ctx context.Context) ([]*types.PolicyEdge, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.store.ListPolicyEdges(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.PolicyEdge), nil
}

// ---- Relationships, ledger, milestones ----

// CreateRelationship registers a person. The participant hash derives from
// the email and the deployment salt when not supplied.
func (a *Actor) CreateRelationship(ctx context.Context, r *types.Relationship) (*types.Relationship, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		if r.ID == "" {
			r.ID = ids.New(ids.PrefixRelationship)
		}
		if r.ParticipantHash == "" {
			if r.Email == "" {
				return nil, types.Validationf("relationship requires email or participant_hash")
			}
			r.ParticipantHash = types.HashParticipant(r.Email, a.cfg.Salt)
		}
		if err := a.store.InsertRelationship(ctx, r); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Relationship), nil
}

func (a *Actor) UpdateRelationship(ctx context.Context, r *types.Relationship) error {
	_, err := a.do(ctx, func(ctx context.Context) (any, error) {
		if err := a.store.UpdateRelationship(ctx, r); err != nil {
			if errors.Is(err, storage.ErrNoRows) {
				return nil, types.NotFoundf("no relationship %s", r.ID)
			}
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (a *Actor) DeleteRelationship(ctx context.Context, id string) error {
	_, err := a.do(ctx, func(ctx context.Context) (any, error) {
		if err := a.store.DeleteRelationship(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNoRows) {
				return nil, types.NotFoundf("no relationship %s", id)
			}
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (a *Actor) ListRelationships(ctx context.Context) ([]*types.Relationship, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.store.ListRelationships(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.Relationship), nil
}

// MarkOutcome appends one interaction outcome to the participant's ledger
// and refreshes relationship recency.
func (a *Actor) MarkOutcome(ctx context.Context, participantHash string, kind types.OutcomeKind, canonicalEventID, note string) (*types.LedgerEntry, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		switch kind {
		case types.OutcomeMet, types.OutcomeCancelled, types.OutcomeRescheduled, types.OutcomeNoShow:
		default:
			return nil, types.Validationf("unknown outcome kind %q", kind)
		}
		entry := &types.LedgerEntry{
			ID:               ids.New(ids.PrefixLedger),
			ParticipantHash:  participantHash,
			Kind:             kind,
			CanonicalEventID: canonicalEventID,
			Note:             note,
			TS:               time.Now().UTC(),
		}
		if err := a.store.AppendLedger(ctx, entry); err != nil {
			return nil, err
		}
		if err := a.store.TouchRelationshipInteraction(ctx, participantHash, entry.TS); err != nil {
			return nil, err
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.LedgerEntry), nil
}

func (a *Actor) ListOutcomes(ctx context.Context, participantHash string, limit int) ([]*types.LedgerEntry, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.store.ListLedger(ctx, participantHash, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.LedgerEntry), nil
}

func (a *Actor) AddMilestone(ctx context.Context, m *types.Milestone) (*types.Milestone, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		if m.ID == "" {
			m.ID = ids.New(ids.PrefixMilestone)
		}
		if _, err := time.Parse(time.DateOnly, m.Date); err != nil {
			return nil, types.Validationf("invalid milestone date %q (want YYYY-MM-DD)", m.Date)
		}
		if err := a.store.InsertMilestone(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Milestone), nil
}

func (a *Actor) RemoveMilestone(ctx context.Context, id string) error {
	_, err := a.do(ctx, func(ctx context.Context) (any, error) {
		if err := a.store.DeleteMilestone(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNoRows) {
				return nil, types.NotFoundf("no milestone %s", id)
			}
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (a *Actor) ListMilestones(ctx context.Context) ([]*types.Milestone, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.store.ListMilestones(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.Milestone), nil
}

func (a *Actor) ListUpcomingMilestones(ctx context.Context, maxDays int) ([]analytics.UpcomingMilestone, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.ListUpcomingMilestones(ctx, maxDays, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return v.([]analytics.UpcomingMilestone), nil
}

// ---- Scheduling ----

func (a *Actor) ProposeTimes(ctx context.Context, req types.ProposeRequest) (*types.SchedulingSession, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.sched.Propose(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.SchedulingSession), nil
}

func (a *Actor) SelectCandidate(ctx context.Context, sessionID, candidateID string) (*types.SchedulingSession, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.sched.SelectCandidate(ctx, sessionID, candidateID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.SchedulingSession), nil
}

func (a *Actor) CommitCandidate(ctx context.Context, sessionID, candidateID string) (*types.SchedulingSession, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.sched.Commit(ctx, sessionID, candidateID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.SchedulingSession), nil
}

func (a *Actor) CancelSession(ctx context.Context, sessionID string) (*types.SchedulingSession, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.sched.Cancel(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.SchedulingSession), nil
}

func (a *Actor) ListSchedulingSessions(ctx context.Context, status types.SessionStatus, limit int) ([]*types.SchedulingSession, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.sched.ListSessions(ctx, status, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.SchedulingSession), nil
}

// SweepHolds expires overdue holds now instead of waiting for the ticker.
func (a *Actor) SweepHolds(ctx context.Context) (int, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.sched.Sweep(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// ---- Analytics ----

func (a *Actor) ComputeAvailability(ctx context.Context, start, end string, accounts []string) (*analytics.Availability, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.ComputeAvailability(ctx, start, end, accounts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*analytics.Availability), nil
}

func (a *Actor) GetCognitiveLoad(ctx context.Context, start, end string, accounts []string) ([]analytics.DayLoad, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.GetCognitiveLoad(ctx, start, end, accounts)
	})
	if err != nil {
		return nil, err
	}
	return v.([]analytics.DayLoad), nil
}

func (a *Actor) GetContextSwitches(ctx context.Context, start, end string, accounts []string) ([]analytics.DaySwitches, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.GetContextSwitches(ctx, start, end, accounts)
	})
	if err != nil {
		return nil, err
	}
	return v.([]analytics.DaySwitches), nil
}

func (a *Actor) GetDeepWork(ctx context.Context, start, end string, minMinutes int) ([]analytics.DeepWorkBlock, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.GetDeepWork(ctx, start, end, minMinutes)
	})
	if err != nil {
		return nil, err
	}
	return v.([]analytics.DeepWorkBlock), nil
}

func (a *Actor) GetRiskScores(ctx context.Context, start, end string) ([]analytics.EventRisk, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.GetRiskScores(ctx, start, end)
	})
	if err != nil {
		return nil, err
	}
	return v.([]analytics.EventRisk), nil
}

func (a *Actor) GetProbabilisticAvailability(ctx context.Context, slotStart, slotEnd string, lookbackWeeks int) (*analytics.SlotProbability, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.GetProbabilisticAvailability(ctx, slotStart, slotEnd, lookbackWeeks)
	})
	if err != nil {
		return nil, err
	}
	return v.(*analytics.SlotProbability), nil
}

func (a *Actor) GetEventBriefing(ctx context.Context, canonicalEventID string) (*analytics.EventBriefing, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.GetEventBriefing(ctx, canonicalEventID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*analytics.EventBriefing), nil
}

func (a *Actor) GetReputation(ctx context.Context, participantHash string) (*types.Reputation, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.GetReputation(ctx, participantHash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Reputation), nil
}

func (a *Actor) GetTimeline(ctx context.Context, participantHash string, limit int) (*analytics.Timeline, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.GetTimeline(ctx, participantHash, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.(*analytics.Timeline), nil
}

func (a *Actor) GetDriftReport(ctx context.Context) ([]types.DriftEntry, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.GetDriftReport(ctx, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.DriftEntry), nil
}

func (a *Actor) GetReconnectionSuggestions(ctx context.Context, city, tripID string) ([]types.DriftEntry, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.GetReconnectionSuggestions(ctx, city, tripID, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.DriftEntry), nil
}

func (a *Actor) BuildSimulationSnapshot(ctx context.Context, start, end string) (*analytics.SimulationSnapshot, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return a.query.BuildSimulationSnapshot(ctx, start, end, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return v.(*analytics.SimulationSnapshot), nil
}

// ---- Operator surface ----

// GetMirrorHealth summarizes the write pipeline for the operator channel.
func (a *Actor) GetMirrorHealth(ctx context.Context) (*types.MirrorHealth, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		counts, err := a.store.CountMirrorsByState(ctx)
		if err != nil {
			return nil, err
		}
		failed, err := a.store.ListMirrors(ctx, storage.MirrorFilter{
			States: []types.MirrorState{types.MirrorFailed},
		})
		if err != nil {
			return nil, err
		}
		return &types.MirrorHealth{
			CountsByState: counts,
			Failed:        failed,
			QueueDepth:    a.queue.Depth(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.MirrorHealth), nil
}

// ResetMirror returns a FAILED mirror to its pending state and re-enqueues
// the write. This is the only path out of FAILED.
func (a *Actor) ResetMirror(ctx context.Context, mirrorID string) (*types.EventMirror, error) {
	v, err := a.do(ctx, func(ctx context.Context) (any, error) {
		m, err := a.store.GetMirror(ctx, mirrorID)
		if errors.Is(err, storage.ErrNoRows) {
			return nil, types.NotFoundf("no mirror %s", mirrorID)
		}
		if err != nil {
			return nil, err
		}
		if m.State != types.MirrorFailed {
			return nil, types.Conflictf("mirror %s is %s, not FAILED", mirrorID, m.State)
		}

		jobType := queue.JobCreateMirror
		m.State = types.MirrorPendingCreate
		if m.ProviderEventID != nil {
			m.State = types.MirrorPendingUpdate
			jobType = queue.JobUpdateMirror
		}
		m.Error = ""
		m.AttemptCount = 0
		m.NextRetryAt = nil
		if err := a.store.UpdateMirror(ctx, m); err != nil {
			return nil, err
		}
		if err := a.queue.Send(ctx, queue.Job{Type: jobType, MirrorID: m.ID}); err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.EventMirror), nil
}

// DeleteUser stops the actor, closes the store, and removes the user's
// database files. Irreversible.
func (a *Actor) DeleteUser(ctx context.Context) error {
	_, err := a.do(ctx, func(ctx context.Context) (any, error) {
		return nil, nil // flush: every earlier mailbox entry has completed
	})
	if err != nil {
		return err
	}
	a.Close()

	var path string
	if p, ok := a.store.(interface{ Path() string }); ok {
		path = p.Path()
	}
	if err := a.store.Close(); err != nil {
		return err
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	for _, f := range []string{path, path + "-wal", path + "-shm", path + ".lock"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
