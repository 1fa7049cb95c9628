package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

const storageScopeName = "github.com/tminus/tminus/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in tminus.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner       storage.Store
	tracer      trace.Tracer
	ops         metric.Int64Counter
	dur         metric.Float64Histogram
	errs        metric.Int64Counter
	mirrorGauge metric.Int64Gauge
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("tminus.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("tminus.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("tminus.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	mirrorGauge, _ := m.Int64Gauge("tminus.mirror.count",
		metric.WithDescription("Current number of mirrors by state (snapshot from CountMirrorsByState)"),
	)
	return &InstrumentedStore{
		inner:       s,
		tracer:      Tracer(storageScopeName),
		ops:         ops,
		dur:         dur,
		errs:        errs,
		mirrorGauge: mirrorGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func eventAttr(id string) attribute.KeyValue { return attribute.String("tminus.event.id", id) }

// ── Canonical events ─────────────────────────────────────────────────────────

func (s *InstrumentedStore) InsertCanonicalEvent(ctx context.Context, e *types.CanonicalEvent) error {
	attrs := []attribute.KeyValue{eventAttr(e.ID), attribute.String("tminus.event.source", string(e.Source))}
	ctx, span, t := s.op(ctx, "InsertCanonicalEvent", attrs...)
	err := s.inner.InsertCanonicalEvent(ctx, e)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) UpdateCanonicalEvent(ctx context.Context, e *types.CanonicalEvent) error {
	attrs := []attribute.KeyValue{eventAttr(e.ID), attribute.Int("tminus.event.version", e.Version)}
	ctx, span, t := s.op(ctx, "UpdateCanonicalEvent", attrs...)
	err := s.inner.UpdateCanonicalEvent(ctx, e)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) RemoveCanonicalEvent(ctx context.Context, id string) error {
	attrs := []attribute.KeyValue{eventAttr(id)}
	ctx, span, t := s.op(ctx, "RemoveCanonicalEvent", attrs...)
	err := s.inner.RemoveCanonicalEvent(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetCanonicalEvent(ctx context.Context, id string) (*types.CanonicalEvent, error) {
	attrs := []attribute.KeyValue{eventAttr(id)}
	ctx, span, t := s.op(ctx, "GetCanonicalEvent", attrs...)
	v, err := s.inner.GetCanonicalEvent(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetCanonicalEventByOrigin(ctx context.Context, originAccountID, originEventID string) (*types.CanonicalEvent, error) {
	attrs := []attribute.KeyValue{attribute.String("tminus.origin.account", originAccountID)}
	ctx, span, t := s.op(ctx, "GetCanonicalEventByOrigin", attrs...)
	v, err := s.inner.GetCanonicalEventByOrigin(ctx, originAccountID, originEventID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) DetachConstraint(ctx context.Context, constraintID string) error {
	attrs := []attribute.KeyValue{attribute.String("tminus.constraint.id", constraintID)}
	ctx, span, t := s.op(ctx, "DetachConstraint", attrs...)
	err := s.inner.DetachConstraint(ctx, constraintID)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ListCanonicalEventsInRange(ctx context.Context, start, end string) ([]*types.CanonicalEvent, error) {
	ctx, span, t := s.op(ctx, "ListCanonicalEventsInRange")
	v, err := s.inner.ListCanonicalEventsInRange(ctx, start, end)
	if err == nil {
		span.SetAttributes(attribute.Int("tminus.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) ListCanonicalEventsByConstraint(ctx context.Context, constraintID string) ([]*types.CanonicalEvent, error) {
	attrs := []attribute.KeyValue{attribute.String("tminus.constraint.id", constraintID)}
	ctx, span, t := s.op(ctx, "ListCanonicalEventsByConstraint", attrs...)
	v, err := s.inner.ListCanonicalEventsByConstraint(ctx, constraintID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) CountCanonicalEvents(ctx context.Context) (int, error) {
	ctx, span, t := s.op(ctx, "CountCanonicalEvents")
	v, err := s.inner.CountCanonicalEvents(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Journal ──────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) AppendJournal(ctx context.Context, entry *types.JournalEntry) error {
	attrs := []attribute.KeyValue{
		eventAttr(entry.CanonicalEventID),
		attribute.String("tminus.change.type", string(entry.ChangeType)),
	}
	ctx, span, t := s.op(ctx, "AppendJournal", attrs...)
	err := s.inner.AppendJournal(ctx, entry)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetJournal(ctx context.Context, canonicalEventID string, limit int) ([]*types.JournalEntry, error) {
	attrs := []attribute.KeyValue{eventAttr(canonicalEventID)}
	ctx, span, t := s.op(ctx, "GetJournal", attrs...)
	v, err := s.inner.GetJournal(ctx, canonicalEventID, limit)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Mirrors ──────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) InsertMirror(ctx context.Context, m *types.EventMirror) error {
	attrs := []attribute.KeyValue{
		attribute.String("tminus.mirror.id", m.ID),
		attribute.String("tminus.mirror.state", string(m.State)),
	}
	ctx, span, t := s.op(ctx, "InsertMirror", attrs...)
	err := s.inner.InsertMirror(ctx, m)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) UpdateMirror(ctx context.Context, m *types.EventMirror) error {
	attrs := []attribute.KeyValue{
		attribute.String("tminus.mirror.id", m.ID),
		attribute.String("tminus.mirror.state", string(m.State)),
	}
	ctx, span, t := s.op(ctx, "UpdateMirror", attrs...)
	err := s.inner.UpdateMirror(ctx, m)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetMirror(ctx context.Context, id string) (*types.EventMirror, error) {
	attrs := []attribute.KeyValue{attribute.String("tminus.mirror.id", id)}
	ctx, span, t := s.op(ctx, "GetMirror", attrs...)
	v, err := s.inner.GetMirror(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetMirrorByKey(ctx context.Context, key types.MirrorKey) (*types.EventMirror, error) {
	attrs := []attribute.KeyValue{eventAttr(key.CanonicalEventID)}
	ctx, span, t := s.op(ctx, "GetMirrorByKey", attrs...)
	v, err := s.inner.GetMirrorByKey(ctx, key)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetMirrorsForEvent(ctx context.Context, canonicalEventID string) ([]*types.EventMirror, error) {
	attrs := []attribute.KeyValue{eventAttr(canonicalEventID)}
	ctx, span, t := s.op(ctx, "GetMirrorsForEvent", attrs...)
	v, err := s.inner.GetMirrorsForEvent(ctx, canonicalEventID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListMirrors(ctx context.Context, filter storage.MirrorFilter) ([]*types.EventMirror, error) {
	ctx, span, t := s.op(ctx, "ListMirrors")
	v, err := s.inner.ListMirrors(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("tminus.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) GetMirrorByProviderEvent(ctx context.Context, targetAccountID, providerEventID string) (*types.EventMirror, error) {
	attrs := []attribute.KeyValue{attribute.String("tminus.mirror.target_account", targetAccountID)}
	ctx, span, t := s.op(ctx, "GetMirrorByProviderEvent", attrs...)
	v, err := s.inner.GetMirrorByProviderEvent(ctx, targetAccountID, providerEventID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) UpdateMirrorWriteState(ctx context.Context, m *types.EventMirror, from types.MirrorState) (bool, error) {
	attrs := []attribute.KeyValue{
		attribute.String("tminus.mirror.id", m.ID),
		attribute.String("tminus.mirror.from", string(from)),
		attribute.String("tminus.mirror.to", string(m.State)),
	}
	ctx, span, t := s.op(ctx, "UpdateMirrorWriteState", attrs...)
	v, err := s.inner.UpdateMirrorWriteState(ctx, m, from)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) CompareAndSwapMirrorState(ctx context.Context, id string, from, to types.MirrorState) (bool, error) {
	attrs := []attribute.KeyValue{
		attribute.String("tminus.mirror.id", id),
		attribute.String("tminus.mirror.from", string(from)),
		attribute.String("tminus.mirror.to", string(to)),
	}
	ctx, span, t := s.op(ctx, "CompareAndSwapMirrorState", attrs...)
	v, err := s.inner.CompareAndSwapMirrorState(ctx, id, from, to)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) CountMirrorsByState(ctx context.Context) (map[types.MirrorState]int, error) {
	ctx, span, t := s.op(ctx, "CountMirrorsByState")
	v, err := s.inner.CountMirrorsByState(ctx)
	s.done(ctx, span, t, err)
	if err == nil {
		// Snapshot the pipeline shape as a gauge, broken down by state.
		for state, n := range v {
			s.mirrorGauge.Record(ctx, int64(n),
				metric.WithAttributes(attribute.String("state", string(state))))
		}
	}
	return v, err
}

// ── Policy edges ─────────────────────────────────────────────────────────────

func (s *InstrumentedStore) InsertPolicyEdge(ctx context.Context, e *types.PolicyEdge) error {
	attrs := []attribute.KeyValue{attribute.String("tminus.edge.id", e.ID)}
	ctx, span, t := s.op(ctx, "InsertPolicyEdge", attrs...)
	err := s.inner.InsertPolicyEdge(ctx, e)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) DeletePolicyEdge(ctx context.Context, id string) error {
	attrs := []attribute.KeyValue{attribute.String("tminus.edge.id", id)}
	ctx, span, t := s.op(ctx, "DeletePolicyEdge", attrs...)
	err := s.inner.DeletePolicyEdge(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ListPolicyEdges(ctx context.Context) ([]*types.PolicyEdge, error) {
	ctx, span, t := s.op(ctx, "ListPolicyEdges")
	v, err := s.inner.ListPolicyEdges(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) ListPolicyEdgesForSource(ctx context.Context, sourceAccountID string) ([]*types.PolicyEdge, error) {
	attrs := []attribute.KeyValue{attribute.String("tminus.origin.account", sourceAccountID)}
	ctx, span, t := s.op(ctx, "ListPolicyEdgesForSource", attrs...)
	v, err := s.inner.ListPolicyEdgesForSource(ctx, sourceAccountID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Constraints ──────────────────────────────────────────────────────────────

func (s *InstrumentedStore) InsertConstraint(ctx context.Context, c *types.Constraint) error {
	attrs := []attribute.KeyValue{attribute.String("tminus.constraint.kind", string(c.Kind))}
	ctx, span, t := s.op(ctx, "InsertConstraint", attrs...)
	err := s.inner.InsertConstraint(ctx, c)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) UpdateConstraint(ctx context.Context, c *types.Constraint) error {
	attrs := []attribute.KeyValue{attribute.String("tminus.constraint.id", c.ID)}
	ctx, span, t := s.op(ctx, "UpdateConstraint", attrs...)
	err := s.inner.UpdateConstraint(ctx, c)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) DeleteConstraint(ctx context.Context, id string) error {
	attrs := []attribute.KeyValue{attribute.String("tminus.constraint.id", id)}
	ctx, span, t := s.op(ctx, "DeleteConstraint", attrs...)
	err := s.inner.DeleteConstraint(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetConstraint(ctx context.Context, id string) (*types.Constraint, error) {
	attrs := []attribute.KeyValue{attribute.String("tminus.constraint.id", id)}
	ctx, span, t := s.op(ctx, "GetConstraint", attrs...)
	v, err := s.inner.GetConstraint(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListConstraints(ctx context.Context, kind types.ConstraintKind) ([]*types.Constraint, error) {
	ctx, span, t := s.op(ctx, "ListConstraints")
	v, err := s.inner.ListConstraints(ctx, kind)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Relationships, ledger, milestones ────────────────────────────────────────

func (s *InstrumentedStore) InsertRelationship(ctx context.Context, r *types.Relationship) error {
	ctx, span, t := s.op(ctx, "InsertRelationship")
	err := s.inner.InsertRelationship(ctx, r)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) UpdateRelationship(ctx context.Context, r *types.Relationship) error {
	ctx, span, t := s.op(ctx, "UpdateRelationship")
	err := s.inner.UpdateRelationship(ctx, r)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) DeleteRelationship(ctx context.Context, id string) error {
	ctx, span, t := s.op(ctx, "DeleteRelationship")
	err := s.inner.DeleteRelationship(ctx, id)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	ctx, span, t := s.op(ctx, "GetRelationship")
	v, err := s.inner.GetRelationship(ctx, id)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) GetRelationshipByHash(ctx context.Context, participantHash string) (*types.Relationship, error) {
	ctx, span, t := s.op(ctx, "GetRelationshipByHash")
	v, err := s.inner.GetRelationshipByHash(ctx, participantHash)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) ListRelationships(ctx context.Context) ([]*types.Relationship, error) {
	ctx, span, t := s.op(ctx, "ListRelationships")
	v, err := s.inner.ListRelationships(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) AppendLedger(ctx context.Context, entry *types.LedgerEntry) error {
	attrs := []attribute.KeyValue{attribute.String("tminus.outcome.kind", string(entry.Kind))}
	ctx, span, t := s.op(ctx, "AppendLedger", attrs...)
	err := s.inner.AppendLedger(ctx, entry)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ListLedger(ctx context.Context, participantHash string, limit int) ([]*types.LedgerEntry, error) {
	ctx, span, t := s.op(ctx, "ListLedger")
	v, err := s.inner.ListLedger(ctx, participantHash, limit)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) InsertMilestone(ctx context.Context, m *types.Milestone) error {
	ctx, span, t := s.op(ctx, "InsertMilestone")
	err := s.inner.InsertMilestone(ctx, m)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) DeleteMilestone(ctx context.Context, id string) error {
	ctx, span, t := s.op(ctx, "DeleteMilestone")
	err := s.inner.DeleteMilestone(ctx, id)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) ListMilestones(ctx context.Context) ([]*types.Milestone, error) {
	ctx, span, t := s.op(ctx, "ListMilestones")
	v, err := s.inner.ListMilestones(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Participants ─────────────────────────────────────────────────────────────

func (s *InstrumentedStore) ReplaceEventParticipants(ctx context.Context, canonicalEventID string, ps []types.EventParticipant) error {
	attrs := []attribute.KeyValue{eventAttr(canonicalEventID), attribute.Int("tminus.participant.count", len(ps))}
	ctx, span, t := s.op(ctx, "ReplaceEventParticipants", attrs...)
	err := s.inner.ReplaceEventParticipants(ctx, canonicalEventID, ps)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) TouchRelationshipInteraction(ctx context.Context, participantHash string, ts time.Time) error {
	ctx, span, t := s.op(ctx, "TouchRelationshipInteraction")
	err := s.inner.TouchRelationshipInteraction(ctx, participantHash, ts)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) GetEventParticipants(ctx context.Context, canonicalEventID string) ([]types.EventParticipant, error) {
	attrs := []attribute.KeyValue{eventAttr(canonicalEventID)}
	ctx, span, t := s.op(ctx, "GetEventParticipants", attrs...)
	v, err := s.inner.GetEventParticipants(ctx, canonicalEventID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Scheduling ───────────────────────────────────────────────────────────────

func (s *InstrumentedStore) InsertSession(ctx context.Context, sess *types.SchedulingSession) error {
	attrs := []attribute.KeyValue{attribute.String("tminus.session.id", sess.ID)}
	ctx, span, t := s.op(ctx, "InsertSession", attrs...)
	err := s.inner.InsertSession(ctx, sess)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) UpdateSession(ctx context.Context, sess *types.SchedulingSession) error {
	attrs := []attribute.KeyValue{
		attribute.String("tminus.session.id", sess.ID),
		attribute.String("tminus.session.status", string(sess.Status)),
	}
	ctx, span, t := s.op(ctx, "UpdateSession", attrs...)
	err := s.inner.UpdateSession(ctx, sess)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) InsertHold(ctx context.Context, h *types.Hold) error {
	attrs := []attribute.KeyValue{attribute.String("tminus.hold.id", h.ID)}
	ctx, span, t := s.op(ctx, "InsertHold", attrs...)
	err := s.inner.InsertHold(ctx, h)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) UpdateHold(ctx context.Context, h *types.Hold) error {
	attrs := []attribute.KeyValue{
		attribute.String("tminus.hold.id", h.ID),
		attribute.String("tminus.hold.status", string(h.Status)),
	}
	ctx, span, t := s.op(ctx, "UpdateHold", attrs...)
	err := s.inner.UpdateHold(ctx, h)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetHoldsBySession(ctx context.Context, sessionID string) ([]*types.Hold, error) {
	attrs := []attribute.KeyValue{attribute.String("tminus.session.id", sessionID)}
	ctx, span, t := s.op(ctx, "GetHoldsBySession", attrs...)
	v, err := s.inner.GetHoldsBySession(ctx, sessionID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetSession(ctx context.Context, id string) (*types.SchedulingSession, error) {
	attrs := []attribute.KeyValue{attribute.String("tminus.session.id", id)}
	ctx, span, t := s.op(ctx, "GetSession", attrs...)
	v, err := s.inner.GetSession(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListSessions(ctx context.Context, filter storage.SessionFilter) ([]*types.SchedulingSession, error) {
	ctx, span, t := s.op(ctx, "ListSessions")
	v, err := s.inner.ListSessions(ctx, filter)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) ListExpiredHolds(ctx context.Context, now time.Time) ([]*types.Hold, error) {
	ctx, span, t := s.op(ctx, "ListExpiredHolds")
	v, err := s.inner.ListExpiredHolds(ctx, now)
	if err == nil {
		span.SetAttributes(attribute.Int("tminus.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

// ── Transactions ─────────────────────────────────────────────────────────────

func (s *InstrumentedStore) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	ctx, span, t := s.op(ctx, "RunInTransaction")
	err := s.inner.RunInTransaction(ctx, fn)
	s.done(ctx, span, t, err)
	return err
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Path exposes the inner database path when the backend has one; the user
// deletion flow discovers it through this.
func (s *InstrumentedStore) Path() string {
	if p, ok := s.inner.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
