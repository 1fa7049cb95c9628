// Package mirrorwriter consumes mirror-write jobs and performs the provider
// calls, driving each mirror row through its state machine. The WRITING
// transition is a compare-and-swap, so concurrent consumers of the same job
// settle on exactly one visible provider side effect.
package mirrorwriter

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tminus/tminus/internal/projection"
	"github.com/tminus/tminus/internal/provider"
	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// Config tunes the writer pool and retry policy.
type Config struct {
	Workers     int
	MaxAttempts int           // retryable attempts before auto-FAILED
	BackoffBase time.Duration // first retry delay
	BackoffCap  time.Duration // ceiling on any retry delay
}

// DefaultConfig matches the documented retry policy: base 1s, factor 2,
// cap 5 minutes, 8 attempts.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		MaxAttempts: 8,
		BackoffBase: time.Second,
		BackoffCap:  5 * time.Minute,
	}
}

// Writer is the job consumer. One Writer serves one user's store and queue.
type Writer struct {
	store    storage.Store
	recv     queue.Receiver
	send     queue.Sender
	adapter  provider.WriteAdapter
	classify provider.ErrorClassifier
	log      zerolog.Logger
	cfg      Config
}

// New assembles a writer. classifier may be nil, in which case the default
// policy applies.
func New(store storage.Store, recv queue.Receiver, send queue.Sender, adapter provider.WriteAdapter, classifier provider.ErrorClassifier, log zerolog.Logger, cfg Config) *Writer {
	if classifier == nil {
		classifier = provider.DefaultClassifier{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}
	return &Writer{
		store:    store,
		recv:     recv,
		send:     send,
		adapter:  adapter,
		classify: classifier,
		log:      log,
		cfg:      cfg,
	}
}

// Run consumes jobs until ctx is cancelled or the queue closes.
func (w *Writer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				job, err := w.recv.Receive(ctx)
				if err != nil {
					if types.IsCancelled(err) {
						return nil
					}
					if types.IsPermanent(err) { // queue closed
						return nil
					}
					return err
				}
				if err := w.Handle(ctx, job); err != nil {
					w.log.Error().Err(err).
						Str("job_type", string(job.Type)).
						Str("mirror_id", job.MirrorID).
						Msg("mirror job failed")
				}
			}
		})
	}
	return g.Wait()
}

// Handle processes a single job. Errors are terminal for the job; retryable
// provider failures are handled internally by re-enqueueing.
func (w *Writer) Handle(ctx context.Context, job queue.Job) error {
	switch job.Type {
	case queue.JobCreateMirror, queue.JobUpdateMirror, queue.JobDeleteMirror:
		return w.handleMirror(ctx, job)
	case queue.JobReleaseHold:
		return w.handleHoldRelease(ctx, job)
	default:
		return types.Validationf("unknown job type %q", job.Type)
	}
}

// expectedState maps the job type to the state the mirror row must be in for
// this job to act. Anything else means the job is stale and acks silently.
func expectedState(t queue.JobType) types.MirrorState {
	switch t {
	case queue.JobCreateMirror:
		return types.MirrorPendingCreate
	case queue.JobUpdateMirror:
		return types.MirrorPendingUpdate
	default:
		return types.MirrorDeleting
	}
}

func (w *Writer) handleMirror(ctx context.Context, job queue.Job) error {
	m, err := w.store.GetMirror(ctx, job.MirrorID)
	if errors.Is(err, storage.ErrNoRows) {
		return nil // row gone, stale job
	}
	if err != nil {
		return err
	}

	from := expectedState(job.Type)
	if m.State != from {
		w.log.Debug().
			Str("mirror_id", m.ID).
			Str("state", string(m.State)).
			Str("expected", string(from)).
			Msg("stale mirror job acked")
		return nil
	}

	swapped, err := w.store.CompareAndSwapMirrorState(ctx, m.ID, from, types.MirrorWriting)
	if err != nil {
		return err
	}
	if !swapped {
		return nil // another consumer won the row
	}

	// Only writer-owned columns from here on: a reconcile running during the
	// provider call may refresh last_projected_hash on this row, and that
	// refresh must survive the write finishing.
	m.State = types.MirrorWriting
	m.AttemptCount++
	ok, err := w.store.UpdateMirrorWriteState(ctx, m, types.MirrorWriting)
	if err != nil {
		return err
	}
	if !ok {
		return nil // row moved on between the swap and the attempt bump
	}

	callErr := w.performCall(ctx, job.Type, m)
	if callErr == nil {
		return w.finishSuccess(ctx, job.Type, m)
	}
	return w.finishFailure(ctx, job, m, from, callErr)
}

// performCall runs the provider operation for the job. The payload is
// projected from the live canonical row at call time, so a canonical edit
// between enqueue and write is reflected without an extra cycle.
func (w *Writer) performCall(ctx context.Context, t queue.JobType, m *types.EventMirror) error {
	if t == queue.JobDeleteMirror {
		if m.ProviderEventID == nil {
			return nil // never materialized; delete is a no-op
		}
		return w.adapter.DeleteEvent(ctx, m.TargetAccountID, m.TargetCalendarID, *m.ProviderEventID)
	}

	e, err := w.store.GetCanonicalEvent(ctx, m.CanonicalEventID)
	if errors.Is(err, storage.ErrNoRows) {
		return types.Permanentf(nil, "canonical event %s gone", m.CanonicalEventID)
	}
	if err != nil {
		return types.Transientf(err, "load canonical event")
	}

	level, err := w.detailLevel(ctx, e, m)
	if err != nil {
		return err
	}
	payload := projection.Payload(e, level)

	if t == queue.JobCreateMirror {
		// The idempotency key is stable per mirror row, so a retried create
		// after a lost response cannot double-book the target calendar.
		idemKey := m.CanonicalEventID + "/" + m.TargetAccountID + "/" + m.TargetCalendarID
		id, err := w.adapter.CreateEvent(ctx, m.TargetAccountID, m.TargetCalendarID, idemKey, payload)
		if err != nil {
			return err
		}
		m.ProviderEventID = &id
		return nil
	}

	if m.ProviderEventID == nil {
		return types.Permanentf(nil, "update for mirror %s with no provider event id", m.ID)
	}
	return w.adapter.UpdateEvent(ctx, m.TargetAccountID, m.TargetCalendarID, *m.ProviderEventID, payload)
}

// detailLevel resolves the policy edge that produced this mirror.
// System-derived events (trips) project along every edge, so their lookup is
// not keyed by origin account.
func (w *Writer) detailLevel(ctx context.Context, e *types.CanonicalEvent, m *types.EventMirror) (types.DetailLevel, error) {
	var edges []*types.PolicyEdge
	var err error
	if e.Source == types.SourceSystem {
		edges, err = w.store.ListPolicyEdges(ctx)
	} else {
		edges, err = w.store.ListPolicyEdgesForSource(ctx, e.OriginAccountID)
	}
	if err != nil {
		return "", types.Transientf(err, "load policy edges")
	}
	for _, edge := range edges {
		if edge.TargetAccountID == m.TargetAccountID && edge.TargetCalendarID == m.TargetCalendarID {
			return edge.DetailLevel, nil
		}
	}
	// Edge removed between enqueue and write. The next recompute reconciles
	// the row to DELETING; failing permanent here would dead-letter it.
	return "", types.Transientf(nil, "no policy edge for mirror %s", m.ID)
}

func (w *Writer) finishSuccess(ctx context.Context, t queue.JobType, m *types.EventMirror) error {
	ts := time.Now().UTC()
	m.LastWriteTS = &ts
	m.Error = ""
	m.NextRetryAt = nil
	if t == queue.JobDeleteMirror {
		m.State = types.MirrorDeleted
	} else {
		m.State = types.MirrorLive
	}
	ok, err := w.store.UpdateMirrorWriteState(ctx, m, types.MirrorWriting)
	if err != nil {
		return err
	}
	if !ok {
		// Something else transitioned the row mid-call (an external removal
		// tombstoned it, say). Its decision stands.
		w.log.Info().
			Str("mirror_id", m.ID).
			Msg("mirror moved during write, result discarded")
		return nil
	}
	w.log.Info().
		Str("mirror_id", m.ID).
		Str("state", string(m.State)).
		Int("attempts", m.AttemptCount).
		Msg("mirror write applied")
	return nil
}

func (w *Writer) finishFailure(ctx context.Context, job queue.Job, m *types.EventMirror, from types.MirrorState, callErr error) error {
	te := w.classify.Classify(callErr)

	switch te.Code {
	case types.CodeCancelled:
		// Shutdown mid-write: give the attempt back and re-deliver on the
		// next run.
		m.State = from
		m.AttemptCount--
		ok, err := w.store.UpdateMirrorWriteState(context.WithoutCancel(ctx), m, types.MirrorWriting)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return w.send.Send(context.WithoutCancel(ctx), queue.Job{Type: job.Type, MirrorID: m.ID})
	case types.CodePermanent:
		m.State = types.MirrorFailed
		m.Error = te.Error()
		if _, err := w.store.UpdateMirrorWriteState(ctx, m, types.MirrorWriting); err != nil {
			return err
		}
		w.log.Warn().
			Str("mirror_id", m.ID).
			Str("error", m.Error).
			Msg("mirror dead-lettered")
		return nil
	}

	// Retryable.
	if m.AttemptCount >= w.cfg.MaxAttempts {
		m.State = types.MirrorFailed
		m.Error = "retries exhausted: " + te.Error()
		if _, err := w.store.UpdateMirrorWriteState(ctx, m, types.MirrorWriting); err != nil {
			return err
		}
		w.log.Warn().
			Str("mirror_id", m.ID).
			Int("attempts", m.AttemptCount).
			Msg("mirror dead-lettered after retry budget")
		return nil
	}

	delay := w.retryDelay(m.AttemptCount)
	if te.RetryAfter > delay {
		delay = te.RetryAfter
	}
	retryAt := time.Now().UTC().Add(delay)
	m.State = from
	m.Error = te.Error()
	m.NextRetryAt = &retryAt
	ok, err := w.store.UpdateMirrorWriteState(ctx, m, types.MirrorWriting)
	if err != nil {
		return err
	}
	if !ok {
		return nil // row moved on; no retry for a decision that is not ours
	}
	w.log.Debug().
		Str("mirror_id", m.ID).
		Int("attempt", m.AttemptCount).
		Dur("delay", delay).
		Msg("mirror write retry scheduled")
	return w.send.Send(ctx, queue.Job{Type: job.Type, MirrorID: m.ID, NotBefore: retryAt})
}

// retryDelay computes the capped exponential delay with jitter for the given
// attempt number (1-based).
func (w *Writer) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.BackoffBase
	b.RandomizationFactor = 1 // full jitter
	b.Multiplier = 2
	b.MaxInterval = w.cfg.BackoffCap
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > w.cfg.BackoffCap {
		d = w.cfg.BackoffCap
	}
	if d < 0 {
		d = w.cfg.BackoffBase
	}
	return d
}

// handleHoldRelease deletes the tentative provider event behind a released
// hold. The hold row was already transitioned by the scheduler; only the
// provider cleanup happens here.
func (w *Writer) handleHoldRelease(ctx context.Context, job queue.Job) error {
	if job.ProviderEventID == "" {
		return nil
	}
	err := w.adapter.DeleteEvent(ctx, job.TargetAccountID, job.TargetCalendarID, job.ProviderEventID)
	if err == nil {
		return nil
	}
	te := w.classify.Classify(err)
	switch te.Code {
	case types.CodeCancelled:
		return w.send.Send(context.WithoutCancel(ctx), job)
	case types.CodePermanent:
		w.log.Warn().
			Str("hold_id", job.HoldID).
			Str("error", te.Error()).
			Msg("hold cleanup failed permanently")
		return nil
	}
	attempt := job.Attempt + 1
	if attempt >= w.cfg.MaxAttempts {
		w.log.Warn().
			Str("hold_id", job.HoldID).
			Int("attempts", attempt).
			Msg("hold cleanup retry budget exhausted")
		return nil
	}
	delay := w.retryDelay(attempt)
	if te.RetryAfter > delay {
		delay = te.RetryAfter
	}
	retry := job
	retry.Attempt = attempt
	retry.NotBefore = time.Now().UTC().Add(delay)
	return w.send.Send(ctx, retry)
}
