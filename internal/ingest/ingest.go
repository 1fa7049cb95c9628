// Package ingest applies provider delta batches to the canonical store:
// classify, upsert, journal, recompute mirrors, enqueue writes, update the
// participant side tables. Each delta is one transaction; the batch is one
// actor call.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tminus/tminus/internal/classify"
	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/projection"
	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// Coordinator applies delta batches for one user.
type Coordinator struct {
	store      storage.Store
	sender     queue.Sender
	classifier *classify.Classifier
	log        zerolog.Logger

	// Salt feeds the participant hash; it is stable per deployment.
	Salt string
	// TrustProviderTimestamps enables the skip-if-older fast path for
	// updated deltas. Off by default: last-writer-wins with a journaled
	// patch.
	TrustProviderTimestamps bool
}

// New assembles an ingestion coordinator.
func New(store storage.Store, sender queue.Sender, classifier *classify.Classifier, salt string, log zerolog.Logger) *Coordinator {
	if classifier == nil {
		classifier = classify.New(nil)
	}
	return &Coordinator{
		store:      store,
		sender:     sender,
		classifier: classifier,
		log:        log,
		Salt:       salt,
	}
}

// ApplyProviderDeltas runs the batch in order. Per-delta failures accumulate
// into the summary; a store-level failure aborts the remainder of the batch.
func (c *Coordinator) ApplyProviderDeltas(ctx context.Context, originAccountID string, deltas []types.Delta) (*types.DeltaSummary, error) {
	if originAccountID == "" {
		return nil, types.Validationf("origin_account_id is required")
	}

	summary := &types.DeltaSummary{}
	edges, err := c.store.ListPolicyEdgesForSource(ctx, originAccountID)
	if err != nil {
		return nil, err
	}

	for _, delta := range deltas {
		jobs, err := c.applyOne(ctx, originAccountID, edges, delta, summary)
		if err != nil {
			code := types.CodeOf(err)
			if code == types.CodeTransient || code == types.CodeCancelled {
				// Store unavailable or shutdown: abort the batch.
				return summary, err
			}
			summary.Errors = append(summary.Errors, types.DeltaError{
				OriginEventID: delta.OriginEventID,
				Code:          code,
				Message:       err.Error(),
			})
			continue
		}
		for _, job := range jobs {
			if err := c.sender.Send(ctx, job); err != nil {
				return summary, err
			}
		}
		summary.MirrorsEnqueued += len(jobs)
	}
	return summary, nil
}

// applyOne runs one delta in its own transaction and returns the mirror jobs
// to enqueue after commit.
func (c *Coordinator) applyOne(ctx context.Context, originAccountID string, edges []*types.PolicyEdge, delta types.Delta, summary *types.DeltaSummary) ([]queue.Job, error) {
	if delta.OriginEventID == "" {
		return nil, types.Validationf("delta missing origin_event_id")
	}

	switch delta.Type {
	case types.ChangeCreated, types.ChangeUpdated:
		if delta.Event == nil {
			return nil, types.Validationf("%s delta for %s missing event", delta.Type, delta.OriginEventID)
		}
		// Sync-loop guard: our own writeback observed through the provider
		// must not touch any state.
		class := c.classifier.Classify(delta.Event)
		if class == types.ClassManagedMirror {
			c.log.Debug().
				Str("origin_event_id", delta.OriginEventID).
				Msg("managed mirror delta discarded")
			return nil, nil
		}
		return c.upsert(ctx, originAccountID, edges, delta, class, summary)
	case types.ChangeDeleted:
		return c.delete(ctx, originAccountID, delta, summary)
	default:
		return nil, types.Validationf("unknown delta type %q", delta.Type)
	}
}

// payloadHash fingerprints the canonical fields a provider delta can change.
// An unchanged hash makes the delta a version-preserving no-op.
func payloadHash(e *types.CanonicalEvent) string {
	var b []byte
	b = fmt.Appendf(b, "%s|%s|%s|%s|%s|%s|%t|%s|%s|%s|%s",
		e.Title, e.Description, e.Location, e.Start, e.End,
		e.Timezone, e.AllDay, e.Status, e.Visibility, e.Transparency,
		e.RecurrenceRule)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func applyProviderFields(dst *types.CanonicalEvent, src *types.ProviderEvent) {
	dst.Title = src.Title
	dst.Description = src.Description
	dst.Location = src.Location
	dst.Start = src.Start
	dst.End = src.End
	dst.Timezone = src.Timezone
	dst.AllDay = src.AllDay
	dst.Status = src.Status
	if dst.Status == "" {
		dst.Status = types.StatusConfirmed
	}
	dst.Visibility = src.Visibility
	if dst.Visibility == "" {
		dst.Visibility = types.VisibilityDefault
	}
	dst.Transparency = src.Transparency
	if dst.Transparency == "" {
		dst.Transparency = types.TransparencyOpaque
	}
	dst.RecurrenceRule = src.RecurrenceRule
}

func (c *Coordinator) upsert(ctx context.Context, originAccountID string, edges []*types.PolicyEdge, delta types.Delta, class types.Classification, summary *types.DeltaSummary) ([]queue.Job, error) {
	ev := delta.Event
	if err := types.ValidateRange(ev.Start, ev.End); err != nil {
		return nil, err
	}
	if ev.Timezone != "" {
		if err := types.ValidateTimezone(ev.Timezone); err != nil {
			return nil, err
		}
	}

	var jobs []queue.Job
	err := c.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		existing, err := tx.GetCanonicalEventByOrigin(ctx, originAccountID, delta.OriginEventID)
		if err != nil && !errors.Is(err, storage.ErrNoRows) {
			return err
		}

		var e *types.CanonicalEvent
		var changeType types.ChangeType

		if existing == nil {
			source := delta.Source
			if source == "" {
				source = types.SourceProvider
			}
			e = &types.CanonicalEvent{
				ID:              ids.New(ids.PrefixEvent),
				OriginAccountID: originAccountID,
				OriginEventID:   delta.OriginEventID,
				Source:          source,
				Version:         1,
			}
			applyProviderFields(e, ev)
			if err := tx.InsertCanonicalEvent(ctx, e); err != nil {
				return err
			}
			changeType = types.ChangeCreated
			summary.Created++
		} else {
			if c.TrustProviderTimestamps && !ev.UpdatedAt.IsZero() && ev.UpdatedAt.Before(existing.UpdatedAt) {
				return nil // provider replayed an older revision
			}
			before := payloadHash(existing)
			updated := *existing
			applyProviderFields(&updated, ev)
			if payloadHash(&updated) == before {
				// Duplicate delta: version unchanged, no journal entry.
				return nil
			}
			updated.Version = existing.Version + 1
			if err := tx.UpdateCanonicalEvent(ctx, &updated); err != nil {
				return err
			}
			e = &updated
			changeType = types.ChangeUpdated
			summary.Updated++
		}

		patch, _ := json.Marshal(ev)
		if err := tx.AppendJournal(ctx, &types.JournalEntry{
			CanonicalEventID: e.ID,
			ChangeType:       changeType,
			Actor:            "ingest:" + originAccountID,
			Patch:            string(patch),
		}); err != nil {
			return err
		}

		// External mirrors are stored so availability sees the busy time,
		// but never projected onward: mirroring a mirror amplifies.
		if class != types.ClassExternalMirror {
			jobs, err = projection.Reconcile(ctx, tx, e, projection.DesiredMirrors(e, edges))
			if err != nil {
				return err
			}
		}

		return c.applySideEffects(ctx, tx, e, ev)
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Coordinator) delete(ctx context.Context, originAccountID string, delta types.Delta, summary *types.DeltaSummary) ([]queue.Job, error) {
	var jobs []queue.Job
	err := c.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		e, err := tx.GetCanonicalEventByOrigin(ctx, originAccountID, delta.OriginEventID)
		if errors.Is(err, storage.ErrNoRows) {
			// Not a canonical event of this account. A deletion on the target
			// side of an edge may be someone removing one of our mirrors by
			// hand; that is the only channel through which external removal is
			// ever observed, and the row goes to TOMBSTONED, never rewritten.
			return c.tombstoneRemovedMirror(ctx, tx, originAccountID, delta.OriginEventID)
		}
		if err != nil {
			return err
		}

		e.Status = types.StatusCancelled
		e.Version++
		if err := tx.UpdateCanonicalEvent(ctx, e); err != nil {
			return err
		}
		if err := tx.AppendJournal(ctx, &types.JournalEntry{
			CanonicalEventID: e.ID,
			ChangeType:       types.ChangeDeleted,
			Actor:            "ingest:" + originAccountID,
		}); err != nil {
			return err
		}

		// Cancelled events project nothing: every live mirror reconciles to
		// DELETING.
		jobs, err = projection.Reconcile(ctx, tx, e, nil)
		if err != nil {
			return err
		}

		// The canonical row goes away physically only once no mirror still
		// needs it for teardown bookkeeping.
		mirrors, err := tx.GetMirrorsForEvent(ctx, e.ID)
		if err != nil {
			return err
		}
		live := false
		for _, m := range mirrors {
			if !m.State.Terminal() {
				live = true
				break
			}
		}
		if !live {
			if err := tx.RemoveCanonicalEvent(ctx, e.ID); err != nil {
				return err
			}
		}
		summary.Deleted++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// tombstoneRemovedMirror handles a deleted delta whose event id matches one
// of our managed mirrors on the delivering account. Whatever state the row is
// in, external removal moves it to TOMBSTONED; the provider event is gone and
// recreating it would fight the user.
func (c *Coordinator) tombstoneRemovedMirror(ctx context.Context, tx storage.Tx, targetAccountID, providerEventID string) error {
	m, err := tx.GetMirrorByProviderEvent(ctx, targetAccountID, providerEventID)
	if errors.Is(err, storage.ErrNoRows) {
		return types.NotFoundf("no canonical event for origin %s/%s", targetAccountID, providerEventID)
	}
	if err != nil {
		return err
	}
	if m.State == types.MirrorTombstoned || m.State == types.MirrorDeleted {
		return nil // removal already settled
	}
	m.State = types.MirrorTombstoned
	m.NextRetryAt = nil
	if err := tx.UpdateMirror(ctx, m); err != nil {
		return err
	}
	c.log.Info().
		Str("mirror_id", m.ID).
		Str("target_account_id", targetAccountID).
		Msg("mirror removed externally, tombstoned")
	return nil
}

// applySideEffects maintains the participant side tables: the event's
// attendee list for briefings and the relationship recency touch.
func (c *Coordinator) applySideEffects(ctx context.Context, tx storage.Tx, e *types.CanonicalEvent, ev *types.ProviderEvent) error {
	if len(ev.Participants) == 0 {
		return nil
	}
	ps := make([]types.EventParticipant, 0, len(ev.Participants))
	for _, p := range ev.Participants {
		if p.Email == "" {
			continue
		}
		ps = append(ps, types.EventParticipant{
			CanonicalEventID: e.ID,
			ParticipantHash:  types.HashParticipant(p.Email, c.Salt),
			Email:            p.Email,
			DisplayName:      p.DisplayName,
			Response:         p.Response,
		})
	}
	if err := tx.ReplaceEventParticipants(ctx, e.ID, ps); err != nil {
		return err
	}

	start, err := types.ParseTS(e.Start)
	if err != nil {
		return nil // already validated; belt and braces
	}
	for _, p := range ps {
		if err := tx.TouchRelationshipInteraction(ctx, p.ParticipantHash, start); err != nil {
			return err
		}
	}
	return nil
}
