// Package schedule runs scheduling sessions: propose candidate windows from
// availability, reserve them as TTL-bounded holds backed by tentative
// provider events, then commit one into a canonical event and release the
// rest.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tminus/tminus/internal/analytics"
	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/ingest"
	"github.com/tminus/tminus/internal/provider"
	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// DefaultHoldTTL bounds how long proposed holds block the calendars.
const DefaultHoldTTL = 10 * time.Minute

// DefaultCalendar receives holds when the request names none.
const DefaultCalendar = "primary"

// Engine drives scheduling sessions for one user. All transitions run on the
// owning actor, so a commit is linearizable against every other session
// mutation.
type Engine struct {
	store    storage.Store
	sender   queue.Sender
	adapter  provider.WriteAdapter
	avail    *analytics.Engine
	ingest   *ingest.Coordinator
	classify provider.ErrorClassifier
	log      zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New assembles a scheduling engine.
func New(store storage.Store, sender queue.Sender, adapter provider.WriteAdapter, avail *analytics.Engine, ing *ingest.Coordinator, classify provider.ErrorClassifier, log zerolog.Logger) *Engine {
	if classify == nil {
		classify = provider.DefaultClassifier{}
	}
	return &Engine{
		store:    store,
		sender:   sender,
		adapter:  adapter,
		avail:    avail,
		ingest:   ing,
		classify: classify,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Propose computes candidate windows, reserves each with a pending hold,
// and confirms the holds by creating tentative provider events. A failure
// while confirming releases everything already reserved.
func (e *Engine) Propose(ctx context.Context, req types.ProposeRequest) (*types.SchedulingSession, error) {
	if err := e.validatePropose(&req); err != nil {
		return nil, err
	}
	now := e.now()
	expiresAt := now.Add(req.HoldTTL)

	candidates, err := e.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, types.Conflictf("no free windows of %d minutes in [%s, %s)",
			req.DurationMinutes, req.WindowStart, req.WindowEnd)
	}

	session := &types.SchedulingSession{
		ID:              ids.New(ids.PrefixSession),
		Title:           req.Title,
		DurationMinutes: req.DurationMinutes,
		Status:          types.SessionProposed,
		Candidates:      candidates,
		ExpiresAt:       expiresAt,
	}
	holds := make([]*types.Hold, 0, len(candidates))
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.InsertSession(ctx, session); err != nil {
			return err
		}
		for _, cand := range candidates {
			h := &types.Hold{
				ID:               ids.New(ids.PrefixHold),
				SessionID:        session.ID,
				CandidateID:      cand.ID,
				TargetAccountID:  cand.TargetAccountID,
				TargetCalendarID: cand.TargetCalendarID,
				Start:            cand.Start,
				End:              cand.End,
				Status:           types.HoldPending,
				ExpiresAt:        expiresAt,
			}
			if err := tx.InsertHold(ctx, h); err != nil {
				return err
			}
			holds = append(holds, h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Confirm each hold with a tentative provider event. The provider calls
	// happen outside the store transaction; a failure rolls the session back
	// explicitly.
	for _, h := range holds {
		providerID, err := e.adapter.CreateEvent(ctx, h.TargetAccountID, h.TargetCalendarID,
			"hold/"+h.ID, holdPayload(session, h))
		if err != nil {
			te := e.classify.Classify(err)
			e.log.Warn().
				Str("session_id", session.ID).
				Str("hold_id", h.ID).
				Str("error", te.Error()).
				Msg("hold confirmation failed, releasing session")
			if relErr := e.releaseSession(ctx, session, holds); relErr != nil {
				return nil, relErr
			}
			return nil, te
		}
		h.ProviderEventID = &providerID
		h.Status = types.HoldConfirmed
		if err := e.store.UpdateHold(ctx, h); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// SelectCandidate records the preferred candidate without committing it.
func (e *Engine) SelectCandidate(ctx context.Context, sessionID, candidateID string) (*types.SchedulingSession, error) {
	session, err := e.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := findCandidate(session, candidateID); !ok {
		return nil, types.NotFoundf("session %s has no candidate %s", sessionID, candidateID)
	}
	session.SelectedCandidateID = &candidateID
	if err := e.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Commit atomically commits the chosen hold, releases the others, and
// materializes the chosen slot as a canonical event through ingestion.
func (e *Engine) Commit(ctx context.Context, sessionID, candidateID string) (*types.SchedulingSession, error) {
	session, err := e.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := findCandidate(session, candidateID); !ok {
		return nil, types.NotFoundf("session %s has no candidate %s", sessionID, candidateID)
	}
	holds, err := e.store.GetHoldsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var chosen *types.Hold
	var releaseJobs []queue.Job
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		for _, h := range holds {
			if h.CandidateID == candidateID {
				if h.Status != types.HoldConfirmed {
					return types.Conflictf("hold %s is %s, not confirmed", h.ID, h.Status)
				}
				h.Status = types.HoldCommitted
				chosen = h
			} else if !h.Status.Terminal() {
				h.Status = types.HoldReleased
				if h.ProviderEventID != nil {
					releaseJobs = append(releaseJobs, holdReleaseJob(h))
				}
			} else {
				continue
			}
			if err := tx.UpdateHold(ctx, h); err != nil {
				return err
			}
		}
		if chosen == nil {
			return types.NotFoundf("session %s has no hold for candidate %s", sessionID, candidateID)
		}
		session.Status = types.SessionCommitted
		session.SelectedCandidateID = &candidateID
		return tx.UpdateSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}
	for _, job := range releaseJobs {
		if err := e.sender.Send(ctx, job); err != nil {
			return nil, err
		}
	}

	// Firm up the tentative provider event, then pull it through ingestion
	// as an ordinary origin created delta. Projection takes it from there.
	if chosen.ProviderEventID != nil {
		payload := holdPayload(session, chosen)
		payload.Status = types.StatusConfirmed
		payload.Title = session.Title
		if err := e.adapter.UpdateEvent(ctx, chosen.TargetAccountID, chosen.TargetCalendarID, *chosen.ProviderEventID, payload); err != nil {
			e.log.Warn().Err(err).Str("hold_id", chosen.ID).Msg("confirming tentative event failed")
		}
	}
	summary, err := e.ingest.ApplyProviderDeltas(ctx, chosen.TargetAccountID, []types.Delta{{
		Type:          types.ChangeCreated,
		OriginEventID: commitOriginID(chosen),
		Event: &types.ProviderEvent{
			Title:        session.Title,
			Start:        chosen.Start,
			End:          chosen.End,
			Status:       types.StatusConfirmed,
			Transparency: types.TransparencyOpaque,
		},
	}})
	if err != nil {
		return nil, err
	}
	if len(summary.Errors) > 0 {
		return nil, types.Conflictf("committed slot did not ingest: %s", summary.Errors[0].Message)
	}
	return session, nil
}

// Cancel releases every non-terminal hold and closes the session.
func (e *Engine) Cancel(ctx context.Context, sessionID string) (*types.SchedulingSession, error) {
	session, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != types.SessionProposed {
		return nil, types.Conflictf("session %s is %s, not proposed", sessionID, session.Status)
	}
	holds, err := e.store.GetHoldsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.releaseSessionTx(ctx, session, holds, types.SessionCancelled); err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns sessions, optionally filtered by status.
func (e *Engine) ListSessions(ctx context.Context, status types.SessionStatus, limit int) ([]*types.SchedulingSession, error) {
	return e.store.ListSessions(ctx, storage.SessionFilter{Status: status, Limit: limit})
}

// GetSession returns one session with its holds.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*types.SchedulingSession, []*types.Hold, error) {
	session, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	holds, err := e.store.GetHoldsBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, holds, nil
}

// Sweep expires overdue holds, releases their provider artifacts, and
// expires proposed sessions whose holds are all terminal. Returns the number
// of holds expired.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	now := e.now()
	overdue, err := e.store.ListExpiredHolds(ctx, now)
	if err != nil {
		return 0, err
	}

	sessions := make(map[string]bool)
	var releaseJobs []queue.Job
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		for _, h := range overdue {
			h.Status = types.HoldExpired
			if err := tx.UpdateHold(ctx, h); err != nil {
				return err
			}
			if h.ProviderEventID != nil {
				releaseJobs = append(releaseJobs, holdReleaseJob(h))
			}
			sessions[h.SessionID] = true
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, job := range releaseJobs {
		if err := e.sender.Send(ctx, job); err != nil {
			return 0, err
		}
	}

	for sessionID := range sessions {
		session, err := e.getSession(ctx, sessionID)
		if err != nil {
			return 0, err
		}
		if session.Status != types.SessionProposed {
			continue
		}
		holds, err := e.store.GetHoldsBySession(ctx, sessionID)
		if err != nil {
			return 0, err
		}
		allTerminal := true
		for _, h := range holds {
			if !h.Status.Terminal() {
				allTerminal = false
				break
			}
		}
		if allTerminal {
			session.Status = types.SessionExpired
			if err := e.store.UpdateSession(ctx, session); err != nil {
				return 0, err
			}
		}
	}
	return len(overdue), nil
}

func (e *Engine) validatePropose(req *types.ProposeRequest) error {
	if req.DurationMinutes <= 0 {
		return types.Validationf("duration_minutes must be positive")
	}
	if req.Candidates <= 0 {
		return types.Validationf("candidates must be positive")
	}
	if len(req.TargetAccounts) == 0 {
		return types.Validationf("propose requires at least one target account")
	}
	if err := types.ValidateRange(req.WindowStart, req.WindowEnd); err != nil {
		return err
	}
	if req.HoldTTL <= 0 {
		req.HoldTTL = DefaultHoldTTL
	}
	if req.TargetCalendar == "" {
		req.TargetCalendar = DefaultCalendar
	}
	return nil
}

// candidates carves duration-sized windows out of the availability gaps,
// earliest first, rotating holds across the target accounts.
func (e *Engine) candidates(ctx context.Context, req types.ProposeRequest) ([]types.Candidate, error) {
	avail, err := e.avail.ComputeAvailability(ctx, req.WindowStart, req.WindowEnd, req.TargetAccounts)
	if err != nil {
		return nil, err
	}
	duration := time.Duration(req.DurationMinutes) * time.Minute

	var out []types.Candidate
	for _, gap := range avail.Gaps {
		for start := gap.Start; !start.Add(duration).After(gap.End); start = start.Add(duration) {
			account := req.TargetAccounts[len(out)%len(req.TargetAccounts)]
			out = append(out, types.Candidate{
				ID:               ids.New(ids.PrefixCandidate),
				Start:            start.Format(time.RFC3339),
				End:              start.Add(duration).Format(time.RFC3339),
				TargetAccountID:  account,
				TargetCalendarID: req.TargetCalendar,
				Score:            1 - float64(len(out))/float64(req.Candidates+1),
			})
			if len(out) == req.Candidates {
				return out, nil
			}
		}
	}
	return out, nil
}

// releaseSession backs out a half-confirmed propose.
func (e *Engine) releaseSession(ctx context.Context, session *types.SchedulingSession, holds []*types.Hold) error {
	return e.releaseSessionTx(ctx, session, holds, types.SessionCancelled)
}

// releaseSessionTx releases every non-terminal hold and moves the session to
// the given closing status.
func (e *Engine) releaseSessionTx(ctx context.Context, session *types.SchedulingSession, holds []*types.Hold, status types.SessionStatus) error {
	var releaseJobs []queue.Job
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		for _, h := range holds {
			if h.Status.Terminal() {
				continue
			}
			h.Status = types.HoldReleased
			if err := tx.UpdateHold(ctx, h); err != nil {
				return err
			}
			if h.ProviderEventID != nil {
				releaseJobs = append(releaseJobs, holdReleaseJob(h))
			}
		}
		session.Status = status
		return tx.UpdateSession(ctx, session)
	})
	if err != nil {
		return err
	}
	for _, job := range releaseJobs {
		if err := e.sender.Send(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// activeSession loads a session that is proposed and not expired.
func (e *Engine) activeSession(ctx context.Context, sessionID string) (*types.SchedulingSession, error) {
	session, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != types.SessionProposed {
		return nil, types.Conflictf("session %s is %s, not proposed", sessionID, session.Status)
	}
	if e.now().After(session.ExpiresAt) {
		return nil, types.Conflictf("session %s expired at %s", sessionID, session.ExpiresAt.Format(time.RFC3339))
	}
	return session, nil
}

func (e *Engine) getSession(ctx context.Context, sessionID string) (*types.SchedulingSession, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNoRows) {
		return nil, types.NotFoundf("no scheduling session %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func findCandidate(session *types.SchedulingSession, candidateID string) (types.Candidate, bool) {
	for _, c := range session.Candidates {
		if c.ID == candidateID {
			return c, true
		}
	}
	return types.Candidate{}, false
}

// holdPayload is the tentative provider event reserving one candidate slot.
func holdPayload(session *types.SchedulingSession, h *types.Hold) *types.MirrorPayload {
	return &types.MirrorPayload{
		Title:        fmt.Sprintf("HOLD: %s", session.Title),
		Start:        h.Start,
		End:          h.End,
		Status:       types.StatusTentative,
		Transparency: types.TransparencyOpaque,
		// Full managed tags so a sync worker observing the hold discards it
		// instead of ingesting a phantom event.
		Tags: map[string]string{
			types.TagManagedBy:        "true",
			types.TagManaged:          "true",
			types.TagCanonicalEventID: "hold:" + h.ID,
			"session_id":              session.ID,
		},
	}
}

// commitOriginID is the origin event ID for the committed slot's ingestion
// delta: the firmed-up tentative provider event when one exists, otherwise
// the hold itself.
func commitOriginID(h *types.Hold) string {
	if h.ProviderEventID != nil {
		return *h.ProviderEventID
	}
	return "hold:" + h.ID
}

func holdReleaseJob(h *types.Hold) queue.Job {
	return queue.Job{
		Type:             queue.JobReleaseHold,
		HoldID:           h.ID,
		TargetAccountID:  h.TargetAccountID,
		TargetCalendarID: h.TargetCalendarID,
		ProviderEventID:  *h.ProviderEventID,
	}
}
