package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// Tier cadence targets in days. Tier 1 is closest; anything unset or out of
// range falls back to the loosest cadence.
var tierTargetDays = map[int]int{1: 30, 2: 60, 3: 90}

const defaultTierTargetDays = 90

// GetReputation aggregates a participant's outcome ledger. A participant
// with no history scores 1.
func (a *Engine) GetReputation(ctx context.Context, participantHash string) (*types.Reputation, error) {
	entries, err := a.store.ListLedger(ctx, participantHash, 0)
	if err != nil {
		return nil, err
	}
	rep := &types.Reputation{ParticipantHash: participantHash}
	for _, e := range entries {
		switch e.Kind {
		case types.OutcomeMet:
			rep.Met++
		case types.OutcomeCancelled:
			rep.Cancelled++
		case types.OutcomeRescheduled:
			rep.Rescheduled++
		case types.OutcomeNoShow:
			rep.NoShow++
		}
	}
	total := rep.Met + rep.Cancelled + rep.Rescheduled + rep.NoShow
	if total == 0 {
		rep.Score = 1
		return rep, nil
	}
	// Reschedules count half: the meeting still happened, just later.
	rep.Score = (float64(rep.Met) + 0.5*float64(rep.Rescheduled)) / float64(total)
	return rep, nil
}

// Timeline is the interaction history for one participant.
type Timeline struct {
	Relationship *types.Relationship  `json:"relationship,omitempty"`
	Entries      []*types.LedgerEntry `json:"entries"`
}

// GetTimeline returns the participant's relationship record and most recent
// ledger entries, newest first.
func (a *Engine) GetTimeline(ctx context.Context, participantHash string, limit int) (*Timeline, error) {
	rel, err := a.store.GetRelationshipByHash(ctx, participantHash)
	if err != nil && !errors.Is(err, storage.ErrNoRows) {
		return nil, err
	}
	entries, err := a.store.ListLedger(ctx, participantHash, limit)
	if err != nil {
		return nil, err
	}
	return &Timeline{Relationship: rel, Entries: entries}, nil
}

// GetDriftReport lists relationships whose contact cadence has slipped past
// their tier target, most overdue first.
func (a *Engine) GetDriftReport(ctx context.Context, now time.Time) ([]types.DriftEntry, error) {
	rels, err := a.store.ListRelationships(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.DriftEntry
	for _, rel := range rels {
		entry := driftEntry(rel, now)
		if entry.DaysSinceContact > entry.TierTargetDays {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return overdueRatio(out[i]) > overdueRatio(out[j])
	})
	return out, nil
}

func driftEntry(rel *types.Relationship, now time.Time) types.DriftEntry {
	target, ok := tierTargetDays[rel.Tier]
	if !ok {
		target = defaultTierTargetDays
	}
	last := rel.CreatedAt
	if rel.LastInteractionTS != nil {
		last = *rel.LastInteractionTS
	}
	return types.DriftEntry{
		Relationship:     rel,
		DaysSinceContact: int(now.Sub(last).Hours() / 24),
		TierTargetDays:   target,
	}
}

func overdueRatio(e types.DriftEntry) float64 {
	return float64(e.DaysSinceContact) / float64(e.TierTargetDays)
}

// GetReconnectionSuggestions ranks people worth reaching out to, longest
// silence first. A city narrows to people there; a trip id resolves to the
// trip's city.
func (a *Engine) GetReconnectionSuggestions(ctx context.Context, city, tripID string, now time.Time) ([]types.DriftEntry, error) {
	if tripID != "" {
		c, err := a.store.GetConstraint(ctx, tripID)
		if errors.Is(err, storage.ErrNoRows) {
			return nil, types.NotFoundf("no constraint %s", tripID)
		}
		if err != nil {
			return nil, err
		}
		if c.Kind != types.ConstraintTrip {
			return nil, types.Validationf("constraint %s is %s, not a trip", tripID, c.Kind)
		}
		var cfg types.TripConfig
		if err := json.Unmarshal([]byte(c.Config), &cfg); err != nil {
			return nil, types.Validationf("malformed trip config: %v", err)
		}
		city = cfg.City
		if city == "" {
			city = cfg.Destination
		}
	}

	rels, err := a.store.ListRelationships(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.DriftEntry
	for _, rel := range rels {
		if city != "" && !strings.EqualFold(rel.City, city) {
			continue
		}
		out = append(out, driftEntry(rel, now))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DaysSinceContact > out[j].DaysSinceContact
	})
	return out, nil
}

// ParticipantBriefing is one attendee's context inside an event briefing.
type ParticipantBriefing struct {
	Participant  types.EventParticipant `json:"participant"`
	Relationship *types.Relationship    `json:"relationship,omitempty"`
	Reputation   *types.Reputation      `json:"reputation"`
	RecentNotes  []*types.LedgerEntry   `json:"recent_notes,omitempty"`
	Milestones   []*types.Milestone     `json:"milestones,omitempty"`
}

// EventBriefing is the pre-meeting context packet for one canonical event.
type EventBriefing struct {
	Event        *types.CanonicalEvent `json:"event"`
	Participants []ParticipantBriefing `json:"participants"`
}

// GetEventBriefing assembles who is in the meeting, how reliable they have
// been, recent notes, and milestones within the next 30 days.
func (a *Engine) GetEventBriefing(ctx context.Context, canonicalEventID string) (*EventBriefing, error) {
	e, err := a.store.GetCanonicalEvent(ctx, canonicalEventID)
	if errors.Is(err, storage.ErrNoRows) {
		return nil, types.NotFoundf("no canonical event %s", canonicalEventID)
	}
	if err != nil {
		return nil, err
	}

	participants, err := a.store.GetEventParticipants(ctx, canonicalEventID)
	if err != nil {
		return nil, err
	}
	eventStart, err := types.ParseTS(e.Start)
	if err != nil {
		eventStart = time.Now().UTC()
	}

	milestones, err := a.store.ListMilestones(ctx)
	if err != nil {
		return nil, err
	}

	briefing := &EventBriefing{Event: e}
	for _, p := range participants {
		pb := ParticipantBriefing{Participant: p}

		pb.Relationship, err = a.store.GetRelationshipByHash(ctx, p.ParticipantHash)
		if err != nil && !errors.Is(err, storage.ErrNoRows) {
			return nil, err
		}
		pb.Reputation, err = a.GetReputation(ctx, p.ParticipantHash)
		if err != nil {
			return nil, err
		}
		pb.RecentNotes, err = a.store.ListLedger(ctx, p.ParticipantHash, 5)
		if err != nil {
			return nil, err
		}
		for _, m := range milestones {
			if m.ParticipantHash != p.ParticipantHash {
				continue
			}
			if days, ok := daysUntilMilestone(m, eventStart); ok && days <= 30 {
				pb.Milestones = append(pb.Milestones, m)
			}
		}
		briefing.Participants = append(briefing.Participants, pb)
	}
	return briefing, nil
}

// UpcomingMilestone pairs a milestone with its next occurrence.
type UpcomingMilestone struct {
	Milestone *types.Milestone `json:"milestone"`
	Date      string           `json:"date"` // next occurrence, YYYY-MM-DD
	DaysUntil int              `json:"days_until"`
}

// ListUpcomingMilestones returns milestones occurring within maxDays of now,
// soonest first. Recurring milestones resolve to their next anniversary.
func (a *Engine) ListUpcomingMilestones(ctx context.Context, maxDays int, now time.Time) ([]UpcomingMilestone, error) {
	milestones, err := a.store.ListMilestones(ctx)
	if err != nil {
		return nil, err
	}
	var out []UpcomingMilestone
	for _, m := range milestones {
		days, ok := daysUntilMilestone(m, now)
		if !ok || days > maxDays {
			continue
		}
		out = append(out, UpcomingMilestone{
			Milestone: m,
			Date:      nextOccurrence(m, now).Format(time.DateOnly),
			DaysUntil: days,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DaysUntil < out[j].DaysUntil })
	return out, nil
}

// daysUntilMilestone returns days from now to the milestone's next
// occurrence. ok is false for malformed dates or one-off milestones already
// past.
func daysUntilMilestone(m *types.Milestone, now time.Time) (int, bool) {
	next := nextOccurrence(m, now)
	if next.IsZero() {
		return 0, false
	}
	days := int(next.Sub(dayOf(now)).Hours() / 24)
	if days < 0 {
		return 0, false
	}
	return days, true
}

func nextOccurrence(m *types.Milestone, now time.Time) time.Time {
	date, err := time.Parse(time.DateOnly, m.Date)
	if err != nil {
		return time.Time{}
	}
	if !m.Recurring {
		return date
	}
	today := dayOf(now)
	next := time.Date(today.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	if next.Before(today) {
		next = next.AddDate(1, 0, 0)
	}
	return next
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
