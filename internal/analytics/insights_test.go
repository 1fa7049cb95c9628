package analytics

import (
	"testing"

	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/types"
)

func TestCognitiveLoadCountsSwitches(t *testing.T) {
	f := setupAnalytics(t)
	// Three back-to-back meetings, then one after a long break.
	f.addEvent(t, "acct_work", "A", "2026-02-16T09:00:00Z", "2026-02-16T10:00:00Z")
	f.addEvent(t, "acct_work", "B", "2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z")
	f.addEvent(t, "acct_work", "C", "2026-02-16T11:10:00Z", "2026-02-16T12:00:00Z")
	f.addEvent(t, "acct_work", "D", "2026-02-16T15:00:00Z", "2026-02-16T16:00:00Z")

	loads, err := f.engine.GetCognitiveLoad(f.ctx, "2026-02-16T00:00:00Z", "2026-02-17T00:00:00Z", nil)
	if err != nil {
		t.Fatalf("GetCognitiveLoad failed: %v", err)
	}
	if len(loads) != 1 {
		t.Fatalf("Expected 1 day, got %+v", loads)
	}
	day := loads[0]
	if day.Date != "2026-02-16" || day.EventCount != 4 {
		t.Errorf("Day = %+v", day)
	}
	if day.MeetingMinutes != 230 {
		t.Errorf("MeetingMinutes = %d, want 230", day.MeetingMinutes)
	}
	// A→B (adjacent) and B→C (10 min) are switches; C→D (3h) is not.
	if day.ContextSwitches != 2 {
		t.Errorf("ContextSwitches = %d, want 2", day.ContextSwitches)
	}
	if day.Score <= 0 || day.Score > 1 {
		t.Errorf("Score out of range: %f", day.Score)
	}
}

func TestCognitiveLoadSkipsAllDayEvents(t *testing.T) {
	f := setupAnalytics(t)
	f.addEvent(t, "acct_personal", "Conference", "2026-02-16", "2026-02-17")

	loads, err := f.engine.GetCognitiveLoad(f.ctx, "2026-02-16T00:00:00Z", "2026-02-17T00:00:00Z", nil)
	if err != nil {
		t.Fatalf("GetCognitiveLoad failed: %v", err)
	}
	if len(loads) != 0 {
		t.Errorf("All-day event counted as meeting load: %+v", loads)
	}
}

func TestContextSwitchesPerDay(t *testing.T) {
	f := setupAnalytics(t)
	f.addEvent(t, "acct_work", "A", "2026-02-16T09:00:00Z", "2026-02-16T10:00:00Z")
	f.addEvent(t, "acct_work", "B", "2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z")
	f.addEvent(t, "acct_work", "C", "2026-02-17T09:00:00Z", "2026-02-17T10:00:00Z")

	switches, err := f.engine.GetContextSwitches(f.ctx, "2026-02-16T00:00:00Z", "2026-02-18T00:00:00Z", nil)
	if err != nil {
		t.Fatalf("GetContextSwitches failed: %v", err)
	}
	if len(switches) != 2 {
		t.Fatalf("Expected 2 days, got %+v", switches)
	}
	if switches[0].Count != 1 || switches[1].Count != 0 {
		t.Errorf("Counts = %+v", switches)
	}
}

func TestDeepWorkFindsLongGaps(t *testing.T) {
	f := setupAnalytics(t)
	f.addEvent(t, "acct_work", "Standup", "2026-02-16T09:00:00Z", "2026-02-16T09:30:00Z")
	f.addEvent(t, "acct_work", "Review", "2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z")

	blocks, err := f.engine.GetDeepWork(f.ctx, "2026-02-16T09:00:00Z", "2026-02-16T17:00:00Z", 0)
	if err != nil {
		t.Fatalf("GetDeepWork failed: %v", err)
	}
	// The 30-minute gap between meetings is too short; 11:00-17:00 qualifies.
	if len(blocks) != 1 {
		t.Fatalf("Expected 1 deep-work block, got %+v", blocks)
	}
	if !blocks[0].Start.Equal(mustTime(t, "2026-02-16T11:00:00Z")) || blocks[0].Minutes != 360 {
		t.Errorf("Block = %+v", blocks[0])
	}
}

func TestRiskScoresFlagOverlapAndBackToBack(t *testing.T) {
	f := setupAnalytics(t)
	f.addEvent(t, "acct_work", "Double-booked A", "2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z")
	f.addEvent(t, "acct_work", "Double-booked B", "2026-02-16T10:30:00Z", "2026-02-16T11:30:00Z")
	f.addEvent(t, "acct_work", "Squeezed", "2026-02-16T11:30:00Z", "2026-02-16T12:00:00Z")
	f.addEvent(t, "acct_work", "Isolated", "2026-02-16T16:00:00Z", "2026-02-16T17:00:00Z")

	risks, err := f.engine.GetRiskScores(f.ctx, "2026-02-16T00:00:00Z", "2026-02-17T00:00:00Z")
	if err != nil {
		t.Fatalf("GetRiskScores failed: %v", err)
	}
	byTitle := make(map[string]EventRisk, len(risks))
	for _, r := range risks {
		byTitle[r.Title] = r
	}
	if _, ok := byTitle["Isolated"]; ok {
		t.Error("Isolated event flagged as risky")
	}
	if r := byTitle["Double-booked A"]; !hasFactor(r, RiskOverlap) {
		t.Errorf("Overlap not flagged: %+v", r)
	}
	if r := byTitle["Squeezed"]; !hasFactor(r, RiskBackToBack) {
		t.Errorf("Back-to-back not flagged: %+v", r)
	}
}

func TestRiskScoresFlagUnreliableParticipant(t *testing.T) {
	f := setupAnalytics(t)
	e := f.addEvent(t, "acct_work", "1:1", "2026-02-16T10:00:00Z", "2026-02-16T10:30:00Z")

	hash := types.HashParticipant("flaky@example.com", "salt")
	err := f.store.ReplaceEventParticipants(f.ctx, e.ID, []types.EventParticipant{
		{CanonicalEventID: e.ID, ParticipantHash: hash, Email: "flaky@example.com"},
	})
	if err != nil {
		t.Fatalf("ReplaceEventParticipants failed: %v", err)
	}
	f.addOutcome(t, hash, types.OutcomeNoShow)
	f.addOutcome(t, hash, types.OutcomeNoShow)
	f.addOutcome(t, hash, types.OutcomeMet)

	risks, err := f.engine.GetRiskScores(f.ctx, "2026-02-16T00:00:00Z", "2026-02-17T00:00:00Z")
	if err != nil {
		t.Fatalf("GetRiskScores failed: %v", err)
	}
	if len(risks) != 1 || !hasFactor(risks[0], RiskUnreliableParticipant) {
		t.Errorf("Unreliable participant not flagged: %+v", risks)
	}
}

func hasFactor(r EventRisk, factor string) bool {
	for _, f := range r.Factors {
		if f == factor {
			return true
		}
	}
	return false
}

func TestProbabilisticAvailability(t *testing.T) {
	f := setupAnalytics(t)
	// The Monday 10:00 slot was busy two of the last four weeks.
	f.addEvent(t, "acct_work", "Recurring-ish", "2026-02-09T10:00:00Z", "2026-02-09T11:00:00Z")
	f.addEvent(t, "acct_work", "Recurring-ish", "2026-01-26T10:00:00Z", "2026-01-26T11:00:00Z")

	prob, err := f.engine.GetProbabilisticAvailability(f.ctx,
		"2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z", 4)
	if err != nil {
		t.Fatalf("GetProbabilisticAvailability failed: %v", err)
	}
	if prob.WeeksObserved != 4 || prob.WeeksFree != 2 {
		t.Errorf("Observed/free = %d/%d, want 4/2", prob.WeeksObserved, prob.WeeksFree)
	}
	if prob.Probability != 0.5 {
		t.Errorf("Probability = %f, want 0.5", prob.Probability)
	}
}

func TestProbabilisticAvailabilityNoHistory(t *testing.T) {
	f := setupAnalytics(t)
	prob, err := f.engine.GetProbabilisticAvailability(f.ctx,
		"2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z", 0)
	if err != nil {
		t.Fatalf("GetProbabilisticAvailability failed: %v", err)
	}
	if prob.Probability != 1 {
		t.Errorf("Empty history probability = %f, want 1", prob.Probability)
	}
}

func TestSnapshotIsSelfContained(t *testing.T) {
	f := setupAnalytics(t)
	f.addEvent(t, "acct_work", "Standup", "2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z")
	f.addConstraint(t, types.ConstraintNoMeetingsAfter, `{"after":"18:00","timezone":"UTC"}`)
	err := f.store.InsertMilestone(f.ctx, &types.Milestone{
		ID:              ids.New(ids.PrefixMilestone),
		ParticipantHash: "hash-x",
		Title:           "Anniversary",
		Date:            "2026-06-01",
	})
	if err != nil {
		t.Fatalf("Failed to insert milestone: %v", err)
	}

	snap, err := f.engine.BuildSimulationSnapshot(f.ctx,
		"2026-02-16T00:00:00Z", "2026-02-17T00:00:00Z", mustTime(t, "2026-02-15T00:00:00Z"))
	if err != nil {
		t.Fatalf("BuildSimulationSnapshot failed: %v", err)
	}
	if len(snap.Events) != 1 || len(snap.Constraints) != 1 || len(snap.Milestones) != 1 {
		t.Errorf("Snapshot incomplete: %d events, %d constraints, %d milestones",
			len(snap.Events), len(snap.Constraints), len(snap.Milestones))
	}
	if snap.Availability == nil || len(snap.Availability.Busy) == 0 {
		t.Error("Snapshot availability missing")
	}
}
