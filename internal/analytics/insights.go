package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/tminus/tminus/internal/types"
)

// contextSwitchGap is the longest break between meetings that still counts
// as a switch rather than recovered focus.
const contextSwitchGap = 15 * time.Minute

// DefaultDeepWorkMinutes is the minimum free block that counts as deep work.
const DefaultDeepWorkMinutes = 120

// DayLoad is the per-day cognitive load summary.
type DayLoad struct {
	Date            string  `json:"date"` // YYYY-MM-DD, UTC
	EventCount      int     `json:"event_count"`
	MeetingMinutes  int     `json:"meeting_minutes"`
	ContextSwitches int     `json:"context_switches"`
	Score           float64 `json:"score"` // 0..1, 1 = overloaded
}

// GetCognitiveLoad scores each UTC day in the range by meeting volume and
// fragmentation.
func (a *Engine) GetCognitiveLoad(ctx context.Context, start, end string, accounts []string) ([]DayLoad, error) {
	events, err := a.busyEvents(ctx, start, end, accounts)
	if err != nil {
		return nil, err
	}
	return cognitiveLoad(events), nil
}

func cognitiveLoad(events []*types.CanonicalEvent) []DayLoad {
	byDay := make(map[string][]Interval)
	for _, e := range events {
		iv, ok := eventInterval(e)
		if !ok || e.AllDay {
			continue
		}
		day := iv.Start.UTC().Format(time.DateOnly)
		byDay[day] = append(byDay[day], iv)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	out := make([]DayLoad, 0, len(days))
	for _, day := range days {
		ivs := byDay[day]
		sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })

		load := DayLoad{Date: day, EventCount: len(ivs)}
		for i, iv := range ivs {
			load.MeetingMinutes += int(iv.End.Sub(iv.Start).Minutes())
			if i > 0 && iv.Start.Sub(ivs[i-1].End) <= contextSwitchGap {
				load.ContextSwitches++
			}
		}
		// Eight meeting hours or eight switches each saturate their half of
		// the score.
		load.Score = clamp01(float64(load.MeetingMinutes)/480*0.6 + float64(load.ContextSwitches)/8*0.4)
		out = append(out, load)
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// DaySwitches counts context switches on one UTC day.
type DaySwitches struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// GetContextSwitches counts back-to-back meeting transitions per day. Two
// meetings separated by more than fifteen minutes do not count as a switch.
func (a *Engine) GetContextSwitches(ctx context.Context, start, end string, accounts []string) ([]DaySwitches, error) {
	loads, err := a.GetCognitiveLoad(ctx, start, end, accounts)
	if err != nil {
		return nil, err
	}
	out := make([]DaySwitches, 0, len(loads))
	for _, l := range loads {
		out = append(out, DaySwitches{Date: l.Date, Count: l.ContextSwitches})
	}
	return out, nil
}

// DeepWorkBlock is one uninterrupted free window long enough for focus work.
type DeepWorkBlock struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int       `json:"minutes"`
}

// GetDeepWork returns the availability gaps of at least minMinutes
// (DefaultDeepWorkMinutes when zero), constraints included.
func (a *Engine) GetDeepWork(ctx context.Context, start, end string, minMinutes int) ([]DeepWorkBlock, error) {
	if minMinutes <= 0 {
		minMinutes = DefaultDeepWorkMinutes
	}
	avail, err := a.ComputeAvailability(ctx, start, end, nil)
	if err != nil {
		return nil, err
	}
	var blocks []DeepWorkBlock
	for _, gap := range avail.Gaps {
		mins := int(gap.End.Sub(gap.Start).Minutes())
		if mins >= minMinutes {
			blocks = append(blocks, DeepWorkBlock{Start: gap.Start, End: gap.End, Minutes: mins})
		}
	}
	return blocks, nil
}

// EventRisk flags an upcoming event likely to slip or conflict.
type EventRisk struct {
	CanonicalEventID string   `json:"canonical_event_id"`
	Title            string   `json:"title"`
	Score            float64  `json:"score"` // 0..1, 1 = highest risk
	Factors          []string `json:"factors"`
}

// Risk factors reported by GetRiskScores.
const (
	RiskOverlap               = "overlap"
	RiskBackToBack            = "back_to_back"
	RiskUnreliableParticipant = "unreliable_participant"
)

// GetRiskScores scores events in the range by double-booking, missing
// recovery time, and participant reliability history.
func (a *Engine) GetRiskScores(ctx context.Context, start, end string) ([]EventRisk, error) {
	events, err := a.busyEvents(ctx, start, end, nil)
	if err != nil {
		return nil, err
	}

	type timed struct {
		e  *types.CanonicalEvent
		iv Interval
	}
	var ts []timed
	for _, e := range events {
		if iv, ok := eventInterval(e); ok {
			ts = append(ts, timed{e: e, iv: iv})
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].iv.Start.Before(ts[j].iv.Start) })

	var risks []EventRisk
	for i, t := range ts {
		risk := EventRisk{CanonicalEventID: t.e.ID, Title: t.e.Title}

		for j, other := range ts {
			if i == j {
				continue
			}
			if other.iv.Start.Before(t.iv.End) && t.iv.Start.Before(other.iv.End) {
				risk.Factors = append(risk.Factors, RiskOverlap)
				risk.Score += 0.5
				break
			}
		}
		if i > 0 && t.iv.Start.Sub(ts[i-1].iv.End) >= 0 && t.iv.Start.Sub(ts[i-1].iv.End) <= contextSwitchGap {
			risk.Factors = append(risk.Factors, RiskBackToBack)
			risk.Score += 0.2
		}

		participants, err := a.store.GetEventParticipants(ctx, t.e.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range participants {
			rep, err := a.GetReputation(ctx, p.ParticipantHash)
			if err != nil {
				return nil, err
			}
			if rep.Met+rep.Cancelled+rep.Rescheduled+rep.NoShow > 0 && rep.Score < 0.5 {
				risk.Factors = append(risk.Factors, RiskUnreliableParticipant)
				risk.Score += 0.3
				break
			}
		}

		if len(risk.Factors) > 0 {
			risk.Score = clamp01(risk.Score)
			risks = append(risks, risk)
		}
	}
	return risks, nil
}

// SlotProbability estimates how often a recurring slot has been free.
type SlotProbability struct {
	SlotStart     time.Time `json:"slot_start"`
	SlotEnd       time.Time `json:"slot_end"`
	WeeksObserved int       `json:"weeks_observed"`
	WeeksFree     int       `json:"weeks_free"`
	Probability   float64   `json:"probability"` // 0..1, 1 = historically always free
}

// GetProbabilisticAvailability checks the same weekday/time window over the
// previous lookbackWeeks weeks and reports the fraction of weeks it was free.
// No history yields probability 1.
func (a *Engine) GetProbabilisticAvailability(ctx context.Context, slotStart, slotEnd string, lookbackWeeks int) (*SlotProbability, error) {
	if lookbackWeeks <= 0 {
		lookbackWeeks = 8
	}
	s, err := types.ParseTS(slotStart)
	if err != nil {
		return nil, err
	}
	e, err := types.ParseTS(slotEnd)
	if err != nil {
		return nil, err
	}
	if !e.After(s) {
		return nil, types.Validationf("slot start %q not before end %q", slotStart, slotEnd)
	}

	histStart := s.AddDate(0, 0, -7*lookbackWeeks)
	events, err := a.busyEvents(ctx,
		histStart.Format(time.RFC3339), s.Format(time.RFC3339), nil)
	if err != nil {
		return nil, err
	}
	var busy []Interval
	for _, ev := range events {
		if iv, ok := eventInterval(ev); ok {
			busy = append(busy, iv)
		}
	}
	merged := Merge(busy)

	prob := &SlotProbability{SlotStart: s, SlotEnd: e, WeeksObserved: lookbackWeeks}
	for week := 1; week <= lookbackWeeks; week++ {
		ws := s.AddDate(0, 0, -7*week)
		we := e.AddDate(0, 0, -7*week)
		if !overlapsAny(merged, ws, we) {
			prob.WeeksFree++
		}
	}
	prob.Probability = float64(prob.WeeksFree) / float64(prob.WeeksObserved)
	return prob, nil
}

func overlapsAny(merged []Interval, start, end time.Time) bool {
	for _, iv := range merged {
		if iv.Start.Before(end) && start.Before(iv.End) {
			return true
		}
	}
	return false
}
