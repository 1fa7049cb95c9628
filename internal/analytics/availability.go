package analytics

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// Engine answers analytics queries for one user's store.
type Engine struct {
	store storage.Store
	log   zerolog.Logger
}

// New assembles an analytics engine over the given store.
func New(store storage.Store, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Availability is the merged busy picture for a range.
type Availability struct {
	RangeStart time.Time  `json:"range_start"`
	RangeEnd   time.Time  `json:"range_end"`
	Busy       []Interval `json:"busy"`
	Gaps       []Interval `json:"gaps"`
}

// ComputeAvailability merges canonical events and constraint-derived blocks
// into busy intervals and free gaps over [start, end). If accounts is
// non-empty, provider events outside those origin accounts are ignored;
// system-derived events (trips) always count.
func (a *Engine) ComputeAvailability(ctx context.Context, start, end string, accounts []string) (*Availability, error) {
	rangeStart, err := types.ParseTS(start)
	if err != nil {
		return nil, err
	}
	rangeEnd, err := types.ParseTS(end)
	if err != nil {
		return nil, err
	}
	if !rangeEnd.After(rangeStart) {
		return nil, types.Validationf("availability range start %q not before end %q", start, end)
	}

	events, err := a.busyEvents(ctx, start, end, accounts)
	if err != nil {
		return nil, err
	}

	var busy []Interval
	for _, e := range events {
		if iv, ok := eventInterval(e); ok {
			busy = append(busy, iv)
		}
	}

	constraints, err := a.store.ListConstraints(ctx, "")
	if err != nil {
		return nil, err
	}
	var availableOverrides []Interval
	for _, c := range constraints {
		effStart, effEnd, ok := constraintWindow(c, rangeStart, rangeEnd)
		if !ok {
			continue
		}
		switch c.Kind {
		case types.ConstraintWorkingHours:
			ivs, err := workingHoursBusy(c, effStart, effEnd)
			if err != nil {
				a.log.Warn().Err(err).Str("constraint_id", c.ID).Msg("skipping invalid working_hours constraint")
				continue
			}
			busy = append(busy, ivs...)
		case types.ConstraintNoMeetingsAfter:
			ivs, err := cutoffBusy(c, effStart, effEnd)
			if err != nil {
				a.log.Warn().Err(err).Str("constraint_id", c.ID).Msg("skipping invalid no_meetings_after constraint")
				continue
			}
			busy = append(busy, ivs...)
		case types.ConstraintBuffer:
			ivs, err := bufferBusy(c, events)
			if err != nil {
				a.log.Warn().Err(err).Str("constraint_id", c.ID).Msg("skipping invalid buffer constraint")
				continue
			}
			busy = append(busy, ivs...)
		case types.ConstraintOverride:
			var cfg types.OverrideConfig
			if err := json.Unmarshal([]byte(c.Config), &cfg); err != nil {
				continue
			}
			iv, ok := rangeInterval(cfg.Start, cfg.End, KindOverride)
			if !ok {
				continue
			}
			if cfg.Available {
				availableOverrides = append(availableOverrides, iv)
			} else {
				busy = append(busy, iv)
			}
		}
		// Trips need no expansion here: the constraint engine materializes
		// each trip as a system-source canonical event, collected above.
	}

	milestones, err := a.store.ListMilestones(ctx)
	if err != nil {
		return nil, err
	}
	busy = append(busy, milestoneBusy(milestones, rangeStart, rangeEnd)...)

	merged := Merge(busy)
	for _, free := range availableOverrides {
		merged = Subtract(merged, free)
	}
	merged = Clip(merged, rangeStart, rangeEnd)

	return &Availability{
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Busy:       merged,
		Gaps:       Gaps(merged, rangeStart, rangeEnd),
	}, nil
}

// busyEvents returns the opaque, non-cancelled canonical events in range,
// honoring the optional account filter.
func (a *Engine) busyEvents(ctx context.Context, start, end string, accounts []string) ([]*types.CanonicalEvent, error) {
	all, err := a.store.ListCanonicalEventsInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	filter := make(map[string]bool, len(accounts))
	for _, acct := range accounts {
		filter[acct] = true
	}
	var out []*types.CanonicalEvent
	for _, e := range all {
		if e.Status == types.StatusCancelled || e.Transparency != types.TransparencyOpaque {
			continue
		}
		if len(filter) > 0 && e.Source != types.SourceSystem && !filter[e.OriginAccountID] {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// constraintWindow intersects the query range with the constraint's active
// window. ok is false when they do not overlap.
func constraintWindow(c *types.Constraint, start, end time.Time) (time.Time, time.Time, bool) {
	if c.ActiveFrom != "" {
		if from, err := types.ParseTS(c.ActiveFrom); err == nil && from.After(start) {
			start = from
		}
	}
	if c.ActiveTo != "" {
		if to, err := types.ParseTS(c.ActiveTo); err == nil && to.Before(end) {
			end = to
		}
	}
	return start, end, end.After(start)
}

// workingHoursBusy marks everything outside the configured working windows
// busy. The complement runs in the constraint's IANA timezone, so the busy
// blocks land correctly across DST.
func workingHoursBusy(c *types.Constraint, start, end time.Time) ([]Interval, error) {
	var cfg types.WorkingHoursConfig
	if err := json.Unmarshal([]byte(c.Config), &cfg); err != nil {
		return nil, types.Validationf("malformed working_hours config: %v", err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, types.Validationf("invalid timezone %q", cfg.Timezone)
	}
	days := make(map[time.Weekday]bool, len(cfg.Days))
	for _, d := range cfg.Days {
		days[time.Weekday(d)] = true
	}

	var windows []Interval
	for day := localDayStart(start, loc).AddDate(0, 0, -1); day.Before(end); day = day.AddDate(0, 0, 1) {
		if !days[day.Weekday()] {
			continue
		}
		ws, err := atClock(day, cfg.Start)
		if err != nil {
			return nil, err
		}
		we, err := atClock(day, cfg.End)
		if err != nil {
			return nil, err
		}
		if we.After(ws) {
			windows = append(windows, Interval{Start: ws.UTC(), End: we.UTC()})
		}
	}

	// Busy is the complement of the unioned windows inside the range.
	busy := Gaps(Merge(windows), start, end)
	for i := range busy {
		busy[i].Kind = KindWorkingHours
	}
	return busy, nil
}

// cutoffBusy blocks each configured day from the cutoff until local midnight.
// Overlapping cutoffs merge, so the earliest one wins per day.
func cutoffBusy(c *types.Constraint, start, end time.Time) ([]Interval, error) {
	var cfg types.NoMeetingsAfterConfig
	if err := json.Unmarshal([]byte(c.Config), &cfg); err != nil {
		return nil, types.Validationf("malformed no_meetings_after config: %v", err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, types.Validationf("invalid timezone %q", cfg.Timezone)
	}
	days := make(map[time.Weekday]bool, len(cfg.Days))
	for _, d := range cfg.Days {
		days[time.Weekday(d)] = true
	}

	var busy []Interval
	for day := localDayStart(start, loc).AddDate(0, 0, -1); day.Before(end); day = day.AddDate(0, 0, 1) {
		if len(days) > 0 && !days[day.Weekday()] {
			continue
		}
		after, err := atClock(day, cfg.After)
		if err != nil {
			return nil, err
		}
		busy = append(busy, Interval{
			Start: after.UTC(),
			End:   day.AddDate(0, 0, 1).UTC(),
			Kind:  KindCutoff,
		})
	}
	return busy, nil
}

// bufferBusy pads matching events with prep and cooldown blocks.
func bufferBusy(c *types.Constraint, events []*types.CanonicalEvent) ([]Interval, error) {
	var cfg types.BufferConfig
	if err := json.Unmarshal([]byte(c.Config), &cfg); err != nil {
		return nil, types.Validationf("malformed buffer config: %v", err)
	}
	needle := strings.ToLower(cfg.TitleContains)

	var busy []Interval
	for _, e := range events {
		if needle != "" && !strings.Contains(strings.ToLower(e.Title), needle) {
			continue
		}
		iv, ok := eventInterval(e)
		if !ok {
			continue
		}
		if cfg.BeforeMinutes > 0 {
			busy = append(busy, Interval{
				Start:    iv.Start.Add(-time.Duration(cfg.BeforeMinutes) * time.Minute),
				End:      iv.Start,
				Accounts: iv.Accounts,
				Kind:     KindBuffer,
			})
		}
		if cfg.AfterMinutes > 0 {
			busy = append(busy, Interval{
				Start:    iv.End,
				End:      iv.End.Add(time.Duration(cfg.AfterMinutes) * time.Minute),
				Accounts: iv.Accounts,
				Kind:     KindBuffer,
			})
		}
	}
	return busy, nil
}

// milestoneBusy produces all-day blocks for milestones inside the range.
// Recurring milestones repeat on their month/day every year the range
// touches.
func milestoneBusy(milestones []*types.Milestone, start, end time.Time) []Interval {
	var busy []Interval
	for _, m := range milestones {
		date, err := time.Parse(time.DateOnly, m.Date)
		if err != nil {
			continue
		}
		if m.Recurring {
			for year := start.Year(); year <= end.Year(); year++ {
				day := time.Date(year, date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
				busy = appendDayBlock(busy, day, start, end)
			}
		} else {
			busy = appendDayBlock(busy, date, start, end)
		}
	}
	return busy
}

func appendDayBlock(busy []Interval, day, start, end time.Time) []Interval {
	block := Interval{Start: day, End: day.AddDate(0, 0, 1), Kind: KindMilestone}
	if !block.End.After(start) || !block.Start.Before(end) {
		return busy
	}
	return append(busy, block)
}

// rangeInterval parses an ISO start/end pair into an interval.
func rangeInterval(start, end, kind string) (Interval, bool) {
	s, err := types.ParseTS(start)
	if err != nil {
		return Interval{}, false
	}
	e, err := types.ParseTS(end)
	if err != nil || !e.After(s) {
		return Interval{}, false
	}
	return Interval{Start: s, End: e, Kind: kind}, true
}

// localDayStart returns local midnight of t's day in loc.
func localDayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// atClock resolves an "HH:MM" wall-clock time on day's date in day's
// location.
func atClock(day time.Time, clock string) (time.Time, error) {
	c, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, types.Validationf("invalid clock time %q", clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location()), nil
}
