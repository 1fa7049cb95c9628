// Package analytics is the read-only query facade over one user's store:
// availability, load and focus metrics, relationship insights. Every
// operation is deterministic for a given store snapshot.
package analytics

import (
	"sort"
	"time"

	"github.com/tminus/tminus/internal/types"
)

// Interval is one half-open busy window [Start, End). Accounts lists the
// contributing origin accounts; Kind names the source that produced it.
type Interval struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Accounts []string  `json:"accounts,omitempty"`
	Kind     string    `json:"kind,omitempty"`
}

// Interval kinds.
const (
	KindEvent        = "event"
	KindWorkingHours = "working_hours"
	KindCutoff       = "no_meetings_after"
	KindBuffer       = "buffer"
	KindMilestone    = "milestone"
	KindOverride     = "override"
)

// Merge unions overlapping or adjacent intervals, combining contributing
// accounts. The result is sorted and canonical, so merge(merge(x)) ==
// merge(x). Runs in O(n log n).
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].End.Before(sorted[j].End)
	})

	merged := []Interval{cloneInterval(sorted[0])}
	for _, iv := range sorted[1:] {
		cur := &merged[len(merged)-1]
		// Adjacent counts as overlap.
		if !iv.Start.After(cur.End) {
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			cur.Accounts = unionAccounts(cur.Accounts, iv.Accounts)
			if cur.Kind != iv.Kind {
				cur.Kind = ""
			}
			continue
		}
		merged = append(merged, cloneInterval(iv))
	}
	return merged
}

func cloneInterval(iv Interval) Interval {
	out := iv
	out.Accounts = append([]string(nil), iv.Accounts...)
	return out
}

func unionAccounts(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Gaps returns the free windows between merged busy intervals inside
// [start, end). busy must already be merged.
func Gaps(busy []Interval, start, end time.Time) []Interval {
	var gaps []Interval
	cursor := start
	for _, iv := range busy {
		if !iv.End.After(cursor) {
			continue
		}
		if iv.Start.After(end) {
			break
		}
		if iv.Start.After(cursor) {
			gapEnd := iv.Start
			if gapEnd.After(end) {
				gapEnd = end
			}
			gaps = append(gaps, Interval{Start: cursor, End: gapEnd})
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
	}
	if cursor.Before(end) {
		gaps = append(gaps, Interval{Start: cursor, End: end})
	}
	return gaps
}

// Subtract removes window from a merged interval list, splitting intervals
// that straddle it. The result stays sorted and merged.
func Subtract(merged []Interval, window Interval) []Interval {
	var out []Interval
	for _, iv := range merged {
		if !iv.End.After(window.Start) || !iv.Start.Before(window.End) {
			out = append(out, iv)
			continue
		}
		if iv.Start.Before(window.Start) {
			left := cloneInterval(iv)
			left.End = window.Start
			out = append(out, left)
		}
		if iv.End.After(window.End) {
			right := cloneInterval(iv)
			right.Start = window.End
			out = append(out, right)
		}
	}
	return out
}

// Clip trims intervals to [start, end), dropping anything fully outside.
func Clip(intervals []Interval, start, end time.Time) []Interval {
	var out []Interval
	for _, iv := range intervals {
		if !iv.End.After(start) || !iv.Start.Before(end) {
			continue
		}
		c := cloneInterval(iv)
		if c.Start.Before(start) {
			c.Start = start
		}
		if c.End.After(end) {
			c.End = end
		}
		out = append(out, c)
	}
	return out
}

// eventInterval converts a canonical event into a busy interval. Date-only
// values resolve to midnight UTC, so all-day and timed events compare
// coherently.
func eventInterval(e *types.CanonicalEvent) (Interval, bool) {
	start, err := types.ParseTS(e.Start)
	if err != nil {
		return Interval{}, false
	}
	end, err := types.ParseTS(e.End)
	if err != nil {
		return Interval{}, false
	}
	return Interval{
		Start:    start,
		End:      end,
		Accounts: []string{e.OriginAccountID},
		Kind:     KindEvent,
	}, true
}
