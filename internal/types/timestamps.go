package types

import (
	"time"
)

const dateOnlyLen = len("2006-01-02")

// NormalizeTS expands a date-only value ("2026-02-16") to midnight UTC
// ("2026-02-16T00:00:00Z") so date-only and datetime values sort coherently
// under lexicographic comparison. RFC 3339 values pass through unchanged.
func NormalizeTS(ts string) string {
	if len(ts) == dateOnlyLen {
		return ts + "T00:00:00Z"
	}
	return ts
}

// ParseTS parses an ISO 8601 event timestamp: RFC 3339 or date-only.
// Date-only values resolve to midnight UTC.
func ParseTS(ts string) (time.Time, error) {
	if len(ts) == dateOnlyLen {
		t, err := time.Parse(time.DateOnly, ts)
		if err != nil {
			return time.Time{}, Validationf("invalid date %q: %v", ts, err)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, Validationf("invalid timestamp %q: %v", ts, err)
	}
	return t, nil
}

// ValidateRange checks that both endpoints parse and start ≤ end.
func ValidateRange(start, end string) error {
	s, err := ParseTS(start)
	if err != nil {
		return err
	}
	e, err := ParseTS(end)
	if err != nil {
		return err
	}
	if e.Before(s) {
		return Validationf("start_ts %q after end_ts %q", start, end)
	}
	return nil
}

// ValidateTimezone checks that tz names a loadable IANA zone. Empty is
// allowed (events carry UTC instants).
func ValidateTimezone(tz string) error {
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return Validationf("invalid IANA timezone %q", tz)
	}
	return nil
}
