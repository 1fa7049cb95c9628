package ingest

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/tminus/tminus/internal/types"
)

// ApplyICS imports VEVENT blocks from an iCalendar stream as created deltas
// on the given account. UID becomes the origin event id, so re-importing the
// same file is idempotent (unchanged events no-op on the payload hash).
func (c *Coordinator) ApplyICS(ctx context.Context, originAccountID string, r io.Reader) (*types.DeltaSummary, error) {
	events, err := parseICS(r)
	if err != nil {
		return nil, err
	}
	deltas := make([]types.Delta, 0, len(events))
	for _, ev := range events {
		deltas = append(deltas, types.Delta{
			Type:          types.ChangeCreated,
			OriginEventID: ev.uid,
			Event:         ev.event,
			Source:        types.SourceICS,
		})
	}
	return c.ApplyProviderDeltas(ctx, originAccountID, deltas)
}

type icsEvent struct {
	uid   string
	event *types.ProviderEvent
}

// parseICS handles the VEVENT subset this engine needs: UID, SUMMARY,
// DESCRIPTION, LOCATION, DTSTART/DTEND (UTC, local with TZID, or date-only)
// and STATUS. Unknown properties and other components are skipped.
func parseICS(r io.Reader) ([]icsEvent, error) {
	var events []icsEvent
	var cur *types.ProviderEvent
	var uid string

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		// Unfold continuation lines (RFC 5545 §3.1).
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if len(lines) > 0 {
				lines[len(lines)-1] += line[1:]
			}
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, types.Validationf("failed to read ics: %v", err)
	}

	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			cur = &types.ProviderEvent{Status: types.StatusConfirmed, Transparency: types.TransparencyOpaque}
			uid = ""
			continue
		case line == "END:VEVENT":
			if cur != nil && uid != "" && cur.Start != "" && cur.End != "" {
				events = append(events, icsEvent{uid: uid, event: cur})
			}
			cur = nil
			continue
		}
		if cur == nil {
			continue
		}

		name, params, value, ok := splitICSLine(line)
		if !ok {
			continue
		}
		switch name {
		case "UID":
			uid = value
		case "SUMMARY":
			cur.Title = unescapeICS(value)
		case "DESCRIPTION":
			cur.Description = unescapeICS(value)
		case "LOCATION":
			cur.Location = unescapeICS(value)
		case "DTSTART":
			ts, allDay, err := parseICSTime(value, params)
			if err != nil {
				continue
			}
			cur.Start = ts
			if allDay {
				cur.AllDay = true
			}
		case "DTEND":
			ts, _, err := parseICSTime(value, params)
			if err != nil {
				continue
			}
			cur.End = ts
		case "STATUS":
			switch value {
			case "TENTATIVE":
				cur.Status = types.StatusTentative
			case "CANCELLED":
				cur.Status = types.StatusCancelled
			}
		case "TRANSP":
			if value == "TRANSPARENT" {
				cur.Transparency = types.TransparencyTransparent
			}
		}
	}
	return events, nil
}

// splitICSLine separates "NAME;PARAM=V:value" into its parts.
func splitICSLine(line string) (name string, params map[string]string, value string, ok bool) {
	head, value, found := strings.Cut(line, ":")
	if !found {
		return "", nil, "", false
	}
	parts := strings.Split(head, ";")
	name = strings.ToUpper(parts[0])
	params = make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		k, v, found := strings.Cut(p, "=")
		if found {
			params[strings.ToUpper(k)] = v
		}
	}
	return name, params, value, true
}

func unescapeICS(s string) string {
	replacer := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return replacer.Replace(s)
}

// parseICSTime converts an iCalendar date or date-time into the engine's ISO
// string form.
func parseICSTime(value string, params map[string]string) (string, bool, error) {
	if params["VALUE"] == "DATE" || len(value) == len("20260216") {
		t, err := time.Parse("20060102", value)
		if err != nil {
			return "", false, types.Validationf("invalid ics date %q", value)
		}
		return t.Format(time.DateOnly), true, nil
	}
	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse("20060102T150405Z", value)
		if err != nil {
			return "", false, types.Validationf("invalid ics datetime %q", value)
		}
		return t.UTC().Format(time.RFC3339), false, nil
	}
	loc := time.UTC
	if tzid := params["TZID"]; tzid != "" {
		l, err := time.LoadLocation(tzid)
		if err != nil {
			return "", false, types.Validationf("invalid ics timezone %q", tzid)
		}
		loc = l
	}
	t, err := time.ParseInLocation("20060102T150405", value, loc)
	if err != nil {
		return "", false, types.Validationf("invalid ics datetime %q", value)
	}
	return t.UTC().Format(time.RFC3339), false, nil
}
