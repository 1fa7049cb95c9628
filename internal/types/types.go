// Package types defines core data structures for the t-minus federation engine.
package types

import (
	"time"
)

// EventStatus is the lifecycle status of a canonical event.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

// Transparency controls whether an event blocks availability.
type Transparency string

const (
	TransparencyOpaque      Transparency = "opaque"
	TransparencyTransparent Transparency = "transparent"
)

// EventSource identifies where a canonical event came from.
type EventSource string

const (
	SourceProvider EventSource = "provider"
	SourceSystem   EventSource = "system"
	SourceICS      EventSource = "ics"
)

// Visibility mirrors the provider-side visibility setting.
type Visibility string

const (
	VisibilityDefault Visibility = "default"
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Classification is the result of classifying an inbound provider event.
type Classification string

const (
	ClassOrigin         Classification = "origin"
	ClassManagedMirror  Classification = "managed_mirror"
	ClassExternalMirror Classification = "external_mirror"
)

// Tag keys stamped into provider extended metadata when we write a mirror.
// These are the authoritative loop-prevention markers.
const (
	TagManagedBy        = "tminus"
	TagManaged          = "managed"
	TagCanonicalEventID = "canonical_event_id"
	TagOriginAccountID  = "origin_account_id"
)

// ChangeType is the kind of change recorded in the journal.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// CanonicalEvent is the system-of-record representation of a user's event,
// independent of any provider.
//
// Start and End are ISO 8601 strings: either date-only ("2026-02-16") for
// all-day events or RFC 3339 instants. Date-only values normalize to midnight
// UTC for comparison (see NormalizeTS).
type CanonicalEvent struct {
	ID              string       `json:"canonical_event_id"`
	OriginAccountID string       `json:"origin_account_id"`
	OriginEventID   string       `json:"origin_event_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Location        string       `json:"location,omitempty"`
	Start           string       `json:"start_ts"`
	End             string       `json:"end_ts"`
	Timezone        string       `json:"timezone,omitempty"`
	AllDay          bool         `json:"all_day,omitempty"`
	Status          EventStatus  `json:"status"`
	Visibility      Visibility   `json:"visibility,omitempty"`
	Transparency    Transparency `json:"transparency"`
	RecurrenceRule  string       `json:"recurrence_rule,omitempty"`
	Source          EventSource  `json:"source"`
	Version         int          `json:"version"`
	ConstraintID    *string      `json:"constraint_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Participant is an attendee attached to a provider event.
type Participant struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Response    string `json:"response,omitempty"`
}

// ProviderEvent is a normalized event as delivered by a provider sync worker.
// Tags carries the provider's extended-properties / open-extension slot.
type ProviderEvent struct {
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Location       string            `json:"location,omitempty"`
	Start          string            `json:"start"`
	End            string            `json:"end"`
	Timezone       string            `json:"timezone,omitempty"`
	AllDay         bool              `json:"all_day,omitempty"`
	Status         EventStatus       `json:"status,omitempty"`
	Visibility     Visibility        `json:"visibility,omitempty"`
	Transparency   Transparency      `json:"transparency,omitempty"`
	RecurrenceRule string            `json:"recurrence_rule,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Participants   []Participant     `json:"participants,omitempty"`
}

// Delta is one inbound provider change. Source defaults to "provider"; the
// ICS importer sets it to "ics".
type Delta struct {
	Type          ChangeType     `json:"type"`
	OriginEventID string         `json:"origin_event_id"`
	Event         *ProviderEvent `json:"event,omitempty"`
	Source        EventSource    `json:"source,omitempty"`
}

// DeltaError records a single failed delta inside a batch.
type DeltaError struct {
	OriginEventID string `json:"origin_event_id"`
	Code          Code   `json:"code"`
	Message       string `json:"message"`
}

// DeltaSummary is the result of applying one delta batch.
type DeltaSummary struct {
	Created         int          `json:"created"`
	Updated         int          `json:"updated"`
	Deleted         int          `json:"deleted"`
	Errors          []DeltaError `json:"errors,omitempty"`
	MirrorsEnqueued int          `json:"mirrors_enqueued"`
}

// MirrorState is the per-mirror state machine position. DELETED and
// TOMBSTONED are terminal; FAILED requires manual reset.
type MirrorState string

const (
	MirrorPendingCreate MirrorState = "PENDING_CREATE"
	MirrorPendingUpdate MirrorState = "PENDING_UPDATE"
	MirrorWriting       MirrorState = "WRITING"
	MirrorLive          MirrorState = "LIVE"
	MirrorDeleting      MirrorState = "DELETING"
	MirrorDeleted       MirrorState = "DELETED"
	MirrorTombstoned    MirrorState = "TOMBSTONED"
	MirrorFailed        MirrorState = "FAILED"
)

// Terminal reports whether the state admits no further writer transitions.
func (s MirrorState) Terminal() bool {
	return s == MirrorDeleted || s == MirrorTombstoned
}

// EventMirror tracks one provider-side mirror of a canonical event.
// (canonical_event_id, target_account_id, target_calendar_id) is unique.
type EventMirror struct {
	ID                string      `json:"mirror_id"`
	CanonicalEventID  string      `json:"canonical_event_id"`
	TargetAccountID   string      `json:"target_account_id"`
	TargetCalendarID  string      `json:"target_calendar_id"`
	ProviderEventID   *string     `json:"provider_event_id,omitempty"`
	LastProjectedHash string      `json:"last_projected_hash,omitempty"`
	LastWriteTS       *time.Time  `json:"last_write_ts,omitempty"`
	State             MirrorState `json:"state"`
	Error             string      `json:"error,omitempty"`
	AttemptCount      int         `json:"attempt_count"`
	NextRetryAt       *time.Time  `json:"next_retry_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// MirrorKey identifies a mirror row independent of its id.
type MirrorKey struct {
	CanonicalEventID string
	TargetAccountID  string
	TargetCalendarID string
}

// Key returns the mirror's identifying triple.
func (m *EventMirror) Key() MirrorKey {
	return MirrorKey{
		CanonicalEventID: m.CanonicalEventID,
		TargetAccountID:  m.TargetAccountID,
		TargetCalendarID: m.TargetCalendarID,
	}
}

// MirrorPayload is the provider-facing projection of a canonical event at a
// given detail level, including the managed loop-prevention tags.
type MirrorPayload struct {
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Location     string            `json:"location,omitempty"`
	Start        string            `json:"start"`
	End          string            `json:"end"`
	Timezone     string            `json:"timezone,omitempty"`
	AllDay       bool              `json:"all_day,omitempty"`
	Status       EventStatus       `json:"status,omitempty"`
	Transparency Transparency      `json:"transparency"`
	Tags         map[string]string `json:"tags"`
}

// DetailLevel controls how much of a canonical event a mirror exposes.
type DetailLevel string

const (
	DetailBusy  DetailLevel = "BUSY"
	DetailTitle DetailLevel = "TITLE"
	DetailFull  DetailLevel = "FULL"
)

// PolicyEdge is a directed user-owned rule: events originating in
// SourceAccountID appear as mirrors in TargetAccountID/TargetCalendarID at
// the given detail level. ActiveFrom/ActiveTo bound the window (ISO strings,
// empty means unbounded).
type PolicyEdge struct {
	ID               string      `json:"edge_id"`
	SourceAccountID  string      `json:"source_account_id"`
	TargetAccountID  string      `json:"target_account_id"`
	TargetCalendarID string      `json:"target_calendar_id"`
	DetailLevel      DetailLevel `json:"detail_level"`
	ActiveFrom       string      `json:"active_from,omitempty"`
	ActiveTo         string      `json:"active_to,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// JournalEntry is one append-only record of a canonical-event change.
type JournalEntry struct {
	Seq              int64      `json:"seq"`
	CanonicalEventID string     `json:"canonical_event_id"`
	ChangeType       ChangeType `json:"change_type"`
	Actor            string     `json:"actor"`
	Patch            string     `json:"patch,omitempty"` // JSON document
	TS               time.Time  `json:"ts"`
}

// MirrorHealth summarizes mirror pipeline state for the operator channel.
type MirrorHealth struct {
	CountsByState map[MirrorState]int `json:"counts_by_state"`
	Failed        []*EventMirror      `json:"failed,omitempty"`
	QueueDepth    int                 `json:"queue_depth"`
}
