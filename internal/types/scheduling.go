package types

import (
	"time"
)

// SessionStatus is the scheduling-session lifecycle state.
type SessionStatus string

const (
	SessionProposed  SessionStatus = "proposed"
	SessionCommitted SessionStatus = "committed"
	SessionCancelled SessionStatus = "cancelled"
	SessionExpired   SessionStatus = "expired"
)

// HoldStatus is the per-hold lifecycle state. committed, released and
// expired are terminal.
type HoldStatus string

const (
	HoldPending   HoldStatus = "pending"
	HoldConfirmed HoldStatus = "confirmed"
	HoldCommitted HoldStatus = "committed"
	HoldReleased  HoldStatus = "released"
	HoldExpired   HoldStatus = "expired"
)

// Terminal reports whether the hold admits no further transitions.
func (s HoldStatus) Terminal() bool {
	return s == HoldCommitted || s == HoldReleased || s == HoldExpired
}

// Candidate is one proposed time window inside a scheduling session.
type Candidate struct {
	ID               string  `json:"candidate_id"`
	Start            string  `json:"start"`
	End              string  `json:"end"`
	TargetAccountID  string  `json:"target_account_id"`
	TargetCalendarID string  `json:"target_calendar_id"`
	Score            float64 `json:"score,omitempty"`
}

// SchedulingSession proposes candidate times, reserves them as holds, and
// commits the selected one into a canonical event.
type SchedulingSession struct {
	ID                  string        `json:"session_id"`
	Title               string        `json:"title"`
	DurationMinutes     int           `json:"duration_minutes"`
	Status              SessionStatus `json:"status"`
	Candidates          []Candidate   `json:"candidates"`
	SelectedCandidateID *string       `json:"selected_candidate_id,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	ExpiresAt           time.Time     `json:"expires_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Hold is a tentative, time-limited reservation blocking one candidate slot.
// Its lifetime is bounded by the owning session's expiry.
type Hold struct {
	ID               string     `json:"hold_id"`
	SessionID        string     `json:"session_id"`
	CandidateID      string     `json:"candidate_id"`
	TargetAccountID  string     `json:"target_account"`
	TargetCalendarID string     `json:"target_calendar,omitempty"`
	ProviderEventID  *string    `json:"provider_event_id,omitempty"`
	Start            string     `json:"start_ts"`
	End              string     `json:"end_ts"`
	Status           HoldStatus `json:"status"`
	ExpiresAt        time.Time  `json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ProposeRequest configures proposeTimes.
type ProposeRequest struct {
	Title           string   `json:"title"`
	DurationMinutes int      `json:"duration_minutes"`
	Candidates      int      `json:"candidates"` // how many to propose
	WindowStart     string   `json:"window_start"`
	WindowEnd       string   `json:"window_end"`
	TargetAccounts  []string `json:"target_accounts"`
	TargetCalendar  string   `json:"target_calendar,omitempty"`
	HoldTTL         time.Duration
}
