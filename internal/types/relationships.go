package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// HashParticipant derives the stable participant key: SHA-256(email+salt),
// lower-cased email. Relationship, ledger and milestone rows key on it so a
// raw address never has to appear in analytics tables.
func HashParticipant(email, salt string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email)) + salt))
	return hex.EncodeToString(sum[:])
}

// Relationship is the per-person analytics record.
type Relationship struct {
	ID                string     `json:"relationship_id"`
	ParticipantHash   string     `json:"participant_hash"`
	DisplayName       string     `json:"display_name,omitempty"`
	Email             string     `json:"email,omitempty"`
	City              string     `json:"city,omitempty"`
	Tier              int        `json:"tier,omitempty"` // 1 = closest
	LastInteractionTS *time.Time `json:"last_interaction_ts,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// OutcomeKind classifies a ledger entry.
type OutcomeKind string

const (
	OutcomeMet         OutcomeKind = "met"
	OutcomeCancelled   OutcomeKind = "cancelled"
	OutcomeRescheduled OutcomeKind = "rescheduled"
	OutcomeNoShow      OutcomeKind = "no_show"
)

// LedgerEntry records one interaction outcome. Entries are weak
// back-references: they survive the events they describe.
type LedgerEntry struct {
	ID               string      `json:"ledger_id"`
	ParticipantHash  string      `json:"participant_hash"`
	Kind             OutcomeKind `json:"kind"`
	CanonicalEventID string      `json:"canonical_event_id,omitempty"`
	Note             string      `json:"note,omitempty"`
	TS               time.Time   `json:"ts"`
}

// Milestone is a per-person annual or one-off date (birthday, anniversary).
// Recurring milestones expand per year in availability computation.
type Milestone struct {
	ID              string    `json:"milestone_id"`
	ParticipantHash string    `json:"participant_hash"`
	Title           string    `json:"title"`
	Date            string    `json:"date"` // YYYY-MM-DD
	Recurring       bool      `json:"recurring"`
	CreatedAt       time.Time `json:"created_at"`
}

// EventParticipant links a canonical event to a participant for briefings.
type EventParticipant struct {
	CanonicalEventID string `json:"canonical_event_id"`
	ParticipantHash  string `json:"participant_hash"`
	Email            string `json:"email"`
	DisplayName      string `json:"display_name,omitempty"`
	Response         string `json:"response,omitempty"`
}

// Reputation aggregates a participant's ledger into a score.
type Reputation struct {
	ParticipantHash string  `json:"participant_hash"`
	Met             int     `json:"met"`
	Cancelled       int     `json:"cancelled"`
	Rescheduled     int     `json:"rescheduled"`
	NoShow          int     `json:"no_show"`
	Score           float64 `json:"score"` // 0..1, 1 = fully reliable
}

// DriftEntry reports a relationship whose contact cadence has decayed.
type DriftEntry struct {
	Relationship     *Relationship `json:"relationship"`
	DaysSinceContact int           `json:"days_since_contact"`
	TierTargetDays   int           `json:"tier_target_days"`
}
