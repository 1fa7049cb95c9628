package types

import (
	"encoding/json"
	"time"
)

// ConstraintKind discriminates constraint config schemas.
type ConstraintKind string

const (
	ConstraintTrip            ConstraintKind = "trip"
	ConstraintWorkingHours    ConstraintKind = "working_hours"
	ConstraintBuffer          ConstraintKind = "buffer"
	ConstraintNoMeetingsAfter ConstraintKind = "no_meetings_after"
	ConstraintOverride        ConstraintKind = "override"
)

// Constraint is a user-owned availability rule. Config is the kind-specific
// JSON document; it is re-validated on read because older rows may predate
// schema tightening.
type Constraint struct {
	ID         string         `json:"constraint_id"`
	Kind       ConstraintKind `json:"kind"`
	Config     string         `json:"config_json"`
	ActiveFrom string         `json:"active_from,omitempty"`
	ActiveTo   string         `json:"active_to,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TripConfig produces one derived system-source canonical event covering the
// trip window.
type TripConfig struct {
	Destination string `json:"destination"`
	City        string `json:"city,omitempty"`
	Start       string `json:"start"` // date-only or RFC 3339
	End         string `json:"end"`
	Timezone    string `json:"timezone,omitempty"`
}

// WorkingHoursConfig marks hours outside [Start, End) on the listed weekdays
// as busy. Days use time.Weekday numbering (0 = Sunday).
type WorkingHoursConfig struct {
	Days     []int  `json:"days"`
	Start    string `json:"start"` // "09:00"
	End      string `json:"end"`   // "17:00"
	Timezone string `json:"timezone"`
}

// BufferConfig pads matching events with prep/cooldown blocks.
type BufferConfig struct {
	BeforeMinutes int    `json:"before_minutes"`
	AfterMinutes  int    `json:"after_minutes"`
	TitleContains string `json:"title_contains,omitempty"` // empty matches all opaque events
}

// NoMeetingsAfterConfig blocks availability after a daily cutoff.
// The earliest cutoff wins when several constraints cover the same day.
type NoMeetingsAfterConfig struct {
	After    string `json:"after"` // "18:00"
	Timezone string `json:"timezone"`
	Days     []int  `json:"days,omitempty"` // empty = every day
}

// OverrideConfig force-marks a window available or busy, bypassing other
// constraints.
type OverrideConfig struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
}

// ValidateConstraintConfig checks the kind-specific schema. Called at insert
// and again on read.
func ValidateConstraintConfig(kind ConstraintKind, config string) error {
	switch kind {
	case ConstraintTrip:
		var c TripConfig
		if err := strictUnmarshal(config, &c); err != nil {
			return err
		}
		if c.Destination == "" {
			return Validationf("trip constraint requires destination")
		}
		if err := ValidateRange(c.Start, c.End); err != nil {
			return err
		}
		return ValidateTimezone(c.Timezone)
	case ConstraintWorkingHours:
		var c WorkingHoursConfig
		if err := strictUnmarshal(config, &c); err != nil {
			return err
		}
		if len(c.Days) == 0 {
			return Validationf("working_hours constraint requires days")
		}
		for _, d := range c.Days {
			if d < 0 || d > 6 {
				return Validationf("working_hours day %d out of range 0-6", d)
			}
		}
		if err := validateClock(c.Start); err != nil {
			return err
		}
		if err := validateClock(c.End); err != nil {
			return err
		}
		if c.Timezone == "" {
			return Validationf("working_hours constraint requires timezone")
		}
		return ValidateTimezone(c.Timezone)
	case ConstraintBuffer:
		var c BufferConfig
		if err := strictUnmarshal(config, &c); err != nil {
			return err
		}
		if c.BeforeMinutes < 0 || c.AfterMinutes < 0 {
			return Validationf("buffer minutes must be non-negative")
		}
		if c.BeforeMinutes == 0 && c.AfterMinutes == 0 {
			return Validationf("buffer constraint requires before_minutes or after_minutes")
		}
		return nil
	case ConstraintNoMeetingsAfter:
		var c NoMeetingsAfterConfig
		if err := strictUnmarshal(config, &c); err != nil {
			return err
		}
		if err := validateClock(c.After); err != nil {
			return err
		}
		if c.Timezone == "" {
			return Validationf("no_meetings_after constraint requires timezone")
		}
		for _, d := range c.Days {
			if d < 0 || d > 6 {
				return Validationf("no_meetings_after day %d out of range 0-6", d)
			}
		}
		return ValidateTimezone(c.Timezone)
	case ConstraintOverride:
		var c OverrideConfig
		if err := strictUnmarshal(config, &c); err != nil {
			return err
		}
		return ValidateRange(c.Start, c.End)
	default:
		return Validationf("unknown constraint kind %q", kind)
	}
}

func strictUnmarshal(config string, v any) error {
	if err := json.Unmarshal([]byte(config), v); err != nil {
		return Validationf("malformed constraint config: %v", err)
	}
	return nil
}

// validateClock checks an "HH:MM" wall-clock string.
func validateClock(s string) error {
	if _, err := time.Parse("15:04", s); err != nil {
		return Validationf("invalid clock time %q (want HH:MM)", s)
	}
	return nil
}
