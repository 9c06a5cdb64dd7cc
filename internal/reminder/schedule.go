// Package reminder sends the wellness check-in reminder: at most one per
// profile per local calendar day, however many scheduler instances run.
package reminder

import (
	"strconv"
	"time"
)

// DayLayout formats the calendar day used in dedupe keys and markers.
const DayLayout = "2006-01-02"

// MarkerKind is the payload kind of the durable reminder marker.
const MarkerKind = "wellness_reminder"

// Schedule is a profile's reminder preference.
type Schedule struct {
	ProfileID    int64
	ChatEnabled  bool
	EmailEnabled bool
	Hour         int
	Minute       int
	// IntervalDays is the number of days without an entry before a reminder; 0 disables.
	IntervalDays int
	// Timezone is an IANA name; empty means the scheduler default.
	Timezone string
}

// Candidate is a schedule joined with the data the scheduler decides on.
type Candidate struct {
	Schedule
	Language string
	// LastEntry is the date of the latest wellness entry, nil when none.
	LastEntry *time.Time
}

// Due reports whether nowLocal is at or after today's reminder time.
func (s Schedule) Due(nowLocal time.Time) bool {
	at := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), s.Hour, s.Minute, 0, 0, nowLocal.Location())
	return !nowLocal.Before(at)
}

// Stale reports whether the profile has gone IntervalDays without an entry
// as of today.
func (c Candidate) Stale(today time.Time) bool {
	if c.IntervalDays <= 0 {
		return false
	}
	if c.LastEntry == nil {
		return true
	}
	threshold := civil(today).AddDate(0, 0, -c.IntervalDays)
	return !civil(*c.LastEntry).After(threshold)
}

// Location resolves the schedule's timezone, falling back to def.
func (s Schedule) Location(def *time.Location) *time.Location {
	if s.Timezone == "" {
		return def
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return def
	}
	return loc
}

// DedupeKey is the per-profile, per-day key shared by Redis and the advisory lock.
func DedupeKey(profileID int64, day string) string {
	return strconv.FormatInt(profileID, 10) + ":" + day
}

// civil drops the clock and zone, keeping the calendar date.
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
