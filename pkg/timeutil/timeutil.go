// Package timeutil provides calendar-day helpers that are explicit about
// the time zone they operate in.
//
// Every "day" in the planner (streaks, quest resets, scheduled days) is a
// calendar date in one configured location. Day differences are computed on
// the civil date, never by dividing a duration by 24 hours, so DST
// transitions and late-evening events cannot shift a streak.
package timeutil

import (
	"fmt"
	"time"
)

// Common date/time formats.
const (
	// FormatDate is the day key format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the clock format (HH:MM).
	FormatTime = "15:04"
	// FormatLocalDateTime is an ISO-8601 timestamp without offset.
	FormatLocalDateTime = "2006-01-02T15:04:05"
)

// DefaultZone is used when no zone is configured.
const DefaultZone = "UTC"

// LoadLocation resolves an IANA zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// StartOfDay returns midnight of t's calendar date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(orUTC(loc))
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, l.Location())
}

// At returns the given wall clock time on day's calendar date in loc.
func At(day time.Time, hour, minute int, loc *time.Location) time.Time {
	l := day.In(orUTC(loc))
	return time.Date(l.Year(), l.Month(), l.Day(), hour, minute, 0, 0, l.Location())
}

// AddDays moves t by n calendar days, keeping the wall clock.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// DayKey returns the YYYY-MM-DD calendar date of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(orUTC(loc)).Format(FormatDate)
}

// ParseDayKey parses a YYYY-MM-DD key as midnight in loc.
func ParseDayKey(key string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(FormatDate, key, orUTC(loc))
}

// CalendarDaysBetween returns the signed number of calendar days from
// `from` to `to`, both interpreted in loc.
func CalendarDaysBetween(from, to time.Time, loc *time.Location) int {
	loc = orUTC(loc)
	f := from.In(loc)
	t := to.In(loc)
	fu := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	tu := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(tu.Sub(fu) / (24 * time.Hour))
}

// MinutesOfDay returns the wall clock minutes since midnight in loc.
func MinutesOfDay(t time.Time, loc *time.Location) int {
	l := t.In(orUTC(loc))
	return l.Hour()*60 + l.Minute()
}

// ParseFlexible parses an ISO-8601 timestamp. Values carrying an offset are
// parsed as RFC 3339; values without one are read as wall clock time in loc.
func ParseFlexible(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	layouts := []string{FormatLocalDateTime, "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, orUTC(loc)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
