package generic

import (
	"time"
)

// =============================================================================
// CALENDAR HELPERS - due dates are days, payments are instants
// =============================================================================

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NewDate builds a UTC calendar day.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// OnOrBefore compares two instants by calendar day.
func OnOrBefore(t, limit time.Time) bool { return !Day(t).After(Day(limit)) }

// DayBefore reports whether t falls on an earlier calendar day than other.
func DayBefore(t, other time.Time) bool { return Day(t).Before(Day(other)) }

// DaysBetween returns the whole calendar days from -> to (negative if to is earlier).
func DaysBetween(from, to time.Time) int { return int(Day(to).Sub(Day(from)).Hours() / 24) }

// AddMonths advances a date by n calendar months, clamping to the end of
// shorter months: Jan 31 + 1 month = Feb 28 (or 29).
func AddMonths(t time.Time, n int) time.Time {
	d := Day(t)
	firstOfTarget := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	last := EndOfMonth(firstOfTarget.Year(), firstOfTarget.Month()).Day()
	day := d.Day()
	if day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns the last calendar day of the month.
func EndOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// Clock returns the current instant. Services take one so tests can pin time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }
