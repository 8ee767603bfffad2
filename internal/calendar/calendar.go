// Package calendar implements the day and business-hour arithmetic used for
// overdue tracking and service-level timing.
package calendar

import "time"

const secondsPerDay = 24 * 60 * 60

// StartOfDay returns midnight of t's calendar date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DaysBetween normalizes both instants to midnight in loc and returns
// ceil((reference - target) / 1 day). Positive means target is in the past.
func DaysBetween(reference, target time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	return int(dayNumber(reference.In(loc)) - dayNumber(target.In(loc)))
}

// AddDays moves t by whole calendar days, keeping the date semantics at midnight.
func AddDays(t time.Time, days int, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, days)
}

// dayNumber counts civil days since 1970-01-01 for the wall-clock date of t.
// Computing on the civil date keeps DST transitions from producing 23 or 25 hour days.
func dayNumber(t time.Time) int64 {
	civil := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return floorDiv(civil.Unix(), secondsPerDay)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func weekdayOfDayNumber(day int64) time.Weekday {
	// 1970-01-01 was a Thursday.
	return time.Weekday(((day % 7) + 7 + int64(time.Thursday)) % 7)
}

// countWeekday returns how many of the n consecutive days starting at first fall on wd.
func countWeekday(first int64, n int64, wd time.Weekday) int64 {
	if n <= 0 {
		return 0
	}
	offset := (int64(wd) - int64(weekdayOfDayNumber(first)) + 7) % 7
	if offset >= n {
		return 0
	}
	return 1 + (n-1-offset)/7
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DateOnly truncates t to midnight UTC of its own calendar date. Date-only
// ledger fields are stored this way.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AsDate reinterprets a stored date-only value as midnight of the same date in loc.
func AsDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc)
}
