package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidWorkWindow = errors.New("invalid_work_window")
	ErrInvalidWeekday    = errors.New("invalid_weekday")
)

// WorkWindow is the daily span during which elapsed time counts as business time.
type WorkWindow struct {
	Start         time.Duration // offset from midnight
	End           time.Duration // offset from midnight
	NonWorkingDay time.Weekday
	Location      *time.Location
}

// DefaultWorkWindow is 09:00-17:30 with Sunday off.
func DefaultWorkWindow() WorkWindow {
	return WorkWindow{
		Start:         9 * time.Hour,
		End:           17*time.Hour + 30*time.Minute,
		NonWorkingDay: time.Sunday,
		Location:      time.UTC,
	}
}

// ParseWorkWindow builds a window from "HH:MM" bounds and a weekday name.
func ParseWorkWindow(start, end, nonWorkingDay string, loc *time.Location) (WorkWindow, error) {
	startOffset, err := parseClock(start)
	if err != nil {
		return WorkWindow{}, err
	}
	endOffset, err := parseClock(end)
	if err != nil {
		return WorkWindow{}, err
	}
	if endOffset <= startOffset {
		return WorkWindow{}, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidWorkWindow, end, start)
	}
	weekday, err := ParseWeekday(nonWorkingDay)
	if err != nil {
		return WorkWindow{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return WorkWindow{
		Start:         startOffset,
		End:           endOffset,
		NonWorkingDay: weekday,
		Location:      loc,
	}, nil
}

func ParseWeekday(value string) (time.Weekday, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if normalized == name || normalized == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("%w: %q", ErrInvalidWeekday, value)
}

func parseClock(value string) (time.Duration, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWorkWindow, value)
	}
	return time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute, nil
}

// DailyQuota is the number of business minutes in one full working day.
func (w WorkWindow) DailyQuota() int64 {
	if w.End <= w.Start {
		return 0
	}
	return int64((w.End - w.Start) / time.Minute)
}

// BusinessMinutes counts minutes between start and end that fall inside the
// work window on working days. Instants outside the window are clamped.
// The cost is constant regardless of how many days the span covers.
func (w WorkWindow) BusinessMinutes(start, end time.Time) int64 {
	if !start.Before(end) || w.End <= w.Start {
		return 0
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	s := start.In(loc)
	e := end.In(loc)

	startDay := dayNumber(s)
	endDay := dayNumber(e)
	windowStart := int64(w.Start / time.Second)
	windowEnd := int64(w.End / time.Second)

	span := func(day int64, from, to int64) int64 {
		if weekdayOfDayNumber(day) == w.NonWorkingDay {
			return 0
		}
		lo := clampInt64(from, windowStart, windowEnd)
		hi := clampInt64(to, windowStart, windowEnd)
		if hi <= lo {
			return 0
		}
		return hi - lo
	}

	if startDay == endDay {
		return span(startDay, secondOfDay(s), secondOfDay(e)) / 60
	}

	seconds := span(startDay, secondOfDay(s), secondsPerDay)
	seconds += span(endDay, 0, secondOfDay(e))

	fullDays := endDay - startDay - 1
	workingDays := fullDays - countWeekday(startDay+1, fullDays, w.NonWorkingDay)
	seconds += workingDays * (windowEnd - windowStart)

	return seconds / 60
}

func secondOfDay(t time.Time) int64 {
	return int64(t.Hour())*3600 + int64(t.Minute())*60 + int64(t.Second())
}
