// Package hours decides whether an instant falls inside a tenant's weekly
// business-hours schedule and computes the next open instant.
package hours

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoOpenHours is returned by NextOpen when no open day exists within the
// forward scan bound. Callers treat the schedule as effectively unrestricted.
var ErrNoOpenHours = errors.New("hours: no open hours configured")

// nextOpenScanDays bounds the forward scan so NextOpen terminates even when
// every day is closed.
const nextOpenScanDays = 8

// DayHours is the open window for a single weekday in local wall-clock time.
type DayHours struct {
	Open   string `json:"open"`  // "09:00" in 24-hour format
	Close  string `json:"close"` // "17:00" in 24-hour format
	Closed bool   `json:"closed,omitempty"`
}

// Schedule maps weekdays to their hours. A nil entry means closed that day.
type Schedule struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// ForDay returns the hours entry for a weekday.
func (s *Schedule) ForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return s.Sunday
	case time.Monday:
		return s.Monday
	case time.Tuesday:
		return s.Tuesday
	case time.Wednesday:
		return s.Wednesday
	case time.Thursday:
		return s.Thursday
	case time.Friday:
		return s.Friday
	case time.Saturday:
		return s.Saturday
	default:
		return nil
	}
}

// HasAnyOpenDay reports whether at least one day is open.
func (s *Schedule) HasAnyOpenDay() bool {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if e := s.ForDay(d); e != nil && !e.Closed {
			return true
		}
	}
	return false
}

func parseClock(v string) (int, error) {
	if v == "" {
		return 0, fmt.Errorf("empty clock")
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsOpen reports whether the instant falls inside the schedule's open hours
// in the given timezone. The window is half-open: the open minute is inside,
// the close minute is not. A day marked closed is closed even if open/close
// times are present.
func IsOpen(instant time.Time, schedule *Schedule, timezone string) bool {
	if schedule == nil {
		return false
	}
	local := instant.In(loadLocation(timezone))
	entry := schedule.ForDay(local.Weekday())
	if entry == nil || entry.Closed {
		return false
	}
	openMin, err := parseClock(entry.Open)
	if err != nil {
		return false
	}
	closeMin, err := parseClock(entry.Close)
	if err != nil {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= openMin && minutes < closeMin
}

// NextOpen returns the first instant at or after the given instant that is
// inside open hours. An instant already inside open hours is returned
// unchanged. The scan is bounded to eight days; if no open day is found,
// ErrNoOpenHours is returned.
func NextOpen(instant time.Time, schedule *Schedule, timezone string) (time.Time, error) {
	if schedule == nil {
		return time.Time{}, ErrNoOpenHours
	}
	if IsOpen(instant, schedule, timezone) {
		return instant, nil
	}
	loc := loadLocation(timezone)
	local := instant.In(loc)

	for i := 0; i < nextOpenScanDays; i++ {
		day := local.AddDate(0, 0, i)
		entry := schedule.ForDay(day.Weekday())
		if entry == nil || entry.Closed {
			continue
		}
		openMin, err := parseClock(entry.Open)
		if err != nil {
			continue
		}
		openAt := time.Date(day.Year(), day.Month(), day.Day(), openMin/60, openMin%60, 0, 0, loc)
		if !openAt.Before(local) {
			return openAt, nil
		}
	}
	return time.Time{}, ErrNoOpenHours
}
