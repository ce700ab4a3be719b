// Package sla computes SLA deadlines against a business-hours calendar.
package sla

import (
	"fmt"
	"time"

	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

const minutesPerDay = 24 * 60

// Calendar defines the working windows SLA time accrues in. Open and close are
// minutes from local midnight in 24-hour arithmetic; close may be 1440 to run
// until the end of the day.
type Calendar struct {
	loc         *time.Location
	workingDays map[time.Weekday]bool
	openMinute  int
	closeMinute int
	holidays    map[string]bool
}

// CalendarConfig is the serializable form of a Calendar.
type CalendarConfig struct {
	Location    *time.Location
	WorkingDays []time.Weekday
	OpenMinute  int
	CloseMinute int
	Holidays    []string // YYYY-MM-DD in Location
}

// NewCalendar validates cfg and builds a Calendar.
func NewCalendar(cfg CalendarConfig) (*Calendar, error) {
	if cfg.OpenMinute < 0 || cfg.CloseMinute > minutesPerDay || cfg.OpenMinute >= cfg.CloseMinute {
		return nil, apperrors.NewValidationError("business hours must satisfy 0 <= open < close <= 24:00", map[string]any{
			"open_minute":  cfg.OpenMinute,
			"close_minute": cfg.CloseMinute,
		})
	}
	if len(cfg.WorkingDays) == 0 {
		return nil, apperrors.NewValidationError("calendar needs at least one working day", nil)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	days := make(map[time.Weekday]bool, len(cfg.WorkingDays))
	for _, d := range cfg.WorkingDays {
		days[d] = true
	}
	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		if _, err := time.ParseInLocation(time.DateOnly, h, loc); err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("invalid holiday %q", h), nil)
		}
		holidays[h] = true
	}
	return &Calendar{
		loc:         loc,
		workingDays: days,
		openMinute:  cfg.OpenMinute,
		closeMinute: cfg.CloseMinute,
		holidays:    holidays,
	}, nil
}

// DefaultCalendar is Monday to Friday, 10:00-19:00, in loc.
func DefaultCalendar(loc *time.Location) *Calendar {
	cal, err := NewCalendar(CalendarConfig{
		Location:    loc,
		WorkingDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		OpenMinute:  10 * 60,
		CloseMinute: 19 * 60,
	})
	if err != nil {
		panic(err)
	}
	return cal
}

// Location returns the calendar time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Elapsed returns the business time between start and end. Instants on
// weekends, holidays and outside the daily window contribute nothing.
func (c *Calendar) Elapsed(start, end time.Time) time.Duration {
	if !end.After(start) {
		return 0
	}
	start = start.In(c.loc)
	end = end.In(c.loc)

	var total time.Duration
	for day := startOfDay(start); day.Before(end); day = nextDay(day) {
		open, closing, ok := c.window(day)
		if !ok {
			continue
		}
		from := later(open, start)
		to := earlier(closing, end)
		if to.After(from) {
			total += to.Sub(from)
		}
	}
	return total
}

// Add returns the instant at which d of business time has accrued after
// start. Add(t, d) >= t for d >= 0 and Elapsed(t, Add(t, d)) == d.
func (c *Calendar) Add(start time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return start
	}
	cur := start.In(c.loc)
	remaining := d
	for day := startOfDay(cur); ; day = nextDay(day) {
		open, closing, ok := c.window(day)
		if !ok {
			continue
		}
		from := later(open, cur)
		if !closing.After(from) {
			continue
		}
		available := closing.Sub(from)
		if remaining <= available {
			return from.Add(remaining)
		}
		remaining -= available
	}
}

// IsBusinessTime reports whether t falls inside a working window.
func (c *Calendar) IsBusinessTime(t time.Time) bool {
	t = t.In(c.loc)
	open, closing, ok := c.window(startOfDay(t))
	return ok && !t.Before(open) && t.Before(closing)
}

func (c *Calendar) window(day time.Time) (time.Time, time.Time, bool) {
	if !c.workingDays[day.Weekday()] || c.holidays[day.Format(time.DateOnly)] {
		return time.Time{}, time.Time{}, false
	}
	open := atMinute(day, c.openMinute)
	closing := atMinute(day, c.closeMinute)
	return open, closing, true
}

func atMinute(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func nextDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
