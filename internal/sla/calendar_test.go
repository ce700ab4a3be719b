package sla

import (
	"testing"
	"time"

	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

var msk = time.FixedZone("MSK", 3*60*60)

func at(day, hour, minute int) time.Time {
	// March 2024: the 4th is a Monday.
	return time.Date(2024, time.March, day, hour, minute, 0, 0, msk)
}

func TestElapsed(t *testing.T) {
	cal := DefaultCalendar(msk)
	cases := []struct {
		name       string
		start, end time.Time
		want       time.Duration
	}{
		{"inside one window", at(4, 11, 0), at(4, 13, 30), 150 * time.Minute},
		{"before open counts from open", at(4, 8, 0), at(4, 11, 0), time.Hour},
		{"after close contributes nothing", at(4, 19, 30), at(4, 23, 0), 0},
		{"overnight", at(4, 18, 0), at(5, 11, 0), 2 * time.Hour},
		{"over weekend", at(8, 18, 0), at(11, 11, 0), 2 * time.Hour},
		{"whole weekend", at(9, 0, 0), at(11, 0, 0), 0},
		{"end before start", at(5, 12, 0), at(4, 12, 0), 0},
		{"full week", at(4, 0, 0), at(11, 0, 0), 45 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cal.Elapsed(tc.start, tc.end); got != tc.want {
				t.Fatalf("Elapsed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAdd(t *testing.T) {
	cal := DefaultCalendar(msk)
	cases := []struct {
		name  string
		start time.Time
		d     time.Duration
		want  time.Time
	}{
		{"same day", at(4, 11, 0), 2 * time.Hour, at(4, 13, 0)},
		{"exactly to close", at(4, 10, 0), 9 * time.Hour, at(4, 19, 0)},
		{"rolls to next day", at(4, 18, 0), 2 * time.Hour, at(5, 11, 0)},
		{"rolls over weekend", at(8, 18, 0), 2 * time.Hour, at(11, 11, 0)},
		{"starts on weekend", at(9, 12, 0), time.Hour, at(11, 11, 0)},
		{"starts before open", at(4, 7, 0), 30 * time.Minute, at(4, 10, 30)},
		{"zero keeps start", at(9, 12, 0), 0, at(9, 12, 0)},
		{"negative keeps start", at(4, 12, 0), -time.Hour, at(4, 12, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cal.Add(tc.start, tc.d); !got.Equal(tc.want) {
				t.Fatalf("Add() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAddElapsedRoundTrip(t *testing.T) {
	cal, err := NewCalendar(CalendarConfig{
		Location:    msk,
		WorkingDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		OpenMinute:  10 * 60,
		CloseMinute: 19 * 60,
		Holidays:    []string{"2024-03-08"},
	})
	if err != nil {
		t.Fatalf("NewCalendar() error = %v", err)
	}

	starts := []time.Time{
		at(4, 9, 59),
		at(4, 10, 0),
		at(6, 18, 59).Add(123 * time.Nanosecond),
		at(7, 19, 0),
		at(8, 12, 0),
		at(9, 3, 0),
	}
	durations := []time.Duration{
		time.Nanosecond,
		time.Minute,
		4 * time.Hour,
		9 * time.Hour,
		36*time.Hour + 17*time.Second,
		100 * time.Hour,
	}
	for _, start := range starts {
		for _, d := range durations {
			end := cal.Add(start, d)
			if end.Before(start) {
				t.Fatalf("Add(%v, %v) = %v is before start", start, d, end)
			}
			if got := cal.Elapsed(start, end); got != d {
				t.Fatalf("Elapsed(%v, Add(..., %v)) = %v", start, d, got)
			}
		}
	}
}

func TestHolidayIsSkipped(t *testing.T) {
	cal, err := NewCalendar(CalendarConfig{
		Location:    msk,
		WorkingDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		OpenMinute:  10 * 60,
		CloseMinute: 19 * 60,
		Holidays:    []string{"2024-03-08"},
	})
	if err != nil {
		t.Fatalf("NewCalendar() error = %v", err)
	}
	if got := cal.Elapsed(at(8, 0, 0), at(9, 0, 0)); got != 0 {
		t.Fatalf("Elapsed() on holiday = %v", got)
	}
	if got := cal.Add(at(7, 18, 0), 2*time.Hour); !got.Equal(at(11, 11, 0)) {
		t.Fatalf("Add() across holiday = %v", got)
	}
	if cal.IsBusinessTime(at(8, 12, 0)) {
		t.Fatalf("holiday noon reported as business time")
	}
	if !cal.IsBusinessTime(at(7, 12, 0)) {
		t.Fatalf("thursday noon not reported as business time")
	}
}

func TestNewCalendarValidation(t *testing.T) {
	weekdays := []time.Weekday{time.Monday}
	cases := []struct {
		name string
		cfg  CalendarConfig
	}{
		{"open after close", CalendarConfig{WorkingDays: weekdays, OpenMinute: 19 * 60, CloseMinute: 10 * 60}},
		{"open equals close", CalendarConfig{WorkingDays: weekdays, OpenMinute: 600, CloseMinute: 600}},
		{"close past midnight", CalendarConfig{WorkingDays: weekdays, OpenMinute: 0, CloseMinute: 1441}},
		{"no working days", CalendarConfig{OpenMinute: 600, CloseMinute: 1140}},
		{"bad holiday", CalendarConfig{WorkingDays: weekdays, OpenMinute: 600, CloseMinute: 1140, Holidays: []string{"08.03.2024"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCalendar(tc.cfg)
			if !apperrors.IsValidation(err) {
				t.Fatalf("NewCalendar() error = %v, want validation error", err)
			}
		})
	}
}

func TestFullDayWindow(t *testing.T) {
	cal, err := NewCalendar(CalendarConfig{
		Location:    msk,
		WorkingDays: []time.Weekday{time.Monday, time.Tuesday},
		OpenMinute:  0,
		CloseMinute: minutesPerDay,
	})
	if err != nil {
		t.Fatalf("NewCalendar() error = %v", err)
	}
	if got := cal.Elapsed(at(4, 0, 0), at(6, 0, 0)); got != 48*time.Hour {
		t.Fatalf("Elapsed() = %v", got)
	}
	if got := cal.Add(at(5, 23, 0), 2*time.Hour); !got.Equal(at(11, 1, 0)) {
		t.Fatalf("Add() = %v", got)
	}
}
