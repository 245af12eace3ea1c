package jobs

import (
	"fmt"
	"time"
)

// Schedule determines when a job runs next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

// Every runs a job at a fixed interval. Non-positive intervals fall back to
// one minute.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Minute
	}
	return intervalSchedule{every: d}
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

type dailySchedule struct {
	hour   int
	minute int
}

// DailyAt runs a job once a day at hour:minute in the location of the
// reference time.
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: clamp(hour, 0, 23), minute: clamp(minute, 0, 59)}
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

type hourlySchedule struct {
	minute int
}

// HourlyAt runs a job every hour at the given minute.
func HourlyAt(minute int) Schedule {
	return hourlySchedule{minute: clamp(minute, 0, 59)}
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
