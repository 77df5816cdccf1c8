package autonomy

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextOccurrence computes the next firing time strictly after the current
// state of the schedule. It returns ErrScheduleExhausted when the schedule has
// no further occurrence (one-shot already fired, run budget spent, or the
// computed time falls past the end_time cutoff), and an ErrInvalidSchedule
// wrapped error when the kind-specific fields cannot be interpreted.
//
// Wall-clock kinds (daily, weekly, monthly) resolve in now's location. The
// contract is "first wall-clock match after now": occurrences around DST
// transitions follow the clock, not the elapsed duration.
func (s *Schedule) NextOccurrence(now time.Time) (time.Time, error) {
	if s.Exhausted() {
		return time.Time{}, ErrScheduleExhausted
	}

	var next time.Time
	switch s.Kind {
	case ScheduleOnce:
		if s.RunCount > 0 {
			return time.Time{}, ErrScheduleExhausted
		}
		if s.StartTime == nil {
			return time.Time{}, fmt.Errorf("%w: once schedule requires start_time", ErrInvalidSchedule)
		}
		next = *s.StartTime

	case ScheduleInterval:
		if s.IntervalSeconds <= 0 {
			return time.Time{}, fmt.Errorf("%w: interval schedule requires interval_seconds > 0", ErrInvalidSchedule)
		}
		switch {
		case s.LastRun != nil:
			next = s.LastRun.Add(time.Duration(s.IntervalSeconds) * time.Second)
		case s.StartTime != nil:
			next = *s.StartTime
		default:
			next = now
		}

	case ScheduleDaily:
		hour, minute, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		next = time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

	case ScheduleWeekly:
		hour, minute, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		if len(s.Days) == 0 {
			return time.Time{}, fmt.Errorf("%w: weekly schedule requires days", ErrInvalidSchedule)
		}
		next = nextWeeklyOccurrence(now, s.Days, hour, minute)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("%w: weekday list %v has no entries in range 0-6", ErrInvalidSchedule, s.Days)
		}

	case ScheduleMonthly:
		hour, minute, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		if len(s.Days) == 0 {
			return time.Time{}, fmt.Errorf("%w: monthly schedule requires a day of month", ErrInvalidSchedule)
		}
		next = nextMonthlyOccurrence(now, s.Days[0], hour, minute)

	case ScheduleCron:
		sched, err := cron.ParseStandard(s.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: malformed cron expression %q: %v", ErrInvalidSchedule, s.CronExpr, err)
		}
		next = sched.Next(now)
		if next.IsZero() {
			return time.Time{}, ErrScheduleExhausted
		}

	default:
		return time.Time{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}

	if s.EndTime != nil && next.After(*s.EndTime) {
		return time.Time{}, ErrScheduleExhausted
	}

	return next, nil
}

// nextWeeklyOccurrence finds the earliest weekday/time pair strictly after now.
// Weekdays use 0=Monday through 6=Sunday. If today's weekday is listed and the
// time of day is still ahead, today wins; the search wraps into next week only
// when every listed slot in the current week has passed.
func nextWeeklyOccurrence(now time.Time, days []int, hour, minute int) time.Time {
	listed := make(map[int]bool, len(days))
	for _, d := range days {
		if d >= 0 && d <= 6 {
			listed[d] = true
		}
	}
	if len(listed) == 0 {
		return time.Time{}
	}

	// Go counts weekdays from Sunday; shift so Monday is 0.
	today := (int(now.Weekday()) + 6) % 7

	for delta := 0; delta <= 7; delta++ {
		if !listed[(today+delta)%7] {
			continue
		}
		day := now.AddDate(0, 0, delta)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		if candidate.After(now) {
			return candidate
		}
	}

	// Unreachable: delta 7 revisits today's weekday one week out.
	return time.Time{}
}

// nextMonthlyOccurrence builds the day-of-month occurrence in the current
// month; when that slot has passed or does not exist (e.g. Feb 30) it rolls to
// the next month, clamping the day to that month's length.
func nextMonthlyOccurrence(now time.Time, dayOfMonth, hour, minute int) time.Time {
	if dayOfMonth <= daysInMonth(now.Year(), now.Month()) {
		candidate := time.Date(now.Year(), now.Month(), dayOfMonth, hour, minute, 0, 0, now.Location())
		if candidate.After(now) {
			return candidate
		}
	}

	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	day := dayOfMonth
	if max := daysInMonth(firstOfNext.Year(), firstOfNext.Month()); day > max {
		day = max
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, hour, minute, 0, 0, now.Location())
}

// daysInMonth returns the number of days in the given month. Day zero of the
// following month normalizes to its last day.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
