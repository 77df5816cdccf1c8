package autonomy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ScheduleKind selects the recurrence rule a schedule follows.
type ScheduleKind string

const (
	ScheduleOnce     ScheduleKind = "once"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleDaily    ScheduleKind = "daily"
	ScheduleWeekly   ScheduleKind = "weekly"
	ScheduleMonthly  ScheduleKind = "monthly"
	ScheduleCron     ScheduleKind = "cron"
)

// Valid checks if the kind is one of the supported recurrence rules.
func (k ScheduleKind) Valid() bool {
	switch k {
	case ScheduleOnce, ScheduleInterval, ScheduleDaily, ScheduleWeekly, ScheduleMonthly, ScheduleCron:
		return true
	default:
		return false
	}
}

// Schedule is a recurring rule that emits tasks on calendar triggers.
// Weekday numbering in Days follows 0=Monday through 6=Sunday for weekly
// schedules; for monthly schedules the first entry of Days is the day of month.
type Schedule struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Kind            ScheduleKind   `json:"kind"`
	Enabled         bool           `json:"enabled"`
	Action          string         `json:"action"`
	Params          map[string]any `json:"params,omitempty"`
	StartTime       *time.Time     `json:"start_time,omitempty"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	IntervalSeconds int            `json:"interval_seconds,omitempty"`
	Days            []int          `json:"days,omitempty"`
	TimeOfDay       string         `json:"time_of_day,omitempty"`
	CronExpr        string         `json:"cron_expression,omitempty"`
	LastRun         *time.Time     `json:"last_run,omitempty"`
	NextRun         *time.Time     `json:"next_run,omitempty"`
	RunCount        int            `json:"run_count"`
	MaxRuns         int            `json:"max_runs,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Exhausted reports whether the run budget is spent. A schedule with no
// MaxRuns never exhausts by count.
func (s *Schedule) Exhausted() bool {
	return s.MaxRuns > 0 && s.RunCount >= s.MaxRuns
}

// Validate checks the kind-specific fields required to compute occurrences.
// It is called at submission so malformed schedules fail synchronously.
func (s *Schedule) Validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
	switch s.Kind {
	case ScheduleOnce:
		if s.StartTime == nil {
			return fmt.Errorf("%w: once schedule requires start_time", ErrInvalidSchedule)
		}
	case ScheduleInterval:
		if s.IntervalSeconds <= 0 {
			return fmt.Errorf("%w: interval schedule requires interval_seconds > 0", ErrInvalidSchedule)
		}
	case ScheduleDaily:
		if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
	case ScheduleWeekly:
		if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
		if len(s.Days) == 0 {
			return fmt.Errorf("%w: weekly schedule requires days", ErrInvalidSchedule)
		}
		for _, d := range s.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: weekday %d out of range 0-6", ErrInvalidSchedule, d)
			}
		}
	case ScheduleMonthly:
		if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
		if len(s.Days) == 0 {
			return fmt.Errorf("%w: monthly schedule requires a day of month", ErrInvalidSchedule)
		}
		if s.Days[0] < 1 || s.Days[0] > 31 {
			return fmt.Errorf("%w: day of month %d out of range 1-31", ErrInvalidSchedule, s.Days[0])
		}
	case ScheduleCron:
		if _, err := cron.ParseStandard(s.CronExpr); err != nil {
			return fmt.Errorf("%w: malformed cron expression %q: %v", ErrInvalidSchedule, s.CronExpr, err)
		}
	}
	return nil
}

// String renders a compact human-readable description for logs.
func (s *Schedule) String() string {
	switch s.Kind {
	case ScheduleOnce:
		if s.StartTime != nil {
			return "once at " + s.StartTime.Format(time.RFC3339)
		}
		return "once"
	case ScheduleInterval:
		return "every " + (time.Duration(s.IntervalSeconds) * time.Second).String()
	case ScheduleDaily:
		return "daily at " + s.TimeOfDay
	case ScheduleWeekly:
		days := make([]string, len(s.Days))
		for i, d := range s.Days {
			days[i] = strconv.Itoa(d)
		}
		return "weekly on [" + strings.Join(days, ",") + "] at " + s.TimeOfDay
	case ScheduleMonthly:
		if len(s.Days) > 0 {
			return fmt.Sprintf("monthly on day %d at %s", s.Days[0], s.TimeOfDay)
		}
		return "monthly at " + s.TimeOfDay
	case ScheduleCron:
		return "cron " + s.CronExpr
	default:
		return string(s.Kind)
	}
}

// Clone returns a copy with its own maps and slices.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	c := *s
	if s.Params != nil {
		c.Params = make(map[string]any, len(s.Params))
		for k, v := range s.Params {
			c.Params[k] = v
		}
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	if s.Days != nil {
		c.Days = append([]int(nil), s.Days...)
	}
	if s.Tags != nil {
		c.Tags = append([]string(nil), s.Tags...)
	}
	if s.StartTime != nil {
		at := *s.StartTime
		c.StartTime = &at
	}
	if s.EndTime != nil {
		at := *s.EndTime
		c.EndTime = &at
	}
	if s.LastRun != nil {
		at := *s.LastRun
		c.LastRun = &at
	}
	if s.NextRun != nil {
		at := *s.NextRun
		c.NextRun = &at
	}
	return &c
}

// parseTimeOfDay parses the "HH:MM" wall-clock field.
func parseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time_of_day %q must be HH:MM", ErrInvalidSchedule, s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: time_of_day %q has invalid hour", ErrInvalidSchedule, s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time_of_day %q has invalid minute", ErrInvalidSchedule, s)
	}
	return hour, minute, nil
}
