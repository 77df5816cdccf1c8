package autonomy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autonomy/core/autonomy"
)

// Monday, March 10 2025, noon UTC. Fixed so weekday and month arithmetic
// stays deterministic.
var monday = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestNextOccurrence_Once(t *testing.T) {
	t.Parallel()

	t.Run("future start time", func(t *testing.T) {
		t.Parallel()

		startTime := monday.Add(2 * time.Hour)
		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleOnce, StartTime: &startTime}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, startTime, next)
	})

	t.Run("past start time fires immediately", func(t *testing.T) {
		t.Parallel()

		startTime := monday.Add(-2 * time.Hour)
		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleOnce, StartTime: &startTime}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, startTime, next, "missed one-shot should still fire")
	})

	t.Run("already fired", func(t *testing.T) {
		t.Parallel()

		startTime := monday.Add(time.Hour)
		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleOnce, StartTime: &startTime, RunCount: 1}

		_, err := schedule.NextOccurrence(monday)
		assert.ErrorIs(t, err, autonomy.ErrScheduleExhausted)
	})

	t.Run("missing start time", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleOnce}

		_, err := schedule.NextOccurrence(monday)
		assert.ErrorIs(t, err, autonomy.ErrInvalidSchedule)
	})
}

func TestNextOccurrence_Interval(t *testing.T) {
	t.Parallel()

	t.Run("from last run", func(t *testing.T) {
		t.Parallel()

		lastRun := monday.Add(-30 * time.Second)
		schedule := &autonomy.Schedule{
			Kind:            autonomy.ScheduleInterval,
			IntervalSeconds: 60,
			LastRun:         &lastRun,
		}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, lastRun.Add(60*time.Second), next)
	})

	t.Run("from start time before first run", func(t *testing.T) {
		t.Parallel()

		startTime := monday.Add(10 * time.Minute)
		schedule := &autonomy.Schedule{
			Kind:            autonomy.ScheduleInterval,
			IntervalSeconds: 60,
			StartTime:       &startTime,
		}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, startTime, next)
	})

	t.Run("from now when nothing else is set", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleInterval, IntervalSeconds: 60}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, monday, next)
	})

	t.Run("non-positive interval", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleInterval}

		_, err := schedule.NextOccurrence(monday)
		assert.ErrorIs(t, err, autonomy.ErrInvalidSchedule)
	})
}

func TestNextOccurrence_Daily(t *testing.T) {
	t.Parallel()

	t.Run("later today", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleDaily, TimeOfDay: "15:30"}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC), next)
	})

	t.Run("time already passed rolls to tomorrow", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleDaily, TimeOfDay: "08:00"}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC), next)
	})

	t.Run("exact current time rolls to tomorrow", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleDaily, TimeOfDay: "12:00"}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC), next, "occurrence must be strictly after now")
	})
}

func TestNextOccurrence_Weekly(t *testing.T) {
	t.Parallel()

	t.Run("later today when weekday matches", func(t *testing.T) {
		t.Parallel()

		// Day 0 is Monday.
		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleWeekly, Days: []int{0}, TimeOfDay: "15:00"}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC), next)
	})

	t.Run("wraps to next week when slot passed", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleWeekly, Days: []int{0}, TimeOfDay: "08:00"}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 17, 8, 0, 0, 0, time.UTC), next)
	})

	t.Run("midweek day", func(t *testing.T) {
		t.Parallel()

		// Day 2 is Wednesday.
		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleWeekly, Days: []int{2}, TimeOfDay: "09:00"}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC), next)
	})

	t.Run("earliest of several days wins", func(t *testing.T) {
		t.Parallel()

		// Days 5 and 6 are Saturday and Sunday.
		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleWeekly, Days: []int{6, 5}, TimeOfDay: "10:00"}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC), next)
	})

	t.Run("missing days", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleWeekly, TimeOfDay: "10:00"}

		_, err := schedule.NextOccurrence(monday)
		assert.ErrorIs(t, err, autonomy.ErrInvalidSchedule)
	})
}

func TestNextOccurrence_Monthly(t *testing.T) {
	t.Parallel()

	t.Run("later this month", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleMonthly, Days: []int{15}, TimeOfDay: "09:00"}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC), next)
	})

	t.Run("day passed rolls to next month", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleMonthly, Days: []int{1}, TimeOfDay: "09:00"}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC), next)
	})

	t.Run("day clamps to short month", func(t *testing.T) {
		t.Parallel()

		now := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)
		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleMonthly, Days: []int{31}, TimeOfDay: "09:00"}

		next, err := schedule.NextOccurrence(now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC), next, "February has no day 31")
	})

	t.Run("day absent from current month", func(t *testing.T) {
		t.Parallel()

		now := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)
		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleMonthly, Days: []int{30}, TimeOfDay: "09:00"}

		next, err := schedule.NextOccurrence(now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 30, 9, 0, 0, 0, time.UTC), next)
	})
}

func TestNextOccurrence_Cron(t *testing.T) {
	t.Parallel()

	t.Run("daily midnight", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleCron, CronExpr: "0 0 * * *"}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), next)
	})

	t.Run("quarter hour", func(t *testing.T) {
		t.Parallel()

		now := time.Date(2025, 3, 10, 12, 7, 0, 0, time.UTC)
		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleCron, CronExpr: "*/15 * * * *"}

		next, err := schedule.NextOccurrence(now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 10, 12, 15, 0, 0, time.UTC), next)
	})

	t.Run("malformed expression", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{Kind: autonomy.ScheduleCron, CronExpr: "bogus"}

		_, err := schedule.NextOccurrence(monday)
		assert.ErrorIs(t, err, autonomy.ErrInvalidSchedule)
	})
}

func TestNextOccurrence_Budget(t *testing.T) {
	t.Parallel()

	t.Run("run budget spent", func(t *testing.T) {
		t.Parallel()

		schedule := &autonomy.Schedule{
			Kind:            autonomy.ScheduleInterval,
			IntervalSeconds: 60,
			MaxRuns:         3,
			RunCount:        3,
		}

		_, err := schedule.NextOccurrence(monday)
		assert.ErrorIs(t, err, autonomy.ErrScheduleExhausted)
	})

	t.Run("end time cuts off future occurrences", func(t *testing.T) {
		t.Parallel()

		endTime := monday.Add(time.Hour)
		schedule := &autonomy.Schedule{
			Kind:      autonomy.ScheduleDaily,
			TimeOfDay: "08:00",
			EndTime:   &endTime,
		}

		// Next daily slot is tomorrow morning, past the end time.
		_, err := schedule.NextOccurrence(monday)
		assert.ErrorIs(t, err, autonomy.ErrScheduleExhausted)
	})

	t.Run("end time after next occurrence", func(t *testing.T) {
		t.Parallel()

		endTime := monday.Add(48 * time.Hour)
		schedule := &autonomy.Schedule{
			Kind:      autonomy.ScheduleDaily,
			TimeOfDay: "08:00",
			EndTime:   &endTime,
		}

		next, err := schedule.NextOccurrence(monday)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC), next)
	})
}
