package autonomy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autonomy/core/autonomy"
)

func TestMemoryStorage_TaskCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		task := &autonomy.Task{
			ID:        uuid.New(),
			Action:    "log",
			Status:    autonomy.StatusPending,
			CreatedAt: time.Now(),
		}

		require.NoError(t, storage.CreateTask(ctx, task))

		got, err := storage.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.ID, got.ID)
		assert.Equal(t, "log", got.Action)
	})

	t.Run("create nil task", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		assert.Error(t, storage.CreateTask(ctx, nil))
	})

	t.Run("create duplicate", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		task := &autonomy.Task{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending}

		require.NoError(t, storage.CreateTask(ctx, task))
		assert.ErrorIs(t, storage.CreateTask(ctx, task), autonomy.ErrTaskExists)
	})

	t.Run("get missing", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		_, err := storage.GetTask(ctx, uuid.New())
		assert.ErrorIs(t, err, autonomy.ErrTaskNotFound)
	})

	t.Run("update", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		task := &autonomy.Task{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending}
		require.NoError(t, storage.CreateTask(ctx, task))

		task.Status = autonomy.StatusRunning
		require.NoError(t, storage.UpdateTask(ctx, task))

		got, err := storage.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, autonomy.StatusRunning, got.Status)
	})

	t.Run("update missing", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		task := &autonomy.Task{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending}
		assert.ErrorIs(t, storage.UpdateTask(ctx, task), autonomy.ErrTaskNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		task := &autonomy.Task{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending}
		require.NoError(t, storage.CreateTask(ctx, task))

		require.NoError(t, storage.DeleteTask(ctx, task.ID))

		_, err := storage.GetTask(ctx, task.ID)
		assert.ErrorIs(t, err, autonomy.ErrTaskNotFound)
		assert.ErrorIs(t, storage.DeleteTask(ctx, task.ID), autonomy.ErrTaskNotFound)
	})
}

func TestMemoryStorage_DefensiveCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := autonomy.NewMemoryStorage()

	task := &autonomy.Task{
		ID:     uuid.New(),
		Action: "log",
		Status: autonomy.StatusPending,
		Params: map[string]any{"message": "original"},
	}
	require.NoError(t, storage.CreateTask(ctx, task))

	// Mutating the caller's task after create must not reach the store.
	task.Params["message"] = "mutated after create"

	got, err := storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Params["message"])

	// Mutating a returned copy must not reach the store either.
	got.Params["message"] = "mutated after get"

	again, err := storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Params["message"])
}

func TestMemoryStorage_MutateTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("applies mutation", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		task := &autonomy.Task{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending}
		require.NoError(t, storage.CreateTask(ctx, task))

		updated, err := storage.MutateTask(ctx, task.ID, func(task *autonomy.Task) error {
			task.Status = autonomy.StatusRunning
			task.RetryCount = 2
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, autonomy.StatusRunning, updated.Status)
		assert.Equal(t, int8(2), updated.RetryCount)

		got, err := storage.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, autonomy.StatusRunning, got.Status)
	})

	t.Run("error leaves task unchanged", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		task := &autonomy.Task{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending}
		require.NoError(t, storage.CreateTask(ctx, task))

		sentinel := errors.New("rejected")
		_, err := storage.MutateTask(ctx, task.ID, func(task *autonomy.Task) error {
			task.Status = autonomy.StatusCancelled
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		got, err := storage.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, autonomy.StatusPending, got.Status)
	})

	t.Run("id cannot be rewritten", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		task := &autonomy.Task{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending}
		require.NoError(t, storage.CreateTask(ctx, task))

		updated, err := storage.MutateTask(ctx, task.ID, func(task *autonomy.Task) error {
			task.ID = uuid.New()
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, task.ID, updated.ID)
	})

	t.Run("missing task", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		_, err := storage.MutateTask(ctx, uuid.New(), func(task *autonomy.Task) error { return nil })
		assert.ErrorIs(t, err, autonomy.ErrTaskNotFound)
	})

	t.Run("status index follows mutation", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		task := &autonomy.Task{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending}
		require.NoError(t, storage.CreateTask(ctx, task))

		_, err := storage.MutateTask(ctx, task.ID, func(task *autonomy.Task) error {
			task.Status = autonomy.StatusCompleted
			return nil
		})
		require.NoError(t, err)

		pending, err := storage.ListTasks(ctx, autonomy.TaskFilter{Statuses: []autonomy.Status{autonomy.StatusPending}})
		require.NoError(t, err)
		assert.Empty(t, pending)

		completed, err := storage.ListTasks(ctx, autonomy.TaskFilter{Statuses: []autonomy.Status{autonomy.StatusCompleted}})
		require.NoError(t, err)
		assert.Len(t, completed, 1)
	})
}

func TestMemoryStorage_ListTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	seed := func(t *testing.T) (*autonomy.MemoryStorage, []*autonomy.Task) {
		t.Helper()

		storage := autonomy.NewMemoryStorage()
		base := time.Now().Add(-time.Hour)
		parentID := uuid.New()
		depID := uuid.New()

		tasks := []*autonomy.Task{
			{ID: depID, Action: "log", Status: autonomy.StatusCompleted, CreatedAt: base},
			{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending, CreatedAt: base.Add(time.Minute), DependsOn: []uuid.UUID{depID}},
			{ID: parentID, Action: "chain_coordinator", Status: autonomy.StatusPending, CreatedAt: base.Add(2 * time.Minute)},
			{ID: uuid.New(), Action: "log", Status: autonomy.StatusRunning, CreatedAt: base.Add(3 * time.Minute), ParentID: &parentID},
		}
		for _, task := range tasks {
			require.NoError(t, storage.CreateTask(ctx, task))
		}

		return storage, tasks
	}

	t.Run("empty filter returns all oldest first", func(t *testing.T) {
		t.Parallel()

		storage, tasks := seed(t)

		got, err := storage.ListTasks(ctx, autonomy.TaskFilter{})
		require.NoError(t, err)
		require.Len(t, got, len(tasks))
		for i := 1; i < len(got); i++ {
			assert.False(t, got[i].CreatedAt.Before(got[i-1].CreatedAt), "results must be ordered oldest first")
		}
	})

	t.Run("filter by status", func(t *testing.T) {
		t.Parallel()

		storage, _ := seed(t)

		got, err := storage.ListTasks(ctx, autonomy.TaskFilter{
			Statuses: []autonomy.Status{autonomy.StatusPending},
		})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("filter by several statuses", func(t *testing.T) {
		t.Parallel()

		storage, _ := seed(t)

		got, err := storage.ListTasks(ctx, autonomy.TaskFilter{
			Statuses: []autonomy.Status{autonomy.StatusPending, autonomy.StatusRunning},
		})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("filter by parent", func(t *testing.T) {
		t.Parallel()

		storage, tasks := seed(t)
		parentID := tasks[2].ID

		got, err := storage.ListTasks(ctx, autonomy.TaskFilter{ParentID: &parentID})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, tasks[3].ID, got[0].ID)
	})

	t.Run("filter by dependency", func(t *testing.T) {
		t.Parallel()

		storage, tasks := seed(t)
		depID := tasks[0].ID

		got, err := storage.ListTasks(ctx, autonomy.TaskFilter{DependsOn: &depID})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, tasks[1].ID, got[0].ID)
	})
}

func TestMemoryStorage_ParentIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := autonomy.NewMemoryStorage()

	parentID := uuid.New()
	sub := &autonomy.Task{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending, ParentID: &parentID}
	require.NoError(t, storage.CreateTask(ctx, sub))

	got, err := storage.ListTasks(ctx, autonomy.TaskFilter{ParentID: &parentID})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, storage.DeleteTask(ctx, sub.ID))

	got, err = storage.ListTasks(ctx, autonomy.TaskFilter{ParentID: &parentID})
	require.NoError(t, err)
	assert.Empty(t, got, "parent index must forget deleted subtasks")
}

func TestMemoryStorage_ScheduleCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("create get update delete", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		schedule := &autonomy.Schedule{
			ID:              uuid.New(),
			Name:            "heartbeat",
			Kind:            autonomy.ScheduleInterval,
			Action:          "log",
			IntervalSeconds: 60,
			Enabled:         true,
			CreatedAt:       time.Now(),
		}

		require.NoError(t, storage.CreateSchedule(ctx, schedule))
		assert.ErrorIs(t, storage.CreateSchedule(ctx, schedule), autonomy.ErrScheduleExists)

		got, err := storage.GetSchedule(ctx, schedule.ID)
		require.NoError(t, err)
		assert.Equal(t, "heartbeat", got.Name)

		got.RunCount = 5
		require.NoError(t, storage.UpdateSchedule(ctx, got))

		got, err = storage.GetSchedule(ctx, schedule.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.RunCount)

		require.NoError(t, storage.DeleteSchedule(ctx, schedule.ID))
		_, err = storage.GetSchedule(ctx, schedule.ID)
		assert.ErrorIs(t, err, autonomy.ErrScheduleNotFound)
	})

	t.Run("update missing", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		schedule := &autonomy.Schedule{ID: uuid.New(), Kind: autonomy.ScheduleInterval, IntervalSeconds: 1}
		assert.ErrorIs(t, storage.UpdateSchedule(ctx, schedule), autonomy.ErrScheduleNotFound)
	})

	t.Run("delete missing", func(t *testing.T) {
		t.Parallel()

		storage := autonomy.NewMemoryStorage()
		assert.ErrorIs(t, storage.DeleteSchedule(ctx, uuid.New()), autonomy.ErrScheduleNotFound)
	})
}

func TestMemoryStorage_ListSchedules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := autonomy.NewMemoryStorage()
	base := time.Now().Add(-time.Hour)

	schedules := []*autonomy.Schedule{
		{ID: uuid.New(), Kind: autonomy.ScheduleInterval, Action: "log", IntervalSeconds: 60, Enabled: true, Tags: []string{"routine", "hourly"}, CreatedAt: base},
		{ID: uuid.New(), Kind: autonomy.ScheduleDaily, Action: "daily_review", TimeOfDay: "08:00", Enabled: true, Tags: []string{"routine"}, CreatedAt: base.Add(time.Minute)},
		{ID: uuid.New(), Kind: autonomy.ScheduleCron, Action: "log", CronExpr: "0 0 * * *", Enabled: false, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, schedule := range schedules {
		require.NoError(t, storage.CreateSchedule(ctx, schedule))
	}

	t.Run("all", func(t *testing.T) {
		t.Parallel()

		got, err := storage.ListSchedules(ctx, autonomy.ScheduleFilter{})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("enabled only", func(t *testing.T) {
		t.Parallel()

		enabled := true
		got, err := storage.ListSchedules(ctx, autonomy.ScheduleFilter{Enabled: &enabled})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("by kind", func(t *testing.T) {
		t.Parallel()

		got, err := storage.ListSchedules(ctx, autonomy.ScheduleFilter{
			Kinds: []autonomy.ScheduleKind{autonomy.ScheduleDaily},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "daily_review", got[0].Action)
	})

	t.Run("by tags requires all", func(t *testing.T) {
		t.Parallel()

		got, err := storage.ListSchedules(ctx, autonomy.ScheduleFilter{Tags: []string{"routine"}})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = storage.ListSchedules(ctx, autonomy.ScheduleFilter{Tags: []string{"routine", "hourly"}})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

func TestMemoryStorage_Stats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := autonomy.NewMemoryStorage()

	stats := storage.Stats()
	assert.Equal(t, 0, stats.Tasks)
	assert.Equal(t, 0, stats.Schedules)

	require.NoError(t, storage.CreateTask(ctx, &autonomy.Task{ID: uuid.New(), Action: "log", Status: autonomy.StatusPending}))
	require.NoError(t, storage.CreateSchedule(ctx, &autonomy.Schedule{ID: uuid.New(), Kind: autonomy.ScheduleInterval, IntervalSeconds: 1}))

	stats = storage.Stats()
	assert.Equal(t, 1, stats.Tasks)
	assert.Equal(t, 1, stats.Schedules)
}
