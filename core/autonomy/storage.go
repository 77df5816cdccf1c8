package autonomy

import (
	"context"

	"github.com/google/uuid"
)

// TaskRepository provides task persistence for the engine, dispatcher, and
// lifecycle tracker. Implementations must return defensive copies so callers
// can mutate results freely.
type TaskRepository interface {
	// CreateTask stores a new task
	CreateTask(ctx context.Context, task *Task) error

	// GetTask returns the task with the given id
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)

	// UpdateTask replaces the stored task with the same id
	UpdateTask(ctx context.Context, task *Task) error

	// MutateTask applies fn to the stored task atomically and returns the
	// updated copy. When fn returns an error the task is left unchanged.
	MutateTask(ctx context.Context, id uuid.UUID, fn func(task *Task) error) (*Task, error)

	// DeleteTask removes the task with the given id
	DeleteTask(ctx context.Context, id uuid.UUID) error

	// ListTasks returns tasks matching the filter, oldest first
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
}

// ScheduleRepository provides schedule persistence for the calendar scheduler.
type ScheduleRepository interface {
	// CreateSchedule stores a new schedule
	CreateSchedule(ctx context.Context, schedule *Schedule) error

	// GetSchedule returns the schedule with the given id
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)

	// UpdateSchedule replaces the stored schedule with the same id
	UpdateSchedule(ctx context.Context, schedule *Schedule) error

	// DeleteSchedule removes the schedule with the given id
	DeleteSchedule(ctx context.Context, id uuid.UUID) error

	// ListSchedules returns schedules matching the filter, oldest first
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
}

// Storage is a unified interface that combines all repository interfaces
// required for engine operations. Implementations of this interface can
// serve as the complete storage backend for the Engine, Dispatcher, and
// Scheduler.
//
// This interface is designed to simplify engine initialization by requiring
// only a single storage dependency that satisfies all component needs.
type Storage interface {
	// TaskRepository provides task persistence capabilities
	TaskRepository

	// ScheduleRepository provides schedule persistence capabilities
	ScheduleRepository
}

// TaskFilter narrows ListTasks results. Zero value matches everything.
type TaskFilter struct {
	// Statuses limits results to tasks in any of the given states.
	Statuses []Status
	// ParentID limits results to subtasks of the given parent.
	ParentID *uuid.UUID
	// DependsOn limits results to tasks that list the given id as a
	// dependency. Used to wake dependents when a task completes.
	DependsOn *uuid.UUID
}

// ScheduleFilter narrows ListSchedules results. Zero value matches everything.
type ScheduleFilter struct {
	// Enabled limits results by the enabled flag.
	Enabled *bool
	// Kinds limits results to schedules of any of the given kinds.
	Kinds []ScheduleKind
	// Tags limits results to schedules carrying all of the given tags.
	Tags []string
}

func (f TaskFilter) matches(task *Task) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if task.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ParentID != nil {
		if task.ParentID == nil || *task.ParentID != *f.ParentID {
			return false
		}
	}
	if f.DependsOn != nil {
		found := false
		for _, dep := range task.DependsOn {
			if dep == *f.DependsOn {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

func (f ScheduleFilter) matches(schedule *Schedule) bool {
	if f.Enabled != nil && schedule.Enabled != *f.Enabled {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, kind := range f.Kinds {
			if schedule.Kind == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, tag := range f.Tags {
		found := false
		for _, have := range schedule.Tags {
			if have == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
