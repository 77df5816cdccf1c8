package autonomy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStorageStats provides observability metrics for monitoring and debugging
type MemoryStorageStats struct {
	Tasks     int // Current number of tasks in storage
	Schedules int // Current number of schedules in storage
}

// MemoryStorage implements the Storage interface in process memory. It backs
// engines that run without persistence and serves as the hot core of
// FileStorage.
type MemoryStorage struct {
	mu        sync.RWMutex
	tasks     map[uuid.UUID]*Task
	schedules map[uuid.UUID]*Schedule

	// Indexes for efficient queries
	byStatus map[Status][]uuid.UUID
	byParent map[uuid.UUID][]uuid.UUID
}

// NewMemoryStorage creates a new in-memory storage implementation.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks:     make(map[uuid.UUID]*Task),
		schedules: make(map[uuid.UUID]*Schedule),
		byStatus:  make(map[Status][]uuid.UUID),
		byParent:  make(map[uuid.UUID][]uuid.UUID),
	}
}

// CreateTask stores a new task in memory.
func (ms *MemoryStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("task %s: %w", task.ID, ErrTaskExists)
	}

	ms.tasks[task.ID] = task.Clone()
	ms.byStatus[task.Status] = append(ms.byStatus[task.Status], task.ID)
	if task.ParentID != nil {
		ms.byParent[*task.ParentID] = append(ms.byParent[*task.ParentID], task.ID)
	}

	return nil
}

// GetTask returns a copy of the task with the given id.
func (ms *MemoryStorage) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	task, exists := ms.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}

	return task.Clone(), nil
}

// UpdateTask replaces the stored task with the same id.
func (ms *MemoryStorage) UpdateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	current, exists := ms.tasks[task.ID]
	if !exists {
		return fmt.Errorf("task %s: %w", task.ID, ErrTaskNotFound)
	}

	if current.Status != task.Status {
		ms.removeFromStatusIndex(task.ID, current.Status)
		ms.byStatus[task.Status] = append(ms.byStatus[task.Status], task.ID)
	}
	ms.tasks[task.ID] = task.Clone()

	return nil
}

// MutateTask applies fn to the stored task under the store mutex and returns
// the updated copy. Status index entries are kept consistent when fn changes
// the status. When fn returns an error the stored task is left unchanged.
func (ms *MemoryStorage) MutateTask(ctx context.Context, id uuid.UUID, fn func(task *Task) error) (*Task, error) {
	if fn == nil {
		return nil, errors.New("mutate func cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	current, exists := ms.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}

	updated := current.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.ID = id

	if current.Status != updated.Status {
		ms.removeFromStatusIndex(id, current.Status)
		ms.byStatus[updated.Status] = append(ms.byStatus[updated.Status], id)
	}
	ms.tasks[id] = updated

	return updated.Clone(), nil
}

// DeleteTask removes the task with the given id.
func (ms *MemoryStorage) DeleteTask(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[id]
	if !exists {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}

	ms.removeFromStatusIndex(id, task.Status)
	if task.ParentID != nil {
		ms.byParent[*task.ParentID] = slices.DeleteFunc(ms.byParent[*task.ParentID], func(sub uuid.UUID) bool {
			return sub == id
		})
		if len(ms.byParent[*task.ParentID]) == 0 {
			delete(ms.byParent, *task.ParentID)
		}
	}
	delete(ms.tasks, id)

	return nil
}

// ListTasks returns copies of tasks matching the filter, oldest first.
func (ms *MemoryStorage) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	ms.mu.RLock()

	var candidates []uuid.UUID
	switch {
	case filter.ParentID != nil:
		candidates = ms.byParent[*filter.ParentID]
	case len(filter.Statuses) > 0:
		for _, status := range filter.Statuses {
			candidates = append(candidates, ms.byStatus[status]...)
		}
	default:
		candidates = make([]uuid.UUID, 0, len(ms.tasks))
		for id := range ms.tasks {
			candidates = append(candidates, id)
		}
	}

	result := make([]*Task, 0, len(candidates))
	for _, id := range candidates {
		task, exists := ms.tasks[id]
		if !exists {
			continue
		}
		if filter.matches(task) {
			result = append(result, task.Clone())
		}
	}
	ms.mu.RUnlock()

	slices.SortStableFunc(result, func(a, b *Task) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return result, nil
}

// CreateSchedule stores a new schedule in memory.
func (ms *MemoryStorage) CreateSchedule(ctx context.Context, schedule *Schedule) error {
	if schedule == nil {
		return errors.New("schedule cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.schedules[schedule.ID]; exists {
		return fmt.Errorf("schedule %s: %w", schedule.ID, ErrScheduleExists)
	}
	ms.schedules[schedule.ID] = schedule.Clone()

	return nil
}

// GetSchedule returns a copy of the schedule with the given id.
func (ms *MemoryStorage) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	schedule, exists := ms.schedules[id]
	if !exists {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrScheduleNotFound)
	}

	return schedule.Clone(), nil
}

// UpdateSchedule replaces the stored schedule with the same id.
func (ms *MemoryStorage) UpdateSchedule(ctx context.Context, schedule *Schedule) error {
	if schedule == nil {
		return errors.New("schedule cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.schedules[schedule.ID]; !exists {
		return fmt.Errorf("schedule %s: %w", schedule.ID, ErrScheduleNotFound)
	}
	ms.schedules[schedule.ID] = schedule.Clone()

	return nil
}

// DeleteSchedule removes the schedule with the given id.
func (ms *MemoryStorage) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.schedules[id]; !exists {
		return fmt.Errorf("schedule %s: %w", id, ErrScheduleNotFound)
	}
	delete(ms.schedules, id)

	return nil
}

// ListSchedules returns copies of schedules matching the filter, oldest first.
func (ms *MemoryStorage) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	ms.mu.RLock()
	result := make([]*Schedule, 0, len(ms.schedules))
	for _, schedule := range ms.schedules {
		if filter.matches(schedule) {
			result = append(result, schedule.Clone())
		}
	}
	ms.mu.RUnlock()

	slices.SortStableFunc(result, func(a, b *Schedule) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return result, nil
}

// Stats returns current memory storage statistics for observability and monitoring.
// This method is thread-safe and can be called at any time.
func (ms *MemoryStorage) Stats() MemoryStorageStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return MemoryStorageStats{
		Tasks:     len(ms.tasks),
		Schedules: len(ms.schedules),
	}
}

func (ms *MemoryStorage) removeFromStatusIndex(taskID uuid.UUID, status Status) {
	ms.byStatus[status] = slices.DeleteFunc(ms.byStatus[status], func(id uuid.UUID) bool {
		return id == taskID
	})
}

// snapshotState returns deep copies of all tasks and schedules for persistence.
func (ms *MemoryStorage) snapshotState() ([]*Task, []*Schedule) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	tasks := make([]*Task, 0, len(ms.tasks))
	for _, task := range ms.tasks {
		tasks = append(tasks, task.Clone())
	}
	schedules := make([]*Schedule, 0, len(ms.schedules))
	for _, schedule := range ms.schedules {
		schedules = append(schedules, schedule.Clone())
	}

	return tasks, schedules
}

// restoreState replaces the in-memory state and rebuilds indexes. Used when
// loading persisted state from disk.
func (ms *MemoryStorage) restoreState(tasks []*Task, schedules []*Schedule) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.tasks = make(map[uuid.UUID]*Task, len(tasks))
	ms.byStatus = make(map[Status][]uuid.UUID)
	ms.byParent = make(map[uuid.UUID][]uuid.UUID)
	for _, task := range tasks {
		ms.tasks[task.ID] = task.Clone()
		ms.byStatus[task.Status] = append(ms.byStatus[task.Status], task.ID)
		if task.ParentID != nil {
			ms.byParent[*task.ParentID] = append(ms.byParent[*task.ParentID], task.ID)
		}
	}

	ms.schedules = make(map[uuid.UUID]*Schedule, len(schedules))
	for _, schedule := range schedules {
		ms.schedules[schedule.ID] = schedule.Clone()
	}
}
