package autonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CompletionFunc is invoked after a task commits a terminal state. The
// terminal result or error is available on the task. A panicking callback is
// logged and ignored.
type CompletionFunc func(task *Task)

// errAlreadyTerminal guards terminal transitions against replays: completing
// an already-terminal task is a no-op, not an error.
var errAlreadyTerminal = errors.New("task already in terminal state")

// completions is the dependency and retry engine. It commits terminal
// transitions, re-arms failed tasks that have retry budget left, wakes
// dependent tasks, rolls subtask outcomes up into parents, and notifies
// completion callbacks and waiters.
type completions struct {
	storage Storage
	queue   *readyQueue
	logger  *slog.Logger

	mu         sync.Mutex
	waiters    map[uuid.UUID][]chan *Task
	onComplete CompletionFunc
}

func newCompletions(storage Storage, queue *readyQueue, logger *slog.Logger) *completions {
	return &completions{
		storage: storage,
		queue:   queue,
		logger:  logger,
		waiters: make(map[uuid.UUID][]chan *Task),
	}
}

// setCallback installs the external completion callback.
func (c *completions) setCallback(fn CompletionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// succeed commits a successful result and runs terminal post-processing.
func (c *completions) succeed(ctx context.Context, id uuid.UUID, result any) (*Task, error) {
	now := time.Now()
	task, err := c.storage.MutateTask(ctx, id, func(t *Task) error {
		if t.Status.IsTerminal() {
			return errAlreadyTerminal
		}
		t.Status = StatusCompleted
		t.Result = result
		t.Error = ""
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.afterTerminal(ctx, task)

	return task, nil
}

// fail records a failed execution. Tasks with retry budget left are re-armed
// as PENDING with scheduled_at pushed out by retry_delay and re-enqueued;
// exhausted tasks commit FAILED. Reports whether a retry was armed.
func (c *completions) fail(ctx context.Context, id uuid.UUID, execErr string) (*Task, bool, error) {
	now := time.Now()
	retried := false
	task, err := c.storage.MutateTask(ctx, id, func(t *Task) error {
		if t.Status.IsTerminal() {
			return errAlreadyTerminal
		}
		if t.RetryCount < t.MaxRetries {
			t.RetryCount++
			t.Status = StatusPending
			t.Error = fmt.Sprintf("%s (retry %d/%d)", execErr, t.RetryCount, t.MaxRetries)
			next := now.Add(t.RetryDelay)
			t.ScheduledAt = &next
			retried = true
		} else {
			t.Status = StatusFailed
			t.Error = execErr + " (max retries exceeded)"
			if t.CompletedAt == nil {
				t.CompletedAt = &now
			}
			retried = false
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if retried {
		c.logger.InfoContext(ctx, "task re-armed for retry",
			slog.String("task_id", task.ID.String()),
			slog.String("action", task.Action),
			slog.Int("retry_count", int(task.RetryCount)),
			slog.Int("max_retries", int(task.MaxRetries)))
		c.queue.Push(task)
		return task, true, nil
	}

	c.afterTerminal(ctx, task)

	return task, false, nil
}

// finish commits a terminal status without retry semantics. Used for policy
// rejections, safety failures, missing actions, and cancellations.
func (c *completions) finish(ctx context.Context, id uuid.UUID, status Status, errMsg string) (*Task, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("finish with non-terminal status %q", status)
	}

	now := time.Now()
	task, err := c.storage.MutateTask(ctx, id, func(t *Task) error {
		if t.Status.IsTerminal() {
			return errAlreadyTerminal
		}
		t.Status = status
		t.Error = errMsg
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.afterTerminal(ctx, task)

	return task, nil
}

// afterTerminal runs the post-commit chain for a task that just entered a
// terminal state: wake now-ready dependents, roll up into the parent, fire
// the completion callback, release waiters.
func (c *completions) afterTerminal(ctx context.Context, task *Task) {
	c.logger.InfoContext(ctx, "task finished",
		slog.String("task_id", task.ID.String()),
		slog.String("action", task.Action),
		slog.String("status", string(task.Status)),
		slog.String("error", task.Error))

	if task.Status == StatusCompleted {
		c.wakeDependents(ctx, task.ID)
	}

	if task.ParentID != nil {
		c.rollupParent(ctx, *task.ParentID)
	}

	c.mu.Lock()
	callback := c.onComplete
	c.mu.Unlock()
	if callback != nil {
		c.runCallback(callback, task)
	}

	c.notifyWaiters(task)
}

// wakeDependents enqueues PENDING tasks that were waiting on the given task
// and are now ready.
func (c *completions) wakeDependents(ctx context.Context, id uuid.UUID) {
	dependents, err := c.storage.ListTasks(ctx, TaskFilter{
		Statuses:  []Status{StatusPending},
		DependsOn: &id,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "cannot list dependent tasks",
			slog.String("task_id", id.String()),
			slog.Any("error", err))
		return
	}

	for _, dependent := range dependents {
		if c.depsSatisfied(ctx, dependent) {
			c.queue.Push(dependent)
		}
	}
}

// depsSatisfied reports whether every dependency of the task is COMPLETED.
func (c *completions) depsSatisfied(ctx context.Context, task *Task) bool {
	for _, dep := range task.DependsOn {
		depTask, err := c.storage.GetTask(ctx, dep)
		if err != nil || depTask.Status != StatusCompleted {
			return false
		}
	}

	return true
}

// rollupParent derives the parent's terminal state once every subtask is
// terminal: COMPLETED iff all subtasks completed, else FAILED listing the
// failed subtask ids. The parent's result summarizes counts. Safe to call
// concurrently from sibling completions; exactly one caller commits.
func (c *completions) rollupParent(ctx context.Context, parentID uuid.UUID) {
	subtasks, err := c.storage.ListTasks(ctx, TaskFilter{ParentID: &parentID})
	if err != nil {
		c.logger.ErrorContext(ctx, "cannot list subtasks for rollup",
			slog.String("task_id", parentID.String()),
			slog.Any("error", err))
		return
	}
	if len(subtasks) == 0 {
		return
	}

	completed := 0
	var failedIDs []string
	for _, sub := range subtasks {
		if !sub.Status.IsTerminal() {
			return
		}
		if sub.Status == StatusCompleted {
			completed++
		} else {
			failedIDs = append(failedIDs, sub.ID.String())
		}
	}

	now := time.Now()
	parent, err := c.storage.MutateTask(ctx, parentID, func(t *Task) error {
		if t.Status.IsTerminal() {
			return errAlreadyTerminal
		}
		t.Result = map[string]any{
			"subtasks_completed": completed,
			"subtasks_failed":    len(failedIDs),
		}
		if len(failedIDs) == 0 {
			t.Status = StatusCompleted
			t.Error = ""
		} else {
			t.Status = StatusFailed
			t.Error = fmt.Sprintf("%d subtask(s) failed: %s", len(failedIDs), strings.Join(failedIDs, ", "))
		}
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errAlreadyTerminal) {
			c.logger.ErrorContext(ctx, "parent rollup failed",
				slog.String("task_id", parentID.String()),
				slog.Any("error", err))
		}
		return
	}

	c.afterTerminal(ctx, parent)
}

// wait blocks until the task reaches a terminal state, the timeout elapses
// (zero means no timeout), or the context is cancelled.
func (c *completions) wait(ctx context.Context, id uuid.UUID, timeout time.Duration) (*Task, error) {
	task, err := c.storage.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, nil
	}

	ch := make(chan *Task, 1)
	c.mu.Lock()
	c.waiters[id] = append(c.waiters[id], ch)
	c.mu.Unlock()

	// The task may have finished between the status check and registration.
	task, err = c.storage.GetTask(ctx, id)
	if err == nil && task.Status.IsTerminal() {
		c.dropWaiter(id, ch)
		return task, nil
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case task := <-ch:
		return task, nil
	case <-timer:
		c.dropWaiter(id, ch)
		return nil, fmt.Errorf("task %s: %w", id, ErrWaitTimeout)
	case <-ctx.Done():
		c.dropWaiter(id, ch)
		return nil, ctx.Err()
	}
}

func (c *completions) dropWaiter(id uuid.UUID, ch chan *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waiters[id] = slices.DeleteFunc(c.waiters[id], func(have chan *Task) bool {
		return have == ch
	})
	if len(c.waiters[id]) == 0 {
		delete(c.waiters, id)
	}
}

func (c *completions) notifyWaiters(task *Task) {
	c.mu.Lock()
	waiting := c.waiters[task.ID]
	delete(c.waiters, task.ID)
	c.mu.Unlock()

	for _, ch := range waiting {
		ch <- task.Clone()
	}
}

func (c *completions) runCallback(callback CompletionFunc, task *Task) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("completion callback panicked",
				slog.String("task_id", task.ID.String()),
				slog.String("action", task.Action),
				slog.Any("panic", r))
		}
	}()

	callback(task.Clone())
}
