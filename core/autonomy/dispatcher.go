package autonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// errNotClaimable guards the PENDING -> RUNNING transition: entries popped
// from the ready queue may be stale by the time the dispatcher claims them.
var errNotClaimable = errors.New("task is not claimable")

// taskHandle tracks one in-flight execution for cooperative cancellation.
type taskHandle struct {
	id              uuid.UUID
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
	done            chan struct{}
}

// DispatcherStats provides observability metrics for monitoring and debugging
type DispatcherStats struct {
	TasksCompleted int64 // Total number of successfully completed tasks
	TasksFailed    int64 // Total number of terminally failed tasks
	TasksRetried   int64 // Total number of retry re-arms
	ActiveTasks    int32 // Number of tasks currently executing
	QueuedTasks    int   // Entries in the ready queue, including stale ones
	IsRunning      bool  // Whether the dispatcher is currently running
}

// Dispatcher owns the ready queue and a fixed pool of worker slots. It pulls
// ready tasks, runs them through the policy gate, executes their actions, and
// hands outcomes to the dependency and retry engine.
type Dispatcher struct {
	storage     Storage
	registry    *Registry
	gate        *PolicyGate
	queue       *readyQueue
	completions *completions

	running map[uuid.UUID]*taskHandle
	sem     chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex

	// Configuration
	pollInterval    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// State management
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool

	// Observability metrics
	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64
	tasksRetried   atomic.Int64
	activeTasks    atomic.Int32
}

// NewDispatcher creates a task dispatcher backed by the given storage,
// action registry, and policy gate.
func NewDispatcher(storage Storage, registry *Registry, gate *PolicyGate, opts ...DispatcherOption) (*Dispatcher, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if registry == nil {
		return nil, ErrRegistryNil
	}
	if gate == nil {
		return nil, ErrPolicyGateNil
	}

	options := defaultDispatcherOptions()
	for _, opt := range opts {
		opt(options)
	}

	d := &Dispatcher{
		storage:         storage,
		registry:        registry,
		gate:            gate,
		queue:           newReadyQueue(),
		running:         make(map[uuid.UUID]*taskHandle),
		sem:             make(chan struct{}, options.maxConcurrentTasks),
		pollInterval:    options.pollInterval,
		shutdownTimeout: options.shutdownTimeout,
		logger:          options.logger,
	}
	d.completions = newCompletions(storage, d.queue, options.logger)
	if options.completionCallback != nil {
		d.completions.setCallback(options.completionCallback)
	}

	return d, nil
}

// NewDispatcherFromConfig creates a Dispatcher from configuration.
// Additional options can override config values.
func NewDispatcherFromConfig(cfg Config, storage Storage, registry *Registry, gate *PolicyGate, opts ...DispatcherOption) (*Dispatcher, error) {
	allOpts := append([]DispatcherOption{
		WithPollInterval(cfg.PollInterval),
		WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
		WithDispatcherShutdownTimeout(cfg.ShutdownTimeout),
	}, opts...)

	return NewDispatcher(storage, registry, gate, allOpts...)
}

// Enqueue admits a task to the ready queue. Producers call this on
// submission, on dependency satisfaction, and on retry re-arm; tasks
// scheduled in the future are ordered by their scheduled timestamp.
func (d *Dispatcher) Enqueue(task *Task) {
	d.queue.Push(task)
}

// SetCompletionCallback installs the external callback fired after each
// terminal transition.
func (d *Dispatcher) SetCompletionCallback(fn CompletionFunc) {
	d.completions.setCallback(fn)
}

// WaitForTask blocks until the task reaches a terminal state, the timeout
// elapses (zero means no timeout), or the context is cancelled.
func (d *Dispatcher) WaitForTask(ctx context.Context, id uuid.UUID, timeout time.Duration) (*Task, error) {
	return d.completions.wait(ctx, id, timeout)
}

// Cancel cancels a task and all of its subtasks. A PENDING task flips to
// CANCELLED immediately; for a RUNNING task the in-flight handle is cancelled
// cooperatively and the request is recorded in task metadata; if the action
// finishes anyway the task completes normally. Returns false for tasks
// already in a terminal state.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	task, err := d.storage.GetTask(ctx, id)
	if err != nil {
		return false, err
	}

	if task.Status.IsTerminal() {
		return false, nil
	}

	d.mu.RLock()
	handle := d.running[id]
	d.mu.RUnlock()

	if handle != nil {
		handle.cancelRequested.Store(true)
		if _, err := d.storage.MutateTask(ctx, id, func(t *Task) error {
			if t.Metadata == nil {
				t.Metadata = make(map[string]any)
			}
			t.Metadata["cancel_requested"] = true
			return nil
		}); err != nil {
			d.logger.WarnContext(ctx, "cannot record cancel request",
				slog.String("task_id", id.String()),
				slog.Any("error", err))
		}
		handle.cancel()
		d.cancelSubtasks(ctx, task)
		return true, nil
	}

	if _, err := d.completions.finish(ctx, id, StatusCancelled, "cancelled"); err != nil {
		if errors.Is(err, errAlreadyTerminal) {
			return false, nil
		}
		return false, err
	}
	d.cancelSubtasks(ctx, task)

	return true, nil
}

// cancelSubtasks recurses cancellation into subtasks. The parent is already
// terminal (or cancel-requested) at this point, so sibling rollups no-op.
func (d *Dispatcher) cancelSubtasks(ctx context.Context, task *Task) {
	for _, sub := range task.SubtaskIDs {
		if _, err := d.Cancel(ctx, sub); err != nil && !errors.Is(err, ErrTaskNotFound) {
			d.logger.WarnContext(ctx, "cannot cancel subtask",
				slog.String("task_id", task.ID.String()),
				slog.String("subtask_id", sub.String()),
				slog.Any("error", err))
		}
	}
}

// Start begins dispatching tasks. It re-enqueues persisted PENDING work
// first, then polls the ready queue. This is a blocking operation that runs
// until the context is cancelled. Use Run() for errgroup pattern or call
// this in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}

	if d.registry.Len() == 0 {
		d.mu.Unlock()
		return ErrNoActions
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	d.stopping.Store(false)

	d.logger.InfoContext(d.ctx, "dispatcher started",
		slog.Int("max_concurrent", cap(d.sem)),
		slog.Duration("poll_interval", d.pollInterval))

	d.rebuild(d.ctx)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.InfoContext(context.Background(), "dispatcher stopping")
			return d.ctx.Err()
		case <-ticker.C:
			select {
			case <-d.ctx.Done():
				return d.ctx.Err()
			default:
				d.drainReady()
			}
		}
	}
}

// Stop gracefully shuts down the dispatcher with a timeout, waiting for
// in-flight tasks to settle. Returns an error if the shutdown timeout is
// exceeded.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}

	d.stopping.Store(true)
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	cancel()

	d.logger.InfoContext(context.Background(), "dispatcher stopping, waiting for active tasks to complete",
		slog.Duration("timeout", d.shutdownTimeout))

	ctx, ctxCancel := context.WithTimeout(context.Background(), d.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.InfoContext(context.Background(), "dispatcher stopped cleanly")
		return nil
	case <-ctx.Done():
		d.logger.WarnContext(context.Background(), "dispatcher shutdown timeout exceeded - some tasks may be abandoned",
			slog.Duration("timeout", d.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", d.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the dispatcher, monitors context
// cancellation, and performs graceful shutdown when the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- d.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = d.Stop() // Ignore stop error in normal shutdown
			<-errCh      // Wait for Start() to exit
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// rebuild re-enqueues persisted PENDING tasks whose dependencies are
// satisfied and replays pending parent rollups. Tasks with subtasks are
// never dispatched directly; they complete through the rollup rule.
func (d *Dispatcher) rebuild(ctx context.Context) {
	pending, err := d.storage.ListTasks(ctx, TaskFilter{Statuses: []Status{StatusPending}})
	if err != nil {
		d.logger.ErrorContext(ctx, "cannot rebuild ready queue",
			slog.Any("error", err))
		return
	}

	queued := 0
	for _, task := range pending {
		if task.HasSubtasks() {
			d.completions.rollupParent(ctx, task.ID)
			continue
		}
		if len(task.DependsOn) == 0 || d.completions.depsSatisfied(ctx, task) {
			d.queue.Push(task)
			queued++
		}
	}

	if queued > 0 {
		d.logger.InfoContext(ctx, "ready queue rebuilt",
			slog.Int("queued", queued))
	}
}

// drainReady dispatches queued tasks until the queue is empty, the pool is
// saturated, or only future-scheduled work remains.
func (d *Dispatcher) drainReady() {
	now := time.Now()
	for {
		if d.stopping.Load() {
			return
		}

		select {
		case d.sem <- struct{}{}:
		default:
			d.logger.DebugContext(d.ctx, "all dispatcher slots busy, skipping tick")
			return
		}

		entry, ok := d.queue.Pop()
		if !ok {
			<-d.sem
			return
		}

		// A future-dated head means everything behind it fires even later.
		if entry.key > 0 && entry.key > float64(now.Unix()) {
			d.queue.PushKey(entry.id, entry.key)
			<-d.sem
			return
		}

		if !d.dispatchOne(entry.id) {
			<-d.sem
		}
	}
}

// dispatchOne runs one popped entry through staleness checks, the policy
// gate, and the claim transition, then spawns the execution. Reports whether
// a worker slot was consumed.
func (d *Dispatcher) dispatchOne(id uuid.UUID) bool {
	ctx := d.ctx

	task, err := d.storage.GetTask(ctx, id)
	if err != nil {
		return false // deleted since enqueue, discard
	}
	if task.Status != StatusPending || task.HasSubtasks() {
		return false // stale entry, discard
	}
	if !task.Due(time.Now()) {
		d.queue.Push(task) // re-queue under its scheduled key
		return false
	}
	if !d.completions.depsSatisfied(ctx, task) {
		return false // re-enqueued when the dependency completes
	}

	decision := d.gate.Evaluate(task)
	if !decision.Allowed {
		if decision.Status == StatusFailed {
			d.tasksFailed.Add(1)
		}
		d.logger.InfoContext(ctx, "task rejected by policy",
			slog.String("task_id", task.ID.String()),
			slog.String("action", task.Action),
			slog.String("reason", decision.Reason))
		if _, err := d.completions.finish(ctx, id, decision.Status, decision.Reason); err != nil && !errors.Is(err, errAlreadyTerminal) {
			d.logger.ErrorContext(ctx, "cannot record policy rejection",
				slog.String("task_id", id.String()),
				slog.Any("error", err))
		}
		return false
	}

	action, ok := d.registry.Get(task.Action)
	if !ok {
		// The action disappeared between submission and dispatch; retries
		// cannot help.
		d.tasksFailed.Add(1)
		d.logger.ErrorContext(ctx, "no action registered for task",
			slog.String("task_id", task.ID.String()),
			slog.String("action", task.Action))
		if _, err := d.completions.finish(ctx, id, StatusFailed, "unknown action: "+task.Action); err != nil && !errors.Is(err, errAlreadyTerminal) {
			d.logger.ErrorContext(ctx, "cannot record missing action failure",
				slog.String("task_id", id.String()),
				slog.Any("error", err))
		}
		return false
	}

	started := time.Now()
	claimed, err := d.storage.MutateTask(ctx, id, func(t *Task) error {
		if t.Status != StatusPending {
			return errNotClaimable
		}
		t.Status = StatusRunning
		if t.StartedAt == nil {
			t.StartedAt = &started
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNotClaimable) {
			d.logger.ErrorContext(ctx, "cannot claim task",
				slog.String("task_id", id.String()),
				slog.Any("error", err))
		}
		return false
	}

	// Execution is isolated from dispatcher shutdown: running actions get
	// their full timeout to finish during graceful stop.
	var execCtx context.Context
	var cancelExec context.CancelFunc
	if claimed.Timeout > 0 {
		execCtx, cancelExec = context.WithTimeout(context.Background(), claimed.Timeout)
	} else {
		execCtx, cancelExec = context.WithCancel(context.Background())
	}
	handle := &taskHandle{id: id, cancel: cancelExec, done: make(chan struct{})}

	// Mutex protects against shutdown race: must verify the dispatcher is
	// still running AND add to waitgroup atomically, otherwise Stop() might
	// wait on an incomplete count.
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		cancelExec()
		// Roll the claim back so a restart re-dispatches the task.
		if _, err := d.storage.MutateTask(ctx, id, func(t *Task) error {
			if t.Status == StatusRunning {
				t.Status = StatusPending
			}
			return nil
		}); err != nil {
			d.logger.ErrorContext(context.Background(), "cannot roll back claim during shutdown",
				slog.String("task_id", id.String()),
				slog.Any("error", err))
		}
		return false
	}
	d.wg.Add(1)
	d.running[id] = handle
	d.mu.Unlock()

	d.logger.DebugContext(ctx, "dispatching task",
		slog.String("task_id", claimed.ID.String()),
		slog.String("action", claimed.Action),
		slog.Int("priority", int(claimed.Priority)))

	go d.execute(execCtx, handle, action, claimed)

	return true
}

// execute runs the action on a worker slot and settles the outcome.
func (d *Dispatcher) execute(ctx context.Context, handle *taskHandle, action Action, task *Task) {
	start := time.Now()
	d.activeTasks.Add(1)

	defer func() {
		// Panic recovery ensures engine stability: a panicking action is a
		// retryable task failure, not a crashed process.
		if r := recover(); r != nil {
			d.logger.ErrorContext(context.Background(), "action panicked",
				slog.String("task_id", task.ID.String()),
				slog.String("action", task.Action),
				slog.Any("panic", r))
			d.settleFailure(task, fmt.Sprintf("panic in action: %v", r), time.Since(start))
		}

		handle.cancel()
		close(handle.done)
		d.activeTasks.Add(-1)
		d.mu.Lock()
		delete(d.running, handle.id)
		d.mu.Unlock()
		d.wg.Done()
		<-d.sem
	}()

	result, err := action.Execute(ctx, task.Params)
	duration := time.Since(start)

	switch {
	case err == nil:
		d.tasksCompleted.Add(1)
		if _, serr := d.completions.succeed(context.Background(), task.ID, result); serr != nil && !errors.Is(serr, errAlreadyTerminal) {
			d.logger.ErrorContext(context.Background(), "cannot record task success",
				slog.String("task_id", task.ID.String()),
				slog.Any("error", serr))
		}
		d.logger.InfoContext(context.Background(), "task completed successfully",
			slog.String("task_id", task.ID.String()),
			slog.String("action", task.Action),
			slog.Duration("duration", duration))

	case handle.cancelRequested.Load():
		// The action acknowledged the cooperative cancel.
		if _, serr := d.completions.finish(context.Background(), task.ID, StatusCancelled, "cancelled"); serr != nil && !errors.Is(serr, errAlreadyTerminal) {
			d.logger.ErrorContext(context.Background(), "cannot record task cancellation",
				slog.String("task_id", task.ID.String()),
				slog.Any("error", serr))
		}
		d.logger.InfoContext(context.Background(), "task cancelled",
			slog.String("task_id", task.ID.String()),
			slog.String("action", task.Action),
			slog.Duration("duration", duration))

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		d.settleFailure(task, "timeout", duration)

	default:
		d.settleFailure(task, err.Error(), duration)
	}
}

// settleFailure hands a failed execution to the retry engine and updates
// failure metrics.
func (d *Dispatcher) settleFailure(task *Task, execErr string, duration time.Duration) {
	d.logger.ErrorContext(context.Background(), "task failed",
		slog.String("task_id", task.ID.String()),
		slog.String("action", task.Action),
		slog.Int("retry_count", int(task.RetryCount)),
		slog.Int("max_retries", int(task.MaxRetries)),
		slog.Duration("duration", duration),
		slog.String("error", execErr))

	_, retried, err := d.completions.fail(context.Background(), task.ID, execErr)
	if err != nil {
		if !errors.Is(err, errAlreadyTerminal) {
			d.logger.ErrorContext(context.Background(), "cannot record task failure",
				slog.String("task_id", task.ID.String()),
				slog.Any("error", err))
		}
		return
	}

	if retried {
		d.tasksRetried.Add(1)
	} else {
		d.tasksFailed.Add(1)
	}
}

// Stats returns current dispatcher statistics for observability and monitoring.
// This method is thread-safe and can be called at any time.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.RLock()
	isRunning := d.cancel != nil
	d.mu.RUnlock()

	return DispatcherStats{
		TasksCompleted: d.tasksCompleted.Load(),
		TasksFailed:    d.tasksFailed.Load(),
		TasksRetried:   d.tasksRetried.Load(),
		ActiveTasks:    d.activeTasks.Load(),
		QueuedTasks:    d.queue.Len(),
		IsRunning:      isRunning,
	}
}

// Healthcheck validates that the dispatcher is operational and not overloaded.
// Returns nil if healthy, or an error describing the health issue.
//
// The returned error can be checked using errors.Is:
//
//	if errors.Is(err, autonomy.ErrDispatcherNotRunning) { ... }
//	if errors.Is(err, autonomy.ErrDispatcherOverloaded) { ... }
func (d *Dispatcher) Healthcheck(ctx context.Context) error {
	stats := d.Stats()

	if !stats.IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrDispatcherNotRunning)
	}

	maxConcurrent := int32(cap(d.sem))
	if stats.ActiveTasks >= maxConcurrent {
		return errors.Join(ErrHealthcheckFailed, ErrDispatcherOverloaded,
			fmt.Errorf("%d/%d slots busy", stats.ActiveTasks, maxConcurrent))
	}

	return nil
}
