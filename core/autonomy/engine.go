package autonomy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/autonomy/core/feedback"
)

// EngineStats aggregates statistics from every engine component.
type EngineStats struct {
	Dispatcher DispatcherStats    // Worker pool and ready queue counters
	Scheduler  SchedulerStats     // Calendar scheduler counters
	Storage    FileStorageStats   // Zero value when persistence is disabled
	Feedback   feedback.SinkStats // Zero value when no sink is attached
	IsRunning  bool               // Whether the engine is currently running
}

// Engine is the autonomy core's orchestrator. It wires the action registry,
// task storage, policy gate, dispatcher, calendar scheduler, and an optional
// feedback sink into one lifecycle, and exposes the submission surface for
// tasks, chains, and schedules.
type Engine struct {
	storage    Storage
	fileStore  *FileStorage // non-nil when storage is file-backed; the engine runs its autosave loop
	registry   *Registry
	gate       *PolicyGate
	dispatcher *Dispatcher
	scheduler  *Scheduler
	sink       *feedback.Sink
	logger     *slog.Logger

	defaultMaxRetries int8
	defaultRetryDelay time.Duration

	preload        []*Schedule
	dispatcherOpts []DispatcherOption
	schedulerOpts  []SchedulerOption

	mu             sync.Mutex
	cancel         context.CancelFunc
	eg             *errgroup.Group
	userCompletion CompletionFunc
}

// New creates an engine on the given storage. The built-in actions are
// registered at construction; callers add their own through RegisterAction
// before or after Start.
//
// Example usage:
//
//	storage := autonomy.NewMemoryStorage()
//	engine, err := autonomy.New(storage,
//	    autonomy.WithAutonomyLevel(autonomy.LevelFull),
//	    autonomy.WithDispatcherOptions(
//	        autonomy.WithMaxConcurrentTasks(10),
//	    ),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine.RegisterAction("echo", func(ctx context.Context, params map[string]any) (any, error) {
//	    return params["v"], nil
//	})
//
//	if err := engine.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	id, err := engine.CreateTask(context.Background(), "echo", map[string]any{"v": 42})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	task, err := engine.WaitForTask(context.Background(), id, 5*time.Second)
func New(storage Storage, opts ...EngineOption) (*Engine, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}

	e := &Engine{
		storage:           storage,
		registry:          NewRegistry(),
		gate:              NewPolicyGate(),
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaultMaxRetries: 3,
		defaultRetryDelay: 5 * time.Second,
	}
	if fs, ok := storage.(*FileStorage); ok {
		e.fileStore = fs
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply engine option: %w", err)
		}
	}

	for _, action := range builtinActions(e.logger) {
		if err := e.registry.Register(action); err != nil {
			return nil, err
		}
	}

	dispatcher, err := NewDispatcher(storage, e.registry, e.gate, e.dispatcherOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	e.dispatcher = dispatcher

	// The engine owns the dispatcher's completion slot so outcomes feed the
	// metrics aggregator; the caller's callback is forwarded afterwards.
	e.dispatcher.SetCompletionCallback(e.completeTask)

	scheduler, err := NewScheduler(storage, dispatcher, e.schedulerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	e.scheduler = scheduler

	return e, nil
}

// completeTask observes every terminal transition: COMPLETED and FAILED
// outcomes are recorded in the feedback metrics when a sink is attached,
// then the caller's completion callback runs.
func (e *Engine) completeTask(task *Task) {
	if e.sink != nil && task.Status != StatusCancelled {
		var duration time.Duration
		if task.StartedAt != nil && task.CompletedAt != nil {
			duration = task.CompletedAt.Sub(*task.StartedAt)
		}
		e.sink.Metrics().LogTaskCompletion(task.Action, task.Status == StatusCompleted, duration)
	}

	e.mu.Lock()
	fn := e.userCompletion
	e.mu.Unlock()
	if fn != nil {
		fn(task)
	}
}

// NewFromConfig creates an engine from configuration. Persistence selects
// between file-backed and in-memory storage; the remaining values map onto
// policy gate, dispatcher, and scheduler options. Additional options can
// override config values.
func NewFromConfig(cfg Config, opts ...EngineOption) (*Engine, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var storage Storage
	if cfg.Persistence {
		fs, err := NewFileStorage(cfg.StorageDir,
			WithSaveInterval(cfg.SaveInterval),
			WithFileStorageShutdownTimeout(cfg.ShutdownTimeout),
		)
		if err != nil {
			return nil, err
		}
		storage = fs
	} else {
		storage = NewMemoryStorage()
	}

	configOpts := []EngineOption{
		WithPolicyOptions(
			WithLevel(level),
			WithRestrictedActions(cfg.RestrictedActions...),
			WithSafetyChecksEnabled(cfg.EnableSafetyChecks),
			WithApprovalRequirements(cfg.RequireApprovalNew, cfg.RequireApprovalMod, cfg.RequireApprovalRisk),
		),
		WithDispatcherOptions(
			WithPollInterval(cfg.PollInterval),
			WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
			WithDispatcherShutdownTimeout(cfg.ShutdownTimeout),
		),
		WithSchedulerOptions(
			WithCheckInterval(cfg.CheckInterval),
			WithSchedulerShutdownTimeout(cfg.ShutdownTimeout),
			WithEmitMaxRetries(cfg.DefaultMaxRetries),
			WithEmitRetryDelay(cfg.DefaultRetryDelay),
		),
		WithDefaultMaxRetries(cfg.DefaultMaxRetries),
		WithDefaultRetryDelay(cfg.DefaultRetryDelay),
	}

	return New(storage, append(configOpts, opts...)...)
}

// Registry returns the action registry for direct registration.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Storage returns the underlying storage implementation.
func (e *Engine) Storage() Storage {
	return e.storage
}

// PolicyGate returns the policy gate for runtime adjustments.
func (e *Engine) PolicyGate() *PolicyGate {
	return e.gate
}

// Feedback returns the attached feedback sink, or nil when none is attached.
func (e *Engine) Feedback() *feedback.Sink {
	return e.sink
}

// RegisterAction registers a named action function.
// This is a convenience method equivalent to engine.Registry().RegisterFunc(name, fn, opts...).
func (e *Engine) RegisterAction(name string, fn ActionFunc, opts ...ActionOption) error {
	return e.registry.RegisterFunc(name, fn, opts...)
}

// Register registers a prebuilt action, such as one created with NewTypedAction.
func (e *Engine) Register(action Action) error {
	return e.registry.Register(action)
}

// Actions lists the registered actions sorted by name.
func (e *Engine) Actions() []ActionInfo {
	return e.registry.List()
}

// CreateTask validates and persists a new task, then admits it to the ready
// queue. The action must be registered, the parameters must match the schema
// the action declared, dependencies and parent must exist, and the dependency
// graph must stay acyclic. Returns the new task id.
func (e *Engine) CreateTask(ctx context.Context, action string, params map[string]any, opts ...TaskOption) (uuid.UUID, error) {
	registered, ok := e.registry.Get(action)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	options := e.defaultTaskOptions()
	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}
	if err := validateParams(registered.Describe(), params); err != nil {
		return uuid.Nil, err
	}
	for _, dep := range options.dependsOn {
		if _, err := e.storage.GetTask(ctx, dep); err != nil {
			return uuid.Nil, fmt.Errorf("dependency %s: %w", dep, err)
		}
	}
	if err := e.checkAcyclic(ctx, options.dependsOn); err != nil {
		return uuid.Nil, err
	}
	if options.parentID != nil {
		if _, err := e.storage.GetTask(ctx, *options.parentID); err != nil {
			return uuid.Nil, fmt.Errorf("parent task %s: %w", options.parentID, err)
		}
	}

	task := buildTask(action, params, options)
	if err := e.storage.CreateTask(ctx, task); err != nil {
		return uuid.Nil, err
	}

	if options.parentID != nil {
		if _, err := e.storage.MutateTask(ctx, *options.parentID, func(t *Task) error {
			if t.Status.IsTerminal() {
				return fmt.Errorf("parent task %s is %s", t.ID, t.Status)
			}
			t.SubtaskIDs = append(t.SubtaskIDs, task.ID)
			return nil
		}); err != nil {
			// The submission failed as a whole; remove the orphaned record.
			if derr := e.storage.DeleteTask(ctx, task.ID); derr != nil && !errors.Is(derr, ErrTaskNotFound) {
				e.logger.WarnContext(ctx, "cannot remove orphaned task",
					slog.String("task_id", task.ID.String()),
					slog.Any("error", derr))
			}
			return uuid.Nil, err
		}
	}

	e.dispatcher.Enqueue(task)

	e.logger.DebugContext(ctx, "task submitted",
		slog.String("task_id", task.ID.String()),
		slog.String("action", task.Action),
		slog.Int("priority", int(task.Priority)))

	return task.ID, nil
}

// CreateChain creates a parent task plus one subtask per step, each step
// depending on the previous one. The parent carries the chain coordinator
// action and completes through the subtask rollup; task options configure the
// parent. Returns the parent task id.
func (e *Engine) CreateChain(ctx context.Context, steps []ChainStep, opts ...TaskOption) (uuid.UUID, error) {
	if len(steps) == 0 {
		return uuid.Nil, fmt.Errorf("chain requires at least one step")
	}

	options := e.defaultTaskOptions()
	for _, opt := range opts {
		opt(options)
	}
	if !options.priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}

	// Validate every step up front so an invalid chain leaves no partial
	// state behind.
	for i, step := range steps {
		registered, ok := e.registry.Get(step.Action)
		if !ok {
			return uuid.Nil, fmt.Errorf("chain step %d: %w: %s", i, ErrUnknownAction, step.Action)
		}
		if p := step.Priority; p != 0 && !p.Valid() {
			return uuid.Nil, fmt.Errorf("chain step %d: %w", i, ErrInvalidPriority)
		}
		if err := validateParams(registered.Describe(), step.Params); err != nil {
			return uuid.Nil, fmt.Errorf("chain step %d: %w", i, err)
		}
	}

	// Subtasks are written first and enqueued last, so the rollup always
	// observes the complete chain.
	parentID := uuid.New()
	now := time.Now()

	subtaskIDs := make([]uuid.UUID, 0, len(steps))
	var first *Task
	for i, step := range steps {
		task := e.buildStep(step, now)
		task.ParentID = &parentID
		if i > 0 {
			task.DependsOn = []uuid.UUID{subtaskIDs[i-1]}
		}
		if err := e.storage.CreateTask(ctx, task); err != nil {
			e.unwindChain(ctx, subtaskIDs)
			return uuid.Nil, fmt.Errorf("create chain step %d: %w", i, err)
		}
		subtaskIDs = append(subtaskIDs, task.ID)
		if first == nil {
			first = task
		}
	}

	parent := buildTask(ActionChainCoordinator, nil, options)
	parent.ID = parentID
	parent.CreatedAt = now
	parent.MaxRetries = 0
	parent.RetryDelay = 0
	parent.SubtaskIDs = subtaskIDs
	if err := e.storage.CreateTask(ctx, parent); err != nil {
		e.unwindChain(ctx, subtaskIDs)
		return uuid.Nil, fmt.Errorf("create chain parent: %w", err)
	}

	// Only the first step is runnable now; the rest are admitted as their
	// predecessors complete.
	e.dispatcher.Enqueue(first)

	e.logger.InfoContext(ctx, "task chain created",
		slog.String("parent_id", parentID.String()),
		slog.Int("steps", len(steps)))

	return parentID, nil
}

// buildStep constructs one chain subtask, applying the engine defaults for
// unset step fields.
func (e *Engine) buildStep(step ChainStep, now time.Time) *Task {
	name := step.Name
	if name == "" {
		name = step.Action
	}
	priority := step.Priority
	if priority == 0 {
		priority = PriorityDefault
	}
	retries := step.MaxRetries
	switch {
	case retries == 0:
		retries = e.defaultMaxRetries
	case retries < 0:
		retries = 0
	}
	delay := step.RetryDelay
	if delay == 0 {
		delay = e.defaultRetryDelay
	}

	return &Task{
		ID:          uuid.New(),
		Name:        name,
		Description: step.Description,
		Action:      step.Action,
		Params:      step.Params,
		Priority:    priority,
		MaxRetries:  retries,
		RetryDelay:  delay,
		Timeout:     step.Timeout,
		CreatedAt:   now,
		Status:      StatusPending,
		Metadata:    step.Metadata,
	}
}

// unwindChain removes partially created chain records after a failed
// submission.
func (e *Engine) unwindChain(ctx context.Context, ids []uuid.UUID) {
	for _, id := range ids {
		if err := e.storage.DeleteTask(ctx, id); err != nil && !errors.Is(err, ErrTaskNotFound) {
			e.logger.WarnContext(ctx, "cannot unwind chain task",
				slog.String("task_id", id.String()),
				slog.Any("error", err))
		}
	}
}

// GetTask returns a copy of the task.
func (e *Engine) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	return e.storage.GetTask(ctx, id)
}

// ListTasks returns copies of the tasks matching the filter, ordered by
// creation time.
func (e *Engine) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	return e.storage.ListTasks(ctx, filter)
}

// CancelTask cancels a task and all of its subtasks. Returns false when the
// task is already in a terminal state.
func (e *Engine) CancelTask(ctx context.Context, id uuid.UUID) (bool, error) {
	return e.dispatcher.Cancel(ctx, id)
}

// WaitForTask blocks until the task reaches a terminal state, the timeout
// elapses (zero means no timeout), or the context is cancelled.
func (e *Engine) WaitForTask(ctx context.Context, id uuid.UUID, timeout time.Duration) (*Task, error) {
	return e.dispatcher.WaitForTask(ctx, id, timeout)
}

// PauseTask holds a PENDING task back from dispatch until ResumeTask.
func (e *Engine) PauseTask(ctx context.Context, id uuid.UUID) error {
	_, err := e.storage.MutateTask(ctx, id, func(t *Task) error {
		if t.Status != StatusPending {
			return fmt.Errorf("task %s is %s, only pending tasks can be paused", t.ID, t.Status)
		}
		t.Status = StatusPaused
		return nil
	})
	return err
}

// ResumeTask returns a paused task to PENDING and re-admits it to the ready
// queue.
func (e *Engine) ResumeTask(ctx context.Context, id uuid.UUID) error {
	task, err := e.storage.MutateTask(ctx, id, func(t *Task) error {
		if t.Status != StatusPaused {
			return fmt.Errorf("task %s is %s, only paused tasks can be resumed", t.ID, t.Status)
		}
		t.Status = StatusPending
		return nil
	})
	if err != nil {
		return err
	}
	e.dispatcher.Enqueue(task)
	return nil
}

// PurgeTasks deletes terminal tasks whose completion is older than the given
// age. Non-terminal tasks are never touched. Returns the number of tasks
// removed.
func (e *Engine) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	tasks, err := e.storage.ListTasks(ctx, TaskFilter{
		Statuses: []Status{StatusCompleted, StatusFailed, StatusCancelled},
	})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, task := range tasks {
		if task.CompletedAt == nil || task.CompletedAt.After(cutoff) {
			continue
		}
		if err := e.storage.DeleteTask(ctx, task.ID); err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				continue
			}
			return purged, err
		}
		purged++
	}

	if purged > 0 {
		e.logger.InfoContext(ctx, "purged terminal tasks",
			slog.Int("purged", purged))
	}

	return purged, nil
}

// CreateSchedule validates and persists a recurring schedule and arms its
// next occurrence. Schedules are created enabled; use DisableSchedule to
// pause one. The id is generated unless the caller supplies one, which makes
// preloaded schedules idempotent across restarts. Returns the schedule id.
func (e *Engine) CreateSchedule(ctx context.Context, schedule *Schedule) (uuid.UUID, error) {
	if schedule == nil {
		return uuid.Nil, errors.New("schedule cannot be nil")
	}
	if !e.registry.Has(schedule.Action) {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownAction, schedule.Action)
	}
	if err := schedule.Validate(); err != nil {
		return uuid.Nil, err
	}

	sch := schedule.Clone()
	if sch.ID == uuid.Nil {
		sch.ID = uuid.New()
	}
	if sch.Name == "" {
		sch.Name = sch.Action
	}
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = time.Now()
	}
	sch.Enabled = true

	if err := e.storage.CreateSchedule(ctx, sch); err != nil {
		return uuid.Nil, err
	}
	if err := e.scheduler.Reschedule(ctx, sch.ID); err != nil {
		e.logger.WarnContext(ctx, "cannot arm schedule",
			slog.String("schedule_id", sch.ID.String()),
			slog.Any("error", err))
	}

	e.logger.InfoContext(ctx, "schedule created",
		slog.String("schedule_id", sch.ID.String()),
		slog.String("action", sch.Action),
		slog.String("schedule", sch.String()))

	return sch.ID, nil
}

// EnableSchedule re-enables a disabled schedule and arms its next occurrence.
func (e *Engine) EnableSchedule(ctx context.Context, id uuid.UUID) error {
	schedule, err := e.storage.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if schedule.Enabled {
		return nil
	}

	schedule.Enabled = true
	if err := e.storage.UpdateSchedule(ctx, schedule); err != nil {
		return err
	}
	return e.scheduler.Reschedule(ctx, id)
}

// DisableSchedule stops a schedule from firing until re-enabled.
func (e *Engine) DisableSchedule(ctx context.Context, id uuid.UUID) error {
	schedule, err := e.storage.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if !schedule.Enabled {
		return nil
	}

	schedule.Enabled = false
	schedule.NextRun = nil
	return e.storage.UpdateSchedule(ctx, schedule)
}

// DeleteSchedule removes a schedule permanently. Tasks it already emitted are
// unaffected.
func (e *Engine) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return e.storage.DeleteSchedule(ctx, id)
}

// RunScheduleNow fires a schedule immediately, outside its calendar. The run
// counts against the schedule's run budget. Returns the emitted task.
func (e *Engine) RunScheduleNow(ctx context.Context, id uuid.UUID) (*Task, error) {
	return e.scheduler.RunNow(ctx, id)
}

// ListSchedules returns copies of the schedules matching the filter.
func (e *Engine) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	return e.storage.ListSchedules(ctx, filter)
}

// AddFeedback appends a feedback entry to the attached sink.
// Returns ErrFeedbackDisabled when no sink is attached.
func (e *Engine) AddFeedback(ctx context.Context, kind feedback.Kind, content any, opts ...feedback.EntryOption) (uuid.UUID, error) {
	if e.sink == nil {
		return uuid.Nil, ErrFeedbackDisabled
	}
	return e.sink.Add(ctx, kind, content, opts...)
}

// FeedbackSummary returns the rolling aggregate for a feedback target.
// Returns ErrFeedbackDisabled when no sink is attached.
func (e *Engine) FeedbackSummary(targetID string) (*feedback.Summary, error) {
	if e.sink == nil {
		return nil, ErrFeedbackDisabled
	}
	return e.sink.Summary(targetID)
}

// ListFeedback returns the feedback entries matching the filter.
// Returns ErrFeedbackDisabled when no sink is attached.
func (e *Engine) ListFeedback(filter feedback.Filter) ([]feedback.Entry, error) {
	if e.sink == nil {
		return nil, ErrFeedbackDisabled
	}
	return e.sink.List(filter), nil
}

// Level returns the current autonomy level.
func (e *Engine) Level() Level {
	return e.gate.Level()
}

// SetLevel changes the autonomy level at runtime.
func (e *Engine) SetLevel(level Level) error {
	return e.gate.SetLevel(level)
}

// SetApprovalCallback installs the callback consulted when the policy gate
// requires approval.
func (e *Engine) SetApprovalCallback(fn ApprovalFunc) {
	e.gate.SetApproval(fn)
}

// AddSafetyCheck appends a predicate to the safety check chain.
func (e *Engine) AddSafetyCheck(check SafetyCheck) {
	e.gate.AddSafetyCheck(check)
}

// SetCompletionCallback installs the external callback fired after each
// terminal transition. Callback panics are recovered and logged.
func (e *Engine) SetCompletionCallback(fn CompletionFunc) {
	e.mu.Lock()
	e.userCompletion = fn
	e.mu.Unlock()
}

// Start launches the engine components and returns. Preloaded schedules are
// created first, then the dispatcher, scheduler, storage autosave, and
// feedback sink begin on goroutines bound to the given context. Use Stop for
// a graceful, ordered shutdown, or Run to block instead.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(runCtx)
	e.cancel = cancel
	e.eg = eg
	e.mu.Unlock()

	for _, schedule := range e.preload {
		if err := e.preloadSchedule(runCtx, schedule); err != nil {
			e.logger.WarnContext(runCtx, "cannot preload schedule",
				slog.String("schedule", schedule.Name),
				slog.Any("error", err))
		}
	}

	if e.fileStore != nil {
		eg.Go(runComponent(egCtx, "storage autosave", e.fileStore.Start))
	}
	if e.sink != nil {
		eg.Go(runComponent(egCtx, "feedback sink", e.sink.Start))
	}
	eg.Go(runComponent(egCtx, "dispatcher", e.dispatcher.Start))
	eg.Go(runComponent(egCtx, "scheduler", e.scheduler.Start))

	e.logger.InfoContext(runCtx, "autonomy engine started",
		slog.String("level", string(e.gate.Level())),
		slog.Int("actions", e.registry.Len()),
		slog.Bool("persistence", e.fileStore != nil))

	return nil
}

// runComponent adapts a blocking component Start for the engine's errgroup,
// treating context cancellation as a clean exit.
func runComponent(ctx context.Context, name string, start func(context.Context) error) func() error {
	return func() error {
		err := start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

// preloadSchedule creates one configured schedule, tolerating schedules that
// already exist from an earlier run.
func (e *Engine) preloadSchedule(ctx context.Context, schedule *Schedule) error {
	if _, err := e.CreateSchedule(ctx, schedule); err != nil {
		if errors.Is(err, ErrScheduleExists) {
			e.logger.DebugContext(ctx, "preloaded schedule already exists",
				slog.String("schedule_id", schedule.ID.String()))
			return nil
		}
		return err
	}
	return nil
}

// Stop shuts the engine down in dependency order: the scheduler stops
// emitting first, the dispatcher drains in-flight tasks, and storage flushes
// last so final settlements reach disk.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return fmt.Errorf("engine not started")
	}
	cancel := e.cancel
	eg := e.eg
	e.cancel = nil
	e.eg = nil
	e.mu.Unlock()

	ctx := context.Background()
	e.logger.InfoContext(ctx, "stopping autonomy engine")

	var errs []error
	if err := e.scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := e.dispatcher.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
	}
	if e.sink != nil {
		if err := e.sink.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop feedback sink: %w", err))
		}
	}
	if e.fileStore != nil {
		if err := e.fileStore.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop storage autosave: %w", err))
		}
	}

	cancel()
	if err := eg.Wait(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		e.logger.ErrorContext(ctx, "engine stopped with errors",
			slog.Any("error", err))
		return err
	}

	e.logger.InfoContext(ctx, "autonomy engine stopped")
	return nil
}

// Run starts the engine and blocks until the context is cancelled or a
// component fails, then performs the same graceful shutdown as Stop.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	eg := e.eg
	e.mu.Unlock()
	if eg == nil {
		return nil // stopped before we could observe it
	}

	failed := make(chan error, 1)
	go func() { failed <- eg.Wait() }()

	select {
	case <-ctx.Done():
		return e.Stop()
	case err := <-failed:
		// A component exited on its own; stop the rest and surface the cause.
		if stopErr := e.Stop(); err == nil {
			err = stopErr
		}
		return err
	}
}

// Stats returns aggregated statistics from all engine components.
// This method is thread-safe and can be called at any time.
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{
		Dispatcher: e.dispatcher.Stats(),
		Scheduler:  e.scheduler.Stats(),
		IsRunning:  e.isRunning(),
	}
	if e.fileStore != nil {
		stats.Storage = e.fileStore.Stats()
	}
	if e.sink != nil {
		stats.Feedback = e.sink.Stats()
	}
	return stats
}

// Healthcheck validates that the engine and all of its components are
// operational. Returns nil if healthy, or an error describing the first
// health issue found.
//
// The returned error can be checked using errors.Is:
//
//	if errors.Is(err, autonomy.ErrEngineNotRunning) { ... }
func (e *Engine) Healthcheck(ctx context.Context) error {
	if !e.isRunning() {
		return errors.Join(ErrHealthcheckFailed, ErrEngineNotRunning)
	}
	if err := e.dispatcher.Healthcheck(ctx); err != nil {
		return err
	}
	if err := e.scheduler.Healthcheck(ctx); err != nil {
		return err
	}
	if e.fileStore != nil {
		if err := e.fileStore.Healthcheck(ctx); err != nil {
			return err
		}
	}
	if e.sink != nil {
		if err := e.sink.Healthcheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// buildTask constructs a task record from validated submission inputs.
func buildTask(action string, params map[string]any, options *taskOptions) *Task {
	name := options.name
	if name == "" {
		name = action
	}

	task := &Task{
		ID:          uuid.New(),
		Name:        name,
		Description: options.description,
		Action:      action,
		Params:      params,
		Priority:    options.priority,
		MaxRetries:  options.maxRetries,
		RetryDelay:  options.retryDelay,
		Timeout:     options.timeout,
		CreatedAt:   time.Now(),
		Status:      StatusPending,
		Metadata:    options.metadata,
	}
	if len(options.dependsOn) > 0 {
		task.DependsOn = append([]uuid.UUID(nil), options.dependsOn...)
	}
	if options.scheduledAt != nil {
		at := *options.scheduledAt
		task.ScheduledAt = &at
	}
	if options.parentID != nil {
		id := *options.parentID
		task.ParentID = &id
	}
	return task
}

// validateParams enforces the parameter schema an action declared at
// registration. Actions registered without a schema accept any parameters.
func validateParams(info ActionInfo, params map[string]any) error {
	if len(info.Params) == 0 {
		return nil
	}
	for name := range params {
		if _, ok := info.Params[name]; !ok {
			return fmt.Errorf("%w: unknown parameter %q for action %q", ErrInvalidParams, name, info.Name)
		}
	}
	for name := range info.Params {
		if _, ok := params[name]; !ok {
			return fmt.Errorf("%w: missing parameter %q for action %q", ErrInvalidParams, name, info.Name)
		}
	}
	return nil
}

// checkAcyclic refuses submissions that would build on a cyclic dependency
// graph. New tasks cannot introduce cycles themselves (their dependencies
// must already exist), but persisted files can be edited by hand, so the
// reachable graph is verified before accepting work that depends on it.
func (e *Engine) checkAcyclic(ctx context.Context, deps []uuid.UUID) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[uuid.UUID]int)

	var visit func(id uuid.UUID) error
	visit = func(id uuid.UUID) error {
		switch state[id] {
		case visiting:
			return ErrCyclicDependency
		case done:
			return nil
		}
		state[id] = visiting

		task, err := e.storage.GetTask(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				// Dangling references cannot close a cycle.
				state[id] = done
				return nil
			}
			return err
		}
		for _, dep := range task.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}

		state[id] = done
		return nil
	}

	for _, dep := range deps {
		if err := visit(dep); err != nil {
			return err
		}
	}
	return nil
}
