package autonomy

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskEnqueuer admits freshly emitted tasks to the dispatch queue.
// *Dispatcher satisfies this interface.
type TaskEnqueuer interface {
	Enqueue(task *Task)
}

// SchedulerStats provides observability metrics for monitoring and debugging
type SchedulerStats struct {
	TasksEmitted   int64 // Total number of tasks created from fired schedules
	ComputeErrors  int64 // Total number of next-run computation failures
	ArmedSchedules int   // Entries in the schedule heap, including stale ones
	ActiveChecks   int32 // Number of check operations currently running
	IsRunning      bool  // Whether the scheduler is currently running
}

// scheduleEntry is an armed (next_run, schedule id) pair in the timer heap.
type scheduleEntry struct {
	at  time.Time
	seq uint64
	id  uuid.UUID
}

// scheduleHeap implements heap.Interface ordered by fire time, then
// insertion order.
type scheduleHeap []scheduleEntry

func (h scheduleHeap) Len() int { return len(h) }

func (h scheduleHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}

func (h scheduleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scheduleHeap) Push(x any) {
	*h = append(*h, x.(scheduleEntry))
}

func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]

	return entry
}

// Scheduler walks a min-heap of armed schedules on a fixed tick, emitting a
// new task for every schedule whose next run has arrived and re-arming it
// until exhausted. Schedules live in storage; the heap is an in-memory index
// rebuilt on Start and maintained through Reschedule.
type Scheduler struct {
	storage  Storage
	enqueuer TaskEnqueuer

	heapMu  sync.Mutex
	entries scheduleHeap
	seq     uint64

	// Configuration
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	emitMaxRetries  int8
	emitRetryDelay  time.Duration
	logger          *slog.Logger

	// State management
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	// Observability metrics
	tasksEmitted  atomic.Int64
	computeErrors atomic.Int64
	activeChecks  atomic.Int32
}

// NewScheduler creates a calendar scheduler backed by the given storage.
// The enqueuer receives every emitted task; a nil enqueuer leaves emitted
// tasks in storage for the next dispatcher rebuild.
func NewScheduler(storage Storage, enqueuer TaskEnqueuer, opts ...SchedulerOption) (*Scheduler, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}

	options := defaultSchedulerOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		storage:         storage,
		enqueuer:        enqueuer,
		checkInterval:   options.checkInterval,
		shutdownTimeout: options.shutdownTimeout,
		emitMaxRetries:  options.emitMaxRetries,
		emitRetryDelay:  options.emitRetryDelay,
		logger:          options.logger,
	}, nil
}

// NewSchedulerFromConfig creates a Scheduler from configuration.
// Additional options can override config values.
func NewSchedulerFromConfig(cfg Config, storage Storage, enqueuer TaskEnqueuer, opts ...SchedulerOption) (*Scheduler, error) {
	allOpts := append([]SchedulerOption{
		WithCheckInterval(cfg.CheckInterval),
		WithSchedulerShutdownTimeout(cfg.ShutdownTimeout),
		WithEmitMaxRetries(cfg.DefaultMaxRetries),
		WithEmitRetryDelay(cfg.DefaultRetryDelay),
	}, opts...)

	return NewScheduler(storage, enqueuer, allOpts...)
}

// Reschedule recomputes and arms the next occurrence of a schedule. Call
// after creating or re-enabling a schedule; disabled, exhausted, and
// uncomputable schedules are left unarmed. Stale heap entries from earlier
// arms are discarded at fire time.
func (s *Scheduler) Reschedule(ctx context.Context, id uuid.UUID) error {
	schedule, err := s.storage.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if !schedule.Enabled || schedule.Exhausted() {
		return nil
	}

	now := time.Now()
	next, err := schedule.NextOccurrence(now)
	if err != nil {
		schedule.NextRun = nil
		if uerr := s.storage.UpdateSchedule(ctx, schedule); uerr != nil {
			return uerr
		}
		if errors.Is(err, ErrScheduleExhausted) {
			s.logger.InfoContext(ctx, "schedule exhausted",
				slog.String("schedule_id", id.String()),
				slog.String("schedule", schedule.String()))
			return nil
		}
		// Malformed schedules stay in storage until corrected.
		s.computeErrors.Add(1)
		s.logger.ErrorContext(ctx, "schedule yields no next run",
			slog.String("schedule_id", id.String()),
			slog.String("schedule", schedule.String()),
			slog.Any("error", err))
		return nil
	}

	schedule.NextRun = &next
	if err := s.storage.UpdateSchedule(ctx, schedule); err != nil {
		return err
	}
	s.push(id, next)

	s.logger.DebugContext(ctx, "schedule armed",
		slog.String("schedule_id", id.String()),
		slog.Time("next_run", next))

	return nil
}

// RunNow fires a schedule immediately, outside its calendar. The run counts
// against the run budget and advances last_run and next_run exactly like a
// timer fire. Works on disabled schedules.
func (s *Scheduler) RunNow(ctx context.Context, id uuid.UUID) (*Task, error) {
	schedule, err := s.storage.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	task, err := s.emit(ctx, schedule)
	if err != nil {
		return nil, err
	}

	return task, nil
}

// Start arms all enabled schedules from storage and begins the tick loop.
// This is a blocking operation that runs until the context is cancelled.
// Use Run() for errgroup pattern or call this in a goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.running.Store(true)

	armed := s.arm(s.ctx)

	s.logger.InfoContext(s.ctx, "scheduler started",
		slog.Int("armed", armed),
		slog.Duration("check_interval", s.checkInterval))

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.checkWithWait()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.InfoContext(context.Background(), "scheduler stopping")
			s.running.Store(false)
			return s.ctx.Err()
		case <-ticker.C:
			s.checkWithWait()
		}
	}
}

// Stop gracefully shuts down the scheduler with a timeout.
// Returns an error if the shutdown timeout is exceeded.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not started")
	}

	s.running.Store(false)

	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	s.logger.InfoContext(context.Background(), "scheduler stopping, waiting for active checks to complete",
		slog.Duration("timeout", s.shutdownTimeout))

	ctx, ctxCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.InfoContext(context.Background(), "scheduler stopped cleanly")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(context.Background(), "scheduler shutdown timeout exceeded - some checks may be abandoned",
			slog.Duration("timeout", s.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the scheduler, monitors context cancellation,
// and performs graceful shutdown when the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = s.Stop() // Ignore stop error in normal shutdown
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

// arm loads enabled schedules from storage into the heap. Schedules with a
// stored next_run keep it (a next_run in the past fires on the first check);
// the rest are computed fresh.
func (s *Scheduler) arm(ctx context.Context) int {
	enabled := true
	schedules, err := s.storage.ListSchedules(ctx, ScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.ErrorContext(ctx, "cannot load schedules",
			slog.Any("error", err))
		return 0
	}

	armed := 0
	for _, schedule := range schedules {
		if schedule.Exhausted() {
			continue
		}
		if schedule.NextRun != nil {
			s.push(schedule.ID, *schedule.NextRun)
			armed++
			continue
		}
		if err := s.Reschedule(ctx, schedule.ID); err != nil {
			s.logger.ErrorContext(ctx, "cannot arm schedule",
				slog.String("schedule_id", schedule.ID.String()),
				slog.Any("error", err))
			continue
		}
		armed++
	}

	return armed
}

// checkWithWait is a wrapper around check that tracks the operation with WaitGroup
func (s *Scheduler) checkWithWait() {
	// Mutex protects against shutdown race: Must verify scheduler is still running
	// AND add to waitgroup atomically, otherwise Stop() might wait on incomplete count
	s.mu.RLock()
	if s.cancel == nil {
		s.mu.RUnlock()
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	defer s.wg.Done()

	s.activeChecks.Add(1)
	defer s.activeChecks.Add(-1)

	// Use context.Background() to avoid issues during shutdown when s.ctx is cancelled
	s.check(context.Background())
}

// check drains every heap entry whose fire time has arrived.
func (s *Scheduler) check(ctx context.Context) {
	now := time.Now()
	for {
		entry, ok := s.popDue(now)
		if !ok {
			return
		}
		s.fire(ctx, entry)
	}
}

// fire verifies an entry is still current and emits its task. Entries whose
// schedule was disabled, deleted, exhausted, or re-armed since they were
// pushed are discarded.
func (s *Scheduler) fire(ctx context.Context, entry scheduleEntry) {
	schedule, err := s.storage.GetSchedule(ctx, entry.id)
	if err != nil {
		return // deleted since it was armed
	}
	if !schedule.Enabled || schedule.Exhausted() {
		return
	}
	if schedule.NextRun == nil || !schedule.NextRun.Equal(entry.at) {
		return // stale entry from an earlier arm
	}

	if _, err := s.emit(ctx, schedule); err != nil {
		s.logger.ErrorContext(ctx, "cannot emit scheduled task",
			slog.String("schedule_id", schedule.ID.String()),
			slog.String("action", schedule.Action),
			slog.Any("error", err))
		// Leave next_run as-is so the next check retries the fire.
	}
}

// emit creates a task from the schedule template, hands it to the enqueuer,
// and advances the schedule's bookkeeping: last_run, run_count, next_run.
// The task metadata records the emitting schedule and the pre-increment run
// count.
func (s *Scheduler) emit(ctx context.Context, schedule *Schedule) (*Task, error) {
	now := time.Now()

	params := make(map[string]any, len(schedule.Params))
	for k, v := range schedule.Params {
		params[k] = v
	}

	task := &Task{
		ID:         uuid.New(),
		Name:       schedule.Name,
		Action:     schedule.Action,
		Params:     params,
		Priority:   PriorityMedium,
		MaxRetries: s.emitMaxRetries,
		RetryDelay: s.emitRetryDelay,
		CreatedAt:  now,
		Status:     StatusPending,
		Metadata: map[string]any{
			"scheduled":     true,
			"schedule_id":   schedule.ID.String(),
			"schedule_kind": string(schedule.Kind),
			"run_count":     schedule.RunCount,
		},
	}

	if err := s.storage.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create scheduled task: %w", err)
	}
	if s.enqueuer != nil {
		s.enqueuer.Enqueue(task)
	}
	s.tasksEmitted.Add(1)

	schedule.LastRun = &now
	schedule.RunCount++

	next, err := schedule.NextOccurrence(now)
	switch {
	case errors.Is(err, ErrScheduleExhausted):
		schedule.NextRun = nil
		s.logger.InfoContext(ctx, "schedule exhausted",
			slog.String("schedule_id", schedule.ID.String()),
			slog.String("schedule", schedule.String()))
	case err != nil:
		schedule.NextRun = nil
		s.computeErrors.Add(1)
		s.logger.ErrorContext(ctx, "schedule yields no next run",
			slog.String("schedule_id", schedule.ID.String()),
			slog.String("schedule", schedule.String()),
			slog.Any("error", err))
	default:
		schedule.NextRun = &next
		s.push(schedule.ID, next)
	}

	if err := s.storage.UpdateSchedule(ctx, schedule); err != nil {
		s.logger.ErrorContext(ctx, "cannot update schedule bookkeeping",
			slog.String("schedule_id", schedule.ID.String()),
			slog.Any("error", err))
	}

	s.logger.InfoContext(ctx, "scheduled task emitted",
		slog.String("schedule_id", schedule.ID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("action", task.Action),
		slog.Int("run_count", schedule.RunCount))

	return task, nil
}

func (s *Scheduler) push(id uuid.UUID, at time.Time) {
	s.heapMu.Lock()
	defer s.heapMu.Unlock()

	s.seq++
	heap.Push(&s.entries, scheduleEntry{at: at, seq: s.seq, id: id})
}

// popDue removes and returns the earliest entry whose fire time is at or
// before now.
func (s *Scheduler) popDue(now time.Time) (scheduleEntry, bool) {
	s.heapMu.Lock()
	defer s.heapMu.Unlock()

	if s.entries.Len() == 0 || s.entries[0].at.After(now) {
		return scheduleEntry{}, false
	}

	return heap.Pop(&s.entries).(scheduleEntry), true
}

// Stats returns current scheduler statistics for observability and monitoring.
// This method is thread-safe and can be called at any time.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.RLock()
	isRunning := s.cancel != nil
	s.mu.RUnlock()

	s.heapMu.Lock()
	armed := s.entries.Len()
	s.heapMu.Unlock()

	return SchedulerStats{
		TasksEmitted:   s.tasksEmitted.Load(),
		ComputeErrors:  s.computeErrors.Load(),
		ArmedSchedules: armed,
		ActiveChecks:   s.activeChecks.Load(),
		IsRunning:      isRunning,
	}
}

// Healthcheck validates that the scheduler is operational.
// Returns nil if healthy, or an error describing the health issue.
//
// The returned error can be checked using errors.Is:
//
//	if errors.Is(err, autonomy.ErrSchedulerNotRunning) { ... }
func (s *Scheduler) Healthcheck(ctx context.Context) error {
	stats := s.Stats()

	if !stats.IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrSchedulerNotRunning)
	}

	return nil
}
