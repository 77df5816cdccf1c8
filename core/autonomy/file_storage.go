package autonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// FileStorageStats provides observability metrics for monitoring and debugging
type FileStorageStats struct {
	Tasks        int   // Current number of tasks in storage
	Schedules    int   // Current number of schedules in storage
	Saves        int64 // Total successful snapshot writes
	SaveFailures int64 // Total failed snapshot writes
	Dirty        bool  // Whether unsaved mutations exist
	IsRunning    bool  // Whether the autosave loop is running
}

// FileStorage implements the Storage interface backed by JSON snapshots on
// disk. The in-memory state is the source of truth during a run; snapshots
// are written atomically (write-temp-then-rename) by an autosave loop and on
// demand via Flush. A single process instance assumes exclusive ownership of
// the storage directory.
//
// Layout under the storage directory:
//
//	tasks/tasks.json         {"tasks": {id: task, ...}, "timestamp": n}
//	schedules/schedules.json {"schedules": {id: schedule, ...}, "timestamp": n}
type FileStorage struct {
	mem *MemoryStorage
	dir string

	// Configuration
	saveInterval    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// State management
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	// Observability metrics
	dirty        atomic.Bool
	saves        atomic.Int64
	saveFailures atomic.Int64
}

// FileStorageOption configures a FileStorage.
type FileStorageOption func(*FileStorage)

// WithSaveInterval sets the autosave tick interval.
func WithSaveInterval(interval time.Duration) FileStorageOption {
	return func(fs *FileStorage) {
		if interval > 0 {
			fs.saveInterval = interval
		}
	}
}

// WithFileStorageShutdownTimeout sets the graceful shutdown timeout.
func WithFileStorageShutdownTimeout(timeout time.Duration) FileStorageOption {
	return func(fs *FileStorage) {
		if timeout > 0 {
			fs.shutdownTimeout = timeout
		}
	}
}

// WithFileStorageLogger sets the logger for internal operations.
func WithFileStorageLogger(logger *slog.Logger) FileStorageOption {
	return func(fs *FileStorage) {
		if logger != nil {
			fs.logger = logger
		}
	}
}

// NewFileStorage creates a file-backed storage rooted at dir and loads any
// persisted state. Tasks recorded as RUNNING by a previous process are
// coerced back to PENDING; corrupt records are logged and skipped; a corrupt
// file as a whole yields an empty store. Call Start() to begin the autosave
// loop.
func NewFileStorage(dir string, opts ...FileStorageOption) (*FileStorage, error) {
	if dir == "" {
		return nil, errors.New("storage directory cannot be empty")
	}

	fs := &FileStorage{
		mem:             NewMemoryStorage(),
		dir:             dir,
		saveInterval:    30 * time.Second,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(fs)
	}

	fs.load()

	return fs, nil
}

func (fs *FileStorage) tasksPath() string {
	return filepath.Join(fs.dir, "tasks", "tasks.json")
}

func (fs *FileStorage) schedulesPath() string {
	return filepath.Join(fs.dir, "schedules", "schedules.json")
}

// CreateTask stores a new task and marks the snapshot dirty.
func (fs *FileStorage) CreateTask(ctx context.Context, task *Task) error {
	if err := fs.mem.CreateTask(ctx, task); err != nil {
		return err
	}
	fs.dirty.Store(true)

	return nil
}

// GetTask returns the task with the given id.
func (fs *FileStorage) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	return fs.mem.GetTask(ctx, id)
}

// UpdateTask replaces the stored task and marks the snapshot dirty.
func (fs *FileStorage) UpdateTask(ctx context.Context, task *Task) error {
	if err := fs.mem.UpdateTask(ctx, task); err != nil {
		return err
	}
	fs.dirty.Store(true)

	return nil
}

// MutateTask applies fn to the stored task atomically and marks the snapshot
// dirty on success.
func (fs *FileStorage) MutateTask(ctx context.Context, id uuid.UUID, fn func(task *Task) error) (*Task, error) {
	task, err := fs.mem.MutateTask(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	fs.dirty.Store(true)

	return task, nil
}

// DeleteTask removes the task and marks the snapshot dirty.
func (fs *FileStorage) DeleteTask(ctx context.Context, id uuid.UUID) error {
	if err := fs.mem.DeleteTask(ctx, id); err != nil {
		return err
	}
	fs.dirty.Store(true)

	return nil
}

// ListTasks returns tasks matching the filter, oldest first.
func (fs *FileStorage) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	return fs.mem.ListTasks(ctx, filter)
}

// CreateSchedule stores a new schedule and marks the snapshot dirty.
func (fs *FileStorage) CreateSchedule(ctx context.Context, schedule *Schedule) error {
	if err := fs.mem.CreateSchedule(ctx, schedule); err != nil {
		return err
	}
	fs.dirty.Store(true)

	return nil
}

// GetSchedule returns the schedule with the given id.
func (fs *FileStorage) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return fs.mem.GetSchedule(ctx, id)
}

// UpdateSchedule replaces the stored schedule and marks the snapshot dirty.
func (fs *FileStorage) UpdateSchedule(ctx context.Context, schedule *Schedule) error {
	if err := fs.mem.UpdateSchedule(ctx, schedule); err != nil {
		return err
	}
	fs.dirty.Store(true)

	return nil
}

// DeleteSchedule removes the schedule and marks the snapshot dirty.
func (fs *FileStorage) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	if err := fs.mem.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	fs.dirty.Store(true)

	return nil
}

// ListSchedules returns schedules matching the filter, oldest first.
func (fs *FileStorage) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	return fs.mem.ListSchedules(ctx, filter)
}

// Flush writes a snapshot to disk if unsaved mutations exist.
func (fs *FileStorage) Flush(ctx context.Context) error {
	if !fs.dirty.Swap(false) {
		return nil
	}

	if err := fs.save(); err != nil {
		fs.dirty.Store(true)
		fs.saveFailures.Add(1)
		return err
	}
	fs.saves.Add(1)

	return nil
}

// Start begins the autosave loop. This is a blocking operation that runs
// until the context is cancelled. Use Run() for errgroup pattern or call
// this in a goroutine.
func (fs *FileStorage) Start(ctx context.Context) error {
	fs.mu.Lock()
	if fs.cancel != nil {
		fs.mu.Unlock()
		return fmt.Errorf("file storage already started")
	}

	fs.ctx, fs.cancel = context.WithCancel(ctx)
	fs.mu.Unlock()

	fs.running.Store(true)
	defer fs.running.Store(false)

	fs.logger.InfoContext(fs.ctx, "file storage autosave started",
		slog.String("dir", fs.dir),
		slog.Duration("save_interval", fs.saveInterval))

	ticker := time.NewTicker(fs.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.ctx.Done():
			fs.flushOnShutdown()
			return fs.ctx.Err()
		case <-ticker.C:
			select {
			case <-fs.ctx.Done():
				fs.flushOnShutdown()
				return fs.ctx.Err()
			default:
				fs.flushWithWait()
			}
		}
	}
}

// Stop gracefully shuts down the autosave loop with a timeout and writes a
// final snapshot. Returns an error if the shutdown timeout is exceeded.
func (fs *FileStorage) Stop() error {
	fs.mu.Lock()
	if fs.cancel == nil {
		fs.mu.Unlock()
		return fmt.Errorf("file storage not started")
	}

	cancel := fs.cancel
	fs.cancel = nil
	fs.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), fs.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		fs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		fs.logger.InfoContext(context.Background(), "file storage stopped cleanly")
		return nil
	case <-ctx.Done():
		fs.logger.WarnContext(context.Background(), "file storage shutdown timeout exceeded",
			slog.Duration("timeout", fs.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", fs.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the autosave loop, monitors context
// cancellation, and performs graceful shutdown when the context is cancelled.
func (fs *FileStorage) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- fs.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = fs.Stop() // Ignore stop error in normal shutdown
			<-errCh       // Wait for Start() to exit
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Stats returns current file storage statistics for observability and monitoring.
// This method is thread-safe and can be called at any time.
func (fs *FileStorage) Stats() FileStorageStats {
	memStats := fs.mem.Stats()

	return FileStorageStats{
		Tasks:        memStats.Tasks,
		Schedules:    memStats.Schedules,
		Saves:        fs.saves.Load(),
		SaveFailures: fs.saveFailures.Load(),
		Dirty:        fs.dirty.Load(),
		IsRunning:    fs.running.Load(),
	}
}

// Healthcheck validates that the autosave loop is running.
// Returns nil if healthy, or an error describing the health issue.
func (fs *FileStorage) Healthcheck(ctx context.Context) error {
	if !fs.running.Load() {
		return errors.Join(ErrHealthcheckFailed, ErrAutosaveNotRunning)
	}

	return nil
}

// flushWithWait wraps Flush with WaitGroup tracking for graceful shutdown.
func (fs *FileStorage) flushWithWait() {
	fs.mu.Lock()
	if fs.cancel == nil {
		fs.mu.Unlock()
		return
	}
	fs.wg.Add(1)
	fs.mu.Unlock()

	defer fs.wg.Done()
	if err := fs.Flush(context.Background()); err != nil {
		fs.logger.ErrorContext(context.Background(), "snapshot write failed",
			slog.Any("error", err))
	}
}

// flushOnShutdown writes the final snapshot when the autosave loop exits.
// Persistence errors are logged, never propagated: the loop is already
// stopping and the caller cannot act on them.
func (fs *FileStorage) flushOnShutdown() {
	if err := fs.Flush(context.Background()); err != nil {
		fs.logger.ErrorContext(context.Background(), "final snapshot write failed",
			slog.Any("error", err))
	}
}

type tasksFile struct {
	Tasks     map[string]json.RawMessage `json:"tasks"`
	Timestamp int64                      `json:"timestamp"`
}

type schedulesFile struct {
	Schedules map[string]json.RawMessage `json:"schedules"`
	Timestamp int64                      `json:"timestamp"`
}

// save serializes the full state to disk. Records that cannot be encoded are
// logged and skipped rather than failing the whole snapshot; result values
// that fail to encode are stringified first.
func (fs *FileStorage) save() error {
	tasks, schedules := fs.mem.snapshotState()

	taskRecords := make(map[string]json.RawMessage, len(tasks))
	for _, task := range tasks {
		raw, err := json.Marshal(task)
		if err != nil {
			task.Result = fmt.Sprint(task.Result)
			raw, err = json.Marshal(task)
		}
		if err != nil {
			fs.logger.WarnContext(context.Background(), "skipping unserializable task",
				slog.String("task_id", task.ID.String()),
				slog.Any("error", err))
			continue
		}
		taskRecords[task.ID.String()] = raw
	}

	scheduleRecords := make(map[string]json.RawMessage, len(schedules))
	for _, schedule := range schedules {
		raw, err := json.Marshal(schedule)
		if err != nil {
			fs.logger.WarnContext(context.Background(), "skipping unserializable schedule",
				slog.String("schedule_id", schedule.ID.String()),
				slog.Any("error", err))
			continue
		}
		scheduleRecords[schedule.ID.String()] = raw
	}

	now := time.Now().Unix()
	taskData, err := json.MarshalIndent(tasksFile{Tasks: taskRecords, Timestamp: now}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tasks snapshot: %w", err)
	}
	scheduleData, err := json.MarshalIndent(schedulesFile{Schedules: scheduleRecords, Timestamp: now}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedules snapshot: %w", err)
	}

	if err := atomicWrite(fs.tasksPath(), append(taskData, '\n')); err != nil {
		return fmt.Errorf("write tasks snapshot: %w", err)
	}
	if err := atomicWrite(fs.schedulesPath(), append(scheduleData, '\n')); err != nil {
		return fmt.Errorf("write schedules snapshot: %w", err)
	}

	return nil
}

// load reads persisted state from disk into memory. A missing or corrupt
// file yields an empty store; corrupt individual records are skipped.
func (fs *FileStorage) load() {
	var tasks []*Task
	if data, err := readFileOrEmpty(fs.tasksPath()); err != nil {
		fs.logger.WarnContext(context.Background(), "cannot read tasks snapshot, starting empty",
			slog.String("path", fs.tasksPath()),
			slog.Any("error", err))
	} else if len(data) > 0 {
		var file tasksFile
		if err := json.Unmarshal(data, &file); err != nil {
			fs.logger.WarnContext(context.Background(), "corrupt tasks snapshot, starting empty",
				slog.String("path", fs.tasksPath()),
				slog.Any("error", err))
		} else {
			for key, raw := range file.Tasks {
				var task Task
				if err := json.Unmarshal(raw, &task); err != nil || task.ID == uuid.Nil {
					fs.logger.WarnContext(context.Background(), "skipping corrupt task record",
						slog.String("key", key),
						slog.Any("error", err))
					continue
				}
				// The process that was running this task is gone.
				if task.Status == StatusRunning {
					task.Status = StatusPending
				}
				tasks = append(tasks, &task)
			}
		}
	}

	var schedules []*Schedule
	if data, err := readFileOrEmpty(fs.schedulesPath()); err != nil {
		fs.logger.WarnContext(context.Background(), "cannot read schedules snapshot, starting empty",
			slog.String("path", fs.schedulesPath()),
			slog.Any("error", err))
	} else if len(data) > 0 {
		var file schedulesFile
		if err := json.Unmarshal(data, &file); err != nil {
			fs.logger.WarnContext(context.Background(), "corrupt schedules snapshot, starting empty",
				slog.String("path", fs.schedulesPath()),
				slog.Any("error", err))
		} else {
			for key, raw := range file.Schedules {
				var schedule Schedule
				if err := json.Unmarshal(raw, &schedule); err != nil || schedule.ID == uuid.Nil {
					fs.logger.WarnContext(context.Background(), "skipping corrupt schedule record",
						slog.String("key", key),
						slog.Any("error", err))
					continue
				}
				schedules = append(schedules, &schedule)
			}
		}
	}

	fs.mem.restoreState(tasks, schedules)
	if len(tasks) > 0 || len(schedules) > 0 {
		fs.logger.InfoContext(context.Background(), "loaded persisted state",
			slog.Int("tasks", len(tasks)),
			slog.Int("schedules", len(schedules)))
	}
}

// atomicWrite writes data to path via a temporary file + rename. This
// prevents partial writes from corrupting the file.
func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return nil
}

// readFileOrEmpty reads a file, returning (nil, nil) if the file doesn't exist.
func readFileOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}

	return data, err
}
