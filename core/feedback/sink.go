package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SinkStats provides observability metrics for monitoring and debugging
type SinkStats struct {
	Entries         int   // Current number of feedback entries
	Targets         int   // Number of targets with a rolling summary
	Saves           int64 // Total successful snapshot writes
	SaveFailures    int64 // Total failed snapshot writes
	ProcessorPanics int64 // Total panics recovered from processors
	IsRunning       bool  // Whether the autosave loop is running
}

// Sink collects feedback entries and maintains per-target rolling summaries.
// Entries are append-only until an explicit Clear. With a storage directory
// configured, an autosave loop persists the tables to feedback.json and a
// derived metrics snapshot to metrics.json; without one the sink is
// memory-only. The in-memory state is the source of truth during a run;
// snapshots are written atomically (write-temp-then-rename).
type Sink struct {
	dir     string // empty means memory-only
	metrics *Metrics

	// Configuration
	autosave        bool
	saveInterval    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// Tables
	mu         sync.RWMutex
	entries    map[uuid.UUID]Entry
	order      []uuid.UUID // append order, drives List
	summaries  map[string]*Summary
	processors []Processor

	// State management
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	running     atomic.Bool
	wg          sync.WaitGroup

	// Observability metrics
	dirty        atomic.Bool
	saves        atomic.Int64
	saveFailures atomic.Int64
	panics       atomic.Int64
}

// New creates a feedback sink. Without WithStorageDir the sink is
// memory-only; with it, persisted feedback is loaded immediately and
// Start() begins the autosave loop.
func New(opts ...SinkOption) *Sink {
	s := &Sink{
		metrics:         NewMetrics(),
		autosave:        true,
		saveInterval:    60 * time.Second,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		entries:         make(map[uuid.UUID]Entry),
		summaries:       make(map[string]*Summary),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.dir != "" {
		s.load()
	}

	return s
}

// NewFromConfig creates a Sink from configuration.
// Additional options can override config values.
func NewFromConfig(cfg Config, opts ...SinkOption) *Sink {
	allOpts := append([]SinkOption{
		WithStorageDir(cfg.StorageDir),
		WithSaveInterval(cfg.SaveInterval),
		WithAutoSave(cfg.AutoSave),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}, opts...)

	return New(allOpts...)
}

// Metrics returns the sink's metrics aggregator.
func (s *Sink) Metrics() *Metrics {
	return s.metrics
}

// Add appends a feedback entry and updates the target summary when the entry
// carries a target. Registered processors run synchronously before Add
// returns; a panicking processor is recovered and logged. Returns the entry
// id.
func (s *Sink) Add(ctx context.Context, kind Kind, content any, opts ...EntryOption) (uuid.UUID, error) {
	if !kind.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}

	entry := Entry{
		ID:        uuid.New(),
		Kind:      kind,
		Source:    SourceUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&entry)
	}
	if !entry.Source.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidSource, entry.Source)
	}

	s.mu.Lock()
	s.entries[entry.ID] = entry
	s.order = append(s.order, entry.ID)
	if entry.TargetID != "" {
		summary, exists := s.summaries[entry.TargetID]
		if !exists {
			summary = &Summary{TargetID: entry.TargetID}
			s.summaries[entry.TargetID] = summary
		}
		summary.observe(entry)
	}
	processors := slices.Clone(s.processors)
	s.mu.Unlock()

	s.dirty.Store(true)
	s.metrics.Inc("feedback." + string(kind))

	for _, processor := range processors {
		s.runProcessor(ctx, processor, entry)
	}

	s.logger.DebugContext(ctx, "feedback recorded",
		slog.String("entry_id", entry.ID.String()),
		slog.String("kind", string(entry.Kind)),
		slog.String("source", string(entry.Source)),
		slog.String("target_id", entry.TargetID))

	return entry.ID, nil
}

// runProcessor invokes one processor with panic capture. Processors run
// outside the sink mutex, so they may call back into the sink.
func (s *Sink) runProcessor(ctx context.Context, processor Processor, entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.logger.ErrorContext(ctx, "feedback processor panicked",
				slog.String("entry_id", entry.ID.String()),
				slog.Any("panic", r))
		}
	}()

	processor(entry)
}

// RegisterProcessor appends a callback invoked synchronously on every append.
func (s *Sink) RegisterProcessor(processor Processor) {
	if processor == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processors = append(s.processors, processor)
}

// Get returns the entry with the given id.
func (s *Sink) Get(id uuid.UUID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[id]
	return entry, exists
}

// Summary returns a copy of the rolling aggregate for a target.
func (s *Sink) Summary(targetID string) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, exists := s.summaries[targetID]
	if !exists {
		return nil, fmt.Errorf("target %s: %w", targetID, ErrSummaryNotFound)
	}

	return summary.Clone(), nil
}

// List returns entries matching the filter, newest first. Limit caps the
// result after filtering.
func (s *Sink) List(filter Filter) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Entry, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		entry, exists := s.entries[s.order[i]]
		if !exists {
			continue
		}
		if filter.matches(entry) {
			result = append(result, entry)
			if filter.Limit > 0 && len(result) >= filter.Limit {
				break
			}
		}
	}

	return result
}

// Clear drops all entries and summaries. The next snapshot persists the
// empty state.
func (s *Sink) Clear() {
	s.mu.Lock()
	s.entries = make(map[uuid.UUID]Entry)
	s.order = nil
	s.summaries = make(map[string]*Summary)
	s.mu.Unlock()

	s.dirty.Store(true)
	s.logger.InfoContext(context.Background(), "feedback cleared")
}

// Flush writes a snapshot to disk if unsaved mutations exist. A memory-only
// sink never writes.
func (s *Sink) Flush(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}
	if !s.dirty.Swap(false) {
		return nil
	}

	if err := s.save(); err != nil {
		s.dirty.Store(true)
		s.saveFailures.Add(1)
		return err
	}
	s.saves.Add(1)

	return nil
}

// Start begins the autosave loop. This is a blocking operation that runs
// until the context is cancelled. Use Run() for errgroup pattern or call
// this in a goroutine.
func (s *Sink) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.cancel != nil {
		s.lifecycleMu.Unlock()
		return fmt.Errorf("feedback sink already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.lifecycleMu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)

	s.logger.InfoContext(s.ctx, "feedback sink started",
		slog.String("dir", s.dir),
		slog.Bool("autosave", s.autosave),
		slog.Duration("save_interval", s.saveInterval))

	if !s.autosave || s.dir == "" {
		// Nothing to write periodically; hold the lifecycle open so
		// shutdown still flushes whatever state exists.
		<-s.ctx.Done()
		s.flushOnShutdown()
		return s.ctx.Err()
	}

	ticker := time.NewTicker(s.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.flushOnShutdown()
			return s.ctx.Err()
		case <-ticker.C:
			select {
			case <-s.ctx.Done():
				s.flushOnShutdown()
				return s.ctx.Err()
			default:
				s.flushWithWait()
			}
		}
	}
}

// Stop gracefully shuts down the autosave loop with a timeout and writes a
// final snapshot. Returns an error if the shutdown timeout is exceeded.
func (s *Sink) Stop() error {
	s.lifecycleMu.Lock()
	if s.cancel == nil {
		s.lifecycleMu.Unlock()
		return fmt.Errorf("feedback sink not started")
	}

	cancel := s.cancel
	s.cancel = nil
	s.lifecycleMu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.InfoContext(context.Background(), "feedback sink stopped cleanly")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(context.Background(), "feedback sink shutdown timeout exceeded",
			slog.Duration("timeout", s.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the autosave loop, monitors context
// cancellation, and performs graceful shutdown when the context is cancelled.
func (s *Sink) Run(ctx context.Context) func() error {
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

// Stats returns current sink statistics for observability and monitoring.
// This method is thread-safe and can be called at any time.
func (s *Sink) Stats() SinkStats {
	s.mu.RLock()
	entries := len(s.entries)
	targets := len(s.summaries)
	s.mu.RUnlock()

	return SinkStats{
		Entries:         entries,
		Targets:         targets,
		Saves:           s.saves.Load(),
		SaveFailures:    s.saveFailures.Load(),
		ProcessorPanics: s.panics.Load(),
		IsRunning:       s.running.Load(),
	}
}

// Healthcheck validates that the autosave loop is running.
// Returns nil if healthy, or an error describing the health issue.
func (s *Sink) Healthcheck(ctx context.Context) error {
	if !s.running.Load() {
		return errors.Join(ErrHealthcheckFailed, ErrSinkNotRunning)
	}

	return nil
}

// flushWithWait wraps Flush with WaitGroup tracking for graceful shutdown.
func (s *Sink) flushWithWait() {
	s.lifecycleMu.Lock()
	if s.cancel == nil {
		s.lifecycleMu.Unlock()
		return
	}
	s.wg.Add(1)
	s.lifecycleMu.Unlock()

	defer s.wg.Done()
	if err := s.Flush(context.Background()); err != nil {
		s.logger.ErrorContext(context.Background(), "feedback snapshot write failed",
			slog.Any("error", err))
	}
}

// flushOnShutdown writes the final snapshot when the autosave loop exits.
// Persistence errors are logged, never propagated: the loop is already
// stopping and the caller cannot act on them.
func (s *Sink) flushOnShutdown() {
	if err := s.Flush(context.Background()); err != nil {
		s.logger.ErrorContext(context.Background(), "final feedback snapshot write failed",
			slog.Any("error", err))
	}
}

func (s *Sink) feedbackPath() string {
	return filepath.Join(s.dir, "feedback.json")
}

func (s *Sink) metricsPath() string {
	return filepath.Join(s.dir, "metrics.json")
}

type feedbackFile struct {
	Feedback  map[string]json.RawMessage `json:"feedback"`
	Summaries map[string]*Summary        `json:"summaries"`
	Timestamp int64                      `json:"timestamp"`
}

// save serializes entries, summaries, and the derived metrics snapshot to
// disk. Entries that cannot be encoded are logged and skipped rather than
// failing the whole snapshot; content values that fail to encode are
// stringified first. The metrics file is write-only: it is never read back.
func (s *Sink) save() error {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	summaries := make(map[string]*Summary, len(s.summaries))
	for targetID, summary := range s.summaries {
		summaries[targetID] = summary.Clone()
	}
	s.mu.RUnlock()

	records := make(map[string]json.RawMessage, len(entries))
	for _, entry := range entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			entry.Content = fmt.Sprint(entry.Content)
			raw, err = json.Marshal(entry)
		}
		if err != nil {
			s.logger.WarnContext(context.Background(), "skipping unserializable feedback entry",
				slog.String("entry_id", entry.ID.String()),
				slog.Any("error", err))
			continue
		}
		records[entry.ID.String()] = raw
	}

	data, err := json.MarshalIndent(feedbackFile{
		Feedback:  records,
		Summaries: summaries,
		Timestamp: time.Now().Unix(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode feedback snapshot: %w", err)
	}
	if err := atomicWrite(s.feedbackPath(), append(data, '\n')); err != nil {
		return fmt.Errorf("write feedback snapshot: %w", err)
	}

	metricsData, err := json.MarshalIndent(s.metrics.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics snapshot: %w", err)
	}
	if err := atomicWrite(s.metricsPath(), append(metricsData, '\n')); err != nil {
		return fmt.Errorf("write metrics snapshot: %w", err)
	}

	return nil
}

// load reads persisted feedback from disk. A missing or corrupt file yields
// an empty sink; corrupt individual records are skipped.
func (s *Sink) load() {
	data, err := readFileOrEmpty(s.feedbackPath())
	if err != nil {
		s.logger.WarnContext(context.Background(), "cannot read feedback snapshot, starting empty",
			slog.String("path", s.feedbackPath()),
			slog.Any("error", err))
		return
	}
	if len(data) == 0 {
		return
	}

	var file feedbackFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.WarnContext(context.Background(), "corrupt feedback snapshot, starting empty",
			slog.String("path", s.feedbackPath()),
			slog.Any("error", err))
		return
	}

	entries := make(map[uuid.UUID]Entry, len(file.Feedback))
	for key, raw := range file.Feedback {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.ID == uuid.Nil {
			s.logger.WarnContext(context.Background(), "skipping corrupt feedback record",
				slog.String("key", key),
				slog.Any("error", err))
			continue
		}
		entries[entry.ID] = entry
	}

	order := make([]uuid.UUID, 0, len(entries))
	for id := range entries {
		order = append(order, id)
	}
	slices.SortFunc(order, func(a, b uuid.UUID) int {
		return entries[a].CreatedAt.Compare(entries[b].CreatedAt)
	})

	summaries := make(map[string]*Summary, len(file.Summaries))
	for targetID, summary := range file.Summaries {
		if summary == nil || targetID == "" {
			continue
		}
		summary.TargetID = targetID
		summaries[targetID] = summary
	}

	s.mu.Lock()
	s.entries = entries
	s.order = order
	s.summaries = summaries
	s.mu.Unlock()

	if len(entries) > 0 {
		s.logger.InfoContext(context.Background(), "loaded persisted feedback",
			slog.Int("entries", len(entries)),
			slog.Int("targets", len(summaries)))
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
