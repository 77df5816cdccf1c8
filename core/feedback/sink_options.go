package feedback

import (
	"log/slog"
	"time"
)

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithStorageDir enables persistence rooted at dir. Without it the sink is
// memory-only.
func WithStorageDir(dir string) SinkOption {
	return func(s *Sink) {
		s.dir = dir
	}
}

// WithSaveInterval sets the autosave tick interval.
func WithSaveInterval(interval time.Duration) SinkOption {
	return func(s *Sink) {
		if interval > 0 {
			s.saveInterval = interval
		}
	}
}

// WithAutoSave toggles periodic snapshots. When disabled, the sink still
// loads persisted state and flushes on shutdown.
func WithAutoSave(enabled bool) SinkOption {
	return func(s *Sink) {
		s.autosave = enabled
	}
}

// WithShutdownTimeout sets the graceful shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) SinkOption {
	return func(s *Sink) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// WithLogger sets the logger for internal operations.
func WithLogger(logger *slog.Logger) SinkOption {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProcessor registers a processor at construction.
func WithProcessor(processor Processor) SinkOption {
	return func(s *Sink) {
		if processor != nil {
			s.processors = append(s.processors, processor)
		}
	}
}
