package autonomy

import (
	"io"
	"log/slog"
	"time"
)

// DispatcherOption is a functional option for configuring a dispatcher
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	pollInterval       time.Duration
	shutdownTimeout    time.Duration
	maxConcurrentTasks int
	completionCallback CompletionFunc
	logger             *slog.Logger
}

func defaultDispatcherOptions() *dispatcherOptions {
	return &dispatcherOptions{
		pollInterval:       100 * time.Millisecond,
		shutdownTimeout:    30 * time.Second,
		maxConcurrentTasks: 5,
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)), // No-op logger by default
	}
}

// WithPollInterval sets how often the dispatcher drains the ready queue.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMaxConcurrentTasks sets the number of worker slots.
func WithMaxConcurrentTasks(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.maxConcurrentTasks = n
		}
	}
}

// WithDispatcherShutdownTimeout sets the graceful shutdown timeout.
func WithDispatcherShutdownTimeout(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithCompletionCallback installs the external callback fired after each
// terminal transition.
func WithCompletionCallback(fn CompletionFunc) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.completionCallback = fn
	}
}

// WithDispatcherLogger sets the logger for internal operations.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
