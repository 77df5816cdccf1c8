package autonomy

import (
	"io"
	"log/slog"
	"time"
)

// SchedulerOption is a functional option for configuring a scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	emitMaxRetries  int8
	emitRetryDelay  time.Duration
	logger          *slog.Logger
}

func defaultSchedulerOptions() *schedulerOptions {
	return &schedulerOptions{
		checkInterval:   time.Second,
		shutdownTimeout: 30 * time.Second,
		emitMaxRetries:  3,
		emitRetryDelay:  5 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)), // No-op logger by default
	}
}

// WithCheckInterval sets the tick granularity for draining due schedules.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithSchedulerShutdownTimeout sets the graceful shutdown timeout.
func WithSchedulerShutdownTimeout(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithEmitMaxRetries sets the retry budget on tasks emitted from schedules.
func WithEmitMaxRetries(n int8) SchedulerOption {
	return func(o *schedulerOptions) {
		if n >= 0 {
			o.emitMaxRetries = n
		}
	}
}

// WithEmitRetryDelay sets the retry delay on tasks emitted from schedules.
func WithEmitRetryDelay(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.emitRetryDelay = d
		}
	}
}

// WithSchedulerLogger sets the logger for internal operations.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
