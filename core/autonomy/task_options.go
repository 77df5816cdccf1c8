package autonomy

import (
	"time"

	"github.com/google/uuid"
)

// TaskOption customizes a task at submission time.
type TaskOption func(*taskOptions)

type taskOptions struct {
	name        string
	description string
	priority    Priority
	dependsOn   []uuid.UUID
	scheduledAt *time.Time
	parentID    *uuid.UUID
	metadata    map[string]any
	timeout     time.Duration
	maxRetries  int8
	retryDelay  time.Duration
}

// defaultTaskOptions seeds submission options with the engine defaults so
// unset fields inherit them.
func (e *Engine) defaultTaskOptions() *taskOptions {
	return &taskOptions{
		priority:   PriorityDefault,
		maxRetries: e.defaultMaxRetries,
		retryDelay: e.defaultRetryDelay,
	}
}

// WithTaskName sets a human-readable name. Defaults to the action name.
func WithTaskName(name string) TaskOption {
	return func(o *taskOptions) {
		o.name = name
	}
}

// WithTaskDescription sets a longer free-form description.
func WithTaskDescription(description string) TaskOption {
	return func(o *taskOptions) {
		o.description = description
	}
}

// WithPriority sets the dispatch priority (0-100, higher dispatches first).
func WithPriority(priority Priority) TaskOption {
	return func(o *taskOptions) {
		o.priority = priority
	}
}

// WithDependencies gates the task until every listed task has completed.
// The dependencies must exist at submission time.
func WithDependencies(ids ...uuid.UUID) TaskOption {
	return func(o *taskOptions) {
		o.dependsOn = append(o.dependsOn, ids...)
	}
}

// WithScheduledAt holds the task back until the given time.
func WithScheduledAt(at time.Time) TaskOption {
	return func(o *taskOptions) {
		o.scheduledAt = &at
	}
}

// WithParent attaches the task as a subtask of an existing parent. The
// parent completes once all of its subtasks are terminal.
func WithParent(id uuid.UUID) TaskOption {
	return func(o *taskOptions) {
		o.parentID = &id
	}
}

// WithTaskMetadata attaches caller metadata, available to policy callbacks
// and preserved across restarts.
func WithTaskMetadata(metadata map[string]any) TaskOption {
	return func(o *taskOptions) {
		o.metadata = metadata
	}
}

// WithTimeout bounds a single execution attempt. Zero means no limit.
func WithTimeout(timeout time.Duration) TaskOption {
	return func(o *taskOptions) {
		o.timeout = timeout
	}
}

// WithMaxRetries overrides the engine's default retry budget.
func WithMaxRetries(n int8) TaskOption {
	return func(o *taskOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithRetryDelay overrides the engine's default delay between attempts.
func WithRetryDelay(delay time.Duration) TaskOption {
	return func(o *taskOptions) {
		if delay > 0 {
			o.retryDelay = delay
		}
	}
}

// ChainStep describes one link of a sequential task chain. Zero-valued
// fields inherit the engine defaults; set MaxRetries negative to disable
// retries for a step.
type ChainStep struct {
	Action      string
	Params      map[string]any
	Name        string
	Description string
	Priority    Priority
	Timeout     time.Duration
	MaxRetries  int8
	RetryDelay  time.Duration
	Metadata    map[string]any
}
