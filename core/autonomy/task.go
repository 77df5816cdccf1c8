package autonomy

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks the lifecycle state of a task through the engine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid checks if the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is absorbing: once a task reaches a
// terminal state it never transitions again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// canTransition reports whether the status graph permits moving from s to next.
// The retry path (running back to pending) is the only edge that leaves an
// active state without terminating it.
func (s Status) canTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled || next == StatusPaused
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled || next == StatusPending
	case StatusPaused:
		return next == StatusPending || next == StatusCancelled
	default:
		return false
	}
}

// Priority represents task priority (0-100, higher is more important)
// Using int8 provides sufficient range while keeping memory footprint minimal
type Priority int8

const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

// Valid checks if the priority is within the allowed range (0-100).
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Task is the unit of work owned by the engine. Tasks form a directed acyclic
// graph over DependsOn and an optional parent/subtask tree used for rollups.
type Task struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"`
	Priority    Priority       `json:"priority"`
	DependsOn   []uuid.UUID    `json:"depends_on,omitempty"`
	MaxRetries  int8           `json:"max_retries"`
	RetryDelay  time.Duration  `json:"retry_delay"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Status      Status         `json:"status"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int8           `json:"retry_count"`
	ParentID    *uuid.UUID     `json:"parent_id,omitempty"`
	SubtaskIDs  []uuid.UUID    `json:"subtask_ids,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Due reports whether the task's scheduled start time has arrived.
// Tasks without a scheduled time are due immediately.
func (t *Task) Due(now time.Time) bool {
	return t.ScheduledAt == nil || !t.ScheduledAt.After(now)
}

// HasSubtasks reports whether the task is a parent in a chain. Parent tasks are
// never dispatched directly; they complete through the subtask rollup.
func (t *Task) HasSubtasks() bool {
	return len(t.SubtaskIDs) > 0
}

// MetadataBool reads a boolean metadata flag, tolerating absent keys and
// non-boolean values.
func (t *Task) MetadataBool(key string) bool {
	if t.Metadata == nil {
		return false
	}
	v, ok := t.Metadata[key].(bool)
	return ok && v
}

// Clone returns a copy of the task with its own maps and slices, so callers
// holding the copy cannot mutate engine-owned state. Values inside Params,
// Result, and Metadata are shared.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Params != nil {
		c.Params = make(map[string]any, len(t.Params))
		for k, v := range t.Params {
			c.Params[k] = v
		}
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.DependsOn != nil {
		c.DependsOn = append([]uuid.UUID(nil), t.DependsOn...)
	}
	if t.SubtaskIDs != nil {
		c.SubtaskIDs = append([]uuid.UUID(nil), t.SubtaskIDs...)
	}
	if t.ScheduledAt != nil {
		at := *t.ScheduledAt
		c.ScheduledAt = &at
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		c.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.ParentID != nil {
		id := *t.ParentID
		c.ParentID = &id
	}
	return &c
}
