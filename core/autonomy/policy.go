package autonomy

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Level is the autonomy level governing whether tasks may run without
// human approval.
type Level string

const (
	// LevelDisabled rejects every task.
	LevelDisabled Level = "disabled"
	// LevelAssisted requires approval from the approval callback for every task.
	LevelAssisted Level = "assisted"
	// LevelSupervised approves by default and requires approval only for
	// new, modified, or high-risk tasks.
	LevelSupervised Level = "supervised"
	// LevelFull approves all tasks unconditionally.
	LevelFull Level = "full"
)

// Valid reports whether the level is one of the defined constants.
func (l Level) Valid() bool {
	switch l {
	case LevelDisabled, LevelAssisted, LevelSupervised, LevelFull:
		return true
	}
	return false
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(s)))
	if !level.Valid() {
		return "", fmt.Errorf("unknown autonomy level %q", s)
	}

	return level, nil
}

type (
	// ApprovalFunc decides whether a task may run. A panicking callback is
	// treated as disapproval.
	ApprovalFunc func(task *Task) bool

	// SafetyCheck inspects a task before the approval decision. A non-ok
	// result rejects the task with the given reason. A panicking check is
	// treated as not ok with reason "check error: {message}".
	SafetyCheck func(task *Task) (ok bool, reason string)
)

// Decision is the policy gate verdict for a single task.
type Decision struct {
	// Allowed reports whether the task may be dispatched.
	Allowed bool
	// Status is the terminal status to record when the task is not allowed.
	Status Status
	// Reason is the error message to record when the task is not allowed.
	Reason string
}

// defaultHighRiskActions mark destructive operations that require approval
// under SUPERVISED even without an explicit metadata flag.
var defaultHighRiskActions = []string{"clear_memory", "system_update", "execute_command"}

// PolicyGate governs whether tasks are allowed to run. Every task first runs
// through the safety check chain; survivors are approved or rejected
// according to the configured autonomy level. Safe for concurrent use.
type PolicyGate struct {
	mu            sync.RWMutex
	level         Level
	approval      ApprovalFunc
	checks        []SafetyCheck
	checksEnabled bool
	restricted    map[string]struct{}
	highRisk      map[string]struct{}
	requireNew    bool
	requireMod    bool
	requireRisk   bool
	logger        *slog.Logger
}

// PolicyGateOption configures a PolicyGate.
type PolicyGateOption func(*PolicyGate)

// WithLevel sets the initial autonomy level.
func WithLevel(level Level) PolicyGateOption {
	return func(g *PolicyGate) {
		if level.Valid() {
			g.level = level
		}
	}
}

// WithApproval sets the approval callback consulted by ASSISTED and
// SUPERVISED levels.
func WithApproval(fn ApprovalFunc) PolicyGateOption {
	return func(g *PolicyGate) {
		g.approval = fn
	}
}

// WithSafetyCheck appends a check to the safety chain.
func WithSafetyCheck(check SafetyCheck) PolicyGateOption {
	return func(g *PolicyGate) {
		if check != nil {
			g.checks = append(g.checks, check)
		}
	}
}

// WithRestrictedActions sets the action names rejected by the built-in
// safety check.
func WithRestrictedActions(actions ...string) PolicyGateOption {
	return func(g *PolicyGate) {
		g.restricted = make(map[string]struct{}, len(actions))
		for _, action := range actions {
			g.restricted[action] = struct{}{}
		}
	}
}

// WithHighRiskActions replaces the default high-risk action set.
func WithHighRiskActions(actions ...string) PolicyGateOption {
	return func(g *PolicyGate) {
		g.highRisk = make(map[string]struct{}, len(actions))
		for _, action := range actions {
			g.highRisk[action] = struct{}{}
		}
	}
}

// WithSafetyChecksEnabled toggles the whole safety chain.
func WithSafetyChecksEnabled(enabled bool) PolicyGateOption {
	return func(g *PolicyGate) {
		g.checksEnabled = enabled
	}
}

// WithApprovalRequirements selects which SUPERVISED triggers require the
// approval callback.
func WithApprovalRequirements(newTasks, modifiedTasks, highRisk bool) PolicyGateOption {
	return func(g *PolicyGate) {
		g.requireNew = newTasks
		g.requireMod = modifiedTasks
		g.requireRisk = highRisk
	}
}

// WithPolicyGateLogger sets the logger for callback failures.
func WithPolicyGateLogger(logger *slog.Logger) PolicyGateOption {
	return func(g *PolicyGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewPolicyGate creates a policy gate at SUPERVISED level with safety checks
// enabled and the default high-risk action set.
func NewPolicyGate(opts ...PolicyGateOption) *PolicyGate {
	g := &PolicyGate{
		level:         LevelSupervised,
		checksEnabled: true,
		restricted:    make(map[string]struct{}),
		highRisk:      make(map[string]struct{}, len(defaultHighRiskActions)),
		requireNew:    true,
		requireMod:    true,
		requireRisk:   true,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, action := range defaultHighRiskActions {
		g.highRisk[action] = struct{}{}
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Level returns the current autonomy level.
func (g *PolicyGate) Level() Level {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.level
}

// SetLevel changes the autonomy level at runtime.
func (g *PolicyGate) SetLevel(level Level) error {
	if !level.Valid() {
		return fmt.Errorf("unknown autonomy level %q", level)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.level = level

	return nil
}

// SetApproval installs or replaces the approval callback at runtime.
func (g *PolicyGate) SetApproval(fn ApprovalFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approval = fn
}

// AddSafetyCheck appends a check to the safety chain at runtime.
func (g *PolicyGate) AddSafetyCheck(check SafetyCheck) {
	if check == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks = append(g.checks, check)
}

// Evaluate runs the task through the safety chain and the level decision.
func (g *PolicyGate) Evaluate(task *Task) Decision {
	g.mu.RLock()
	level := g.level
	approval := g.approval
	checksEnabled := g.checksEnabled
	checks := make([]SafetyCheck, 0, len(g.checks)+1)
	checks = append(checks, g.restrictedActionCheck)
	checks = append(checks, g.checks...)
	g.mu.RUnlock()

	if checksEnabled {
		for _, check := range checks {
			ok, reason := g.runCheck(check, task)
			if !ok {
				return Decision{
					Status: StatusFailed,
					Reason: "Safety check failed: " + reason,
				}
			}
		}
	}

	switch level {
	case LevelDisabled:
		return Decision{Status: StatusCancelled, Reason: "not approved"}

	case LevelAssisted:
		if approval == nil || !g.runApproval(approval, task) {
			return Decision{Status: StatusCancelled, Reason: "not approved"}
		}
		return Decision{Allowed: true}

	case LevelSupervised:
		if !g.needsApproval(task) {
			return Decision{Allowed: true}
		}
		// Missing callback defaults to approve under supervision.
		if approval == nil || g.runApproval(approval, task) {
			return Decision{Allowed: true}
		}
		return Decision{Status: StatusCancelled, Reason: "not approved"}

	default: // LevelFull
		return Decision{Allowed: true}
	}
}

// IsHighRisk reports whether the task's action is in the high-risk set or
// its metadata carries is_high_risk = true.
func (g *PolicyGate) IsHighRisk(task *Task) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.isHighRisk(task)
}

func (g *PolicyGate) isHighRisk(task *Task) bool {
	if task.MetadataBool("is_high_risk") {
		return true
	}
	_, risky := g.highRisk[task.Action]

	return risky
}

func (g *PolicyGate) needsApproval(task *Task) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.requireNew && task.MetadataBool("is_new") {
		return true
	}
	if g.requireMod && task.MetadataBool("is_modified") {
		return true
	}
	if g.requireRisk && g.isHighRisk(task) {
		return true
	}

	return false
}

// restrictedActionCheck is the built-in head of the safety chain.
func (g *PolicyGate) restrictedActionCheck(task *Task) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, blocked := g.restricted[task.Action]; blocked {
		return false, fmt.Sprintf("action %q is restricted", task.Action)
	}

	return true, ""
}

func (g *PolicyGate) runCheck(check SafetyCheck, task *Task) (ok bool, reason string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("safety check panicked",
				slog.String("task_id", task.ID.String()),
				slog.String("action", task.Action),
				slog.Any("panic", r))
			ok = false
			reason = fmt.Sprintf("check error: %v", r)
		}
	}()

	return check(task)
}

func (g *PolicyGate) runApproval(approval ApprovalFunc, task *Task) (approved bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("approval callback panicked",
				slog.String("task_id", task.ID.String()),
				slog.String("action", task.Action),
				slog.Any("panic", r))
			approved = false
		}
	}()

	return approval(task)
}
