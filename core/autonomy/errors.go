package autonomy

import "errors"

var (
	// ErrStorageNil is returned by constructors when no storage is provided.
	ErrStorageNil = errors.New("storage cannot be nil")

	// ErrRegistryNil is returned by constructors when no action registry is provided.
	ErrRegistryNil = errors.New("registry cannot be nil")

	// ErrPolicyGateNil is returned by constructors when no policy gate is provided.
	ErrPolicyGateNil = errors.New("policy gate cannot be nil")

	// ErrNoActions is returned when starting a dispatcher with an empty registry.
	ErrNoActions = errors.New("no actions registered")

	// ErrUnknownAction is returned when a task or schedule references an
	// action that is not registered.
	ErrUnknownAction = errors.New("unknown action")

	// ErrActionNil is returned when registering a nil action or handler func.
	ErrActionNil = errors.New("action cannot be nil")

	// ErrActionNameEmpty is returned when registering an action without a name.
	ErrActionNameEmpty = errors.New("action name cannot be empty")

	// ErrCyclicDependency is returned when accepting a task would introduce a
	// cycle into the dependency graph.
	ErrCyclicDependency = errors.New("dependency cycle detected")

	// ErrInvalidPriority is returned when a priority falls outside 0-100.
	ErrInvalidPriority = errors.New("priority out of range")

	// ErrInvalidParams is returned when submitted parameters do not match the
	// schema the action declared at registration.
	ErrInvalidParams = errors.New("invalid action parameters")

	// ErrInvalidSchedule is returned when schedule fields cannot be
	// interpreted (malformed cron expression, bad time_of_day, missing
	// kind-specific fields).
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrScheduleExhausted signals that a schedule has no further occurrence:
	// its one-shot fired, its run budget is spent, or the next occurrence
	// falls past the end_time cutoff.
	ErrScheduleExhausted = errors.New("schedule exhausted")

	// ErrTaskNotFound is returned by storage lookups for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrScheduleNotFound is returned by storage lookups for unknown schedule ids.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrTaskExists is returned when creating a task whose id is already stored.
	ErrTaskExists = errors.New("task already exists")

	// ErrScheduleExists is returned when creating a schedule whose id is already stored.
	ErrScheduleExists = errors.New("schedule already exists")

	// ErrWaitTimeout is returned by WaitForTask when the task does not reach a
	// terminal state within the allotted time.
	ErrWaitTimeout = errors.New("timed out waiting for task")

	// ErrFeedbackDisabled is returned by feedback passthroughs when the engine
	// was built without a feedback sink.
	ErrFeedbackDisabled = errors.New("no feedback sink attached")
)

// Healthcheck errors, checked with errors.Is against the joined result.
var (
	ErrHealthcheckFailed    = errors.New("healthcheck failed")
	ErrEngineNotRunning     = errors.New("engine is not running")
	ErrDispatcherNotRunning = errors.New("dispatcher is not running")
	ErrDispatcherOverloaded = errors.New("all dispatcher slots busy")
	ErrSchedulerNotRunning  = errors.New("scheduler is not running")
	ErrAutosaveNotRunning   = errors.New("storage autosave is not running")
)
