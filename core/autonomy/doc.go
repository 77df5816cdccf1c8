// Package autonomy provides a persistent task execution engine with
// dependency-aware scheduling, policy-gated dispatch, and calendar-based
// recurring schedules. It executes named actions through a bounded worker
// pool, retries transient failures, rolls subtask chains up into parent
// tasks, and survives restarts through optional file-backed storage.
//
// # Features
//
//   - Named action registry with parameter schemas and typed parameter binding
//   - Priority-ordered dispatch with a bounded concurrent worker pool
//   - Task dependencies with automatic admission when prerequisites complete
//   - Sequential task chains with result rollup into a parent task
//   - Autonomy levels gating execution behind approval and safety checks
//   - Calendar schedules: one-shot, interval, daily, weekly, monthly, and cron
//   - Configurable retry policies with per-task budgets and delays
//   - File-backed persistence with atomic writes and crash recovery
//   - Feedback collection with per-target rolling summaries
//   - Graceful shutdown that drains in-flight work before flushing state
//
// # Basic Usage
//
// Create an engine, register actions, and submit tasks:
//
//	import "github.com/dmitrymomot/autonomy/core/autonomy"
//
//	// Create storage (in-memory for development)
//	storage := autonomy.NewMemoryStorage()
//
//	engine, err := autonomy.New(storage,
//	    autonomy.WithAutonomyLevel(autonomy.LevelFull),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Register an action
//	engine.RegisterAction("send_report", func(ctx context.Context, params map[string]any) (any, error) {
//	    return sendReport(ctx, params["recipient"].(string))
//	}, autonomy.WithActionParams(map[string]string{
//	    "recipient": "email address to send the report to",
//	}))
//
//	// Start the engine
//	if err := engine.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	// Submit a task and wait for the result
//	id, err := engine.CreateTask(ctx, "send_report",
//	    map[string]any{"recipient": "ops@example.com"},
//	    autonomy.WithPriority(autonomy.PriorityHigh),
//	)
//	task, err := engine.WaitForTask(ctx, id, 30*time.Second)
//
// # Typed Actions
//
// Bind parameters to a struct instead of working with raw maps:
//
//	type ReportParams struct {
//	    Recipient string `json:"recipient"`
//	    Sections  []string `json:"sections"`
//	}
//
//	action := autonomy.NewTypedAction("send_report",
//	    func(ctx context.Context, p ReportParams) (any, error) {
//	        return sendReport(ctx, p.Recipient, p.Sections)
//	    },
//	    autonomy.WithActionDescription("Compile and email a report"),
//	)
//	engine.Register(action)
//
// # Autonomy Levels and Policy
//
// The policy gate decides per task whether execution proceeds, waits for
// approval, or is rejected:
//
//	// Full: everything runs unattended.
//	// Supervised: new, modified, and high-risk work needs approval.
//	// Assisted: every task needs approval. Disabled: nothing runs.
//	engine, _ := autonomy.New(storage,
//	    autonomy.WithAutonomyLevel(autonomy.LevelSupervised),
//	    autonomy.WithPolicyOptions(
//	        autonomy.WithRestrictedActions("delete_data", "send_payment"),
//	    ),
//	)
//
//	// Approval requests are routed to a callback
//	engine.SetApprovalCallback(func(task *autonomy.Task) bool {
//	    return askOperator(task.Name, task.Action)
//	})
//
//	// Safety checks veto tasks regardless of level
//	engine.AddSafetyCheck(func(task *autonomy.Task) (bool, string) {
//	    if task.Priority == autonomy.PriorityMax && !businessHours() {
//	        return false, "critical tasks only during business hours"
//	    }
//	    return true, ""
//	})
//
// # Dependencies and Chains
//
// Gate tasks on other tasks, or build sequential chains:
//
//	// B runs only after A completes
//	a, _ := engine.CreateTask(ctx, "fetch_data", nil)
//	b, _ := engine.CreateTask(ctx, "process_data", nil,
//	    autonomy.WithDependencies(a),
//	)
//
//	// A chain runs its steps in order and rolls results up into a parent
//	parent, _ := engine.CreateChain(ctx, []autonomy.ChainStep{
//	    {Action: "fetch_data", Params: map[string]any{"source": "api"}},
//	    {Action: "process_data"},
//	    {Action: "publish_results"},
//	}, autonomy.WithTaskName("nightly pipeline"))
//
//	result, _ := engine.WaitForTask(ctx, parent, 5*time.Minute)
//
// # Recurring Schedules
//
// Schedules emit tasks on a calendar:
//
//	// Every 15 minutes
//	engine.CreateSchedule(ctx, &autonomy.Schedule{
//	    Name:            "health probe",
//	    Kind:            autonomy.ScheduleInterval,
//	    Action:          "health_check",
//	    IntervalSeconds: 900,
//	})
//
//	// Weekdays at 09:30
//	engine.CreateSchedule(ctx, &autonomy.Schedule{
//	    Name:      "standup reminder",
//	    Kind:      autonomy.ScheduleWeekly,
//	    Action:    "send_reminder",
//	    Days:      []int{1, 2, 3, 4, 5},
//	    TimeOfDay: "09:30",
//	})
//
//	// Cron expressions via robfig/cron syntax
//	engine.CreateSchedule(ctx, &autonomy.Schedule{
//	    Name:     "monthly rollup",
//	    Kind:     autonomy.ScheduleCron,
//	    Action:   "rollup",
//	    CronExpr: "0 6 1 * *",
//	})
//
//	// Fire outside the calendar without waiting
//	engine.RunScheduleNow(ctx, scheduleID)
//
// # Persistence
//
// File-backed storage survives restarts; pending work resumes where it
// stopped:
//
//	storage, err := autonomy.NewFileStorage("/var/lib/autonomy",
//	    autonomy.WithSaveInterval(30*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := autonomy.New(storage)
//	// Tasks running at shutdown return to pending and re-dispatch after
//	// restart. Writes go to a temp file first, so a crash mid-save never
//	// corrupts existing state.
//
// # Configuration
//
// Load settings from the environment:
//
//	cfg, err := config.Load[autonomy.Config]()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := autonomy.NewFromConfig(cfg,
//	    autonomy.WithEngineLogger(logger), // overrides apply on top
//	)
//
// # Graceful Shutdown
//
// Run blocks until the context is cancelled, then shuts down in dependency
// order:
//
//	func main() {
//	    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	    defer stop()
//
//	    engine, err := autonomy.NewFromConfig(cfg)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    // Scheduler stops emitting first, the dispatcher drains in-flight
//	    // tasks, and storage flushes last.
//	    if err := engine.Run(ctx); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Error Handling
//
// Sentinel errors support errors.Is checks across the package:
//
//	id, err := engine.CreateTask(ctx, "unknown", nil)
//	if errors.Is(err, autonomy.ErrUnknownAction) {
//	    // action was never registered
//	}
//
//	task, err := engine.WaitForTask(ctx, id, time.Second)
//	if errors.Is(err, autonomy.ErrWaitTimeout) {
//	    // still running; inspect later via GetTask
//	}
package autonomy
