package autonomy

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/autonomy/core/feedback"
)

// EngineOption configures an Engine instance.
type EngineOption func(*Engine) error

// WithEngineLogger sets the logger for the engine.
// Components maintain their own loggers (discard by default).
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) error {
		if logger == nil {
			return nil // Just use the default logger
		}
		e.logger = logger
		return nil
	}
}

// WithAutonomyLevel sets the starting autonomy level.
func WithAutonomyLevel(level Level) EngineOption {
	return func(e *Engine) error {
		return e.gate.SetLevel(level)
	}
}

// WithPolicyGate replaces the engine's policy gate with a prebuilt one.
func WithPolicyGate(gate *PolicyGate) EngineOption {
	return func(e *Engine) error {
		if gate == nil {
			return ErrPolicyGateNil
		}
		e.gate = gate
		return nil
	}
}

// WithPolicyOptions applies options to the policy gate component.
// These options are applied when the gate is created.
func WithPolicyOptions(opts ...PolicyGateOption) EngineOption {
	return func(e *Engine) error {
		e.gate = NewPolicyGate(opts...)
		return nil
	}
}

// WithApprovalCallback installs the approval callback at construction.
func WithApprovalCallback(fn ApprovalFunc) EngineOption {
	return func(e *Engine) error {
		e.gate.SetApproval(fn)
		return nil
	}
}

// WithSafetyChecks appends safety checks at construction.
func WithSafetyChecks(checks ...SafetyCheck) EngineOption {
	return func(e *Engine) error {
		for _, check := range checks {
			e.gate.AddSafetyCheck(check)
		}
		return nil
	}
}

// WithFeedbackSink attaches a feedback sink. The engine owns its lifecycle:
// pass an unstarted sink and the engine starts and stops it alongside the
// other components.
func WithFeedbackSink(sink *feedback.Sink) EngineOption {
	return func(e *Engine) error {
		e.sink = sink
		return nil
	}
}

// WithDispatcherOptions applies options to the dispatcher component.
// These options are applied when the dispatcher is created.
func WithDispatcherOptions(opts ...DispatcherOption) EngineOption {
	return func(e *Engine) error {
		e.dispatcherOpts = append(e.dispatcherOpts, opts...)
		return nil
	}
}

// WithSchedulerOptions applies options to the scheduler component.
// These options are applied when the scheduler is created.
func WithSchedulerOptions(opts ...SchedulerOption) EngineOption {
	return func(e *Engine) error {
		e.schedulerOpts = append(e.schedulerOpts, opts...)
		return nil
	}
}

// WithSchedules registers schedules to be created when the engine starts.
// Give each schedule a fixed ID to make the preload idempotent across
// restarts; schedules that already exist are skipped.
func WithSchedules(schedules ...*Schedule) EngineOption {
	return func(e *Engine) error {
		e.preload = append(e.preload, schedules...)
		return nil
	}
}

// WithDefaultMaxRetries sets the retry budget tasks inherit when submitted
// without an explicit one. Default is 3.
func WithDefaultMaxRetries(n int8) EngineOption {
	return func(e *Engine) error {
		if n >= 0 {
			e.defaultMaxRetries = n
		}
		return nil
	}
}

// WithDefaultRetryDelay sets the delay between attempts tasks inherit when
// submitted without an explicit one. Default is 5s.
func WithDefaultRetryDelay(delay time.Duration) EngineOption {
	return func(e *Engine) error {
		if delay > 0 {
			e.defaultRetryDelay = delay
		}
		return nil
	}
}
