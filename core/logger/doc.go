// Package logger provides structured logging utilities built on Go's standard
// slog package: a factory with environment-specific configurations, and a set
// of pre-built attributes for the task execution domain.
//
// # Features
//
//   - Built on Go's standard slog for compatibility and performance
//   - Environment-specific configurations (development, staging, production)
//   - Attribute helpers for tasks, schedules, and feedback entries
//   - Support for both JSON and text output formats
//   - Type-safe attribute creation with nil safety
//
// # Basic Usage
//
// Create loggers using the factory function with various configuration options:
//
//	import "github.com/dmitrymomot/autonomy/core/logger"
//
//	// Create a development logger
//	log := logger.New(
//		logger.WithDevelopment("autonomy"),
//	)
//
//	// Create a production logger
//	log := logger.New(
//		logger.WithProduction("autonomy"),
//	)
//
//	// Use the logger
//	log.Info("Engine starting",
//		logger.Component("engine"),
//		logger.Event("startup"),
//	)
//
// # Environment Configurations
//
// The package provides pre-configured setups for different environments:
//
//	// Development: text format, debug level, stdout
//	devLogger := logger.New(logger.WithDevelopment("autonomy"))
//
//	// Production: JSON format, info level, stdout
//	prodLogger := logger.New(logger.WithProduction("autonomy"))
//
//	// Staging: JSON format, info level, stdout
//	stageLogger := logger.New(logger.WithStaging("autonomy"))
//
//	// Custom configuration
//	customLogger := logger.New(
//		logger.WithLevel(slog.LevelWarn),
//		logger.WithJSONFormatter(),
//		logger.WithAttr(slog.String("service", "scheduler")),
//		logger.WithOutput(os.Stderr),
//	)
//
// # Attribute Helpers
//
// The helpers return empty attributes for zero values, so call sites need no
// nil checks:
//
//	// Task execution
//	log.Info("task finished",
//		logger.TaskID(task.ID),
//		logger.Action(task.Action),
//		logger.Status(string(task.Status)),
//		logger.Duration(elapsed),
//	)
//
//	// Error handling
//	log.Error("snapshot write failed",
//		logger.Error(err),
//		logger.Component("storage"),
//		logger.RetryCount(attempt),
//	)
//
//	// Schedules and feedback
//	log.Debug("schedule armed",
//		logger.ScheduleID(schedule.ID),
//		logger.Action(schedule.Action),
//	)
//	log.Debug("feedback recorded",
//		logger.EntryID(entry.ID),
//		logger.TargetID(entry.TargetID),
//	)
//
// # Wiring Into Components
//
// Every background component takes a logger through its options; pass one
// built here:
//
//	log := logger.New(logger.WithProduction("autonomy"))
//
//	engine, err := autonomy.New(storage,
//		autonomy.WithEngineLogger(log.With(logger.Component("engine"))),
//		autonomy.WithDispatcherOptions(
//			autonomy.WithDispatcherLogger(log.With(logger.Component("dispatcher"))),
//		),
//	)
//
// # Testing with Custom Output
//
// Capture logs during testing:
//
//	var buf bytes.Buffer
//	log := logger.New(
//		logger.WithJSONFormatter(),
//		logger.WithOutput(&buf),
//	)
//
//	log.Info("Test message", logger.Component("test"))
//	assert.Contains(t, buf.String(), `"component":"test"`)
//
// # Global Logger Setup
//
// Set up a global default logger for your application:
//
//	log := logger.New(logger.WithProduction("autonomy"))
//	logger.SetAsDefault(log)
//
//	// Use anywhere in your application
//	slog.Info("Using global logger", logger.Component("global"))
package logger
