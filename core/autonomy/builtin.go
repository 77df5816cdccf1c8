package autonomy

import (
	"context"
	"log/slog"
	"time"
)

// Built-in action names. Every engine registers these at construction;
// callers may override any of them by re-registering the name.
const (
	ActionLog               = "log"
	ActionWait              = "wait"
	ActionChainCoordinator  = "chain_coordinator"
	ActionDailyReview       = "daily_review"
	ActionMemoryConsolidate = "memory_consolidation"
	ActionNewsUpdate        = "news_update"
	ActionDebugErrors       = "debug_errors"
	ActionKnowledgeUpdate   = "knowledge_update"
)

// builtinActions returns the default action set: a log primitive, a wait
// primitive, the chain coordinator used as the root of task chains, and
// overridable no-op placeholders for routine work.
func builtinActions(logger *slog.Logger) []Action {
	actions := []Action{
		NewAction(ActionLog, func(ctx context.Context, params map[string]any) (any, error) {
			message, _ := params["message"].(string)
			logger.InfoContext(ctx, "log action",
				slog.String("message", message))
			return message, nil
		},
			WithActionDescription("Write a message to the engine log."),
			WithActionParams(map[string]string{"message": "text to log"}),
		),

		NewAction(ActionWait, func(ctx context.Context, params map[string]any) (any, error) {
			seconds := numberParam(params, "seconds")
			timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
				return seconds, nil
			}
		},
			WithActionDescription("Sleep for the given number of seconds."),
			WithActionParams(map[string]string{"seconds": "duration to wait, in seconds"}),
		),

		// Chain parents are completed through the subtask rollup and never
		// reach a worker slot; the action exists so chains pass validation.
		NewAction(ActionChainCoordinator, func(ctx context.Context, params map[string]any) (any, error) {
			return nil, nil
		},
			WithActionDescription("Root of a multi-step task chain."),
		),
	}

	placeholders := map[string]string{
		ActionDailyReview:       "Review recent activity and produce a daily summary.",
		ActionMemoryConsolidate: "Consolidate accumulated memory into long-term storage.",
		ActionNewsUpdate:        "Fetch and digest news updates.",
		ActionDebugErrors:       "Investigate recently logged errors.",
		ActionKnowledgeUpdate:   "Refresh the knowledge base.",
	}
	for name, description := range placeholders {
		actions = append(actions, noopAction(name, description, logger))
	}

	return actions
}

// noopAction builds a placeholder that logs its invocation and succeeds.
// Deployments wire real implementations over these names.
func noopAction(name, description string, logger *slog.Logger) Action {
	return NewAction(name, func(ctx context.Context, params map[string]any) (any, error) {
		logger.DebugContext(ctx, "placeholder action invoked",
			slog.String("action", name))
		return nil, nil
	}, WithActionDescription(description))
}

// numberParam reads a numeric parameter that may arrive as any JSON or Go
// number type.
func numberParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
