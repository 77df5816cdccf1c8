// Package feedback collects observations about system behavior: explicit
// user reactions, agent self-assessments, and derived metrics. Entries are
// append-only records; each target accumulates a rolling summary updated on
// every append, and a metrics aggregator tracks operational counters with
// derived rates computed on read.
//
// # Basic Usage
//
// Create a sink, record feedback, and read summaries:
//
//	import "github.com/dmitrymomot/autonomy/core/feedback"
//
//	// Memory-only sink
//	sink := feedback.New()
//
//	// Record a reaction about a target
//	id, err := sink.Add(ctx, feedback.KindLike, "helpful answer",
//	    feedback.WithTarget(taskID.String(), "task"),
//	)
//
//	// Numeric content of RATING entries feeds a running average
//	sink.Add(ctx, feedback.KindRating, 4.5,
//	    feedback.WithTarget(taskID.String(), "task"),
//	    feedback.WithSource(feedback.SourceUser),
//	)
//
//	summary, err := sink.Summary(taskID.String())
//	// summary.Count, summary.PositiveCount, summary.AverageRating, ...
//
// # Persistence
//
// With a storage directory the sink loads persisted feedback at construction
// and an autosave loop snapshots state periodically and on shutdown:
//
//	sink := feedback.New(
//	    feedback.WithStorageDir("/var/lib/autonomy/feedback"),
//	    feedback.WithSaveInterval(time.Minute),
//	)
//
//	go sink.Start(ctx)
//	defer sink.Stop()
//
// Snapshots are atomic (write-temp-then-rename): feedback.json holds entries
// and summaries, metrics.json holds a write-only metrics snapshot.
//
// # Processors
//
// Processors observe every entry synchronously at append time. A panicking
// processor is recovered and logged without failing the append:
//
//	sink.RegisterProcessor(func(entry feedback.Entry) {
//	    if entry.Kind == feedback.KindDislike {
//	        alerting.Notify("negative feedback", entry.TargetID)
//	    }
//	})
//
// # Metrics
//
// The aggregator keeps named counters and bounded sample series; rates are
// derived when read:
//
//	m := sink.Metrics()
//	m.LogTaskCompletion("daily_review", true, 420*time.Millisecond)
//	m.LogToolUsage("web_search", true, 85*time.Millisecond)
//	m.LogResponseQuality(0.92)
//
//	snap := m.Snapshot()
//	// snap.Rates["task.success_rate"], snap.Samples["tool.latency_ms"].Mean, ...
//
// # Querying
//
// List returns entries newest first with optional filtering:
//
//	recent := sink.List(feedback.Filter{
//	    Kinds:    []feedback.Kind{feedback.KindCorrection},
//	    TargetID: taskID.String(),
//	    Limit:    20,
//	})
package feedback
