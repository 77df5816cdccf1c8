package feedback_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autonomy/core/feedback"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	metrics := feedback.NewMetrics()
	snapshot := metrics.Snapshot()

	assert.Empty(t, snapshot.Counters)
	assert.Empty(t, snapshot.Samples)
	assert.Empty(t, snapshot.Rates, "rates appear only once their inputs exist")
	assert.WithinDuration(t, time.Now(), snapshot.Timestamp, 2*time.Second)
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	metrics := feedback.NewMetrics()
	metrics.Inc("events")
	metrics.Inc("events")
	metrics.Add("events", 3)
	metrics.Add("bytes", 1024)

	counters := metrics.Snapshot().Counters
	assert.Equal(t, int64(5), counters["events"])
	assert.Equal(t, int64(1024), counters["bytes"])
}

func TestMetrics_Observe(t *testing.T) {
	t.Parallel()

	t.Run("summarizes a series", func(t *testing.T) {
		t.Parallel()

		metrics := feedback.NewMetrics()
		metrics.Observe("latency", 1)
		metrics.Observe("latency", 3)
		metrics.Observe("latency", 2)

		stats, ok := metrics.Snapshot().Samples["latency"]
		require.True(t, ok)
		assert.Equal(t, 3, stats.Count)
		assert.InDelta(t, 2, stats.Mean, 1e-9)
		assert.InDelta(t, 1, stats.Min, 1e-9)
		assert.InDelta(t, 3, stats.Max, 1e-9)
	})

	t.Run("oldest samples slide out", func(t *testing.T) {
		t.Parallel()

		metrics := feedback.NewMetrics()
		for i := 1; i <= 1005; i++ {
			metrics.Observe("latency", float64(i))
		}

		stats := metrics.Snapshot().Samples["latency"]
		assert.Equal(t, 1000, stats.Count)
		assert.InDelta(t, 6, stats.Min, 1e-9, "the first five observations slid out")
		assert.InDelta(t, 1005, stats.Max, 1e-9)
	})
}

func TestMetrics_LogTaskCompletion(t *testing.T) {
	t.Parallel()

	metrics := feedback.NewMetrics()
	metrics.LogTaskCompletion("summarize", true, 120*time.Millisecond)
	metrics.LogTaskCompletion("summarize", true, 80*time.Millisecond)
	metrics.LogTaskCompletion("summarize", false, 0)
	metrics.LogTaskCompletion("export", true, 0)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(3), snapshot.Counters["task.completed"])
	assert.Equal(t, int64(1), snapshot.Counters["task.failed"])
	assert.Equal(t, int64(2), snapshot.Counters["task.summarize.completed"])
	assert.Equal(t, int64(1), snapshot.Counters["task.summarize.failed"])
	assert.Equal(t, int64(1), snapshot.Counters["task.export.completed"])

	duration := snapshot.Samples["task.duration_ms"]
	assert.Equal(t, 2, duration.Count, "zero durations record no latency sample")
	assert.InDelta(t, 100, duration.Mean, 1e-9)

	assert.InDelta(t, 0.75, snapshot.Rates["task.success_rate"], 1e-9)
}

func TestMetrics_LogToolUsage(t *testing.T) {
	t.Parallel()

	metrics := feedback.NewMetrics()
	metrics.LogToolUsage("search", true, 50*time.Millisecond)
	metrics.LogToolUsage("search", true, 150*time.Millisecond)
	metrics.LogToolUsage("search", false, 0)
	metrics.LogToolUsage("fetch", true, 0)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(4), snapshot.Counters["tool.calls"])
	assert.Equal(t, int64(1), snapshot.Counters["tool.failures"])
	assert.Equal(t, int64(3), snapshot.Counters["tool.search.calls"])
	assert.Equal(t, int64(1), snapshot.Counters["tool.search.failures"])
	assert.Equal(t, int64(1), snapshot.Counters["tool.fetch.calls"])

	assert.Equal(t, 2, snapshot.Samples["tool.latency_ms"].Count)
	assert.InDelta(t, 0.75, snapshot.Rates["tool.success_rate"], 1e-9)
}

func TestMetrics_LogResponseQuality(t *testing.T) {
	t.Parallel()

	metrics := feedback.NewMetrics()
	metrics.LogResponseQuality(0.9)
	metrics.LogResponseQuality(0.8)
	metrics.LogResponseQuality(0.5)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(3), snapshot.Counters["response.count"])
	assert.Equal(t, int64(2), snapshot.Counters["response.high_quality"], "0.8 is the inclusive threshold")
	assert.Equal(t, 3, snapshot.Samples["response.quality"].Count)
	assert.InDelta(t, 2.0/3.0, snapshot.Rates["response.high_quality_rate"], 1e-9)
}

func TestMetrics_LogReasoning(t *testing.T) {
	t.Parallel()

	metrics := feedback.NewMetrics()
	metrics.LogReasoning(7, 300*time.Millisecond)
	metrics.LogReasoning(3, 0)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(2), snapshot.Counters["reasoning.count"])
	assert.InDelta(t, 5, snapshot.Samples["reasoning.steps"].Mean, 1e-9)
	assert.Equal(t, 1, snapshot.Samples["reasoning.duration_ms"].Count)
}

func TestMetrics_LogHallucination(t *testing.T) {
	t.Parallel()

	metrics := feedback.NewMetrics()
	metrics.LogHallucination(true, 0.9)
	metrics.LogHallucination(false, 0.2)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(2), snapshot.Counters["hallucination.checks"])
	assert.Equal(t, int64(1), snapshot.Counters["hallucination.detected"])
	assert.Equal(t, 2, snapshot.Samples["hallucination.confidence"].Count)
	assert.InDelta(t, 0.5, snapshot.Rates["hallucination.detection_rate"], 1e-9)
}

func TestMetrics_LogTokenUsage(t *testing.T) {
	t.Parallel()

	metrics := feedback.NewMetrics()
	metrics.LogTokenUsage(100, 40)
	metrics.LogTokenUsage(200, 60)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(300), snapshot.Counters["tokens.prompt"])
	assert.Equal(t, int64(100), snapshot.Counters["tokens.completion"])

	total := snapshot.Samples["tokens.total"]
	assert.Equal(t, 2, total.Count)
	assert.InDelta(t, 200, total.Mean, 1e-9)
}

func TestMetrics_LogPerformance(t *testing.T) {
	t.Parallel()

	metrics := feedback.NewMetrics()
	metrics.LogPerformance("queue_depth", 12)

	stats, ok := metrics.Snapshot().Samples["performance.queue_depth"]
	require.True(t, ok)
	assert.Equal(t, 1, stats.Count)
	assert.InDelta(t, 12, stats.Max, 1e-9)
}

func TestMetrics_Reset(t *testing.T) {
	t.Parallel()

	metrics := feedback.NewMetrics()
	metrics.Inc("events")
	metrics.Observe("latency", 1)

	metrics.Reset()

	snapshot := metrics.Snapshot()
	assert.Empty(t, snapshot.Counters)
	assert.Empty(t, snapshot.Samples)
}
