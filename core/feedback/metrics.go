package feedback

import (
	"sync"
	"time"
)

// maxSamples bounds each sample series; older observations slide out.
const maxSamples = 1000

// highQualityThreshold is the score at or above which a response counts as
// high quality.
const highQualityThreshold = 0.8

// Metrics aggregates named counters and bounded sample series describing how
// the system is performing: task outcomes, tool usage, response quality,
// reasoning effort, hallucination checks, and token spend. Derived rates are
// computed on read via Snapshot. Safe for concurrent use.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]int64
	samples  map[string][]float64
}

// NewMetrics creates an empty metrics aggregator.
func NewMetrics() *Metrics {
	return &Metrics{
		counters: make(map[string]int64),
		samples:  make(map[string][]float64),
	}
}

// Inc increments a named counter by one.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// Add increments a named counter by delta.
func (m *Metrics) Add(name string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

// Observe appends a value to a named sample series. Each series holds at
// most maxSamples values; the oldest slide out.
func (m *Metrics) Observe(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := append(m.samples[name], value)
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	m.samples[name] = samples
}

// LogTaskCompletion records one task outcome, both in aggregate and per
// action. A zero duration records no latency sample.
func (m *Metrics) LogTaskCompletion(action string, success bool, duration time.Duration) {
	if success {
		m.Inc("task.completed")
		m.Inc("task." + action + ".completed")
	} else {
		m.Inc("task.failed")
		m.Inc("task." + action + ".failed")
	}
	if duration > 0 {
		m.Observe("task.duration_ms", float64(duration.Milliseconds()))
	}
}

// LogToolUsage records one tool invocation, both in aggregate and per tool.
func (m *Metrics) LogToolUsage(tool string, success bool, latency time.Duration) {
	m.Inc("tool.calls")
	m.Inc("tool." + tool + ".calls")
	if !success {
		m.Inc("tool.failures")
		m.Inc("tool." + tool + ".failures")
	}
	if latency > 0 {
		m.Observe("tool.latency_ms", float64(latency.Milliseconds()))
	}
}

// LogResponseQuality records one response quality score in [0, 1].
func (m *Metrics) LogResponseQuality(score float64) {
	m.Inc("response.count")
	if score >= highQualityThreshold {
		m.Inc("response.high_quality")
	}
	m.Observe("response.quality", score)
}

// LogReasoning records the effort one reasoning pass took.
func (m *Metrics) LogReasoning(steps int, duration time.Duration) {
	m.Inc("reasoning.count")
	m.Observe("reasoning.steps", float64(steps))
	if duration > 0 {
		m.Observe("reasoning.duration_ms", float64(duration.Milliseconds()))
	}
}

// LogHallucination records the outcome of one hallucination check.
func (m *Metrics) LogHallucination(detected bool, confidence float64) {
	m.Inc("hallucination.checks")
	if detected {
		m.Inc("hallucination.detected")
	}
	m.Observe("hallucination.confidence", confidence)
}

// LogTokenUsage records token spend for one model call.
func (m *Metrics) LogTokenUsage(prompt, completion int) {
	m.Add("tokens.prompt", int64(prompt))
	m.Add("tokens.completion", int64(completion))
	m.Observe("tokens.total", float64(prompt+completion))
}

// LogPerformance records an ad hoc performance measurement under
// "performance.<name>".
func (m *Metrics) LogPerformance(name string, value float64) {
	m.Observe("performance."+name, value)
}

// SampleStats summarizes one bounded sample series.
type SampleStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// MetricsSnapshot is a point-in-time view of all counters, sample summaries,
// and derived rates.
type MetricsSnapshot struct {
	Counters  map[string]int64       `json:"counters"`
	Samples   map[string]SampleStats `json:"samples"`
	Rates     map[string]float64     `json:"rates"`
	Timestamp time.Time              `json:"timestamp"`
}

// Snapshot computes the current snapshot. Rates are derived on read:
// task success rate, tool success rate, high-quality response fraction, and
// hallucination detection rate appear once their inputs exist.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, value := range m.counters {
		counters[name] = value
	}

	samples := make(map[string]SampleStats, len(m.samples))
	for name, series := range m.samples {
		samples[name] = summarize(series)
	}

	rates := make(map[string]float64)
	if total := counters["task.completed"] + counters["task.failed"]; total > 0 {
		rates["task.success_rate"] = float64(counters["task.completed"]) / float64(total)
	}
	if calls := counters["tool.calls"]; calls > 0 {
		rates["tool.success_rate"] = float64(calls-counters["tool.failures"]) / float64(calls)
	}
	if responses := counters["response.count"]; responses > 0 {
		rates["response.high_quality_rate"] = float64(counters["response.high_quality"]) / float64(responses)
	}
	if checks := counters["hallucination.checks"]; checks > 0 {
		rates["hallucination.detection_rate"] = float64(counters["hallucination.detected"]) / float64(checks)
	}

	return MetricsSnapshot{
		Counters:  counters,
		Samples:   samples,
		Rates:     rates,
		Timestamp: time.Now(),
	}
}

// Reset drops all counters and samples.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters = make(map[string]int64)
	m.samples = make(map[string][]float64)
}

func summarize(series []float64) SampleStats {
	if len(series) == 0 {
		return SampleStats{}
	}

	stats := SampleStats{
		Count: len(series),
		Min:   series[0],
		Max:   series[0],
	}
	sum := 0.0
	for _, value := range series {
		sum += value
		if value < stats.Min {
			stats.Min = value
		}
		if value > stats.Max {
			stats.Max = value
		}
	}
	stats.Mean = sum / float64(len(series))

	return stats
}
