// Package metrics implements the in-process metrics collector (C2): a
// thread-safe set of counters, gauges, and bounded-ring histograms with
// nearest-rank percentiles, exposed in Prometheus text format. Grounded on
// original_source/monitoring/metrics.py's MetricsCollector; kept
// hand-rolled rather than built on prometheus/client_golang because that
// library's bucketed-histogram model cannot reproduce the documented
// ring-buffer/nearest-rank percentile semantics exactly (see DESIGN.md).
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultHistorySize is the default per-key ring buffer capacity.
const DefaultHistorySize = 1000

// HistogramStats summarizes one histogram key's current samples.
type HistogramStats struct {
	Count int64
	Mean  float64
	P50   float64
	P95   float64
	P99   float64
	Min   float64
	Max   float64
}

// TaskMetrics is the task-specific view used by status/health endpoints.
type TaskMetrics struct {
	TasksSubmitted   int64
	TasksCompleted   int64
	TasksFailed      int64
	TasksCancelled   int64
	TasksUnder500ms  int64
	SuccessRatePct   float64
	ErrorRatePct     float64
	LatencyMs        HistogramStats
	UptimeSeconds    float64
}

// SLACompliance is the result of checkSlaCompliance.
type SLACompliance struct {
	LatencyP95Under500ms     bool
	ErrorRateUnder1Percent   bool
	SuccessRateAbove99Percent bool
}

// Collector is a thread-safe counters/gauges/bounded-histograms store.
type Collector struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
	historyCap int
	startTime  time.Time
}

// New builds a Collector whose histograms retain at most historyCap
// samples per key (oldest evicted first). historyCap <= 0 uses DefaultHistorySize.
func New(historyCap int) *Collector {
	if historyCap <= 0 {
		historyCap = DefaultHistorySize
	}
	c := &Collector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		historyCap: historyCap,
		startTime:  time.Now(),
	}
	c.initStandardCounters()
	return c
}

func (c *Collector) initStandardCounters() {
	for _, name := range []string{
		"tasks_submitted", "tasks_completed", "tasks_failed",
		"tasks_cancelled", "tasks_retried", "tasks_running", "tasks_under_500ms",
	} {
		c.counters[name] = 0
	}
}

func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, labels[k]))
	}
	return fmt.Sprintf("%s{%s}", name, strings.Join(parts, ","))
}

// Increment adds delta to a counter (delta may be negative; see Decrement).
func (c *Collector) Increment(name string, delta float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[makeKey(name, labels)] += delta
}

// Decrement subtracts delta from a counter.
func (c *Collector) Decrement(name string, delta float64, labels map[string]string) {
	c.Increment(name, -delta, labels)
}

// SetGauge sets a gauge to an absolute value.
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[makeKey(name, labels)] = value
}

// Record appends a sample to a histogram's ring buffer, evicting the
// oldest sample once historyCap is exceeded.
func (c *Collector) Record(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := makeKey(name, labels)
	buf := c.histograms[key]
	buf = append(buf, value)
	if len(buf) > c.historyCap {
		buf = buf[len(buf)-c.historyCap:]
	}
	c.histograms[key] = buf
}

// GetCounter returns a counter's current value, 0 if unseen.
func (c *Collector) GetCounter(name string, labels map[string]string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[makeKey(name, labels)]
}

// GetGauge returns a gauge's current value, 0 if unseen.
func (c *Collector) GetGauge(name string, labels map[string]string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gauges[makeKey(name, labels)]
}

// GetHistogramStats computes count/mean/percentiles/min/max over the
// current ring buffer contents via nearest-rank percentiles.
func (c *Collector) GetHistogramStats(name string, labels map[string]string) HistogramStats {
	c.mu.Lock()
	samples := append([]float64(nil), c.histograms[makeKey(name, labels)]...)
	c.mu.Unlock()

	if len(samples) == 0 {
		return HistogramStats{}
	}
	sort.Float64s(samples)

	var sum float64
	for _, v := range samples {
		sum += v
	}
	return HistogramStats{
		Count: int64(len(samples)),
		Mean:  sum / float64(len(samples)),
		P50:   percentile(samples, 50),
		P95:   percentile(samples, 95),
		P99:   percentile(samples, 99),
		Min:   samples[0],
		Max:   samples[len(samples)-1],
	}
}

// percentile implements nearest-rank over an already-sorted slice.
func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int((float64(pct) / 100.0) * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// GetTaskMetrics returns the task-specific rollup used by status/health endpoints.
func (c *Collector) GetTaskMetrics() TaskMetrics {
	c.mu.Lock()
	submitted := c.counters["tasks_submitted"]
	completed := c.counters["tasks_completed"]
	failed := c.counters["tasks_failed"]
	cancelled := c.counters["tasks_cancelled"]
	under500 := c.counters["tasks_under_500ms"]
	uptime := time.Since(c.startTime).Seconds()
	c.mu.Unlock()

	terminal := completed + failed + cancelled
	var successRate, errorRate float64
	if terminal > 0 {
		successRate = completed / terminal * 100
		errorRate = failed / terminal * 100
	}

	return TaskMetrics{
		TasksSubmitted:  int64(submitted),
		TasksCompleted:  int64(completed),
		TasksFailed:     int64(failed),
		TasksCancelled:  int64(cancelled),
		TasksUnder500ms: int64(under500),
		SuccessRatePct:  successRate,
		ErrorRatePct:    errorRate,
		LatencyMs:       c.GetHistogramStats("task_execution_time_ms", nil),
		UptimeSeconds:   uptime,
	}
}

// CheckSLACompliance evaluates the three fixed SLA thresholds.
func (c *Collector) CheckSLACompliance() SLACompliance {
	m := c.GetTaskMetrics()
	return SLACompliance{
		LatencyP95Under500ms:      m.LatencyMs.P95 < 500,
		ErrorRateUnder1Percent:    m.ErrorRatePct < 1.0,
		SuccessRateAbove99Percent: m.SuccessRatePct >= 99.0,
	}
}

// ExportPrometheusText renders the text-exposition format: one # TYPE +
// value line per counter/gauge, a five-line summary block per histogram.
func (c *Collector) ExportPrometheusText() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	counterNames := sortedKeys(c.counters)
	for _, name := range counterNames {
		base := baseName(name)
		fmt.Fprintf(&b, "# TYPE %s counter\n", base)
		fmt.Fprintf(&b, "%s %v\n", name, c.counters[name])
	}
	gaugeNames := sortedKeys(c.gauges)
	for _, name := range gaugeNames {
		base := baseName(name)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", base)
		fmt.Fprintf(&b, "%s %v\n", name, c.gauges[name])
	}
	histNames := sortedKeys(c.histograms)
	for _, name := range histNames {
		base := baseName(name)
		samples := append([]float64(nil), c.histograms[name]...)
		sort.Float64s(samples)
		var stats HistogramStats
		if len(samples) > 0 {
			var sum float64
			for _, v := range samples {
				sum += v
			}
			stats = HistogramStats{
				Count: int64(len(samples)),
				P50:   percentile(samples, 50),
				P95:   percentile(samples, 95),
				P99:   percentile(samples, 99),
			}
		}
		fmt.Fprintf(&b, "# TYPE %s summary\n", base)
		fmt.Fprintf(&b, "%s{quantile=\"0.5\"} %v\n", base, stats.P50)
		fmt.Fprintf(&b, "%s{quantile=\"0.95\"} %v\n", base, stats.P95)
		fmt.Fprintf(&b, "%s{quantile=\"0.99\"} %v\n", base, stats.P99)
		fmt.Fprintf(&b, "%s_count %d\n", base, stats.Count)
	}
	return b.String()
}

func baseName(key string) string {
	if i := strings.IndexByte(key, '{'); i >= 0 {
		return key[:i]
	}
	return key
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset clears all counters, gauges, and histograms. Intended for tests.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]float64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string][]float64)
	c.startTime = time.Now()
	c.initStandardCounters()
}
