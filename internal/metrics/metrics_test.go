package metrics

import (
	"strings"
	"testing"
)

func TestIncrementAndGetCounter(t *testing.T) {
	c := New(100)
	c.Increment("tasks_submitted", 1, nil)
	c.Increment("tasks_submitted", 2, nil)
	if got := c.GetCounter("tasks_submitted", nil); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestDecrementSubtracts(t *testing.T) {
	c := New(100)
	c.Increment("tasks_running", 5, nil)
	c.Decrement("tasks_running", 2, nil)
	if got := c.GetCounter("tasks_running", nil); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestSetGauge(t *testing.T) {
	c := New(100)
	c.SetGauge("queue_depth_ingest", 7, nil)
	if got := c.GetGauge("queue_depth_ingest", nil); got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
}

func TestHistogramRingBufferEvictsOldest(t *testing.T) {
	c := New(3)
	for i := 1; i <= 5; i++ {
		c.Record("latency", float64(i), nil)
	}
	stats := c.GetHistogramStats("latency", nil)
	if stats.Count != 3 {
		t.Fatalf("expected ring capped at 3, got count=%d", stats.Count)
	}
	if stats.Min != 3 || stats.Max != 5 {
		t.Fatalf("expected samples [3,4,5], got min=%v max=%v", stats.Min, stats.Max)
	}
}

func TestHistogramPercentilesNearestRank(t *testing.T) {
	c := New(100)
	for i := 1; i <= 100; i++ {
		c.Record("task_execution_time_ms", float64(i), nil)
	}
	stats := c.GetHistogramStats("task_execution_time_ms", nil)
	if stats.P50 != 51 {
		t.Fatalf("expected p50=51, got %v", stats.P50)
	}
	if stats.P95 != 96 {
		t.Fatalf("expected p95=96, got %v", stats.P95)
	}
	if stats.P99 != 100 {
		t.Fatalf("expected p99=100, got %v", stats.P99)
	}
}

func TestTaskMetricsRates(t *testing.T) {
	c := New(100)
	c.Increment("tasks_completed", 99, nil)
	c.Increment("tasks_failed", 1, nil)
	tm := c.GetTaskMetrics()
	if tm.SuccessRatePct != 99 {
		t.Fatalf("expected success rate 99, got %v", tm.SuccessRatePct)
	}
	if tm.ErrorRatePct != 1 {
		t.Fatalf("expected error rate 1, got %v", tm.ErrorRatePct)
	}
}

func TestSLACompliance(t *testing.T) {
	c := New(100)
	c.Increment("tasks_completed", 100, nil)
	for i := 0; i < 10; i++ {
		c.Record("task_execution_time_ms", 100, nil)
	}
	sla := c.CheckSLACompliance()
	if !sla.LatencyP95Under500ms || !sla.ErrorRateUnder1Percent || !sla.SuccessRateAbove99Percent {
		t.Fatalf("expected full SLA compliance, got %+v", sla)
	}
}

func TestExportPrometheusTextFormat(t *testing.T) {
	c := New(100)
	c.Increment("tasks_submitted", 1, nil)
	c.SetGauge("queue_depth_ingest", 2, nil)
	c.Record("task_execution_time_ms", 10, nil)

	text := c.ExportPrometheusText()
	if !containsAll(text, []string{
		"# TYPE tasks_submitted counter",
		"# TYPE queue_depth_ingest gauge",
		"# TYPE task_execution_time_ms summary",
		"task_execution_time_ms_count 1",
	}) {
		t.Fatalf("missing expected exposition lines:\n%s", text)
	}
}

func TestResetClearsMetrics(t *testing.T) {
	c := New(100)
	c.Increment("tasks_submitted", 5, nil)
	c.Record("task_execution_time_ms", 10, nil)
	c.Reset()
	if got := c.GetCounter("tasks_submitted", nil); got != 0 {
		t.Fatalf("expected reset counter to be 0, got %v", got)
	}
	if stats := c.GetHistogramStats("task_execution_time_ms", nil); stats.Count != 0 {
		t.Fatalf("expected reset histogram to be empty, got count=%d", stats.Count)
	}
}

func containsAll(haystack string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}
