package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTaskStatusTerminal(t *testing.T) {
	terminal := []TaskStatus{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []TaskStatus{StatusPending, StatusQueued, StatusRunning, StatusRetrying}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestAgentInfoClampTasks(t *testing.T) {
	a := &AgentInfo{MaxConcurrentTasks: 5, CurrentTasks: -3}
	a.ClampTasks()
	if a.CurrentTasks != 0 {
		t.Fatalf("expected clamp to 0, got %d", a.CurrentTasks)
	}
	a.CurrentTasks = 9
	a.ClampTasks()
	if a.CurrentTasks != 5 {
		t.Fatalf("expected clamp to 5, got %d", a.CurrentTasks)
	}
}

func TestAgentInfoAvailable(t *testing.T) {
	now := time.Now()
	a := &AgentInfo{Healthy: true, LastHeartbeat: now.Add(-10 * time.Second), MaxConcurrentTasks: 2, CurrentTasks: 1}
	if !a.Available(now) {
		t.Fatalf("expected available")
	}
	a.LastHeartbeat = now.Add(-40 * time.Second)
	if a.Available(now) {
		t.Fatalf("expected stale agent to be unavailable")
	}
	a.LastHeartbeat = now
	a.CurrentTasks = 2
	if a.Available(now) {
		t.Fatalf("expected agent at capacity to be unavailable")
	}
}

func TestRequiredCapabilitiesUnknownType(t *testing.T) {
	if _, ok := RequiredCapabilities("not_a_real_type"); ok {
		t.Fatalf("expected unknown task type to miss")
	}
	caps, ok := RequiredCapabilities("report_generation")
	if !ok {
		t.Fatalf("expected report_generation to be known")
	}
	want := []string{"ingest", "analyze", "synthesize"}
	if len(caps) != len(want) {
		t.Fatalf("unexpected capability list: %v", caps)
	}
	for i := range want {
		if caps[i] != want[i] {
			t.Fatalf("capability[%d] = %s, want %s", i, caps[i], want[i])
		}
	}
}

func TestEstimateCompletionMsDefaultsToOne(t *testing.T) {
	if got := EstimateCompletionMs("unlisted_type"); got != EstimatorBaselineMs {
		t.Fatalf("expected default multiplier of 1.0, got %d", got)
	}
	if got := EstimateCompletionMs("real_time_monitoring"); got != 500 {
		t.Fatalf("expected 500ms for real_time_monitoring, got %d", got)
	}
}

func TestToStatusViewDedupesAgentsUsed(t *testing.T) {
	created := time.Now().Add(-2 * time.Second)
	updated := time.Now()
	ts := &TaskState{
		TaskID:    "t1",
		Status:    StatusCompleted,
		CreatedAt: created,
		UpdatedAt: updated,
		AgentExecutions: []AgentExecution{
			{AgentID: "a1", Capability: "ingest"},
			{AgentID: "a2", Capability: "analyze"},
			{AgentID: "a1", Capability: "ingest"},
		},
	}
	view := ts.ToStatusView()
	if len(view.Metrics.AgentsUsed) != 2 {
		t.Fatalf("expected 2 distinct agents used, got %v", view.Metrics.AgentsUsed)
	}
	if view.Metrics.TotalDurationMs <= 0 {
		t.Fatalf("expected positive total duration")
	}
}

// TestTaskStateRoundTripsInputsAsTypedSlice guards against Inputs being
// carried as an any-typed map entry: json.Marshal/Unmarshal through a
// map[string]any turns a []Input into []interface{} of
// map[string]interface{}, which a later type assertion back to []Input
// silently fails against (as RedisStore's GetTask does on every read).
// A dedicated, tagged field decodes back to []Input regardless.
func TestTaskStateRoundTripsInputsAsTypedSlice(t *testing.T) {
	original := &TaskState{
		TaskID:        "t1",
		TaskType:      "data_analysis",
		Inputs:        []Input{{InputID: "i1", Type: "text", Data: "hello"}},
		ExecutionMode: "parallel",
		Parameters:    map[string]any{"threshold": 0.9},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var roundTripped TaskState
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(roundTripped.Inputs) != 1 || roundTripped.Inputs[0].InputID != "i1" {
		t.Fatalf("expected inputs to survive the round trip as []Input, got %#v", roundTripped.Inputs)
	}
	if roundTripped.ExecutionMode != "parallel" {
		t.Fatalf("expected execution mode to survive the round trip, got %q", roundTripped.ExecutionMode)
	}
	if roundTripped.Parameters["threshold"] != 0.9 {
		t.Fatalf("expected parameters to survive the round trip, got %v", roundTripped.Parameters)
	}
}

func TestErrorRetryability(t *testing.T) {
	if ErrUnknownTaskType("x").Retryable {
		t.Fatalf("expected UNKNOWN_TASK_TYPE to be non-retryable")
	}
	if !ErrNoAgentsAvailable("ingest").Retryable {
		t.Fatalf("expected NO_AGENTS_AVAILABLE to be retryable")
	}
	if ErrCancelled("user").Retryable {
		t.Fatalf("expected CANCELLED to be non-retryable")
	}
}
