package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/taskmesh/orchestrator/internal/model"
)

func TestExecuteRejectsEmptyInputs(t *testing.T) {
	base := NewBaseAgent("ingest-1", "ingest", 2)
	agent := &IngestAgent{BaseAgent: base}

	env := Execute(context.Background(), agent, &agent.BaseAgent, "t1", nil, nil)
	if env.Status != "failed" || env.Error == nil || env.Error.Type != "ValidationError" {
		t.Fatalf("expected validation failure, got %+v", env)
	}
}

func TestExecuteIngestTextAndJSON(t *testing.T) {
	base := NewBaseAgent("ingest-1", "ingest", 2)
	agent := &IngestAgent{BaseAgent: base}

	inputs := []model.Input{
		{InputID: "1", Type: "text", Data: "hello world from a transcript"},
		{InputID: "2", Type: "json", Data: map[string]any{"a": 1}},
	}
	env := Execute(context.Background(), agent, &agent.BaseAgent, "t1", inputs, nil)
	if env.Status != "completed" {
		t.Fatalf("expected completed, got %+v", env)
	}
	data, ok := env.Output.Data.(map[string]any)
	if !ok || data["count"] != 2 {
		t.Fatalf("expected 2 ingested records, got %+v", env.Output.Data)
	}
}

func TestAnalyzeAgentSummarizesIngestedData(t *testing.T) {
	base := NewBaseAgent("analyze-1", "analyze", 2)
	agent := &AnalyzeAgent{BaseAgent: base}

	inputs := []model.Input{
		{
			InputID: "ingest-output", Type: "ingested_data",
			Data: map[string]any{"records": []map[string]any{{"length": 10}, {"length": 12}}},
		},
	}
	env := Execute(context.Background(), agent, &agent.BaseAgent, "t1", inputs, nil)
	if env.Status != "completed" {
		t.Fatalf("expected completed, got %+v", env)
	}
}

func TestSynthesizeAgentBuildsReport(t *testing.T) {
	base := NewBaseAgent("synth-1", "synthesize", 2)
	agent := &SynthesizeAgent{BaseAgent: base}

	inputs := []model.Input{
		{
			InputID: "analysis", Type: "analysis_result",
			Data: map[string]any{"summary_statistics": map[string]any{"count": 5}},
		},
	}
	env := Execute(context.Background(), agent, &agent.BaseAgent, "t1", inputs, map[string]any{"report_title": "Weekly Report"})
	if env.Status != "completed" {
		t.Fatalf("expected completed, got %+v", env)
	}
	report, ok := env.Output.Data.(map[string]any)
	if !ok || report["title"] != "Weekly Report" {
		t.Fatalf("expected custom report title, got %+v", env.Output.Data)
	}
}

func TestAPICallerRejectsMissingEndpoint(t *testing.T) {
	agent := NewAPICallerAgent("api-1", 2)

	inputs := []model.Input{{InputID: "1", Type: "json", Data: map[string]any{"x": 1}}}
	env := Execute(context.Background(), agent, &agent.BaseAgent, "t1", inputs, nil)
	if env.Status != "completed" {
		t.Fatalf("expected completed envelope (per-call errors live in the response body), got %+v", env)
	}
	data := env.Output.Data.(map[string]any)
	if data["error_count"] != 1 {
		t.Fatalf("expected 1 error for missing endpoint, got %+v", data)
	}
}

// TestExecuteConcurrentCallsDontLoseCounterUpdates drives many concurrent
// Execute calls at once, the same way concurrent /invoke HTTP requests do
// against a single agent with MaxConcurrentTasks > 1. Plain int64 counters
// would lose increments under this; atomic counters must not.
func TestExecuteConcurrentCallsDontLoseCounterUpdates(t *testing.T) {
	const n = 100
	base := NewBaseAgent("ingest-1", "ingest", n)
	agent := &IngestAgent{BaseAgent: base}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			Execute(context.Background(), agent, &agent.BaseAgent, "t1",
				[]model.Input{{InputID: "1", Type: "text", Data: "hi"}}, nil)
		}()
	}
	wg.Wait()

	health := agent.GetHealth()
	if health.TotalCompleted != n {
		t.Fatalf("expected %d completed with no lost updates, got %d", n, health.TotalCompleted)
	}
	if health.CurrentTasks != 0 {
		t.Fatalf("expected current_tasks to settle back to 0, got %d", health.CurrentTasks)
	}
}

func TestGetHealthTracksCompletionCounts(t *testing.T) {
	base := NewBaseAgent("ingest-1", "ingest", 2)
	agent := &IngestAgent{BaseAgent: base}

	Execute(context.Background(), agent, &agent.BaseAgent, "t1",
		[]model.Input{{InputID: "1", Type: "text", Data: "hi"}}, nil)
	Execute(context.Background(), agent, &agent.BaseAgent, "t2", nil, nil)

	health := agent.GetHealth()
	if health.TotalCompleted != 1 || health.TotalFailed != 1 {
		t.Fatalf("expected 1 completed and 1 failed, got %+v", health)
	}
}
