package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/taskmesh/orchestrator/internal/model"
	"github.com/taskmesh/orchestrator/internal/store"
)

func newTestServer(t *testing.T, statusByCapability map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req invocationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		status := statusByCapability[req.Capability]
		if status == "" {
			status = "completed"
		}
		resp := invocationResponse{Status: status, ExecutionTimeMs: 1}
		if status == "completed" {
			resp.Output = &model.Output{OutputType: req.Capability + "_output", Data: map[string]any{"ok": true}}
		} else {
			resp.Error = &struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			}{Message: "worker failed", Type: "WORKER_FAILURE"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func registerAgents(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		a := &model.AgentInfo{AgentID: id, AgentType: "generic", Healthy: true, MaxConcurrentTasks: 5, LastHeartbeat: time.Now()}
		if err := st.RegisterAgent(context.Background(), a); err != nil {
			t.Fatalf("register agent %s: %v", id, err)
		}
	}
}

func planFor(srv *httptest.Server, caps ...string) model.ExecutionPlan {
	var plan model.ExecutionPlan
	for _, c := range caps {
		plan = append(plan, model.PlanStage{Capability: c, AgentID: c + "-agent", Endpoint: srv.URL})
	}
	return plan
}

func TestRunSequentialHappyPath(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	st := store.NewMemoryStore()
	registerAgents(t, st, "ingest-agent", "analyze-agent", "synthesize-agent")

	e := NewEngine(NewDispatcher(st, 5*time.Second))
	result := e.Run(context.Background(), "t1", planFor(srv, "ingest", "analyze", "synthesize"), Sequential)

	if len(result.Stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(result.Stages))
	}
	for i, capability := range []string{"ingest", "analyze", "synthesize"} {
		if result.Stages[i].Capability != capability {
			t.Fatalf("stage %d capability = %s, want %s", i, result.Stages[i].Capability, capability)
		}
	}
	if result.FinalOutput == nil || result.FinalOutput.OutputType != "synthesize_output" {
		t.Fatalf("expected final output from synthesize stage, got %+v", result.FinalOutput)
	}
}

func TestRunParallelPartialFailureTolerated(t *testing.T) {
	srv := newTestServer(t, map[string]string{"b": "failed"})
	defer srv.Close()
	st := store.NewMemoryStore()
	registerAgents(t, st, "a-agent", "b-agent")

	e := NewEngine(NewDispatcher(st, 5*time.Second))
	result := e.Run(context.Background(), "t1", planFor(srv, "a", "b"), Parallel)

	if result.AllFailed {
		t.Fatalf("expected partial failure to be tolerated")
	}
	if len(result.SuccessfulOutputs) != 1 {
		t.Fatalf("expected 1 successful output, got %d", len(result.SuccessfulOutputs))
	}
}

func TestRunParallelTotalFailure(t *testing.T) {
	srv := newTestServer(t, map[string]string{"a": "failed", "b": "failed"})
	defer srv.Close()
	st := store.NewMemoryStore()
	registerAgents(t, st, "a-agent", "b-agent")

	e := NewEngine(NewDispatcher(st, 5*time.Second))
	result := e.Run(context.Background(), "t1", planFor(srv, "a", "b"), Parallel)

	if !result.AllFailed {
		t.Fatalf("expected all-failed when every stage fails")
	}
}

func TestRunParallelAggregatesMultipleSuccesses(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	st := store.NewMemoryStore()
	registerAgents(t, st, "a-agent", "b-agent")

	e := NewEngine(NewDispatcher(st, 5*time.Second))
	result := e.Run(context.Background(), "t1", planFor(srv, "a", "b"), Parallel)

	if len(result.SuccessfulOutputs) != 2 {
		t.Fatalf("expected 2 successful outputs, got %d", len(result.SuccessfulOutputs))
	}
	if result.FinalOutput == nil || result.FinalOutput.OutputType != "parallel_aggregate" {
		t.Fatalf("expected an aggregate final output, got %+v", result.FinalOutput)
	}
	data, ok := result.FinalOutput.Data.([]any)
	if !ok || len(data) != 2 {
		t.Fatalf("expected aggregate data to carry both outputs, got %#v", result.FinalOutput.Data)
	}
}

func TestRunHybridFeedsPhase2TheFullStage1Aggregate(t *testing.T) {
	var receivedInputs [][]model.Input
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req invocationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Capability == "c" {
			mu.Lock()
			receivedInputs = append(receivedInputs, req.Inputs)
			mu.Unlock()
		}
		resp := invocationResponse{Status: "completed", ExecutionTimeMs: 1,
			Output: &model.Output{OutputType: req.Capability + "_output", Data: map[string]any{"ok": true}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()
	st := store.NewMemoryStore()
	registerAgents(t, st, "a-agent", "b-agent", "c-agent", "d-agent")

	e := NewEngine(NewDispatcher(st, 5*time.Second))
	plan := planFor(srv, "a", "b", "c", "d")
	result := e.Run(context.Background(), "t1", plan, Hybrid)

	// phase1 = [a, b] both succeed; phase2 = [c, d] should each receive both
	// of phase1's successful outputs as inputs, not just the last one.
	if len(result.Stages) != 4 {
		t.Fatalf("expected 4 stages total, got %d", len(result.Stages))
	}
	if len(receivedInputs) != 1 || len(receivedInputs[0]) != 2 {
		t.Fatalf("expected phase2's stage c to receive both phase1 outputs, got %#v", receivedInputs)
	}
}

func TestRunHybridSplitsAtMidpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	st := store.NewMemoryStore()
	registerAgents(t, st, "a-agent", "b-agent", "c-agent", "d-agent")

	e := NewEngine(NewDispatcher(st, 5*time.Second))
	result := e.Run(context.Background(), "t1", planFor(srv, "a", "b", "c", "d"), Hybrid)

	if len(result.Stages) != 4 {
		t.Fatalf("expected 4 stages total, got %d", len(result.Stages))
	}
	if result.FinalOutput == nil {
		t.Fatalf("expected a final output from phase 2")
	}
}

func TestDispatchStageTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(invocationResponse{Status: "completed"})
	}))
	defer srv.Close()
	st := store.NewMemoryStore()
	registerAgents(t, st, "slow-agent")

	d := NewDispatcher(st, 50*time.Millisecond)
	stage := model.PlanStage{Capability: "slow", AgentID: "slow-agent", Endpoint: srv.URL}
	result := d.DispatchStage(context.Background(), "t1", stage)

	if result.Status != "failed" || result.Err == nil || result.Err.Code != model.CodeTimeout {
		t.Fatalf("expected TIMEOUT failure, got %+v", result)
	}
}
