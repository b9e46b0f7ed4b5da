package balancer

import (
	"context"
	"testing"
	"time"

	"github.com/taskmesh/orchestrator/internal/model"
	"github.com/taskmesh/orchestrator/internal/store"
)

func registerAgent(t *testing.T, st store.Store, id string, current, max int) {
	t.Helper()
	a := &model.AgentInfo{
		AgentID:            id,
		AgentType:          "ingest",
		Healthy:            true,
		CurrentTasks:       current,
		MaxConcurrentTasks: max,
		LastHeartbeat:      time.Now(),
	}
	if err := st.RegisterAgent(context.Background(), a); err != nil {
		t.Fatalf("register agent %s: %v", id, err)
	}
}

func TestSelectAgentNoneRegisteredReturnsNil(t *testing.T) {
	st := store.NewMemoryStore()
	b := New(st, LeastLoaded)
	agent, err := b.SelectAgent(context.Background(), "ingest")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent != nil {
		t.Fatalf("expected nil agent, got %+v", agent)
	}
}

func TestSelectAgentLeastLoaded(t *testing.T) {
	st := store.NewMemoryStore()
	registerAgent(t, st, "a1", 3, 10)
	registerAgent(t, st, "a2", 1, 10)
	registerAgent(t, st, "a3", 5, 10)

	b := New(st, LeastLoaded)
	agent, err := b.SelectAgent(context.Background(), "ingest")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent == nil || agent.AgentID != "a2" {
		t.Fatalf("expected a2 (least loaded), got %+v", agent)
	}
}

func TestSelectAgentRoundRobinCycles(t *testing.T) {
	st := store.NewMemoryStore()
	registerAgent(t, st, "a1", 0, 10)
	registerAgent(t, st, "a2", 0, 10)

	b := New(st, RoundRobin)
	first, _ := b.SelectAgent(context.Background(), "ingest")
	second, _ := b.SelectAgent(context.Background(), "ingest")
	third, _ := b.SelectAgent(context.Background(), "ingest")

	if first.AgentID == second.AgentID {
		t.Fatalf("expected round robin to alternate, got %s then %s", first.AgentID, second.AgentID)
	}
	if first.AgentID != third.AgentID {
		t.Fatalf("expected round robin to cycle back, got %s vs %s", first.AgentID, third.AgentID)
	}
}

func TestSelectAgentExcludesStaleHeartbeat(t *testing.T) {
	st := store.NewMemoryStore()
	stale := &model.AgentInfo{
		AgentID: "stale", AgentType: "ingest", Healthy: true,
		MaxConcurrentTasks: 10, CurrentTasks: 0,
		LastHeartbeat: time.Now().Add(-40 * time.Second),
	}
	_ = st.RegisterAgent(context.Background(), stale)

	b := New(st, LeastLoaded)
	agent, err := b.SelectAgent(context.Background(), "ingest")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent != nil {
		t.Fatalf("expected stale-heartbeat agent to be excluded, got %+v", agent)
	}
}

func TestSelectAgentExcludesAtCapacity(t *testing.T) {
	st := store.NewMemoryStore()
	registerAgent(t, st, "full", 5, 5)

	b := New(st, LeastLoaded)
	agent, err := b.SelectAgent(context.Background(), "ingest")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent != nil {
		t.Fatalf("expected agent at capacity to be excluded, got %+v", agent)
	}
}

func TestSelectWeightedPrefersLowerUtilization(t *testing.T) {
	st := store.NewMemoryStore()
	registerAgent(t, st, "busy", 8, 10)
	registerAgent(t, st, "idle", 1, 10)

	b := New(st, Weighted)
	agent, err := b.SelectAgent(context.Background(), "ingest")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent == nil || agent.AgentID != "idle" {
		t.Fatalf("expected idle agent to win on weighted score, got %+v", agent)
	}
}

func TestReportFailureThenSuccessRoundTrips(t *testing.T) {
	st := store.NewMemoryStore()
	registerAgent(t, st, "a1", 0, 10)
	b := New(st, LeastLoaded)
	ctx := context.Background()

	if err := b.ReportFailure(ctx, "a1", nil); err != nil {
		t.Fatalf("report failure: %v", err)
	}
	agent, err := b.SelectAgent(ctx, "ingest")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent != nil {
		t.Fatalf("expected soft-ejected agent to be unavailable, got %+v", agent)
	}

	if err := b.ReportSuccess(ctx, "a1"); err != nil {
		t.Fatalf("report success: %v", err)
	}
	agent, err = b.SelectAgent(ctx, "ingest")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if agent == nil {
		t.Fatalf("expected rehabilitated agent to be selectable")
	}
}

func TestGetStatsAggregates(t *testing.T) {
	st := store.NewMemoryStore()
	registerAgent(t, st, "a1", 2, 10)
	registerAgent(t, st, "a2", 3, 5)

	b := New(st, LeastLoaded)
	stats, err := b.GetStats(context.Background(), "ingest")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.TotalAgents != 2 || stats.TotalCapacity != 15 || stats.CurrentLoad != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
