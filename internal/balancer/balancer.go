// Package balancer implements the load balancer (C3): capability-typed
// worker selection across four strategies, with soft-eject/rehabilitate
// fault tolerance. Grounded on original_source/core/load_balancer.py.
package balancer

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/taskmesh/orchestrator/internal/model"
	"github.com/taskmesh/orchestrator/internal/store"
)

// Strategy selects which of the four selection algorithms select() applies.
type Strategy string

const (
	LeastLoaded Strategy = "least_loaded"
	RoundRobin  Strategy = "round_robin"
	Weighted    Strategy = "weighted"
	Random      Strategy = "random"
)

// Stats is the aggregated view returned by GetStats.
type Stats struct {
	AgentType      string
	TotalAgents    int
	HealthyAgents  int
	TotalCapacity  int
	CurrentLoad    int
	Utilization    float64
}

// Balancer selects a worker for a capability using the configured strategy.
type Balancer struct {
	store    store.Store
	strategy Strategy

	mu       sync.Mutex
	rrCounters map[string]int
}

// New builds a Balancer over the given state store.
func New(st store.Store, strategy Strategy) *Balancer {
	if strategy == "" {
		strategy = LeastLoaded
	}
	return &Balancer{store: st, strategy: strategy, rrCounters: make(map[string]int)}
}

// SelectAgent returns the best available agent for a capability, or nil if
// none is available. Selection is advisory: the dispatcher must tolerate
// the chosen worker failing.
func (b *Balancer) SelectAgent(ctx context.Context, capability string) (*model.AgentInfo, error) {
	agents, err := b.store.GetAgentsByType(ctx, capability)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		slog.Warn("no agents registered for capability", "capability", capability)
		return nil, nil
	}

	now := time.Now()
	available := make([]*model.AgentInfo, 0, len(agents))
	for _, a := range agents {
		if a.Available(now) {
			available = append(available, a)
		}
	}
	if len(available) == 0 {
		slog.Warn("no available agents for capability (overloaded or unhealthy)", "capability", capability)
		return nil, nil
	}

	switch b.strategy {
	case RoundRobin:
		return b.selectRoundRobin(capability, available), nil
	case Weighted:
		return selectWeighted(available), nil
	case Random:
		return available[rand.Intn(len(available))], nil
	default:
		return selectLeastLoaded(available), nil
	}
}

func selectLeastLoaded(agents []*model.AgentInfo) *model.AgentInfo {
	best := agents[0]
	for _, a := range agents[1:] {
		if a.CurrentTasks < best.CurrentTasks {
			best = a
		}
	}
	return best
}

func (b *Balancer) selectRoundRobin(capability string, agents []*model.AgentInfo) *model.AgentInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.rrCounters[capability] % len(agents)
	b.rrCounters[capability]++
	return agents[idx]
}

func selectWeighted(agents []*model.AgentInfo) *model.AgentInfo {
	best := agents[0]
	bestScore := weightedScore(best)
	for _, a := range agents[1:] {
		if score := weightedScore(a); score > bestScore {
			best = a
			bestScore = score
		}
	}
	return best
}

func weightedScore(a *model.AgentInfo) float64 {
	if a.MaxConcurrentTasks <= 0 {
		return 0
	}
	availableCapacity := float64(a.MaxConcurrentTasks - a.CurrentTasks)
	utilization := float64(a.CurrentTasks) / float64(a.MaxConcurrentTasks)
	return availableCapacity * (1.0 - utilization)
}

// ReportFailure soft-ejects an agent by flipping its healthy flag off.
func (b *Balancer) ReportFailure(ctx context.Context, agentID string, cause error) error {
	slog.Warn("agent reported failure", "agent_id", agentID, "error", cause)
	agent, err := b.store.GetAgent(ctx, agentID)
	if err != nil || agent == nil {
		return err
	}
	agent.Healthy = false
	return b.store.RegisterAgent(ctx, agent)
}

// ReportSuccess rehabilitates a previously soft-ejected agent.
func (b *Balancer) ReportSuccess(ctx context.Context, agentID string) error {
	agent, err := b.store.GetAgent(ctx, agentID)
	if err != nil || agent == nil {
		return err
	}
	if !agent.Healthy {
		agent.Healthy = true
		return b.store.RegisterAgent(ctx, agent)
	}
	return nil
}

// GetStats aggregates totals/healthy/capacity/load/utilization for a capability.
func (b *Balancer) GetStats(ctx context.Context, capability string) (Stats, error) {
	agents, err := b.store.GetAgentsByType(ctx, capability)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{AgentType: capability, TotalAgents: len(agents)}
	for _, a := range agents {
		if a.Healthy {
			stats.HealthyAgents++
		}
		stats.TotalCapacity += a.MaxConcurrentTasks
		stats.CurrentLoad += a.CurrentTasks
	}
	if stats.TotalCapacity > 0 {
		stats.Utilization = float64(stats.CurrentLoad) / float64(stats.TotalCapacity)
	}
	return stats, nil
}
