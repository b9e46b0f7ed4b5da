package model

import "time"

// StalenessWindow is the age beyond which a non-heartbeating agent is
// ineligible for selection by the load balancer, even if still marked healthy.
const StalenessWindow = 30 * time.Second

// ReapAge is the age beyond which a stale agent record is removed entirely.
const ReapAge = 60 * time.Second

// AgentInfo is one worker registration record.
type AgentInfo struct {
	AgentID             string         `json:"agent_id"`
	AgentType           string         `json:"agent_type"`
	Endpoint            string         `json:"endpoint"`
	Capabilities        []string       `json:"capabilities"`
	MaxConcurrentTasks  int            `json:"max_concurrent_tasks"`
	CurrentTasks        int            `json:"current_tasks"`
	Healthy             bool           `json:"healthy"`
	LastHeartbeat       time.Time      `json:"last_heartbeat"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// ClampTasks enforces 0 <= CurrentTasks <= MaxConcurrentTasks.
func (a *AgentInfo) ClampTasks() {
	if a.CurrentTasks < 0 {
		a.CurrentTasks = 0
	}
	if a.CurrentTasks > a.MaxConcurrentTasks {
		a.CurrentTasks = a.MaxConcurrentTasks
	}
}

// Stale reports whether the agent's last heartbeat is older than window.
func (a *AgentInfo) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(a.LastHeartbeat) > window
}

// Available reports whether the agent is eligible for selection: healthy,
// not stale beyond the selection staleness window, and has spare capacity.
func (a *AgentInfo) Available(now time.Time) bool {
	return a.Healthy && !a.Stale(now, StalenessWindow) && a.CurrentTasks < a.MaxConcurrentTasks
}
