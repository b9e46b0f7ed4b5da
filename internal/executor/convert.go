package executor

import "github.com/taskmesh/orchestrator/internal/model"

// ToAgentExecution converts a dispatch result into the persisted
// agent_executions record shape.
func (r StageResult) ToAgentExecution() model.AgentExecution {
	return model.AgentExecution{
		AgentID:         r.AgentID,
		Capability:      r.Capability,
		Status:          r.Status,
		ExecutionTimeMs: r.ExecutionTimeMs,
		Output:          r.Output,
		Error:           r.Err,
	}
}
