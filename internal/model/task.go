// Package model defines the shared data types passed between the state
// store, orchestrator, execution engine, load balancer, and worker
// framework: tasks, agents, workflows, and the structured error envelope.
package model

import "time"

// TaskStatus is the lifecycle state of a TaskState. Terminal states
// (Completed, Failed, Cancelled) are sticky: no further transition is
// permitted out of them.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusRetrying  TaskStatus = "retrying"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether s admits no further transition.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// MaxRetries is the retry_count cap enforced by the orchestrator's retry loop.
const MaxRetries = 3

// Input is one typed unit of data fed to a worker stage.
type Input struct {
	InputID  string         `json:"input_id"`
	Type     string         `json:"type"`
	Data     any            `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Output is the envelope a worker returns for a completed stage.
type Output struct {
	OutputType       string         `json:"output_type"`
	Data             any            `json:"data"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

// AgentExecution is one per-stage record appended to a TaskState as stages
// are attempted.
type AgentExecution struct {
	AgentID         string  `json:"agent_id"`
	Capability      string  `json:"capability"`
	Status          string  `json:"status"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	Output          *Output `json:"output,omitempty"`
	Error           *Error  `json:"error,omitempty"`
}

// TaskState is the authoritative record of one work request, owned by the
// state store. Every other component holds only short-lived snapshots.
//
// Inputs/ExecutionMode/Parameters are typed fields rather than entries in
// Metadata: against RedisStore, a TaskState round-trips through
// encoding/json, and a []Input stashed as an any-typed map entry comes
// back as []interface{} of map[string]interface{} — the type assertion
// that reads it back silently fails and the task dispatches with no
// inputs. Typed, tagged fields decode back to their declared Go types
// regardless of store backend.
type TaskState struct {
	TaskID          string           `json:"task_id"`
	TaskType        string           `json:"task_type"`
	Status          TaskStatus       `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Priority        int              `json:"priority"`
	RetryCount      int              `json:"retry_count"`
	AgentExecutions []AgentExecution `json:"agent_executions"`
	Inputs          []Input          `json:"inputs"`
	ExecutionMode   string           `json:"execution_mode,omitempty"`
	Parameters      map[string]any   `json:"parameters,omitempty"`
	Metadata        map[string]any   `json:"metadata"`
	Output          *Output          `json:"output,omitempty"`
	Error           *Error           `json:"error,omitempty"`
}

// TaskDefinition is the client-facing submission payload.
type TaskDefinition struct {
	TaskID        string         `json:"task_id"`
	TaskType      string         `json:"task_type"`
	Inputs        []Input        `json:"inputs"`
	ExecutionMode string         `json:"execution_mode"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Priority      int            `json:"priority"`
	TimeoutMs     int64          `json:"timeout_ms"`
	Metadata      map[string]any `json:"metadata"`
}

// SubmitResult is the response to a successful submission.
type SubmitResult struct {
	TaskID                string     `json:"task_id"`
	Status                TaskStatus `json:"status"`
	EstimatedCompletionMs int64      `json:"estimated_completion_ms"`
}

// StatusView is the public projection returned by getStatus.
type StatusView struct {
	TaskID          string           `json:"task_id"`
	Status          TaskStatus       `json:"status"`
	AgentExecutions []AgentExecution `json:"agent_executions"`
	Output          *Output          `json:"output,omitempty"`
	Error           *Error           `json:"error,omitempty"`
	Metrics         StatusMetrics    `json:"metrics"`
}

// StatusMetrics is the `metrics` block of a StatusView.
type StatusMetrics struct {
	TotalDurationMs int64    `json:"total_duration_ms"`
	RetryCount      int      `json:"retry_count"`
	AgentsUsed      []string `json:"agents_used"`
}

// ToStatusView projects a TaskState snapshot into the public status shape.
func (t *TaskState) ToStatusView() StatusView {
	used := make([]string, 0, len(t.AgentExecutions))
	seen := make(map[string]bool, len(t.AgentExecutions))
	for _, e := range t.AgentExecutions {
		if !seen[e.AgentID] {
			seen[e.AgentID] = true
			used = append(used, e.AgentID)
		}
	}
	return StatusView{
		TaskID:          t.TaskID,
		Status:          t.Status,
		AgentExecutions: t.AgentExecutions,
		Output:          t.Output,
		Error:           t.Error,
		Metrics: StatusMetrics{
			TotalDurationMs: t.UpdatedAt.Sub(t.CreatedAt).Milliseconds(),
			RetryCount:      t.RetryCount,
			AgentsUsed:      used,
		},
	}
}
