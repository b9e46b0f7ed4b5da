// Package worker implements the worker agent framework (C6): a common
// base every capability implementation embeds for concurrency bounding,
// health accounting, and the invocation envelope, plus the concrete
// capability agents the task workflows dispatch to. Grounded on
// original_source/agents/base_agent.py's BaseAgent.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/taskmesh/orchestrator/internal/model"
)

// Agent is the interface every capability implementation satisfies.
// process does the actual work; everything else (concurrency bounding,
// timing, error envelope) is handled once by BaseAgent.Execute.
type Agent interface {
	Capability() string
	process(ctx context.Context, inputs []model.Input, parameters map[string]any) (*model.Output, error)
}

// ExecutionEnvelope is the response shape a worker returns for one
// invocation, matching the executor's invocationResponse wire format.
type ExecutionEnvelope struct {
	Status          string         `json:"status"`
	Output          *model.Output  `json:"output,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Error           *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError is the {message, type} error shape nested in a failed envelope.
type EnvelopeError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// BaseAgent provides the common execution machinery: a bounded
// concurrency semaphore, running totals, and a health snapshot. Concrete
// agents embed it and implement process. currentTasks/totalCompleted/
// totalFailed/healthy are accessed from every concurrent /invoke request's
// goroutine (Execute) as well as GetHealth and Shutdown, so they're atomic
// fields rather than plain int64/bool.
type BaseAgent struct {
	AgentID            string
	AgentType          string
	MaxConcurrentTasks int

	sem            *semaphore.Weighted
	currentTasks   atomic.Int64
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	healthy        atomic.Bool
	startTime      time.Time
}

// NewBaseAgent builds a BaseAgent with the given identity and concurrency cap.
func NewBaseAgent(agentID, agentType string, maxConcurrentTasks int) BaseAgent {
	if maxConcurrentTasks <= 0 {
		maxConcurrentTasks = 10
	}
	b := BaseAgent{
		AgentID:            agentID,
		AgentType:          agentType,
		MaxConcurrentTasks: maxConcurrentTasks,
		sem:                semaphore.NewWeighted(int64(maxConcurrentTasks)),
		startTime:          time.Now(),
	}
	b.healthy.Store(true)
	return b
}

// Capability reports the agent type this BaseAgent was constructed with.
func (b *BaseAgent) Capability() string { return b.AgentType }

// Execute runs process under the concurrency semaphore, validates inputs,
// times the call, and wraps the outcome in the documented envelope.
// Grounded on BaseAgent.execute in base_agent.py: same validate-then-process
// order, same success/failure envelope shape, same current-task accounting
// bracketing the call.
func Execute(ctx context.Context, a Agent, b *BaseAgent, taskID string, inputs []model.Input, parameters map[string]any) ExecutionEnvelope {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return ExecutionEnvelope{Status: "failed", Error: &EnvelopeError{Message: err.Error(), Type: "ContextCancelled"}}
	}
	defer b.sem.Release(1)

	b.currentTasks.Add(1)
	defer b.currentTasks.Add(-1)

	start := time.Now()
	slog.Info("agent executing task", "agent_id", b.AgentID, "task_id", taskID, "capability", a.Capability())

	if err := validateInputs(inputs); err != nil {
		b.totalFailed.Add(1)
		return ExecutionEnvelope{
			Status:          "failed",
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			Error:           &EnvelopeError{Message: err.Error(), Type: "ValidationError"},
		}
	}

	output, err := a.process(ctx, inputs, parameters)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		b.totalFailed.Add(1)
		slog.Error("agent task failed", "agent_id", b.AgentID, "task_id", taskID, "error", err)
		return ExecutionEnvelope{
			Status:          "failed",
			ExecutionTimeMs: elapsed,
			Error:           &EnvelopeError{Message: err.Error(), Type: "ProcessingError"},
		}
	}

	b.totalCompleted.Add(1)
	output.ProcessingTimeMs = elapsed
	slog.Info("agent task completed", "agent_id", b.AgentID, "task_id", taskID, "execution_time_ms", elapsed)
	return ExecutionEnvelope{Status: "completed", Output: output, ExecutionTimeMs: elapsed}
}

func validateInputs(inputs []model.Input) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs provided")
	}
	for _, inp := range inputs {
		if inp.Type == "" {
			return fmt.Errorf("input type is required")
		}
		if inp.Data == nil {
			return fmt.Errorf("input data is required")
		}
	}
	return nil
}

// Health is the JSON shape returned by the worker's /health endpoint.
type Health struct {
	AgentID            string  `json:"agent_id"`
	AgentType          string  `json:"agent_type"`
	Healthy            bool    `json:"healthy"`
	CurrentTasks       int64   `json:"current_tasks"`
	TotalCompleted     int64   `json:"total_completed"`
	TotalFailed        int64   `json:"total_failed"`
	MaxConcurrentTasks int     `json:"max_concurrent_tasks"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
	SuccessRate        float64 `json:"success_rate"`
}

// GetHealth reports the current health snapshot, grounded on
// BaseAgent.get_health in base_agent.py.
func (b *BaseAgent) GetHealth() Health {
	completed := b.totalCompleted.Load()
	failed := b.totalFailed.Load()
	total := completed + failed
	successRate := 1.0
	if total > 0 {
		successRate = float64(completed) / float64(total)
	}
	return Health{
		AgentID:            b.AgentID,
		AgentType:          b.AgentType,
		Healthy:            b.healthy.Load(),
		CurrentTasks:       b.currentTasks.Load(),
		TotalCompleted:     completed,
		TotalFailed:        failed,
		MaxConcurrentTasks: b.MaxConcurrentTasks,
		UptimeSeconds:      time.Since(b.startTime).Seconds(),
		SuccessRate:        successRate,
	}
}

// Shutdown marks the agent unhealthy and waits for in-flight tasks to drain.
func (b *BaseAgent) Shutdown(ctx context.Context) error {
	b.healthy.Store(false)
	for b.currentTasks.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}
