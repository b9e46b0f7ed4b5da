// Package executor implements the execution engine (C4): PARALLEL,
// SEQUENTIAL, and HYBRID stage dispatch over a plain JSON-over-HTTP worker
// invocation envelope. Grounded on
// original_source/core/execution_engine.py for the three execution modes,
// and on the teacher's plugins.go HTTPPlugin / task_executor.go
// HTTPTaskExecutor for the pooled, trace-propagating HTTP client pattern —
// this resolves the source's stubbed gRPC call into the documented wire
// protocol rather than adopting an RPC framework.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskmesh/orchestrator/internal/model"
	"github.com/taskmesh/orchestrator/internal/store"
)

// DefaultStageTimeout is the per-stage dispatch deadline.
const DefaultStageTimeout = 30 * time.Second

// invocationRequest is the worker invocation envelope request shape.
type invocationRequest struct {
	TaskID     string         `json:"task_id"`
	Capability string         `json:"capability"`
	Inputs     []model.Input  `json:"inputs"`
	Parameters map[string]any `json:"parameters"`
}

// invocationResponse is the worker invocation envelope response shape.
type invocationResponse struct {
	Status          string        `json:"status"`
	Output          *model.Output `json:"output,omitempty"`
	ExecutionTimeMs int64         `json:"execution_time_ms"`
	Error           *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Dispatcher sends one stage's invocation envelope to its selected
// worker's endpoint over HTTP.
type Dispatcher struct {
	client  *http.Client
	store   store.Store
	tracer  trace.Tracer
	timeout time.Duration
}

// NewDispatcher builds a Dispatcher with a connection-pooled client.
func NewDispatcher(st store.Store, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	return &Dispatcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		store:   st,
		tracer:  otel.Tracer("taskmesh-executor"),
		timeout: timeout,
	}
}

// StageResult is one stage's outcome, appended to a task's agent_executions.
type StageResult struct {
	AgentID         string
	Capability      string
	Status          string
	Output          *model.Output
	Err             *model.Error
	ExecutionTimeMs int64
}

// DispatchStage invokes one worker stage and tracks its in-flight task
// count around the call, per the execution engine's contract.
func (d *Dispatcher) DispatchStage(ctx context.Context, taskID string, stage model.PlanStage) StageResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "stage.dispatch", trace.WithAttributes(
		attribute.String("capability", stage.Capability),
		attribute.String("agent_id", stage.AgentID),
	))
	defer span.End()

	start := time.Now()
	if err := d.store.IncrementAgentTasks(ctx, stage.AgentID, 1); err != nil {
		span.RecordError(err)
	}
	defer func() {
		if err := d.store.IncrementAgentTasks(ctx, stage.AgentID, -1); err != nil {
			span.RecordError(err)
		}
	}()

	resp, err := d.invoke(ctx, taskID, stage)
	elapsed := time.Since(start).Milliseconds()

	if ctx.Err() == context.DeadlineExceeded {
		return StageResult{
			AgentID: stage.AgentID, Capability: stage.Capability, Status: "failed",
			Err: model.ErrTimeout(fmt.Sprintf("stage %s timed out after %s", stage.Capability, d.timeout)),
			ExecutionTimeMs: elapsed,
		}
	}
	if err != nil {
		span.RecordError(err)
		return StageResult{
			AgentID: stage.AgentID, Capability: stage.Capability, Status: "failed",
			Err: model.ErrWorkerFailure(err.Error()), ExecutionTimeMs: elapsed,
		}
	}
	if resp.Status != "completed" {
		msg := "worker reported failure"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return StageResult{
			AgentID: stage.AgentID, Capability: stage.Capability, Status: "failed",
			Err: model.ErrWorkerFailure(msg), ExecutionTimeMs: elapsed,
		}
	}
	return StageResult{
		AgentID: stage.AgentID, Capability: stage.Capability, Status: "completed",
		Output: resp.Output, ExecutionTimeMs: elapsed,
	}
}

func (d *Dispatcher) invoke(ctx context.Context, taskID string, stage model.PlanStage) (*invocationResponse, error) {
	reqBody, err := json.Marshal(invocationRequest{
		TaskID:     taskID,
		Capability: stage.Capability,
		Inputs:     stage.Inputs,
		Parameters: stage.Parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, stage.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Task-ID", taskID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch to %s failed: %w", stage.Endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var out invocationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &out, nil
}
