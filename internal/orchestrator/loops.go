package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskmesh/orchestrator/internal/executor"
	"github.com/taskmesh/orchestrator/internal/model"
	"github.com/taskmesh/orchestrator/internal/platform/resilience"
	"github.com/taskmesh/orchestrator/internal/store"
)

// runQueueDrainer is the sole dequeuer: for each known task type, pop one
// ready task and spawn its execution, bounded by the worker semaphore.
func (o *Orchestrator) runQueueDrainer(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.QueuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for taskType := range model.Workflows {
				n, err := o.store.QueueLength(ctx, taskType)
				if err != nil {
					slog.Error("queue length check failed", "task_type", taskType, "error", err)
					continue
				}
				if n == 0 {
					continue
				}
				id, ok, err := o.store.PopNextTask(ctx, taskType)
				if err != nil {
					slog.Error("pop next task failed", "task_type", taskType, "error", err)
					continue
				}
				if !ok {
					continue
				}
				if !o.sem.TryAcquire(1) {
					o.requeueOverBudget(ctx, id)
					continue
				}
				o.inFlight.Store(id, struct{}{})
				go func(taskID string) {
					defer o.sem.Release(1)
					defer o.inFlight.Delete(taskID)
					o.executeTask(ctx, taskID)
				}(id)
			}
		}
	}
}

// requeueOverBudget puts a popped task back on its queue when the worker
// semaphore is saturated. It re-fetches the full record rather than
// constructing a blank one, since CreateTask overwrites the whole stored
// record — a blank TaskState would wipe Priority, RetryCount, and the
// typed Inputs/Parameters the task was submitted with.
func (o *Orchestrator) requeueOverBudget(ctx context.Context, taskID string) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		slog.Error("failed to reload task for requeue over worker budget", "task_id", taskID, "error", err)
		return
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		slog.Error("failed to requeue task over worker budget", "task_id", taskID, "error", err)
	}
}

// executeTask drives one task through RUNNING, dispatch, and its terminal
// transition (COMPLETED, RETRYING, or FAILED).
func (o *Orchestrator) executeTask(ctx context.Context, taskID string) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		slog.Error("executeTask: task not found", "task_id", taskID, "error", err)
		return
	}

	ctx, release := o.cancellations.register(ctx, taskID)
	defer release()

	if err := o.store.UpdateTaskStatus(ctx, taskID, model.StatusRunning, store.TaskPatch{}); err != nil {
		slog.Error("mark running failed", "task_id", taskID, "error", err)
		return
	}
	o.metrics.Increment("tasks_running", 1, nil)

	capabilities, ok := model.RequiredCapabilities(task.TaskType)
	if !ok {
		o.failTerminal(ctx, task, model.ErrUnknownTaskType(task.TaskType))
		return
	}

	plan, planErr := o.buildExecutionPlan(ctx, task, capabilities)
	if planErr != nil {
		o.handleFailure(ctx, task, planErr)
		return
	}

	mode := executor.Sequential
	switch task.ExecutionMode {
	case "parallel":
		mode = executor.Parallel
	case "hybrid":
		mode = executor.Hybrid
	}

	start := time.Now()
	result := o.engine.Run(ctx, taskID, plan, mode)
	elapsed := time.Since(start).Milliseconds()

	for _, stage := range result.Stages {
		if err := o.store.AddAgentExecution(ctx, taskID, stage.ToAgentExecution()); err != nil {
			slog.Error("add agent execution failed", "task_id", taskID, "error", err)
		}
	}

	if result.AllFailed || result.FinalOutput == nil {
		o.handleFailure(ctx, task, model.ErrWorkerFailure(fmt.Sprintf("all stages failed for task %s", taskID)))
		return
	}

	if ctx.Err() != nil {
		// Cancelled mid-dispatch but still produced output: the status is
		// already terminal (CANCELLED), so don't overwrite it.
		return
	}
	if err := o.store.UpdateTaskStatus(ctx, taskID, model.StatusCompleted, store.TaskPatch{Output: result.FinalOutput}); err != nil {
		slog.Error("mark completed failed", "task_id", taskID, "error", err)
		return
	}
	o.metrics.Increment("tasks_completed", 1, nil)
	o.metrics.Record("task_execution_time_ms", float64(elapsed), nil)
	if elapsed < 500 {
		o.metrics.Increment("tasks_under_500ms", 1, nil)
	}
	slog.Info("task completed", "task_id", taskID, "execution_time_ms", elapsed)
}

func (o *Orchestrator) buildExecutionPlan(ctx context.Context, task *model.TaskState, capabilities []string) (model.ExecutionPlan, *model.Error) {
	plan := make(model.ExecutionPlan, 0, len(capabilities))
	for _, cap := range capabilities {
		agent, err := o.lb.SelectAgent(ctx, cap)
		if err != nil {
			return nil, model.ErrStateStoreError(err.Error())
		}
		if agent == nil {
			return nil, model.ErrNoAgentsAvailable(cap)
		}
		plan = append(plan, model.PlanStage{
			Capability: cap,
			AgentID:    agent.AgentID,
			Endpoint:   agent.Endpoint,
			Inputs:     task.Inputs,
			Parameters: task.Parameters,
		})
	}
	return plan, nil
}

// handleFailure applies the retry policy: exponential backoff + re-queue
// while retry_count < 3, otherwise terminal FAILED.
func (o *Orchestrator) handleFailure(ctx context.Context, task *model.TaskState, taskErr *model.Error) {
	if ctx.Err() != nil {
		// The task's dispatch context was cancelled out from under it —
		// Cancel already wrote a terminal status, so don't retry or
		// overwrite it with RETRYING/FAILED.
		return
	}
	if task.RetryCount < model.MaxRetries {
		task.RetryCount++
		if err := o.store.UpdateTaskStatus(ctx, task.TaskID, model.StatusRetrying, store.TaskPatch{Error: taskErr}); err != nil {
			slog.Error("mark retrying failed", "task_id", task.TaskID, "error", err)
		}

		backoff := resilience.Backoff(task.RetryCount)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		task.Status = model.StatusQueued
		task.UpdatedAt = time.Now()
		if err := o.store.CreateTask(ctx, task); err != nil {
			slog.Error("requeue after retry failed", "task_id", task.TaskID, "error", err)
			return
		}
		o.metrics.Increment("tasks_retried", 1, nil)
		slog.Warn("task retrying", "task_id", task.TaskID, "retry_count", task.RetryCount, "backoff", backoff)
		return
	}
	o.failTerminal(ctx, task, taskErr)
}

func (o *Orchestrator) failTerminal(ctx context.Context, task *model.TaskState, taskErr *model.Error) {
	if err := o.store.UpdateTaskStatus(ctx, task.TaskID, model.StatusFailed, store.TaskPatch{Error: taskErr}); err != nil {
		slog.Error("mark failed failed", "task_id", task.TaskID, "error", err)
	}
	o.metrics.Increment("tasks_failed", 1, nil)
	slog.Error("task failed terminally", "task_id", task.TaskID, "code", taskErr.Code)
}

// runHealthMonitor periodically pings the store and records queue depth
// gauges, warning on unusually deep queues.
func (o *Orchestrator) runHealthMonitor(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.store.HealthCheck(ctx); err != nil {
				slog.Error("state store health check failed", "error", err)
				o.metrics.Increment("health_check_failed_redis", 1, nil)
			}
			for taskType := range model.Workflows {
				n, err := o.store.QueueLength(ctx, taskType)
				if err != nil {
					continue
				}
				o.metrics.SetGauge(fmt.Sprintf("queue_depth_%s", taskType), float64(n), nil)
				if n > 100 {
					slog.Warn("high queue depth", "task_type", taskType, "depth", n)
				}
			}
		}
	}
}

// runStaleAgentReaper periodically removes agents whose heartbeat has gone
// stale beyond StaleAgentAge.
func (o *Orchestrator) runStaleAgentReaper(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.store.ReapStaleAgents(ctx, o.cfg.StaleAgentAge)
			if err != nil {
				slog.Error("stale agent reap failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("reaped stale agents", "count", n)
			}
		}
	}
}
