// Package orchestrator implements the orchestrator (C5): the public
// submit/getStatus/cancel API plus the background queue drainer, health
// monitor, and stale-worker reaper loops. Grounded on
// original_source/core/orchestrator.py's Orchestrator class; cooperative
// asyncio tasks become goroutines plus context.Context cancellation, and
// the ThreadPoolExecutor's worker cap becomes a bounded wait-group
// (golang.org/x/sync/semaphore).
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/taskmesh/orchestrator/internal/balancer"
	"github.com/taskmesh/orchestrator/internal/executor"
	"github.com/taskmesh/orchestrator/internal/metrics"
	"github.com/taskmesh/orchestrator/internal/model"
	"github.com/taskmesh/orchestrator/internal/platform/resilience"
	"github.com/taskmesh/orchestrator/internal/store"
)

// Config tunes the orchestrator's background loop cadence and concurrency budget.
type Config struct {
	MaxWorkers          int64
	QueuePollInterval   time.Duration
	HealthCheckInterval time.Duration
	CleanupInterval     time.Duration
	StaleAgentAge       time.Duration
	DispatchTimeout     time.Duration
}

// DefaultConfig mirrors the documented defaults (100 concurrent workers,
// 100ms idle poll, 10s health tick, 30s reap tick, 60s stale age, 30s dispatch timeout).
func DefaultConfig() Config {
	return Config{
		MaxWorkers:          100,
		QueuePollInterval:   100 * time.Millisecond,
		HealthCheckInterval: 10 * time.Second,
		CleanupInterval:     30 * time.Second,
		StaleAgentAge:       model.ReapAge,
		DispatchTimeout:     executor.DefaultStageTimeout,
	}
}

// Orchestrator coordinates task distribution, agent selection, and
// execution across the state store, load balancer, and execution engine.
type Orchestrator struct {
	cfg     Config
	store   store.Store
	metrics *metrics.Collector
	lb      *balancer.Balancer
	engine  *executor.Engine

	sem      *semaphore.Weighted
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	runMu    sync.Mutex
	inFlight sync.Map // task_id -> struct{}

	cancellations *cancellationManager
}

// New builds an Orchestrator over the given collaborators.
func New(st store.Store, m *metrics.Collector, lb *balancer.Balancer, eng *executor.Engine, cfg Config) *Orchestrator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	return &Orchestrator{
		cfg:           cfg,
		store:         st,
		metrics:       m,
		lb:            lb,
		engine:        eng,
		sem:           semaphore.NewWeighted(cfg.MaxWorkers),
		cancellations: newCancellationManager(),
	}
}

// Start launches the queue drainer, health monitor, and stale-worker
// reaper loops. It returns immediately; call Stop to halt them.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true

	o.wg.Add(3)
	go o.runQueueDrainer(ctx)
	go o.runHealthMonitor(ctx)
	go o.runStaleAgentReaper(ctx)
	slog.Info("orchestrator started")
}

// Stop cancels all background loops and waits for them to exit.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if !o.running {
		return
	}
	o.cancel()
	o.wg.Wait()
	o.running = false
	slog.Info("orchestrator stopped")
}

// Submit wraps a TaskDefinition in a queued TaskState and persists it.
func (o *Orchestrator) Submit(ctx context.Context, def model.TaskDefinition) (model.SubmitResult, error) {
	now := time.Now()
	task := &model.TaskState{
		TaskID:        def.TaskID,
		TaskType:      def.TaskType,
		Status:        model.StatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
		Priority:      def.Priority,
		Inputs:        def.Inputs,
		ExecutionMode: def.ExecutionMode,
		Parameters:    def.Parameters,
		Metadata:      def.Metadata,
	}
	if task.Metadata == nil {
		task.Metadata = map[string]any{}
	}

	if err := o.store.CreateTask(ctx, task); err != nil {
		return model.SubmitResult{}, err
	}

	o.metrics.Increment("tasks_submitted", 1, nil)
	o.metrics.Increment("tasks_submitted", 1, map[string]string{"task_type": def.TaskType})

	return model.SubmitResult{
		TaskID:                def.TaskID,
		Status:                model.StatusQueued,
		EstimatedCompletionMs: model.EstimateCompletionMs(def.TaskType),
	}, nil
}

// GetStatus fetches the current TaskState snapshot and projects its public view.
func (o *Orchestrator) GetStatus(ctx context.Context, taskID string) (*model.StatusView, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	view := task.ToStatusView()
	return &view, nil
}

// Cancel transitions a task to CANCELLED unless it is already in a
// terminal state. If the task is currently executing, its dispatch
// context is also cancelled so an in-flight worker call is aborted rather
// than left to finish underneath the now-cancelled status.
func (o *Orchestrator) Cancel(ctx context.Context, taskID, reason string) (bool, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task == nil || task.Status.Terminal() {
		return false, nil
	}
	if err := o.store.UpdateTaskStatus(ctx, taskID, model.StatusCancelled, store.TaskPatch{
		Error: model.ErrCancelled(reason),
	}); err != nil {
		return false, err
	}
	o.cancellations.abort(taskID)
	o.metrics.Increment("tasks_cancelled", 1, nil)
	slog.Info("task cancelled", "task_id", taskID, "reason", reason)
	return true, nil
}
