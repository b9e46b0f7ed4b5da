// Package scheduler adds recurring and event-triggered task submission on
// top of the orchestrator's ad hoc submit path. Grounded on
// _teacher_copy/orchestrator/scheduler.go, narrowed to this codebase's
// compile-time task types (model.Workflows) instead of the teacher's
// runtime-stored, DAG-engine-executed workflow definitions: a schedule
// names a task type and an input/metadata template, and firing it calls
// the same Submit path a client would.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskmesh/orchestrator/internal/model"
	"github.com/taskmesh/orchestrator/internal/platform/resilience"
)

// Submitter is the subset of Orchestrator a schedule needs to fire a task.
type Submitter interface {
	Submit(ctx context.Context, def model.TaskDefinition) (model.SubmitResult, error)
}

// ScheduleConfig defines when and how to submit a task type.
type ScheduleConfig struct {
	Name          string            `json:"name"`
	TaskType      string            `json:"task_type"`
	CronExpr      string            `json:"cron_expr,omitempty"`  // "0 */5 * * * *" = every 5 minutes
	EventType     string            `json:"event_type,omitempty"` // e.g. "webhook.received"
	EventFilter   map[string]any    `json:"event_filter,omitempty"`
	Enabled       bool              `json:"enabled"`
	MaxConcurrent int               `json:"max_concurrent,omitempty"` // 0 = unlimited
	Timeout       time.Duration     `json:"timeout,omitempty"`
	Inputs        []model.Input     `json:"inputs,omitempty"`
	Priority      int               `json:"priority,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// eventHandler groups the schedules that react to one event type.
type eventHandler struct {
	schedules   []*ScheduleConfig
	running     int
	mu          sync.Mutex
	lastTrigger time.Time
}

// Scheduler manages cron schedules and event-driven triggers, submitting
// tasks through a Submitter instead of executing a workflow itself.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	store     *scheduleStore

	mu            sync.RWMutex
	eventHandlers map[string]*eventHandler
	breakers      map[string]*resilience.CircuitBreaker // per-schedule, keyed by name

	runs    metric.Int64Counter
	fails   metric.Int64Counter
	skipped metric.Int64Counter
	tracer  trace.Tracer
}

// New builds a scheduler backed by a bbolt database at dbPath.
func New(submitter Submitter, dbPath string) (*Scheduler, error) {
	store, err := openScheduleStore(dbPath)
	if err != nil {
		return nil, err
	}

	meter := otel.Meter("taskmesh-scheduler")
	runs, _ := meter.Int64Counter("taskmesh_schedule_runs_total")
	fails, _ := meter.Int64Counter("taskmesh_schedule_failures_total")
	skipped, _ := meter.Int64Counter("taskmesh_schedule_breaker_skips_total")

	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		submitter:     submitter,
		store:         store,
		eventHandlers: make(map[string]*eventHandler),
		breakers:      make(map[string]*resilience.CircuitBreaker),
		runs:          runs,
		fails:         fails,
		skipped:       skipped,
		tracer:        otel.Tracer("taskmesh-scheduler"),
	}, nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started")
}

// Stop gracefully stops the cron scheduler and closes the schedule store.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()

	var err error
	select {
	case <-stopCtx.Done():
		slog.Info("scheduler stopped")
	case <-ctx.Done():
		slog.Warn("scheduler stop timeout")
		err = ctx.Err()
	}

	if closeErr := s.store.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// breakerFor lazily creates the circuit breaker guarding a named schedule so
// a persistently-misconfigured schedule (unknown task type, a capability
// that's permanently down) stops resubmitting instead of spamming the queue.
func (s *Scheduler) breakerFor(name string) *resilience.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[name]
	if !ok {
		cb = resilience.NewCircuitBreaker(30*time.Second, 6, 5, 0.5, 2*time.Minute, 2)
		s.breakers[name] = cb
	}
	return cb
}

// AddSchedule registers a cron- or event-triggered schedule and persists it.
func (s *Scheduler) AddSchedule(ctx context.Context, cfg *ScheduleConfig) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.add_schedule",
		trace.WithAttributes(
			attribute.String("name", cfg.Name),
			attribute.String("task_type", cfg.TaskType),
		))
	defer span.End()

	switch {
	case cfg.CronExpr != "":
		if _, err := s.cron.AddFunc(cfg.CronExpr, func() {
			s.fire(context.Background(), cfg)
		}); err != nil {
			return fmt.Errorf("add cron schedule: %w", err)
		}
		slog.Info("cron schedule added", "name", cfg.Name, "task_type", cfg.TaskType, "cron", cfg.CronExpr)

	case cfg.EventType != "":
		s.registerEventHandler(cfg)
		slog.Info("event schedule added", "name", cfg.Name, "task_type", cfg.TaskType, "event_type", cfg.EventType)

	default:
		return fmt.Errorf("schedule %q: either cron_expr or event_type must be set", cfg.Name)
	}

	if err := s.store.put(cfg); err != nil {
		return fmt.Errorf("persist schedule: %w", err)
	}
	return nil
}

// RemoveSchedule unregisters a named schedule's event handlers and deletes
// its persisted record. The cron library has no remove-by-name primitive,
// so a cron-based schedule keeps firing until the process restarts without
// restoring it — acceptable since AddSchedule is idempotent on restart via
// RestoreSchedules reading only the surviving, still-persisted records.
func (s *Scheduler) RemoveSchedule(ctx context.Context, name string) error {
	s.mu.Lock()
	for eventType, handler := range s.eventHandlers {
		kept := handler.schedules[:0]
		for _, sched := range handler.schedules {
			if sched.Name != name {
				kept = append(kept, sched)
			}
		}
		handler.schedules = kept
		if len(handler.schedules) == 0 {
			delete(s.eventHandlers, eventType)
		}
	}
	delete(s.breakers, name)
	s.mu.Unlock()

	if err := s.store.delete(name); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	slog.Info("schedule removed", "name", name)
	return nil
}

// ListSchedules returns every persisted schedule.
func (s *Scheduler) ListSchedules(ctx context.Context) ([]*ScheduleConfig, error) {
	return s.store.list()
}

// TriggerEvent processes an incoming event against every schedule
// registered for its event type.
func (s *Scheduler) TriggerEvent(ctx context.Context, eventType string, eventData map[string]any) {
	ctx, span := s.tracer.Start(ctx, "scheduler.trigger_event",
		trace.WithAttributes(attribute.String("event_type", eventType)))
	defer span.End()

	s.mu.RLock()
	handler, exists := s.eventHandlers[eventType]
	s.mu.RUnlock()
	if !exists {
		return
	}

	for _, sched := range handler.schedules {
		if !sched.Enabled || !matchesFilter(eventData, sched.EventFilter) {
			continue
		}

		handler.mu.Lock()
		if sched.MaxConcurrent > 0 && handler.running >= sched.MaxConcurrent {
			handler.mu.Unlock()
			slog.Warn("schedule concurrency limit reached", "name", sched.Name, "max", sched.MaxConcurrent)
			continue
		}
		handler.running++
		handler.lastTrigger = time.Now()
		handler.mu.Unlock()

		go func(cfg *ScheduleConfig) {
			defer func() {
				handler.mu.Lock()
				handler.running--
				handler.mu.Unlock()
			}()

			execCtx := context.Background()
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				execCtx, cancel = context.WithTimeout(execCtx, cfg.Timeout)
				defer cancel()
			}
			s.fire(execCtx, cfg)
		}(sched)
	}
}

// fire submits one task on behalf of a schedule, guarded by that schedule's
// circuit breaker.
func (s *Scheduler) fire(ctx context.Context, cfg *ScheduleConfig) {
	cb := s.breakerFor(cfg.Name)
	if !cb.Allow() {
		s.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("name", cfg.Name)))
		slog.Warn("schedule circuit open, skipping submission", "name", cfg.Name)
		return
	}

	start := time.Now()
	meta := make(map[string]any, len(cfg.Metadata)+1)
	for k, v := range cfg.Metadata {
		meta[k] = v
	}
	meta["schedule"] = cfg.Name

	_, err := s.submitter.Submit(ctx, model.TaskDefinition{
		TaskID:   fmt.Sprintf("%s-%d", cfg.Name, start.UnixNano()),
		TaskType: cfg.TaskType,
		Inputs:   cfg.Inputs,
		Priority: cfg.Priority,
		Metadata: meta,
	})

	cb.RecordResult(err == nil)
	if err != nil {
		s.fails.Add(ctx, 1, metric.WithAttributes(attribute.String("name", cfg.Name)))
		slog.Error("scheduled submission failed", "name", cfg.Name, "task_type", cfg.TaskType, "error", err)
		return
	}

	s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("name", cfg.Name)))
	slog.Info("scheduled task submitted", "name", cfg.Name, "task_type", cfg.TaskType,
		"duration_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) registerEventHandler(cfg *ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handler, ok := s.eventHandlers[cfg.EventType]
	if !ok {
		handler = &eventHandler{}
		s.eventHandlers[cfg.EventType] = handler
	}
	handler.schedules = append(handler.schedules, cfg)
}

func matchesFilter(eventData, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for key, want := range filter {
		got, ok := eventData[key]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// ScheduleStats summarizes the scheduler's current registrations.
type ScheduleStats struct {
	CronEntries    int                      `json:"cron_entries"`
	EventHandlers  int                      `json:"event_handlers"`
	TotalSchedules int                      `json:"total_schedules"`
	ByEventType    map[string]EventTypeStat `json:"by_event_type"`
}

// EventTypeStat summarizes one event type's registered schedules.
type EventTypeStat struct {
	Schedules   int       `json:"schedules"`
	Running     int       `json:"running"`
	LastTrigger time.Time `json:"last_trigger"`
}

// GetScheduleStats reports the scheduler's current registrations.
func (s *Scheduler) GetScheduleStats() ScheduleStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ScheduleStats{
		CronEntries:   len(s.cron.Entries()),
		EventHandlers: len(s.eventHandlers),
		ByEventType:   make(map[string]EventTypeStat, len(s.eventHandlers)),
	}

	total := len(s.cron.Entries())
	for eventType, handler := range s.eventHandlers {
		handler.mu.Lock()
		stats.ByEventType[eventType] = EventTypeStat{
			Schedules:   len(handler.schedules),
			Running:     handler.running,
			LastTrigger: handler.lastTrigger,
		}
		total += len(handler.schedules)
		handler.mu.Unlock()
	}
	stats.TotalSchedules = total
	return stats
}

// RestoreSchedules reloads every persisted, enabled schedule on startup.
func (s *Scheduler) RestoreSchedules(ctx context.Context) error {
	schedules, err := s.store.list()
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	restored, failed := 0, 0
	for _, cfg := range schedules {
		if !cfg.Enabled {
			continue
		}
		if err := s.addWithoutPersist(cfg); err != nil {
			slog.Error("failed to restore schedule", "name", cfg.Name, "error", err)
			failed++
			continue
		}
		restored++
	}
	slog.Info("schedules restored", "restored", restored, "failed", failed)
	return nil
}

// addWithoutPersist re-registers a schedule already on disk without
// re-writing it, so RestoreSchedules doesn't churn the bucket on every boot.
func (s *Scheduler) addWithoutPersist(cfg *ScheduleConfig) error {
	switch {
	case cfg.CronExpr != "":
		_, err := s.cron.AddFunc(cfg.CronExpr, func() {
			s.fire(context.Background(), cfg)
		})
		return err
	case cfg.EventType != "":
		s.registerEventHandler(cfg)
		return nil
	default:
		return fmt.Errorf("schedule %q: either cron_expr or event_type must be set", cfg.Name)
	}
}
