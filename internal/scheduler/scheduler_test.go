package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/taskmesh/orchestrator/internal/model"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	subs []model.TaskDefinition
	err  error
}

func (f *fakeSubmitter) Submit(ctx context.Context, def model.TaskDefinition) (model.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.SubmitResult{}, f.err
	}
	f.subs = append(f.subs, def)
	return model.SubmitResult{TaskID: def.TaskID, Status: model.StatusQueued}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func newTestScheduler(t *testing.T, sub Submitter) *Scheduler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "schedules.db")
	sched, err := New(sub, dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })
	return sched
}

func TestAddScheduleRequiresCronOrEvent(t *testing.T) {
	sched := newTestScheduler(t, &fakeSubmitter{})
	err := sched.AddSchedule(context.Background(), &ScheduleConfig{Name: "bad", TaskType: "ingest_analyze", Enabled: true})
	if err == nil {
		t.Fatal("expected error for schedule with neither cron_expr nor event_type")
	}
}

func TestAddScheduleListsAndRemoves(t *testing.T) {
	sched := newTestScheduler(t, &fakeSubmitter{})
	ctx := context.Background()

	cfg := &ScheduleConfig{Name: "nightly", TaskType: "ingest_analyze", CronExpr: "0 0 3 * * *", Enabled: true}
	if err := sched.AddSchedule(ctx, cfg); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	listed, err := sched.ListSchedules(ctx)
	if err != nil || len(listed) != 1 || listed[0].Name != "nightly" {
		t.Fatalf("expected 1 persisted schedule named nightly, got %+v err=%v", listed, err)
	}

	if err := sched.RemoveSchedule(ctx, "nightly"); err != nil {
		t.Fatalf("RemoveSchedule: %v", err)
	}
	listed, err = sched.ListSchedules(ctx)
	if err != nil || len(listed) != 0 {
		t.Fatalf("expected schedule removed, got %+v err=%v", listed, err)
	}
}

func TestTriggerEventSubmitsMatchingSchedule(t *testing.T) {
	sub := &fakeSubmitter{}
	sched := newTestScheduler(t, sub)
	ctx := context.Background()

	cfg := &ScheduleConfig{
		Name: "on-upload", TaskType: "video_monitoring", Enabled: true,
		EventType: "upload.completed", EventFilter: map[string]any{"source": "camera-1"},
	}
	if err := sched.AddSchedule(ctx, cfg); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	sched.TriggerEvent(ctx, "upload.completed", map[string]any{"source": "camera-2"})
	sched.TriggerEvent(ctx, "upload.completed", map[string]any{"source": "camera-1"})

	deadline := time.Now().Add(time.Second)
	for sub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if sub.count() != 1 {
		t.Fatalf("expected exactly 1 matching submission, got %d", sub.count())
	}
	if sub.subs[0].TaskType != "video_monitoring" {
		t.Fatalf("unexpected task type submitted: %+v", sub.subs[0])
	}
}

func TestCircuitBreakerSkipsAfterRepeatedFailures(t *testing.T) {
	sub := &fakeSubmitter{err: context.DeadlineExceeded}
	sched := newTestScheduler(t, sub)
	ctx := context.Background()

	cfg := &ScheduleConfig{Name: "flaky", TaskType: "unknown_type", Enabled: true, EventType: "tick"}
	if err := sched.AddSchedule(ctx, cfg); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	for i := 0; i < 10; i++ {
		sched.fire(ctx, cfg)
	}

	stats := sched.GetScheduleStats()
	if stats.EventHandlers != 1 {
		t.Fatalf("expected 1 event handler, got %+v", stats)
	}
	if sched.breakerFor("flaky").State() != "open" {
		t.Fatalf("expected breaker to open after repeated failures, got %s", sched.breakerFor("flaky").State())
	}
}

func TestGetScheduleStatsCountsCronEntries(t *testing.T) {
	sched := newTestScheduler(t, &fakeSubmitter{})
	ctx := context.Background()

	if err := sched.AddSchedule(ctx, &ScheduleConfig{
		Name: "hourly", TaskType: "api_integration", CronExpr: "0 0 * * * *", Enabled: true,
	}); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	stats := sched.GetScheduleStats()
	if stats.CronEntries != 1 {
		t.Fatalf("expected 1 cron entry, got %+v", stats)
	}
}

func TestRestoreSchedulesReloadsPersisted(t *testing.T) {
	sub := &fakeSubmitter{}
	dbPath := filepath.Join(t.TempDir(), "schedules.db")

	first, err := New(sub, dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.AddSchedule(context.Background(), &ScheduleConfig{
		Name: "daily", TaskType: "ingest_analyze", CronExpr: "0 0 0 * * *", Enabled: true,
	}); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := first.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	second, err := New(sub, dbPath)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	t.Cleanup(func() { _ = second.Stop(context.Background()) })

	if err := second.RestoreSchedules(context.Background()); err != nil {
		t.Fatalf("RestoreSchedules: %v", err)
	}
	if stats := second.GetScheduleStats(); stats.CronEntries != 1 {
		t.Fatalf("expected restored cron entry, got %+v", stats)
	}
}
