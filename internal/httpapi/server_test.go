package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskmesh/orchestrator/internal/metrics"
	"github.com/taskmesh/orchestrator/internal/model"
	"github.com/taskmesh/orchestrator/internal/platform/config"
	"github.com/taskmesh/orchestrator/internal/store"
)

type fakeOrchestrator struct {
	submitted []model.TaskDefinition
	view      *model.StatusView
	cancelled bool
	err       error
}

func (f *fakeOrchestrator) Submit(ctx context.Context, def model.TaskDefinition) (model.SubmitResult, error) {
	if f.err != nil {
		return model.SubmitResult{}, f.err
	}
	f.submitted = append(f.submitted, def)
	return model.SubmitResult{TaskID: def.TaskID, Status: model.StatusQueued}, nil
}

func (f *fakeOrchestrator) GetStatus(ctx context.Context, taskID string) (*model.StatusView, error) {
	if f.view == nil {
		return nil, model.ErrUnknownTaskType(taskID)
	}
	return f.view, nil
}

func (f *fakeOrchestrator) Cancel(ctx context.Context, taskID, reason string) (bool, error) {
	return f.cancelled, f.err
}

type fakeEventTrigger struct {
	eventType string
	data      map[string]any
}

func (f *fakeEventTrigger) TriggerEvent(ctx context.Context, eventType string, eventData map[string]any) {
	f.eventType = eventType
	f.data = eventData
}

func newTestServer(orch *fakeOrchestrator, authCfg config.AuthConfig) (*Server, store.Store) {
	st := store.NewMemoryStore()
	m := metrics.New(100)
	return NewServer(orch, st, m, nil, authCfg), st
}

func TestHandleSubmitAssignsTaskIDAndReturnsAccepted(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv, _ := newTestServer(orch, config.AuthConfig{})

	body, _ := json.Marshal(model.TaskDefinition{TaskType: "ingest_analyze"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(orch.submitted) != 1 || orch.submitted[0].TaskID == "" {
		t.Fatalf("expected a submission with a generated task id, got %+v", orch.submitted)
	}
}

func TestHandleSubmitRequiresAuthWhenEnabled(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv, _ := newTestServer(orch, config.AuthConfig{Enabled: true, Secret: "test-secret"})

	body, _ := json.Marshal(model.TaskDefinition{TaskType: "ingest_analyze"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
	if len(orch.submitted) != 0 {
		t.Fatalf("expected no submission to reach the orchestrator, got %+v", orch.submitted)
	}
}

func TestHandleGetStatusReturnsView(t *testing.T) {
	orch := &fakeOrchestrator{view: &model.StatusView{TaskID: "t1", Status: model.StatusCompleted}}
	srv, _ := newTestServer(orch, config.AuthConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/t1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view model.StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.TaskID != "t1" || view.Status != model.StatusCompleted {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestHandleGetStatusUnknownTaskReturns404(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv, _ := newTestServer(orch, config.AuthConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/missing", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRegisterAgentPersistsToStore(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv, st := newTestServer(orch, config.AuthConfig{})

	body, _ := json.Marshal(model.AgentInfo{AgentID: "agent-1", AgentType: "ingest", Endpoint: "http://w:9000/invoke"})
	req := httptest.NewRequest(http.MethodPost, "/v1/agents/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := st.GetAgent(req.Context(), "agent-1"); err != nil {
		t.Fatalf("expected agent persisted in store: %v", err)
	}
}

func TestHandleHealthReportsStoreStatus(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv, _ := newTestServer(orch, config.AuthConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleTriggerEventReturns503WithoutEventsWired(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv, _ := newTestServer(orch, config.AuthConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/events/webhook.received", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleTriggerEventForwardsToScheduler(t *testing.T) {
	orch := &fakeOrchestrator{}
	st := store.NewMemoryStore()
	m := metrics.New(100)
	events := &fakeEventTrigger{}
	srv := NewServer(orch, st, m, events, config.AuthConfig{})

	body, _ := json.Marshal(map[string]any{"order_id": "42"})
	req := httptest.NewRequest(http.MethodPost, "/v1/events/webhook.received", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if events.eventType != "webhook.received" {
		t.Fatalf("expected event forwarded, got %q", events.eventType)
	}
	if events.data["order_id"] != "42" {
		t.Fatalf("expected event data forwarded, got %v", events.data)
	}
}

func TestHandleMetricsExportsPrometheusText(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv, _ := newTestServer(orch, config.AuthConfig{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
