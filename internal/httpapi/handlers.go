package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/taskmesh/orchestrator/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSubmit implements POST /v1/tasks — spec.md §6's submission payload.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var def model.TaskDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if def.TaskID == "" {
		def.TaskID = uuid.NewString()
	}

	result, err := s.orch.Submit(r.Context(), def)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// handleGetStatus implements GET /v1/tasks/{id} — spec.md §6's status reply.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	view, err := s.orch.GetStatus(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCancel implements POST /v1/tasks/{id}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "client requested cancellation"
	}
	if claims := userFromContext(r.Context()); claims != nil {
		slog.Info("cancel requested", "task_id", taskID, "subject", claims.Subject)
	}

	cancelled, err := s.orch.Cancel(r.Context(), taskID, body.Reason)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// handleRegisterAgent implements POST /v1/agents/register, an HTTP route for
// workers to register through the gateway. cmd/worker does not use it: it
// registers and heartbeats by writing to the store directly.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var info model.AgentInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	info.LastHeartbeat = time.Now()
	info.Healthy = true

	if err := s.store.RegisterAgent(r.Context(), &info); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleHeartbeat implements POST /v1/agents/{id}/heartbeat.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if err := s.store.UpdateHeartbeat(r.Context(), agentID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTriggerEvent implements POST /v1/events/{eventType} — an HTTP-side
// companion to the NATS event bus bridge for firing event-triggered
// schedules from a webhook caller that doesn't have a NATS connection.
func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event-triggered schedules are not enabled")
		return
	}
	eventType := chi.URLParam(r, "eventType")

	var data map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	s.events.TriggerEvent(r.Context(), eventType, data)
	writeJSON(w, http.StatusAccepted, map[string]string{"event_type": eventType})
}

// handleMetrics implements GET /metrics in C2's text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(s.metrics.ExportPrometheusText()))
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeErr := s.store.HealthCheck(r.Context())
	healthy := storeErr == nil

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"healthy": healthy,
		"stats":   s.metrics.GetTaskMetrics(),
		"sla":     s.metrics.CheckSLACompliance(),
	}
	if storeErr != nil {
		body["store_error"] = storeErr.Error()
	}
	writeJSON(w, status, body)
}
