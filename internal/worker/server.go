package worker

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskmesh/orchestrator/internal/model"
)

// invocationRequest mirrors the executor's invocation envelope request
// shape (internal/executor/dispatch.go's invocationRequest).
type invocationRequest struct {
	TaskID     string         `json:"task_id"`
	Capability string         `json:"capability"`
	Inputs     []model.Input  `json:"inputs"`
	Parameters map[string]any `json:"parameters"`
}

// Server exposes one agent's /invoke and /health endpoints over HTTP.
// Grounded on the chi router/middleware setup pattern used throughout this
// codebase's HTTP surfaces.
type Server struct {
	router *chi.Mux
	agent  Agent
	base   *BaseAgent
}

// NewServer builds a worker HTTP server wrapping a single capability agent.
func NewServer(agent Agent, base *BaseAgent) *Server {
	s := &Server{router: chi.NewRouter(), agent: agent, base: base}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(35 * time.Second))

	s.router.Post("/invoke", s.handleInvoke)
	s.router.Get("/health", s.handleHealth)

	return s
}

// Router returns the chi router so callers can mount or serve it directly.
func (s *Server) Router() *chi.Mux { return s.router }

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	envelope := Execute(r.Context(), s.agent, s.base, req.TaskID, req.Inputs, req.Parameters)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		slog.Error("failed to encode invocation response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.base.GetHealth()); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}
