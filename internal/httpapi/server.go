// Package httpapi fronts the orchestrator with a chi-routed HTTP gateway:
// task submission/status/cancel, worker registration/heartbeat, a
// WebSocket live-status stream, and /metrics and /health. Grounded on
// maumercado-task-queue-go/internal/api/routes.go's router/middleware
// layout; original_source/main_orchestrator.py is the source's bare
// http.server equivalent this generalizes.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskmesh/orchestrator/internal/metrics"
	"github.com/taskmesh/orchestrator/internal/model"
	"github.com/taskmesh/orchestrator/internal/platform/config"
	"github.com/taskmesh/orchestrator/internal/platform/resilience"
	"github.com/taskmesh/orchestrator/internal/store"
)

// TaskOrchestrator is the subset of *orchestrator.Orchestrator the gateway
// needs. Accepting an interface keeps this package testable without a real
// store or background loops.
type TaskOrchestrator interface {
	Submit(ctx context.Context, def model.TaskDefinition) (model.SubmitResult, error)
	GetStatus(ctx context.Context, taskID string) (*model.StatusView, error)
	Cancel(ctx context.Context, taskID, reason string) (bool, error)
}

// MetricsSource is the subset of *metrics.Collector the gateway reports.
type MetricsSource interface {
	ExportPrometheusText() string
	GetTaskMetrics() metrics.TaskMetrics
	CheckSLACompliance() metrics.SLACompliance
}

// EventTrigger is the subset of *scheduler.Scheduler the gateway needs to
// let clients fire an event-triggered schedule over HTTP instead of (or
// alongside) the NATS event bus bridge.
type EventTrigger interface {
	TriggerEvent(ctx context.Context, eventType string, eventData map[string]any)
}

// Server is the HTTP gateway: chi router plus the collaborators it fronts.
type Server struct {
	router  *chi.Mux
	orch    TaskOrchestrator
	store   store.Store
	metrics MetricsSource
	events  EventTrigger
	limiter *resilience.RateLimiter
	authCfg config.AuthConfig
}

// NewServer builds the gateway's router and mounts every route. events may
// be nil, in which case POST /v1/events/{type} reports 503 instead of
// panicking — the gateway still works without event-triggered schedules.
func NewServer(orch TaskOrchestrator, st store.Store, metrics MetricsSource, events EventTrigger, authCfg config.AuthConfig) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		orch:    orch,
		store:   st,
		metrics: metrics,
		events:  events,
		limiter: resilience.NewRateLimiter(20, 10, time.Second, 50),
		authCfg: authCfg,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Route("/v1/tasks", func(r chi.Router) {
		r.With(s.rateLimit, s.authMiddleware).Post("/", s.handleSubmit)
		r.Get("/{taskID}", s.handleGetStatus)
		r.Get("/{taskID}/stream", s.handleStream)
		r.With(s.authMiddleware).Post("/{taskID}/cancel", s.handleCancel)
	})

	s.router.Route("/v1/agents", func(r chi.Router) {
		r.Post("/register", s.handleRegisterAgent)
		r.Post("/{agentID}/heartbeat", s.handleHeartbeat)
	})

	s.router.With(s.authMiddleware).Post("/v1/events/{eventType}", s.handleTriggerEvent)

	s.router.Get("/metrics", s.handleMetrics)
	s.router.Get("/health", s.handleHealth)
}

// Router returns the chi router so callers can serve it directly.
func (s *Server) Router() *chi.Mux { return s.router }

// rateLimit throttles POST /v1/tasks with the platform token-bucket
// limiter, matching the teacher's own rate-limit middleware placement.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
