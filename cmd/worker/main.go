// Command worker runs a single capability agent: it registers itself with
// the state store, serves its invocation envelope over HTTP, and sends a
// periodic heartbeat until shut down. Grounded on
// original_source/main_agent.py.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/orchestrator/internal/model"
	"github.com/taskmesh/orchestrator/internal/platform/config"
	"github.com/taskmesh/orchestrator/internal/platform/logging"
	"github.com/taskmesh/orchestrator/internal/platform/otelinit"
	"github.com/taskmesh/orchestrator/internal/store"
	"github.com/taskmesh/orchestrator/internal/worker"
)

// agentConstructors mirrors main_agent.py's AGENT_CLASSES mapping.
var agentConstructors = map[string]func(agentID string, maxConcurrent int) (worker.Agent, *worker.BaseAgent){
	"ingest": func(id string, n int) (worker.Agent, *worker.BaseAgent) {
		a := worker.NewIngestAgent(id, n)
		return a, &a.BaseAgent
	},
	"analyze": func(id string, n int) (worker.Agent, *worker.BaseAgent) {
		a := worker.NewAnalyzeAgent(id, n)
		return a, &a.BaseAgent
	},
	"synthesize": func(id string, n int) (worker.Agent, *worker.BaseAgent) {
		a := worker.NewSynthesizeAgent(id, n)
		return a, &a.BaseAgent
	},
	"video_detection": func(id string, n int) (worker.Agent, *worker.BaseAgent) {
		a := worker.NewVideoDetectionAgent(id, n)
		return a, &a.BaseAgent
	},
	"alerting": func(id string, n int) (worker.Agent, *worker.BaseAgent) {
		a := worker.NewAlertingAgent(id, n)
		return a, &a.BaseAgent
	},
	"api_caller": func(id string, n int) (worker.Agent, *worker.BaseAgent) {
		a := worker.NewAPICallerAgent(id, n)
		return a, &a.BaseAgent
	},
	"transcript_summary": func(id string, n int) (worker.Agent, *worker.BaseAgent) {
		a := worker.NewTranscriptSummaryAgent(id, n)
		return a, &a.BaseAgent
	},
}

func main() {
	service := "taskmesh-worker"
	logging.Init(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, service)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		return
	}

	agentType := cfg.Worker.AgentType
	construct, ok := agentConstructors[agentType]
	if !ok {
		slog.Error("unknown agent type", "agent_type", agentType)
		return
	}

	agentID := cfg.Worker.ID
	if agentID == "" {
		agentID = fmt.Sprintf("agent-%s-%s", agentType, uuid.NewString()[:8])
	}

	agent, base := construct(agentID, cfg.Worker.MaxConcurrent)

	st := store.NewRedisStore(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB, PoolSize: cfg.Redis.PoolSize})
	defer st.Close()

	endpoint := fmt.Sprintf("http://%s:%d/invoke", cfg.Server.Host, cfg.Server.Port)
	info := &model.AgentInfo{
		AgentID:            agentID,
		AgentType:          agentType,
		Endpoint:           endpoint,
		Capabilities:       []string{agentType},
		MaxConcurrentTasks: cfg.Worker.MaxConcurrent,
		Healthy:            true,
		LastHeartbeat:      time.Now(),
		Metadata:           map[string]any{"version": "1.0.0"},
	}
	if err := st.RegisterAgent(ctx, info); err != nil {
		slog.Error("agent registration failed", "error", err)
		return
	}
	slog.Info("agent registered", "agent_id", agentID, "agent_type", agentType)

	go runHeartbeat(ctx, st, agentID, cfg.Worker.HeartbeatInterval)

	srv := worker.NewServer(agent, base)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: srv.Router()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker http server error", "error", err)
			cancel()
		}
	}()

	slog.Info("worker running", "agent_id", agentID)
	<-ctx.Done()

	slog.Info("shutting down worker", "agent_id", agentID)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = base.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	slog.Info("worker stopped", "agent_id", agentID)
}

func runHeartbeat(ctx context.Context, st store.Store, agentID string, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.UpdateHeartbeat(ctx, agentID); err != nil {
				slog.Error("heartbeat failed", "agent_id", agentID, "error", err)
			}
		}
	}
}
