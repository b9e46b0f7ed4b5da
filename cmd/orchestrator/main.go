// Command orchestrator runs the control plane: the task queue drainer,
// health monitor, and stale-agent reaper (internal/orchestrator), the cron
// and event scheduler (internal/scheduler), and the HTTP gateway
// (internal/httpapi), all sharing one Redis-backed store. Grounded on
// _teacher_copy/orchestrator/main.go's bootstrap/signal/shutdown shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/orchestrator/internal/balancer"
	"github.com/taskmesh/orchestrator/internal/eventbus"
	"github.com/taskmesh/orchestrator/internal/executor"
	"github.com/taskmesh/orchestrator/internal/httpapi"
	"github.com/taskmesh/orchestrator/internal/metrics"
	"github.com/taskmesh/orchestrator/internal/orchestrator"
	"github.com/taskmesh/orchestrator/internal/platform/config"
	"github.com/taskmesh/orchestrator/internal/platform/logging"
	"github.com/taskmesh/orchestrator/internal/platform/otelinit"
	"github.com/taskmesh/orchestrator/internal/scheduler"
	"github.com/taskmesh/orchestrator/internal/store"
)

func main() {
	service := "taskmesh-orchestrator"
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

	st := store.NewRedisStore(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer st.Close()

	collector := metrics.New(cfg.Metrics.HistorySize)
	lb := balancer.New(st, balancer.LeastLoaded)
	engine := executor.NewEngine(executor.NewDispatcher(st, cfg.Orchestrator.DispatchTimeout))

	orchCfg := orchestrator.Config{
		QueuePollInterval:   cfg.Orchestrator.QueuePollInterval,
		HealthCheckInterval: cfg.Orchestrator.HealthCheckInterval,
		CleanupInterval:     cfg.Orchestrator.CleanupInterval,
		StaleAgentAge:       cfg.Orchestrator.StaleAgentAge,
		DispatchTimeout:     cfg.Orchestrator.DispatchTimeout,
	}
	orch := orchestrator.New(st, collector, lb, engine, orchCfg)
	orch.Start(ctx)
	defer orch.Stop()

	sched, err := scheduler.New(orch, cfg.Scheduler.DBPath)
	if err != nil {
		slog.Error("scheduler init failed", "error", err)
		return
	}
	if err := sched.RestoreSchedules(ctx); err != nil {
		slog.Error("schedule restore failed", "error", err)
	}
	sched.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = sched.Stop(shutdownCtx)
	}()

	bus, err := eventbus.Connect(cfg.EventBus.URL, cfg.EventBus.Subject, sched)
	if err != nil {
		slog.Error("event bus connect failed", "error", err)
	}
	defer bus.Close()

	gateway := httpapi.NewServer(orch, st, collector, sched, cfg.Auth)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      gateway.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway http server error", "error", err)
			cancel()
		}
	}()

	slog.Info("orchestrator running", "addr", httpServer.Addr)
	<-ctx.Done()

	slog.Info("shutting down orchestrator")
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	slog.Info("orchestrator stopped")
}
