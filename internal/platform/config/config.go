// Package config loads process configuration from environment variables
// (prefix TASKMESH_) and an optional config file, using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for both the orchestrator/gateway process
// and the worker process. Each process reads only the sections it needs.
type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Worker      WorkerConfig
	Orchestrator OrchestratorConfig
	Scheduler   SchedulerConfig
	Auth        AuthConfig
	Metrics     MetricsConfig
	EventBus    EventBusConfig
	LogLevel    string
	JSONLog     bool
}

// ServerConfig controls the HTTP API gateway (C8).
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// RedisConfig controls the connection to the state store backend (C1).
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WorkerConfig controls a worker agent process (C6/C7).
type WorkerConfig struct {
	ID                string
	AgentType         string
	MaxConcurrent     int
	HeartbeatInterval time.Duration
	CallbackAddr      string
}

// OrchestratorConfig controls the orchestrator's background loops (C5).
type OrchestratorConfig struct {
	MaxRetries           int
	StaleAgentAge        time.Duration
	HealthCheckInterval  time.Duration
	CleanupInterval      time.Duration
	QueuePollInterval    time.Duration
	DispatchTimeout      time.Duration
}

// SchedulerConfig controls the cron scheduler's bbolt-backed persistence (C9).
type SchedulerConfig struct {
	DBPath string
}

// AuthConfig controls JWT bearer auth on the gateway's mutating routes.
type AuthConfig struct {
	Enabled bool
	Secret  string
}

// MetricsConfig controls the in-process metrics collector's retention.
type MetricsConfig struct {
	HistorySize int
}

// EventBusConfig controls the optional NATS bridge that feeds external
// events into the scheduler's event-triggered schedules. Disabled (no
// URL) by default; schedules with an EventType still work without it if
// something else calls Scheduler.TriggerEvent directly.
type EventBusConfig struct {
	URL     string
	Subject string
}

// Load reads configuration from the environment (prefix TASKMESH_), an
// optional TASKMESH_CONFIG file, and built-in defaults, in that precedence.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile := v.GetString("config_file"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Redis: RedisConfig{
			Addr:         v.GetString("redis.addr"),
			Password:     v.GetString("redis.password"),
			DB:           v.GetInt("redis.db"),
			PoolSize:     v.GetInt("redis.pool_size"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
		},
		Worker: WorkerConfig{
			ID:                v.GetString("worker.id"),
			AgentType:         v.GetString("worker.agent_type"),
			MaxConcurrent:     v.GetInt("worker.max_concurrent"),
			HeartbeatInterval: v.GetDuration("worker.heartbeat_interval"),
			CallbackAddr:      v.GetString("worker.callback_addr"),
		},
		Orchestrator: OrchestratorConfig{
			MaxRetries:          v.GetInt("orchestrator.max_retries"),
			StaleAgentAge:       v.GetDuration("orchestrator.stale_agent_age"),
			HealthCheckInterval: v.GetDuration("orchestrator.health_check_interval"),
			CleanupInterval:     v.GetDuration("orchestrator.cleanup_interval"),
			QueuePollInterval:   v.GetDuration("orchestrator.queue_poll_interval"),
			DispatchTimeout:     v.GetDuration("orchestrator.dispatch_timeout"),
		},
		Scheduler: SchedulerConfig{
			DBPath: v.GetString("scheduler.db_path"),
		},
		Auth: AuthConfig{
			Enabled: v.GetBool("auth.enabled"),
			Secret:  v.GetString("auth.secret"),
		},
		Metrics: MetricsConfig{
			HistorySize: v.GetInt("metrics.history_size"),
		},
		EventBus: EventBusConfig{
			URL:     v.GetString("eventbus.url"),
			Subject: v.GetString("eventbus.subject"),
		},
		LogLevel: v.GetString("log_level"),
		JSONLog:  v.GetBool("json_log"),
	}

	if cfg.Worker.ID == "" {
		cfg.Worker.ID = fmt.Sprintf("%s-%d", cfg.Worker.AgentType, time.Now().UnixNano())
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("worker.agent_type", "ingest")
	v.SetDefault("worker.max_concurrent", 5)
	v.SetDefault("worker.heartbeat_interval", 10*time.Second)
	v.SetDefault("worker.callback_addr", "")

	v.SetDefault("orchestrator.max_retries", 3)
	v.SetDefault("orchestrator.stale_agent_age", 60*time.Second)
	v.SetDefault("orchestrator.health_check_interval", 10*time.Second)
	v.SetDefault("orchestrator.cleanup_interval", 30*time.Second)
	v.SetDefault("orchestrator.queue_poll_interval", 100*time.Millisecond)
	v.SetDefault("orchestrator.dispatch_timeout", 30*time.Second)

	v.SetDefault("scheduler.db_path", "taskmesh-scheduler.db")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.secret", "")

	v.SetDefault("metrics.history_size", 1000)

	v.SetDefault("eventbus.url", "")
	v.SetDefault("eventbus.subject", "taskmesh.events")

	v.SetDefault("log_level", "info")
	v.SetDefault("json_log", false)
}
