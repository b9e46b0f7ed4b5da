// Package store defines the state-store contract (C1): atomic task and
// agent persistence, priority queues, locks, and pub/sub task-update
// notifications, plus a Redis-backed and an in-memory implementation.
package store

import (
	"context"
	"time"

	"github.com/taskmesh/orchestrator/internal/model"
)

// TaskUpdate is the payload published to a task's update channel on every
// status write.
type TaskUpdate struct {
	TaskID    string           `json:"task_id"`
	Status    model.TaskStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}

// TaskPatch carries the optional fields updateTaskStatus may set alongside
// the new status.
type TaskPatch struct {
	Output *model.Output
	Error  *model.Error
}

// Lock is an acquired named mutex handle; release it with Store.ReleaseLock.
type Lock struct {
	Name  string
	Token string
}

// Store is the state-store contract every component depends on. Grounded
// on original_source/state/redis_manager.py's RedisStateManager.
type Store interface {
	CreateTask(ctx context.Context, task *model.TaskState) error
	GetTask(ctx context.Context, id string) (*model.TaskState, error)
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus, patch TaskPatch) error
	AddAgentExecution(ctx context.Context, id string, exec model.AgentExecution) error
	PopNextTask(ctx context.Context, taskType string) (string, bool, error)
	QueueLength(ctx context.Context, taskType string) (int64, error)

	RegisterAgent(ctx context.Context, agent *model.AgentInfo) error
	GetAgent(ctx context.Context, id string) (*model.AgentInfo, error)
	GetAgentsByType(ctx context.Context, agentType string) ([]*model.AgentInfo, error)
	UpdateHeartbeat(ctx context.Context, id string) error
	IncrementAgentTasks(ctx context.Context, id string, delta int) error
	ReapStaleAgents(ctx context.Context, maxAge time.Duration) (int, error)

	AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error)
	ReleaseLock(ctx context.Context, lock *Lock) error

	Subscribe(ctx context.Context, taskID string) (<-chan TaskUpdate, func(), error)

	IncrementMetric(ctx context.Context, name string, delta int64) error
	GetMetric(ctx context.Context, name string) (int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
