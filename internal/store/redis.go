package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/orchestrator/internal/model"
)

// Key prefixes, grounded on RedisStateManager's TASK_PREFIX/AGENT_PREFIX/
// QUEUE_PREFIX/LOCK_PREFIX/METRICS_PREFIX.
const (
	taskPrefix    = "task:"
	agentPrefix   = "agent:"
	agentTypeSet  = "agent:type:"
	queuePrefix   = "queue:"
	lockPrefix    = "lock:"
	metricsPrefix = "metrics:"
	updatesPrefix = "task_updates:"
)

// RedisStore is the production Store implementation over go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore opens a Store backed by the given Redis connection.
func NewRedisStore(opts *redis.Options) *RedisStore {
	return &RedisStore{client: redis.NewClient(opts)}
}

func (s *RedisStore) CreateTask(ctx context.Context, task *model.TaskState) error {
	data, err := json.Marshal(task)
	if err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("marshal task: %v", err))
	}

	// The score puts the priority above the enqueue time in milliseconds, so
	// ZPOPMIN takes the lowest priority first and equal priorities in
	// insertion order.
	score := float64(task.Priority)*1e13 + float64(time.Now().UnixMilli())

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, taskPrefix+task.TaskID, data, 0)
	pipe.ZAdd(ctx, queuePrefix+task.TaskType, redis.Z{Score: score, Member: task.TaskID})
	if _, err := pipe.Exec(ctx); err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("create task %s: %v", task.TaskID, err))
	}
	return nil
}

func (s *RedisStore) GetTask(ctx context.Context, id string) (*model.TaskState, error) {
	data, err := s.client.Get(ctx, taskPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, model.ErrStateStoreError(fmt.Sprintf("get task %s: %v", id, err))
	}
	var task model.TaskState
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, model.ErrStateStoreError(fmt.Sprintf("unmarshal task %s: %v", id, err))
	}
	return &task, nil
}

// UpdateTaskStatus is a non-transactional read-modify-write: safe because
// the orchestrator serializes terminal transitions per task id.
func (s *RedisStore) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus, patch TaskPatch) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return model.ErrStateStoreError(fmt.Sprintf("task %s not found", id))
	}
	if task.Status.Terminal() {
		return model.ErrStateStoreError(fmt.Sprintf("task %s is already %s", id, task.Status))
	}

	task.Status = status
	task.UpdatedAt = time.Now()
	if patch.Error != nil {
		task.Error = patch.Error
	}
	if patch.Output != nil {
		task.Output = patch.Output
	}

	data, err := json.Marshal(task)
	if err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("marshal task: %v", err))
	}
	if err := s.client.Set(ctx, taskPrefix+id, data, 0).Err(); err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("update task %s: %v", id, err))
	}

	update := TaskUpdate{TaskID: id, Status: status, Timestamp: task.UpdatedAt}
	payload, _ := json.Marshal(update)
	if err := s.client.Publish(ctx, updatesPrefix+id, payload).Err(); err != nil {
		slog.Warn("publish task update failed", "task_id", id, "error", err)
	}
	return nil
}

func (s *RedisStore) AddAgentExecution(ctx context.Context, id string, exec model.AgentExecution) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return model.ErrStateStoreError(fmt.Sprintf("task %s not found", id))
	}
	task.AgentExecutions = append(task.AgentExecutions, exec)
	task.UpdatedAt = time.Now()

	data, err := json.Marshal(task)
	if err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("marshal task: %v", err))
	}
	if err := s.client.Set(ctx, taskPrefix+id, data, 0).Err(); err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("add agent execution %s: %v", id, err))
	}
	return nil
}

func (s *RedisStore) PopNextTask(ctx context.Context, taskType string) (string, bool, error) {
	res, err := s.client.ZPopMin(ctx, queuePrefix+taskType, 1).Result()
	if err != nil {
		return "", false, model.ErrStateStoreError(fmt.Sprintf("pop next task %s: %v", taskType, err))
	}
	if len(res) == 0 {
		return "", false, nil
	}
	id, _ := res[0].Member.(string)
	return id, true, nil
}

func (s *RedisStore) QueueLength(ctx context.Context, taskType string) (int64, error) {
	n, err := s.client.ZCard(ctx, queuePrefix+taskType).Result()
	if err != nil {
		return 0, model.ErrStateStoreError(fmt.Sprintf("queue length %s: %v", taskType, err))
	}
	return n, nil
}

func (s *RedisStore) RegisterAgent(ctx context.Context, agent *model.AgentInfo) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("marshal agent: %v", err))
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, agentPrefix+agent.AgentID, data, 0)
	pipe.SAdd(ctx, agentTypeSet+agent.AgentType, agent.AgentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("register agent %s: %v", agent.AgentID, err))
	}
	return nil
}

func (s *RedisStore) GetAgent(ctx context.Context, id string) (*model.AgentInfo, error) {
	data, err := s.client.Get(ctx, agentPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, model.ErrStateStoreError(fmt.Sprintf("get agent %s: %v", id, err))
	}
	var agent model.AgentInfo
	if err := json.Unmarshal(data, &agent); err != nil {
		return nil, model.ErrStateStoreError(fmt.Sprintf("unmarshal agent %s: %v", id, err))
	}
	return &agent, nil
}

func (s *RedisStore) GetAgentsByType(ctx context.Context, agentType string) ([]*model.AgentInfo, error) {
	ids, err := s.client.SMembers(ctx, agentTypeSet+agentType).Result()
	if err != nil {
		return nil, model.ErrStateStoreError(fmt.Sprintf("get agents by type %s: %v", agentType, err))
	}
	agents := make([]*model.AgentInfo, 0, len(ids))
	for _, id := range ids {
		agent, err := s.GetAgent(ctx, id)
		if err != nil {
			slog.Warn("skipping agent on read error", "agent_id", id, "error", err)
			continue
		}
		if agent != nil && agent.Healthy {
			agents = append(agents, agent)
		}
	}
	return agents, nil
}

func (s *RedisStore) UpdateHeartbeat(ctx context.Context, id string) error {
	agent, err := s.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if agent == nil {
		return model.ErrStateStoreError(fmt.Sprintf("agent %s not found", id))
	}
	agent.LastHeartbeat = time.Now()
	data, err := json.Marshal(agent)
	if err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("marshal agent: %v", err))
	}
	if err := s.client.Set(ctx, agentPrefix+id, data, 0).Err(); err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("update heartbeat %s: %v", id, err))
	}
	return nil
}

func (s *RedisStore) IncrementAgentTasks(ctx context.Context, id string, delta int) error {
	agent, err := s.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if agent == nil {
		return model.ErrStateStoreError(fmt.Sprintf("agent %s not found", id))
	}
	agent.CurrentTasks += delta
	agent.ClampTasks()
	data, err := json.Marshal(agent)
	if err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("marshal agent: %v", err))
	}
	if err := s.client.Set(ctx, agentPrefix+id, data, 0).Err(); err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("increment agent tasks %s: %v", id, err))
	}
	return nil
}

func (s *RedisStore) ReapStaleAgents(ctx context.Context, maxAge time.Duration) (int, error) {
	var cursor uint64
	removed := 0
	now := time.Now()
	for {
		keys, next, err := s.client.Scan(ctx, cursor, agentPrefix+"*", 100).Result()
		if err != nil {
			return removed, model.ErrStateStoreError(fmt.Sprintf("scan agents: %v", err))
		}
		for _, key := range keys {
			if len(key) > len(agentTypeSet) && key[:len(agentTypeSet)] == agentTypeSet {
				continue
			}
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var agent model.AgentInfo
			if err := json.Unmarshal(data, &agent); err != nil {
				continue
			}
			if agent.Stale(now, maxAge) {
				pipe := s.client.TxPipeline()
				pipe.Del(ctx, key)
				pipe.SRem(ctx, agentTypeSet+agent.AgentType, agent.AgentID)
				if _, err := pipe.Exec(ctx); err == nil {
					removed++
					slog.Warn("reaped stale agent", "agent_id", agent.AgentID)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// AcquireLock implements a SETNX+TTL named mutex. go-redis's built-in Lock
// helper is not used here; it adds its own token/retry/renewal machinery
// that isn't demonstrated anywhere else in this codebase's dependency
// surface, while SETNX+TTL is exactly what RedisStateManager's
// acquire_lock is backed by under the hood.
func (s *RedisStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockPrefix+name, token, ttl).Result()
	if err != nil {
		return nil, model.ErrStateStoreError(fmt.Sprintf("acquire lock %s: %v", name, err))
	}
	if !ok {
		return nil, nil
	}
	return &Lock{Name: name, Token: token}, nil
}

// releaseLockScript only deletes the key if the token still matches,
// avoiding releasing a lock some other holder has since acquired after TTL
// expiry.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (s *RedisStore) ReleaseLock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	if err := releaseLockScript.Run(ctx, s.client, []string{lockPrefix + lock.Name}, lock.Token).Err(); err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("release lock %s: %v", lock.Name, err))
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, taskID string) (<-chan TaskUpdate, func(), error) {
	pubsub := s.client.Subscribe(ctx, updatesPrefix+taskID)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, model.ErrStateStoreError(fmt.Sprintf("subscribe %s: %v", taskID, err))
	}

	out := make(chan TaskUpdate, 8)
	msgs := pubsub.Channel()
	go func() {
		defer close(out)
		for msg := range msgs {
			var update TaskUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				continue
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return out, cancel, nil
}

func (s *RedisStore) IncrementMetric(ctx context.Context, name string, delta int64) error {
	if err := s.client.IncrBy(ctx, metricsPrefix+name, delta).Err(); err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("increment metric %s: %v", name, err))
	}
	return nil
}

func (s *RedisStore) GetMetric(ctx context.Context, name string) (int64, error) {
	v, err := s.client.Get(ctx, metricsPrefix+name).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, model.ErrStateStoreError(fmt.Sprintf("get metric %s: %v", name, err))
	}
	return v, nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return model.ErrStateStoreError(fmt.Sprintf("health check: %v", err))
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
