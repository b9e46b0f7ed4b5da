package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/orchestrator/internal/model"
)

type queueEntry struct {
	id       string
	priority int
	seq      int64
}

// MemoryStore is an in-process Store implementation for tests and local
// development, satisfying the same priority/FIFO ordering and
// last-writer-wins semantics as RedisStore.
type MemoryStore struct {
	mu sync.Mutex

	tasks   map[string]*model.TaskState
	agents  map[string]*model.AgentInfo
	queues  map[string][]queueEntry
	locks   map[string]string
	metrics map[string]int64
	subs    map[string][]chan TaskUpdate
	seq     int64
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*model.TaskState),
		agents:  make(map[string]*model.AgentInfo),
		queues:  make(map[string][]queueEntry),
		locks:   make(map[string]string),
		metrics: make(map[string]int64),
		subs:    make(map[string][]chan TaskUpdate),
	}
}

func cloneTask(t *model.TaskState) *model.TaskState {
	cp := *t
	cp.AgentExecutions = append([]model.AgentExecution(nil), t.AgentExecutions...)
	return &cp
}

func cloneAgent(a *model.AgentInfo) *model.AgentInfo {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	return &cp
}

func (m *MemoryStore) CreateTask(ctx context.Context, task *model.TaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.TaskID] = cloneTask(task)
	m.seq++
	m.queues[task.TaskType] = append(m.queues[task.TaskType], queueEntry{id: task.TaskID, priority: task.Priority, seq: m.seq})
	return nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (*model.TaskState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return cloneTask(t), nil
}

func (m *MemoryStore) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus, patch TaskPatch) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return model.ErrStateStoreError(fmt.Sprintf("task %s not found", id))
	}
	if t.Status.Terminal() {
		m.mu.Unlock()
		return model.ErrStateStoreError(fmt.Sprintf("task %s is already %s", id, t.Status))
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	if patch.Error != nil {
		t.Error = patch.Error
	}
	if patch.Output != nil {
		t.Output = patch.Output
	}
	update := TaskUpdate{TaskID: id, Status: status, Timestamp: t.UpdatedAt}
	subs := append([]chan TaskUpdate(nil), m.subs[id]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- update:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) AddAgentExecution(ctx context.Context, id string, exec model.AgentExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.ErrStateStoreError(fmt.Sprintf("task %s not found", id))
	}
	t.AgentExecutions = append(t.AgentExecutions, exec)
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) PopNextTask(ctx context.Context, taskType string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[taskType]
	if len(q) == 0 {
		return "", false, nil
	}
	best := 0
	for i := 1; i < len(q); i++ {
		if q[i].priority < q[best].priority || (q[i].priority == q[best].priority && q[i].seq < q[best].seq) {
			best = i
		}
	}
	entry := q[best]
	m.queues[taskType] = append(q[:best], q[best+1:]...)
	return entry.id, true, nil
}

func (m *MemoryStore) QueueLength(ctx context.Context, taskType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queues[taskType])), nil
}

func (m *MemoryStore) RegisterAgent(ctx context.Context, agent *model.AgentInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agent.AgentID] = cloneAgent(agent)
	return nil
}

func (m *MemoryStore) GetAgent(ctx context.Context, id string) (*model.AgentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	return cloneAgent(a), nil
}

func (m *MemoryStore) GetAgentsByType(ctx context.Context, agentType string) ([]*model.AgentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, a := range m.agents {
		if a.AgentType == agentType {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*model.AgentInfo, 0, len(ids))
	for _, id := range ids {
		a := m.agents[id]
		if a.Healthy {
			out = append(out, cloneAgent(a))
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateHeartbeat(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return model.ErrStateStoreError(fmt.Sprintf("agent %s not found", id))
	}
	a.LastHeartbeat = time.Now()
	return nil
}

func (m *MemoryStore) IncrementAgentTasks(ctx context.Context, id string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return model.ErrStateStoreError(fmt.Sprintf("agent %s not found", id))
	}
	a.CurrentTasks += delta
	a.ClampTasks()
	return nil
}

func (m *MemoryStore) ReapStaleAgents(ctx context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, a := range m.agents {
		if a.Stale(now, maxAge) {
			delete(m.agents, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[name]; held {
		return nil, nil
	}
	token := uuid.NewString()
	m.locks[name] = token
	if ttl > 0 {
		go func() {
			time.Sleep(ttl)
			m.mu.Lock()
			if m.locks[name] == token {
				delete(m.locks, name)
			}
			m.mu.Unlock()
		}()
	}
	return &Lock{Name: name, Token: token}, nil
}

func (m *MemoryStore) ReleaseLock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[lock.Name] == lock.Token {
		delete(m.locks, lock.Name)
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, taskID string) (<-chan TaskUpdate, func(), error) {
	ch := make(chan TaskUpdate, 8)
	m.mu.Lock()
	m.subs[taskID] = append(m.subs[taskID], ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[taskID]
		for i, c := range subs {
			if c == ch {
				m.subs[taskID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel, nil
}

func (m *MemoryStore) IncrementMetric(ctx context.Context, name string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[name] += delta
	return nil
}

func (m *MemoryStore) GetMetric(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics[name], nil
}

func (m *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
