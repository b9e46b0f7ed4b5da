package orchestrator

import (
	"context"
	"sync"
)

// cancellationManager tracks the cancel func for each in-flight
// executeTask call, so Cancel can abort a running dispatch instead of
// only flipping the stored status underneath it. Adapted from
// _teacher_copy/orchestrator/cancellation.go's CancellationManager, which
// tracked whole workflow executions; narrowed here to one cancel func per
// task id since this codebase has no separate workflow-execution object to
// wrap.
type cancellationManager struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newCancellationManager() *cancellationManager {
	return &cancellationManager{cancels: make(map[string]context.CancelFunc)}
}

// register derives a cancellable context for taskID and stores its cancel
// func for later use by abort. Call the returned release func once the
// task's execution has finished, successfully or not, to stop tracking it.
func (cm *cancellationManager) register(ctx context.Context, taskID string) (context.Context, func()) {
	taskCtx, cancel := context.WithCancel(ctx)

	cm.mu.Lock()
	cm.cancels[taskID] = cancel
	cm.mu.Unlock()

	return taskCtx, func() {
		cm.mu.Lock()
		delete(cm.cancels, taskID)
		cm.mu.Unlock()
		cancel()
	}
}

// abort cancels taskID's execution context if it is still in flight. It
// reports whether a running execution was found and cancelled.
func (cm *cancellationManager) abort(taskID string) bool {
	cm.mu.Lock()
	cancel, ok := cm.cancels[taskID]
	cm.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// runningCount reports how many task executions are currently tracked.
func (cm *cancellationManager) runningCount() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.cancels)
}
