// Package resilience provides retry, rate-limiting, and circuit-breaking
// primitives shared across the orchestrator, the HTTP gateway, and the
// scheduler.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
)

// Retry executes fn with exponential backoff and full jitter. delay is the
// initial backoff; it doubles on each failed attempt, capped at 60s.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}

	cur := delay
	var lastErr error

	meter := otel.Meter("taskmesh")
	attemptCounter, _ := meter.Int64Counter("taskmesh_resilience_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("taskmesh_resilience_retry_success_total")
	failCounter, _ := meter.Int64Counter("taskmesh_resilience_retry_fail_total")

	for i := 0; i < attempts; i++ {
		v, err := fn()
		attemptCounter.Add(ctx, 1)
		if err == nil {
			successCounter.Add(ctx, 1)
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if cur > 60*time.Second {
			cur = 60 * time.Second
		}
		sleep := time.Duration(rand.Int63n(int64(cur) + 1))
		select {
		case <-ctx.Done():
			failCounter.Add(ctx, 1)
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}
	failCounter.Add(ctx, 1)
	return zero, lastErr
}

// Backoff returns the orchestrator's fixed retry schedule: 2^n seconds for
// n = 1..3 (2s, 4s, 8s); counts below 1 give 2s and above 3 give 8s.
func Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > 3 {
		retryCount = 3
	}
	return time.Duration(1<<uint(retryCount)) * time.Second
}
