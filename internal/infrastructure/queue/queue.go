// Package queue orders ready visualization jobs by priority (descending) and
// enqueue time (ascending).
package queue

import (
	"context"
	"fmt"

	"bookviz-api/internal/config"
	"bookviz-api/internal/infrastructure/persistence/redis"
)

// Queue is the ordered set of jobs waiting for a worker.
type Queue interface {
	// Enqueue inserts jobID and returns its 1-based position. Enqueueing a job
	// that is already queued returns its current position.
	Enqueue(ctx context.Context, jobID string, priority int) (int, error)
	// Dequeue pops the head. ok is false when the queue is empty.
	Dequeue(ctx context.Context) (jobID string, ok bool, err error)
	// Remove drops jobID and reports whether it was present.
	Remove(ctx context.Context, jobID string) (bool, error)
	// Position returns the 1-based position of jobID, or 0 if not queued.
	Position(ctx context.Context, jobID string) (int, error)
	Len(ctx context.Context) (int, error)
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// New builds the queue selected by cfg.Backend.
func New(cfg config.QueueConfig, client *redis.Client) (Queue, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryQueue(), nil
	case BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis queue requires a redis client")
		}
		return NewRedisQueue(client, cfg.Key), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
