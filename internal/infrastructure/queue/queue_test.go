package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookviz-api/internal/config"
	"bookviz-api/internal/infrastructure/persistence/redis"
)

func backends(t *testing.T) map[string]func() Queue {
	return map[string]func() Queue{
		"memory": func() Queue { return NewMemoryQueue() },
		"redis": func() Queue {
			mr := miniredis.RunT(t)
			rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisQueue(redis.NewClientFromRedis(rdb), "test:queue")
		},
	}
}

func drain(t *testing.T, q Queue) []string {
	t.Helper()
	var out []string
	for {
		id, ok, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, id)
	}
}

func TestQueueOrdering(t *testing.T) {
	for name, newQueue := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := newQueue()

			pos, err := q.Enqueue(ctx, "A", 5)
			require.NoError(t, err)
			assert.Equal(t, 1, pos)
			pos, err = q.Enqueue(ctx, "B", 5)
			require.NoError(t, err)
			assert.Equal(t, 2, pos)
			pos, err = q.Enqueue(ctx, "C", 10)
			require.NoError(t, err)
			assert.Equal(t, 1, pos)

			pos, err = q.Position(ctx, "B")
			require.NoError(t, err)
			assert.Equal(t, 3, pos)

			assert.Equal(t, []string{"C", "A", "B"}, drain(t, q))
		})
	}
}

func TestQueueRetryBoostJumpsEqualPriority(t *testing.T) {
	for name, newQueue := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := newQueue()

			_, err := q.Enqueue(ctx, "waiting", 5)
			require.NoError(t, err)
			_, err = q.Enqueue(ctx, "retried", 5+5)
			require.NoError(t, err)

			assert.Equal(t, []string{"retried", "waiting"}, drain(t, q))
		})
	}
}

func TestQueueEnqueueIsIdempotent(t *testing.T) {
	for name, newQueue := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := newQueue()

			_, err := q.Enqueue(ctx, "A", 1)
			require.NoError(t, err)
			_, err = q.Enqueue(ctx, "B", 1)
			require.NoError(t, err)

			pos, err := q.Enqueue(ctx, "A", 50)
			require.NoError(t, err)
			assert.Equal(t, 1, pos)

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestQueueRemove(t *testing.T) {
	for name, newQueue := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := newQueue()

			for i, id := range []string{"A", "B", "C"} {
				_, err := q.Enqueue(ctx, id, i)
				require.NoError(t, err)
			}

			removed, err := q.Remove(ctx, "B")
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = q.Remove(ctx, "B")
			require.NoError(t, err)
			assert.False(t, removed)

			pos, err := q.Position(ctx, "B")
			require.NoError(t, err)
			assert.Zero(t, pos)

			assert.Equal(t, []string{"C", "A"}, drain(t, q))

			removed, err = q.Remove(ctx, "A")
			require.NoError(t, err)
			assert.False(t, removed)
		})
	}
}

func TestQueueConcurrentDequeue(t *testing.T) {
	for name, newQueue := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := newQueue()

			const jobs = 200
			for i := 0; i < jobs; i++ {
				_, err := q.Enqueue(ctx, fmt.Sprintf("job-%03d", i), i%7)
				require.NoError(t, err)
			}

			var (
				mu   sync.Mutex
				seen = make(map[string]int)
				wg   sync.WaitGroup
			)
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						id, ok, err := q.Dequeue(ctx)
						if err != nil || !ok {
							return
						}
						mu.Lock()
						seen[id]++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Len(t, seen, jobs)
			for id, n := range seen {
				assert.Equal(t, 1, n, "job %s dequeued more than once", id)
			}
		})
	}
}

func TestNew(t *testing.T) {
	q, err := New(config.QueueConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	_, err = New(config.QueueConfig{Backend: "redis"}, nil)
	assert.Error(t, err)

	_, err = New(config.QueueConfig{Backend: "kafka"}, nil)
	assert.Error(t, err)
}
