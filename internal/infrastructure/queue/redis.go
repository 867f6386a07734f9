package queue

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookviz-api/internal/infrastructure/persistence/redis"
)

var tracer = otel.Tracer("queue")

// priorityStride separates priority bands in the score so that the sequence
// number only orders jobs of equal priority.
const priorityStride = 1e12

// RedisQueue keeps the queue in a sorted set shared by every process. The
// score is -priority*stride + seq, so ZPOPMIN yields the highest priority and,
// within it, the oldest enqueue.
type RedisQueue struct {
	rdb    *goredis.Client
	key    string
	seqKey string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "viz:queue"
	}
	return &RedisQueue{rdb: client.Redis(), key: key, seqKey: key + ":seq"}
}

func score(priority int, seq int64) float64 {
	return -float64(priority)*priorityStride + float64(seq)
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, priority int) (int, error) {
	ctx, span := tracer.Start(ctx, "queue.Enqueue",
		trace.WithAttributes(attribute.String("job.id", jobID), attribute.Int("job.priority", priority)))
	defer span.End()

	// Already queued: keep the original enqueue time.
	if pos, err := q.Position(ctx, jobID); err != nil || pos > 0 {
		return pos, err
	}

	seq, err := q.rdb.Incr(ctx, q.seqKey).Result()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to allocate queue sequence: %w", err)
	}
	if err := q.rdb.ZAddNX(ctx, q.key, goredis.Z{Score: score(priority, seq), Member: jobID}).Err(); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return q.Position(ctx, jobID)
}

func (q *RedisQueue) Dequeue(ctx context.Context) (string, bool, error) {
	res, err := q.rdb.ZPopMin(ctx, q.key, 1).Result()
	if err != nil {
		if redis.IsNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to dequeue job: %w", err)
	}
	if len(res) == 0 {
		return "", false, nil
	}
	id, ok := res[0].Member.(string)
	if !ok {
		return "", false, fmt.Errorf("unexpected queue member %v", res[0].Member)
	}
	return id, true, nil
}

func (q *RedisQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	n, err := q.rdb.ZRem(ctx, q.key, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove job from queue: %w", err)
	}
	return n > 0, nil
}

func (q *RedisQueue) Position(ctx context.Context, jobID string) (int, error) {
	rank, err := q.rdb.ZRank(ctx, q.key, jobID).Result()
	if err != nil {
		if redis.IsNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read queue position: %w", err)
	}
	return int(rank) + 1, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}
