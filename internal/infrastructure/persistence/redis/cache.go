package redis

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/pkg/logger"
	"bookviz-api/pkg/metrics"
)

var cacheTracer = otel.Tracer("redis.cache")

const (
	defaultJobKeyPrefix = "viz:job:"
	defaultJobGenPrefix = "viz:jobgen:"

	// genTTL outlives any read-through load.
	genTTL = 24 * time.Hour
)

// setJobScript writes KEYS[1] unless it holds a higher version, or unless
// ARGV[4] is set and the generation in KEYS[2] moved away from it.
// ARGV: payload, version, ttl ms, expected generation.
var setJobScript = redis.NewScript(`
if ARGV[4] ~= '' then
  local gen = redis.call('GET', KEYS[2]) or '0'
  if gen ~= ARGV[4] then
    return 0
  end
end
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, decoded = pcall(cjson.decode, cur)
  if ok and type(decoded) == 'table' and tonumber(decoded.version or 0) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// JobCache caches serialized jobs by id. Redis failures are logged and
// reported as misses so status reads never depend on the cache.
//
// Every invalidation bumps a per-job generation. A read-through load only
// writes back when the generation it started under is still current, and no
// write ever replaces a job with a higher version.
type JobCache struct {
	client    *Client
	prefix    string
	genPrefix string
	group     singleflight.Group
}

func NewJobCache(client *Client) *JobCache {
	return &JobCache{client: client, prefix: defaultJobKeyPrefix, genPrefix: defaultJobGenPrefix}
}

func (c *JobCache) key(jobID string) string {
	return c.prefix + jobID
}

func (c *JobCache) genKey(jobID string) string {
	return c.genPrefix + jobID
}

// Get returns the cached job, or false on a miss or error.
func (c *JobCache) Get(ctx context.Context, jobID string) (*entity.VisualizationJob, bool) {
	ctx, span := cacheTracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.key", c.key(jobID))))
	defer span.End()

	raw, err := c.client.rdb.Get(ctx, c.key(jobID)).Bytes()
	if err != nil {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		if IsNil(err) {
			metrics.CacheRequests.WithLabelValues("miss").Inc()
		} else {
			span.RecordError(err)
			metrics.CacheRequests.WithLabelValues("error").Inc()
			logger.Warn(ctx, "job cache read failed", "job_id", jobID, "error", err.Error())
		}
		return nil, false
	}

	var job entity.VisualizationJob
	if err := json.Unmarshal(raw, &job); err != nil {
		span.RecordError(err)
		metrics.CacheRequests.WithLabelValues("error").Inc()
		_ = c.client.rdb.Del(ctx, c.key(jobID)).Err()
		return nil, false
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return &job, true
}

// Set stores job for ttl unless a newer version is cached. Failures are
// logged only.
func (c *JobCache) Set(ctx context.Context, job *entity.VisualizationJob, ttl time.Duration) {
	c.set(ctx, job, ttl, "")
}

func (c *JobCache) set(ctx context.Context, job *entity.VisualizationJob, ttl time.Duration, gen string) {
	if ttl <= 0 {
		return
	}
	ctx, span := cacheTracer.Start(ctx, "cache.Set",
		trace.WithAttributes(
			attribute.String("cache.key", c.key(job.ID)),
			attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	raw, err := json.Marshal(job)
	if err != nil {
		span.RecordError(err)
		return
	}
	written, err := setJobScript.Run(ctx, c.client.rdb,
		[]string{c.key(job.ID), c.genKey(job.ID)},
		raw, job.Version, ttl.Milliseconds(), gen,
	).Int()
	if err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "job cache write failed", "job_id", job.ID, "error", err.Error())
		return
	}
	span.SetAttributes(attribute.Bool("cache.written", written == 1))
}

// generation reads the current invalidation generation of a job.
func (c *JobCache) generation(ctx context.Context, jobID string) (string, error) {
	gen, err := c.client.rdb.Get(ctx, c.genKey(jobID)).Result()
	if IsNil(err) {
		return "0", nil
	}
	return gen, err
}

// Invalidate drops the cached job and voids loads already in flight.
func (c *JobCache) Invalidate(ctx context.Context, jobID string) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Invalidate",
		trace.WithAttributes(attribute.String("cache.key", c.key(jobID))))
	defer span.End()

	pipe := c.client.rdb.TxPipeline()
	pipe.Incr(ctx, c.genKey(jobID))
	pipe.PExpire(ctx, c.genKey(jobID), genTTL)
	pipe.Del(ctx, c.key(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// GetOrLoad reads through the cache, collapsing concurrent loads of the same
// job. A nil job from load is returned as-is and not cached.
func (c *JobCache) GetOrLoad(
	ctx context.Context,
	jobID string,
	ttl func(*entity.VisualizationJob) time.Duration,
	load func(context.Context) (*entity.VisualizationJob, error),
) (*entity.VisualizationJob, error) {
	if job, ok := c.Get(ctx, jobID); ok {
		return job, nil
	}

	ctx, span := cacheTracer.Start(ctx, "cache.GetOrLoad",
		trace.WithAttributes(attribute.String("cache.key", c.key(jobID))))
	defer span.End()

	v, err, shared := c.group.Do(jobID, func() (interface{}, error) {
		gen, genErr := c.generation(ctx, jobID)
		job, err := load(ctx)
		if err != nil || job == nil {
			return job, err
		}
		if genErr != nil {
			logger.Warn(ctx, "job cache generation read failed", "job_id", jobID, "error", genErr.Error())
			return job, nil
		}
		c.set(ctx, job, ttl(job), gen)
		return job, nil
	})
	span.SetAttributes(attribute.Bool("cache.shared", shared))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	job, _ := v.(*entity.VisualizationJob)
	if job == nil {
		return nil, nil
	}
	if shared {
		return job.Clone(), nil
	}
	return job, nil
}
