package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/pkg/metrics"
)

type cachedJob struct {
	job       *entity.VisualizationJob
	expiresAt time.Time
}

// loadTicket marks a read-through load in flight. An invalidation during the
// load makes its result unfit for caching.
type loadTicket struct {
	stale bool
}

// JobCache is the single-process counterpart of the redis job cache. An entry
// is never replaced by a job with a lower version.
type JobCache struct {
	mu      sync.Mutex
	entries map[string]cachedJob
	loading map[string]*loadTicket
	group   singleflight.Group
	now     func() time.Time
}

func NewJobCache() *JobCache {
	return &JobCache{
		entries: make(map[string]cachedJob),
		loading: make(map[string]*loadTicket),
		now:     time.Now,
	}
}

func (c *JobCache) Get(_ context.Context, jobID string) (*entity.VisualizationJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[jobID]
	if !ok || !c.now().Before(e.expiresAt) {
		delete(c.entries, jobID)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return e.job.Clone(), true
}

func (c *JobCache) Set(_ context.Context, job *entity.VisualizationJob, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.setLocked(job, ttl)
	c.mu.Unlock()
}

func (c *JobCache) setLocked(job *entity.VisualizationJob, ttl time.Duration) {
	if e, ok := c.entries[job.ID]; ok && c.now().Before(e.expiresAt) && e.job.Version > job.Version {
		return
	}
	c.entries[job.ID] = cachedJob{job: job.Clone(), expiresAt: c.now().Add(ttl)}
}

func (c *JobCache) Invalidate(_ context.Context, jobID string) error {
	c.mu.Lock()
	delete(c.entries, jobID)
	if t, ok := c.loading[jobID]; ok {
		t.stale = true
	}
	c.mu.Unlock()
	return nil
}

func (c *JobCache) GetOrLoad(
	ctx context.Context,
	jobID string,
	ttl func(*entity.VisualizationJob) time.Duration,
	load func(context.Context) (*entity.VisualizationJob, error),
) (*entity.VisualizationJob, error) {
	if job, ok := c.Get(ctx, jobID); ok {
		return job, nil
	}
	v, err, _ := c.group.Do(jobID, func() (interface{}, error) {
		ticket := &loadTicket{}
		c.mu.Lock()
		c.loading[jobID] = ticket
		c.mu.Unlock()

		job, err := load(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.loading, jobID)
		if err != nil || job == nil {
			return job, err
		}
		if d := ttl(job); d > 0 && !ticket.stale {
			c.setLocked(job, d)
		}
		return job, nil
	})
	if err != nil {
		return nil, err
	}
	job, _ := v.(*entity.VisualizationJob)
	if job == nil {
		return nil, nil
	}
	return job.Clone(), nil
}
