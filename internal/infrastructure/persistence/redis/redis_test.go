package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/pkg/logger"
)

func init() {
	logger.SetDefault(logger.Discard())
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFromRedis(rdb), mr
}

func TestJobCacheSetGetInvalidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, mr := newTestClient(t)
	cache := NewJobCache(client)

	job := entity.NewVisualizationJob("u1", "b1", entity.TriggerButton, entity.ProviderDallE3)
	_, ok := cache.Get(ctx, job.ID)
	assert.False(t, ok)

	cache.Set(ctx, job, 15*time.Second)
	assert.Equal(t, 15*time.Second, mr.TTL(defaultJobKeyPrefix+job.ID))

	got, ok := cache.Get(ctx, job.ID)
	require.True(t, ok)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.Status, got.Status)

	require.NoError(t, cache.Invalidate(ctx, job.ID))
	_, ok = cache.Get(ctx, job.ID)
	assert.False(t, ok)
}

func TestJobCacheGetOrLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, mr := newTestClient(t)
	cache := NewJobCache(client)

	job := entity.NewVisualizationJob("u1", "b1", entity.TriggerButton, entity.ProviderDallE3)
	job.Status = entity.JobStatusCompleted
	var loads atomic.Int32
	load := func(context.Context) (*entity.VisualizationJob, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return job, nil
	}
	ttl := func(j *entity.VisualizationJob) time.Duration {
		if j.Status.IsTerminal() {
			return time.Hour
		}
		return time.Second
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.GetOrLoad(ctx, job.ID, ttl, load)
			assert.NoError(t, err)
			assert.Equal(t, job.ID, got.ID)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, loads.Load(), int32(2))
	assert.Equal(t, time.Hour, mr.TTL(defaultJobKeyPrefix+job.ID))

	missing, err := cache.GetOrLoad(ctx, "absent", ttl, func(context.Context) (*entity.VisualizationJob, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.False(t, mr.Exists(defaultJobKeyPrefix+"absent"))

	_, err = cache.GetOrLoad(ctx, "broken", ttl, func(context.Context) (*entity.VisualizationJob, error) {
		return nil, errors.New("db down")
	})
	require.Error(t, err)
}

func TestJobCacheKeepsHigherVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, _ := newTestClient(t)
	cache := NewJobCache(client)

	job := entity.NewVisualizationJob("u1", "b1", entity.TriggerButton, entity.ProviderDallE3)
	newer := job.Clone()
	newer.Version = 3
	newer.Status = entity.JobStatusCompleted
	cache.Set(ctx, newer, time.Minute)
	cache.Set(ctx, job, time.Minute)

	got, ok := cache.Get(ctx, job.ID)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, entity.JobStatusCompleted, got.Status)
}

func TestJobCacheLoadRacingMutation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, _ := newTestClient(t)
	cache := NewJobCache(client)
	ttl := func(*entity.VisualizationJob) time.Duration { return time.Minute }

	job := entity.NewVisualizationJob("u1", "b1", entity.TriggerButton, entity.ProviderDallE3)
	job.Status = entity.JobStatusQueued

	loaded := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := cache.GetOrLoad(ctx, job.ID, ttl, func(context.Context) (*entity.VisualizationJob, error) {
			snapshot := job.Clone()
			close(loaded)
			<-release
			return snapshot, nil
		})
		assert.NoError(t, err)
	}()

	<-loaded
	require.NoError(t, cache.Invalidate(ctx, job.ID))
	close(release)
	<-done

	_, ok := cache.Get(ctx, job.ID)
	assert.False(t, ok, "a load that raced an invalidation must not be cached")

	cancelled := job.Clone()
	cancelled.Version = 1
	cancelled.Status = entity.JobStatusCancelled
	cache.Set(ctx, cancelled, time.Minute)

	got, err := cache.GetOrLoad(ctx, job.ID, ttl, func(context.Context) (*entity.VisualizationJob, error) {
		return job.Clone(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCancelled, got.Status)
}

func TestJobCacheOutageIsAMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, mr := newTestClient(t)
	cache := NewJobCache(client)
	mr.Close()

	job := entity.NewVisualizationJob("u1", "b1", entity.TriggerButton, entity.ProviderDallE3)
	cache.Set(ctx, job, time.Minute)
	_, ok := cache.Get(ctx, job.ID)
	assert.False(t, ok)

	got, err := cache.GetOrLoad(ctx, job.ID, func(*entity.VisualizationJob) time.Duration { return time.Minute },
		func(context.Context) (*entity.VisualizationJob, error) { return job, nil })
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestResultStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewResultStore(client, "")

	_, err := store.Get(ctx, "h1")
	require.ErrorIs(t, err, ErrResultNotFound)

	require.NoError(t, store.Put(ctx, "h1", []byte(`{"ok":true}`), time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("viz:provider:result:h1"))
	raw, err := store.Get(ctx, "h1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	require.NoError(t, store.Delete(ctx, "h1"))
	_, err = store.Get(ctx, "h1")
	require.ErrorIs(t, err, ErrResultNotFound)
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client)
	key := UserRateLimitKey("u1", "create_job")

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := limiter.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, UserRateLimitKey("u2", "create_job"), 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
