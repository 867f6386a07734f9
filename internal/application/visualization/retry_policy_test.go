package visualization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bookviz-api/internal/config"
	"bookviz-api/internal/domain/entity"
)

func failedJob(retries int) *entity.VisualizationJob {
	job := entity.NewVisualizationJob("u1", "b1", entity.TriggerButton, entity.ProviderDallE3)
	_ = job.MarkQueued(0, 0)
	_ = job.Fail("boom")
	job.RetryCount = retries
	return job
}

func TestRetryPolicyBackoff(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(config.RetryConfig{
		MaxRetries: 3,
		AutoRetry:  true,
		Backoff:    config.BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2},
	})

	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 5*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(10))
}

func TestRetryPolicyJitterStaysInBand(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(config.RetryConfig{
		Backoff: config.BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.5},
	})
	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestRetryPolicyDecide(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(config.RetryConfig{
		MaxRetries: 2,
		AutoRetry:  true,
		Backoff:    config.BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 2},
	})
	transient := &Failure{Kind: FailureProvider, Transient: true, Err: errBoom}
	permanent := &Failure{Kind: FailureProvider, Err: errBoom}

	d := p.Decide(failedJob(1), transient)
	assert.True(t, d.Retry)
	assert.Equal(t, 2*time.Second, d.Delay)

	assert.False(t, p.Decide(failedJob(0), permanent).Retry)
	assert.False(t, p.Decide(failedJob(2), transient).Retry, "ceiling reached")
	assert.False(t, p.Decide(failedJob(0), errBoom).Retry, "unclassified errors are not retried automatically")

	queued := entity.NewVisualizationJob("u1", "b1", entity.TriggerButton, entity.ProviderDallE3)
	assert.False(t, p.Decide(queued, transient).Retry)

	p.AutoRetry = false
	assert.False(t, p.Decide(failedJob(0), transient).Retry)
}
