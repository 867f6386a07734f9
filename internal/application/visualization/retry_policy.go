package visualization

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"bookviz-api/internal/config"
	"bookviz-api/internal/domain/entity"
)

// RetryPolicy decides whether a failed job goes back to the queue on its own.
// Explicit retries by the owner are governed by the retry ceiling only.
type RetryPolicy struct {
	MaxRetries int
	AutoRetry  bool
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		AutoRetry:  cfg.AutoRetry,
		Initial:    cfg.Backoff.Initial,
		Max:        cfg.Backoff.Max,
		Multiplier: cfg.Backoff.Multiplier,
		Jitter:     cfg.Backoff.Jitter,
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.Initial <= 0 {
		p.Initial = 5 * time.Second
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Decision is the outcome of evaluating a failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide returns whether job, which failed with cause, should be retried
// automatically and after how long. Only transient failures below the
// ceiling qualify.
func (p RetryPolicy) Decide(job *entity.VisualizationJob, cause error) Decision {
	if !p.AutoRetry || job == nil || !job.CanRetry(p.MaxRetries) {
		return Decision{}
	}
	if !IsTransientFailure(cause) {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Backoff(job.RetryCount)}
}

// Backoff is the delay before retry number attempt+1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
