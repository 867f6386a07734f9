package visualization

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bookviz-api/internal/config"
	"bookviz-api/internal/domain/entity"
	"bookviz-api/pkg/logger"
	"bookviz-api/pkg/metrics"
)

// PoolConfig sizes and paces the worker pool.
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	StuckAfter   time.Duration
	StuckScan    time.Duration
	RecoverBatch int
}

// PoolConfigFrom reads the pool settings from the worker configuration.
func PoolConfigFrom(cfg config.WorkerConfig) PoolConfig {
	return PoolConfig{
		Concurrency:  cfg.EffectiveConcurrency(),
		PollInterval: cfg.PollInterval,
		StuckAfter:   cfg.StuckAfter,
		StuckScan:    cfg.StuckScan,
		RecoverBatch: cfg.RecoverBatch,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 15 * time.Minute
	}
	if c.StuckScan <= 0 {
		c.StuckScan = time.Minute
	}
	if c.RecoverBatch <= 0 {
		c.RecoverBatch = 500
	}
	return c
}

// Pool runs queued jobs on a fixed number of workers. It also re-queues work
// left behind by a previous process, fails jobs stuck in an active status and
// schedules automatic retries.
type Pool struct {
	svc       *Service
	processor *Processor
	policy    RetryPolicy
	cfg       PoolConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	timers  map[string]*time.Timer
	busy    int
}

func NewPool(svc *Service, processor *Processor, policy RetryPolicy, cfg PoolConfig) *Pool {
	return &Pool{
		svc:       svc,
		processor: processor,
		policy:    policy,
		cfg:       cfg.withDefaults(),
		timers:    make(map[string]*time.Timer),
	}
}

// Start recovers orphaned jobs and launches the workers and the stuck-job
// monitor. It returns once they are running.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.Recover(ctx)

	for i := 0; i < p.cfg.Concurrency; i++ {
		wctx := logger.WithContext(ctx, logger.WorkerIDKey, i)
		p.wg.Add(1)
		go p.work(wctx)
	}
	p.wg.Add(1)
	go p.monitor(ctx)

	logger.Info(ctx, "worker pool started", "concurrency", p.cfg.Concurrency)
	return nil
}

// Stop signals the workers, cancels pending retry timers and waits for
// in-flight jobs to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		jobID, ok, err := p.svc.queue.Dequeue(ctx)
		if err != nil {
			logger.Error(ctx, "failed to dequeue job", err)
		}
		if err != nil || !ok {
			if !p.sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}
		p.run(ctx, jobID)
	}
}

// run processes one job and applies the retry policy to its failure.
func (p *Pool) run(ctx context.Context, jobID string) {
	p.setBusy(1)
	defer p.setBusy(-1)

	err := p.processor.Process(ctx, jobID)
	if err == nil {
		return
	}
	p.handleFailure(context.WithoutCancel(ctx), jobID, err)
}

// handleFailure schedules an automatic retry when the policy allows one.
func (p *Pool) handleFailure(ctx context.Context, jobID string, cause error) {
	ctx = logger.WithJob(ctx, jobID)
	job, err := p.svc.repo.GetByID(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	if job.Status != entity.JobStatusFailed {
		return
	}
	d := p.policy.Decide(job, cause)
	if !d.Retry {
		return
	}
	logger.Info(ctx, "scheduling automatic retry", "delay_ms", d.Delay.Milliseconds(), "retry_count", job.RetryCount)
	p.schedule(ctx, jobID, d.Delay)
}

func (p *Pool) schedule(ctx context.Context, jobID string, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	if t, ok := p.timers[jobID]; ok {
		t.Stop()
	}
	p.timers[jobID] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, jobID)
		running := p.running
		p.mu.Unlock()
		if !running {
			return
		}
		if _, err := p.svc.retryFailed(ctx, jobID); err != nil {
			logger.Warn(ctx, "automatic retry skipped", "error", err.Error())
		}
	})
}

// pendingRetries is the number of scheduled automatic retries.
func (p *Pool) pendingRetries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

func (p *Pool) monitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.StuckScan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.failStuck(ctx)
		}
	}
}

// Recover re-enqueues jobs that are Queued in the store and fails jobs left
// in an active status by a previous process.
func (p *Pool) Recover(ctx context.Context) {
	queued, err := p.svc.repo.ListByStatus(ctx, []entity.JobStatus{entity.JobStatusQueued}, p.cfg.RecoverBatch)
	if err != nil {
		logger.Error(ctx, "failed to list queued jobs", err)
	}
	requeued := 0
	for _, job := range queued {
		if _, err := p.svc.queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
			logger.Error(ctx, "failed to re-enqueue job", err, "job_id", job.ID)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		logger.Info(ctx, "re-enqueued queued jobs", "count", requeued)
	}
	p.failStuck(ctx)
}

// failStuck fails active jobs whose last update is older than StuckAfter and
// that are not being processed here.
func (p *Pool) failStuck(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.cfg.StuckAfter)
	stale, err := p.svc.repo.ListStale(ctx, entity.ActiveJobStatuses(), cutoff, p.cfg.RecoverBatch)
	if err != nil {
		logger.Error(ctx, "failed to list stale jobs", err)
		return
	}
	for _, job := range stale {
		if p.svc.inflight.has(job.ID) {
			continue
		}
		jctx := logger.WithJob(ctx, job.ID)
		f := &Failure{Kind: FailureInterrupted, Transient: true, Err: errors.New("no progress since " + job.UpdatedAt.Format(time.RFC3339))}
		if err := p.processor.fail(jctx, job.ID, f); err == nil {
			continue
		}
		p.handleFailure(jctx, job.ID, f)
	}
}

func (p *Pool) setBusy(delta int) {
	p.mu.Lock()
	p.busy += delta
	busy := p.busy
	p.mu.Unlock()
	metrics.WorkersBusy.Set(float64(busy))
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-p.stopCh:
		return false
	case <-t.C:
		return true
	}
}
