package visualization

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookviz-api/internal/config"
	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/domain/repository"
	apperrors "bookviz-api/pkg/errors"
	"bookviz-api/pkg/logger"
	"bookviz-api/pkg/metrics"
)

var tracer = otel.Tracer("visualization")

// maxConflictRetries bounds re-read-and-reapply rounds after a version conflict.
const maxConflictRetries = 5

// Options are the tunables of the service.
type Options struct {
	MaxRetries        int
	PriorityBoost     int
	AvgProcessingTime time.Duration
	ActiveTTL         time.Duration
	TerminalTTL       time.Duration
	DefaultProvider   entity.Provider
	StoragePrefix     string
}

// OptionsFromConfig collects Options from the configuration tree.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		MaxRetries:        cfg.Retry.MaxRetries,
		PriorityBoost:     cfg.Retry.PriorityBoost,
		AvgProcessingTime: cfg.Queue.AvgProcessingTime,
		ActiveTTL:         cfg.Cache.JobTTL.Active,
		TerminalTTL:       cfg.Cache.JobTTL.Terminal,
		StoragePrefix:     cfg.Storage.Prefix,
	}
	if chain := cfg.Providers.FallbackChain; len(chain) > 0 {
		if p, err := entity.ParseProvider(chain[0]); err == nil {
			opts.DefaultProvider = p
		}
	}
	return opts
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.PriorityBoost < 0 {
		o.PriorityBoost = 0
	}
	if o.AvgProcessingTime <= 0 {
		o.AvgProcessingTime = 45 * time.Second
	}
	if o.ActiveTTL <= 0 {
		o.ActiveTTL = 15 * time.Second
	}
	if o.TerminalTTL <= 0 {
		o.TerminalTTL = 24 * time.Hour
	}
	if o.DefaultProvider == "" {
		o.DefaultProvider = entity.ProviderDallE3
	}
	return o
}

// Service implements the job commands and queries.
type Service struct {
	repo     repository.JobRepository
	queue    JobQueue
	cache    JobCache
	gateway  ProviderGateway
	store    ImageStore
	catalog  Catalog
	notifier Notifier
	inflight *inflight
	validate *validator.Validate
	opts     Options
}

func NewService(
	repo repository.JobRepository,
	queue JobQueue,
	cache JobCache,
	gateway ProviderGateway,
	store ImageStore,
	catalog Catalog,
	notifier Notifier,
	opts Options,
) *Service {
	return &Service{
		repo:     repo,
		queue:    queue,
		cache:    cache,
		gateway:  gateway,
		store:    store,
		catalog:  catalog,
		notifier: notifier,
		inflight: newInflight(),
		validate: newValidator(),
		opts:     opts.withDefaults(),
	}
}

// MaxRetries is the retry ceiling.
func (s *Service) MaxRetries() int {
	return s.opts.MaxRetries
}

// CreateJob persists a new job and places it in the queue.
func (s *Service) CreateJob(ctx context.Context, cmd CreateJobCommand) (*CreateJobResult, error) {
	trigger, p, err := validateCreate(s.validate, cmd, s.opts.DefaultProvider)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "visualization.CreateJob",
		trace.WithAttributes(
			attribute.String("trigger", string(trigger)),
			attribute.String("provider", string(p)),
		))
	defer span.End()

	job := entity.NewVisualizationJob(cmd.UserID, cmd.BookID, trigger, p)
	job.PageID = cmd.PageID
	job.ChapterID = cmd.ChapterID
	job.Parameters = cmd.Parameters
	job.SourceText = cmd.SourceText
	job.Style = cmd.Style
	if cmd.TextSelection != nil {
		ts := entity.NewTextSelection(cmd.TextSelection.Text, cmd.TextSelection.StartOffset,
			cmd.TextSelection.EndOffset, cmd.TextSelection.ContextBefore, cmd.TextSelection.ContextAfter)
		job.TextSelection = &ts
	}
	if cmd.Priority != nil {
		job.Priority = *cmd.Priority
	}
	ctx = logger.WithJob(ctx, job.ID)
	span.SetAttributes(attribute.String("job.id", job.ID))

	// The job is stored as Queued before its id reaches the queue so that a
	// worker can never dequeue a job it cannot claim.
	if err := job.MarkQueued(0, 0); err != nil {
		return nil, toAppError(err)
	}
	if err := s.repo.Create(ctx, job); err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to create job")
	}
	metrics.JobsCreated.WithLabelValues(string(trigger)).Inc()

	pos, err := s.queue.Enqueue(ctx, job.ID, job.Priority)
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, "failed to enqueue job", err)
		if _, ferr := s.mutate(ctx, job.ID, func(j *entity.VisualizationJob) error {
			return j.Fail("failed to enqueue job")
		}); ferr != nil {
			logger.Error(ctx, "failed to mark unqueued job as failed", ferr)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeQueueError, "failed to enqueue job")
	}

	wait := entity.EstimateWait(pos, s.opts.AvgProcessingTime)
	job.SetQueuePlacement(pos, wait)
	s.cache.Set(ctx, job, s.ttl(job))

	logger.Info(ctx, "visualization job created",
		"trigger", trigger, "provider", p, "priority", job.Priority, "queue_position", pos)
	s.publishQueueUpdate(ctx, job.UserID)

	return &CreateJobResult{Job: job, QueuePosition: pos, EstimatedWait: wait}, nil
}

// GetJob returns the best-known state of a job owned by userID.
func (s *Service) GetJob(ctx context.Context, userID, jobID string) (*entity.VisualizationJob, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(userID) {
		return nil, apperrors.ErrForbidden
	}
	s.decoratePlacement(ctx, job)
	return job, nil
}

// ListJobs returns the user's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, q ListJobsQuery) (*repository.PagedResult[*entity.VisualizationJob], error) {
	if q.UserID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	res, err := s.repo.List(ctx, repository.JobFilter{
		UserID:    q.UserID,
		BookID:    q.BookID,
		PageID:    q.PageID,
		ChapterID: q.ChapterID,
		Statuses:  q.Statuses,
	}, repository.NewPagination(q.Pagination.Page, q.Pagination.PageSize))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list jobs")
	}
	return res, nil
}

// CancelJob cancels a non-terminal job. Queued jobs leave the queue; claimed
// jobs have their in-flight generation aborted.
func (s *Service) CancelJob(ctx context.Context, userID, jobID, reason string) (*entity.VisualizationJob, error) {
	ctx = logger.WithJob(ctx, jobID)
	job, err := s.mutate(ctx, jobID, func(j *entity.VisualizationJob) error {
		if !j.IsOwnedBy(userID) {
			return apperrors.ErrForbidden
		}
		return j.Cancel(reason)
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.queue.Remove(ctx, jobID); err != nil {
		logger.Warn(ctx, "failed to remove cancelled job from queue", "error", err.Error())
	}
	s.inflight.abort(jobID)
	if job.ExternalJobID != "" && job.UsedProvider != "" && s.gateway != nil {
		if _, err := s.gateway.CancelGeneration(context.WithoutCancel(ctx), job.UsedProvider, job.ExternalJobID); err != nil {
			logger.Warn(ctx, "failed to cancel provider generation", "provider", job.UsedProvider, "error", err.Error())
		}
	}

	metrics.JobsTotal.WithLabelValues(string(job.PreferredProvider), string(entity.JobStatusCancelled)).Inc()
	logger.Info(ctx, "visualization job cancelled")
	s.notifier.JobProgress(ctx, job)
	s.publishQueueUpdate(ctx, job.UserID)
	return job, nil
}

// RetryJob re-queues a Failed job on behalf of its owner.
func (s *Service) RetryJob(ctx context.Context, userID, jobID string) (*CreateJobResult, error) {
	return s.retry(ctx, jobID, func(j *entity.VisualizationJob) error {
		if !j.IsOwnedBy(userID) {
			return apperrors.ErrForbidden
		}
		return nil
	}, "manual")
}

// retryFailed is the automatic retry used by the worker pool.
func (s *Service) retryFailed(ctx context.Context, jobID string) (*CreateJobResult, error) {
	return s.retry(ctx, jobID, nil, "auto")
}

func (s *Service) retry(ctx context.Context, jobID string, guard func(*entity.VisualizationJob) error, origin string) (*CreateJobResult, error) {
	ctx = logger.WithJob(ctx, jobID)
	job, err := s.mutate(ctx, jobID, func(j *entity.VisualizationJob) error {
		if guard != nil {
			if err := guard(j); err != nil {
				return err
			}
		}
		return j.Retry(s.opts.MaxRetries, s.opts.PriorityBoost)
	})
	if err != nil {
		return nil, err
	}
	metrics.JobRetries.WithLabelValues(origin).Inc()

	pos, err := s.queue.Enqueue(ctx, job.ID, job.Priority)
	if err != nil {
		logger.Error(ctx, "failed to enqueue retried job", err)
		retried := job.Version
		if _, uerr := s.mutate(ctx, job.ID, func(j *entity.VisualizationJob) error {
			if j.Version != retried {
				return errUnchanged
			}
			return j.UndoRetry(s.opts.PriorityBoost, "failed to enqueue job")
		}); uerr != nil {
			logger.Error(ctx, "failed to restore unqueued retry", uerr)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeQueueError, "failed to enqueue job")
	}
	wait := entity.EstimateWait(pos, s.opts.AvgProcessingTime)
	job.SetQueuePlacement(pos, wait)

	logger.Info(ctx, "visualization job retried",
		"origin", origin, "retry_count", job.RetryCount, "priority", job.Priority, "queue_position", pos)
	s.notifier.JobProgress(ctx, job)
	s.publishQueueUpdate(ctx, job.UserID)
	return &CreateJobResult{Job: job, QueuePosition: pos, EstimatedWait: wait}, nil
}

// SelectImage marks an image as the job's illustration and tells the catalog.
func (s *Service) SelectImage(ctx context.Context, userID, jobID, imageID string) (*entity.VisualizationJob, error) {
	ctx = logger.WithJob(ctx, jobID)
	var changed bool
	job, err := s.mutate(ctx, jobID, func(j *entity.VisualizationJob) error {
		if !j.IsOwnedBy(userID) {
			return apperrors.ErrForbidden
		}
		var err error
		changed, err = j.SelectImage(imageID)
		if err == nil && !changed {
			return errUnchanged
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed && job.PageID != "" {
		if img := job.SelectedImage(); img != nil {
			s.updateCatalog(ctx, job.PageID, true, img.Metadata.URL)
		}
	}
	return job, nil
}

// DeleteImage soft-deletes an image. Removing the selected image clears the
// page's illustration in the catalog.
func (s *Service) DeleteImage(ctx context.Context, userID, jobID, imageID string) (*entity.VisualizationJob, error) {
	ctx = logger.WithJob(ctx, jobID)
	var wasSelected bool
	job, err := s.mutate(ctx, jobID, func(j *entity.VisualizationJob) error {
		if !j.IsOwnedBy(userID) {
			return apperrors.ErrForbidden
		}
		var err error
		wasSelected, err = j.DeleteImage(imageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if wasSelected && job.PageID != "" {
		s.updateCatalog(ctx, job.PageID, false, "")
	}
	return job, nil
}

// DeleteJob removes a terminal job with its images and stored blobs.
func (s *Service) DeleteJob(ctx context.Context, userID, jobID string) error {
	ctx = logger.WithJob(ctx, jobID)
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load job")
	}
	if job == nil {
		return apperrors.ErrJobNotFound
	}
	if !job.IsOwnedBy(userID) {
		return apperrors.ErrForbidden
	}
	if !job.Status.IsTerminal() {
		return toAppError(entity.ErrNotTerminal)
	}

	if err := s.cache.Invalidate(ctx, jobID); err != nil {
		logger.Warn(ctx, "job cache invalidation failed", "error", err.Error())
	}
	if err := s.repo.Delete(ctx, jobID); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to delete job")
	}
	// A read that loaded the job before the delete must not re-cache it.
	if err := s.cache.Invalidate(ctx, jobID); err != nil {
		logger.Warn(ctx, "job cache invalidation failed", "error", err.Error())
	}

	for _, img := range job.Images {
		if img.Metadata.StoragePath == "" || s.store == nil {
			continue
		}
		if err := s.store.Delete(ctx, img.Metadata.StoragePath); err != nil {
			logger.Warn(ctx, "failed to delete stored image", "path", img.Metadata.StoragePath, "error", err.Error())
		}
	}
	if job.PageID != "" && job.SelectedImage() != nil {
		s.updateCatalog(ctx, job.PageID, false, "")
	}
	logger.Info(ctx, "visualization job deleted")
	return nil
}

// QueueStatus is an advisory snapshot of the global queue.
func (s *Service) QueueStatus(ctx context.Context) (entity.QueueStatus, error) {
	length, err := s.queue.Len(ctx)
	if err != nil {
		return entity.QueueStatus{}, apperrors.Wrap(err, apperrors.CodeQueueError, "failed to read queue")
	}
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return entity.QueueStatus{}, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to count jobs")
	}
	processing := 0
	for _, st := range entity.ActiveJobStatuses() {
		processing += int(counts[st])
	}
	metrics.QueueDepth.Set(float64(length))
	return entity.QueueStatus{
		QueueLength:           length,
		ProcessingCount:       processing,
		AverageProcessingTime: s.opts.AvgProcessingTime,
		EstimatedDrainTime:    entity.EstimateWait(length, s.opts.AvgProcessingTime),
	}, nil
}

// QueuePosition returns the live queue placement of a job. Jobs that are not
// waiting report position 0.
func (s *Service) QueuePosition(ctx context.Context, userID, jobID string) (*QueuePlacement, error) {
	job, err := s.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	return &QueuePlacement{
		JobID:         job.ID,
		Status:        job.Status,
		Position:      job.QueuePosition,
		EstimatedWait: job.EstimatedWaitTime,
	}, nil
}

// errUnchanged short-circuits mutate when fn decided there is nothing to write.
var errUnchanged = errors.New("unchanged")

// mutate re-reads the job from the store, applies fn and persists the result
// under optimistic concurrency, re-applying fn after a version conflict. The
// cache entry is dropped before the write and refreshed after it.
func (s *Service) mutate(ctx context.Context, jobID string, fn func(*entity.VisualizationJob) error) (*entity.VisualizationJob, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		job, err := s.repo.GetByID(ctx, jobID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load job")
		}
		if job == nil {
			return nil, apperrors.ErrJobNotFound
		}

		if err := fn(job); err != nil {
			if errors.Is(err, errUnchanged) {
				return job, nil
			}
			return nil, toAppError(err)
		}

		if err := s.cache.Invalidate(ctx, jobID); err != nil {
			logger.Warn(ctx, "job cache invalidation failed", "job_id", jobID, "error", err.Error())
		}
		err = s.repo.Update(ctx, job)
		if errors.Is(err, repository.ErrVersionConflict) {
			logger.Debug(ctx, "job version conflict, reapplying", "job_id", jobID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to update job")
		}
		s.cache.Set(ctx, job, s.ttl(job))
		return job, nil
	}
	return nil, apperrors.ErrConflict.WithDetail("job was modified concurrently")
}

func (s *Service) load(ctx context.Context, jobID string) (*entity.VisualizationJob, error) {
	job, err := s.cache.GetOrLoad(ctx, jobID, s.ttl, func(ctx context.Context) (*entity.VisualizationJob, error) {
		return s.repo.GetByID(ctx, jobID)
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load job")
	}
	if job == nil {
		return nil, apperrors.ErrJobNotFound
	}
	return job, nil
}

func (s *Service) ttl(job *entity.VisualizationJob) time.Duration {
	if job.Status.IsTerminal() {
		return s.opts.TerminalTTL
	}
	return s.opts.ActiveTTL
}

// decoratePlacement refreshes the advisory placement of a waiting job.
func (s *Service) decoratePlacement(ctx context.Context, job *entity.VisualizationJob) {
	if job.Status != entity.JobStatusQueued {
		job.SetQueuePlacement(0, 0)
		return
	}
	pos, err := s.queue.Position(ctx, job.ID)
	if err != nil {
		logger.Warn(ctx, "failed to read queue position", "job_id", job.ID, "error", err.Error())
		return
	}
	job.SetQueuePlacement(pos, entity.EstimateWait(pos, s.opts.AvgProcessingTime))
}

func (s *Service) updateCatalog(ctx context.Context, pageID string, has bool, url string) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.UpdatePageVisualizationStatus(ctx, pageID, has, url); err != nil {
		logger.Warn(ctx, "catalog update failed", "page_id", pageID, "error", err.Error())
	}
}

func (s *Service) publishQueueUpdate(ctx context.Context, userID string) {
	status, err := s.QueueStatus(ctx)
	if err != nil {
		logger.Warn(ctx, "failed to compute queue status", "error", err.Error())
		return
	}
	s.notifier.QueueUpdate(ctx, userID, status)
}
