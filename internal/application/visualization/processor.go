package visualization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/infrastructure/catalog"
	"bookviz-api/internal/infrastructure/llm"
	"bookviz-api/internal/infrastructure/provider"
	"bookviz-api/internal/infrastructure/storage"
	apperrors "bookviz-api/pkg/errors"
	"bookviz-api/pkg/logger"
	"bookviz-api/pkg/metrics"
)

// ProcessorOptions tune the processing pipeline.
type ProcessorOptions struct {
	PromptTimeout time.Duration
	JobTimeout    time.Duration
	StatusPoll    time.Duration
	FallbackChain []entity.Provider
	MaxImageBytes int64
}

func (o ProcessorOptions) withDefaults() ProcessorOptions {
	if o.PromptTimeout <= 0 {
		o.PromptTimeout = 30 * time.Second
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 10 * time.Minute
	}
	if o.StatusPoll <= 0 {
		o.StatusPoll = 3 * time.Second
	}
	return o
}

// Processor runs one claimed job end to end: prompt, generation, upload and
// completion.
type Processor struct {
	svc      *Service
	gateway  ProviderGateway
	enhancer PromptEnhancer
	store    ImageStore
	fetcher  ImageFetcher
	catalog  Catalog
	opts     ProcessorOptions
}

func NewProcessor(
	svc *Service,
	gateway ProviderGateway,
	enhancer PromptEnhancer,
	store ImageStore,
	fetcher ImageFetcher,
	catalog Catalog,
	opts ProcessorOptions,
) *Processor {
	return &Processor{
		svc:      svc,
		gateway:  gateway,
		enhancer: enhancer,
		store:    store,
		fetcher:  fetcher,
		catalog:  catalog,
		opts:     opts.withDefaults(),
	}
}

// errJobGone means the job left the pipeline under us: it was cancelled,
// deleted or claimed elsewhere. Processing stops without failing it.
var errJobGone = errors.New("job is no longer processable")

// Process claims jobID and drives it to a terminal state. A returned
// *Failure means the job was marked Failed; the caller decides on retries.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	ctx = logger.WithJob(ctx, jobID)
	ctx, span := tracer.Start(ctx, "visualization.Process",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	ctx, release := p.svc.inflight.track(ctx, jobID)
	defer release()
	ctx, cancel := context.WithTimeout(ctx, p.opts.JobTimeout)
	defer cancel()

	job, err := p.advance(ctx, jobID, func(j *entity.VisualizationJob) error { return j.Claim() })
	if err != nil {
		if errors.Is(err, errJobGone) {
			logger.Info(ctx, "skipping job that is no longer queued")
			return nil
		}
		return err
	}
	logger.Info(ctx, "job claimed", "priority", job.Priority, "retry_count", job.RetryCount)

	err = p.run(ctx, job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errJobGone):
		logger.Info(ctx, "job left the pipeline while processing")
		return nil
	}

	var f *Failure
	if !errors.As(err, &f) {
		f = &Failure{Kind: FailureInternal, Transient: true, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		f.Transient = true
	}
	span.SetStatus(codes.Error, f.Error())
	span.RecordError(f)
	return p.fail(context.WithoutCancel(ctx), jobID, f)
}

func (p *Processor) run(ctx context.Context, job *entity.VisualizationJob) error {
	text, err := p.sourceText(ctx, job)
	if err != nil {
		return err
	}

	target, err := p.selectProvider(job.PreferredProvider)
	if err != nil {
		return err
	}

	prompt, err := p.generatePrompt(ctx, job, target, text)
	if err != nil {
		return err
	}
	job, err = p.advance(ctx, job.ID, func(j *entity.VisualizationJob) error { return j.SetPrompt(*prompt) })
	if err != nil {
		return err
	}

	handle, err := p.startGeneration(ctx, job, target)
	if err != nil {
		return err
	}

	images, err := p.awaitImages(ctx, job, target, handle)
	if err != nil {
		return err
	}

	return p.upload(ctx, job, images)
}

// sourceText is the passage to illustrate: the text selection, explicit text
// or the page content from the catalog.
func (p *Processor) sourceText(ctx context.Context, job *entity.VisualizationJob) (string, error) {
	if job.TextSelection != nil {
		if s := job.TextSelection.Passage(); s != "" {
			return s, nil
		}
	}
	if s := strings.TrimSpace(job.SourceText); s != "" {
		return s, nil
	}
	if job.PageID != "" && p.catalog != nil {
		text, err := p.catalog.GetPageContent(ctx, job.PageID)
		if err != nil {
			transient := !errors.Is(err, catalog.ErrPageNotFound) && !errors.Is(err, catalog.ErrDisabled)
			return "", &Failure{Kind: FailureSource, Transient: transient, Err: err}
		}
		if s := strings.TrimSpace(text); s != "" {
			return s, nil
		}
	}
	return "", &Failure{Kind: FailureSource, Err: fmt.Errorf("job has no text to illustrate")}
}

// selectProvider returns preferred when available, else the first available
// provider of the fallback chain.
func (p *Processor) selectProvider(preferred entity.Provider) (entity.Provider, error) {
	if !preferred.Traits().Implemented {
		return "", providerFailure(preferred, provider.ErrNotImplemented)
	}
	if p.gateway.IsProviderAvailable(preferred) {
		return preferred, nil
	}
	for _, alt := range p.opts.FallbackChain {
		if alt != preferred && p.gateway.IsProviderAvailable(alt) {
			return alt, nil
		}
	}
	return "", providerFailure(preferred, provider.ErrUnavailable)
}

func (p *Processor) generatePrompt(ctx context.Context, job *entity.VisualizationJob, target entity.Provider, text string) (*entity.PromptData, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.PromptTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.enhancer.GeneratePrompt(ctx, llm.PromptRequest{
		OriginalText: text,
		BookID:       job.BookID,
		Style:        job.Style,
		Provider:     target,
	})
	if err != nil {
		metrics.PromptDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.Canceled) {
			return nil, errJobGone
		}
		return nil, promptFailure(err)
	}
	metrics.PromptDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())

	return &entity.PromptData{
		OriginalText:   text,
		EnhancedPrompt: res.EnhancedPrompt,
		NegativePrompt: res.NegativePrompt,
		TargetModel:    target.Traits().APIName,
		Style:          job.Style,
		Parameters:     res.Parameters,
	}, nil
}

func (p *Processor) startGeneration(ctx context.Context, job *entity.VisualizationJob, target entity.Provider) (string, error) {
	callCtx := ctx
	if target.Traits().Synchronous {
		// A synchronous generation runs to completion; a cancellation meanwhile
		// only discards its result.
		callCtx = context.WithoutCancel(ctx)
	}
	handle, err := p.gateway.StartGeneration(callCtx, target, job.PromptData.EnhancedPrompt,
		job.PromptData.NegativePrompt, job.Parameters)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", errJobGone
		}
		return "", providerFailure(target, err)
	}

	if _, err := p.advance(ctx, job.ID, func(j *entity.VisualizationJob) error {
		return j.SetExternalJob(target, handle)
	}); err != nil {
		if errors.Is(err, errJobGone) {
			p.cancelGeneration(ctx, target, handle)
		}
		return "", err
	}
	return handle, nil
}

// awaitImages polls the provider until the generation settles.
func (p *Processor) awaitImages(ctx context.Context, job *entity.VisualizationJob, target entity.Provider, handle string) ([]provider.Image, error) {
	ticker := time.NewTicker(p.opts.StatusPoll)
	defer ticker.Stop()

	lastProgress := -1
	for {
		status, err := p.gateway.GetGenerationStatus(ctx, target, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.interrupted(ctx, target, handle)
			}
			return nil, providerFailure(target, err)
		}

		switch status.State {
		case provider.StateCompleted:
			images, err := p.gateway.GetGenerationResult(ctx, target, handle)
			if err != nil {
				return nil, providerFailure(target, err)
			}
			if len(images) == 0 {
				return nil, providerFailure(target, provider.ErrNoImages)
			}
			return images, nil
		case provider.StateFailed:
			msg := status.Message
			if msg == "" {
				msg = "generation failed"
			}
			return nil, providerFailure(target, &provider.Error{Provider: target, Message: msg})
		case provider.StateCancelled:
			return nil, providerFailure(target, &provider.Error{Provider: target, Message: "generation cancelled by provider"})
		}

		if status.Progress != lastProgress {
			lastProgress = status.Progress
			if err := p.reportProgress(ctx, job.ID, status.Progress); err != nil {
				if errors.Is(err, errJobGone) {
					p.cancelGeneration(ctx, target, handle)
				}
				return nil, err
			}
		}

		select {
		case <-ctx.Done():
			return nil, p.interrupted(ctx, target, handle)
		case <-ticker.C:
		}
	}
}

// interrupted handles a done context while waiting on the provider.
func (p *Processor) interrupted(ctx context.Context, target entity.Provider, handle string) error {
	p.cancelGeneration(ctx, target, handle)
	if errors.Is(ctx.Err(), context.Canceled) {
		return errJobGone
	}
	return providerFailure(target, fmt.Errorf("generation timed out: %w", ctx.Err()))
}

func (p *Processor) cancelGeneration(ctx context.Context, target entity.Provider, handle string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := p.gateway.CancelGeneration(ctx, target, handle); err != nil {
		logger.Warn(ctx, "failed to cancel provider generation", "provider", target, "error", err.Error())
	}
}

// reportProgress maps provider progress into the Processing band of the job.
func (p *Processor) reportProgress(ctx context.Context, jobID string, providerProgress int) error {
	lo := entity.JobStatusProcessing.Progress()
	hi := entity.JobStatusUploading.Progress()
	progress := lo + (hi-lo)*clamp(providerProgress, 0, 100)/100
	_, err := p.advance(ctx, jobID, func(j *entity.VisualizationJob) error {
		if j.Status != entity.JobStatusProcessing {
			return &entity.InvalidTransitionError{From: j.Status, To: entity.JobStatusProcessing}
		}
		if progress <= j.Progress {
			return errUnchanged
		}
		j.UpdateProgress(progress)
		return nil
	})
	return err
}

// upload stores the images and completes the job. Stored blobs are removed
// again when the job cannot be completed.
func (p *Processor) upload(ctx context.Context, job *entity.VisualizationJob, images []provider.Image) error {
	job, err := p.advance(ctx, job.ID, func(j *entity.VisualizationJob) error { return j.BeginUpload() })
	if err != nil {
		return err
	}

	stored := make([]entity.ImageMetadata, 0, len(images))
	var lastErr error
	for _, img := range images {
		meta, err := p.storeImage(ctx, job, img)
		if err != nil {
			lastErr = err
			logger.Warn(ctx, "failed to store generated image", "error", err.Error())
			continue
		}
		stored = append(stored, *meta)
	}
	if len(stored) == 0 {
		if lastErr == nil {
			lastErr = provider.ErrNoImages
		}
		return uploadFailure(lastErr)
	}

	done, err := p.advance(ctx, job.ID, func(j *entity.VisualizationJob) error {
		for _, meta := range stored {
			if _, err := j.AddImage(meta); err != nil {
				return err
			}
		}
		return j.Complete()
	})
	if err != nil {
		p.discard(ctx, stored)
		return err
	}

	provLabel := string(done.UsedProvider)
	metrics.JobsTotal.WithLabelValues(provLabel, string(entity.JobStatusCompleted)).Inc()
	metrics.JobDuration.WithLabelValues(provLabel).Observe(done.ProcessingDuration().Seconds())
	logger.Info(ctx, "visualization job completed",
		"provider", done.UsedProvider, "images", len(stored), "duration_ms", done.ProcessingDuration().Milliseconds())
	p.svc.notifier.JobCompleted(ctx, done)
	return nil
}

func (p *Processor) storeImage(ctx context.Context, job *entity.VisualizationJob, img provider.Image) (*entity.ImageMetadata, error) {
	data, declared := img.Data, img.ContentType
	if len(data) == 0 {
		if img.URL == "" || p.fetcher == nil {
			return nil, provider.ErrNoImages
		}
		var err error
		if data, declared, err = p.fetcher.Fetch(ctx, img.URL); err != nil {
			return nil, err
		}
		if img.ContentType != "" {
			declared = img.ContentType
		}
	}
	if p.opts.MaxImageBytes > 0 && int64(len(data)) > p.opts.MaxImageBytes {
		return nil, storage.ErrTooLarge
	}

	contentType, width, height := storage.Describe(data, declared)
	if width == 0 || height == 0 {
		width, height = img.Width, img.Height
	}
	objectPath := storage.ObjectPath(p.svc.opts.StoragePrefix, job.UserID, job.ID, uuid.NewString(), contentType)
	obj, err := p.store.Put(ctx, objectPath, data, contentType)
	if err != nil {
		return nil, err
	}
	return &entity.ImageMetadata{
		URL:         obj.URL,
		Width:       width,
		Height:      height,
		FileSize:    obj.Size,
		Format:      storage.Extension(contentType),
		StoragePath: obj.Path,
	}, nil
}

func (p *Processor) discard(ctx context.Context, stored []entity.ImageMetadata) {
	ctx = context.WithoutCancel(ctx)
	for _, meta := range stored {
		if err := p.store.Delete(ctx, meta.StoragePath); err != nil {
			logger.Warn(ctx, "failed to discard stored image", "path", meta.StoragePath, "error", err.Error())
		}
	}
}

// fail marks the job Failed with f and notifies the owner. f is returned so
// the caller can apply the retry policy.
func (p *Processor) fail(ctx context.Context, jobID string, f *Failure) error {
	job, err := p.svc.mutate(ctx, jobID, func(j *entity.VisualizationJob) error {
		if j.Status.IsTerminal() {
			return errUnchanged
		}
		return j.Fail(f.Error())
	})
	if err != nil {
		logger.Error(ctx, "failed to mark job as failed", err)
		return f
	}
	if job.Status != entity.JobStatusFailed {
		return nil
	}

	provLabel := string(job.UsedProvider)
	if provLabel == "" {
		provLabel = string(job.PreferredProvider)
	}
	metrics.JobsTotal.WithLabelValues(provLabel, string(entity.JobStatusFailed)).Inc()
	logger.Warn(ctx, "visualization job failed",
		"kind", f.Kind, "transient", f.Transient, "retry_count", job.RetryCount, "error", f.Error())
	p.svc.notifier.JobFailed(ctx, job)
	return f
}

// advance applies fn through the service and notifies progress. Invalid
// transitions and vanished jobs mean the job was taken out of the pipeline.
func (p *Processor) advance(ctx context.Context, jobID string, fn func(*entity.VisualizationJob) error) (*entity.VisualizationJob, error) {
	job, err := p.svc.mutate(context.WithoutCancel(ctx), jobID, fn)
	if err != nil {
		var te *entity.InvalidTransitionError
		if errors.As(err, &te) || isNotFound(err) {
			return nil, errJobGone
		}
		return nil, &Failure{Kind: FailureInternal, Transient: true, Err: err}
	}
	p.svc.notifier.JobProgress(ctx, job)
	return job, nil
}

func isNotFound(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeJobNotFound)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
