// Package visualization orchestrates visualization jobs: the command and
// query handlers used by the API, the processing pipeline run by workers, the
// retry policy and the worker pool.
package visualization

import (
	"context"
	"time"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/infrastructure/llm"
	"bookviz-api/internal/infrastructure/provider"
	"bookviz-api/internal/infrastructure/storage"
)

// JobQueue orders queued job ids by priority, then enqueue order.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string, priority int) (int, error)
	Dequeue(ctx context.Context) (string, bool, error)
	Remove(ctx context.Context, jobID string) (bool, error)
	Position(ctx context.Context, jobID string) (int, error)
	Len(ctx context.Context) (int, error)
}

// JobCache is the read-through job cache. Implementations treat their own
// failures as misses.
type JobCache interface {
	Get(ctx context.Context, jobID string) (*entity.VisualizationJob, bool)
	Set(ctx context.Context, job *entity.VisualizationJob, ttl time.Duration)
	Invalidate(ctx context.Context, jobID string) error
	GetOrLoad(
		ctx context.Context,
		jobID string,
		ttl func(*entity.VisualizationJob) time.Duration,
		load func(context.Context) (*entity.VisualizationJob, error),
	) (*entity.VisualizationJob, error)
}

// ProviderGateway is the uniform start/poll/fetch/cancel contract over the
// image providers.
type ProviderGateway interface {
	StartGeneration(ctx context.Context, p entity.Provider, prompt, negativePrompt string, params entity.GenerationParameters) (string, error)
	GetGenerationStatus(ctx context.Context, p entity.Provider, handle string) (provider.Status, error)
	GetGenerationResult(ctx context.Context, p entity.Provider, handle string) ([]provider.Image, error)
	CancelGeneration(ctx context.Context, p entity.Provider, handle string) (bool, error)
	IsProviderAvailable(p entity.Provider) bool
	Providers() []provider.Info
}

type PromptEnhancer interface {
	GeneratePrompt(ctx context.Context, req llm.PromptRequest) (*llm.PromptResult, error)
}

type ImageStore interface {
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (*storage.Object, error)
	Delete(ctx context.Context, objectPath string) error
}

// ImageFetcher downloads images returned by URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Catalog is the book catalog collaborator. Its failures never fail a job.
type Catalog interface {
	UpdatePageVisualizationStatus(ctx context.Context, pageID string, hasVisualization bool, imageURL string) error
	GetPageContent(ctx context.Context, pageID string) (string, error)
}

// Notifier pushes best-effort events to the job owner.
type Notifier interface {
	JobProgress(ctx context.Context, job *entity.VisualizationJob)
	JobCompleted(ctx context.Context, job *entity.VisualizationJob)
	JobFailed(ctx context.Context, job *entity.VisualizationJob)
	QueueUpdate(ctx context.Context, userID string, status entity.QueueStatus)
}
