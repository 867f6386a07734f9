package repository

import (
	"context"
	"time"

	"bookviz-api/internal/domain/entity"
)

// JobFilter narrows a job listing. Empty fields match everything.
type JobFilter struct {
	UserID    string
	BookID    string
	PageID    string
	ChapterID string
	Statuses  []entity.JobStatus
}

// JobRepository persists visualization jobs together with their images.
type JobRepository interface {
	// Create inserts a new job at version 0.
	Create(ctx context.Context, job *entity.VisualizationJob) error

	// GetByID returns nil, nil when the job does not exist.
	GetByID(ctx context.Context, id string) (*entity.VisualizationJob, error)

	// Update writes job if the stored version still equals job.Version, then
	// increments job.Version. A stale version yields ErrVersionConflict.
	Update(ctx context.Context, job *entity.VisualizationJob) error

	// Delete removes the job and its images.
	Delete(ctx context.Context, id string) error

	// List returns jobs matching filter, newest first.
	List(ctx context.Context, filter JobFilter, pagination Pagination) (*PagedResult[*entity.VisualizationJob], error)

	// ListByStatus returns jobs in queue order: priority DESC, created_at ASC.
	ListByStatus(ctx context.Context, statuses []entity.JobStatus, limit int) ([]*entity.VisualizationJob, error)

	// ListStale returns jobs in statuses whose last update is before olderThan.
	ListStale(ctx context.Context, statuses []entity.JobStatus, olderThan time.Time, limit int) ([]*entity.VisualizationJob, error)

	// CountByStatus returns the number of jobs per status.
	CountByStatus(ctx context.Context) (map[entity.JobStatus]int64, error)
}
