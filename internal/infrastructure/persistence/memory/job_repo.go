// Package memory provides an in-process job store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/domain/repository"
)

// JobRepository keeps deep copies of jobs behind a mutex.
type JobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*entity.VisualizationJob
}

func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: make(map[string]*entity.VisualizationJob)}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.VisualizationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	job.Version = 0
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.VisualizationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	return j.Clone(), nil
}

func (r *JobRepository) Update(ctx context.Context, job *entity.VisualizationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok || stored.Version != job.Version {
		return repository.ErrVersionConflict
	}
	job.Version++
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *JobRepository) List(ctx context.Context, filter repository.JobFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.VisualizationJob], error) {
	r.mu.RLock()
	matched := make([]*entity.VisualizationJob, 0)
	for _, j := range r.jobs {
		if matches(j, filter) {
			matched = append(matched, j.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		if matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].ID > matched[b].ID
		}
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := int64(len(matched))
	start := pagination.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pagination.Limit()
	if end > len(matched) {
		end = len(matched)
	}
	return repository.NewPagedResult(matched[start:end], total, pagination), nil
}

func (r *JobRepository) ListByStatus(ctx context.Context, statuses []entity.JobStatus, limit int) ([]*entity.VisualizationJob, error) {
	r.mu.RLock()
	out := make([]*entity.VisualizationJob, 0)
	for _, j := range r.jobs {
		if hasStatus(statuses, j.Status) {
			out = append(out, j.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepository) ListStale(ctx context.Context, statuses []entity.JobStatus, olderThan time.Time, limit int) ([]*entity.VisualizationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.VisualizationJob, 0)
	for _, j := range r.jobs {
		if hasStatus(statuses, j.Status) && j.UpdatedAt.Before(olderThan) {
			out = append(out, j.Clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *JobRepository) CountByStatus(ctx context.Context) (map[entity.JobStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[entity.JobStatus]int64)
	for _, j := range r.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func matches(j *entity.VisualizationJob, f repository.JobFilter) bool {
	if f.UserID != "" && j.UserID != f.UserID {
		return false
	}
	if f.BookID != "" && j.BookID != f.BookID {
		return false
	}
	if f.PageID != "" && j.PageID != f.PageID {
		return false
	}
	if f.ChapterID != "" && j.ChapterID != f.ChapterID {
		return false
	}
	if len(f.Statuses) > 0 && !hasStatus(f.Statuses, j.Status) {
		return false
	}
	return true
}

func hasStatus(statuses []entity.JobStatus, s entity.JobStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
