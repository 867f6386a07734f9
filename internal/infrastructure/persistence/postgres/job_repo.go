package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/domain/repository"
	"bookviz-api/pkg/tracer"
)

// JobRepository stores jobs in visualization_jobs and their images in
// generated_images.
type JobRepository struct {
	client *Client
	tx     *TxManager
}

func NewJobRepository(client *Client) *JobRepository {
	return &JobRepository{client: client, tx: NewTxManager(client)}
}

func orderedImages(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *JobRepository) Create(ctx context.Context, job *entity.VisualizationJob) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Create")
	defer span.End()

	job.Version = 0
	m, err := toJobModel(job)
	if err != nil {
		return tracer.Fail(span, err)
	}
	if err := getDB(ctx, r.client.db).Create(m).Error; err != nil {
		return tracer.Fail(span, fmt.Errorf("failed to create job: %w", err))
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.VisualizationJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.GetByID")
	defer span.End()

	var m jobModel
	err := getDB(ctx, r.client.db).Preload("Images", orderedImages).First(&m, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, tracer.Fail(span, fmt.Errorf("failed to get job: %w", err))
	}
	return m.toEntity()
}

// Update performs a compare-and-set on version and upserts the images.
func (r *JobRepository) Update(ctx context.Context, job *entity.VisualizationJob) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Update")
	defer span.End()

	m, err := toJobModel(job)
	if err != nil {
		return tracer.Fail(span, err)
	}

	err = r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		db := getDB(ctx, r.client.db)
		res := db.Model(&jobModel{}).
			Where("id = ? AND version = ?", job.ID, job.Version).
			Updates(m.columns())
		if res.Error != nil {
			return fmt.Errorf("failed to update job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrVersionConflict
		}
		if len(m.Images) == 0 {
			return nil
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_selected", "is_deleted", "position"}),
		}).Create(&m.Images).Error
		if err != nil {
			return fmt.Errorf("failed to save images: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, repository.ErrVersionConflict) {
			span.RecordError(err)
		}
		return err
	}
	job.Version++
	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Delete")
	defer span.End()

	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		db := getDB(ctx, r.client.db)
		if err := db.Where("job_id = ?", id).Delete(&imageModel{}).Error; err != nil {
			return tracer.Fail(span, fmt.Errorf("failed to delete images: %w", err))
		}
		if err := db.Delete(&jobModel{}, "id = ?", id).Error; err != nil {
			return tracer.Fail(span, fmt.Errorf("failed to delete job: %w", err))
		}
		return nil
	})
}

func applyFilter(q *gorm.DB, f repository.JobFilter) *gorm.DB {
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.BookID != "" {
		q = q.Where("book_id = ?", f.BookID)
	}
	if f.PageID != "" {
		q = q.Where("page_id = ?", f.PageID)
	}
	if f.ChapterID != "" {
		q = q.Where("chapter_id = ?", f.ChapterID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}
	return q
}

func (r *JobRepository) List(ctx context.Context, filter repository.JobFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.VisualizationJob], error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.List")
	defer span.End()

	query := applyFilter(getDB(ctx, r.client.db).Model(&jobModel{}), filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, tracer.Fail(span, fmt.Errorf("failed to count jobs: %w", err))
	}

	var models []jobModel
	err := query.Preload("Images", orderedImages).
		Order("created_at DESC, id DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&models).Error
	if err != nil {
		return nil, tracer.Fail(span, fmt.Errorf("failed to list jobs: %w", err))
	}

	jobs, err := toEntities(models)
	if err != nil {
		return nil, tracer.Fail(span, err)
	}
	return repository.NewPagedResult(jobs, total, pagination), nil
}

// ListByStatus drains in queue order using idx_visualization_jobs_queue.
func (r *JobRepository) ListByStatus(ctx context.Context, statuses []entity.JobStatus, limit int) ([]*entity.VisualizationJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.ListByStatus")
	defer span.End()

	q := getDB(ctx, r.client.db).
		Preload("Images", orderedImages).
		Where("status IN ?", statusStrings(statuses)).
		Order("priority DESC, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []jobModel
	if err := q.Find(&models).Error; err != nil {
		return nil, tracer.Fail(span, fmt.Errorf("failed to list jobs by status: %w", err))
	}
	return toEntities(models)
}

func (r *JobRepository) ListStale(ctx context.Context, statuses []entity.JobStatus, olderThan time.Time, limit int) ([]*entity.VisualizationJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.ListStale")
	defer span.End()

	q := getDB(ctx, r.client.db).
		Preload("Images", orderedImages).
		Where("status IN ? AND updated_at < ?", statusStrings(statuses), olderThan).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []jobModel
	if err := q.Find(&models).Error; err != nil {
		return nil, tracer.Fail(span, fmt.Errorf("failed to list stale jobs: %w", err))
	}
	return toEntities(models)
}

func (r *JobRepository) CountByStatus(ctx context.Context) (map[entity.JobStatus]int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.CountByStatus")
	defer span.End()

	var rows []struct {
		Status string
		Count  int64
	}
	err := getDB(ctx, r.client.db).Model(&jobModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, tracer.Fail(span, fmt.Errorf("failed to count jobs by status: %w", err))
	}

	counts := make(map[entity.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[entity.JobStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func toEntities(models []jobModel) ([]*entity.VisualizationJob, error) {
	out := make([]*entity.VisualizationJob, 0, len(models))
	for i := range models {
		j, err := models[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func statusStrings(statuses []entity.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
