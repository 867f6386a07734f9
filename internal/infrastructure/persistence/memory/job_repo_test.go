package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/domain/repository"
)

func TestJobRepositoryOptimisticUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewJobRepository()

	job := entity.NewVisualizationJob("u1", "b1", entity.TriggerButton, entity.ProviderDallE3)
	require.NoError(t, repo.Create(ctx, job))

	a, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	b, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, a.MarkQueued(1, time.Second))
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	require.NoError(t, b.Cancel("racing"))
	err = repo.Update(ctx, b)
	require.ErrorIs(t, err, repository.ErrVersionConflict)

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusQueued, stored.Status)
}

func TestJobRepositoryReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewJobRepository()

	job := entity.NewVisualizationJob("u1", "b1", entity.TriggerButton, entity.ProviderDallE3)
	require.NoError(t, repo.Create(ctx, job))
	job.Priority = 99

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Priority)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJobRepositoryQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewJobRepository()

	base := time.Now().UTC()
	mk := func(user, book, page string, priority int, offset time.Duration, status entity.JobStatus) *entity.VisualizationJob {
		j := entity.NewVisualizationJob(user, book, entity.TriggerPerPage, entity.ProviderStableDiffusion)
		j.PageID = page
		j.Priority = priority
		j.Status = status
		j.CreatedAt = base.Add(offset)
		j.UpdatedAt = base.Add(offset)
		require.NoError(t, repo.Create(ctx, j))
		return j
	}
	a := mk("u1", "b1", "p1", 5, time.Second, entity.JobStatusQueued)
	b := mk("u1", "b1", "p2", 5, 2*time.Second, entity.JobStatusQueued)
	c := mk("u2", "b2", "p3", 10, 3*time.Second, entity.JobStatusQueued)
	d := mk("u1", "b2", "p4", 1, -time.Hour, entity.JobStatusProcessing)

	queued, err := repo.ListByStatus(ctx, []entity.JobStatus{entity.JobStatusQueued}, 0)
	require.NoError(t, err)
	require.Len(t, queued, 3)
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, []string{queued[0].ID, queued[1].ID, queued[2].ID})

	page, err := repo.List(ctx, repository.JobFilter{UserID: "u1"}, repository.NewPagination(1, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 2)
	assert.Equal(t, b.ID, page.Items[0].ID)

	byPage, err := repo.List(ctx, repository.JobFilter{PageID: "p4"}, repository.NewPagination(1, 10))
	require.NoError(t, err)
	require.Len(t, byPage.Items, 1)
	assert.Equal(t, d.ID, byPage.Items[0].ID)

	stale, err := repo.ListStale(ctx, entity.ActiveJobStatuses(), base.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, d.ID, stale[0].ID)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[entity.JobStatusQueued])
	assert.Equal(t, int64(1), counts[entity.JobStatusProcessing])

	require.NoError(t, repo.Delete(ctx, d.ID))
	gone, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
