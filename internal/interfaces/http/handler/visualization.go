// Package handler holds the gin handlers of the HTTP API.
package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"bookviz-api/internal/application/visualization"
	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/domain/repository"
	"bookviz-api/internal/interfaces/http/dto"
	"bookviz-api/internal/interfaces/http/middleware"
	"bookviz-api/pkg/errors"
)

// VisualizationService is the application surface used by the handlers.
type VisualizationService interface {
	CreateJob(ctx context.Context, cmd visualization.CreateJobCommand) (*visualization.CreateJobResult, error)
	GetJob(ctx context.Context, userID, jobID string) (*entity.VisualizationJob, error)
	ListJobs(ctx context.Context, q visualization.ListJobsQuery) (*repository.PagedResult[*entity.VisualizationJob], error)
	CancelJob(ctx context.Context, userID, jobID, reason string) (*entity.VisualizationJob, error)
	RetryJob(ctx context.Context, userID, jobID string) (*visualization.CreateJobResult, error)
	SelectImage(ctx context.Context, userID, jobID, imageID string) (*entity.VisualizationJob, error)
	DeleteImage(ctx context.Context, userID, jobID, imageID string) (*entity.VisualizationJob, error)
	DeleteJob(ctx context.Context, userID, jobID string) error
	QueueStatus(ctx context.Context) (entity.QueueStatus, error)
	QueuePosition(ctx context.Context, userID, jobID string) (*visualization.QueuePlacement, error)
}

type VisualizationHandler struct {
	svc VisualizationService
}

func NewVisualizationHandler(svc VisualizationService) *VisualizationHandler {
	return &VisualizationHandler{svc: svc}
}

// CreateVisualization queues a new job.
// @Router /v1/visualizations [post]
func (h *VisualizationHandler) CreateVisualization(c *gin.Context) {
	var req dto.CreateVisualizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	res, err := h.svc.CreateJob(c.Request.Context(), req.ToCommand(middleware.UserID(c)))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Accepted(c, dto.ToCreateVisualizationResponse(res))
}

// ListVisualizations lists the caller's jobs with optional filters.
// @Router /v1/visualizations [get]
func (h *VisualizationHandler) ListVisualizations(c *gin.Context) {
	h.list(c, visualization.ListJobsQuery{
		BookID:    c.Query("book_id"),
		PageID:    c.Query("page_id"),
		ChapterID: c.Query("chapter_id"),
	})
}

// @Router /v1/books/{bid}/visualizations [get]
func (h *VisualizationHandler) ListBookVisualizations(c *gin.Context) {
	h.list(c, visualization.ListJobsQuery{BookID: c.Param("bid"), ChapterID: c.Query("chapter_id")})
}

// @Router /v1/pages/{pid}/visualizations [get]
func (h *VisualizationHandler) ListPageVisualizations(c *gin.Context) {
	h.list(c, visualization.ListJobsQuery{PageID: c.Param("pid")})
}

func (h *VisualizationHandler) list(c *gin.Context, q visualization.ListJobsQuery) {
	statuses, err := dto.BindStatuses(c)
	if err != nil {
		dto.BadRequest(c, err.Error())
		return
	}
	page := dto.BindPage(c)
	q.UserID = middleware.UserID(c)
	q.Statuses = statuses
	q.Pagination = repository.NewPagination(page.Page, page.PageSize)

	res, err := h.svc.ListJobs(c.Request.Context(), q)
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.SuccessWithPage(c, dto.ToVisualizationList(res.Items), dto.NewPageMeta(res.Page, res.PageSize, res.Total))
}

// @Router /v1/visualizations/{jid} [get]
func (h *VisualizationHandler) GetVisualization(c *gin.Context) {
	job, err := h.svc.GetJob(c.Request.Context(), middleware.UserID(c), c.Param("jid"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, dto.ToVisualizationResponse(job))
}

// @Router /v1/visualizations/{jid} [delete]
func (h *VisualizationHandler) DeleteVisualization(c *gin.Context) {
	if err := h.svc.DeleteJob(c.Request.Context(), middleware.UserID(c), c.Param("jid")); err != nil {
		dto.Error(c, err)
		return
	}
	dto.NoContent(c)
}

// CancelVisualization accepts an optional JSON body with a reason.
// @Router /v1/visualizations/{jid}/cancel [post]
func (h *VisualizationHandler) CancelVisualization(c *gin.Context) {
	var req dto.CancelVisualizationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			dto.BadRequest(c, err.Error())
			return
		}
	}

	job, err := h.svc.CancelJob(c.Request.Context(), middleware.UserID(c), c.Param("jid"), req.Reason)
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, dto.ToVisualizationResponse(job))
}

// @Router /v1/visualizations/{jid}/retry [post]
func (h *VisualizationHandler) RetryVisualization(c *gin.Context) {
	res, err := h.svc.RetryJob(c.Request.Context(), middleware.UserID(c), c.Param("jid"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Accepted(c, dto.ToCreateVisualizationResponse(res))
}

// @Router /v1/visualizations/{jid}/images/{iid}/select [post]
func (h *VisualizationHandler) SelectImage(c *gin.Context) {
	job, err := h.svc.SelectImage(c.Request.Context(), middleware.UserID(c), c.Param("jid"), c.Param("iid"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, dto.ToVisualizationResponse(job))
}

// @Router /v1/visualizations/{jid}/images/{iid} [delete]
func (h *VisualizationHandler) DeleteImage(c *gin.Context) {
	job, err := h.svc.DeleteImage(c.Request.Context(), middleware.UserID(c), c.Param("jid"), c.Param("iid"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, dto.ToVisualizationResponse(job))
}

// @Router /v1/visualizations/{jid}/queue-position [get]
func (h *VisualizationHandler) QueuePosition(c *gin.Context) {
	p, err := h.svc.QueuePosition(c.Request.Context(), middleware.UserID(c), c.Param("jid"))
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, dto.ToQueuePositionResponse(p))
}

// @Router /v1/queue/status [get]
func (h *VisualizationHandler) QueueStatus(c *gin.Context) {
	if middleware.UserID(c) == "" {
		dto.Error(c, errors.ErrUnauthorized)
		return
	}
	status, err := h.svc.QueueStatus(c.Request.Context())
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, dto.ToQueueStatusResponse(status))
}
