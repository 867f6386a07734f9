// Package dto holds the HTTP request and response shapes.
package dto

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bookviz-api/pkg/errors"
)

// Response is the success envelope.
type Response[T any] struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Data    T         `json:"data,omitempty"`
	Meta    *PageMeta `json:"meta,omitempty"`
	TraceID string    `json:"trace_id,omitempty"`
}

type PageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// ErrorResponse is the error envelope. Code is the application error code.
type ErrorResponse struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Detail  string           `json:"detail,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

func Success[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, Response[T]{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
		TraceID: c.GetString("trace_id"),
	})
}

func SuccessWithPage[T any](c *gin.Context, data T, meta *PageMeta) {
	c.JSON(http.StatusOK, Response[T]{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
		Meta:    meta,
		TraceID: c.GetString("trace_id"),
	})
}

func Accepted[T any](c *gin.Context, data T) {
	c.JSON(http.StatusAccepted, Response[T]{
		Code:    http.StatusAccepted,
		Message: "accepted",
		Data:    data,
		TraceID: c.GetString("trace_id"),
	})
}

func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error writes err as an error envelope. Errors that are not AppErrors are
// reported as internal errors without their message.
func Error(c *gin.Context, err error) {
	appErr := errors.AsAppError(err)
	if appErr.Code == errors.CodeUnknown {
		appErr = errors.ErrInternalError
	}
	c.JSON(appErr.HTTPStatus, ErrorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
		TraceID: c.GetString("trace_id"),
	})
}

func BadRequest(c *gin.Context, detail string) {
	Error(c, errors.ErrInvalidParam.WithDetail(detail))
}

func NewPageMeta(page, pageSize int, total int64) *PageMeta {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(total) / pageSize
		if int(total)%pageSize > 0 {
			totalPages++
		}
	}
	return &PageMeta{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}
