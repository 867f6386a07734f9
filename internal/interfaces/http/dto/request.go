package dto

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"bookviz-api/internal/domain/entity"
)

// PageRequest holds paging query parameters.
type PageRequest struct {
	Page     int `form:"page" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

func (r *PageRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize < 1 {
		r.PageSize = 20
	}
	if r.PageSize > 100 {
		r.PageSize = 100
	}
}

// BindPage reads page and page_size from the query string.
func BindPage(c *gin.Context) PageRequest {
	req := PageRequest{
		Page:     parseIntWithDefault(c.Query("page"), 1),
		PageSize: parseIntWithDefault(c.Query("page_size"), 20),
	}
	req.Normalize()
	return req
}

// BindStatuses reads the comma separated status filter. Unknown values are
// reported as an error.
func BindStatuses(c *gin.Context) ([]entity.JobStatus, error) {
	raw := c.QueryArray("status")
	out := make([]entity.JobStatus, 0, len(raw))
	for _, item := range raw {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			st, err := entity.ParseJobStatus(s)
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
	}
	return out, nil
}

func parseIntWithDefault(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
