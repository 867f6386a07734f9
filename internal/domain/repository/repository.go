// Package repository declares the persistence ports of the domain.
package repository

import (
	"context"
	"errors"
)

// ErrVersionConflict is returned when an update was made against a stale version.
var ErrVersionConflict = errors.New("version conflict")

// TxKey is the context key carrying an open transaction.
type TxKey struct{}

// Transactor runs fn inside a transaction, joining one already in ctx.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// NewPagination clamps page and size into valid ranges.
func NewPagination(page, pageSize int) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

func (p Pagination) Limit() int {
	return p.PageSize
}

type PagedResult[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

func NewPagedResult[T any](items []T, total int64, pagination Pagination) *PagedResult[T] {
	totalPages := 0
	if pagination.PageSize > 0 {
		totalPages = int(total) / pagination.PageSize
		if int(total)%pagination.PageSize > 0 {
			totalPages++
		}
	}
	if items == nil {
		items = []T{}
	}
	return &PagedResult[T]{
		Items:      items,
		Total:      total,
		Page:       pagination.Page,
		PageSize:   pagination.PageSize,
		TotalPages: totalPages,
	}
}
