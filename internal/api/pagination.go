package api

import (
	"net/http"

	"github.com/ignite/txmail/internal/pkg/httputil"
)

// PaginationParams holds parsed pagination values from query params.
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResponse wraps any list data with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// PaginationMeta contains pagination metadata for the response.
type PaginationMeta struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// ParsePagination reads limit and offset, falling back to page when offset
// is absent. maxLimit caps the page size.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	limit := httputil.QueryInt(r, "limit", defaultLimit)
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := httputil.QueryInt(r, "offset", -1)
	if offset < 0 {
		page := httputil.QueryInt(r, "page", 1)
		if page < 1 {
			page = 1
		}
		offset = (page - 1) * limit
	}
	return PaginationParams{Limit: limit, Offset: offset}
}

// NewPaginatedResponse builds a PaginatedResponse from data, params, and total count.
func NewPaginatedResponse(data interface{}, params PaginationParams, total int) PaginatedResponse {
	return PaginatedResponse{
		Data: data,
		Pagination: PaginationMeta{
			Limit:   params.Limit,
			Offset:  params.Offset,
			Total:   total,
			HasMore: params.Offset+params.Limit < total,
		},
	}
}
