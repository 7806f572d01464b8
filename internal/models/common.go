package models

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NewPagination clamps page inputs and computes the metadata for a result set.
func NewPagination(page, pageSize, totalCount int) *Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return &Pagination{Page: page, PageSize: pageSize, TotalCount: totalCount}
}

// TotalPages derives the page count from the stored size and total.
func (p *Pagination) TotalPages() int {
	if p == nil || p.PageSize <= 0 {
		return 0
	}
	pages := p.TotalCount / p.PageSize
	if p.TotalCount%p.PageSize != 0 {
		pages++
	}
	return pages
}
