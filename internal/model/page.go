package model

// Paging defaults.
const (
	DefaultPageSize = 50
	MaxPageSize     = 10000
)

// PageRequest selects one page of a listing. Page numbers start at 1.
type PageRequest struct {
	Page     int
	PageSize int
}

// MaxPage requests everything in a single page.
func MaxPage() PageRequest {
	return PageRequest{Page: 1, PageSize: MaxPageSize}
}

// Normalize clamps the request to valid values.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset is the number of rows to skip for this page.
func (p PageRequest) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PageSize
}

// Page is one page of a listing.
type Page[T any] struct {
	Items     []T
	Total     int
	Page      int
	PageSize  int
	PageCount int
}

// NewPage builds a page from its items and the total row count.
func NewPage[T any](items []T, total int, req PageRequest) Page[T] {
	req = req.Normalize()
	count := total / req.PageSize
	if total%req.PageSize != 0 {
		count++
	}
	return Page[T]{
		Items:     items,
		Total:     total,
		Page:      req.Page,
		PageSize:  req.PageSize,
		PageCount: count,
	}
}

// HasNext reports whether another page follows this one.
func (p Page[T]) HasNext() bool {
	return p.Page < p.PageCount
}
