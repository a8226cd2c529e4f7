// Package pagination provides page/per_page handling for list views.
package pagination

// Defaults applied by New.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Pagination holds pagination parameters.
type Pagination struct {
	Page    int
	PerPage int
}

// New creates a new Pagination with the package defaults applied.
func New(page, perPage int) Pagination {
	return NewWithDefault(page, perPage, DefaultPerPage)
}

// NewWithDefault is New with a caller-chosen default page size. Page sizes are
// always capped at MaxPerPage.
func NewWithDefault(page, perPage, defaultPerPage int) Pagination {
	if defaultPerPage < 1 || defaultPerPage > MaxPerPage {
		defaultPerPage = DefaultPerPage
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return Pagination{
		Page:    page,
		PerPage: perPage,
	}
}

// Offset returns the offset for store queries.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Limit returns the limit for store queries.
func (p Pagination) Limit() int {
	return p.PerPage
}

// Result represents a paginated result set.
type Result[T any] struct {
	Data       []T   `json:"data" yaml:"data"`
	Total      int64 `json:"total" yaml:"total"`
	Page       int   `json:"page" yaml:"page"`
	PerPage    int   `json:"per_page" yaml:"per_page"`
	TotalPages int   `json:"total_pages" yaml:"total_pages"`
}

// NewResult creates a new paginated Result.
func NewResult[T any](data []T, total int64, p Pagination) Result[T] {
	if data == nil {
		data = make([]T, 0)
	}

	totalPages := 0
	if p.PerPage > 0 {
		totalPages = int(total) / p.PerPage
		if int(total)%p.PerPage > 0 {
			totalPages++
		}
	}

	return Result[T]{
		Data:       data,
		Total:      total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: totalPages,
	}
}

// HasNext reports whether a page follows this one.
func (r Result[T]) HasNext() bool {
	return r.Page < r.TotalPages
}

// Map converts the rows of a result, keeping its paging metadata.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	out := make([]U, 0, len(r.Data))
	for _, v := range r.Data {
		out = append(out, fn(v))
	}
	return Result[U]{
		Data:       out,
		Total:      r.Total,
		Page:       r.Page,
		PerPage:    r.PerPage,
		TotalPages: r.TotalPages,
	}
}
