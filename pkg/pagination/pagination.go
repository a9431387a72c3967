package pagination

const (
	// DefaultPageSize is the standard page size when one is not provided.
	DefaultPageSize = 25
	// MaxPageSize caps how many rows any page query can request.
	MaxPageSize = 100
)

// Params holds page pagination inputs from controllers or services.
type Params struct {
	Page     int
	PageSize int
}

// Normalize clamps the page to >= 1 and the page size to the configured
// default and maximum.
func (p Params) Normalize() Params {
	out := p
	if out.Page < 1 {
		out.Page = 1
	}
	if out.PageSize <= 0 {
		out.PageSize = DefaultPageSize
	}
	if out.PageSize > MaxPageSize {
		out.PageSize = MaxPageSize
	}
	return out
}

// Offset returns the row offset for the normalized params.
func (p Params) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// PageInfo describes one page of an ordered result set.
type PageInfo struct {
	Page            int   `json:"page"`
	PageSize        int   `json:"page_size"`
	TotalItems      int64 `json:"total_items"`
	TotalPages      int   `json:"total_pages"`
	HasNextPage     bool  `json:"has_next_page"`
	HasPreviousPage bool  `json:"has_previous_page"`
}

// NewPageInfo derives page metadata from a total row count.
func NewPageInfo(total int64, params Params) PageInfo {
	n := params.Normalize()
	totalPages := int((total + int64(n.PageSize) - 1) / int64(n.PageSize))
	return PageInfo{
		Page:            n.Page,
		PageSize:        n.PageSize,
		TotalItems:      total,
		TotalPages:      totalPages,
		HasNextPage:     n.Page < totalPages,
		HasPreviousPage: n.Page > 1 && total > 0,
	}
}
