// Package pagination holds the shared page/limit parameters and the
// envelope returned by every paginated listing.
package pagination

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Page  int
	Limit int
}

// Normalized clamps the parameters into their valid ranges: page >= 1,
// 1 <= limit <= MaxLimit, with DefaultLimit when unset.
func (p Params) Normalized() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

func Build(p Params, total int64) Pagination {
	pages := int(total) / p.Limit
	if int(total)%p.Limit != 0 {
		pages++
	}
	return Pagination{Page: p.Page, Limit: p.Limit, Total: total, TotalPages: pages}
}
