package books

// Pager is one window over an ordered list, with 1-based page numbers.
type Pager struct {
	Page       int
	PerPage    int
	TotalPages int
	Start      int
	End        int
}

// Paginate clamps page into [1, TotalPages]; an empty list has one empty
// page.
func Paginate(total, perPage, page int) Pager {
	if perPage < 1 {
		perPage = 1
	}
	if total < 0 {
		total = 0
	}
	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return Pager{Page: page, PerPage: perPage, TotalPages: totalPages, Start: start, End: end}
}

func (p Pager) HasPrev() bool { return p.Page > 1 }
func (p Pager) HasNext() bool { return p.Page < p.TotalPages }
func (p Pager) Prev() int     { return p.Page - 1 }
func (p Pager) Next() int     { return p.Page + 1 }

// PageOfIndex is the 1-based view page that holds the item at a 0-based
// index.
func PageOfIndex(index, perPage int) int {
	if perPage < 1 {
		perPage = 1
	}
	if index < 0 {
		index = 0
	}
	return index/perPage + 1
}
