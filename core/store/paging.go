package store

// MaxPageSize defines the maximum number of rows returned from a list query
const MaxPageSize = 100

// Page selects one page of a list query. Number starts at 1.
type Page struct {
	Number int
	Size   int
}

// Sanitized returns the page with Number at least 1 and Size within 1..MaxPageSize
func (p Page) Sanitized() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 1
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Limit returns the number of rows to request
func (p Page) Limit() int {
	return p.Sanitized().Size
}

// Offset returns the number of rows to skip
func (p Page) Offset() int {
	s := p.Sanitized()
	return (s.Number - 1) * s.Size
}

// PageCount determines the total number of pages for totalRows rows
func PageCount(totalRows, pageSize int) int {
	if pageSize < 1 {
		return 0
	}
	return (totalRows + pageSize - 1) / pageSize
}
