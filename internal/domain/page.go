package domain

// PageRequest describes one page to fetch from a paginated source.
type PageRequest struct {
	PageNumber int
	PageSize   int
	Cursor     string
	// OriginPage is the page the cursor was derived from; zero on the first page.
	OriginPage int
}

// TotalUnknown marks a PageResult whose source did not report a review count. The crawl
// then runs until an empty page instead of a computed page count.
const TotalUnknown = -1

// PageResult is what a fetcher returns for one page.
type PageResult struct {
	Items []RawItem
	// Total is the source-wide review count, or TotalUnknown.
	Total      int
	ErrorCode  int
	Message    string
	Pagination map[string]any
	NextCursor string
}

// Cursor is an opaque continuation token plus the page that produced it.
type Cursor struct {
	Token      string
	OriginPage int
}
