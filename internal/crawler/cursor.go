package crawler

import (
	"strings"

	"github.com/samvad-hq/review-harvester/internal/dedup"
	"github.com/samvad-hq/review-harvester/internal/domain"
)

// CursorStrategy extracts a continuation token from a page, or "" when it has none.
type CursorStrategy func(page domain.PageResult) string

// paginationCursorKeys are the pagination-meta keys sources use for the next cursor.
var paginationCursorKeys = []string{"next_cursor", "nextCursor", "cursor"}

// FromPaginationMeta reads an explicit next cursor from the page's pagination metadata.
func FromPaginationMeta(page domain.PageResult) string {
	if len(page.Pagination) == 0 {
		return ""
	}
	for _, key := range paginationCursorKeys {
		if raw, ok := page.Pagination[key]; ok {
			if token := dedup.NormalizeID(raw); token != "" {
				return token
			}
		}
	}
	return ""
}

// FromTopLevel reads the next cursor carried directly on the page.
func FromTopLevel(page domain.PageResult) string {
	return strings.TrimSpace(page.NextCursor)
}

// FromLastItem falls back to the identifier of the page's last item.
func FromLastItem(page domain.PageResult) string {
	for i := len(page.Items) - 1; i >= 0; i-- {
		if page.Items[i] == nil {
			continue
		}
		return dedup.NormalizeID(page.Items[i].ItemID())
	}
	return ""
}

// DefaultCursorStrategies is the extraction order used by the paginator.
func DefaultCursorStrategies() []CursorStrategy {
	return []CursorStrategy{FromPaginationMeta, FromTopLevel, FromLastItem}
}

// NextCursor runs strategies in order and returns the first non-empty token, tagged with the
// page that produced it.
func NextCursor(page domain.PageResult, pageNumber int, strategies []CursorStrategy) domain.Cursor {
	for _, strategy := range strategies {
		if strategy == nil {
			continue
		}
		if token := strategy(page); token != "" {
			return domain.Cursor{Token: token, OriginPage: pageNumber}
		}
	}
	return domain.Cursor{OriginPage: pageNumber}
}
