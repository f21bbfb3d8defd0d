package crawler

import (
	"context"

	"github.com/samvad-hq/review-harvester/internal/domain"
	"github.com/samvad-hq/review-harvester/internal/uploader"
	"github.com/samvad-hq/review-harvester/pkg/sources"
)

// PageFetcher retrieves one page of raw reviews for a source.
type PageFetcher interface {
	FetchPage(ctx context.Context, src sources.Source, req domain.PageRequest) (domain.PageResult, error)
}

// SeenChecker reports whether an identifier is already known to the destination.
type SeenChecker interface {
	Seen(id any) bool
}

// Uploader persists accepted reviews for one source's destination sheet.
type Uploader interface {
	ExistingIDs(ctx context.Context, target uploader.Target) ([]string, error)
	Upload(ctx context.Context, target uploader.Target, reviews []domain.Review, duplicates, existing int) (uploader.Result, error)
}
