package sources

import (
	"context"

	"github.com/samvad-hq/review-harvester/internal/domain"
	"github.com/samvad-hq/review-harvester/pkg/httpclient"
)

// Fetcher retrieves one page of reviews for a source type.
// Concrete implementations live in source-specific files (e.g., shopee.go).
type Fetcher interface {
	Type() string
	FetchPage(ctx context.Context, src Source, req domain.PageRequest) (domain.PageResult, error)
}

// FetcherRegistry resolves the fetcher implementation for a given source config.
type FetcherRegistry interface {
	FetcherFor(src Source) (Fetcher, error)
}

// HTTPClient aliases the shared httpclient.Client interface for clarity within sources.
type HTTPClient = httpclient.Client
