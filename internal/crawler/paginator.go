package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/review-harvester/internal/dedup"
	"github.com/samvad-hq/review-harvester/internal/domain"
	"github.com/samvad-hq/review-harvester/internal/logger"
	"github.com/samvad-hq/review-harvester/pkg/sources"
)

// Stop reasons reported in Stats.
const (
	StopExhausted   = "exhausted"
	StopStagnant    = "stagnant"
	StopUnknownSize = "unknown_size"
	StopMaxPages    = "max_pages"
	StopFailed      = "failed"
)

const (
	defaultRetryAttempts   = 3
	defaultStagnationLimit = 3
	defaultPageSize        = 20
	defaultMaxPages        = 5000
)

var errPageSkipped = errors.New("page skipped after retries")

// PaginatorOptions tunes retry, stagnation, and pacing behaviour.
type PaginatorOptions struct {
	RetryAttempts   int
	RetryDelay      time.Duration
	StagnationLimit int
	// MaxPages caps the page number of any crawl, mostly for sources that report no total.
	MaxPages   int
	Strategies []CursorStrategy
	// Sleep waits for d or until ctx is done; defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
	Log   logger.Logger
}

// Paginator turns a PageFetcher into per-source page iterators.
type Paginator struct {
	fetcher PageFetcher
	opts    PaginatorOptions
}

// NewPaginator builds a paginator, filling defaults for unset options.
func NewPaginator(fetcher PageFetcher, opts PaginatorOptions) *Paginator {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.StagnationLimit <= 0 {
		opts.StagnationLimit = defaultStagnationLimit
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultCursorStrategies()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	opts.Log = logger.Ensure(opts.Log)
	return &Paginator{fetcher: fetcher, opts: opts}
}

// Page is one successfully fetched page.
type Page struct {
	Number int
	Items  []domain.RawItem
	// NewIDs counts items neither seen earlier in this crawl nor known to the destination.
	NewIDs int
}

// Stats summarises one source crawl.
type Stats struct {
	PagesFetched int
	PagesSkipped int
	Items        int
	Total        int
	TotalPages   int
	StopReason   string
}

// Pages starts a crawl of src. seen may be nil; when set, ids it already knows do not count
// as new for stagnation purposes.
func (p *Paginator) Pages(src sources.Source, seen SeenChecker) *Pages {
	pageSize := src.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Pages{
		p:           p,
		src:         src,
		seen:        seen,
		pageSize:    pageSize,
		pageNumber:  1,
		totalPages:  -1,
		encountered: make(map[string]struct{}),
	}
}

// Pages is a lazy, finite, non-restartable page sequence for one source.
//
//	it := paginator.Pages(src, seen)
//	for it.Next(ctx) {
//		page := it.Page()
//	}
//	if err := it.Err(); err != nil { ... }
type Pages struct {
	p        *Paginator
	src      sources.Source
	seen     SeenChecker
	pageSize int

	pageNumber int
	totalPages int
	// sized is set by the first fetched page; unbounded when that page carried no total.
	sized       bool
	unbounded   bool
	cursor      domain.Cursor
	stagnant    int
	fetched     bool
	encountered map[string]struct{}

	page  Page
	stats Stats
	err   error
	done  bool
}

// Next fetches the next page. It returns false once the source is exhausted, stagnant, or
// failed; check Err afterwards. Sources reporting domain.TotalUnknown are exhausted by the
// first empty page.
func (it *Pages) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if it.stagnant >= it.p.opts.StagnationLimit {
		return it.finish(StopStagnant, nil)
	}

	for {
		if it.totalPages >= 0 && it.pageNumber > it.totalPages {
			return it.finish(StopExhausted, nil)
		}
		if it.pageNumber > it.p.opts.MaxPages {
			return it.finish(StopMaxPages, nil)
		}

		if it.fetched {
			if err := it.p.opts.Sleep(ctx, it.src.RequestDelay()); err != nil {
				return it.finish(StopFailed, err)
			}
		}
		it.fetched = true

		result, err := it.fetchWithRetry(ctx)
		if err != nil {
			if !errors.Is(err, errPageSkipped) {
				return it.finish(StopFailed, err)
			}
			it.stats.PagesSkipped++
			if !it.sized {
				// without the first page the page count is unknown
				return it.finish(StopUnknownSize, nil)
			}
			if it.unbounded {
				// nothing else bounds a run of failing pages here
				it.stagnant++
				if it.stagnant >= it.p.opts.StagnationLimit {
					return it.finish(StopStagnant, nil)
				}
			}
			it.pageNumber++
			continue
		}

		if !it.sized {
			it.sized = true
			if result.Total < 0 {
				it.unbounded = true
				it.stats.Total = domain.TotalUnknown
				it.stats.TotalPages = domain.TotalUnknown
			} else {
				it.stats.Total = result.Total
				it.totalPages = ceilDiv(result.Total, it.pageSize)
				it.stats.TotalPages = it.totalPages
			}
		}
		if it.unbounded && len(result.Items) == 0 {
			it.stats.PagesFetched++
			return it.finish(StopExhausted, nil)
		}

		newIDs := it.countNew(result.Items)
		if newIDs == 0 {
			it.stagnant++
		} else {
			it.stagnant = 0
		}

		it.page = Page{Number: it.pageNumber, Items: result.Items, NewIDs: newIDs}
		it.stats.PagesFetched++
		it.stats.Items += len(result.Items)
		it.cursor = NextCursor(result, it.pageNumber, it.p.opts.Strategies)

		it.p.opts.Log.DebugObj("page fetched", "page_meta", map[string]any{
			"source_id":   it.src.ID,
			"page":        it.pageNumber,
			"total_pages": it.totalPages,
			"items":       len(result.Items),
			"new_ids":     newIDs,
			"stagnant":    it.stagnant,
			"next_cursor": it.cursor.Token,
		})

		it.pageNumber++
		return true
	}
}

// Page returns the page produced by the last successful Next.
func (it *Pages) Page() Page { return it.page }

// Err returns the error that ended the crawl, if any.
func (it *Pages) Err() error { return it.err }

// Stats returns crawl counters; StopReason is set once Next has returned false.
func (it *Pages) Stats() Stats { return it.stats }

func (it *Pages) finish(reason string, err error) bool {
	it.done = true
	it.err = err
	it.stats.StopReason = reason
	it.page = Page{}
	switch reason {
	case StopStagnant:
		it.p.opts.Log.InfoObj("pagination stopped on stagnation", "pagination_stop", map[string]any{
			"source_id":   it.src.ID,
			"last_page":   it.pageNumber - 1,
			"total_pages": it.totalPages,
		})
	case StopMaxPages:
		it.p.opts.Log.WarnObj("pagination stopped at page limit", "pagination_stop", map[string]any{
			"source_id": it.src.ID,
			"max_pages": it.p.opts.MaxPages,
		})
	}
	return false
}

func (it *Pages) countNew(items []domain.RawItem) int {
	n := 0
	for _, item := range items {
		if item == nil {
			continue
		}
		id := dedup.NormalizeID(item.ItemID())
		if id == "" {
			continue
		}
		if _, ok := it.encountered[id]; ok {
			continue
		}
		it.encountered[id] = struct{}{}
		if it.seen != nil && it.seen.Seen(id) {
			continue
		}
		n++
	}
	return n
}

// fetchWithRetry fetches the current page, retrying source error codes and transient
// transport failures. Exhausted retries yield errPageSkipped.
func (it *Pages) fetchWithRetry(ctx context.Context) (domain.PageResult, error) {
	attempts := it.p.opts.RetryAttempts
	req := domain.PageRequest{
		PageNumber: it.pageNumber,
		PageSize:   it.pageSize,
		Cursor:     it.cursor.Token,
		OriginPage: it.cursor.OriginPage,
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := it.p.fetcher.FetchPage(ctx, it.src, req)
		switch {
		case err == nil && result.ErrorCode == 0:
			return result, nil
		case err != nil && ctx.Err() != nil:
			return domain.PageResult{}, ctx.Err()
		case err != nil && errors.Is(err, domain.ErrAuthentication):
			return domain.PageResult{}, fmt.Errorf("page %d: %w", req.PageNumber, err)
		case err != nil && !errors.Is(err, domain.ErrTransientFetch):
			return domain.PageResult{}, fmt.Errorf("fetch page %d: %w", req.PageNumber, err)
		case err != nil:
			lastErr = err
		default:
			lastErr = fmt.Errorf("source error code %d: %s", result.ErrorCode, result.Message)
		}

		it.p.opts.Log.WarnObj("page fetch failed", "page_error", map[string]any{
			"source_id": it.src.ID,
			"page":      req.PageNumber,
			"attempt":   attempt,
			"attempts":  attempts,
			"error":     lastErr.Error(),
		})

		if attempt < attempts {
			if err := it.p.opts.Sleep(ctx, it.p.opts.RetryDelay); err != nil {
				return domain.PageResult{}, err
			}
		}
	}

	it.p.opts.Log.WarnObj("page skipped after retries", "page_skipped", map[string]any{
		"source_id": it.src.ID,
		"page":      req.PageNumber,
		"error":     lastErr.Error(),
	})
	return domain.PageResult{}, fmt.Errorf("%w: page %d: %w", errPageSkipped, req.PageNumber, lastErr)
}

func ceilDiv(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// sleepCtx waits for d or returns the context error if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
