package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/samvad-hq/review-harvester/internal/domain"
	"github.com/samvad-hq/review-harvester/pkg/sources"
)

// testItem is a minimal raw review.
type testItem struct {
	id   any
	date time.Time
}

func (i testItem) ItemID() any { return i.id }

func (i testItem) Review(sourceName string, collectedAt time.Time) domain.Review {
	return domain.Review{
		SourceID:    fmt.Sprint(i.id),
		SourceName:  sourceName,
		Rating:      5,
		Date:        i.date,
		CollectedAt: collectedAt,
	}
}

func itemsWithIDs(prefix string, from, to int) []domain.RawItem {
	out := make([]domain.RawItem, 0, to-from+1)
	for n := from; n <= to; n++ {
		out = append(out, testItem{id: fmt.Sprintf("%s%d", prefix, n)})
	}
	return out
}

func rawItems(ids ...string) []domain.RawItem {
	out := make([]domain.RawItem, len(ids))
	for i, id := range ids {
		out[i] = testItem{id: id}
	}
	return out
}

// pageResponse is one scripted answer; errs are returned on consecutive attempts first.
type pageResponse struct {
	result domain.PageResult
	errs   []error
	codes  []int
}

// scriptedFetcher serves pre-built pages per source and records every request.
type scriptedFetcher struct {
	pages    map[string]map[int]*pageResponse
	fallback map[string]func(page int) domain.PageResult
	calls    []domain.PageRequest
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		pages:    make(map[string]map[int]*pageResponse),
		fallback: make(map[string]func(int) domain.PageResult),
	}
}

func (f *scriptedFetcher) page(sourceID string, n int, result domain.PageResult) *pageResponse {
	if f.pages[sourceID] == nil {
		f.pages[sourceID] = make(map[int]*pageResponse)
	}
	p := &pageResponse{result: result}
	f.pages[sourceID][n] = p
	return p
}

func (f *scriptedFetcher) FetchPage(_ context.Context, src sources.Source, req domain.PageRequest) (domain.PageResult, error) {
	f.calls = append(f.calls, req)

	if p, ok := f.pages[src.ID][req.PageNumber]; ok {
		if len(p.errs) > 0 {
			err := p.errs[0]
			p.errs = p.errs[1:]
			return domain.PageResult{}, err
		}
		if len(p.codes) > 0 {
			code := p.codes[0]
			p.codes = p.codes[1:]
			return domain.PageResult{ErrorCode: code, Message: "server busy"}, nil
		}
		return p.result, nil
	}
	if fb, ok := f.fallback[src.ID]; ok {
		return fb(req.PageNumber), nil
	}
	return domain.PageResult{}, fmt.Errorf("unexpected page %d for %s", req.PageNumber, src.ID)
}

func noSleep(context.Context, time.Duration) error { return nil }

func testSource(id string, pageSize int) sources.Source {
	enabled := true
	return sources.Source{
		ID:        id,
		Name:      id,
		Type:      sources.TypeShopee,
		SheetName: "sheet-" + id,
		PageSize:  pageSize,
		Enabled:   &enabled,
	}
}

type mapSeen map[string]bool

func (m mapSeen) Seen(id any) bool { return m[fmt.Sprint(id)] }
