package sources

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samvad-hq/review-harvester/internal/domain"
	"github.com/samvad-hq/review-harvester/pkg/httpclient"
)

// fetcherRegistry implements FetcherRegistry.
type fetcherRegistry struct {
	fetchersByID   map[string]Fetcher
	fetchersByType map[string]Fetcher
	mu             sync.RWMutex
}

// NewTypeFetcherRegistry builds a registry with type-based fetchers and optional
// source-specific overrides keyed by source id.
func NewTypeFetcherRegistry(typeFetchers map[string]Fetcher, idFetchers map[string]Fetcher) FetcherRegistry {
	reg := &fetcherRegistry{
		fetchersByID:   make(map[string]Fetcher),
		fetchersByType: make(map[string]Fetcher),
	}

	for id, f := range idFetchers {
		reg.register(reg.fetchersByID, id, f)
	}
	for typ, f := range typeFetchers {
		reg.register(reg.fetchersByType, typ, f)
	}

	return reg
}

func (r *fetcherRegistry) register(into map[string]Fetcher, key string, f Fetcher) {
	if f == nil {
		return
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}

	r.mu.Lock()
	into[key] = f
	r.mu.Unlock()
}

// FetcherFor selects the fetcher for the given source based on its id or type.
func (r *fetcherRegistry) FetcherFor(src Source) (Fetcher, error) {
	if r == nil {
		return nil, fmt.Errorf("fetcher registry is nil")
	}
	if strings.TrimSpace(src.ID) == "" {
		return nil, fmt.Errorf("source id is empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.fetchersByID[strings.ToLower(strings.TrimSpace(src.ID))]; ok {
		return f, nil
	}
	if typeKey := strings.ToLower(strings.TrimSpace(src.Type)); typeKey != "" {
		if f, ok := r.fetchersByType[typeKey]; ok {
			return f, nil
		}
	}

	return nil, fmt.Errorf("no fetcher registered for source %q (type %q)", src.ID, src.Type)
}

// Dispatcher routes FetchPage calls to the fetcher registered for each source.
type Dispatcher struct {
	reg FetcherRegistry
}

// NewDispatcher wraps a registry.
func NewDispatcher(reg FetcherRegistry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// FetchPage resolves the source's fetcher and delegates to it.
func (d *Dispatcher) FetchPage(ctx context.Context, src Source, req domain.PageRequest) (domain.PageResult, error) {
	f, err := d.reg.FetcherFor(src)
	if err != nil {
		return domain.PageResult{}, err
	}
	return f.FetchPage(ctx, src, req)
}

// DefaultHTTPClient returns a tuned client for source fetchers.
func DefaultHTTPClient() HTTPClient { return httpclient.NewRestyClient(30 * time.Second) }

// DefaultFetcherRegistry wires up known source fetchers.
func DefaultFetcherRegistry(client HTTPClient, session Session) FetcherRegistry {
	if client == nil {
		client = DefaultHTTPClient()
	}

	typeFetchers := map[string]Fetcher{
		TypeShopee:  NewShopeeFetcher(client, session),
		TypeTrustoo: NewTrustooFetcher(client, session),
		TypeAmazon:  NewAmazonFetcher(client, session),
	}

	return NewTypeFetcherRegistry(typeFetchers, nil)
}

// get performs a GET with source and session headers and classifies the response status.
func get(ctx context.Context, client HTTPClient, session Session, src Source, rawURL string, extra map[string]string) (httpclient.Response, error) {
	headers := mergeHeaders(mergeHeaders(nil, extra), Headers(src))
	if session != nil {
		headers = mergeHeaders(headers, session.Headers(src, rawURL))
	}

	resp, err := client.Get(ctx, rawURL, headers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch %s: %v: %w", src.ID, err, domain.ErrTransientFetch)
	}
	if err := classifyStatus(src.ID, resp.StatusCode(), resp.Body()); err != nil {
		return nil, err
	}
	return resp, nil
}
