package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samvad-hq/review-harvester/internal/domain"
)

const (
	trustooDefaultBase = "https://api.trustoo.io"
	trustooTimeLayout  = "2006-01-02 15:04:05"
	trustooVideoType   = 2
)

// trustooFetcher pulls product reviews from the Trustoo widget API (Biodance storefront).
type trustooFetcher struct {
	client  HTTPClient
	session Session
}

// NewTrustooFetcher builds a fetcher for Trustoo product reviews.
func NewTrustooFetcher(client HTTPClient, session Session) Fetcher {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &trustooFetcher{client: client, session: session}
}

func (f *trustooFetcher) Type() string { return TypeTrustoo }

func (f *trustooFetcher) FetchPage(ctx context.Context, src Source, req domain.PageRequest) (domain.PageResult, error) {
	if src.Type != TypeTrustoo {
		return domain.PageResult{}, fmt.Errorf("trustoo fetcher received incompatible source %q", src.ID)
	}

	resp, err := get(ctx, f.client, f.session, src, trustooEndpoint(src, req), map[string]string{"Accept": "application/json"})
	if err != nil {
		return domain.PageResult{}, err
	}

	var payload trustooResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return domain.PageResult{}, fmt.Errorf("decode trustoo reviews for %s: %w", src.ID, err)
	}

	productName := ConfigString(src, ConfigProductNameKey, "")
	productID := ConfigString(src, ConfigProductIDKey, "")
	items := make([]domain.RawItem, 0, len(payload.Data.List))
	for _, it := range payload.Data.List {
		it.productName = productName
		it.productID = productID
		items = append(items, it)
	}

	total := payload.Data.TotalRating.TotalReviews
	if total == 0 {
		total = payload.Data.Page.Total
	}

	// The API reports success as code 0; anything else is surfaced for the paginator to retry.
	return domain.PageResult{
		Items:     items,
		Total:     total,
		ErrorCode: payload.Code,
		Message:   payload.Message,
		Pagination: map[string]any{
			"total_page": payload.Data.Page.TotalPage,
		},
	}, nil
}

func trustooEndpoint(src Source, req domain.PageRequest) string {
	base := src.SourceURL
	if base == "" {
		base = trustooDefaultBase
	}
	size := req.PageSize
	if size <= 0 {
		size = src.PageSize
	}
	page := req.PageNumber
	if page < 1 {
		page = 1
	}

	q := url.Values{}
	q.Set("shop_id", ConfigString(src, ConfigShopIDKey, ""))
	q.Set("product_id", ConfigString(src, ConfigProductIDKey, ""))
	q.Set("limit", strconv.Itoa(size))
	q.Set("page", strconv.Itoa(page))
	q.Set("sort_by", "commented-at-descending")
	return base + "/api/v1/reviews/get_product_reviews?" + q.Encode()
}

type trustooResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		List []trustooReview `json:"list"`
		Page struct {
			TotalPage int `json:"total_page"`
			Total     int `json:"total"`
		} `json:"page"`
		TotalRating struct {
			TotalReviews int `json:"total_reviews"`
		} `json:"total_rating"`
	} `json:"data"`
}

// trustooReview is one review from the Trustoo widget API.
type trustooReview struct {
	ID            json.Number `json:"id"`
	Author        string      `json:"author"`
	AuthorCountry string      `json:"author_country"`
	Star          int         `json:"star"`
	Title         string      `json:"title"`
	Content       string      `json:"content"`
	CommentedAt   string      `json:"commented_at"`
	VerifiedBadge int         `json:"verified_badge"`
	ItemType      string      `json:"item_type"`
	ReplyContent  string      `json:"reply_content"`
	LikesCount    int         `json:"likes_count"`
	Resources     []struct {
		Src          string `json:"src"`
		ResourceType int    `json:"resource_type"`
	} `json:"resources"`

	productName string
	productID   string
}

func (r trustooReview) ItemID() any { return r.ID }

func (r trustooReview) Review(sourceName string, collectedAt time.Time) domain.Review {
	rev := domain.Review{
		SourceID:         r.ID.String(),
		SourceName:       sourceName,
		ProductName:      r.productName,
		ProductID:        r.productID,
		Author:           strings.TrimSpace(r.Author),
		AuthorCountry:    strings.TrimSpace(r.AuthorCountry),
		Rating:           r.Star,
		Title:            strings.TrimSpace(r.Title),
		Content:          strings.TrimSpace(r.Content),
		CollectedAt:      collectedAt,
		VerifiedPurchase: r.VerifiedBadge != 0,
		ItemType:         strings.TrimSpace(r.ItemType),
		ReplyContent:     strings.TrimSpace(r.ReplyContent),
		LikesCount:       r.LikesCount,
	}
	if ts, err := time.Parse(trustooTimeLayout, strings.TrimSpace(r.CommentedAt)); err == nil {
		rev.Date = ts
	}
	for _, res := range r.Resources {
		if res.Src == "" {
			continue
		}
		if res.ResourceType == trustooVideoType {
			rev.VideoURLs = append(rev.VideoURLs, res.Src)
		} else {
			rev.ImageURLs = append(rev.ImageURLs, res.Src)
		}
	}
	return rev
}
