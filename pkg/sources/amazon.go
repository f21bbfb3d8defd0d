package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/samvad-hq/review-harvester/internal/domain"
)

const amazonDefaultBase = "https://www.amazon.com"

var (
	amazonNumberRe     = regexp.MustCompile(`[\d][\d,.]*`)
	amazonLocationRe   = regexp.MustCompile(`in (?:the )?([A-Za-z ]+?) on `)
	amazonDateLayouts  = []string{"January 2, 2006", "2 January 2006"}
	amazonDateRe       = regexp.MustCompile(`([A-Za-z]+ \d{1,2}, \d{4}|\d{1,2} [A-Za-z]+ \d{4})`)
	amazonTitleStarsRe = regexp.MustCompile(`^[\d.]+ out of 5 stars\s*`)
	amazonWhitespaceRe = regexp.MustCompile(`\s+`)
)

// amazonFetcher scrapes Amazon product-review pages.
type amazonFetcher struct {
	client  HTTPClient
	session Session
}

// NewAmazonFetcher builds a fetcher for Amazon product-review pages.
func NewAmazonFetcher(client HTTPClient, session Session) Fetcher {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &amazonFetcher{client: client, session: session}
}

func (f *amazonFetcher) Type() string { return TypeAmazon }

func (f *amazonFetcher) FetchPage(ctx context.Context, src Source, req domain.PageRequest) (domain.PageResult, error) {
	if src.Type != TypeAmazon {
		return domain.PageResult{}, fmt.Errorf("amazon fetcher received incompatible source %q", src.ID)
	}

	resp, err := get(ctx, f.client, f.session, src, amazonEndpoint(src, req), map[string]string{
		"Accept": "text/html,application/xhtml+xml",
	})
	if err != nil {
		return domain.PageResult{}, err
	}
	if strings.Contains(resp.URL(), "/ap/signin") {
		return domain.PageResult{}, fmt.Errorf("amazon %s redirected to sign-in: %w", src.ID, domain.ErrAuthentication)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("parse amazon reviews html: %w", err)
	}
	if doc.Find(`form[name="signIn"]`).Length() > 0 {
		return domain.PageResult{}, fmt.Errorf("amazon %s served a sign-in form: %w", src.ID, domain.ErrAuthentication)
	}
	if doc.Find(`form[action*="validateCaptcha"]`).Length() > 0 {
		return domain.PageResult{}, fmt.Errorf("amazon %s served a captcha: %w", src.ID, domain.ErrAuthentication)
	}

	asin := ConfigString(src, ConfigASINKey, "")
	items := parseAmazonReviews(doc, asin)
	return domain.PageResult{
		Items: items,
		Total: parseAmazonTotal(doc),
	}, nil
}

func amazonEndpoint(src Source, req domain.PageRequest) string {
	base := src.SourceURL
	if base == "" {
		base = amazonDefaultBase
	}
	page := req.PageNumber
	if page < 1 {
		page = 1
	}

	q := url.Values{}
	q.Set("pageNumber", strconv.Itoa(page))
	q.Set("sortBy", "recent")
	return base + "/product-reviews/" + url.PathEscape(ConfigString(src, ConfigASINKey, "")) + "/?" + q.Encode()
}

func parseAmazonReviews(doc *goquery.Document, asin string) []domain.RawItem {
	var items []domain.RawItem
	doc.Find(`[data-hook="review"]`).Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}

		rev := amazonReview{
			ID:       id,
			ASIN:     asin,
			Rating:   parseAmazonRating(sel),
			Title:    amazonTitleStarsRe.ReplaceAllString(cleanText(sel.Find(`[data-hook="review-title"]`).First().Text()), ""),
			Author:   cleanText(sel.Find(".a-profile-name").First().Text()),
			DateText: cleanText(sel.Find(`[data-hook="review-date"]`).First().Text()),
			Verified: sel.Find(`[data-hook="avp-badge"]`).Length() > 0,
			Content:  cleanText(sel.Find(`[data-hook="review-body"]`).First().Text()),
			Helpful:  parseAmazonHelpful(sel.Find(`[data-hook="helpful-vote-statement"]`).First().Text()),
		}
		sel.Find("img.review-image-tile").Each(func(_ int, img *goquery.Selection) {
			if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
				rev.Images = append(rev.Images, strings.TrimSpace(src))
			}
		})
		items = append(items, rev)
	})
	return items
}

func parseAmazonRating(sel *goquery.Selection) int {
	text := sel.Find(`[data-hook="review-star-rating"] .a-icon-alt, [data-hook="cmps-review-star-rating"] .a-icon-alt`).First().Text()
	if text == "" {
		text = sel.Find(`[data-hook="review-star-rating"], [data-hook="cmps-review-star-rating"]`).First().Text()
	}
	m := amazonNumberRe.FindString(text)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0
	}
	return int(f + 0.5)
}

func parseAmazonHelpful(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	if strings.HasPrefix(strings.ToLower(text), "one person") {
		return 1
	}
	m := amazonNumberRe.FindString(text)
	n, err := strconv.Atoi(strings.NewReplacer(",", "", ".", "").Replace(m))
	if err != nil {
		return 0
	}
	return n
}

// parseAmazonTotal reads the review count from the filter summary, e.g.
// "1,234 total ratings, 321 with reviews". The "with reviews" figure wins when present.
// Layouts without the summary yield domain.TotalUnknown.
func parseAmazonTotal(doc *goquery.Document) int {
	text := cleanText(doc.Find(`[data-hook="cr-filter-info-review-rating-count"]`).First().Text())
	if text == "" {
		return domain.TotalUnknown
	}
	nums := amazonNumberRe.FindAllString(text, -1)
	if len(nums) == 0 {
		return domain.TotalUnknown
	}
	last := nums[len(nums)-1]
	n, err := strconv.Atoi(strings.NewReplacer(",", "", ".", "").Replace(last))
	if err != nil {
		return domain.TotalUnknown
	}
	return n
}

func cleanText(s string) string {
	return strings.TrimSpace(amazonWhitespaceRe.ReplaceAllString(s, " "))
}

// amazonReview is one review block scraped from a product-review page.
type amazonReview struct {
	ID       string
	ASIN     string
	Rating   int
	Title    string
	Author   string
	DateText string
	Verified bool
	Content  string
	Helpful  int
	Images   []string
}

func (r amazonReview) ItemID() any { return r.ID }

func (r amazonReview) Review(sourceName string, collectedAt time.Time) domain.Review {
	date, location := parseAmazonDateLocation(r.DateText)
	return domain.Review{
		SourceID:         r.ID,
		SourceName:       sourceName,
		ProductID:        r.ASIN,
		Author:           r.Author,
		Location:         location,
		Rating:           r.Rating,
		Title:            r.Title,
		Content:          r.Content,
		Date:             date,
		CollectedAt:      collectedAt,
		VerifiedPurchase: r.Verified,
		HelpfulCount:     r.Helpful,
		ImageURLs:        r.Images,
	}
}

// parseAmazonDateLocation splits "Reviewed in the United States on January 15, 2024".
func parseAmazonDateLocation(text string) (time.Time, string) {
	var location string
	if m := amazonLocationRe.FindStringSubmatch(text); len(m) == 2 {
		location = strings.TrimSpace(m[1])
	}

	raw := amazonDateRe.FindString(text)
	if raw == "" {
		return time.Time{}, location
	}
	for _, layout := range amazonDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, location
		}
	}
	return time.Time{}, location
}
