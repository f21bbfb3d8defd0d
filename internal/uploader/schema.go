package uploader

import (
	"fmt"
	"strings"
	"time"

	"github.com/samvad-hq/review-harvester/internal/domain"
)

// ListSeparator joins array-valued fields into one cell.
const ListSeparator = ";"

const (
	SchemaMarketplace = "marketplace"
	SchemaAmazon      = "amazon"

	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

// Column maps one destination column to a review attribute.
type Column struct {
	Header string
	Value  func(r domain.Review) any
}

// Schema is the fixed, ordered column layout for one source type. Reordering columns is a
// breaking change for sheets that already hold rows.
type Schema struct {
	Name     string
	IDHeader string
	Columns  []Column
}

// Headers returns the header row in column order.
func (s Schema) Headers() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Header
	}
	return out
}

// IDIndex is the zero-based position of the identifier column, or -1.
func (s Schema) IDIndex() int {
	for i, c := range s.Columns {
		if c.Header == s.IDHeader {
			return i
		}
	}
	return -1
}

// FormatRow renders r as a fixed-width row of scalar values in column order.
func (s Schema) FormatRow(r domain.Review) []any {
	row := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		v := c.Value(r)
		if v == nil {
			v = ""
		}
		row[i] = v
	}
	return row
}

// SchemaFor resolves a schema by name; empty means marketplace.
func SchemaFor(name string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SchemaMarketplace:
		return marketplaceSchema, nil
	case SchemaAmazon:
		return amazonSchema, nil
	default:
		return Schema{}, fmt.Errorf("unknown row schema %q", name)
	}
}

var marketplaceSchema = Schema{
	Name:     SchemaMarketplace,
	IDHeader: "review_id",
	Columns: []Column{
		{Header: "review_id", Value: func(r domain.Review) any { return r.SourceID }},
		{Header: "collected_at", Value: func(r domain.Review) any { return formatTime(r.CollectedAt, timestampLayout) }},
		{Header: "product_name", Value: func(r domain.Review) any { return r.ProductName }},
		{Header: "product_id", Value: func(r domain.Review) any { return r.ProductID }},
		{Header: "author", Value: func(r domain.Review) any { return r.Author }},
		{Header: "author_country", Value: func(r domain.Review) any { return r.AuthorCountry }},
		{Header: "star", Value: func(r domain.Review) any { return r.Rating }},
		{Header: "title", Value: func(r domain.Review) any { return r.Title }},
		{Header: "content", Value: func(r domain.Review) any { return r.Content }},
		{Header: "date", Value: func(r domain.Review) any { return formatTime(r.Date, dateLayout) }},
		{Header: "verified_purchase", Value: func(r domain.Review) any { return r.VerifiedPurchase }},
		{Header: "item_type", Value: func(r domain.Review) any { return r.ItemType }},
		{Header: "reply_content", Value: func(r domain.Review) any { return r.ReplyContent }},
		{Header: "image_urls", Value: func(r domain.Review) any { return joinList(r.ImageURLs) }},
		{Header: "video_urls", Value: func(r domain.Review) any { return joinList(r.VideoURLs) }},
		{Header: "likes_count", Value: func(r domain.Review) any { return r.LikesCount }},
		{Header: "detailed_rating_product", Value: func(r domain.Review) any { return r.DetailedRating.Product }},
		{Header: "detailed_rating_seller", Value: func(r domain.Review) any { return r.DetailedRating.Seller }},
		{Header: "detailed_rating_delivery", Value: func(r domain.Review) any { return r.DetailedRating.Delivery }},
	},
}

var amazonSchema = Schema{
	Name:     SchemaAmazon,
	IDHeader: "Review ID",
	Columns: []Column{
		{Header: "ASIN", Value: func(r domain.Review) any { return r.ProductID }},
		{Header: "Review ID", Value: func(r domain.Review) any { return r.SourceID }},
		{Header: "Rating", Value: func(r domain.Review) any { return r.Rating }},
		{Header: "Title", Value: func(r domain.Review) any { return r.Title }},
		{Header: "Author", Value: func(r domain.Review) any { return r.Author }},
		{Header: "Date", Value: func(r domain.Review) any { return formatTime(r.Date, dateLayout) }},
		{Header: "Location", Value: func(r domain.Review) any { return r.Location }},
		{Header: "Verified Purchase", Value: func(r domain.Review) any { return yesNo(r.VerifiedPurchase) }},
		{Header: "Content", Value: func(r domain.Review) any { return r.Content }},
		{Header: "Helpful Count", Value: func(r domain.Review) any { return r.HelpfulCount }},
		{Header: "Image URLs", Value: func(r domain.Review) any { return joinList(r.ImageURLs) }},
		{Header: "Scraped At", Value: func(r domain.Review) any { return formatTime(r.CollectedAt, timestampLayout) }},
	},
}

func joinList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, ListSeparator)
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(layout)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
