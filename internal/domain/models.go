package domain

import "time"

// Domain contains core models and interfaces.

// Review is one collected review in canonical form.
type Review struct {
	SourceID   string
	SourceName string

	ProductName      string
	ProductID        string
	Author           string
	AuthorCountry    string
	Location         string
	Rating           int
	Title            string
	Content          string
	Date             time.Time
	CollectedAt      time.Time
	VerifiedPurchase bool
	ItemType         string
	ReplyContent     string
	ImageURLs        []string
	VideoURLs        []string
	LikesCount       int
	HelpfulCount     int
	DetailedRating   DetailedRating
}

// DetailedRating holds the per-aspect stars some marketplaces attach to a review.
type DetailedRating struct {
	Product  int
	Seller   int
	Delivery int
}

// RawItem is a source-native review as returned by a fetcher. Each source type has its own
// concrete shape and maps itself onto Review.
type RawItem interface {
	ItemID() any
	Review(sourceName string, collectedAt time.Time) Review
}
