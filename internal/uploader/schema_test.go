package uploader

import (
	"testing"
	"time"

	"github.com/samvad-hq/review-harvester/internal/domain"
)

func TestMarketplaceFormatRow(t *testing.T) {
	r := domain.Review{
		SourceID:       "9876543210123",
		ProductID:      "555",
		Rating:         4,
		Content:        "great",
		Date:           time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
		CollectedAt:    time.Date(2025, 3, 4, 8, 30, 15, 0, time.UTC),
		ImageURLs:      []string{"https://img/1", " ", "https://img/2"},
		DetailedRating: domain.DetailedRating{Product: 5, Seller: 4, Delivery: 3},
	}
	row := marketplaceSchema.FormatRow(r)

	if len(row) != len(marketplaceSchema.Columns) {
		t.Fatalf("row width %d, want %d", len(row), len(marketplaceSchema.Columns))
	}
	if id, ok := row[0].(string); !ok || id != "9876543210123" {
		t.Fatalf("id must be rendered as string, got %#v", row[0])
	}
	if row[1] != "2025-03-04 08:30:15" || row[9] != "2025-03-02" {
		t.Fatalf("unexpected timestamps %v / %v", row[1], row[9])
	}
	if row[13] != "https://img/1;https://img/2" {
		t.Fatalf("unexpected image cell %q", row[13])
	}
	if row[14] != "" {
		t.Fatalf("empty list should render empty, got %q", row[14])
	}
	if row[16] != 5 || row[17] != 4 || row[18] != 3 {
		t.Fatalf("unexpected detailed ratings %v", row[16:])
	}
}

func TestAmazonSchemaIDColumn(t *testing.T) {
	if amazonSchema.IDIndex() != 1 {
		t.Fatalf("amazon id column should be second, got %d", amazonSchema.IDIndex())
	}
	row := amazonSchema.FormatRow(domain.Review{SourceID: "R1", VerifiedPurchase: true})
	if row[1] != "R1" || row[7] != "Yes" || row[5] != "" {
		t.Fatalf("unexpected amazon row %v", row)
	}
}

func TestSchemaFor(t *testing.T) {
	s, err := SchemaFor("")
	if err != nil || s.Name != SchemaMarketplace {
		t.Fatalf("empty name should resolve to marketplace, got %q err=%v", s.Name, err)
	}
	if _, err := SchemaFor("csv"); err == nil {
		t.Fatalf("expected error for unknown schema")
	}
}
