package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/samvad-hq/review-harvester/internal/crawler"
)

func TestRenderSummaryListsSourcesAndTotals(t *testing.T) {
	summary := crawler.RunSummary{
		StartedAt: time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC),
		Elapsed:   42 * time.Second,
		Crawled:   85,
		Uploaded:  80,
		Failed:    1,
		Sources: []crawler.SourceResult{
			{SourceID: "shopee-sg", Sheet: "Shopee", Status: crawler.StatusSuccess, Crawled: 85, Uploaded: 80, Duplicates: 5},
			{SourceID: "amazon-us", Sheet: "Amazon", Status: crawler.StatusFailed, Error: "authentication required"},
		},
	}

	var buf bytes.Buffer
	rendered := RenderSummary(&buf, summary)

	if buf.String() == "" || !strings.Contains(buf.String(), rendered) {
		t.Fatalf("table must be mirrored to the writer")
	}
	for _, want := range []string{"shopee-sg", "amazon-us", "authentication required", "80", "failed"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("rendered summary missing %q:\n%s", want, rendered)
		}
	}
}
