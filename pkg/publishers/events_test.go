package publishers

import (
	"time"

	"github.com/samvad-hq/review-harvester/internal/crawler"
)

func sampleEvent() Event {
	started := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	return NewEvent("review-harvester", crawler.RunSummary{
		StartedAt:  started,
		FinishedAt: started.Add(75 * time.Second),
		Elapsed:    75 * time.Second,
		Crawled:    70,
		Uploaded:   60,
		Duplicates: 10,
		Failed:     1,
		Sources: []crawler.SourceResult{
			{SourceID: "shopee-sg", SourceName: "Shopee SG", Status: crawler.StatusSuccess, Crawled: 70, Uploaded: 60, Duplicates: 10},
			{SourceID: "amazon-us", SourceName: "Amazon US", Status: crawler.StatusFailed, Error: "session expired"},
		},
	})
}
