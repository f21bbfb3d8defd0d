package publishers

import (
	"time"

	"github.com/samvad-hq/review-harvester/internal/crawler"
)

// EventKindRunReport tags the report sent after every run.
const EventKindRunReport = "run_report"

// SourceReport is the per-source part of a run report.
type SourceReport struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Sheet        string `json:"sheet"`
	Status       string `json:"status"`
	Crawled      int    `json:"crawled"`
	Uploaded     int    `json:"uploaded"`
	Duplicates   int    `json:"duplicates"`
	Filtered     int    `json:"filtered"`
	SkippedPages int    `json:"skipped_pages"`
	Error        string `json:"error,omitempty"`
}

// Event represents the payload published downstream.
type Event struct {
	Kind           string         `json:"kind"`
	App            string         `json:"app"`
	Status         string         `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Crawled        int            `json:"crawled"`
	Uploaded       int            `json:"uploaded"`
	Duplicates     int            `json:"duplicates"`
	Filtered       int            `json:"filtered"`
	SkippedPages   int            `json:"skipped_pages"`
	FailedSources  int            `json:"failed_sources"`
	Sources        []SourceReport `json:"sources"`
	PublishedAt    time.Time      `json:"published_at"`
}

// NewEvent constructs the run report for summary.
func NewEvent(app string, summary crawler.RunSummary) Event {
	evt := Event{
		Kind:           EventKindRunReport,
		App:            app,
		Status:         summary.Status(),
		StartedAt:      summary.StartedAt,
		FinishedAt:     summary.FinishedAt,
		ElapsedSeconds: summary.Elapsed.Seconds(),
		Crawled:        summary.Crawled,
		Uploaded:       summary.Uploaded,
		Duplicates:     summary.Duplicates,
		Filtered:       summary.Filtered,
		SkippedPages:   summary.Skipped,
		FailedSources:  summary.Failed,
		Sources:        make([]SourceReport, 0, len(summary.Sources)),
		PublishedAt:    time.Now().UTC(),
	}
	for _, src := range summary.Sources {
		evt.Sources = append(evt.Sources, SourceReport{
			ID:           src.SourceID,
			Name:         src.SourceName,
			Sheet:        src.Sheet,
			Status:       src.Status,
			Crawled:      src.Crawled,
			Uploaded:     src.Uploaded,
			Duplicates:   src.Duplicates,
			Filtered:     src.Filtered,
			SkippedPages: src.SkippedPages,
			Error:        src.Error,
		})
	}
	return evt
}

// count returns how many sources ended with status.
func (e Event) count(status string) int {
	n := 0
	for _, src := range e.Sources {
		if src.Status == status {
			n++
		}
	}
	return n
}
