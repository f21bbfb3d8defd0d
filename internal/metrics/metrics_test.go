package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/samvad-hq/review-harvester/internal/crawler"
)

func sampleSummary() crawler.RunSummary {
	started := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return crawler.RunSummary{
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Elapsed:    90 * time.Second,
		Failed:     1,
		Sources: []crawler.SourceResult{
			{SourceID: "shopee-sg", Status: crawler.StatusSuccess, Crawled: 65, Uploaded: 60, Duplicates: 5},
			{SourceID: "amazon-us", Status: crawler.StatusFailed, SkippedPages: 2},
		},
	}
}

func TestObserveRunSetsGauges(t *testing.T) {
	rec := NewRecorder()
	rec.ObserveRun(sampleSummary())

	if got := testutil.ToFloat64(rec.reviews.WithLabelValues("shopee-sg", "uploaded")); got != 60 {
		t.Fatalf("uploaded gauge = %v", got)
	}
	if got := testutil.ToFloat64(rec.reviews.WithLabelValues("shopee-sg", "duplicate")); got != 5 {
		t.Fatalf("duplicate gauge = %v", got)
	}
	if got := testutil.ToFloat64(rec.sourceFailed.WithLabelValues("amazon-us")); got != 1 {
		t.Fatalf("failed gauge = %v", got)
	}
	if got := testutil.ToFloat64(rec.skippedPages.WithLabelValues("amazon-us")); got != 2 {
		t.Fatalf("skipped gauge = %v", got)
	}
	if got := testutil.ToFloat64(rec.runStatus.WithLabelValues(crawler.StatusPartial)); got != 1 {
		t.Fatalf("partial status gauge = %v", got)
	}
	if got := testutil.ToFloat64(rec.runDuration); got != 90 {
		t.Fatalf("duration gauge = %v", got)
	}
}

func TestObserveRunDropsSourcesFromEarlierRuns(t *testing.T) {
	rec := NewRecorder()
	rec.ObserveRun(sampleSummary())
	rec.ObserveRun(crawler.RunSummary{Sources: []crawler.SourceResult{{SourceID: "trustoo-1", Status: crawler.StatusSuccess}}})

	if n := testutil.CollectAndCount(rec.sourceFailed); n != 1 {
		t.Fatalf("expected one source series, got %d", n)
	}
}

func TestPushSendsToGateway(t *testing.T) {
	var method, path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := NewRecorder()
	rec.ObserveRun(sampleSummary())
	if err := rec.Push(context.Background(), srv.URL, "review_harvester"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if method != http.MethodPut || path != "/metrics/job/review_harvester" {
		t.Fatalf("unexpected request %s %s", method, path)
	}
	if body == "" {
		t.Fatalf("expected a metrics payload")
	}
}

func TestPushDisabledWithoutURL(t *testing.T) {
	if err := NewRecorder().Push(context.Background(), " ", "job"); err != nil {
		t.Fatalf("empty url should disable push, got %v", err)
	}
}

func TestPushReportsGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewRecorder().Push(context.Background(), srv.URL, "job"); err == nil {
		t.Fatalf("expected push error")
	}
}
