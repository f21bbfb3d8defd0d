package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/samvad-hq/review-harvester/internal/crawler"
)

const namespace = "review_harvester"

// Recorder holds the gauges describing the last run. A harvester pass is a batch job, so
// values are pushed to a Pushgateway rather than scraped.
type Recorder struct {
	reg *prometheus.Registry

	reviews      *prometheus.GaugeVec
	skippedPages *prometheus.GaugeVec
	sourceFailed *prometheus.GaugeVec
	runDuration  prometheus.Gauge
	runFinished  prometheus.Gauge
	runStatus    *prometheus.GaugeVec
}

// NewRecorder builds a Recorder on its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		reviews: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "source_reviews", Help: "Reviews per source in the last run by outcome."},
			[]string{"source", "outcome"}, // outcome: crawled|uploaded|duplicate|filtered
		),
		skippedPages: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "source_skipped_pages", Help: "Pages skipped after retries in the last run."},
			[]string{"source"},
		),
		sourceFailed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "source_failed", Help: "1 when the source failed in the last run."},
			[]string{"source"},
		),
		runDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "run_duration_seconds", Help: "Wall time of the last run."},
		),
		runFinished: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "run_last_finished_timestamp_seconds", Help: "Unix time the last run finished."},
		),
		runStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "run_status", Help: "1 for the status of the last run."},
			[]string{"status"},
		),
	}
	r.reg.MustRegister(r.reviews, r.skippedPages, r.sourceFailed, r.runDuration, r.runFinished, r.runStatus)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ObserveRun replaces the gauges with the values of summary.
func (r *Recorder) ObserveRun(summary crawler.RunSummary) {
	r.reviews.Reset()
	r.skippedPages.Reset()
	r.sourceFailed.Reset()
	r.runStatus.Reset()

	for _, src := range summary.Sources {
		r.reviews.WithLabelValues(src.SourceID, "crawled").Set(float64(src.Crawled))
		r.reviews.WithLabelValues(src.SourceID, "uploaded").Set(float64(src.Uploaded))
		r.reviews.WithLabelValues(src.SourceID, "duplicate").Set(float64(src.Duplicates))
		r.reviews.WithLabelValues(src.SourceID, "filtered").Set(float64(src.Filtered))
		r.skippedPages.WithLabelValues(src.SourceID).Set(float64(src.SkippedPages))
		failed := 0.0
		if src.Status == crawler.StatusFailed {
			failed = 1
		}
		r.sourceFailed.WithLabelValues(src.SourceID).Set(failed)
	}

	for _, status := range []string{crawler.StatusSuccess, crawler.StatusPartial, crawler.StatusFailed} {
		value := 0.0
		if status == summary.Status() {
			value = 1
		}
		r.runStatus.WithLabelValues(status).Set(value)
	}
	r.runDuration.Set(summary.Elapsed.Seconds())
	if !summary.FinishedAt.IsZero() {
		r.runFinished.Set(float64(summary.FinishedAt.Unix()))
	}
}

// Push sends the registry to the Pushgateway at url under job. An empty url disables it.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
