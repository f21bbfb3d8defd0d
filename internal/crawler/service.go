package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/review-harvester/internal/dedup"
	"github.com/samvad-hq/review-harvester/internal/domain"
	"github.com/samvad-hq/review-harvester/internal/logger"
	"github.com/samvad-hq/review-harvester/internal/uploader"
	"github.com/samvad-hq/review-harvester/pkg/sources"
)

// Per-source states.
const (
	StatePending    = "PENDING"
	StatePaginating = "PAGINATING"
	StateFormatting = "FORMATTING"
	StateUploading  = "UPLOADING"
	StateDone       = "DONE"
	StateFailed     = "FAILED"
)

// Per-source outcome reported in the run summary.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Locker guards a destination against overlapping runs.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func() error, err error)
}

// Options configures the orchestrator.
type Options struct {
	Paginator PaginatorOptions
	// Locker and LockKey enable the single-run lock; LockKey is usually the spreadsheet id.
	Locker  Locker
	LockKey string
	Clock   func() time.Time
	Log     logger.Logger
}

// SourceResult is the outcome of one source.
type SourceResult struct {
	SourceID     string        `json:"source_id"`
	SourceName   string        `json:"source_name"`
	Sheet        string        `json:"sheet"`
	State        string        `json:"state"`
	Status       string        `json:"status"`
	Crawled      int           `json:"crawled"`
	Uploaded     int           `json:"uploaded"`
	Duplicates   int           `json:"duplicates"`
	Filtered     int           `json:"filtered"`
	SkippedPages int           `json:"skipped_pages"`
	Total        int           `json:"total"`
	StopReason   string        `json:"stop_reason,omitempty"`
	Error        string        `json:"error,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`

	err error
}

// Err returns the error that failed the source, if any.
func (r SourceResult) Err() error { return r.err }

// RunSummary aggregates every source of one run.
type RunSummary struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Elapsed    time.Duration  `json:"elapsed"`
	Crawled    int            `json:"crawled"`
	Uploaded   int            `json:"uploaded"`
	Duplicates int            `json:"duplicates"`
	Filtered   int            `json:"filtered"`
	Skipped    int            `json:"skipped_pages"`
	Failed     int            `json:"failed_sources"`
	Sources    []SourceResult `json:"sources"`
}

// Status is failed when every source failed, partial when some failed or skipped pages,
// success otherwise.
func (s RunSummary) Status() string {
	if len(s.Sources) == 0 {
		return StatusSuccess
	}
	if s.Failed == len(s.Sources) {
		return StatusFailed
	}
	if s.Failed > 0 || s.Skipped > 0 {
		return StatusPartial
	}
	return StatusSuccess
}

// Service coordinates crawling and uploading across configured sources.
type Service struct {
	paginator *Paginator
	uploader  Uploader
	opts      Options
	log       logger.Logger
}

// NewService wires a crawler with a page fetcher and an uploader.
func NewService(fetcher PageFetcher, up Uploader, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log := logger.Ensure(opts.Log)
	if opts.Paginator.Log == nil {
		opts.Paginator.Log = log
	}
	return &Service{
		paginator: NewPaginator(fetcher, opts.Paginator),
		uploader:  up,
		opts:      opts,
		log:       log,
	}
}

// Run executes one pass over srcs in order. A failing source never stops the others; the
// returned error joins every source failure. The summary is always populated.
func (s *Service) Run(ctx context.Context, srcs []sources.Source) (RunSummary, error) {
	if s == nil || s.paginator == nil || s.uploader == nil {
		return RunSummary{}, fmt.Errorf("crawler service is not initialized")
	}
	summary := RunSummary{StartedAt: s.opts.Clock()}
	if len(srcs) == 0 {
		return summary, fmt.Errorf("no sources configured for crawling")
	}

	if s.opts.Locker != nil {
		release, err := s.opts.Locker.Acquire(ctx, s.opts.LockKey)
		if err != nil {
			return summary, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if err := release(); err != nil {
				s.log.WarnObj("release run lock failed", "lock_error", map[string]any{
					"key":   s.opts.LockKey,
					"error": err.Error(),
				})
			}
		}()
	}

	sheets := make(map[string]*sheetState)
	errs := make([]error, 0, len(srcs))

	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res := s.runSource(ctx, src, sheets)
		summary.add(res)
		if res.err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, res.err))
			s.log.ErrorObj("source crawl failed", "source_error", map[string]any{
				"source_id": src.ID,
				"state":     res.State,
				"error":     res.err.Error(),
			})
		}
	}

	summary.FinishedAt = s.opts.Clock()
	summary.Elapsed = summary.FinishedAt.Sub(summary.StartedAt)
	s.log.InfoObj("crawl run completed", "run_summary", map[string]any{
		"status":     summary.Status(),
		"sources":    len(summary.Sources),
		"crawled":    summary.Crawled,
		"uploaded":   summary.Uploaded,
		"duplicates": summary.Duplicates,
		"failed":     summary.Failed,
		"elapsed":    summary.Elapsed.String(),
	})

	if len(errs) > 0 {
		return summary, errors.Join(errs...)
	}
	return summary, nil
}

func (s *RunSummary) add(r SourceResult) {
	s.Sources = append(s.Sources, r)
	s.Crawled += r.Crawled
	s.Uploaded += r.Uploaded
	s.Duplicates += r.Duplicates
	s.Filtered += r.Filtered
	s.Skipped += r.SkippedPages
	if r.Status == StatusFailed {
		s.Failed++
	}
}

// sheetState is what one run knows about a destination sheet shared by several sources.
type sheetState struct {
	set *dedup.Set
	// rows counts identifiers actually present: loaded ones plus rows appended this run.
	rows int
}

// runSource drives one source through PENDING → PAGINATING → FORMATTING → UPLOADING → DONE.
func (s *Service) runSource(ctx context.Context, src sources.Source, sheets map[string]*sheetState) SourceResult {
	started := s.opts.Clock()
	res := SourceResult{
		SourceID:   src.ID,
		SourceName: src.Name,
		Sheet:      src.SheetName,
		State:      StatePending,
	}
	fail := func(err error) SourceResult {
		res.State = StateFailed
		res.Status = StatusFailed
		res.Error = err.Error()
		res.err = err
		res.Elapsed = s.opts.Clock().Sub(started)
		return res
	}

	schema, err := uploader.SchemaFor(src.Schema)
	if err != nil {
		return fail(err)
	}
	target := uploader.Target{Sheet: src.SheetName, Schema: schema}

	state, ok := sheets[target.Sheet]
	if !ok {
		existing, err := s.uploader.ExistingIDs(ctx, target)
		if err != nil {
			return fail(fmt.Errorf("read existing ids: %w", err))
		}
		set := dedup.New()
		set.Initialize(existing)
		state = &sheetState{set: set, rows: set.Existing()}
		sheets[target.Sheet] = state
	}
	set := state.set

	res.State = StatePaginating
	items, stats, err := s.collect(ctx, src, set)
	res.SkippedPages = stats.PagesSkipped
	res.StopReason = stats.StopReason
	res.Crawled = len(items)
	if err != nil {
		return fail(err)
	}

	res.State = StateFormatting
	collectedAt := s.opts.Clock()
	reviews, ids, duplicates, filtered := s.format(src, items, set, collectedAt)
	res.Duplicates = duplicates
	res.Filtered = filtered

	res.State = StateUploading
	up, err := s.uploader.Upload(ctx, target, reviews, duplicates, state.rows)
	res.Uploaded = up.Uploaded
	res.Total = up.Total
	state.rows += up.Uploaded
	if err != nil {
		// chunks commit in order, so everything past Uploaded never reached the sheet
		if up.Uploaded < len(ids) {
			set.Forget(ids[up.Uploaded:]...)
		}
		return fail(fmt.Errorf("upload: %w", err))
	}

	res.State = StateDone
	res.Status = StatusSuccess
	if res.SkippedPages > 0 {
		res.Status = StatusPartial
	}
	res.Elapsed = s.opts.Clock().Sub(started)

	s.log.InfoObj("source crawl completed", "source_result", map[string]any{
		"source_id":     src.ID,
		"sheet":         target.Sheet,
		"crawled":       res.Crawled,
		"uploaded":      res.Uploaded,
		"duplicates":    res.Duplicates,
		"filtered":      res.Filtered,
		"skipped_pages": res.SkippedPages,
		"stop_reason":   res.StopReason,
	})
	return res
}

// collect drains the paginator. On an unrecoverable error the pages gathered so far are
// dropped; they are picked up again on the next run.
func (s *Service) collect(ctx context.Context, src sources.Source, seen SeenChecker) ([]domain.RawItem, Stats, error) {
	it := s.paginator.Pages(src, seen)
	var items []domain.RawItem
	for it.Next(ctx) {
		items = append(items, it.Page().Items...)
	}
	return items, it.Stats(), it.Err()
}

// format maps raw items to reviews, drops ones older than the source lookback window and
// keeps only identifiers the set has not seen. ids[i] is the identifier of reviews[i].
func (s *Service) format(src sources.Source, items []domain.RawItem, set *dedup.Set, collectedAt time.Time) ([]domain.Review, []any, int, int) {
	var cutoff time.Time
	if lb := src.Lookback(); lb > 0 {
		cutoff = collectedAt.Add(-lb)
	}

	reviews := make([]domain.Review, 0, len(items))
	ids := make([]any, 0, len(items))
	duplicates, filtered := 0, 0
	for _, item := range items {
		if item == nil {
			continue
		}
		rev := item.Review(src.Name, collectedAt)
		if !cutoff.IsZero() && !rev.Date.IsZero() && rev.Date.Before(cutoff) {
			filtered++
			continue
		}
		if !set.Accept(item.ItemID()) {
			duplicates++
			continue
		}
		reviews = append(reviews, rev)
		ids = append(ids, item.ItemID())
	}
	return reviews, ids, duplicates, filtered
}
