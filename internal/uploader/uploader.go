// Package uploader writes deduplicated reviews to the destination sheet in ordered,
// retried batches.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/samvad-hq/review-harvester/internal/domain"
	"github.com/samvad-hq/review-harvester/internal/logger"
)

const (
	HeaderPolicyStrict = "strict"
	HeaderPolicyWarn   = "warn"

	defaultBatchSize  = 1000
	defaultMaxRetries = 3
)

var (
	// ErrSchemaDrift means the destination header does not match the expected columns.
	ErrSchemaDrift = errors.New("destination header does not match schema")
	// ErrPermanent marks destination failures that retrying cannot fix.
	ErrPermanent = errors.New("permanent destination failure")
)

// Destination is the sheet-like store rows are appended to.
type Destination interface {
	EnsureSheet(ctx context.Context, sheet string) error
	ReadHeader(ctx context.Context, sheet string) ([]string, error)
	WriteHeader(ctx context.Context, sheet string, header []string) error
	// ReadColumn returns the values below the header of the zero-based column index.
	ReadColumn(ctx context.Context, sheet string, index int) ([]string, error)
	AppendRows(ctx context.Context, sheet string, rows [][]any) error
}

// Target names the sheet and row layout one source writes to.
type Target struct {
	Sheet  string
	Schema Schema
}

// Result summarises one upload.
type Result struct {
	Uploaded   int `json:"uploaded"`
	Duplicates int `json:"duplicates"`
	Total      int `json:"total"`
}

// DestinationWriteError reports the chunk that exhausted its retries. Chunks before it are
// already committed.
type DestinationWriteError struct {
	Sheet    string
	Chunk    int
	Chunks   int
	Appended int
	Err      error
}

func (e *DestinationWriteError) Error() string {
	return fmt.Sprintf("append chunk %d/%d to %s (%d rows committed): %v", e.Chunk, e.Chunks, e.Sheet, e.Appended, e.Err)
}

func (e *DestinationWriteError) Unwrap() error { return e.Err }

// Options tunes batching, retries, and write pacing.
type Options struct {
	BatchSize    int
	MaxRetries   int
	HeaderPolicy string
	// Limiter paces write calls; nil disables pacing.
	Limiter *rate.Limiter
	// Backoff returns the wait before retry attempt n (n starts at 0).
	Backoff func(attempt int) time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error
	Log     logger.Logger
}

// Uploader persists reviews to a Destination.
type Uploader struct {
	dest Destination
	opts Options
}

// New builds an uploader with defaults for unset options.
func New(dest Destination, opts Options) *Uploader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	opts.HeaderPolicy = strings.ToLower(strings.TrimSpace(opts.HeaderPolicy))
	if opts.HeaderPolicy == "" {
		opts.HeaderPolicy = HeaderPolicyStrict
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	opts.Log = logger.Ensure(opts.Log)
	return &Uploader{dest: dest, opts: opts}
}

// NewWriteLimiter paces writes to at most perMinute calls per minute.
func NewWriteLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// ExponentialBackoff waits 2^attempt seconds.
func ExponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(1<<attempt) * time.Second
}

// ExistingIDs reads every identifier already persisted in the target sheet.
func (u *Uploader) ExistingIDs(ctx context.Context, target Target) ([]string, error) {
	if err := u.dest.EnsureSheet(ctx, target.Sheet); err != nil {
		return nil, fmt.Errorf("ensure sheet %s: %w", target.Sheet, err)
	}
	header, err := u.dest.ReadHeader(ctx, target.Sheet)
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", target.Sheet, err)
	}
	if isEmptyHeader(header) {
		return nil, nil
	}

	idx := indexOf(header, target.Schema.IDHeader)
	if idx < 0 {
		if u.opts.HeaderPolicy == HeaderPolicyStrict {
			return nil, fmt.Errorf("%w: sheet %s has no %q column", ErrSchemaDrift, target.Sheet, target.Schema.IDHeader)
		}
		idx = target.Schema.IDIndex()
		u.opts.Log.WarnObj("id column missing from header; using schema position", "schema_drift", map[string]any{
			"sheet":     target.Sheet,
			"id_header": target.Schema.IDHeader,
			"index":     idx,
		})
	}

	values, err := u.dest.ReadColumn(ctx, target.Sheet, idx)
	if err != nil {
		return nil, fmt.Errorf("read id column of %s: %w", target.Sheet, err)
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			ids = append(ids, v)
		}
	}
	u.opts.Log.InfoObj("existing review ids loaded", "destination_state", map[string]any{
		"sheet": target.Sheet,
		"ids":   len(ids),
	})
	return ids, nil
}

// EnsureSchema writes the header row when the sheet has none. An existing header is never
// rewritten; a mismatch fails under the strict policy and is only logged under warn.
func (u *Uploader) EnsureSchema(ctx context.Context, target Target) error {
	want := target.Schema.Headers()
	header, err := u.dest.ReadHeader(ctx, target.Sheet)
	if err != nil {
		return fmt.Errorf("read header of %s: %w", target.Sheet, err)
	}

	if isEmptyHeader(header) {
		if err := u.wait(ctx); err != nil {
			return err
		}
		if err := u.dest.WriteHeader(ctx, target.Sheet, want); err != nil {
			return fmt.Errorf("write header of %s: %w", target.Sheet, err)
		}
		u.opts.Log.InfoObj("header row created", "schema", map[string]any{
			"sheet":   target.Sheet,
			"columns": len(want),
		})
		return nil
	}

	if headersMatch(header, want) {
		return nil
	}
	if u.opts.HeaderPolicy == HeaderPolicyStrict {
		return fmt.Errorf("%w: sheet %s has %v, want %v", ErrSchemaDrift, target.Sheet, header, want)
	}
	u.opts.Log.WarnObj("destination header differs from schema", "schema_drift", map[string]any{
		"sheet":    target.Sheet,
		"existing": header,
		"expected": want,
	})
	return nil
}

// Upload formats reviews and appends them after making sure the header exists.
// duplicates and existing only feed the returned Result.
func (u *Uploader) Upload(ctx context.Context, target Target, reviews []domain.Review, duplicates, existing int) (Result, error) {
	res := Result{Duplicates: duplicates, Total: existing}
	if len(reviews) == 0 {
		u.opts.Log.InfoObj("no new reviews to upload", "upload_meta", map[string]any{
			"sheet":      target.Sheet,
			"duplicates": duplicates,
		})
		return res, nil
	}

	if err := u.EnsureSchema(ctx, target); err != nil {
		return res, err
	}

	rows := make([][]any, len(reviews))
	for i, r := range reviews {
		rows[i] = target.Schema.FormatRow(r)
	}

	appended, err := u.AppendBatches(ctx, target.Sheet, rows)
	res.Uploaded = appended
	res.Total = existing + appended
	return res, err
}

// AppendBatches appends rows in consecutive chunks of at most BatchSize, strictly in order.
// A chunk is retried as a whole; when it runs out of attempts the call fails and earlier
// chunks stay committed.
func (u *Uploader) AppendBatches(ctx context.Context, sheet string, rows [][]any) (int, error) {
	size := u.opts.BatchSize
	chunks := (len(rows) + size - 1) / size
	appended := 0

	for i := 0; i < chunks; i++ {
		start := i * size
		end := min(start+size, len(rows))
		chunk := rows[start:end]

		if err := u.appendChunk(ctx, sheet, chunk, i+1, chunks); err != nil {
			return appended, &DestinationWriteError{
				Sheet:    sheet,
				Chunk:    i + 1,
				Chunks:   chunks,
				Appended: appended,
				Err:      err,
			}
		}
		appended += len(chunk)
		u.opts.Log.InfoObj("chunk appended", "upload_progress", map[string]any{
			"sheet": sheet,
			"chunk": i + 1,
			"of":    chunks,
			"rows":  fmt.Sprintf("%d-%d/%d", start+1, end, len(rows)),
		})
	}
	return appended, nil
}

func (u *Uploader) appendChunk(ctx context.Context, sheet string, chunk [][]any, n, of int) error {
	var lastErr error
	for attempt := 0; attempt < u.opts.MaxRetries; attempt++ {
		if err := u.wait(ctx); err != nil {
			return err
		}
		err := u.dest.AppendRows(ctx, sheet, chunk)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrPermanent) {
			return err
		}

		u.opts.Log.WarnObj("chunk append failed", "upload_error", map[string]any{
			"sheet":    sheet,
			"chunk":    n,
			"of":       of,
			"attempt":  attempt + 1,
			"attempts": u.opts.MaxRetries,
			"error":    err.Error(),
		})
		if attempt < u.opts.MaxRetries-1 {
			if err := u.opts.Sleep(ctx, u.opts.Backoff(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func (u *Uploader) wait(ctx context.Context) error {
	if u.opts.Limiter == nil {
		return nil
	}
	return u.opts.Limiter.Wait(ctx)
}

func isEmptyHeader(header []string) bool {
	for _, h := range header {
		if strings.TrimSpace(h) != "" {
			return false
		}
	}
	return true
}

func headersMatch(got, want []string) bool {
	// sheets drop trailing empty cells, so ignore them
	for len(got) > 0 && strings.TrimSpace(got[len(got)-1]) == "" {
		got = got[:len(got)-1]
	}
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != want[i] {
			return false
		}
	}
	return true
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
