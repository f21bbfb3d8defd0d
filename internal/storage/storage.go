package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Package storage provides the local run lock and run history.

// ErrLocked means another run holds the lock for the same destination.
var ErrLocked = errors.New("another run holds the lock")

// RunRecord is one finished run as kept in the history.
type RunRecord struct {
	Key        string    `json:"key"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Uploaded   int       `json:"uploaded"`
	Failed     int       `json:"failed_sources"`
	// Summary is the full run summary as JSON.
	Summary []byte `json:"summary,omitempty"`
}

// Store guards against overlapping runs and remembers finished ones.
type Store interface {
	Close() error
	// Acquire takes the single-run lock for key; release must be called when the run ends.
	Acquire(ctx context.Context, key string) (release func() error, err error)
	RecordRun(rec RunRecord) error
	// RecentRuns returns up to limit unexpired records, newest first.
	RecentRuns(limit int) ([]RunRecord, error)
}

// Options controls locking and retention for concrete store implementations.
type Options struct {
	// LockTimeout bounds the wait for the database file lock held by another process.
	LockTimeout     time.Duration
	HistoryTTL      time.Duration
	CleanupInterval time.Duration
	Clock           func() time.Time
}

const (
	defaultLockTimeout     = 5 * time.Second
	defaultHistoryTTL      = 30 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = defaultHistoryTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return opts
}

type noopStore struct{}

func (noopStore) Close() error { return nil }
func (noopStore) Acquire(context.Context, string) (func() error, error) {
	return func() error { return nil }, nil
}
func (noopStore) RecordRun(RunRecord) error           { return nil }
func (noopStore) RecentRuns(int) ([]RunRecord, error) { return nil, nil }
