package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

const (
	lockBucket       = "locks"
	runBucket        = "runs"
	expiryValueBytes = 8
)

// lockRecord marks a destination as being written by a live run.
type lockRecord struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// boltStore implements a Store backed by BoltDB. The database file lock keeps other
// processes out for as long as the store is open; lock records cover runs inside it.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	historyTTL      time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	pid             int
	host            string
}

// openBolt initializes a BoltDB-backed Store. A database held open by another process
// yields ErrLocked once LockTimeout passes.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.LockTimeout})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s is held open by another process", ErrLocked, path)
		}
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{lockBucket, runBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	host, _ := os.Hostname()
	store := &boltStore{
		db:              db,
		historyTTL:      opts.HistoryTTL,
		cleanupInterval: opts.CleanupInterval,
		now:             opts.Clock,
		pid:             os.Getpid(),
		host:            host,
	}
	store.lastCleanup.Store(opts.Clock().Unix())
	return store, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Acquire writes the lock record for key. A record left by this process means a run is
// still active; one left by any other process is stale, because that process no longer
// holds the database file lock, and is taken over.
func (b *boltStore) Acquire(ctx context.Context, key string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := []byte(key)

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(lockBucket))
		if bucket == nil {
			return fmt.Errorf("lock bucket missing")
		}

		if raw := bucket.Get(k); raw != nil {
			var held lockRecord
			if err := json.Unmarshal(raw, &held); err == nil && held.PID == b.pid && held.Host == b.host {
				return fmt.Errorf("%w: %q since %s", ErrLocked, key, held.AcquiredAt.Format(time.RFC3339))
			}
		}

		rec, err := json.Marshal(lockRecord{PID: b.pid, Host: b.host, AcquiredAt: b.now()})
		if err != nil {
			return err
		}
		return bucket.Put(k, rec)
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() error {
		var rerr error
		once.Do(func() {
			rerr = b.db.Update(func(tx *bolt.Tx) error {
				bucket := tx.Bucket([]byte(lockBucket))
				if bucket == nil {
					return fmt.Errorf("lock bucket missing")
				}
				return bucket.Delete(k)
			})
		})
		return rerr
	}, nil
}

// RecordRun stores rec until the history TTL passes.
func (b *boltStore) RecordRun(rec RunRecord) error {
	if b == nil || b.db == nil {
		return nil
	}

	now := b.now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	value := make([]byte, expiryValueBytes, expiryValueBytes+len(payload))
	binary.BigEndian.PutUint64(value, uint64(now.Add(b.historyTTL).Unix()))
	value = append(value, payload...)

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(runBucket))
		if bucket == nil {
			return fmt.Errorf("run bucket missing")
		}
		return bucket.Put(runKey(rec), value)
	})
}

// RecentRuns returns up to limit unexpired records, newest first.
func (b *boltStore) RecentRuns(limit int) ([]RunRecord, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}

	now := b.now()
	var out []RunRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(runBucket))
		if bucket == nil {
			return fmt.Errorf("run bucket missing")
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				continue
			}
			var rec RunRecord
			if err := json.Unmarshal(v[expiryValueBytes:], &rec); err != nil {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// runKey sorts records by start time: big-endian nanoseconds, then the lock key.
func runKey(rec RunRecord) []byte {
	var buf bytes.Buffer
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(rec.StartedAt.UnixNano()))
	buf.Write(ts)
	buf.WriteString(rec.Key)
	return buf.Bytes()
}

// maybeCleanupExpired removes expired run records on a fixed cadence to avoid unbounded growth.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	if b == nil || b.db == nil {
		return nil
	}

	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(runBucket))
		if bucket == nil {
			return fmt.Errorf("run bucket missing")
		}

		var expired [][]byte
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

// decodeExpiry decodes the expiry prefix of a stored value.
func decodeExpiry(value []byte) (time.Time, bool) {
	if len(value) < expiryValueBytes {
		return time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value[:expiryValueBytes]))
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
