// Package dedup tracks review identifiers already persisted or encountered during a run.
package dedup

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Set is the in-run seen-id set for one destination. Ids leave it only through Forget.
// Not safe for concurrent use; the crawl is strictly sequential.
type Set struct {
	seen    map[string]struct{}
	initial map[string]struct{}
}

// New returns an empty set.
func New() *Set {
	return &Set{seen: make(map[string]struct{}), initial: make(map[string]struct{})}
}

// Initialize seeds the set with identifiers already present at the destination.
func (s *Set) Initialize(existingIDs []string) {
	for _, id := range existingIDs {
		key := NormalizeID(id)
		if key == "" {
			continue
		}
		if _, ok := s.initial[key]; ok {
			continue
		}
		s.seen[key] = struct{}{}
		s.initial[key] = struct{}{}
	}
}

// Accept records id and reports true when it has not been seen before.
// Empty identifiers are never accepted.
func (s *Set) Accept(id any) bool {
	key := NormalizeID(id)
	if key == "" {
		return false
	}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Forget drops ids accepted during this run so a later source may write them. Ids loaded
// by Initialize are kept.
func (s *Set) Forget(ids ...any) {
	for _, id := range ids {
		key := NormalizeID(id)
		if key == "" {
			continue
		}
		if _, ok := s.initial[key]; ok {
			continue
		}
		delete(s.seen, key)
	}
}

// Seen reports whether id is already in the set without recording it.
func (s *Set) Seen(id any) bool {
	key := NormalizeID(id)
	if key == "" {
		return false
	}
	_, ok := s.seen[key]
	return ok
}

// Existing is the number of distinct identifiers loaded by Initialize.
func (s *Set) Existing() int { return len(s.initial) }

// Len is the total number of distinct identifiers in the set.
func (s *Set) Len() int { return len(s.seen) }

// NormalizeID renders a source-native identifier in canonical string form so that
// 123, int64(123), float64(123) and "123" compare equal.
func NormalizeID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return normalizeString(v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case fmt.Stringer:
		return normalizeString(v.String())
	default:
		return normalizeString(fmt.Sprint(v))
	}
}

func normalizeString(s string) string {
	s = strings.TrimSpace(s)
	// Spreadsheet exports sometimes turn "123" into "123.0".
	if strings.HasSuffix(s, ".0") {
		if _, err := strconv.ParseInt(strings.TrimSuffix(s, ".0"), 10, 64); err == nil {
			return strings.TrimSuffix(s, ".0")
		}
	}
	return s
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
