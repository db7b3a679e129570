package analytics

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nicktill/adoptboard/pkg/dataset"
)

// MemoKey identifies a derived result: which table content, which filter set,
// which report. A refreshed table has a new fingerprint, so nothing leaks
// across refreshes.
type MemoKey struct {
	Table  uint64
	Filter uint64
	Report string
}

// KeyFor builds the memo key for a report over v.
func KeyFor(v *dataset.View, report string) MemoKey {
	return MemoKey{Table: v.Table.Fingerprint(), Filter: v.FilterHash, Report: report}
}

// Memo caches derived results for repeated identical requests.
type Memo struct {
	cache *lru.Cache[MemoKey, any]
}

// NewMemo creates a memo holding up to size results.
func NewMemo(size int) (*Memo, error) {
	c, err := lru.New[MemoKey, any](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memo: %w", err)
	}
	return &Memo{cache: c}, nil
}

// Len returns the number of cached results.
func (m *Memo) Len() int {
	return m.cache.Len()
}

// Memoize returns the cached result for key, computing it with fn on a miss.
// A nil memo always computes.
func Memoize[T any](m *Memo, key MemoKey, fn func() T) T {
	if m == nil {
		return fn()
	}
	if v, ok := m.cache.Get(key); ok {
		if t, ok := v.(T); ok {
			return t
		}
	}
	t := fn()
	m.cache.Add(key, t)
	return t
}
