// Package filter narrows a reconciled table to the rows an operator asked for.
// Filtering never modifies the table; it returns a view of row references.
package filter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jinzhu/now"
	"github.com/nicktill/adoptboard/pkg/dataset"
)

// Predicate is one filter condition. Inactive predicates match everything and
// are skipped.
type Predicate interface {
	// Active reports whether the predicate constrains anything.
	Active() bool

	// Bind resolves the predicate's field against t.
	Bind(t *dataset.Table) func(dataset.Row) bool

	// Canonical is a stable text form used for fingerprints.
	Canonical() string
}

// Text matches rows whose field contains Query, case-insensitively. A null
// cell fails a non-empty query.
type Text struct {
	Field string
	Query string
}

func (p Text) Active() bool { return p.Query != "" }

func (p Text) Bind(t *dataset.Table) func(dataset.Row) bool {
	col, ok := t.Lookup(p.Field)
	if !ok {
		return never
	}
	q := strings.ToLower(p.Query)
	return func(r dataset.Row) bool {
		v := col.Get(r)
		return !v.IsNull() && strings.Contains(strings.ToLower(v.String()), q)
	}
}

func (p Text) Canonical() string {
	return fmt.Sprintf("text|%s|%s", p.Field, strings.ToLower(p.Query))
}

// DateRange matches timestamps within [From, To], both inclusive. To covers
// its whole calendar day. A zero bound is open.
//
// Null and unparsable timestamps PASS: incomplete records stay visible. Trend
// bucketing in the analytics package deliberately does the opposite.
type DateRange struct {
	Field string
	From  time.Time
	To    time.Time
}

func (p DateRange) Active() bool { return !p.From.IsZero() || !p.To.IsZero() }

func (p DateRange) Bind(t *dataset.Table) func(dataset.Row) bool {
	col, ok := t.Lookup(p.Field)
	if !ok {
		return always
	}
	from, to := p.bounds()
	return func(r dataset.Row) bool {
		ts, ok := col.Get(r).TimeOrNull()
		if !ok {
			return true
		}
		if !from.IsZero() && ts.Before(from) {
			return false
		}
		if !to.IsZero() && ts.After(to) {
			return false
		}
		return true
	}
}

func (p DateRange) bounds() (time.Time, time.Time) {
	to := p.To
	if !to.IsZero() {
		to = now.With(to).EndOfDay()
	}
	return p.From, to
}

func (p DateRange) Canonical() string {
	from, to := p.bounds()
	return fmt.Sprintf("date|%s|%d|%d", p.Field, unixOrZero(from), unixOrZero(to))
}

// Membership matches rows whose field equals one of Values. An empty set is
// a no-op; a null cell fails a non-empty set.
type Membership struct {
	Field  string
	Values []string
}

func (p Membership) Active() bool { return len(p.Values) > 0 }

func (p Membership) Bind(t *dataset.Table) func(dataset.Row) bool {
	col, ok := t.Lookup(p.Field)
	if !ok {
		return never
	}
	set := make(map[string]struct{}, len(p.Values))
	for _, v := range p.Values {
		set[v] = struct{}{}
	}
	return func(r dataset.Row) bool {
		v := col.Get(r)
		if v.IsNull() {
			return false
		}
		_, ok := set[v.String()]
		return ok
	}
}

func (p Membership) Canonical() string {
	vals := append([]string(nil), p.Values...)
	sort.Strings(vals)
	return fmt.Sprintf("in|%s|%s", p.Field, strings.Join(vals, "\x1f"))
}

// Set is a conjunction of predicates. Order does not matter.
type Set []Predicate

// active drops predicates that constrain nothing.
func (s Set) active() Set {
	var out Set
	for _, p := range s {
		if p != nil && p.Active() {
			out = append(out, p)
		}
	}
	return out
}

// Fingerprint identifies the set regardless of predicate order. The empty
// set, and any set of inactive predicates, fingerprints to zero.
func (s Set) Fingerprint() uint64 {
	act := s.active()
	if len(act) == 0 {
		return 0
	}
	keys := make([]string, len(act))
	for i, p := range act {
		keys[i] = p.Canonical()
	}
	sort.Strings(keys)

	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
	}
	if sum := d.Sum64(); sum != 0 {
		return sum
	}
	return 1
}

// Apply returns the rows of t matching every predicate in s.
func Apply(t *dataset.Table, s Set) *dataset.View {
	return Narrow(t.All(), s)
}

// Narrow filters an existing view further. Narrowing a view by the set that
// produced it returns the same rows.
func Narrow(v *dataset.View, s Set) *dataset.View {
	act := s.active()
	if len(act) == 0 {
		return &dataset.View{Table: v.Table, Rows: v.Rows, FilterHash: v.FilterHash}
	}

	matchers := make([]func(dataset.Row) bool, len(act))
	for i, p := range act {
		matchers[i] = p.Bind(v.Table)
	}

	rows := make([]dataset.Row, 0, len(v.Rows))
next:
	for _, r := range v.Rows {
		for _, m := range matchers {
			if !m(r) {
				continue next
			}
		}
		rows = append(rows, r)
	}

	hash := s.Fingerprint()
	if v.FilterHash != 0 && v.FilterHash != hash {
		hash = combine(v.FilterHash, hash)
	}
	return &dataset.View{Table: v.Table, Rows: rows, FilterHash: hash}
}

func combine(a, b uint64) uint64 {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(a >> (8 * i))
		buf[8+i] = byte(b >> (8 * i))
	}
	return xxhash.Sum64(buf[:])
}

func always(dataset.Row) bool { return true }
func never(dataset.Row) bool { return false }

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
