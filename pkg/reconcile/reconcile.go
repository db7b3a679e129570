package reconcile

import (
	"sort"

	"github.com/nicktill/adoptboard/pkg/dataset"
)

// SourceStats describes how one source was prepared for the join.
type SourceStats struct {
	Rows       int `json:"rows"`
	Keys       int `json:"keys"`
	BlankKeys  int `json:"blank_keys"`
	Excluded   int `json:"excluded"`
	Duplicates int `json:"duplicates"`
}

// Stats is returned alongside every reconciled table.
type Stats struct {
	Identity     SourceStats `json:"identity"`
	Usage        SourceStats `json:"usage"`
	Matched      int         `json:"matched"`
	IdentityOnly int         `json:"identity_only"`
	UsageOnly    int         `json:"usage_only"`
	Rows         int         `json:"rows"`
	Policy       string      `json:"duplicate_policy"`
	Collisions   []string    `json:"collisions,omitempty"`
}

// keyed groups a source's rows by normalized key, keeping first-seen order.
type keyed struct {
	columns []string
	rows    map[string][]dataset.Row
}

// Reconcile full-outer-joins identity and usage on the normalized key.
//
// Every key present in either source appears in the output; with Collapse it
// appears exactly once. Columns defined by both sources are kept twice, tagged
// with the configured suffixes. Cells of the side a key is missing from are
// null. Rows are ordered by key, then by source order.
func Reconcile(identity, usage *dataset.RecordSet, opts Options) (*dataset.Table, Stats, error) {
	opts = opts.withDefaults()
	stats := Stats{Policy: opts.Duplicates.String()}

	if err := checkKey(identity, "identity", opts.Key); err != nil {
		return nil, stats, err
	}
	if err := checkKey(usage, "usage", opts.Key); err != nil {
		return nil, stats, err
	}

	exclude := newDomainMatcher(opts.ExcludedDomains)
	left := prepare(identity, opts, exclude, &stats.Identity)
	right := prepare(usage, opts, exclude, &stats.Usage)

	leftCols, rightCols, collisions := planColumns(left.columns, right.columns, opts)
	stats.Collisions = collisions

	keys := make([]string, 0, len(left.rows)+len(right.rows))
	for k := range left.rows {
		keys = append(keys, k)
	}
	for k := range right.rows {
		if _, ok := left.rows[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	columns := make([]string, 0, 1+len(leftCols)+len(rightCols))
	columns = append(columns, opts.Key)
	for _, c := range leftCols {
		columns = append(columns, c.out)
	}
	for _, c := range rightCols {
		columns = append(columns, c.out)
	}

	// A missing side contributes one all-null row to the product.
	absent := []dataset.Row{nil}

	out := make([]dataset.Row, 0, len(keys))
	for _, k := range keys {
		ls, inLeft := left.rows[k]
		rs, inRight := right.rows[k]
		switch {
		case inLeft && inRight:
			stats.Matched++
		case inLeft:
			stats.IdentityOnly++
			rs = absent
		default:
			stats.UsageOnly++
			ls = absent
		}

		for _, l := range ls {
			for _, r := range rs {
				row := make(dataset.Row, len(columns))
				row[opts.Key] = dataset.Str(k)
				for _, c := range leftCols {
					row[c.out] = l.Get(c.in)
				}
				for _, c := range rightCols {
					row[c.out] = r.Get(c.in)
				}
				out = append(out, row)
			}
		}
	}
	stats.Rows = len(out)

	t := &dataset.Table{
		Key:            opts.Key,
		IdentitySuffix: opts.IdentitySuffix,
		UsageSuffix:    opts.UsageSuffix,
		Columns:        columns,
		Rows:           out,
	}
	return t.Seal(), stats, nil
}

func checkKey(rs *dataset.RecordSet, side, key string) error {
	if rs == nil {
		return &SchemaError{Source: side, Column: key}
	}
	if !rs.HasColumn(key) {
		name := rs.Name
		if name == "" {
			name = side
		}
		return &SchemaError{Source: name, Column: key}
	}
	return nil
}

// prepare normalizes keys, drops blank and excluded keys and applies the
// duplicate policy. The input record set is not modified.
func prepare(rs *dataset.RecordSet, opts Options, exclude domainMatcher, st *SourceStats) keyed {
	k := keyed{rows: make(map[string][]dataset.Row)}
	for _, c := range rs.Columns {
		if c != opts.Key {
			k.columns = append(k.columns, c)
		}
	}

	st.Rows = rs.Len()
	for _, row := range rs.Rows {
		key := NormalizeKey(row.Get(opts.Key).String())
		switch {
		case key == "":
			st.BlankKeys++
			continue
		case exclude.Excluded(key):
			st.Excluded++
			continue
		}

		if existing, ok := k.rows[key]; ok {
			st.Duplicates++
			if opts.Duplicates == Collapse {
				continue
			}
			k.rows[key] = append(existing, row)
			continue
		}
		k.rows[key] = []dataset.Row{row}
	}
	st.Keys = len(k.rows)
	return k
}

type columnMap struct {
	in, out string
}

// planColumns names the output columns. Names present on both sides get the
// side suffix; a suffixed name that is already taken gets the suffix again.
func planColumns(left, right []string, opts Options) ([]columnMap, []columnMap, []string) {
	inRight := make(map[string]bool, len(right))
	for _, c := range right {
		inRight[c] = true
	}

	taken := map[string]bool{opts.Key: true}
	for _, c := range left {
		taken[c] = true
	}
	for _, c := range right {
		taken[c] = true
	}

	var collisions []string
	for _, c := range left {
		if inRight[c] {
			collisions = append(collisions, c)
		}
	}
	collided := make(map[string]bool, len(collisions))
	for _, c := range collisions {
		collided[c] = true
	}

	rename := func(c, suffix string) string {
		name := c + suffix
		for taken[name] {
			name += suffix
		}
		taken[name] = true
		return name
	}

	leftCols := make([]columnMap, 0, len(left))
	for _, c := range left {
		out := c
		if collided[c] {
			out = rename(c, opts.IdentitySuffix)
		}
		leftCols = append(leftCols, columnMap{in: c, out: out})
	}
	rightCols := make([]columnMap, 0, len(right))
	for _, c := range right {
		out := c
		if collided[c] {
			out = rename(c, opts.UsageSuffix)
		}
		rightCols = append(rightCols, columnMap{in: c, out: out})
	}
	return leftCols, rightCols, collisions
}
