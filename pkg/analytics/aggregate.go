package analytics

import (
	"fmt"
	"sort"

	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/shopspring/decimal"
)

// AggKind selects how a sub-aggregate reduces a group's rows.
type AggKind string

const (
	// Distinct counts distinct non-null values of Field.
	Distinct AggKind = "distinct"
	// Count counts non-null values of Field.
	Count AggKind = "count"
	// Sum adds the numeric values of Field.
	Sum AggKind = "sum"
	// CountEq counts rows whose Field equals Equals numerically.
	CountEq AggKind = "count_eq"
	// Ratio divides two earlier aggregates, Num / Den, rounded to Decimals.
	Ratio AggKind = "ratio"
)

// AggSpec is one output column of a grouped aggregate.
type AggSpec struct {
	Name  string
	Kind  AggKind
	Field string

	// Where restricts the rows to those with a non-null Where field.
	Where string

	Equals float64

	Num, Den string
	Decimals int32
}

// GroupSpec declares a grouped report: group rows by Key, compute Aggs,
// order by SortBy descending and keep the first Limit groups.
type GroupSpec struct {
	Name   string
	Title  string
	Key    string
	Aggs   []AggSpec
	SortBy string
	Limit  int
}

// Validate checks the references between aggregates.
func (g GroupSpec) Validate() error {
	seen := make(map[string]bool, len(g.Aggs))
	for _, a := range g.Aggs {
		switch a.Kind {
		case Distinct, Count, Sum, CountEq:
			if a.Field == "" {
				return fmt.Errorf("%s.%s: field is required", g.Name, a.Name)
			}
		case Ratio:
			if !seen[a.Num] || !seen[a.Den] {
				return fmt.Errorf("%s.%s: ratio must reference earlier aggregates", g.Name, a.Name)
			}
		default:
			return fmt.Errorf("%s.%s: unknown kind %q", g.Name, a.Name, a.Kind)
		}
		seen[a.Name] = true
	}
	if g.SortBy != "" && !seen[g.SortBy] {
		return fmt.Errorf("%s: sort column %q is not an aggregate", g.Name, g.SortBy)
	}
	return nil
}

// Group is one row of a grouped result.
type Group struct {
	Key     string                     `json:"key"`
	Metrics map[string]decimal.Decimal `json:"metrics"`
}

// Int returns a metric as an int, for count-like columns.
func (g Group) Int(name string) int {
	return int(g.Metrics[name].IntPart())
}

// Float returns a metric as a float64.
func (g Group) Float(name string) float64 {
	return g.Metrics[name].InexactFloat64()
}

// Result is a grouped report.
type Result struct {
	Name    string   `json:"name"`
	Title   string   `json:"title,omitempty"`
	Key     string   `json:"key"`
	Columns []string `json:"columns"`
	Groups  []Group  `json:"groups"`

	// TotalGroups counts groups before the limit was applied.
	TotalGroups int `json:"total_groups"`
}

// Aggregate runs every sub-aggregate of spec over v independently and merges
// them on the group key. A group that has rows but no contribution to some
// aggregate gets 0 for it. Rows with a null group key are skipped.
func Aggregate(v *dataset.View, spec GroupSpec) Result {
	res := Result{Name: spec.Name, Title: spec.Title, Key: spec.Key, Groups: []Group{}}
	for _, a := range spec.Aggs {
		res.Columns = append(res.Columns, a.Name)
	}

	keys := v.Values(spec.Key)
	if keys == nil {
		return res
	}

	// Groups in first-seen order, so ties stay in input order after sorting.
	index := make(map[string]int)
	var order []string
	for _, k := range keys {
		if k.IsNull() {
			continue
		}
		if _, ok := index[k.String()]; !ok {
			index[k.String()] = len(order)
			order = append(order, k.String())
		}
	}

	groups := make([]Group, len(order))
	for i, k := range order {
		groups[i] = Group{Key: k, Metrics: make(map[string]decimal.Decimal, len(spec.Aggs))}
	}

	for _, a := range spec.Aggs {
		var partial map[string]decimal.Decimal
		if a.Kind == Ratio {
			for i := range groups {
				groups[i].Metrics[a.Name] = ratio(groups[i].Metrics[a.Num], groups[i].Metrics[a.Den], a.Decimals)
			}
			continue
		}
		partial = reduce(v, keys, a)
		for i := range groups {
			val, ok := partial[groups[i].Key]
			if !ok {
				val = decimal.Zero
			}
			groups[i].Metrics[a.Name] = val
		}
	}

	if spec.SortBy != "" {
		sort.SliceStable(groups, func(i, j int) bool {
			return groups[i].Metrics[spec.SortBy].GreaterThan(groups[j].Metrics[spec.SortBy])
		})
	}
	res.TotalGroups = len(groups)
	if spec.Limit > 0 && len(groups) > spec.Limit {
		groups = groups[:spec.Limit]
	}
	res.Groups = groups
	return res
}

// reduce computes one sub-aggregate per group key. Groups without any
// qualifying row are absent from the result.
func reduce(v *dataset.View, keys []dataset.Value, a AggSpec) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)

	field := v.Values(a.Field)
	if field == nil {
		return out
	}
	var where []dataset.Value
	if a.Where != "" {
		if where = v.Values(a.Where); where == nil {
			return out
		}
	}

	distinct := make(map[string]map[string]struct{})
	one := decimal.NewFromInt(1)
	for i, k := range keys {
		if k.IsNull() || (where != nil && where[i].IsNull()) {
			continue
		}
		cell := field[i]
		g := k.String()

		switch a.Kind {
		case Distinct:
			if cell.IsNull() {
				continue
			}
			if distinct[g] == nil {
				distinct[g] = make(map[string]struct{})
			}
			distinct[g][cell.String()] = struct{}{}
		case Count:
			if !cell.IsNull() {
				out[g] = out[g].Add(one)
			}
		case Sum:
			if d, err := cell.Decimal(); err == nil {
				out[g] = out[g].Add(d)
			}
		case CountEq:
			if f, ok := cell.FloatOrNull(); ok && f == a.Equals {
				out[g] = out[g].Add(one)
			}
		}
	}

	for g, set := range distinct {
		out[g] = decimal.NewFromInt(int64(len(set)))
	}
	return out
}

// ratio rounds num/den half away from zero; a zero denominator gives 0.
func ratio(num, den decimal.Decimal, places int32) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.DivRound(den, places)
}
