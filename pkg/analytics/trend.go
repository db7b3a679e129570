package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/now"
	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/shopspring/decimal"
)

// Granularity is the trend bucket size.
type Granularity string

const (
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity accepts "week" or "month"; empty means month.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case "", Month:
		return Month, nil
	case Week:
		return Week, nil
	default:
		return "", fmt.Errorf("unknown granularity %q (want week or month)", s)
	}
}

var weekConfig = &now.Config{WeekStartDay: time.Monday, TimeLocation: time.UTC}

// start returns the beginning of the bucket containing t.
func (g Granularity) start(t time.Time) time.Time {
	if g == Week {
		return weekConfig.With(t).BeginningOfWeek()
	}
	return now.With(t).BeginningOfMonth()
}

// label renders a bucket start as "2024-W03" or "Jan 2024".
func (g Granularity) label(start time.Time) string {
	if g == Week {
		year, week := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	}
	return start.Format("Jan 2006")
}

// TrendSpec selects the date and value fields of a trend series.
type TrendSpec struct {
	DateField   string
	ValueField  string
	Granularity Granularity
}

// Point is one bucket of a trend series.
type Point struct {
	Start time.Time       `json:"start"`
	Label string          `json:"label"`
	Sum   decimal.Decimal `json:"sum"`
	Count int             `json:"count"`
}

// Series is a trend over time, oldest bucket first.
type Series struct {
	Granularity Granularity `json:"granularity"`
	DateField   string      `json:"date_field"`
	ValueField  string      `json:"value_field"`
	Points      []Point     `json:"points"`

	// Skipped counts rows without a usable date.
	Skipped int `json:"skipped"`
}

// Trend buckets v by date and sums the value field per bucket.
//
// Rows whose date is null or unparsable are left out and counted in Skipped.
// This is the reverse of the date-range filter, which keeps such rows: a
// trend point needs a concrete bucket.
func Trend(v *dataset.View, spec TrendSpec) Series {
	if spec.Granularity == "" {
		spec.Granularity = Month
	}
	s := Series{
		Granularity: spec.Granularity,
		DateField:   spec.DateField,
		ValueField:  spec.ValueField,
		Points:      []Point{},
	}

	dates := v.Values(spec.DateField)
	if dates == nil {
		s.Skipped = v.Len()
		return s
	}
	values := v.Values(spec.ValueField)

	buckets := make(map[int64]*Point)
	for i, d := range dates {
		t, ok := d.TimeOrNull()
		if !ok {
			s.Skipped++
			continue
		}
		start := spec.Granularity.start(t.UTC())
		p, ok := buckets[start.Unix()]
		if !ok {
			p = &Point{Start: start, Label: spec.Granularity.label(start)}
			buckets[start.Unix()] = p
		}
		p.Count++
		if values != nil {
			if amount, err := values[i].Decimal(); err == nil {
				p.Sum = p.Sum.Add(amount)
			}
		}
	}

	for _, p := range buckets {
		s.Points = append(s.Points, *p)
	}
	sort.Slice(s.Points, func(i, j int) bool {
		return s.Points[i].Start.Before(s.Points[j].Start)
	})
	return s
}
