// Package analytics derives metrics from a filtered view. Every function is
// total: an empty view or unparsable cells give zeros, never an error.
package analytics

import (
	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/shopspring/decimal"
)

// SummaryConfig carries the external constants the summary needs.
type SummaryConfig struct {
	InitialBalance decimal.Decimal
}

// Summary holds the scalar dashboard metrics.
type Summary struct {
	Rows             int             `json:"rows"`
	TotalUsers       int             `json:"total_users"`
	EnrolledUsers    int             `json:"enrolled_users"`
	EnrollmentRate   float64         `json:"enrollment_rate"`
	UsageTotal       decimal.Decimal `json:"usage_total"`
	InitialBalance   decimal.Decimal `json:"initial_balance"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	AvgProgress      float64         `json:"avg_progress"`
	DurationHours    float64         `json:"duration_hours"`

	// Unparsed counts numeric cells that were treated as null.
	Unparsed int `json:"unparsed"`
}

// Summarize computes the scalar metrics over v.
//
// Users are distinct non-null emails; enrolled users are those with at least
// one non-null transaction id. The enrollment rate is 0 for an empty view.
func Summarize(v *dataset.View, cfg SummaryConfig) Summary {
	s := Summary{Rows: v.Len(), InitialBalance: cfg.InitialBalance}

	emails := v.Values(dataset.FieldEmail)
	txns := v.Values(dataset.FieldTransaction)

	users := make(map[string]struct{})
	enrolled := make(map[string]struct{})
	for i, e := range emails {
		if e.IsNull() {
			continue
		}
		users[e.String()] = struct{}{}
		if txns != nil && !txns[i].IsNull() {
			enrolled[e.String()] = struct{}{}
		}
	}
	s.TotalUsers = len(users)
	s.EnrolledUsers = len(enrolled)
	if s.TotalUsers > 0 {
		s.EnrollmentRate = float64(s.EnrolledUsers) / float64(s.TotalUsers)
	}

	var bad int
	s.UsageTotal = sumDecimal(v.Values(dataset.FieldPrice), &bad)
	s.RemainingBalance = cfg.InitialBalance.Sub(s.UsageTotal)

	if mean, ok := meanFloat(v.Values(dataset.FieldProgress), &bad); ok {
		s.AvgProgress = mean
	}

	seconds := sumDecimal(v.Values(dataset.FieldDuration), &bad)
	s.DurationHours = seconds.Div(decimal.NewFromInt(3600)).InexactFloat64()

	s.Unparsed = bad
	return s
}

// sumDecimal adds the parsable cells. Unparsable cells count into bad.
func sumDecimal(vals []dataset.Value, bad *int) decimal.Decimal {
	total := decimal.Zero
	for _, v := range vals {
		d, err := v.Decimal()
		if err != nil {
			if !v.IsNull() {
				*bad++
			}
			continue
		}
		total = total.Add(d)
	}
	return total
}

// meanFloat averages the parsable cells; ok is false when there are none.
func meanFloat(vals []dataset.Value, bad *int) (float64, bool) {
	var sum float64
	var n int
	for _, v := range vals {
		f, err := v.Float()
		if err != nil {
			if !v.IsNull() {
				*bad++
			}
			continue
		}
		sum += f
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
