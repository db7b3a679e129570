package filter

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/samber/lo"
)

// DateLayout is the format of the from/to query parameters.
const DateLayout = "2006-01-02"

// Defaults fills in parameters the request leaves out.
type Defaults struct {
	// From is the default start of the enrollment date window.
	From time.Time
	// Now is the default end of the window.
	Now time.Time
}

// ParseQuery builds the dashboard filter set from request parameters:
//
//	email=<substring>          text match on email
//	from=YYYY-MM-DD, to=...    enrollment date window (empty value = open bound)
//	wilayah=<v> (repeatable)   region membership
//	category=<v> (repeatable)  category membership
//	text.<field>=<substring>   text match on any field
//	in.<field>=<v>             membership on any field
func ParseQuery(q url.Values, d Defaults) (Set, error) {
	var s Set

	if email := q.Get("email"); email != "" {
		s = append(s, Text{Field: dataset.FieldEmail, Query: email})
	}

	dr := DateRange{Field: dataset.FieldEnrollDate, From: d.From, To: d.Now}
	var err error
	if vals, ok := q["from"]; ok {
		if dr.From, err = parseDate("from", vals); err != nil {
			return nil, err
		}
	}
	if vals, ok := q["to"]; ok {
		if dr.To, err = parseDate("to", vals); err != nil {
			return nil, err
		}
	}
	if !dr.From.IsZero() && !dr.To.IsZero() && dr.From.After(dr.To) {
		return nil, fmt.Errorf("from %s is after to %s", dr.From.Format(DateLayout), dr.To.Format(DateLayout))
	}
	s = append(s, dr)

	if vals := nonEmpty(q["wilayah"]); len(vals) > 0 {
		s = append(s, Membership{Field: dataset.FieldRegion, Values: vals})
	}
	if vals := nonEmpty(q["category"]); len(vals) > 0 {
		s = append(s, Membership{Field: dataset.FieldCategory, Values: vals})
	}

	// generic predicates, in a stable order
	keys := lo.Keys(q)
	sort.Strings(keys)
	for _, k := range keys {
		switch {
		case strings.HasPrefix(k, "text.") && len(k) > len("text."):
			if v := q.Get(k); v != "" {
				s = append(s, Text{Field: strings.TrimPrefix(k, "text."), Query: v})
			}
		case strings.HasPrefix(k, "in.") && len(k) > len("in."):
			if vals := nonEmpty(q[k]); len(vals) > 0 {
				s = append(s, Membership{Field: strings.TrimPrefix(k, "in."), Values: vals})
			}
		}
	}
	return s, nil
}

func parseDate(name string, vals []string) (time.Time, error) {
	if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, strings.TrimSpace(vals[0]))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date %q: want YYYY-MM-DD", name, vals[0])
	}
	return t, nil
}

func nonEmpty(vals []string) []string {
	return lo.Uniq(lo.Filter(vals, func(v string, _ int) bool {
		return strings.TrimSpace(v) != ""
	}))
}

// Options returns the sorted distinct non-null values of field, for building
// filter choices.
func Options(t *dataset.Table, field string) []string {
	vals := t.All().Values(field)
	out := lo.Uniq(lo.FilterMap(vals, func(v dataset.Value, _ int) (string, bool) {
		return v.String(), !v.IsNull()
	}))
	sort.Strings(out)
	return out
}
