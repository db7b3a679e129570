package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNull is returned by the typed accessors when the cell is null.
var ErrNull = errors.New("null value")

// ParseError reports a cell that could not be read as the requested kind.
// Callers recover from it by treating the cell as null.
type ParseError struct {
	Kind  string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q as %s: %v", e.Value, e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// TimeLayouts are tried in order when reading a timestamp cell. Values are
// interpreted in UTC unless the layout carries a zone.
var TimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"1/2/2006 15:04:05",
	"1/2/2006",
}

// Float reads the cell as a float64.
func (v Value) Float() (float64, error) {
	if !v.valid {
		return 0, ErrNull
	}
	f, err := strconv.ParseFloat(cleanNumber(v.str), 64)
	if err != nil {
		return 0, &ParseError{Kind: "number", Value: v.str, Err: err}
	}
	return f, nil
}

// Decimal reads the cell as an exact decimal, for currency amounts.
func (v Value) Decimal() (decimal.Decimal, error) {
	if !v.valid {
		return decimal.Zero, ErrNull
	}
	d, err := decimal.NewFromString(cleanNumber(v.str))
	if err != nil {
		return decimal.Zero, &ParseError{Kind: "decimal", Value: v.str, Err: err}
	}
	return d, nil
}

// Time reads the cell as a timestamp using TimeLayouts.
func (v Value) Time() (time.Time, error) {
	if !v.valid {
		return time.Time{}, ErrNull
	}
	var lastErr error
	for _, layout := range TimeLayouts {
		t, err := time.ParseInLocation(layout, v.str, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, &ParseError{Kind: "timestamp", Value: v.str, Err: lastErr}
}

// FloatOrNull returns the float value and whether it is usable. Null and
// unparsable cells both report false.
func (v Value) FloatOrNull() (float64, bool) {
	f, err := v.Float()
	return f, err == nil
}

// TimeOrNull returns the timestamp and whether it is usable. Null and
// unparsable cells both report false.
func (v Value) TimeOrNull() (time.Time, bool) {
	t, err := v.Time()
	return t, err == nil
}

// cleanNumber trims surrounding whitespace. Thousands separators are rejected
// because "1,5" is ambiguous between locales.
func cleanNumber(s string) string {
	return strings.TrimSpace(s)
}
