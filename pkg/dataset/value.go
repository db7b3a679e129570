package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is a single nullable cell. The zero value is null.
type Value struct {
	str   string
	valid bool
}

// Null is the null cell.
var Null = Value{}

// Str returns a non-null cell holding s.
func Str(s string) Value {
	return Value{str: s, valid: true}
}

// nullMarkers are raw cell contents that spreadsheet and dataframe exports use for
// "no value". They are compared case-insensitively after trimming.
var nullMarkers = map[string]bool{
	"":     true,
	"nan":  true,
	"nat":  true,
	"none": true,
	"null": true,
	"n/a":  true,
}

// Cell converts raw source text into a Value, mapping blank cells and the usual
// null markers (NaN, None, null, N/A) to Null.
func Cell(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if nullMarkers[strings.ToLower(trimmed)] {
		return Null
	}
	return Str(trimmed)
}

// IsNull reports whether the cell is null.
func (v Value) IsNull() bool {
	return !v.valid
}

// String returns the cell text, or "" for null.
func (v Value) String() string {
	return v.str
}

// Equal reports whether two cells hold the same value. Two nulls are equal.
func (v Value) Equal(o Value) bool {
	return v.valid == o.valid && v.str == o.str
}

// MarshalJSON encodes null cells as JSON null and everything else as a string.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.str)
}

// UnmarshalJSON accepts null, strings, numbers and booleans. Numbers keep their
// literal text so no precision is lost before the metric layer parses them.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Null
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Cell(s)
	case 't', 'f':
		b, err := strconv.ParseBool(string(data))
		if err != nil {
			return fmt.Errorf("invalid boolean cell %s: %w", data, err)
		}
		*v = Str(strconv.FormatBool(b))
	case '{', '[':
		return fmt.Errorf("nested value %s is not a cell", truncate(string(data), 32))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid numeric cell %s: %w", data, err)
		}
		*v = Str(n.String())
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
