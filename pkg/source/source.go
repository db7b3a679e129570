// Package source defines the adapters that pull the identity and usage
// record sets into tabular form.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nicktill/adoptboard/pkg/dataset"
)

// ErrFetch matches every *FetchError via errors.Is.
var ErrFetch = errors.New("source fetch failed")

// Source produces one rectangular record set per call.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*dataset.RecordSet, error)
}

// FetchError wraps any I/O or decoding failure of a source. A fetch that
// succeeds with zero rows is not an error.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets callers test with errors.Is(err, ErrFetch).
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// Spec describes where a source lives. Locations starting with http:// or
// https:// are fetched over HTTP, anything else is read from disk.
type Spec struct {
	Name     string
	Location string
	Format   string // csv, json or sheets
	Token    string
	Timeout  time.Duration
}

// FromSpec builds the adapter for spec.
func FromSpec(spec Spec) (Source, error) {
	if spec.Location == "" {
		return nil, fmt.Errorf("source %q: location is required", spec.Name)
	}
	format := strings.ToLower(spec.Format)
	if format == "" {
		format = FormatCSV
	}
	switch format {
	case FormatCSV, FormatJSON, FormatSheets:
	default:
		return nil, fmt.Errorf("source %q: unsupported format %q", spec.Name, spec.Format)
	}

	if strings.HasPrefix(spec.Location, "http://") || strings.HasPrefix(spec.Location, "https://") {
		return NewHTTP(spec.Name, spec.Location, format, spec.Token, spec.Timeout), nil
	}
	if format != FormatCSV {
		return nil, fmt.Errorf("source %q: file sources must be csv", spec.Name)
	}
	return NewCSVFile(spec.Name, spec.Location), nil
}

// Static serves a fixed record set. Useful for tests and demos.
type Static struct {
	name string
	rs   *dataset.RecordSet
	err  error
}

// NewStatic returns a source that always yields rs.
func NewStatic(name string, rs *dataset.RecordSet) *Static {
	return &Static{name: name, rs: rs}
}

// NewFailing returns a source whose fetch always fails with err.
func NewFailing(name string, err error) *Static {
	return &Static{name: name, err: err}
}

// Name returns the source name.
func (s *Static) Name() string { return s.name }

// Fetch returns a copy of the record set so callers can't mutate it.
func (s *Static) Fetch(ctx context.Context) (*dataset.RecordSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Source: s.name, Err: err}
	}
	if s.err != nil {
		return nil, &FetchError{Source: s.name, Err: s.err}
	}
	out := &dataset.RecordSet{
		Name:    s.rs.Name,
		Columns: append([]string(nil), s.rs.Columns...),
		Rows:    make([]dataset.Row, len(s.rs.Rows)),
	}
	for i, r := range s.rs.Rows {
		cp := make(dataset.Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out.Rows[i] = cp
	}
	return out, nil
}
