package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nicktill/adoptboard/pkg/config"
)

var (
	// ErrMissingKey matches every SchemaError.
	ErrMissingKey = errors.New("key column missing")

	// ErrNoTable is returned by the cache when no table was ever built.
	ErrNoTable = errors.New("no reconciled table available")
)

// SchemaError reports a source that lacks the join key column. It is fatal to
// the refresh cycle and distinct from a source that is merely empty.
type SchemaError struct {
	Source string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("source %q has no %q column", e.Source, e.Column)
}

// Is lets errors.Is(err, ErrMissingKey) match any SchemaError.
func (e *SchemaError) Is(target error) bool {
	return target == ErrMissingKey
}

// DuplicatePolicy decides what happens to repeated keys inside one source.
type DuplicatePolicy int

const (
	// Collapse keeps the first row seen for each key in each source.
	Collapse DuplicatePolicy = iota
	// Preserve keeps every row; the join emits the cross product per key.
	Preserve
)

func (p DuplicatePolicy) String() string {
	switch p {
	case Collapse:
		return "collapse"
	case Preserve:
		return "preserve"
	default:
		return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
	}
}

// ParseDuplicatePolicy maps a config string to a policy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "collapse":
		return Collapse, nil
	case "preserve":
		return Preserve, nil
	default:
		return Collapse, fmt.Errorf("unknown duplicate policy %q (want collapse or preserve)", s)
	}
}

// Options control one reconciliation pass.
type Options struct {
	// Key is the join column present in both sources.
	Key string

	// Suffixes tag columns defined by both sources.
	IdentitySuffix string
	UsageSuffix    string

	// ExcludedDomains drops keys whose email domain matches (e.g. "test.local").
	ExcludedDomains []string

	Duplicates DuplicatePolicy
}

// DefaultOptions returns the dashboard's standard join settings.
func DefaultOptions() Options {
	return Options{
		Key:            config.DefaultKeyColumn,
		IdentitySuffix: config.DefaultIdentitySuffix,
		UsageSuffix:    config.DefaultUsageSuffix,
		Duplicates:     Collapse,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Key == "" {
		o.Key = d.Key
	}
	if o.IdentitySuffix == "" {
		o.IdentitySuffix = d.IdentitySuffix
	}
	if o.UsageSuffix == "" {
		o.UsageSuffix = d.UsageSuffix
	}
	return o
}
