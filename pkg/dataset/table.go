package dataset

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Row is one record keyed by column name. Missing columns read as null.
type Row map[string]Value

// Get returns the cell for column, or Null.
func (r Row) Get(column string) Value {
	return r[column]
}

// RecordSet is the rectangular output of a source adapter.
type RecordSet struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewRecordSet creates an empty record set with the given header.
func NewRecordSet(name string, columns ...string) *RecordSet {
	return &RecordSet{
		Name:    name,
		Columns: columns,
		Rows:    make([]Row, 0),
	}
}

// HasColumn reports whether column is part of the header.
func (rs *RecordSet) HasColumn(column string) bool {
	for _, c := range rs.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Append adds a row. Columns not in the header are added to it so that the
// record set stays rectangular.
func (rs *RecordSet) Append(r Row) {
	for c := range r {
		if !rs.HasColumn(c) {
			rs.Columns = append(rs.Columns, c)
		}
	}
	rs.Rows = append(rs.Rows, r)
}

// Len returns the number of rows.
func (rs *RecordSet) Len() int {
	return len(rs.Rows)
}

// Table is the reconciled, denormalized record set. It is built once per
// refresh and never modified afterwards; filters and metrics only read it.
type Table struct {
	ID             string    `json:"id"`
	BuiltAt        time.Time `json:"built_at"`
	Key            string    `json:"key"`
	IdentitySuffix string    `json:"identity_suffix"`
	UsageSuffix    string    `json:"usage_suffix"`
	Columns        []string  `json:"columns"`
	Rows           []Row     `json:"rows"`
	Hash           uint64    `json:"hash"`
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether column exists in the table.
func (t *Table) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Accessor reads one logical field from rows of a table. It holds the
// columns backing the field in read order.
type Accessor []string

// Get returns the first non-null cell among the accessor's columns.
func (a Accessor) Get(r Row) Value {
	for _, c := range a {
		if v := r.Get(c); !v.IsNull() {
			return v
		}
	}
	return Null
}

// Lookup resolves a logical field name to its columns. A field defined by
// both sources exists only in suffixed form; it reads the identity-side
// cell and falls back to the usage-side one when that is null, so rows
// present in only one source keep their value.
func (t *Table) Lookup(field string) (Accessor, bool) {
	if t == nil || field == "" {
		return nil, false
	}
	if t.HasColumn(field) {
		return Accessor{field}, true
	}
	var cols Accessor
	for _, candidate := range []string{field + t.IdentitySuffix, field + t.UsageSuffix} {
		if candidate != field && t.HasColumn(candidate) {
			cols = append(cols, candidate)
		}
	}
	return cols, len(cols) > 0
}

// Seal computes the content fingerprint. It must be called once the table
// is complete and before it is shared.
func (t *Table) Seal() *Table {
	t.Hash = t.computeHash()
	return t
}

// Fingerprint returns a content hash of columns and rows. Two tables with the
// same content have the same fingerprint regardless of ID or build time.
func (t *Table) Fingerprint() uint64 {
	if t == nil {
		return 0
	}
	if t.Hash == 0 {
		return t.computeHash()
	}
	return t.Hash
}

func (t *Table) computeHash() uint64 {
	d := xxhash.New()
	for _, c := range t.Columns {
		_, _ = d.WriteString(c)
		_, _ = d.Write([]byte{0})
	}
	_, _ = d.WriteString(strconv.Itoa(len(t.Rows)))
	for _, r := range t.Rows {
		for _, c := range t.Columns {
			v := r.Get(c)
			if v.IsNull() {
				_, _ = d.Write([]byte{1})
				continue
			}
			_, _ = d.Write([]byte{2})
			_, _ = d.WriteString(v.String())
			_, _ = d.Write([]byte{0})
		}
	}
	return d.Sum64()
}

// All returns an unfiltered view over the whole table.
func (t *Table) All() *View {
	rows := []Row(nil)
	if t != nil {
		rows = t.Rows
	}
	return &View{Table: t, Rows: rows}
}

// View is a filtered projection of a Table. It shares row storage with the
// table and must be treated as read-only.
type View struct {
	Table *Table
	Rows  []Row

	// FilterHash identifies the predicate set that produced the view; zero
	// means unfiltered.
	FilterHash uint64
}

// Len returns the number of rows in the view.
func (v *View) Len() int {
	if v == nil {
		return 0
	}
	return len(v.Rows)
}

// Column resolves a logical field against the underlying table.
func (v *View) Column(field string) (Accessor, bool) {
	if v == nil {
		return nil, false
	}
	return v.Table.Lookup(field)
}

// Values returns the cells of field for every row in the view, or nil when the
// field does not exist.
func (v *View) Values(field string) []Value {
	col, ok := v.Column(field)
	if !ok {
		return nil
	}
	out := make([]Value, len(v.Rows))
	for i, r := range v.Rows {
		out[i] = col.Get(r)
	}
	return out
}
