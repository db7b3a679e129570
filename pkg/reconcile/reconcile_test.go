package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/nicktill/adoptboard/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(name string, cols []string, rows ...[]string) *dataset.RecordSet {
	rs := dataset.NewRecordSet(name, cols...)
	for _, raw := range rows {
		row := make(dataset.Row, len(cols))
		for i, c := range cols {
			row[c] = dataset.Cell(raw[i])
		}
		rs.Append(row)
	}
	return rs
}

func identityFixture() *dataset.RecordSet {
	return records("identity", []string{"email", "nama", "wilayah"},
		[]string{"A@x.com", "Ann", "Jakarta"},
		[]string{"b@x.com", "Bob", "Bandung"},
	)
}

func usageFixture() *dataset.RecordSet {
	return records("usage", []string{"email", "price", "no_transaksi"},
		[]string{" a@x.com ", "100", "T1"},
	)
}

func keysOf(t *dataset.Table) []string {
	var out []string
	for _, r := range t.Rows {
		out = append(out, r.Get(t.Key).String())
	}
	return out
}

func TestReconcile_Example(t *testing.T) {
	tbl, stats, err := Reconcile(identityFixture(), usageFixture(), DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, keysOf(tbl))

	a, b := tbl.Rows[0], tbl.Rows[1]
	assert.Equal(t, "100", a.Get("price").String())
	assert.Equal(t, "T1", a.Get("no_transaksi").String())
	assert.Equal(t, "Ann", a.Get("nama").String())

	assert.True(t, b.Get("price").IsNull())
	assert.True(t, b.Get("no_transaksi").IsNull())
	assert.Equal(t, "Bob", b.Get("nama").String())

	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 1, stats.IdentityOnly)
	assert.Equal(t, 0, stats.UsageOnly)
	assert.NotZero(t, tbl.Fingerprint())
}

func TestReconcile_KeyUnion(t *testing.T) {
	identity := records("identity", []string{"email", "nama"},
		[]string{"c@x.com", "Cy"},
		[]string{"a@x.com", "Ann"},
	)
	usage := records("usage", []string{"email", "title"},
		[]string{"D@X.COM", "Go"},
		[]string{"a@x.com", "SQL"},
	)

	tbl, stats, err := Reconcile(identity, usage, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "c@x.com", "d@x.com"}, keysOf(tbl))
	assert.Equal(t, 1, stats.UsageOnly)

	// usage-only row has null identity fields
	d := tbl.Rows[2]
	assert.True(t, d.Get("nama").IsNull())
	_, present := d["nama"]
	assert.True(t, present, "absent-side cells are explicit nulls")
	assert.Equal(t, "Go", d.Get("title").String())
}

func TestReconcile_ColumnCollision(t *testing.T) {
	identity := records("identity", []string{"email", "wilayah"}, []string{"a@x.com", "Jakarta"})
	usage := records("usage", []string{"email", "wilayah"}, []string{"a@x.com", "DKI"})

	tbl, stats, err := Reconcile(identity, usage, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"email", "wilayah_id", "wilayah_bpjs"}, tbl.Columns)
	assert.Equal(t, []string{"wilayah"}, stats.Collisions)
	assert.Equal(t, "Jakarta", tbl.Rows[0].Get("wilayah_id").String())
	assert.Equal(t, "DKI", tbl.Rows[0].Get("wilayah_bpjs").String())

	col, ok := tbl.Lookup("wilayah")
	require.True(t, ok)
	assert.Equal(t, dataset.Accessor{"wilayah_id", "wilayah_bpjs"}, col)
	assert.Equal(t, "Jakarta", col.Get(tbl.Rows[0]).String())
}

func TestReconcile_SuffixedNameAlreadyTaken(t *testing.T) {
	identity := records("identity", []string{"email", "x", "x_id"}, []string{"a@x.com", "1", "2"})
	usage := records("usage", []string{"email", "x"}, []string{"a@x.com", "3"})

	tbl, _, err := Reconcile(identity, usage, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "x_id_id", "x_id", "x_bpjs"}, tbl.Columns)
	assert.Equal(t, "1", tbl.Rows[0].Get("x_id_id").String())
	assert.Equal(t, "2", tbl.Rows[0].Get("x_id").String())
}

func TestReconcile_MissingKey(t *testing.T) {
	usage := records("bpjs", []string{"mail", "price"}, []string{"a@x.com", "1"})

	_, _, err := Reconcile(identityFixture(), usage, DefaultOptions())
	require.Error(t, err)

	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "bpjs", se.Source)
	assert.Equal(t, "email", se.Column)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestReconcile_EmptySourceIsValid(t *testing.T) {
	usage := dataset.NewRecordSet("usage", "email", "price")

	tbl, _, err := Reconcile(identityFixture(), usage, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.True(t, tbl.HasColumn("price"))
}

func TestReconcile_DuplicatePolicies(t *testing.T) {
	identity := records("identity", []string{"email", "nama"},
		[]string{"a@x.com", "Ann"},
		[]string{"A@X.com", "Ann Again"},
	)
	usage := records("usage", []string{"email", "title"},
		[]string{"a@x.com", "Go"},
		[]string{"a@x.com", "SQL"},
		[]string{"a@x.com", "Rust"},
	)

	t.Run("collapse keeps first seen", func(t *testing.T) {
		tbl, stats, err := Reconcile(identity, usage, DefaultOptions())
		require.NoError(t, err)
		require.Equal(t, 1, tbl.Len())
		assert.Equal(t, "Ann", tbl.Rows[0].Get("nama").String())
		assert.Equal(t, "Go", tbl.Rows[0].Get("title").String())
		assert.Equal(t, 1, stats.Identity.Duplicates)
		assert.Equal(t, 2, stats.Usage.Duplicates)
		assert.Equal(t, "collapse", stats.Policy)
	})

	t.Run("preserve emits cross product", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Duplicates = Preserve
		tbl, _, err := Reconcile(identity, usage, opts)
		require.NoError(t, err)
		require.Equal(t, 6, tbl.Len())

		var titles []string
		for _, r := range tbl.Rows[:3] {
			titles = append(titles, r.Get("title").String())
		}
		assert.Equal(t, []string{"Go", "SQL", "Rust"}, titles, "source order kept within a key")
	})
}

func TestReconcile_ExcludedDomainsAndBlankKeys(t *testing.T) {
	identity := records("identity", []string{"email", "nama"},
		[]string{"a@x.com", "Ann"},
		[]string{"qa@Test.Local", "QA"},
		[]string{"", "Nobody"},
	)
	usage := records("usage", []string{"email", "price"},
		[]string{"bot@ci.test.local", "5"},
		[]string{"a@x.com", "1"},
	)

	opts := DefaultOptions()
	opts.ExcludedDomains = []string{"@test.local"}

	tbl, stats, err := Reconcile(identity, usage, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, keysOf(tbl))
	assert.Equal(t, 1, stats.Identity.Excluded)
	assert.Equal(t, 1, stats.Usage.Excluded)
	assert.Equal(t, 1, stats.Identity.BlankKeys)
}

func TestReconcile_DoesNotMutateInputs(t *testing.T) {
	identity := identityFixture()
	before := identity.Rows[0].Get("email").String()

	_, _, err := Reconcile(identity, usageFixture(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, before, identity.Rows[0].Get("email").String())
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "a@x.com", NormalizeKey("  A@X.Com\t"))
	// decomposed e + combining acute folds to the precomposed form
	assert.Equal(t, "jos\u00e9@x.com", NormalizeKey("JOSE\u0301@x.com"))
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, err := ParseDuplicatePolicy("Preserve")
	require.NoError(t, err)
	assert.Equal(t, Preserve, p)

	p, err = ParseDuplicatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Collapse, p)

	_, err = ParseDuplicatePolicy("merge")
	assert.Error(t, err)
}

func TestEngine_Build(t *testing.T) {
	engine := NewEngine(
		source.NewStatic("identity", identityFixture()),
		source.NewStatic("usage", usageFixture()),
		DefaultOptions(),
	)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tbl, stats, err := engine.Build(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, now, tbl.BuiltAt)
	assert.NotEmpty(t, tbl.ID)
	assert.Equal(t, 2, stats.Identity.Rows)
}

func TestEngine_FetchError(t *testing.T) {
	engine := NewEngine(
		source.NewStatic("identity", identityFixture()),
		source.NewFailing("usage", errors.New("sheet unavailable")),
		DefaultOptions(),
	)

	_, _, err := engine.Build(context.Background(), time.Now())
	require.Error(t, err)

	var fe *source.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "usage", fe.Source)
	assert.ErrorIs(t, err, source.ErrFetch)
	assert.NotErrorIs(t, err, ErrMissingKey)
}
