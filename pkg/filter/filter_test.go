package filter

import (
	"net/url"
	"testing"
	"time"

	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() *dataset.Table {
	cell := dataset.Cell
	rows := []dataset.Row{
		{"email": cell("ann@corp.com"), "wilayah_id": cell("Jakarta"), "category_name": cell("Tech"), "enroll_date": cell("2024-01-10")},
		{"email": cell("bob@corp.com"), "wilayah_id": cell("Bandung"), "category_name": cell("Soft Skill"), "enroll_date": cell("")},
		{"email": cell("cy@other.com"), "wilayah_id": cell(""), "category_name": cell("Tech"), "enroll_date": cell("2024-02-01")},
		{"email": cell("dee@corp.com"), "wilayah_id": cell("Jakarta"), "category_name": cell(""), "enroll_date": cell("garbage")},
		{"email": cell("eve@corp.com"), "wilayah_id": cell("Jakarta"), "category_name": cell("Tech"), "enroll_date": cell("2024-01-31 18:30:00")},
	}
	return (&dataset.Table{
		Key:            "email",
		IdentitySuffix: "_id",
		UsageSuffix:    "_bpjs",
		Columns:        []string{"email", "wilayah_id", "category_name", "enroll_date"},
		Rows:           rows,
	}).Seal()
}

func emails(v *dataset.View) []string {
	var out []string
	for _, r := range v.Rows {
		out = append(out, r.Get("email").String())
	}
	return out
}

func day(s string) time.Time {
	t, _ := time.Parse(DateLayout, s)
	return t
}

func TestApply_EmptySetReturnsWholeTable(t *testing.T) {
	tbl := fixture()
	v := Apply(tbl, Set{Text{Field: "email"}, Membership{Field: "wilayah"}, DateRange{Field: "enroll_date"}})

	assert.Equal(t, tbl.Len(), v.Len())
	assert.Equal(t, uint64(0), v.FilterHash)
}

func TestText(t *testing.T) {
	v := Apply(fixture(), Set{Text{Field: "email", Query: "CORP"}})
	assert.Equal(t, []string{"ann@corp.com", "bob@corp.com", "dee@corp.com", "eve@corp.com"}, emails(v))

	// null cells fail a non-empty query
	v = Apply(fixture(), Set{Text{Field: "category_name", Query: "e"}})
	assert.NotContains(t, emails(v), "dee@corp.com")

	// unknown field behaves like an all-null column
	v = Apply(fixture(), Set{Text{Field: "nope", Query: "x"}})
	assert.Equal(t, 0, v.Len())
}

func TestDateRange_NullInclusive(t *testing.T) {
	v := Apply(fixture(), Set{DateRange{Field: "enroll_date", From: day("2024-01-01"), To: day("2024-01-31")}})

	got := emails(v)
	assert.Contains(t, got, "ann@corp.com")
	assert.Contains(t, got, "bob@corp.com", "null date passes")
	assert.Contains(t, got, "dee@corp.com", "unparsable date passes")
	assert.Contains(t, got, "eve@corp.com", "to bound covers the whole day")
	assert.NotContains(t, got, "cy@other.com", "2024-02-01 is outside the range")
}

func TestDateRange_OpenBounds(t *testing.T) {
	v := Apply(fixture(), Set{DateRange{Field: "enroll_date", From: day("2024-02-01")}})
	assert.Equal(t, []string{"bob@corp.com", "cy@other.com", "dee@corp.com"}, emails(v))
}

func TestMembership(t *testing.T) {
	v := Apply(fixture(), Set{Membership{Field: "wilayah", Values: []string{"Jakarta"}}})
	assert.Equal(t, []string{"ann@corp.com", "dee@corp.com", "eve@corp.com"}, emails(v), "resolves suffixed column, null fails")
}

func TestApply_AndIsOrderIndependent(t *testing.T) {
	a := Text{Field: "email", Query: "corp"}
	b := Membership{Field: "category_name", Values: []string{"Tech"}}
	c := DateRange{Field: "enroll_date", From: day("2024-01-01"), To: day("2024-01-31")}

	v1 := Apply(fixture(), Set{a, b, c})
	v2 := Apply(fixture(), Set{c, a, b})

	assert.Equal(t, emails(v1), emails(v2))
	assert.Equal(t, []string{"ann@corp.com", "eve@corp.com"}, emails(v1))
	assert.Equal(t, Set{a, b, c}.Fingerprint(), Set{c, a, b}.Fingerprint())
	assert.NotEqual(t, uint64(0), v1.FilterHash)
}

func TestApply_Idempotent(t *testing.T) {
	s := Set{Text{Field: "email", Query: "corp"}, Membership{Field: "wilayah", Values: []string{"Jakarta", "Bandung"}}}
	once := Apply(fixture(), s)
	twice := Narrow(once, s)

	assert.Equal(t, emails(once), emails(twice))
	assert.Equal(t, once.FilterHash, twice.FilterHash)
}

func TestApply_DoesNotMutateTable(t *testing.T) {
	tbl := fixture()
	before := tbl.Fingerprint()
	_ = Apply(tbl, Set{Text{Field: "email", Query: "ann"}})

	assert.Equal(t, 5, tbl.Len())
	assert.Equal(t, before, (&dataset.Table{Columns: tbl.Columns, Rows: tbl.Rows}).Seal().Fingerprint())
}

func TestFingerprint_DistinguishesSets(t *testing.T) {
	a := Set{Membership{Field: "wilayah", Values: []string{"Jakarta", "Bandung"}}}
	b := Set{Membership{Field: "wilayah", Values: []string{"Bandung", "Jakarta"}}}
	c := Set{Membership{Field: "wilayah", Values: []string{"Jakarta"}}}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Equal(t, uint64(0), Set{}.Fingerprint())
}

func TestParseQuery(t *testing.T) {
	d := Defaults{From: day("2024-01-01"), Now: day("2024-06-30")}
	q := url.Values{
		"email":      {"corp"},
		"wilayah":    {"Jakarta", "", "Jakarta"},
		"category":   {"Tech"},
		"text.title": {"go"},
		"in.voucher": {"V1"},
		"unrelated":  {"x"},
		"to":         {"2024-01-31"},
	}

	s, err := ParseQuery(q, d)
	require.NoError(t, err)
	require.Len(t, s, 6)

	assert.Equal(t, Text{Field: "email", Query: "corp"}, s[0])
	assert.Equal(t, DateRange{Field: "enroll_date", From: day("2024-01-01"), To: day("2024-01-31")}, s[1])
	assert.Equal(t, Membership{Field: "wilayah", Values: []string{"Jakarta"}}, s[2])
	assert.Equal(t, Membership{Field: "category_name", Values: []string{"Tech"}}, s[3])
	assert.Equal(t, Membership{Field: "voucher", Values: []string{"V1"}}, s[4])
	assert.Equal(t, Text{Field: "title", Query: "go"}, s[5])
}

func TestParseQuery_Defaults(t *testing.T) {
	d := Defaults{From: day("2024-01-01"), Now: day("2024-06-30")}

	s, err := ParseQuery(url.Values{}, d)
	require.NoError(t, err)
	require.Len(t, s, 1)
	assert.Equal(t, DateRange{Field: "enroll_date", From: d.From, To: d.Now}, s[0])

	s, err = ParseQuery(url.Values{"from": {""}, "to": {""}}, d)
	require.NoError(t, err)
	assert.False(t, s[0].Active(), "empty bounds open the window")
}

func TestParseQuery_Errors(t *testing.T) {
	d := Defaults{From: day("2024-01-01"), Now: day("2024-06-30")}

	_, err := ParseQuery(url.Values{"from": {"01/02/2024"}}, d)
	assert.Error(t, err)

	_, err = ParseQuery(url.Values{"from": {"2024-05-01"}, "to": {"2024-04-01"}}, d)
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	assert.Equal(t, []string{"Bandung", "Jakarta"}, Options(fixture(), "wilayah"))
	assert.Equal(t, []string{"Soft Skill", "Tech"}, Options(fixture(), "category_name"))
	assert.Empty(t, Options(fixture(), "missing"))
}
