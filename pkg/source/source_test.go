package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/adoptboard/pkg/dataset"
)

func TestParseCSV_Basic(t *testing.T) {
	data := []byte(" email ,nama,wilayah\nA@x.com,Ann,Jakarta\nb@x.com,,\n")

	rs, warnings, err := ParseCSV("identity", data)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"email", "nama", "wilayah"}, rs.Columns)
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, "A@x.com", rs.Rows[0].Get("email").String())
	assert.True(t, rs.Rows[1].Get("nama").IsNull())
}

func TestParseCSV_RaggedRows(t *testing.T) {
	data := []byte("email,nama\na@x.com\nb@x.com,Bob,extra\n")

	rs, warnings, err := ParseCSV("identity", data)
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
	require.Equal(t, 2, rs.Len())
	assert.True(t, rs.Rows[0].Get("nama").IsNull())
	assert.Equal(t, "Bob", rs.Rows[1].Get("nama").String())
}

func TestParseCSV_EmptyInputHasNoColumns(t *testing.T) {
	rs, _, err := ParseCSV("identity", nil)
	require.NoError(t, err)
	assert.Empty(t, rs.Columns)
	assert.False(t, rs.HasColumn("email"))
}

func TestParseCSV_HeaderOnlyIsEmptySource(t *testing.T) {
	rs, _, err := ParseCSV("usage", []byte("email,price\n"))
	require.NoError(t, err)
	assert.True(t, rs.HasColumn("email"))
	assert.Equal(t, 0, rs.Len())
}

func TestDecodeText(t *testing.T) {
	// UTF-8 BOM is stripped.
	out, err := DecodeText([]byte("\xEF\xBB\xBFemail"))
	require.NoError(t, err)
	assert.Equal(t, "email", string(out))

	// UTF-16 LE with BOM.
	out, err = DecodeText([]byte{0xFF, 0xFE, 'e', 0, 'm', 0})
	require.NoError(t, err)
	assert.Equal(t, "em", string(out))

	// Latin-1 fallback for invalid UTF-8.
	out, err = DecodeText([]byte{'J', 'o', 's', 0xE9})
	require.NoError(t, err)
	assert.Equal(t, "José", string(out))
}

func TestCSVFile_Fetch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.csv")
	require.NoError(t, os.WriteFile(path, []byte("email,nama\na@x.com,Ann\n"), 0644))

	rs, err := NewCSVFile("identity", path).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())

	_, err = NewCSVFile("identity", filepath.Join(dir, "missing.csv")).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetch))
	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "identity", ferr.Source)
}

func TestHTTP_FetchFormats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/csv":
			w.Write([]byte("email,price\na@x.com,100\n"))
		case "/json":
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`[{"email":"a@x.com","price":100,"voucher":null},{"email":"b@x.com"}]`))
		case "/sheets":
			w.Write([]byte(`{"range":"Sheet1!A1:C3","values":[["email","nama","wilayah"],["a@x.com","Ann"],["b@x.com","Bob","Bali"]]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	rs, err := NewHTTP("usage", srv.URL+"/csv", FormatCSV, "", 0).Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", rs.Rows[0].Get("price").String())

	rs, err = NewHTTP("usage", srv.URL+"/json", FormatJSON, "secret", 0).Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "price", "voucher"}, rs.Columns)
	assert.Equal(t, "100", rs.Rows[0].Get("price").String())
	assert.True(t, rs.Rows[1].Get("price").IsNull())

	rs, err = NewHTTP("identity", srv.URL+"/sheets", FormatSheets, "", 0).Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())
	assert.True(t, rs.Rows[0].Get("wilayah").IsNull())
	assert.Equal(t, "Bali", rs.Rows[1].Get("wilayah").String())

	_, err = NewHTTP("usage", srv.URL+"/json", FormatJSON, "", 0).Fetch(ctx)
	assert.ErrorIs(t, err, ErrFetch)

	_, err = NewHTTP("usage", srv.URL+"/boom", FormatCSV, "", 0).Fetch(ctx)
	assert.ErrorIs(t, err, ErrFetch)
}

func TestHTTP_OversizedBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("email,price\na@x.com,100\nb@x.com,200\n"))
	}))
	defer srv.Close()

	h := NewHTTP("usage", srv.URL, FormatCSV, "", 0)
	h.maxBody = 24

	rs, err := h.Fetch(context.Background())
	require.Error(t, err)
	assert.Nil(t, rs)
	assert.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "body exceeds 24 bytes")

	h.maxBody = 1024
	rs, err = h.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Len())
}

func TestHTTP_EmptyJSONArrayKeepsKeyColumn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	rs, err := NewHTTP("usage", srv.URL, FormatJSON, "", 0).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
	assert.Equal(t, []string{"email"}, rs.Columns)
}

func TestFromSpec(t *testing.T) {
	src, err := FromSpec(Spec{Name: "identity", Location: "https://example.com/x.csv"})
	require.NoError(t, err)
	assert.IsType(t, &HTTP{}, src)

	src, err = FromSpec(Spec{Name: "identity", Location: "/tmp/x.csv"})
	require.NoError(t, err)
	assert.IsType(t, &CSVFile{}, src)

	_, err = FromSpec(Spec{Name: "identity", Location: "/tmp/x.json", Format: "json"})
	assert.Error(t, err)

	_, err = FromSpec(Spec{Name: "identity"})
	assert.Error(t, err)

	_, err = FromSpec(Spec{Name: "identity", Location: "/tmp/x", Format: "xml"})
	assert.Error(t, err)
}

func TestStatic_FetchReturnsCopy(t *testing.T) {
	rs := dataset.NewRecordSet("identity", "email")
	rs.Append(dataset.Row{"email": dataset.Str("a@x.com")})
	src := NewStatic("identity", rs)

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	got.Rows[0]["email"] = dataset.Str("changed")

	assert.Equal(t, "a@x.com", rs.Rows[0].Get("email").String())

	_, err = NewFailing("usage", errors.New("down")).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFetch)
}
