/*
Package export writes a filtered view of the reconciled table for download.

# Formats

  - csv: header of the table's columns, one line per row, nulls empty
  - json: a metadata block plus rows; nulls are JSON null
  - xlsx: one "data" sheet, every cell as text

The JSON metadata records which table and filter produced the rows:

	{
	  "metadata": {
	    "exported_at": "2024-06-01T08:00:00Z",
	    "table_id": "5f0c...",
	    "built_at": "2024-06-01T00:00:00Z",
	    "filter_hash": "9ae1c0d2b4f6a811",
	    "row_count": 2,
	    "columns": ["email", "nama", "price"],
	    "format": "json",
	    "version": "1.0"
	  },
	  "rows": [
	    {"email": "a@x.com", "nama": "Ann", "price": "100"},
	    {"email": "b@x.com", "nama": "Bob", "price": null}
	  ]
	}

# Usage

	exp := export.NewExporter()
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
	    httpx.RespondError(w, http.StatusBadRequest, err)
	    return
	}
	_ = exp.Serve(w, view, format)
*/
package export
