package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/xuri/excelize/v2"
)

// Supported formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// SheetName is the worksheet holding exported rows.
const SheetName = "data"

// ContentTypes maps formats to response content types.
var ContentTypes = map[string]string{
	FormatJSON: "application/json",
	FormatCSV:  "text/csv",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ParseFormat validates a format name; empty means csv.
func ParseFormat(s string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(s))
	if f == "" {
		return FormatCSV, nil
	}
	if _, ok := ContentTypes[f]; !ok {
		return "", fmt.Errorf("invalid format %q: must be json, csv or xlsx", s)
	}
	return f, nil
}

// Exporter writes filtered views in downloadable formats.
type Exporter struct {
	now func() time.Time
}

// NewExporter creates a new exporter
func NewExporter() *Exporter {
	return &Exporter{now: time.Now}
}

// Metadata describes an export.
type Metadata struct {
	ExportedAt time.Time `json:"exported_at"`
	TableID    string    `json:"table_id"`
	BuiltAt    time.Time `json:"built_at"`
	FilterHash string    `json:"filter_hash,omitempty"`
	RowCount   int       `json:"row_count"`
	Columns    []string  `json:"columns"`
	Format     string    `json:"format"`
	Version    string    `json:"version"`
}

// Document is the JSON export layout.
type Document struct {
	Metadata Metadata      `json:"metadata"`
	Rows     []dataset.Row `json:"rows"`
}

// Result contains stats about the export
type Result struct {
	RowsExported int       `json:"rows_exported"`
	Format       string    `json:"format"`
	ExportedAt   time.Time `json:"exported_at"`
}

// Write exports v to w in format.
func (e *Exporter) Write(w io.Writer, v *dataset.View, format string) (*Result, error) {
	switch format {
	case FormatJSON:
		return e.ExportToJSON(w, v)
	case FormatCSV:
		return e.ExportToCSV(w, v)
	case FormatXLSX:
		return e.ExportToXLSX(w, v)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func (e *Exporter) metadata(v *dataset.View, format string) Metadata {
	md := Metadata{
		ExportedAt: e.now(),
		RowCount:   v.Len(),
		Columns:    columns(v),
		Format:     format,
		Version:    "1.0",
	}
	if v.Table != nil {
		md.TableID = v.Table.ID
		md.BuiltAt = v.Table.BuiltAt
	}
	if v.FilterHash != 0 {
		md.FilterHash = fmt.Sprintf("%016x", v.FilterHash)
	}
	return md
}

// ExportToJSON writes metadata plus rows. Null cells are JSON null.
func (e *Exporter) ExportToJSON(w io.Writer, v *dataset.View) (*Result, error) {
	doc := Document{Metadata: e.metadata(v, FormatJSON), Rows: v.Rows}
	if doc.Rows == nil {
		doc.Rows = []dataset.Row{}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &Result{RowsExported: v.Len(), Format: FormatJSON, ExportedAt: doc.Metadata.ExportedAt}, nil
}

// ExportToCSV writes a header of the table's columns and one line per row.
// Null cells are empty.
func (e *Exporter) ExportToCSV(w io.Writer, v *dataset.View) (*Result, error) {
	writer := csv.NewWriter(w)

	cols := columns(v)
	if err := writer.Write(cols); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(cols))
	for _, r := range v.Rows {
		for i, c := range cols {
			record[i] = r.Get(c).String()
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return &Result{RowsExported: v.Len(), Format: FormatCSV, ExportedAt: e.now()}, nil
}

// ExportToXLSX writes a workbook with one sheet. Cells are written as text so
// ids with leading zeros survive; null cells are left blank.
func (e *Exporter) ExportToXLSX(w io.Writer, v *dataset.View) (*Result, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sheet: %w", err)
	}

	cols := columns(v)
	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for n, r := range v.Rows {
		cells := make([]interface{}, len(cols))
		for i, c := range cols {
			if val := r.Get(c); !val.IsNull() {
				cells[i] = val.String()
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return nil, err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", n+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return &Result{RowsExported: v.Len(), Format: FormatXLSX, ExportedAt: e.now()}, nil
}

func columns(v *dataset.View) []string {
	if v == nil || v.Table == nil {
		return []string{}
	}
	return v.Table.Columns
}
