package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/nicktill/adoptboard/pkg/dataset"
)

// Supported source formats.
const (
	FormatCSV    = "csv"
	FormatJSON   = "json"
	FormatSheets = "sheets"
)

// Warning is a non-fatal issue found while parsing a row.
type Warning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// DecodeText converts raw bytes to UTF-8. A UTF-8 or UTF-16 byte order mark
// selects the encoding; input without a BOM that isn't valid UTF-8 is read as
// Latin-1, which is what older spreadsheet exports produce.
func DecodeText(data []byte) ([]byte, error) {
	var fallback transform.Transformer = encoding.Nop.NewDecoder()
	if !utf8.Valid(data) {
		fallback = charmap.ISO8859_1.NewDecoder()
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(fallback), data)
	if err != nil {
		return nil, fmt.Errorf("decode text: %w", err)
	}
	return out, nil
}

// ParseCSV parses CSV bytes into a record set. Ragged rows are padded or
// truncated to the header width and reported as warnings. An input with no
// header yields a record set without columns, which reconciliation rejects as
// a schema problem rather than treating it as an empty source.
func ParseCSV(name string, data []byte) (*dataset.RecordSet, []Warning, error) {
	decoded, err := DecodeText(data)
	if err != nil {
		return nil, nil, err
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return dataset.NewRecordSet(name), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header row: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	rs := dataset.NewRecordSet(name, headers...)
	var warnings []Warning
	rowNum := 1

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			warnings = append(warnings, Warning{Row: rowNum, Message: fmt.Sprintf("parse error: %v", err)})
			continue
		}

		if len(record) != len(headers) {
			warnings = append(warnings, Warning{
				Row:     rowNum,
				Message: fmt.Sprintf("row has %d columns, expected %d", len(record), len(headers)),
			})
			if len(record) < len(headers) {
				padded := make([]string, len(headers))
				copy(padded, record)
				record = padded
			} else {
				record = record[:len(headers)]
			}
		}

		row := make(dataset.Row, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			row[h] = dataset.Cell(record[i])
		}
		rs.Rows = append(rs.Rows, row)
	}

	return rs, warnings, nil
}

// CSVFile reads a CSV export from disk on every fetch.
type CSVFile struct {
	name string
	path string
}

// NewCSVFile creates a file-backed source.
func NewCSVFile(name, path string) *CSVFile {
	return &CSVFile{name: name, path: path}
}

// Name returns the source name.
func (f *CSVFile) Name() string { return f.name }

// Fetch reads and parses the file.
func (f *CSVFile) Fetch(ctx context.Context) (*dataset.RecordSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Source: f.name, Err: err}
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, &FetchError{Source: f.name, Err: err}
	}
	rs, warnings, err := ParseCSV(f.name, data)
	if err != nil {
		return nil, &FetchError{Source: f.name, Err: err}
	}
	logWarnings(f.name, warnings)
	return rs, nil
}

func logWarnings(name string, warnings []Warning) {
	if len(warnings) == 0 {
		return
	}
	log.WithFields(log.Fields{
		"source":   name,
		"warnings": len(warnings),
		"first":    warnings[0].Message,
	}).Warn("Source parsed with row warnings")
}
