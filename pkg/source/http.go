package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nicktill/adoptboard/pkg/config"
	"github.com/nicktill/adoptboard/pkg/dataset"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxBodyBytes       = 64 << 20
)

// HTTP fetches a record set from a URL. It understands three body formats:
// CSV (e.g. a published spreadsheet's CSV export), a JSON array of objects,
// and the Sheets API "values" response where the first row is the header.
type HTTP struct {
	name    string
	url     string
	format  string
	token   string
	client  *http.Client
	maxBody int64
}

// NewHTTP creates an HTTP source.
func NewHTTP(name, url, format, token string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTP{
		name:    name,
		url:     url,
		format:  format,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		maxBody: maxBodyBytes,
	}
}

// Name returns the source name.
func (h *HTTP) Name() string { return h.name }

// Fetch downloads and decodes the body.
func (h *HTTP) Fetch(ctx context.Context) (*dataset.RecordSet, error) {
	body, err := h.get(ctx)
	if err != nil {
		return nil, &FetchError{Source: h.name, Err: err}
	}

	var rs *dataset.RecordSet
	switch h.format {
	case FormatJSON:
		rs, err = parseJSONObjects(h.name, body)
	case FormatSheets:
		rs, err = parseSheetValues(h.name, body)
	default:
		var warnings []Warning
		rs, warnings, err = ParseCSV(h.name, body)
		logWarnings(h.name, warnings)
	}
	if err != nil {
		return nil, &FetchError{Source: h.name, Err: err}
	}
	return rs, nil
}

func (h *HTTP) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > h.maxBody {
		return nil, fmt.Errorf("body exceeds %d bytes", h.maxBody)
	}
	return body, nil
}

// parseJSONObjects decodes `[{"email": "...", ...}, ...]`. Columns are the
// sorted union of all object keys. An empty array has no keys to union, so it
// yields an empty record set with just the key column.
func parseJSONObjects(name string, body []byte) (*dataset.RecordSet, error) {
	var rows []dataset.Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode json rows: %w", err)
	}
	if len(rows) == 0 {
		return dataset.NewRecordSet(name, config.DefaultKeyColumn), nil
	}

	seen := make(map[string]bool)
	for _, r := range rows {
		for k := range r {
			seen[k] = true
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	rs := dataset.NewRecordSet(name, columns...)
	rs.Rows = append(rs.Rows, rows...)
	return rs, nil
}

// sheetValues is the shape of a Sheets API values.get response.
type sheetValues struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

// parseSheetValues decodes a values.get response. Trailing empty cells are
// omitted by the API, so short rows are padded with nulls.
func parseSheetValues(name string, body []byte) (*dataset.RecordSet, error) {
	var sv sheetValues
	if err := json.Unmarshal(body, &sv); err != nil {
		return nil, fmt.Errorf("decode sheet values: %w", err)
	}
	if len(sv.Values) == 0 {
		return dataset.NewRecordSet(name), nil
	}

	headers := make([]string, len(sv.Values[0]))
	for i, h := range sv.Values[0] {
		headers[i] = strings.TrimSpace(h)
	}
	rs := dataset.NewRecordSet(name, headers...)
	for _, record := range sv.Values[1:] {
		row := make(dataset.Row, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = dataset.Cell(record[i])
			} else {
				row[h] = dataset.Null
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}
