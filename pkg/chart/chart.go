// Package chart turns leaderboards and trend series into quickchart.io image
// and table URLs, so any client can embed them without a charting library.
package chart

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	quickchartgo "github.com/henomis/quickchart-go"
	"github.com/nicktill/adoptboard/pkg/analytics"
	"github.com/nicktill/adoptboard/pkg/config"
)

const tableEndpoint = "https://api.quickchart.io/v1/table"

// Config is a Chart.js configuration.
type Config struct {
	Type    string                 `json:"type"`
	Data    Data                   `json:"data"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// Data holds the labels and series of a chart. A label is a string or, when
// wrapped, a list of lines.
type Data struct {
	Labels   []interface{} `json:"labels"`
	DataSets []Dataset     `json:"datasets"`
}

// Dataset is one series.
type Dataset struct {
	Label       string        `json:"label"`
	Data        []interface{} `json:"data"`
	Fill        bool          `json:"fill"`
	LineTension float32       `json:"lineTension"`
}

// TableConfig is a quickchart table.
type TableConfig struct {
	Title      string        `json:"title"`
	Columns    []Column      `json:"columns"`
	DataSource []interface{} `json:"dataSource"`
}

// Column is one table column.
type Column struct {
	Width     int    `json:"width"`
	Title     string `json:"title"`
	DataIndex string `json:"dataIndex"`
}

// WrapLabel splits text into lines of at most words words.
func WrapLabel(text string, words int) []string {
	fields := strings.Fields(text)
	if words <= 0 || len(fields) <= words {
		return []string{strings.Join(fields, " ")}
	}
	var lines []string
	for i := 0; i < len(fields); i += words {
		end := i + words
		if end > len(fields) {
			end = len(fields)
		}
		lines = append(lines, strings.Join(fields[i:end], " "))
	}
	return lines
}

// Leaderboard charts one metric of a grouped result. Titles are long, so the
// titles board is drawn as horizontal bars with wrapped labels.
func Leaderboard(res analytics.Result, metric string) Config {
	cfg := Config{
		Type: "bar",
		Data: Data{
			Labels:   make([]interface{}, 0, len(res.Groups)),
			DataSets: []Dataset{{Label: metric, Data: make([]interface{}, 0, len(res.Groups))}},
		},
		Options: map[string]interface{}{
			"title":  map[string]interface{}{"display": true, "text": res.Title},
			"legend": map[string]interface{}{"display": false},
		},
	}
	if res.Name == analytics.ReportTitles {
		cfg.Type = "horizontalBar"
	}

	for _, g := range res.Groups {
		if cfg.Type == "horizontalBar" {
			cfg.Data.Labels = append(cfg.Data.Labels, WrapLabel(g.Key, config.ChartLabelWords))
		} else {
			cfg.Data.Labels = append(cfg.Data.Labels, g.Key)
		}
		cfg.Data.DataSets[0].Data = append(cfg.Data.DataSets[0].Data, g.Float(metric))
	}
	return cfg
}

// Trend charts a trend series as a line.
func Trend(s analytics.Series) Config {
	cfg := Config{
		Type: "line",
		Data: Data{
			Labels:   make([]interface{}, 0, len(s.Points)),
			DataSets: []Dataset{{Label: s.ValueField, Data: make([]interface{}, 0, len(s.Points))}},
		},
		Options: map[string]interface{}{
			"title": map[string]interface{}{
				"display": true,
				"text":    fmt.Sprintf("%s per %s", s.ValueField, s.Granularity),
			},
		},
	}
	for _, p := range s.Points {
		cfg.Data.Labels = append(cfg.Data.Labels, p.Label)
		cfg.Data.DataSets[0].Data = append(cfg.Data.DataSets[0].Data, p.Sum.InexactFloat64())
	}
	return cfg
}

// Table renders every column of a grouped result as a quickchart table.
func Table(res analytics.Result) TableConfig {
	tc := TableConfig{Title: res.Title}
	tc.Columns = append(tc.Columns, Column{Width: 200, Title: res.Key, DataIndex: res.Key})
	for _, c := range res.Columns {
		tc.Columns = append(tc.Columns, Column{Width: 120, Title: c, DataIndex: c})
	}
	for _, g := range res.Groups {
		row := map[string]interface{}{res.Key: g.Key}
		for _, c := range res.Columns {
			row[c] = g.Float(c)
		}
		tc.DataSource = append(tc.DataSource, row)
	}
	return tc
}

// URL returns the quickchart image URL for cfg.
func URL(cfg Config) (string, error) {
	bytes, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chart config: %w", err)
	}
	qc := quickchartgo.New()
	qc.Config = string(bytes)
	u, err := qc.GetUrl()
	if err != nil {
		return "", fmt.Errorf("failed to get chart url: %w", err)
	}
	return u, nil
}

// TableURL returns the quickchart table URL for tc.
func TableURL(tc TableConfig) (string, error) {
	bytes, err := json.Marshal(tc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal table config: %w", err)
	}
	return fmt.Sprintf("%s?data=%s", tableEndpoint, url.QueryEscape(string(bytes))), nil
}
