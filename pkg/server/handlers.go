package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/mux"
	"github.com/nicktill/adoptboard/pkg/analytics"
	"github.com/nicktill/adoptboard/pkg/chart"
	"github.com/nicktill/adoptboard/pkg/config"
	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/nicktill/adoptboard/pkg/export"
	"github.com/nicktill/adoptboard/pkg/filter"
	"github.com/nicktill/adoptboard/pkg/httpx"
	"github.com/nicktill/adoptboard/pkg/live"
	"github.com/nicktill/adoptboard/pkg/reconcile"
	"github.com/nicktill/adoptboard/pkg/server/monitor"
	"github.com/nicktill/adoptboard/pkg/storage"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// ReportTrend names the trend chart.
const ReportTrend = "trend"

var startTime = time.Now()

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Cache   *reconcile.Cache
	Monitor *monitor.RefreshMonitor
	Store   storage.SnapshotStore // optional, reported by /health
	Hub     *live.Hub             // optional, serves /ws
	Memo    *analytics.Memo       // optional

	Limits         analytics.Limits
	InitialBalance decimal.NullDecimal // defaults to config.DefaultInitialBalance
	DefaultFrom    time.Time
	Clock          reconcile.Clock
}

// Handler serves the dashboard API over the cached reconciled table.
type Handler struct {
	cache    *reconcile.Cache
	monitor  *monitor.RefreshMonitor
	store    storage.SnapshotStore
	hub      *live.Hub
	memo     *analytics.Memo
	exporter *export.Exporter
	reports  map[string]analytics.GroupSpec
	summary  analytics.SummaryConfig
	from     time.Time
	clock    reconcile.Clock
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Cache == nil {
		return nil, errors.New("handler: cache is required")
	}
	if cfg.Monitor == nil {
		cfg.Monitor = monitor.NewRefreshMonitor(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = reconcile.SystemClock
	}
	if cfg.Limits == (analytics.Limits{}) {
		cfg.Limits = analytics.DefaultLimits()
	}
	if !cfg.InitialBalance.Valid {
		cfg.InitialBalance = decimal.NewNullDecimal(decimal.RequireFromString(config.DefaultInitialBalance))
	}
	reports := analytics.Reports(cfg.Limits)
	for _, spec := range reports {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("handler: report %s: %w", spec.Name, err)
		}
	}

	return &Handler{
		cache:    cfg.Cache,
		monitor:  cfg.Monitor,
		store:    cfg.Store,
		hub:      cfg.Hub,
		memo:     cfg.Memo,
		exporter: export.NewExporter(),
		reports:  reports,
		summary:  analytics.SummaryConfig{InitialBalance: cfg.InitialBalance.Decimal},
		from:     cfg.DefaultFrom,
		clock:    cfg.Clock,
	}, nil
}

// Meta describes the table a response was computed from.
type Meta struct {
	TableID     string    `json:"table_id"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Stale       bool      `json:"stale"`
	Error       string    `json:"error,omitempty"`
	Rows        int       `json:"rows"`
	TotalRows   int       `json:"total_rows"`
	FilterHash  string    `json:"filter_hash,omitempty"`
}

// FailedResponse is the flagged empty dataset sent when no table can be
// served at all.
type FailedResponse struct {
	Status    string        `json:"status"`
	ErrorKind string        `json:"error_kind"`
	Message   string        `json:"message"`
	Columns   []string      `json:"columns"`
	Rows      []dataset.Row `json:"rows"`
}

// TableResponse is a page of filtered rows.
type TableResponse struct {
	Meta    Meta          `json:"meta"`
	Columns []string      `json:"columns"`
	Rows    []dataset.Row `json:"rows"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// SummaryResponse carries scalar metrics.
type SummaryResponse struct {
	Meta    Meta              `json:"meta"`
	Summary analytics.Summary `json:"summary"`
}

// GroupResponse carries one leaderboard.
type GroupResponse struct {
	Meta   Meta             `json:"meta"`
	Result analytics.Result `json:"result"`
}

// TrendResponse carries a trend series.
type TrendResponse struct {
	Meta   Meta             `json:"meta"`
	Series analytics.Series `json:"series"`
}

// OptionsResponse lists the filter choices of the whole table.
type OptionsResponse struct {
	Meta     Meta     `json:"meta"`
	Wilayah  []string `json:"wilayah"`
	Category []string `json:"category"`
}

// ChartResponse carries quickchart URLs.
type ChartResponse struct {
	Meta     Meta   `json:"meta"`
	Name     string `json:"name"`
	Metric   string `json:"metric,omitempty"`
	URL      string `json:"url"`
	TableURL string `json:"table_url,omitempty"`
}

// RefreshResponse reports a forced rebuild.
type RefreshResponse struct {
	Status    string          `json:"status"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
	Meta      Meta            `json:"meta"`
	Stats     reconcile.Stats `json:"stats"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                `json:"status"`
	Version   string                `json:"version"`
	Uptime    string                `json:"uptime"`
	Refresh   monitor.RefreshStatus `json:"refresh"`
	Snapshots *storage.Stats        `json:"snapshots,omitempty"`
	Clients   int                   `json:"clients"`
}

// request is a loaded snapshot plus the filtered view a request asked for.
type request struct {
	snap reconcile.Snapshot
	view *dataset.View
}

func (rq *request) meta() Meta {
	m := Meta{
		TableID:     rq.snap.Table.ID,
		RefreshedAt: rq.snap.RefreshedAt,
		Stale:       rq.snap.Stale,
		Rows:        rq.view.Len(),
		TotalRows:   rq.snap.Table.Len(),
	}
	if rq.snap.Err != nil {
		m.Error = rq.snap.Err.Error()
	}
	if rq.view.FilterHash != 0 {
		m.FilterHash = fmt.Sprintf("%016x", rq.view.FilterHash)
	}
	return m
}

func (rq *request) etag(extra ...uint64) string {
	parts := append([]uint64{rq.snap.Table.Fingerprint(), rq.view.FilterHash}, extra...)
	return httpx.ETag(parts...)
}

// variant hashes the parameters that select a representation of the same
// filtered view.
func variant(parts ...string) uint64 {
	return xxhash.Sum64String(strings.Join(parts, "\x00"))
}

// load fetches the current table and applies the request's filters. On
// failure the response has been written and ok is false.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*request, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	snap, err := h.cache.Get(ctx)
	if err != nil {
		respondFailed(w, err)
		return nil, false
	}
	if snap.Stale {
		w.Header().Set("X-Adoptboard-Stale", "true")
	}

	set, err := filter.ParseQuery(r.URL.Query(), filter.Defaults{From: h.from, Now: h.clock.Now()})
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return &request{snap: snap, view: filter.Apply(snap.Table, set)}, true
}

func respondFailed(w http.ResponseWriter, err error) {
	log.WithError(err).Warn("No reconciled table to serve")
	httpx.RespondJSON(w, http.StatusServiceUnavailable, FailedResponse{
		Status:    "failed",
		ErrorKind: monitor.Kind(err),
		Message:   err.Error(),
		Columns:   []string{},
		Rows:      []dataset.Row{},
	})
}

// HandleTable returns a page of filtered rows.
func (h *Handler) HandleTable(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	rq, ok := h.load(w, r)
	if !ok {
		return
	}
	if httpx.NotModified(w, r, rq.etag(uint64(limit), uint64(offset))) {
		return
	}

	rows := rq.view.Rows
	if offset > len(rows) {
		offset = len(rows)
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}

	httpx.RespondJSON(w, http.StatusOK, TableResponse{
		Meta:    rq.meta(),
		Columns: rq.snap.Table.Columns,
		Rows:    rows[offset:end],
		Limit:   limit,
		Offset:  offset,
	})
}

// HandleSummary returns scalar metrics of the filtered view.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	rq, ok := h.load(w, r)
	if !ok {
		return
	}
	if httpx.NotModified(w, r, rq.etag()) {
		return
	}

	summary := analytics.Memoize(h.memo, analytics.KeyFor(rq.view, "summary"), func() analytics.Summary {
		return analytics.Summarize(rq.view, h.summary)
	})
	httpx.RespondJSON(w, http.StatusOK, SummaryResponse{Meta: rq.meta(), Summary: summary})
}

// HandleGroup returns one leaderboard.
func (h *Handler) HandleGroup(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	spec, found := h.reports[name]
	if !found {
		httpx.RespondErrorString(w, http.StatusNotFound, fmt.Sprintf("unknown report %q", name))
		return
	}
	rq, ok := h.load(w, r)
	if !ok {
		return
	}
	if httpx.NotModified(w, r, rq.etag(variant("group", name))) {
		return
	}

	httpx.RespondJSON(w, http.StatusOK, GroupResponse{Meta: rq.meta(), Result: h.aggregate(rq.view, spec)})
}

func (h *Handler) aggregate(v *dataset.View, spec analytics.GroupSpec) analytics.Result {
	return analytics.Memoize(h.memo, analytics.KeyFor(v, "group:"+spec.Name), func() analytics.Result {
		return analytics.Aggregate(v, spec)
	})
}

// HandleTrend returns a week or month trend series.
func (h *Handler) HandleTrend(w http.ResponseWriter, r *http.Request) {
	spec, err := parseTrend(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	rq, ok := h.load(w, r)
	if !ok {
		return
	}
	if httpx.NotModified(w, r, rq.etag(variant("trend", string(spec.Granularity), spec.DateField, spec.ValueField))) {
		return
	}

	httpx.RespondJSON(w, http.StatusOK, TrendResponse{Meta: rq.meta(), Series: h.trend(rq.view, spec)})
}

func (h *Handler) trend(v *dataset.View, spec analytics.TrendSpec) analytics.Series {
	key := analytics.KeyFor(v, fmt.Sprintf("trend:%s:%s:%s", spec.Granularity, spec.DateField, spec.ValueField))
	return analytics.Memoize(h.memo, key, func() analytics.Series {
		return analytics.Trend(v, spec)
	})
}

// HandleOptions lists the region and category filter choices.
func (h *Handler) HandleOptions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	snap, err := h.cache.Get(ctx)
	if err != nil {
		respondFailed(w, err)
		return
	}
	rq := &request{snap: snap, view: snap.Table.All()}
	if httpx.NotModified(w, r, rq.etag()) {
		return
	}

	resp := analytics.Memoize(h.memo, analytics.KeyFor(rq.view, "options"), func() OptionsResponse {
		return OptionsResponse{
			Wilayah:  filter.Options(snap.Table, dataset.FieldRegion),
			Category: filter.Options(snap.Table, dataset.FieldCategory),
		}
	})
	resp.Meta = rq.meta()
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleExport downloads the filtered view as csv, json or xlsx.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	rq, ok := h.load(w, r)
	if !ok {
		return
	}
	// Headers are already sent when Serve fails; it logs the error.
	_ = h.exporter.Serve(w, rq.view, format)
}

// HandleChart returns quickchart URLs for a leaderboard or the trend.
func (h *Handler) HandleChart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	spec, isReport := h.reports[name]
	if !isReport && name != ReportTrend {
		httpx.RespondErrorString(w, http.StatusNotFound, fmt.Sprintf("unknown chart %q", name))
		return
	}
	var trendSpec analytics.TrendSpec
	if !isReport {
		var err error
		if trendSpec, err = parseTrend(r); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
	}
	rq, ok := h.load(w, r)
	if !ok {
		return
	}

	resp := ChartResponse{Name: name}
	var err error
	if isReport {
		res := h.aggregate(rq.view, spec)
		resp.Metric = r.URL.Query().Get("metric")
		if resp.Metric == "" {
			resp.Metric = spec.SortBy
		}
		if resp.Metric == "" && len(res.Columns) > 0 {
			resp.Metric = res.Columns[0]
		}
		if !hasColumn(res, resp.Metric) {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("report %q has no metric %q", name, resp.Metric))
			return
		}
		if resp.URL, err = chart.URL(chart.Leaderboard(res, resp.Metric)); err == nil {
			resp.TableURL, err = chart.TableURL(chart.Table(res))
		}
	} else {
		resp.Metric = trendSpec.ValueField
		resp.URL, err = chart.URL(chart.Trend(h.trend(rq.view, trendSpec)))
	}
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	resp.Meta = rq.meta()
	httpx.RespondJSON(w, http.StatusOK, resp)
}

func hasColumn(res analytics.Result, metric string) bool {
	for _, c := range res.Columns {
		if c == metric {
			return true
		}
	}
	return false
}

// HandleRefresh forces a rebuild from the sources.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.cache.Refresh(r.Context())

	resp := RefreshResponse{Status: "ok", Stats: snap.Stats}
	if snap.Table != nil {
		rq := &request{snap: snap, view: snap.Table.All()}
		resp.Meta = rq.meta()
	}
	if err != nil {
		resp.Status = "failed"
		resp.ErrorKind = monitor.Kind(err)
		resp.Message = err.Error()
		httpx.RespondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleHealth returns service health status.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.monitor.Status()
	overallStatus := "healthy"
	statusCode := http.StatusOK
	if !status.Healthy {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:  overallStatus,
		Version: Version,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Refresh: status,
	}
	if h.store != nil {
		stats, err := h.store.Stats(r.Context())
		if err != nil {
			log.WithError(err).Warn("Failed to read snapshot stats")
		} else {
			response.Snapshots = stats
		}
	}
	if h.hub != nil {
		response.Clients = h.hub.ClientCount()
	}

	httpx.RespondJSON(w, statusCode, response)
}

func parsePage(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = config.DefaultPageLimit
	if s := q.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("invalid limit %q: must be a positive integer", s)
		}
		if limit > config.MaxPageLimit {
			limit = config.MaxPageLimit
		}
	}
	if s := q.Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q: must be a non-negative integer", s)
		}
	}
	return limit, offset, nil
}

func parseTrend(r *http.Request) (analytics.TrendSpec, error) {
	q := r.URL.Query()
	g, err := analytics.ParseGranularity(q.Get("granularity"))
	if err != nil {
		return analytics.TrendSpec{}, err
	}
	spec := analytics.TrendSpec{
		DateField:   q.Get("date_field"),
		ValueField:  q.Get("field"),
		Granularity: g,
	}
	if spec.DateField == "" {
		spec.DateField = dataset.FieldEnrollDate
	}
	if spec.ValueField == "" {
		spec.ValueField = dataset.FieldPrice
	}
	return spec, nil
}
