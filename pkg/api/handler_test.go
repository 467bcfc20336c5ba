package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/fiscalflow/pkg/aggregate"
	"github.com/hazyhaar/fiscalflow/pkg/config"
	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/hazyhaar/fiscalflow/pkg/metrics"
	"github.com/hazyhaar/fiscalflow/pkg/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func revRow(year int, month, origin, species, typ, amount string) fiscal.Row {
	return fiscal.Row{
		Year:  year,
		Month: month,
		Labels: map[fiscal.Column]string{
			fiscal.Origin: origin, fiscal.Species: species, fiscal.RevenueType: typ,
		},
		Amounts: map[fiscal.Column]decimal.Decimal{fiscal.RealizedAmount: decimal.RequireFromString(amount)},
	}
}

func expRow(year int, month, function, element, category, nature string, budgeted, paid, committed, verified int64) fiscal.Row {
	return fiscal.Row{
		Year:  year,
		Month: month,
		Labels: map[fiscal.Column]string{
			fiscal.Function: function, fiscal.Element: element,
			fiscal.Category: category, fiscal.Nature: nature,
		},
		Amounts: map[fiscal.Column]decimal.Decimal{
			fiscal.Budgeted:  decimal.NewFromInt(budgeted),
			fiscal.Paid:      decimal.NewFromInt(paid),
			fiscal.Committed: decimal.NewFromInt(committed),
			fiscal.Verified:  decimal.NewFromInt(verified),
		},
	}
}

func testDataset() *pipeline.Dataset {
	return &pipeline.Dataset{
		Revenue: &fiscal.Table{
			Kind: fiscal.Revenue,
			Columns: []fiscal.Column{
				fiscal.Year, fiscal.Month, fiscal.Origin, fiscal.Species, fiscal.RevenueType, fiscal.RealizedAmount,
			},
			Rows: []fiscal.Row{
				revRow(2023, "1", "RECEITA TRIBUTÁRIA", "IMPOSTOS", "IPTU", "1000"),
				revRow(2023, "2", "TRANSFERÊNCIAS CORRENTES", "FPM", "FPM", "2000"),
				revRow(2022, "1", "RECEITA TRIBUTÁRIA", "IMPOSTOS", "ISS", "500"),
			},
		},
		Expenditure: &fiscal.Table{
			Kind: fiscal.Expenditure,
			Columns: []fiscal.Column{
				fiscal.Year, fiscal.Month, fiscal.Function, fiscal.Element, fiscal.Category, fiscal.Nature,
				fiscal.Budgeted, fiscal.Paid, fiscal.Committed, fiscal.Verified,
			},
			Rows: []fiscal.Row{
				expRow(2023, "1", "SAÚDE", "SALÁRIOS", "CORRENTES", "PESSOAL", 2000, 1500, 1800, 1600),
				expRow(2023, "2", "EDUCAÇÃO", "OBRAS", "CAPITAL", "INVESTIMENTOS", 1000, 1000, 1000, 1000),
				expRow(2022, "1", "SAÚDE", "SALÁRIOS", "CORRENTES", "PESSOAL", 600, 400, 500, 450),
			},
		},
		Years:    []int{2022, 2023},
		Labels:   config.Defaults().Labels,
		LoadedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func loadedHolder(t *testing.T) *Holder {
	t.Helper()
	h := NewHolder(func(context.Context) (*pipeline.Dataset, error) { return testDataset(), nil })
	require.NoError(t, h.Reload(context.Background()))
	return h
}

func testOptions() Options {
	return Options{
		Limits: Limits{TopSources: 5, TopSinks: 5, ChainTop: 20},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	router := NewRouter(loadedHolder(t), testOptions())
	rec, body := get(t, router, "/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 3.0, body["revenue_rows"])
}

func TestHealth_NotLoaded(t *testing.T) {
	h := NewHolder(func(context.Context) (*pipeline.Dataset, error) { return nil, errors.New("boom") })
	router := NewRouter(h, testOptions())

	rec, body := get(t, router, "/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "loading", body["status"])

	rec, _ = get(t, router, "/v1/balance")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestYears(t *testing.T) {
	router := NewRouter(loadedHolder(t), testOptions())
	rec, body := get(t, router, "/v1/years")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{2022.0, 2023.0}, body["years"])
	assert.Equal(t, "2024-01-02T03:04:05Z", body["loaded_at"])
}

func TestBalance(t *testing.T) {
	router := NewRouter(loadedHolder(t), testOptions())

	rec, body := get(t, router, "/v1/balance?years=2023")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "3000", body["revenue"])
	assert.Equal(t, "2500", body["expenditure"])
	assert.Equal(t, "500", body["result"])
	assert.Equal(t, "16.67", body["margin_pct"])
	assert.Equal(t, "1000", body["own_revenue"])

	tests := []struct {
		target string
		want   int
	}{
		{"/v1/balance", http.StatusOK},
		{"/v1/balance?years=1999", http.StatusNotFound},
		{"/v1/balance?years=abc", http.StatusBadRequest},
		{"/v1/balance?years=12", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec, _ := get(t, router, tt.target)
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.target, rec.Code, tt.want)
		}
	}
}

func TestExecutionAndMonthly(t *testing.T) {
	router := NewRouter(loadedHolder(t), testOptions())

	rec, body := get(t, router, "/v1/execution")
	require.Equal(t, http.StatusOK, rec.Code)
	stages := body["stages"].([]any)
	require.Len(t, stages, 4)
	assert.Equal(t, "budgeted", stages[0].(map[string]any)["name"])
	assert.Equal(t, "3600", stages[0].(map[string]any)["amount"])

	rec, body = get(t, router, "/v1/monthly?years=2023")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["months"], 2)
}

func TestAggregate(t *testing.T) {
	router := NewRouter(loadedHolder(t), testOptions())

	rec, body := get(t, router, "/v1/aggregate?table=expenditure&path=function&top=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", body["measure"])
	assert.Equal(t, "2900", body["total"])
	groups := body["groups"].([]any)
	require.Len(t, groups, 2)
	first := groups[0].(map[string]any)
	assert.Equal(t, []any{"SAÚDE"}, first["key"])
	assert.Equal(t, "1900", first["value"])
	assert.Equal(t, []any{"OTHER FUNCTIONS"}, groups[1].(map[string]any)["key"])

	rec, body = get(t, router, "/v1/aggregate?table=expenditure&path=category,nature&measure=budgeted&years=2023")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "3000", body["total"])
}

func TestAggregate_BadRequests(t *testing.T) {
	router := NewRouter(loadedHolder(t), testOptions())
	tests := []struct {
		target string
		want   int
	}{
		{"/v1/aggregate?table=payroll&path=function", http.StatusBadRequest},
		{"/v1/aggregate?table=expenditure", http.StatusBadRequest},
		{"/v1/aggregate?table=expenditure&path=agency", http.StatusBadRequest},
		{"/v1/aggregate?table=expenditure&path=function&measure=function", http.StatusBadRequest},
		{"/v1/aggregate?table=expenditure&path=function&top=x", http.StatusBadRequest},
		{"/v1/aggregate?table=expenditure&path=function&top=-1", http.StatusBadRequest},
		{"/v1/aggregate?table=revenue&path=origin&years=2019", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec, body := get(t, router, tt.target)
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d (%v)", tt.target, rec.Code, tt.want, body["error"])
		}
	}
}

func TestFlows(t *testing.T) {
	router := NewRouter(loadedHolder(t), testOptions())

	rec, body := get(t, router, "/v1/flows?years=2023&top_sources=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	graphs := body["graphs"].([]any)
	require.Len(t, graphs, 1)
	g := graphs[0].(map[string]any)
	assert.Equal(t, 2023.0, g["year"])

	links := g["links"].([]any)
	require.Len(t, links, 4)
	var labels []string
	for _, l := range links {
		m := l.(map[string]any)
		labels = append(labels, fmt.Sprintf("%s>%s=%s", m["source_label"], m["target_label"], m["value"]))
	}
	assert.Equal(t, []string{
		"OTHER SOURCES>TREASURY=1000",
		"FPM>TREASURY=2000",
		"TREASURY>SAÚDE=1500",
		"TREASURY>EDUCAÇÃO=1000",
	}, labels)
}

func TestFlows_AllYears(t *testing.T) {
	router := NewRouter(loadedHolder(t), testOptions())
	rec, body := get(t, router, "/v1/flows")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["graphs"], 2)
}

func TestChain(t *testing.T) {
	router := NewRouter(loadedHolder(t), testOptions())

	rec, body := get(t, router, "/v1/chain?top=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	nodes := body["nodes"].([]any)
	require.Len(t, nodes, 4)
	root := nodes[0].(map[string]any)
	assert.Equal(t, "TOTAL EXPENDITURE", root["label"])
	assert.Equal(t, "hub", root["role"])
	assert.Len(t, body["links"], 3)

	rec, body = get(t, router, "/v1/chain?table=revenue&path=origin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TOTAL REVENUE", body["nodes"].([]any)[0].(map[string]any)["label"])
	assert.Len(t, body["links"], 2)
}

func TestRequestIDAndCORS(t *testing.T) {
	router := NewRouter(loadedHolder(t), testOptions())

	req := httptest.NewRequest(http.MethodGet, "/v1/years", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/years", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Empty(t, rec.Header().Get("X-Request-ID"), "health does not go through an endpoint")
}

func TestMetricsRoute(t *testing.T) {
	m, err := metrics.New()
	require.NoError(t, err)
	opts := testOptions()
	opts.Metrics = m
	router := NewRouter(loadedHolder(t), opts)

	get(t, router, "/v1/years")
	get(t, router, "/v1/balance?years=1999")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCount.WithLabelValues("200", "GET", "/v1/years")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCount.WithLabelValues("404", "GET", "/v1/balance")))

	get(t, router, "/v1/nope/1")
	get(t, router, "/v1/nope/2")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestCount.WithLabelValues("404", "GET", "unmatched")))

	rec, _ := get(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fiscalflow_requests_total")
}

func TestHolder_ReloadKeepsPreviousOnError(t *testing.T) {
	calls := 0
	h := NewHolder(func(context.Context) (*pipeline.Dataset, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("unreadable")
		}
		return testDataset(), nil
	})
	_, err := h.Dataset()
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, h.Reload(context.Background()))
	first, err := h.Dataset()
	require.NoError(t, err)

	assert.Error(t, h.Reload(context.Background()))
	second, err := h.Dataset()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNotLoaded, http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", fiscal.ErrEmptyResult), http.StatusNotFound},
		{&fiscal.ColumnMissingError{Kind: fiscal.Revenue, Column: fiscal.Origin}, http.StatusBadRequest},
		{fmt.Errorf("x: %w", aggregate.ErrBadPath), http.StatusBadRequest},
		{errors.New("disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
