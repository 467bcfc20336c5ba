package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hazyhaar/fiscalflow/pkg/aggregate"
	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/hazyhaar/fiscalflow/pkg/flow"
	"github.com/hazyhaar/fiscalflow/pkg/kit"
	"github.com/hazyhaar/fiscalflow/pkg/metrics"
)

// Options configures the router and the MCP tools.
type Options struct {
	Limits  Limits
	Metrics *metrics.Metrics // optional; enables /metrics and request metrics
	Logger  *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// NewRouter returns an http.Handler with all fiscalflow API routes.
func NewRouter(holder *Holder, opts Options) http.Handler {
	mux := http.NewServeMux()
	ep := makeEndpoints(holder, opts.logger())
	h := &handler{holder: holder}

	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.HandleFunc("GET /v1/years", h.serve(ep.years, nil))
	mux.HandleFunc("GET /v1/balance", h.serve(ep.balance, decodeBalance))
	mux.HandleFunc("GET /v1/execution", h.serve(ep.execution, decodeBalance))
	mux.HandleFunc("GET /v1/monthly", h.serve(ep.monthly, decodeBalance))
	mux.HandleFunc("GET /v1/aggregate", h.serve(ep.aggregate, decodeAggregate))
	mux.HandleFunc("GET /v1/flows", h.serve(ep.flows, decodeFlows(opts.Limits)))
	mux.HandleFunc("GET /v1/chain", h.serve(ep.chain, decodeChain(opts.Limits)))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	return cors(opts.Metrics.Middleware(mux))
}

type handler struct {
	holder *Holder
}

// serve decodes the query string, runs ep and writes its JSON response.
func (h *handler) serve(ep kit.Endpoint, decode func(params) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req any
		if decode != nil {
			var err error
			if req, err = decode(r.URL.Query().Get); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), id)

		resp, err := ep(ctx, req)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// --- health ---

type healthResponse struct {
	Status          string `json:"status"`
	Years           []int  `json:"years,omitempty"`
	RevenueRows     int    `json:"revenue_rows"`
	ExpenditureRows int    `json:"expenditure_rows"`
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ds, err := h.holder.Dataset()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "loading"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		Years:           ds.Years,
		RevenueRows:     ds.Revenue.Len(),
		ExpenditureRows: ds.Expenditure.Len(),
	})
}

// --- helpers ---

// statusFor maps query errors to HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	var missing *fiscal.ColumnMissingError
	switch {
	case errors.Is(err, ErrNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, fiscal.ErrEmptyResult):
		return http.StatusNotFound
	case errors.As(err, &verrs), errors.As(err, &missing),
		errors.Is(err, aggregate.ErrBadPath), errors.Is(err, aggregate.ErrNegativeN),
		errors.Is(err, flow.ErrBadSequence):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// cors is a simple CORS middleware for browser-based dashboards.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
