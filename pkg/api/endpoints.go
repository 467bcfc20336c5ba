package api

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/hazyhaar/fiscalflow/pkg/flow"
	"github.com/hazyhaar/fiscalflow/pkg/kit"
	"github.com/hazyhaar/fiscalflow/pkg/pipeline"
	"github.com/hazyhaar/fiscalflow/pkg/report"
	"github.com/shopspring/decimal"
)

// Shared request/response types used by both HTTP and MCP transports.

var validate = validator.New()

// Limits are the top-N values used when a request does not set them.
type Limits struct {
	TopSources int
	TopSinks   int
	ChainTop   int
}

type yearsResponse struct {
	Years       []int     `json:"years"`
	Revenue     []int     `json:"revenue_years"`
	Expenditure []int     `json:"expenditure_years"`
	LoadedAt    time.Time `json:"loaded_at"`
}

type balanceReq struct {
	Years []int `validate:"dive,gte=1900,lte=2200"`
}

type aggregateReq struct {
	Table   string   `validate:"oneof=revenue expenditure"`
	Path    []string `validate:"min=1,max=4,dive,required"`
	Measure string
	Years   []int `validate:"dive,gte=1900,lte=2200"`
	Top     int   `validate:"gte=0,lte=1000"`
}

type groupJSON struct {
	Key   []string        `json:"key"`
	Value decimal.Decimal `json:"value"`
}

type aggregateResponse struct {
	Table   string          `json:"table"`
	Path    []string        `json:"path"`
	Measure string          `json:"measure"`
	Groups  []groupJSON     `json:"groups"`
	Total   decimal.Decimal `json:"total"`
}

type flowsReq struct {
	Years      []int `validate:"dive,gte=1900,lte=2200"`
	TopSources int   `validate:"gte=0,lte=1000"`
	TopSinks   int   `validate:"gte=0,lte=1000"`
}

type chainReq struct {
	Table string   `validate:"oneof=revenue expenditure"`
	Path  []string `validate:"max=4,dive,required"`
	Years []int    `validate:"dive,gte=1900,lte=2200"`
	Top   int      `validate:"gte=0,lte=1000"`
}

type nodeJSON struct {
	ID    int      `json:"id"`
	Stage int      `json:"stage"`
	Role  string   `json:"role"`
	Label string   `json:"label"`
	Path  []string `json:"path,omitempty"`
}

type linkJSON struct {
	Source      int             `json:"source"`
	Target      int             `json:"target"`
	SourceLabel string          `json:"source_label"`
	TargetLabel string          `json:"target_label"`
	Value       decimal.Decimal `json:"value"`
}

type graphJSON struct {
	Year  int        `json:"year,omitempty"`
	Nodes []nodeJSON `json:"nodes"`
	Links []linkJSON `json:"links"`
}

type flowsResponse struct {
	Graphs []graphJSON `json:"graphs"`
}

func toGraphJSON(year int, g *flow.Graph) graphJSON {
	out := graphJSON{
		Year:  year,
		Nodes: make([]nodeJSON, len(g.Nodes)),
		Links: make([]linkJSON, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = nodeJSON{ID: n.ID, Stage: n.Stage, Role: n.Role.String(), Label: n.Label, Path: n.Path}
	}
	for i, e := range g.Edges {
		out.Links[i] = linkJSON{
			Source:      e.Source,
			Target:      e.Target,
			SourceLabel: g.Nodes[e.Source].Label,
			TargetLabel: g.Nodes[e.Target].Label,
			Value:       e.Value,
		}
	}
	return out
}

// --- request decoding, shared by HTTP query strings and MCP arguments ---

// params looks up a raw request parameter; missing ones are "".
type params func(name string) string

func listParam(p params, name string) []string {
	raw := p(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func yearsParam(p params) ([]int, error) {
	var years []int
	for _, s := range listParam(p, "years") {
		y, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("years: %q is not a year", s)
		}
		years = append(years, y)
	}
	return years, nil
}

func intParam(p params, name string, def int) (int, error) {
	raw := strings.TrimSpace(p(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", name, raw)
	}
	return n, nil
}

func checked(req any) (any, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

func decodeBalance(p params) (any, error) {
	years, err := yearsParam(p)
	if err != nil {
		return nil, err
	}
	return checked(&balanceReq{Years: years})
}

func decodeAggregate(p params) (any, error) {
	years, err := yearsParam(p)
	if err != nil {
		return nil, err
	}
	top, err := intParam(p, "top", 0)
	if err != nil {
		return nil, err
	}
	return checked(&aggregateReq{
		Table:   p("table"),
		Path:    listParam(p, "path"),
		Measure: p("measure"),
		Years:   years,
		Top:     top,
	})
}

func decodeFlows(lim Limits) func(params) (any, error) {
	return func(p params) (any, error) {
		years, err := yearsParam(p)
		if err != nil {
			return nil, err
		}
		req := &flowsReq{Years: years}
		if req.TopSources, err = intParam(p, "top_sources", lim.TopSources); err != nil {
			return nil, err
		}
		if req.TopSinks, err = intParam(p, "top_sinks", lim.TopSinks); err != nil {
			return nil, err
		}
		return checked(req)
	}
}

func decodeChain(lim Limits) func(params) (any, error) {
	return func(p params) (any, error) {
		years, err := yearsParam(p)
		if err != nil {
			return nil, err
		}
		top, err := intParam(p, "top", lim.ChainTop)
		if err != nil {
			return nil, err
		}
		table := p("table")
		if table == "" {
			table = string(fiscal.Expenditure)
		}
		return checked(&chainReq{Table: table, Path: listParam(p, "path"), Years: years, Top: top})
	}
}

func columns(names []string) []fiscal.Column {
	out := make([]fiscal.Column, len(names))
	for i, n := range names {
		out[i] = fiscal.Column(n)
	}
	return out
}

// --- endpoints ---

type endpoints struct {
	years     kit.Endpoint
	balance   kit.Endpoint
	execution kit.Endpoint
	monthly   kit.Endpoint
	aggregate kit.Endpoint
	flows     kit.Endpoint
	chain     kit.Endpoint
}

func makeEndpoints(h *Holder, logger *slog.Logger) endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(logger, name))(ep)
	}
	return endpoints{
		years:     wrap("years", yearsEndpoint(h)),
		balance:   wrap("balance", balanceEndpoint(h)),
		execution: wrap("execution", executionEndpoint(h)),
		monthly:   wrap("monthly", monthlyEndpoint(h)),
		aggregate: wrap("aggregate", aggregateEndpoint(h)),
		flows:     wrap("flows", flowsEndpoint(h)),
		chain:     wrap("chain", chainEndpoint(h)),
	}
}

func yearsEndpoint(h *Holder) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		ds, err := h.Dataset()
		if err != nil {
			return nil, err
		}
		return yearsResponse{
			Years:       ds.Years,
			Revenue:     fiscal.Years(ds.Revenue),
			Expenditure: fiscal.Years(ds.Expenditure),
			LoadedAt:    ds.LoadedAt,
		}, nil
	}
}

func balanceEndpoint(h *Holder) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*balanceReq)
		ds, err := h.Dataset()
		if err != nil {
			return nil, err
		}
		return ds.Balance(req.Years)
	}
}

func executionEndpoint(h *Holder) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*balanceReq)
		ds, err := h.Dataset()
		if err != nil {
			return nil, err
		}
		stages, err := ds.Execution(req.Years)
		if err != nil {
			return nil, err
		}
		return map[string][]report.Stage{"stages": stages}, nil
	}
}

func monthlyEndpoint(h *Holder) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*balanceReq)
		ds, err := h.Dataset()
		if err != nil {
			return nil, err
		}
		points, err := ds.Monthly(req.Years)
		if err != nil {
			return nil, err
		}
		return map[string][]report.MonthPoint{"months": points}, nil
	}
}

func aggregateEndpoint(h *Holder) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*aggregateReq)
		ds, err := h.Dataset()
		if err != nil {
			return nil, err
		}
		kind := fiscal.Kind(req.Table)
		q := pipeline.AggregateQuery{
			Kind:    kind,
			Path:    columns(req.Path),
			Measure: fiscal.Column(req.Measure),
			Years:   req.Years,
			Top:     req.Top,
		}
		if q.Measure == "" {
			q.Measure = kind.Realized()
		}
		groups, err := ds.Aggregate(q)
		if err != nil {
			return nil, err
		}
		resp := aggregateResponse{
			Table:   req.Table,
			Path:    req.Path,
			Measure: string(q.Measure),
			Groups:  make([]groupJSON, len(groups)),
			Total:   decimal.Zero,
		}
		for i, g := range groups {
			resp.Groups[i] = groupJSON{Key: g.Key, Value: g.Value()}
			resp.Total = resp.Total.Add(g.Value())
		}
		return resp, nil
	}
}

func flowsEndpoint(h *Holder) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*flowsReq)
		ds, err := h.Dataset()
		if err != nil {
			return nil, err
		}
		graphs, err := ds.Flows(req.Years, req.TopSources, req.TopSinks)
		if err != nil {
			return nil, err
		}
		resp := flowsResponse{Graphs: make([]graphJSON, len(graphs))}
		for i, yg := range graphs {
			resp.Graphs[i] = toGraphJSON(yg.Year, yg.Graph)
		}
		return resp, nil
	}
}

func chainEndpoint(h *Holder) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*chainReq)
		ds, err := h.Dataset()
		if err != nil {
			return nil, err
		}
		g, err := ds.Chain(fiscal.Kind(req.Table), columns(req.Path), req.Years, req.Top)
		if err != nil {
			return nil, err
		}
		return toGraphJSON(0, g), nil
	}
}
