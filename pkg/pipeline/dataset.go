// CLAUDE:SUMMARY Loaded, normalized and year-restricted revenue and expenditure tables plus the derived views (balance, aggregates, hub flows, hierarchical chains).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hazyhaar/fiscalflow/pkg/aggregate"
	"github.com/hazyhaar/fiscalflow/pkg/config"
	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/hazyhaar/fiscalflow/pkg/flow"
	"github.com/hazyhaar/fiscalflow/pkg/report"
	"github.com/hazyhaar/fiscalflow/pkg/schema"
	"github.com/hazyhaar/fiscalflow/pkg/tabular"
)

// Dataset holds both tables restricted to the focus years. It is never
// modified after Load; every view derives new tables.
type Dataset struct {
	Revenue     *fiscal.Table
	Expenditure *fiscal.Table
	// Years is the union of the years kept in either table.
	Years    []int
	Labels   config.Labels
	LoadedAt time.Time
}

func schemaFor(name string, cfg *config.Config) (schema.Schema, error) {
	s, err := schema.Get(name)
	if err != nil {
		return schema.Schema{}, err
	}
	if extra := cfg.Renames[name]; len(extra) > 0 {
		s = s.WithRenames(extra)
	}
	return s.WithPlaceholder(cfg.Labels.NotClassified), nil
}

func readTable(path string, s schema.Schema, mode tabular.NumericMode, cfg *config.Config) (*fiscal.Table, *tabular.Frame, error) {
	r := &tabular.Reader{
		Delimiter: cfg.Delimiter(),
		Encodings: cfg.Input.Encodings,
		Numeric:   mode,
		Columns:   s.SourceColumns(),
	}
	f, err := r.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	t, err := schema.Normalize(f, s)
	if err != nil {
		return nil, nil, fmt.Errorf("normalize %s: %w", path, err)
	}
	return t, f, nil
}

// Load reads the raw revenue file and the unified expenditure file, maps
// both onto the canonical columns and restricts them to the configured
// years.
func Load(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	revSchema, err := schemaFor("revenue", cfg)
	if err != nil {
		return nil, err
	}
	rev, revFrame, err := readTable(cfg.Input.Revenue, revSchema, tabular.RawLocale, cfg)
	if err != nil {
		return nil, fmt.Errorf("load revenue: %w", err)
	}
	if n := revFrame.TotalFallbacks(); n > 0 {
		logger.Warn("numeric values replaced by zero", "file", cfg.Input.Revenue, "count", n, "columns", revFrame.Fallbacks)
	}

	expSchema, err := schemaFor("expenditure", cfg)
	if err != nil {
		return nil, err
	}
	exp, _, err := readTable(cfg.Output.Unified, expSchema, tabular.DecimalComma, cfg)
	if err != nil {
		return nil, fmt.Errorf("load expenditure: %w", err)
	}

	rev, revYears, err := fiscal.Restrict(rev, cfg.Years)
	if err != nil {
		return nil, err
	}
	exp, expYears, err := fiscal.Restrict(exp, cfg.Years)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(revYears, cfg.Years) || !slices.Equal(expYears, cfg.Years) {
		logger.Info("focus years adjusted to the data", "configured", cfg.Years,
			"revenue", revYears, "expenditure", expYears)
	}

	years := slices.Concat(revYears, expYears)
	slices.Sort(years)
	years = slices.Compact(years)

	logger.Info("dataset loaded", "revenue_rows", rev.Len(), "expenditure_rows", exp.Len(), "years", years)
	return &Dataset{
		Revenue:     rev,
		Expenditure: exp,
		Years:       years,
		Labels:      cfg.Labels,
		LoadedAt:    time.Now(),
	}, nil
}

// Table returns the table of the given kind.
func (d *Dataset) Table(kind fiscal.Kind) (*fiscal.Table, error) {
	switch kind {
	case fiscal.Revenue:
		return d.Revenue, nil
	case fiscal.Expenditure:
		return d.Expenditure, nil
	}
	return nil, fmt.Errorf("unknown table %q", kind)
}

// subset keeps the rows of years. No years means the whole table; years
// absent from the data are an error rather than a silent fallback.
func subset(t *fiscal.Table, years []int) (*fiscal.Table, error) {
	if len(years) == 0 {
		return t, nil
	}
	out := fiscal.FilterYears(t, years)
	if out.Len() == 0 {
		return nil, fmt.Errorf("%s years %v: %w", t.Kind, years, fiscal.ErrEmptyResult)
	}
	return out, nil
}

// Balance computes the headline indicators for years (all when empty).
func (d *Dataset) Balance(years []int) (*report.Balance, error) {
	rev, err := subset(d.Revenue, years)
	if err != nil {
		return nil, err
	}
	exp, err := subset(d.Expenditure, years)
	if err != nil {
		return nil, err
	}
	return report.NewBalance(rev, exp)
}

// Execution sums the budget execution stages for years.
func (d *Dataset) Execution(years []int) ([]report.Stage, error) {
	exp, err := subset(d.Expenditure, years)
	if err != nil {
		return nil, err
	}
	return report.Execution(exp)
}

// Monthly compares revenue and expenditure month by month for years.
func (d *Dataset) Monthly(years []int) ([]report.MonthPoint, error) {
	rev, err := subset(d.Revenue, years)
	if err != nil {
		return nil, err
	}
	exp, err := subset(d.Expenditure, years)
	if err != nil {
		return nil, err
	}
	return report.Monthly(rev, exp)
}

// AggregateQuery selects an aggregated view.
type AggregateQuery struct {
	Kind    fiscal.Kind
	Path    []fiscal.Column
	Measure fiscal.Column
	Years   []int
	// Top limits the view. On a single-column path the remainder is summed
	// under the "other" label; on deeper paths rows outside the top values
	// of the innermost column are dropped.
	Top int
}

// Aggregate runs q.
func (d *Dataset) Aggregate(q AggregateQuery) ([]aggregate.Group, error) {
	t, err := d.Table(q.Kind)
	if err != nil {
		return nil, err
	}
	if t, err = subset(t, q.Years); err != nil {
		return nil, err
	}
	measure := q.Measure
	if measure == "" {
		measure = q.Kind.Realized()
	}
	if len(q.Path) == 0 {
		return nil, fmt.Errorf("aggregate %s: %w", q.Kind, aggregate.ErrBadPath)
	}

	if q.Top > 0 {
		if len(q.Path) == 1 {
			return aggregate.CollapseSum(t, q.Path[0], measure, q.Top, d.otherLabel(q.Kind))
		}
		if t, err = aggregate.KeepTop(t, q.Path[len(q.Path)-1], measure, q.Top); err != nil {
			return nil, err
		}
	}
	return aggregate.Aggregate(t, q.Path, measure)
}

func (d *Dataset) otherLabel(kind fiscal.Kind) string {
	if kind == fiscal.Revenue {
		return d.Labels.OtherSources
	}
	return d.Labels.OtherSinks
}

// sourceDimension is the revenue breakdown feeding the hub: the revenue
// type when exported, the origin otherwise.
func sourceDimension(t *fiscal.Table) fiscal.Column {
	if t.Has(fiscal.RevenueType) {
		return fiscal.RevenueType
	}
	return fiscal.Origin
}

// Flows builds one hub graph per year: revenue by type into the hub, hub
// into expenditure by function. Top-N categories are chosen over all the
// selected years together, so each year shows the same categories.
func (d *Dataset) Flows(years []int, topSources, topSinks int) ([]flow.YearGraph, error) {
	rev, err := subset(d.Revenue, years)
	if err != nil {
		return nil, err
	}
	exp, err := subset(d.Expenditure, years)
	if err != nil {
		return nil, err
	}
	if len(years) == 0 {
		years = d.Years
	}

	src := sourceDimension(rev)
	return flow.BuildByYear(d.Labels.Hub, years,
		flow.Sequence{
			Table:   rev,
			Path:    []fiscal.Column{src},
			Measure: rev.Kind.Realized(),
			Role:    flow.Source,
			Limit:   &flow.Limit{Column: src, N: topSources, Sentinel: d.Labels.OtherSources},
		},
		flow.Sequence{
			Table:   exp,
			Path:    []fiscal.Column{fiscal.Function},
			Measure: exp.Kind.Realized(),
			Role:    flow.Sink,
			Limit:   &flow.Limit{Column: fiscal.Function, N: topSinks, Sentinel: d.Labels.OtherSinks},
		},
	)
}

// DefaultChain is the budget hierarchy of each table, from the broadest
// level down.
func DefaultChain(kind fiscal.Kind) []fiscal.Column {
	if kind == fiscal.Revenue {
		return []fiscal.Column{fiscal.Origin, fiscal.Species, fiscal.RevenueType}
	}
	return []fiscal.Column{fiscal.Category, fiscal.Nature, fiscal.Element}
}

// Chain decomposes a table along path under a single root ("TOTAL
// EXPENDITURE" -> category -> nature -> element). top > 0 keeps only the
// rows of the top values of the innermost level.
func (d *Dataset) Chain(kind fiscal.Kind, path []fiscal.Column, years []int, top int) (*flow.Graph, error) {
	t, err := d.Table(kind)
	if err != nil {
		return nil, err
	}
	if t, err = subset(t, years); err != nil {
		return nil, err
	}
	if len(path) == 0 {
		path = DefaultChain(kind)
	}

	root := d.Labels.TotalExpenditure
	if kind == fiscal.Revenue {
		root = d.Labels.TotalRevenue
	}
	seq := flow.Sequence{Table: t, Path: path, Measure: kind.Realized(), Role: flow.Sink}
	if top > 0 {
		seq.Limit = &flow.Limit{Column: path[len(path)-1], N: top, Drop: true}
	}
	return flow.Build(root, seq)
}
