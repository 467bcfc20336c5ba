// CLAUDE:SUMMARY Group-by-and-sum over fiscal tables along a dimension path, prefix rollups, grand totals and stable descending sort.
package aggregate

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/shopspring/decimal"
)

// ErrBadPath is returned for an empty dimension path or measure list, or a
// rollup prefix out of range.
var ErrBadPath = errors.New("invalid aggregation path")

// Group is one aggregated bucket: the dimension values along the path and
// one summed value per requested measure.
type Group struct {
	Key    []string
	Values []decimal.Decimal
}

// Value returns the first measure's sum.
func (g Group) Value() decimal.Decimal {
	if len(g.Values) == 0 {
		return decimal.Zero
	}
	return g.Values[0]
}

// Label returns the innermost dimension value.
func (g Group) Label() string {
	if len(g.Key) == 0 {
		return ""
	}
	return g.Key[len(g.Key)-1]
}

// keySep cannot occur in a decoded CSV field.
const keySep = "\x00"

type accumulator struct {
	groups []Group
	index  map[string]int
}

func newAccumulator() *accumulator {
	return &accumulator{index: make(map[string]int)}
}

func (a *accumulator) add(key []string, values []decimal.Decimal) {
	k := strings.Join(key, keySep)
	i, ok := a.index[k]
	if !ok {
		i = len(a.groups)
		a.index[k] = i
		a.groups = append(a.groups, Group{
			Key:    slices.Clone(key),
			Values: make([]decimal.Decimal, len(values)),
		})
	}
	g := &a.groups[i]
	for m, v := range values {
		g.Values[m] = g.Values[m].Add(v)
	}
}

// Aggregate groups t by the columns in path and sums each measure. Groups
// come out in order of first appearance. Combinations absent from the data
// produce no group.
func Aggregate(t *fiscal.Table, path []fiscal.Column, measures ...fiscal.Column) ([]Group, error) {
	if len(path) == 0 || len(measures) == 0 {
		return nil, fmt.Errorf("aggregate %s: %w", t.Kind, ErrBadPath)
	}
	if err := t.Require(path...); err != nil {
		return nil, err
	}
	if err := t.Require(measures...); err != nil {
		return nil, err
	}
	for _, m := range measures {
		if !fiscal.IsMeasure(m) {
			return nil, fmt.Errorf("aggregate %s: %q is not a measure: %w", t.Kind, m, ErrBadPath)
		}
	}

	acc := newAccumulator()
	key := make([]string, len(path))
	values := make([]decimal.Decimal, len(measures))
	for _, r := range t.Rows {
		for i, c := range path {
			key[i] = r.Value(c)
		}
		for i, m := range measures {
			values[i] = r.Amount(m)
		}
		acc.add(key, values)
	}
	return acc.groups, nil
}

// Rollup re-aggregates groups by the first n key columns. The result equals
// aggregating the source table by that prefix.
func Rollup(groups []Group, n int) ([]Group, error) {
	acc := newAccumulator()
	for _, g := range groups {
		if n < 1 || n > len(g.Key) {
			return nil, fmt.Errorf("rollup to %d of %d columns: %w", n, len(g.Key), ErrBadPath)
		}
		acc.add(g.Key[:n], g.Values)
	}
	return acc.groups, nil
}

// Total returns the sum of measure over every row of t.
func Total(t *fiscal.Table, measure fiscal.Column) (decimal.Decimal, error) {
	if err := t.Require(measure); err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, r := range t.Rows {
		sum = sum.Add(r.Amount(measure))
	}
	return sum, nil
}

// Sum adds up the first measure of groups.
func Sum(groups []Group) decimal.Decimal {
	sum := decimal.Zero
	for _, g := range groups {
		sum = sum.Add(g.Value())
	}
	return sum
}

// SortDescending returns a copy of groups ordered by Value, largest first.
// Ties keep their input order.
func SortDescending(groups []Group) []Group {
	out := slices.Clone(groups)
	slices.SortStableFunc(out, func(a, b Group) int {
		return b.Value().Cmp(a.Value())
	})
	return out
}
