package aggregate

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
)

// ErrNegativeN is returned when a top-N limit is below zero.
var ErrNegativeN = errors.New("top-n limit must not be negative")

// Rank aggregates t by dim and orders the groups by measure, largest first.
func Rank(t *fiscal.Table, dim, measure fiscal.Column) ([]Group, error) {
	groups, err := Aggregate(t, []fiscal.Column{dim}, measure)
	if err != nil {
		return nil, err
	}
	return SortDescending(groups), nil
}

// TopN returns the n largest values of dim by measure. Fewer than n
// categories means all of them.
func TopN(t *fiscal.Table, dim, measure fiscal.Column, n int) ([]string, error) {
	if n < 0 {
		return nil, fmt.Errorf("top %d %s: %w", n, dim, ErrNegativeN)
	}
	ranked, err := Rank(t, dim, measure)
	if err != nil {
		return nil, err
	}
	n = min(n, len(ranked))
	out := make([]string, n)
	for i := range n {
		out[i] = ranked[i].Label()
	}
	return out, nil
}

func topSet(t *fiscal.Table, dim, measure fiscal.Column, n int) ([]string, map[string]bool, error) {
	if !fiscal.IsLabel(dim) {
		return nil, nil, fmt.Errorf("top-n on %q: not a label column: %w", dim, ErrBadPath)
	}
	top, err := TopN(t, dim, measure, n)
	if err != nil {
		return nil, nil, err
	}
	set := make(map[string]bool, len(top))
	for _, v := range top {
		set[v] = true
	}
	return top, set, nil
}

// Collapse relabels every row whose dim value is outside the top n (by
// measure) with sentinel. The input table is not modified; the result is
// always derived from t itself, so collapsing a collapsed table again does
// not compound.
func Collapse(t *fiscal.Table, dim, measure fiscal.Column, n int, sentinel string) (*fiscal.Table, error) {
	_, keep, err := topSet(t, dim, measure, n)
	if err != nil {
		return nil, err
	}
	rows := make([]fiscal.Row, len(t.Rows))
	for i, r := range t.Rows {
		if keep[r.Label(dim)] {
			rows[i] = r
		} else {
			rows[i] = r.WithLabel(dim, sentinel)
		}
	}
	return t.WithRows(rows), nil
}

// CollapseSum collapses t and sums measure per dim value. The kept
// categories come first in rank order, followed by the sentinel bucket when
// any row was collapsed.
func CollapseSum(t *fiscal.Table, dim, measure fiscal.Column, n int, sentinel string) ([]Group, error) {
	top, _, err := topSet(t, dim, measure, n)
	if err != nil {
		return nil, err
	}
	collapsed, err := Collapse(t, dim, measure, n, sentinel)
	if err != nil {
		return nil, err
	}
	groups, err := Aggregate(collapsed, []fiscal.Column{dim}, measure)
	if err != nil {
		return nil, err
	}

	byLabel := make(map[string]Group, len(groups))
	for _, g := range groups {
		byLabel[g.Label()] = g
	}
	out := make([]Group, 0, len(top)+1)
	for _, label := range top {
		out = append(out, byLabel[label])
		delete(byLabel, label)
	}
	if g, ok := byLabel[sentinel]; ok {
		out = append(out, g)
	}
	return out, nil
}

// KeepTop drops the rows whose dim value is outside the top n by measure.
func KeepTop(t *fiscal.Table, dim, measure fiscal.Column, n int) (*fiscal.Table, error) {
	_, keep, err := topSet(t, dim, measure, n)
	if err != nil {
		return nil, err
	}
	return t.Where(func(r fiscal.Row) bool { return keep[r.Label(dim)] }), nil
}
