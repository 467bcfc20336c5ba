package fiscal

import (
	"fmt"
	"slices"
)

// Years returns the distinct fiscal years in t, ascending. Rows whose year
// could not be parsed (0) are not counted.
func Years(t *Table) []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range t.Rows {
		if r.Year != 0 && !seen[r.Year] {
			seen[r.Year] = true
			out = append(out, r.Year)
		}
	}
	slices.Sort(out)
	return out
}

// FilterYears keeps the rows whose year is in years.
func FilterYears(t *Table, years []int) *Table {
	return t.Where(func(r Row) bool { return slices.Contains(years, r.Year) })
}

// EffectiveYears intersects allowed with the years present in t. When the
// configured list shares no year with the data it is considered stale and
// every year present is used instead.
func EffectiveYears(t *Table, allowed []int) []int {
	present := Years(t)
	var out []int
	for _, y := range present {
		if slices.Contains(allowed, y) {
			out = append(out, y)
		}
	}
	if len(out) == 0 {
		return present
	}
	return out
}

// Restrict filters t to its effective years and returns them. An empty
// result is an error rather than a silently empty table.
func Restrict(t *Table, allowed []int) (*Table, []int, error) {
	years := EffectiveYears(t, allowed)
	out := FilterYears(t, years)
	if out.Len() == 0 {
		return nil, nil, fmt.Errorf("%s years %v: %w", t.Kind, allowed, ErrEmptyResult)
	}
	return out, years, nil
}
