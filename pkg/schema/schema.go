package schema

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/hazyhaar/fiscalflow/pkg/money"
	"github.com/hazyhaar/fiscalflow/pkg/tabular"
	"github.com/shopspring/decimal"
)

// Schema maps one family of source exports onto the canonical columns.
type Schema struct {
	Name string
	Kind fiscal.Kind
	// Renames maps source header names to canonical columns. A header that
	// already equals a wanted canonical name needs no entry.
	Renames map[string]fiscal.Column
	// Wanted lists the canonical columns to keep, in output order.
	Wanted []fiscal.Column
	// Categorical columns are trimmed, upper-cased and never left blank.
	Categorical []fiscal.Column
	// Placeholder replaces blank categorical values. Defaults to NotClassified.
	Placeholder string
}

// WithPlaceholder returns a copy of s using label for blank categorical cells.
func (s Schema) WithPlaceholder(label string) Schema {
	s.Placeholder = label
	return s
}

// WithRenames returns a copy of s with extra source-name mappings; extra
// entries win over built-in ones.
func (s Schema) WithRenames(extra map[string]string) Schema {
	renames := make(map[string]fiscal.Column, len(s.Renames)+len(extra))
	for k, v := range s.Renames {
		renames[k] = v
	}
	for k, v := range extra {
		renames[k] = fiscal.Column(v)
	}
	s.Renames = renames
	return s
}

// SourceColumns returns the source header names that map to measure columns,
// i.e. the fields a reader must convert as money.
func (s Schema) SourceColumns() []string {
	var out []string
	for src, col := range s.Renames {
		if fiscal.IsMeasure(col) {
			out = append(out, src)
		}
	}
	for _, col := range s.Wanted {
		if fiscal.IsMeasure(col) {
			out = append(out, string(col))
		}
	}
	sort.Strings(out)
	return out
}

func (s Schema) placeholder() string {
	if s.Placeholder == "" {
		return NotClassified
	}
	return s.Placeholder
}

func (s Schema) canonical(header string) (fiscal.Column, bool) {
	if c, ok := s.Renames[header]; ok {
		return c, true
	}
	for _, w := range s.Wanted {
		if string(w) == header {
			return w, true
		}
	}
	return "", false
}

// Normalize projects f onto the schema. Wanted columns missing from f are
// simply absent from the result. Several source headers may map to the same
// column (a unified frame carries every alias seen across years); each row
// takes the first non-empty one. It never fails on schema drift; the error
// return is kept for callers that chain it with reads.
func Normalize(f *tabular.Frame, s Schema) (*fiscal.Table, error) {
	idx := make(map[fiscal.Column][]int)
	for i, h := range f.Header {
		if c, ok := s.canonical(h); ok {
			idx[c] = append(idx[c], i)
		}
	}

	var cols []fiscal.Column
	for _, w := range s.Wanted {
		if _, ok := idx[w]; ok {
			cols = append(cols, w)
		}
	}

	categorical := make(map[fiscal.Column]bool, len(s.Categorical))
	for _, c := range s.Categorical {
		categorical[c] = true
	}
	placeholder := s.placeholder()

	rows := make([]fiscal.Row, 0, len(f.Rows))
	for _, rec := range f.Rows {
		row := fiscal.Row{
			Labels:  make(map[fiscal.Column]string),
			Amounts: make(map[fiscal.Column]decimal.Decimal),
		}
		for _, c := range cols {
			cell := firstFilled(rec, idx[c])
			switch {
			case c == fiscal.Year:
				row.Year = parseYear(cell)
			case c == fiscal.Month:
				row.Month = strings.TrimSpace(cell.Text)
			case fiscal.IsMeasure(c):
				if cell.Numeric {
					row.Amounts[c] = cell.Amount
				} else {
					row.Amounts[c] = money.Parse(cell.Text)
				}
			case categorical[c]:
				row.Labels[c] = NormalizeLabel(cell.Text, placeholder)
			default:
				row.Labels[c] = strings.TrimSpace(cell.Text)
			}
		}
		rows = append(rows, row)
	}

	return &fiscal.Table{Kind: s.Kind, Columns: cols, Rows: rows}, nil
}

func firstFilled(rec []tabular.Cell, positions []int) tabular.Cell {
	var first tabular.Cell
	for n, i := range positions {
		if i >= len(rec) {
			continue
		}
		if n == 0 {
			first = rec[i]
		}
		if c := rec[i]; c.Numeric || strings.TrimSpace(c.Text) != "" {
			return c
		}
	}
	return first
}

// parseYear accepts "2023", "2023.0" and "2023,0". Anything else is 0, which
// no year filter keeps.
func parseYear(c tabular.Cell) int {
	if c.Numeric {
		return int(c.Amount.IntPart())
	}
	s := strings.TrimSpace(c.Text)
	if y, err := strconv.Atoi(s); err == nil {
		return y
	}
	d, ok := money.ParseChecked(s)
	if !ok || s == "" || !d.Equal(d.Truncate(0)) {
		return 0
	}
	return int(d.IntPart())
}
