// CLAUDE:SUMMARY Frame: header plus rows of text or decimal cells as read from one delimited file; Concat unions headers across files.
package tabular

import (
	"github.com/shopspring/decimal"
)

// Cell is one field of a row. Numeric cells carry the converted amount; the
// original text is kept for diagnostics.
type Cell struct {
	Text    string
	Amount  decimal.Decimal
	Numeric bool
}

// TextCell returns a non-numeric cell.
func TextCell(s string) Cell { return Cell{Text: s} }

// AmountCell returns a numeric cell.
func AmountCell(d decimal.Decimal) Cell { return Cell{Amount: d, Numeric: true} }

// Frame is the content of one or more delimited files with a shared header.
type Frame struct {
	Header []string
	Rows   [][]Cell

	// Source is the file path for frames read from disk (empty after Concat).
	Source string
	// Encoding is the text encoding that decoded the file.
	Encoding string
	// Fallbacks counts, per column, the non-empty numeric values that could
	// not be parsed and were replaced by zero.
	Fallbacks map[string]int
}

// Index returns the position of column name in the header, or -1.
func (f *Frame) Index(name string) int {
	for i, h := range f.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Rows) }

// TotalFallbacks sums Fallbacks over all columns.
func (f *Frame) TotalFallbacks() int {
	n := 0
	for _, c := range f.Fallbacks {
		n += c
	}
	return n
}

// Concat stacks frames vertically. The header is the union of all headers in
// first-seen order; cells for columns a frame lacks are empty. Rows keep
// their input order and duplicates are preserved.
func Concat(frames ...*Frame) *Frame {
	out := &Frame{Fallbacks: make(map[string]int)}
	pos := make(map[string]int)
	for _, f := range frames {
		for _, h := range f.Header {
			if _, ok := pos[h]; !ok {
				pos[h] = len(out.Header)
				out.Header = append(out.Header, h)
			}
		}
	}

	for _, f := range frames {
		for _, row := range f.Rows {
			merged := make([]Cell, len(out.Header))
			for i, c := range row {
				if i < len(f.Header) {
					merged[pos[f.Header[i]]] = c
				}
			}
			out.Rows = append(out.Rows, merged)
		}
		for col, n := range f.Fallbacks {
			out.Fallbacks[col] += n
		}
	}
	return out
}
