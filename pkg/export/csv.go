package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/hazyhaar/fiscalflow/pkg/aggregate"
	"github.com/hazyhaar/fiscalflow/pkg/flow"
	"github.com/hazyhaar/fiscalflow/pkg/money"
	"github.com/hazyhaar/fiscalflow/pkg/tabular"
)

// FlowHeader is the header of flow exports.
var FlowHeader = []string{"year", "source_label", "target_label", "value"}

func newWriter(w io.Writer, delimiter rune) *csv.Writer {
	cw := csv.NewWriter(w)
	if delimiter != 0 {
		cw.Comma = delimiter
	} else {
		cw.Comma = ';'
	}
	return cw
}

// WriteFrameCSV writes f as UTF-8 delimited text. Numeric cells are written
// with a decimal comma and no thousands separator.
func WriteFrameCSV(path string, f *tabular.Frame, delimiter rune) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := newWriter(w, delimiter)
		if err := cw.Write(f.Header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		record := make([]string, len(f.Header))
		for i, row := range f.Rows {
			for j := range record {
				record[j] = ""
				if j >= len(row) {
					continue
				}
				if row[j].Numeric {
					record[j] = money.FormatDecimalComma(row[j].Amount)
				} else {
					record[j] = row[j].Text
				}
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write row %d: %w", i+1, err)
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// WriteFlowsCSV writes one line per edge of every graph, labelled with the
// graph's year.
func WriteFlowsCSV(path string, graphs []flow.YearGraph, delimiter rune) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := newWriter(w, delimiter)
		if err := cw.Write(FlowHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, yg := range graphs {
			for _, e := range yg.Graph.Edges {
				record := []string{
					strconv.Itoa(yg.Year),
					yg.Graph.Nodes[e.Source].Label,
					yg.Graph.Nodes[e.Target].Label,
					money.FormatDecimalComma(e.Value),
				}
				if err := cw.Write(record); err != nil {
					return fmt.Errorf("write flow %d: %w", yg.Year, err)
				}
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// WriteAggregatesCSV writes groups under header: the key columns followed by
// one column per value.
func WriteAggregatesCSV(path string, header []string, groups []aggregate.Group, delimiter rune) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := newWriter(w, delimiter)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, g := range groups {
			record := make([]string, 0, len(g.Key)+len(g.Values))
			record = append(record, g.Key...)
			for _, v := range g.Values {
				record = append(record, money.FormatDecimalComma(v))
			}
			if len(record) != len(header) {
				return fmt.Errorf("group %v has %d fields, header has %d", g.Key, len(record), len(header))
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write group %v: %w", g.Key, err)
			}
		}
		cw.Flush()
		return cw.Error()
	})
}
