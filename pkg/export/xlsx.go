package export

import (
	"fmt"
	"io"

	"github.com/hazyhaar/fiscalflow/pkg/flow"
	"github.com/xuri/excelize/v2"
)

// FlowSheet is the worksheet name of XLSX flow exports.
const FlowSheet = "flows"

// WriteFlowsXLSX writes the same table as WriteFlowsCSV into the "flows"
// sheet of a workbook. Years and values are stored as numbers.
func WriteFlowsXLSX(path string, graphs []flow.YearGraph) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", FlowSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(FlowHeader))
	for i, h := range FlowHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(FlowSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	line := 2
	for _, yg := range graphs {
		for _, e := range yg.Graph.Edges {
			cell, err := excelize.CoordinatesToCellName(1, line)
			if err != nil {
				return err
			}
			value, _ := e.Value.Float64()
			row := []any{
				yg.Year,
				yg.Graph.Nodes[e.Source].Label,
				yg.Graph.Nodes[e.Target].Label,
				value,
			}
			if err := f.SetSheetRow(FlowSheet, cell, &row); err != nil {
				return fmt.Errorf("write flow row %d: %w", line, err)
			}
			line++
		}
	}

	return writeAtomic(path, func(w io.Writer) error {
		if err := f.Write(w); err != nil {
			return fmt.Errorf("encode workbook: %w", err)
		}
		return nil
	})
}
