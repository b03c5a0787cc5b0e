package exporter

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

// summarySheet is the first sheet of the fit report workbook.
const summarySheet = "Summary"

// WriteFitReport writes an xlsx fit report: a Summary sheet with the
// acquisition shape, sweep axis and fit counts, then one sheet per
// parameter map laid out rows by cols with empty cells for NaN holes.
// scan may be nil; the axis rows are omitted then.
func WriteFitReport(scan *domain.MatrixScan, maps *domain.FitMaps, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errs.IOFailure("failed to create export directory", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return errs.IOFailure("failed to name summary sheet", err)
	}
	if err := writeSummary(f, scan, maps); err != nil {
		return err
	}
	for _, param := range maps.ParameterGrids() {
		if err := writeParameterSheet(f, param); err != nil {
			return err
		}
	}

	if err := f.SaveAs(dest); err != nil {
		return errs.IOFailure("failed to save fit report", err)
	}
	return nil
}

// writeSummary fills the Summary sheet with label/value rows and, when
// any cell failed, a failure table.
func writeSummary(f *excelize.File, scan *domain.MatrixScan, maps *domain.FitMaps) error {
	rows := [][]interface{}{
		{"Rows", maps.Rows},
		{"Cols", maps.Cols},
		{"Channel", maps.Channel},
	}
	if scan != nil && len(scan.Axis) > 0 {
		axis := scan.AxisName
		if scan.AxisUnit != "" {
			axis = fmt.Sprintf("%s [%s]", scan.AxisName, scan.AxisUnit)
		}
		rows = append(rows,
			[]interface{}{"Axis", axis},
			[]interface{}{"Axis start", scan.Axis[0]},
			[]interface{}{"Axis end", scan.Axis[len(scan.Axis)-1]},
			[]interface{}{"Samples per sweep", len(scan.Axis)},
		)
	}
	rows = append(rows,
		[]interface{}{"Cells fitted", maps.Fitted},
		[]interface{}{"Cells failed", len(maps.Failed)},
	)
	if len(maps.Failed) > 0 {
		rows = append(rows,
			nil,
			[]interface{}{"Failures"},
			[]interface{}{"row", "col", "reason"},
		)
		for _, fc := range maps.Failed {
			rows = append(rows, []interface{}{fc.Row, fc.Col, fc.Reason})
		}
	}

	for i, row := range rows {
		if row == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errs.IOFailure("failed to address summary cell", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return errs.IOFailure("failed to write summary row", err)
		}
	}
	return nil
}

// writeParameterSheet adds one sheet holding a parameter map as a plain
// rows by cols block. NaN holes stay empty so spreadsheet statistics
// ignore them.
func writeParameterSheet(f *excelize.File, param domain.NamedGrid) error {
	if _, err := f.NewSheet(param.Name); err != nil {
		return errs.IOFailure(fmt.Sprintf("failed to add sheet %s", param.Name), err)
	}

	grid := param.Grid
	row := make([]interface{}, grid.Cols)
	for r := 0; r < grid.Rows; r++ {
		for c := 0; c < grid.Cols; c++ {
			v := grid.At(r, c)
			if math.IsNaN(v) {
				row[c] = nil
			} else {
				row[c] = v
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return errs.IOFailure("failed to address sheet cell", err)
		}
		if err := f.SetSheetRow(param.Name, cell, &row); err != nil {
			return errs.IOFailure(fmt.Sprintf("failed to write sheet %s", param.Name), err)
		}
	}
	return nil
}
