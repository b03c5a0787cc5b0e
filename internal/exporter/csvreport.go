package exporter

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

// fitTableHeaders are the columns of the per-cell fit table.
var fitTableHeaders = []string{
	"row", "col", "x", "y",
	"a", "b", "c",
	"vertex_x", "vertex_y",
	"rmse", "converged",
}

// WriteFitCSV writes the per-cell fit table: a header line, then one
// row per grid cell in row-major order. Cell positions come from the
// scan's sweeps; cells the scan never acquired keep empty position
// fields and NaN parameters. A cell counts as converged when its
// quadratic coefficient is a real number. scan may be nil when
// positions are unavailable.
func WriteFitCSV(scan *domain.MatrixScan, maps *domain.FitMaps, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errs.IOFailure("failed to create export directory", err)
	}

	file, err := os.Create(dest)
	if err != nil {
		return errs.IOFailure("failed to create fit table", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(fitTableHeaders); err != nil {
		return errs.IOFailure("failed to write headers", err)
	}
	for r := 0; r < maps.Rows; r++ {
		for c := 0; c < maps.Cols; c++ {
			if err := writer.Write(fitRecord(scan, maps, r, c)); err != nil {
				return errs.IOFailure(fmt.Sprintf("failed to write cell %d,%d", r, c), err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errs.IOFailure("failed to flush fit table", err)
	}
	return nil
}

// fitRecord renders one cell of the fit table.
func fitRecord(scan *domain.MatrixScan, maps *domain.FitMaps, row, col int) []string {
	x, y := "", ""
	if scan != nil {
		if cell, ok := scan.Cell(row, col); ok && cell.Position != nil {
			x = formatValue(cell.Position.X)
			y = formatValue(cell.Position.Y)
		}
	}
	a := maps.A.At(row, col)
	return []string{
		formatInt(row),
		formatInt(col),
		x,
		y,
		formatValue(a),
		formatValue(maps.B.At(row, col)),
		formatValue(maps.C.At(row, col)),
		formatValue(maps.VertexX.At(row, col)),
		formatValue(maps.VertexY.At(row, col)),
		formatValue(maps.RMSE.At(row, col)),
		formatBool(!math.IsNaN(a)),
	}
}
