package exporter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

func TestWriteFitReportSheetsAndSummary(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "report.xlsx")

	maps := makeMaps(2, 2)
	maps.A.Set(0, 0, 2.5)
	maps.Fitted = 1

	scan := &domain.MatrixScan{
		Rows:     2,
		Cols:     2,
		AxisName: "Bias",
		AxisUnit: "V",
		Axis:     []float64{-1, 0, 1},
	}

	require.NoError(t, WriteFitReport(scan, maps, dest))

	f, err := excelize.OpenFile(dest)
	require.NoError(t, err)
	defer f.Close()

	want := []string{
		"Summary", "a", "b", "c",
		"a_err", "b_err", "c_err",
		"rmse", "vertex_x", "vertex_y",
	}
	assert.Equal(t, want, f.GetSheetList())

	cell := func(sheet, ref string) string {
		v, err := f.GetCellValue(sheet, ref)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "Rows", cell(summarySheet, "A1"))
	assert.Equal(t, "2", cell(summarySheet, "B1"))
	assert.Equal(t, "Cols", cell(summarySheet, "A2"))
	assert.Equal(t, "2", cell(summarySheet, "B2"))
	assert.Equal(t, "Frequency Shift", cell(summarySheet, "B3"))
	assert.Equal(t, "Bias [V]", cell(summarySheet, "B4"))
	assert.Equal(t, "-1", cell(summarySheet, "B5"))
	assert.Equal(t, "1", cell(summarySheet, "B6"))
	assert.Equal(t, "3", cell(summarySheet, "B7"))
	assert.Equal(t, "Cells fitted", cell(summarySheet, "A8"))
	assert.Equal(t, "1", cell(summarySheet, "B8"))
	assert.Equal(t, "0", cell(summarySheet, "B9"))

	// Fitted value lands on the parameter sheet, NaN holes stay empty.
	assert.Equal(t, "2.5", cell("a", "A1"))
	assert.Equal(t, "", cell("a", "B1"))
	assert.Equal(t, "", cell("a", "A2"))
}

func TestWriteFitReportListsFailedCells(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "report.xlsx")

	maps := makeMaps(2, 2)
	maps.Failed = []domain.CellFitError{{Row: 1, Col: 0, Reason: "too few samples"}}

	require.NoError(t, WriteFitReport(nil, maps, dest))

	f, err := excelize.OpenFile(dest)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(summarySheet)
	require.NoError(t, err)

	idx := -1
	for i, row := range rows {
		if len(row) > 0 && row[0] == "Failures" {
			idx = i
			break
		}
	}
	require.NotEqual(t, -1, idx, "summary sheet is missing the failure table")
	require.Greater(t, len(rows), idx+2)
	assert.Equal(t, []string{"row", "col", "reason"}, rows[idx+1])
	assert.Equal(t, []string{"1", "0", "too few samples"}, rows[idx+2])
}

func TestWriteFitReportOmitsAxisRowsWithoutScan(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "report.xlsx")

	require.NoError(t, WriteFitReport(nil, makeMaps(1, 1), dest))

	f, err := excelize.OpenFile(dest)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue(summarySheet, "A4")
	require.NoError(t, err)
	assert.Equal(t, "Cells fitted", v)
}

func TestWriteFitReportFailureIsIOFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	err := WriteFitReport(nil, makeMaps(1, 1), filepath.Join(blocker, "report.xlsx"))

	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindIOFailure))
}
