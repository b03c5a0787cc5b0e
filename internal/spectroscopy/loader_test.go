package spectroscopy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sxmcli/internal/errs"
	"sxmcli/internal/sxmfile"
)

// writeSweepFile assembles a one-sweep file from header lines and data
// rows.
func writeSweepFile(t *testing.T, dir, name string, header []string, rows []string) string {
	t.Helper()
	var b strings.Builder
	for _, line := range header {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(sxmfile.DataSentinel)
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(row)
		b.WriteString("\n")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestLoadSingleParsesSweep(t *testing.T) {
	dir := t.TempDir()
	path := writeSweepFile(t, dir, "point.dat",
		[]string{
			"Columns : Bias [mV], Current [pA]",
			"Position : 1.5e-6 2.0e-6",
			"Date : 15.06.2024",
			"Time : 10:00:00",
		},
		[]string{"-100 1", "-50 2", "0 3", "50 4", "100 5"},
	)

	rec, err := NewLoader(nil, 0, 1).LoadSingle(path)
	require.NoError(t, err)

	assert.Equal(t, path, rec.Source)
	assert.Equal(t, "Bias", rec.AxisName)
	assert.Equal(t, "V", rec.AxisUnit)
	assert.Equal(t, 5, rec.Len())
	assert.InDelta(t, -0.1, rec.Axis[0], 1e-15)
	assert.InDelta(t, 0.1, rec.Axis[4], 1e-15)

	current, ok := rec.Channel("Current")
	require.True(t, ok)
	assert.Equal(t, "A", current.Unit)
	assert.InDelta(t, 1e-12, current.Data[0], 1e-24)
	assert.InDelta(t, 5e-12, current.Data[4], 1e-24)

	require.NotNil(t, rec.Position)
	assert.InDelta(t, 1.5e-6, rec.Position.X, 1e-15)
	assert.InDelta(t, 2.0e-6, rec.Position.Y, 1e-15)
	assert.True(t, rec.AcquiredAt.Equal(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)))
	assert.Nil(t, rec.Grid)
}

func TestLoadSingleBareColumnStaysRaw(t *testing.T) {
	dir := t.TempDir()
	path := writeSweepFile(t, dir, "point.dat",
		[]string{"Columns : Z, df [Hz]"},
		[]string{"0 -1.5", "1 -1.2", "2 -0.9"},
	)

	rec, err := NewLoader(nil, 0, 1).LoadSingle(path)
	require.NoError(t, err)

	assert.Equal(t, "Z", rec.AxisName)
	assert.Equal(t, "", rec.AxisUnit)
	assert.Equal(t, []float64{0, 1, 2}, rec.Axis)

	df, ok := rec.Channel("df")
	require.True(t, ok)
	assert.Equal(t, "Hz", df.Unit)
}

func TestLoadSingleDecreasingAxisAllowed(t *testing.T) {
	dir := t.TempDir()
	path := writeSweepFile(t, dir, "point.dat",
		[]string{"Columns : Bias [V], Current [A]"},
		[]string{"2 0.1", "1 0.2", "0 0.3", "-1 0.4"},
	)

	rec, err := NewLoader(nil, 0, 1).LoadSingle(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 0, -1}, rec.Axis)
}

func TestLoadSingleAxisViolations(t *testing.T) {
	tests := []struct {
		name string
		rows []string
	}{
		{"repeated value", []string{"0 1", "1 2", "1 3", "2 4"}},
		{"direction reversal", []string{"0 1", "2 2", "1 3"}},
		{"immediately flat", []string{"5 1", "5 2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeSweepFile(t, dir, "point.dat",
				[]string{"Columns : Bias [V], Current [A]"}, tt.rows)

			_, err := NewLoader(nil, 0, 1).LoadSingle(path)
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, errs.KindNonMonotonicAxis), "got %v", err)
		})
	}
}

func TestLoadSingleTableViolations(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		rows   []string
		kind   errs.Kind
	}{
		{
			name:   "row width mismatch",
			header: []string{"Columns : Bias [V], Current [A]"},
			rows:   []string{"0 1", "1 2 3"},
			kind:   errs.KindMalformedTable,
		},
		{
			name:   "non-numeric cell",
			header: []string{"Columns : Bias [V], Current [A]"},
			rows:   []string{"0 1", "one 2"},
			kind:   errs.KindMalformedTable,
		},
		{
			name:   "single data row",
			header: []string{"Columns : Bias [V], Current [A]"},
			rows:   []string{"0 1"},
			kind:   errs.KindMalformedTable,
		},
		{
			name:   "missing Columns field",
			header: []string{"Comment : no columns here"},
			rows:   []string{"0 1", "1 2"},
			kind:   errs.KindMalformedHeader,
		},
		{
			name:   "axis only",
			header: []string{"Columns : Bias [V]"},
			rows:   []string{"0", "1"},
			kind:   errs.KindMalformedHeader,
		},
		{
			name:   "duplicate column name",
			header: []string{"Columns : Bias [V], Bias [V]"},
			rows:   []string{"0 1", "1 2"},
			kind:   errs.KindMalformedHeader,
		},
		{
			name:   "unknown column unit",
			header: []string{"Columns : Bias [V], Current [furlong]"},
			rows:   []string{"0 1", "1 2"},
			kind:   errs.KindUnknownUnit,
		},
		{
			name:   "unclosed unit bracket",
			header: []string{"Columns : Bias [V, Current [A]"},
			rows:   []string{"0 1", "1 2"},
			kind:   errs.KindMalformedHeader,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeSweepFile(t, dir, "point.dat", tt.header, tt.rows)

			_, err := NewLoader(nil, 0, 1).LoadSingle(path)
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestLoadSingleRejectsSectionedFile(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		"Columns : Bias [V], Current [A]",
		sxmfile.DataSentinel,
		"0 1",
		"1 2",
		sxmfile.BlockSentinel,
		"Columns : Bias [V], Current [A]",
		sxmfile.DataSentinel,
		"0 3",
		"1 4",
	}, "\n") + "\n"
	path := filepath.Join(dir, "grid.dat")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := NewLoader(nil, 0, 1).LoadSingle(path)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindMalformedTable))
}

func TestLoadSingleVanished(t *testing.T) {
	_, err := NewLoader(nil, 0, 1).LoadSingle(filepath.Join(t.TempDir(), "gone.dat"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindFileVanished))
}

func TestLoadSinglePositionForms(t *testing.T) {
	t.Run("units on both coordinates", func(t *testing.T) {
		dir := t.TempDir()
		path := writeSweepFile(t, dir, "point.dat",
			[]string{
				"Columns : Bias [V], Current [A]",
				"Position : 1.5 um 2 um",
			},
			[]string{"0 1", "1 2"},
		)

		rec, err := NewLoader(nil, 0, 1).LoadSingle(path)
		require.NoError(t, err)
		require.NotNil(t, rec.Position)
		assert.InDelta(t, 1.5e-6, rec.Position.X, 1e-15)
		assert.InDelta(t, 2e-6, rec.Position.Y, 1e-15)
	})

	t.Run("free text yields no position", func(t *testing.T) {
		dir := t.TempDir()
		path := writeSweepFile(t, dir, "point.dat",
			[]string{
				"Columns : Bias [V], Current [A]",
				"Position : near the step edge",
			},
			[]string{"0 1", "1 2"},
		)

		rec, err := NewLoader(nil, 0, 1).LoadSingle(path)
		require.NoError(t, err)
		assert.Nil(t, rec.Position)
	})

	t.Run("unknown coordinate unit fails", func(t *testing.T) {
		dir := t.TempDir()
		path := writeSweepFile(t, dir, "point.dat",
			[]string{
				"Columns : Bias [V], Current [A]",
				"Position : 1.5 furlong 2 um",
			},
			[]string{"0 1", "1 2"},
		)

		_, err := NewLoader(nil, 0, 1).LoadSingle(path)
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindUnknownUnit))
	})
}

func TestLoadSinglePlacementFields(t *testing.T) {
	dir := t.TempDir()
	path := writeSweepFile(t, dir, "point.dat",
		[]string{
			"Columns : Bias [V], Current [A]",
			"MatrixIndex : 5",
		},
		[]string{"0 1", "1 2"},
	)

	rec, err := NewLoader(nil, 0, 1).LoadSingle(path)
	require.NoError(t, err)
	require.NotNil(t, rec.Grid)
	assert.Equal(t, 5, rec.Grid.Index)
	assert.Equal(t, -1, rec.Grid.Row)
	assert.Equal(t, -1, rec.Grid.Col)
}
