package exporter

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

// WriteXYZ serializes points to dest in the WSxM-compatible XYZ text
// layout: one point per line, tab-separated x, y and value, newline
// terminated, no header. Points are written in caller order; nothing is
// filtered, deduplicated or interpolated. The destination is replaced
// atomically: content goes to a temp file in the same directory and is
// renamed over dest only after a successful sync, so a crash mid-export
// never leaves a truncated file at the final path.
func WriteXYZ(points []domain.XYZPoint, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.IOFailure("failed to create export directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".xyz-*")
	if err != nil {
		return errs.IOFailure("failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, 0644)

	discard := func(msg string, cause error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.IOFailure(msg, cause)
	}

	w := bufio.NewWriter(tmp)
	line := make([]byte, 0, 64)
	for i := range points {
		p := &points[i]
		line = line[:0]
		line = strconv.AppendFloat(line, p.X, 'g', -1, 64)
		line = append(line, '\t')
		line = strconv.AppendFloat(line, p.Y, 'g', -1, 64)
		line = append(line, '\t')
		line = strconv.AppendFloat(line, p.Value, 'g', -1, 64)
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return discard("failed to write point", err)
		}
	}
	if err := w.Flush(); err != nil {
		return discard("failed to flush export", err)
	}
	if err := tmp.Sync(); err != nil {
		return discard("failed to sync export", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.IOFailure("failed to close temp file", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return errs.IOFailure("failed to replace destination", err)
	}
	return nil
}

// GridToPoints flattens a dense channel grid into export triples, row
// major with y in the outer loop, pairing every sample with its axis
// coordinates. xAxis must hold grid.Cols values and yAxis grid.Rows.
func GridToPoints(grid *domain.Grid, xAxis, yAxis []float64) []domain.XYZPoint {
	return flatten(grid, xAxis, yAxis, false)
}

// MapsToPoints flattens a fit parameter map the same way but drops NaN
// holes left by absent or failed cells, so an exported map carries only
// measured points.
func MapsToPoints(grid *domain.Grid, xAxis, yAxis []float64) []domain.XYZPoint {
	return flatten(grid, xAxis, yAxis, true)
}

func flatten(grid *domain.Grid, xAxis, yAxis []float64, skipNaN bool) []domain.XYZPoint {
	points := make([]domain.XYZPoint, 0, grid.Rows*grid.Cols)
	for r := 0; r < grid.Rows; r++ {
		for c := 0; c < grid.Cols; c++ {
			v := grid.At(r, c)
			if skipNaN && math.IsNaN(v) {
				continue
			}
			points = append(points, domain.XYZPoint{X: xAxis[c], Y: yAxis[r], Value: v})
		}
	}
	return points
}

// FrameAxes derives the physical coordinates of a frame's pixels from
// its scan range header fields, in SI units. X ascends from zero across
// columns; Y descends from the range to zero down the rows, keeping the
// first grid row on the top edge of the scan area. Frames that declare
// no positive range fall back to bare pixel indices on both axes.
func FrameAxes(frame *domain.ScanFrame) (xs, ys []float64) {
	if len(frame.Channels) == 0 {
		return nil, nil
	}
	grid := frame.Channels[0].Grid
	xs = make([]float64, grid.Cols)
	ys = make([]float64, grid.Rows)

	xr, okX := scanRange(frame.Header, "XScanRange")
	yr, okY := scanRange(frame.Header, "YScanRange")
	if !okX || !okY {
		for c := range xs {
			xs[c] = float64(c)
		}
		for r := range ys {
			ys[r] = float64(r)
		}
		return xs, ys
	}

	stepX := 0.0
	if grid.Cols > 1 {
		stepX = xr / float64(grid.Cols-1)
	}
	for c := range xs {
		xs[c] = stepX * float64(c)
	}
	stepY := 0.0
	if grid.Rows > 1 {
		stepY = yr / float64(grid.Rows-1)
	}
	for r := range ys {
		ys[r] = yr - stepY*float64(r)
	}
	return xs, ys
}

// scanRange reads an axis range in SI units, falling back to the
// shared ScanRange field for square acquisitions.
func scanRange(h *domain.Header, key string) (float64, bool) {
	v, ok := h.SI(key)
	if !ok {
		v, ok = h.SI("ScanRange")
	}
	return v, ok && v > 0
}
