// Package spectroscopy loads point sweep files and assembles grids of
// sweeps into matrix scans. Sweep files share the frame header grammar
// but end the header with the [Data] sentinel and carry ASCII sample
// rows instead of a binary payload: first column the swept axis, the
// remaining columns one recorded channel each.
package spectroscopy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"sxmcli/internal/errs"
	"sxmcli/internal/sxmfile"
	"sxmcli/pkg/contracts/domain"
)

// Header field names the sweep loader consumes.
const (
	fieldColumns     = "Columns"
	fieldPosition    = "Position"
	fieldMatrixIndex = "MatrixIndex"
	fieldGridRow     = "GridRow"
	fieldGridCol     = "GridCol"
	fieldGridRows    = "GridRows"
	fieldGridCols    = "GridCols"
)

// Loader reads sweep files. Safe for concurrent use.
type Loader struct {
	logger         *slog.Logger
	maxHeaderBytes int
	parallelism    int
}

// NewLoader creates a sweep loader. Zero maxHeaderBytes applies the
// sxmfile default; parallelism bounds concurrent per-point file loads
// during matrix assembly and defaults to 1 when not positive.
func NewLoader(logger *slog.Logger, maxHeaderBytes, parallelism int) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = sxmfile.DefaultMaxHeaderBytes
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Loader{logger: logger, maxHeaderBytes: maxHeaderBytes, parallelism: parallelism}
}

// column is one declared data column of a sweep.
type column struct {
	name   string
	base   string
	factor float64
}

// parseColumns interprets the required Columns header field: a comma
// separated list of `Name [Unit]` tokens. A bracketed unit resolves
// through the scale table; a bare name stays dimensionless.
func parseColumns(hdr *domain.Header) ([]column, error) {
	raw, ok := hdr.Text(fieldColumns)
	if !ok {
		return nil, errs.MalformedHeader("sweep header missing required field Columns", nil)
	}

	var cols []column
	seen := make(map[string]bool)
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		col := column{factor: 1}

		if i := strings.Index(token, "["); i >= 0 {
			j := strings.Index(token[i:], "]")
			if j < 0 {
				return nil, errs.MalformedHeader(
					fmt.Sprintf("column token %q has an unclosed unit bracket", token), nil)
			}
			unit := strings.TrimSpace(token[i+1 : i+j])
			factor, base, err := sxmfile.SIFactor(unit)
			if err != nil {
				return nil, err
			}
			col.name = strings.TrimSpace(token[:i])
			col.base = base
			col.factor = factor
		} else {
			col.name = token
		}

		if col.name == "" {
			return nil, errs.MalformedHeader(
				fmt.Sprintf("column token %q declares no name", token), nil)
		}
		if seen[col.name] {
			return nil, errs.MalformedHeader(
				fmt.Sprintf("duplicate column name %q", col.name), nil)
		}
		seen[col.name] = true
		cols = append(cols, col)
	}

	if len(cols) < 2 {
		return nil, errs.MalformedHeader(
			fmt.Sprintf("Columns declares %d column(s), need the axis plus at least one channel", len(cols)), nil)
	}
	return cols, nil
}

// readRows consumes whitespace-separated sample rows until EOF or a
// section sentinel. It reports whether another [Spectrum] section
// follows.
func readRows(br *bufio.Reader) ([][]string, bool, error) {
	var rows [][]string
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			stripped := strings.TrimSpace(line)
			switch {
			case stripped == sxmfile.BlockSentinel:
				return rows, true, nil
			case stripped == "" || strings.HasPrefix(stripped, ";"):
				// skip
			default:
				rows = append(rows, strings.Fields(stripped))
			}
		}
		if err == io.EOF {
			return rows, false, nil
		}
		if err != nil {
			return nil, false, errs.IOFailure("read sweep rows", err)
		}
	}
}

// buildRecord turns one header plus its sample rows into a sweep record,
// normalizing every column to its SI base unit.
func buildRecord(source string, hdr *domain.Header, rows [][]string) (*domain.SpectroscopyRecord, error) {
	cols, err := parseColumns(hdr)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errs.MalformedTable(
			fmt.Sprintf("sweep has %d data row(s), need at least 2", len(rows)))
	}

	data := make([][]float64, len(cols))
	for c := range data {
		data[c] = make([]float64, len(rows))
	}
	for r, fields := range rows {
		if len(fields) != len(cols) {
			return nil, errs.MalformedTable(
				fmt.Sprintf("data row %d has %d value(s), Columns declares %d", r+1, len(fields), len(cols)))
		}
		for c, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errs.MalformedTable(
					fmt.Sprintf("data row %d column %q: %q is not a number", r+1, cols[c].name, field))
			}
			data[c][r] = v * cols[c].factor
		}
	}

	if err := checkMonotonic(data[0]); err != nil {
		return nil, err
	}

	rec := &domain.SpectroscopyRecord{
		Source:     source,
		Header:     hdr,
		AxisName:   cols[0].name,
		AxisUnit:   cols[0].base,
		Axis:       data[0],
		AcquiredAt: sxmfile.AcquisitionTime(hdr),
	}
	for c := 1; c < len(cols); c++ {
		rec.Channels = append(rec.Channels, domain.SweepChannel{
			Name: cols[c].name,
			Unit: cols[c].base,
			Data: data[c],
		})
	}

	pos, err := positionOf(hdr)
	if err != nil {
		return nil, err
	}
	rec.Position = pos
	rec.Grid = gridPosOf(hdr)

	return rec, nil
}

// checkMonotonic requires the axis to be strictly increasing or strictly
// decreasing throughout. Repeated values and direction reversals both
// fail.
func checkMonotonic(axis []float64) error {
	if axis[1] == axis[0] {
		return errs.NonMonotonicAxis(
			fmt.Sprintf("axis repeats value %g at samples 1 and 2", axis[0]))
	}
	increasing := axis[1] > axis[0]
	for i := 2; i < len(axis); i++ {
		switch {
		case axis[i] == axis[i-1]:
			return errs.NonMonotonicAxis(
				fmt.Sprintf("axis repeats value %g at samples %d and %d", axis[i], i, i+1))
		case (axis[i] > axis[i-1]) != increasing:
			return errs.NonMonotonicAxis(
				fmt.Sprintf("axis reverses direction at sample %d", i+1))
		}
	}
	return nil
}

// positionOf reads the optional Position field: `x y` in meters, or
// `x xunit y yunit` with units from the scale table. A field in any
// other shape is a free-form remark and yields no position.
func positionOf(hdr *domain.Header) (*domain.XY, error) {
	raw, ok := hdr.Text(fieldPosition)
	if !ok {
		return nil, nil
	}

	fields := strings.Fields(raw)
	switch len(fields) {
	case 2:
		x, errX := strconv.ParseFloat(fields[0], 64)
		y, errY := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errY != nil {
			return nil, nil
		}
		return &domain.XY{X: x, Y: y}, nil
	case 4:
		x, errX := strconv.ParseFloat(fields[0], 64)
		y, errY := strconv.ParseFloat(fields[2], 64)
		if errX != nil || errY != nil {
			return nil, nil
		}
		fx, _, err := sxmfile.SIFactor(fields[1])
		if err != nil {
			return nil, err
		}
		fy, _, err := sxmfile.SIFactor(fields[3])
		if err != nil {
			return nil, err
		}
		return &domain.XY{X: x * fx, Y: y * fy}, nil
	default:
		return nil, nil
	}
}

// gridPosOf reads the optional matrix placement fields. Members the
// header never declares stay -1.
func gridPosOf(hdr *domain.Header) *domain.GridPos {
	pos := domain.GridPos{Index: -1, Row: -1, Col: -1}
	declared := false
	if v, ok := hdr.Int(fieldMatrixIndex); ok {
		pos.Index = v
		declared = true
	}
	if v, ok := hdr.Int(fieldGridRow); ok {
		pos.Row = v
		declared = true
	}
	if v, ok := hdr.Int(fieldGridCol); ok {
		pos.Col = v
		declared = true
	}
	if !declared {
		return nil
	}
	return &pos
}

// LoadSingle reads a one-sweep file. A file carrying [Spectrum] section
// markers belongs to LoadMatrix and is rejected here.
func (l *Loader) LoadSingle(path string) (*domain.SpectroscopyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.FileVanished(path)
		}
		return nil, errs.IOFailure(fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	hdr, _, err := sxmfile.ReadHeader(br, sxmfile.DataSentinel, l.maxHeaderBytes)
	if err != nil {
		return nil, wrapSource(err, path)
	}

	rows, more, err := readRows(br)
	if err != nil {
		return nil, wrapSource(err, path)
	}
	if more {
		return nil, errs.MalformedTable("file contains multiple sweep sections").
			WithContext("path", path)
	}

	rec, err := buildRecord(path, hdr, rows)
	if err != nil {
		return nil, wrapSource(err, path)
	}

	l.logger.Debug("sweep loaded",
		"path", path,
		"axis", rec.AxisName,
		"samples", rec.Len(),
		"channels", len(rec.Channels))
	return rec, nil
}

// wrapSource attaches the source path to an engine error.
func wrapSource(err error, path string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.WithContext("path", path)
	}
	return err
}
