package spectroscopy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"sxmcli/internal/errs"
	"sxmcli/internal/sxmfile"
	"sxmcli/pkg/contracts/domain"
)

// LoadMatrix assembles a matrix scan from sweep sources: either one
// multi-section file ([Spectrum] markers separating per-point sweeps)
// or a set of one-sweep files, loaded in parallel. Declared placement
// metadata is authoritative; cells the sources never cover stay absent.
func (l *Loader) LoadMatrix(ctx context.Context, paths []string) (*domain.MatrixScan, error) {
	var records []*domain.SpectroscopyRecord

	switch len(paths) {
	case 0:
		return nil, errs.Validation("no sweep paths given", nil)
	case 1:
		multi, err := hasSectionMarkers(paths[0])
		if err != nil {
			return nil, err
		}
		if multi {
			records, err = l.loadSections(paths[0])
		} else {
			var rec *domain.SpectroscopyRecord
			rec, err = l.LoadSingle(paths[0])
			records = []*domain.SpectroscopyRecord{rec}
		}
		if err != nil {
			return nil, err
		}
	default:
		records = make([]*domain.SpectroscopyRecord, len(paths))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.parallelism)
		for i, path := range paths {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				rec, err := l.LoadSingle(path)
				if err != nil {
					return err
				}
				records[i] = rec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return assemble(records)
}

// hasSectionMarkers reports whether the file's first meaningful line is
// a [Spectrum] section marker.
func hasSectionMarkers(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, errs.FileVanished(path)
		}
		return false, errs.IOFailure(fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for {
		line, err := br.ReadString('\n')
		if stripped := strings.TrimSpace(line); stripped != "" && !strings.HasPrefix(stripped, ";") {
			return stripped == sxmfile.BlockSentinel, nil
		}
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, errs.IOFailure(fmt.Sprintf("read %s", path), err)
		}
	}
}

// loadSections reads every [Spectrum] section of a multi-sweep file.
func (l *Loader) loadSections(path string) ([]*domain.SpectroscopyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.FileVanished(path)
		}
		return nil, errs.IOFailure(fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	br := bufio.NewReader(f)

	// position after the first section marker
	if err := readToMarker(br); err != nil {
		return nil, wrapSource(err, path)
	}

	var records []*domain.SpectroscopyRecord
	for {
		hdr, _, err := sxmfile.ReadHeader(br, sxmfile.DataSentinel, l.maxHeaderBytes)
		if err != nil {
			return nil, wrapSource(err, path)
		}
		rows, more, err := readRows(br)
		if err != nil {
			return nil, wrapSource(err, path)
		}

		rec, err := buildRecord(fmt.Sprintf("%s#%d", path, len(records)+1), hdr, rows)
		if err != nil {
			return nil, wrapSource(err, path)
		}
		records = append(records, rec)

		if !more {
			return records, nil
		}
	}
}

// readToMarker consumes lines up to and including the first [Spectrum]
// marker.
func readToMarker(br *bufio.Reader) error {
	for {
		line, err := br.ReadString('\n')
		if strings.TrimSpace(line) == sxmfile.BlockSentinel {
			return nil
		}
		if err == io.EOF {
			return errs.MalformedHeader(
				fmt.Sprintf("section marker %s not found", sxmfile.BlockSentinel), nil)
		}
		if err != nil {
			return errs.IOFailure("read sweep sections", err)
		}
	}
}

// assemble resolves grid dimensions and placement, verifies axis
// identity, and builds the cell map.
func assemble(records []*domain.SpectroscopyRecord) (*domain.MatrixScan, error) {
	rows, cols, err := resolveDims(records)
	if err != nil {
		return nil, err
	}

	ref := records[0]
	scan := &domain.MatrixScan{
		Rows:     rows,
		Cols:     cols,
		AxisName: ref.AxisName,
		AxisUnit: ref.AxisUnit,
		Axis:     append([]float64(nil), ref.Axis...),
		Cells:    make(map[domain.CellKey]*domain.SpectroscopyRecord, len(records)),
	}

	for i, rec := range records {
		if err := sameAxis(ref, rec); err != nil {
			return nil, err
		}

		r, c, err := placeRecord(rec, i, cols)
		if err != nil {
			return nil, err
		}
		if r >= rows || c >= cols {
			return nil, errs.InconsistentAxis(
				fmt.Sprintf("%s places at cell (%d,%d) outside the %dx%d grid", rec.Source, r, c, rows, cols))
		}

		key := domain.CellKey{Row: r, Col: c}
		if prev, ok := scan.Cells[key]; ok {
			return nil, errs.InconsistentAxis(
				fmt.Sprintf("cell (%d,%d) claimed by both %s and %s", r, c, prev.Source, rec.Source))
		}
		rec.Grid = &domain.GridPos{Index: r*cols + c, Row: r, Col: c}
		scan.Cells[key] = rec
	}
	return scan, nil
}

// resolveDims determines the grid shape: declared GridRows/GridCols win,
// then explicit row/col extents, then a square sized from the highest
// declared index, then square packing of the record count.
func resolveDims(records []*domain.SpectroscopyRecord) (int, int, error) {
	declRows, declCols := -1, -1
	maxRow, maxCol, maxIdx := -1, -1, -1

	for _, rec := range records {
		if r, ok := rec.Header.Int(fieldGridRows); ok {
			c, ok := rec.Header.Int(fieldGridCols)
			if !ok {
				return 0, 0, errs.InconsistentAxis(
					fmt.Sprintf("%s declares GridRows without GridCols", rec.Source))
			}
			if r < 1 || c < 1 {
				return 0, 0, errs.InconsistentAxis(
					fmt.Sprintf("%s declares non-positive grid %dx%d", rec.Source, r, c))
			}
			if declRows != -1 && (declRows != r || declCols != c) {
				return 0, 0, errs.InconsistentAxis(
					fmt.Sprintf("declared grid sizes disagree: %dx%d vs %dx%d", declRows, declCols, r, c))
			}
			declRows, declCols = r, c
		}
		if rec.Grid != nil {
			if rec.Grid.Row > maxRow {
				maxRow = rec.Grid.Row
			}
			if rec.Grid.Col > maxCol {
				maxCol = rec.Grid.Col
			}
			if rec.Grid.Index > maxIdx {
				maxIdx = rec.Grid.Index
			}
		}
	}

	switch {
	case declRows != -1:
		return declRows, declCols, nil
	case maxRow >= 0 && maxCol >= 0:
		return maxRow + 1, maxCol + 1, nil
	case maxIdx >= 0:
		side := int(math.Round(math.Sqrt(float64(maxIdx + 1))))
		for side*side < maxIdx+1 {
			side++
		}
		return side, side, nil
	default:
		side := int(math.Ceil(math.Sqrt(float64(len(records)))))
		return side, side, nil
	}
}

// placeRecord resolves one record's cell: explicit row/col first, then
// the declared index unrolled row-major, then load order.
func placeRecord(rec *domain.SpectroscopyRecord, loadOrder, cols int) (int, int, error) {
	g := rec.Grid
	switch {
	case g != nil && g.Row >= 0 && g.Col >= 0:
		return g.Row, g.Col, nil
	case g != nil && (g.Row >= 0) != (g.Col >= 0):
		return 0, 0, errs.InconsistentAxis(
			fmt.Sprintf("%s declares GridRow or GridCol but not both", rec.Source))
	case g != nil && g.Index >= 0:
		return g.Index / cols, g.Index % cols, nil
	default:
		return loadOrder / cols, loadOrder % cols, nil
	}
}

// sameAxis requires rec to sweep the identical axis as ref: same name,
// same unit, same samples, bit for bit.
func sameAxis(ref, rec *domain.SpectroscopyRecord) error {
	if rec.AxisName != ref.AxisName || rec.AxisUnit != ref.AxisUnit {
		return errs.InconsistentAxis(
			fmt.Sprintf("%s sweeps %s[%s], expected %s[%s]",
				rec.Source, rec.AxisName, rec.AxisUnit, ref.AxisName, ref.AxisUnit))
	}
	if len(rec.Axis) != len(ref.Axis) {
		return errs.InconsistentAxis(
			fmt.Sprintf("%s has %d axis samples, expected %d", rec.Source, len(rec.Axis), len(ref.Axis)))
	}
	for i := range ref.Axis {
		if rec.Axis[i] != ref.Axis[i] {
			return errs.InconsistentAxis(
				fmt.Sprintf("%s axis sample %d is %g, expected %g", rec.Source, i+1, rec.Axis[i], ref.Axis[i]))
		}
	}
	return nil
}
