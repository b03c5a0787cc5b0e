package fitting

import (
	"context"
	"math"

	"sxmcli/pkg/contracts/domain"
)

// nanGrid allocates a grid with every cell set to NaN.
func nanGrid(rows, cols int) *domain.Grid {
	g := domain.NewGrid(rows, cols)
	for i := range g.Data {
		g.Data[i] = math.NaN()
	}
	return g
}

// newFitMaps allocates NaN-filled parameter maps for a rows x cols scan.
func newFitMaps(rows, cols int, channel string) *domain.FitMaps {
	return &domain.FitMaps{
		Rows:    rows,
		Cols:    cols,
		Channel: channel,
		A:       nanGrid(rows, cols),
		B:       nanGrid(rows, cols),
		C:       nanGrid(rows, cols),
		AErr:    nanGrid(rows, cols),
		BErr:    nanGrid(rows, cols),
		CErr:    nanGrid(rows, cols),
		RMSE:    nanGrid(rows, cols),
		VertexX: nanGrid(rows, cols),
		VertexY: nanGrid(rows, cols),
	}
}

// CellObserver receives each cell fit as it completes. The error is nil
// for cells that produced a result, including degenerate fits.
type CellObserver func(row, col int, res domain.FitResult, err error)

// FitMatrix fits the named channel of every present cell into parameter
// maps. Absent cells keep NaN in every map; a cell whose fit errors is
// recorded in Failed and skipped. A non-nil observe is called after each
// cell, in row-major order. Cancellation is honored between cells,
// returning the context error with the work done so far discarded.
func (f *Fitter) FitMatrix(ctx context.Context, scan *domain.MatrixScan, channel string, observe CellObserver) (*domain.FitMaps, error) {
	maps := newFitMaps(scan.Rows, scan.Cols, channel)

	for _, key := range scan.SortedKeys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec := scan.Cells[key]
		res, err := f.Fit(rec, channel)
		if observe != nil {
			observe(key.Row, key.Col, res, err)
		}
		if err != nil {
			maps.Failed = append(maps.Failed, domain.CellFitError{
				Row:    key.Row,
				Col:    key.Col,
				Reason: err.Error(),
			})
			f.logger.Warn("cell fit failed",
				"source", rec.Source,
				"row", key.Row,
				"col", key.Col,
				"error", err)
			continue
		}

		maps.A.Set(key.Row, key.Col, res.A)
		maps.B.Set(key.Row, key.Col, res.B)
		maps.C.Set(key.Row, key.Col, res.C)
		maps.AErr.Set(key.Row, key.Col, res.AErr)
		maps.BErr.Set(key.Row, key.Col, res.BErr)
		maps.CErr.Set(key.Row, key.Col, res.CErr)
		maps.RMSE.Set(key.Row, key.Col, res.RMSE)
		if res.Vertex.Valid {
			maps.VertexX.Set(key.Row, key.Col, res.Vertex.X)
			maps.VertexY.Set(key.Row, key.Col, res.Vertex.Y)
		}
		maps.Fitted++
	}
	return maps, nil
}
