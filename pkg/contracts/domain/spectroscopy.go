package domain

import (
	"sort"
	"time"
)

// XY is a probe position in meters.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GridPos places a sweep inside a matrix acquisition. Index is the
// declared acquisition index; Row and Col are grid coordinates. A member
// the file never declared is -1 until matrix assembly resolves it.
type GridPos struct {
	Index int `json:"index"`
	Row   int `json:"row"`
	Col   int `json:"col"`
}

// SweepChannel is one recorded column of a spectroscopy sweep.
type SweepChannel struct {
	Name string    `json:"name" validate:"required"`
	Unit string    `json:"unit"`
	Data []float64 `json:"data"`
}

// SpectroscopyRecord is a single point sweep: a strictly monotonic axis
// and one or more channel columns of identical length.
type SpectroscopyRecord struct {
	Source     string         `json:"source"`
	Header     *Header        `json:"header,omitempty"`
	AxisName   string         `json:"axis_name"`
	AxisUnit   string         `json:"axis_unit"`
	Axis       []float64      `json:"axis" validate:"min=2"`
	Channels   []SweepChannel `json:"channels" validate:"min=1"`
	Position   *XY            `json:"position,omitempty"`
	Grid       *GridPos       `json:"grid,omitempty"`
	AcquiredAt time.Time      `json:"acquired_at,omitempty"`
}

// Channel returns the named sweep channel, or false when absent.
func (r *SpectroscopyRecord) Channel(name string) (*SweepChannel, bool) {
	for i := range r.Channels {
		if r.Channels[i].Name == name {
			return &r.Channels[i], true
		}
	}
	return nil, false
}

// Len returns the number of samples along the axis.
func (r *SpectroscopyRecord) Len() int {
	return len(r.Axis)
}

// CellKey addresses one cell of a matrix scan.
type CellKey struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// MatrixScan is a grid of point sweeps sharing one axis. Cells that were
// never acquired or failed to load are absent from Cells; no placeholder
// curves are synthesized.
type MatrixScan struct {
	Rows     int                             `json:"rows" validate:"min=1"`
	Cols     int                             `json:"cols" validate:"min=1"`
	AxisName string                          `json:"axis_name"`
	AxisUnit string                          `json:"axis_unit"`
	Axis     []float64                       `json:"axis"`
	Cells    map[CellKey]*SpectroscopyRecord `json:"cells"`
}

// Cell returns the sweep at (row, col), or false when that cell is absent.
func (m *MatrixScan) Cell(row, col int) (*SpectroscopyRecord, bool) {
	r, ok := m.Cells[CellKey{Row: row, Col: col}]
	return r, ok
}

// CellCount returns the number of present cells.
func (m *MatrixScan) CellCount() int {
	return len(m.Cells)
}

// SortedKeys returns the present cell keys in row-major order.
func (m *MatrixScan) SortedKeys() []CellKey {
	keys := make([]CellKey, 0, len(m.Cells))
	for k := range m.Cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Row != keys[j].Row {
			return keys[i].Row < keys[j].Row
		}
		return keys[i].Col < keys[j].Col
	})
	return keys
}
