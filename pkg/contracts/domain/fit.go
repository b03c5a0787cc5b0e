package domain

// Vertex is the extremum of a fitted parabola. Valid is false when the
// quadratic coefficient is too small for the vertex to be meaningful;
// X and Y are zero in that case, never infinities.
type Vertex struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Valid bool    `json:"valid"`
}

// FitResult holds the least-squares solution of value = A*x*x + B*x + C.
// A non-convergent fit is a valid result, not an error: Converged is
// false, the coefficients and their errors are NaN, and RSS still holds
// the residual of the fallback constant model so fits remain comparable.
type FitResult struct {
	A         float64 `json:"a"`
	B         float64 `json:"b"`
	C         float64 `json:"c"`
	AErr      float64 `json:"a_err"`
	BErr      float64 `json:"b_err"`
	CErr      float64 `json:"c_err"`
	RSS       float64 `json:"rss"`
	RMSE      float64 `json:"rmse"`
	N         int     `json:"n"`
	Converged bool    `json:"converged"`
	Vertex    Vertex  `json:"vertex"`
}

// NamedGrid pairs a parameter map with its name for export loops.
type NamedGrid struct {
	Name string `json:"name"`
	Grid *Grid  `json:"grid"`
}

// CellFitError records one matrix cell whose fit failed or whose sweep
// was absent.
type CellFitError struct {
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Reason string `json:"reason"`
}

// FitMaps holds per-parameter grids produced by fitting every cell of a
// matrix scan. Cells that were absent or failed carry NaN in every map.
type FitMaps struct {
	Rows    int            `json:"rows"`
	Cols    int            `json:"cols"`
	Channel string         `json:"channel"`
	A       *Grid          `json:"a"`
	B       *Grid          `json:"b"`
	C       *Grid          `json:"c"`
	AErr    *Grid          `json:"a_err"`
	BErr    *Grid          `json:"b_err"`
	CErr    *Grid          `json:"c_err"`
	RMSE    *Grid          `json:"rmse"`
	VertexX *Grid          `json:"vertex_x"`
	VertexY *Grid          `json:"vertex_y"`
	Fitted  int            `json:"fitted"`
	Failed  []CellFitError `json:"failed,omitempty"`
}

// ParameterGrids returns the parameter maps in a stable export order.
func (m *FitMaps) ParameterGrids() []NamedGrid {
	return []NamedGrid{
		{Name: "a", Grid: m.A},
		{Name: "b", Grid: m.B},
		{Name: "c", Grid: m.C},
		{Name: "a_err", Grid: m.AErr},
		{Name: "b_err", Grid: m.BErr},
		{Name: "c_err", Grid: m.CErr},
		{Name: "rmse", Grid: m.RMSE},
		{Name: "vertex_x", Grid: m.VertexX},
		{Name: "vertex_y", Grid: m.VertexY},
	}
}

// XYZPoint is one exported triple.
type XYZPoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Value float64 `json:"value"`
}
