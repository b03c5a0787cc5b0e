// Package imagefilter implements background removal and smoothing for
// scan frame channels. Every filter is pure: it returns a new grid and
// leaves its input untouched. NaN cells pass through unfiltered and
// never contaminate their neighbors.
package imagefilter

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

// Axis selects the direction of a line-wise filter.
type Axis string

const (
	AxisRows Axis = "rows"
	AxisCols Axis = "cols"
	AxisBoth Axis = "both"
)

// nanMedian returns the median of the finite values in vs, NaN when
// none are finite. vs is not modified.
func nanMedian(vs []float64) float64 {
	finite := make([]float64, 0, len(vs))
	for _, v := range vs {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return math.NaN()
	}
	sort.Float64s(finite)
	mid := len(finite) / 2
	if len(finite)%2 == 1 {
		return finite[mid]
	}
	return (finite[mid-1] + finite[mid]) / 2
}

// FlattenMedian subtracts the median of every scan line, removing the
// line-to-line offsets feedback drift leaves behind. Axis selects rows,
// columns, or rows then columns.
func FlattenMedian(g *domain.Grid, axis Axis) (*domain.Grid, error) {
	switch axis {
	case AxisRows, AxisCols, AxisBoth:
	default:
		return nil, errs.Validation(fmt.Sprintf("unknown flatten axis %q", axis), nil)
	}

	out := g.Clone()
	if axis == AxisRows || axis == AxisBoth {
		row := make([]float64, g.Cols)
		for r := 0; r < g.Rows; r++ {
			copy(row, out.Data[r*g.Cols:(r+1)*g.Cols])
			med := nanMedian(row)
			if math.IsNaN(med) {
				continue
			}
			for c := 0; c < g.Cols; c++ {
				out.Set(r, c, out.At(r, c)-med)
			}
		}
	}
	if axis == AxisCols || axis == AxisBoth {
		col := make([]float64, g.Rows)
		for c := 0; c < g.Cols; c++ {
			for r := 0; r < g.Rows; r++ {
				col[r] = out.At(r, c)
			}
			med := nanMedian(col)
			if math.IsNaN(med) {
				continue
			}
			for r := 0; r < g.Rows; r++ {
				out.Set(r, c, out.At(r, c)-med)
			}
		}
	}
	return out, nil
}

// planeTerms builds one design-matrix row for the given cell.
type planeTerms func(x, y float64) []float64

// subtractSurface fits a background surface over the finite cells and
// subtracts it everywhere.
func subtractSurface(g *domain.Grid, terms planeTerms, nterms int) (*domain.Grid, error) {
	var rows []float64
	var zs []float64
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			z := g.At(r, c)
			if math.IsNaN(z) {
				continue
			}
			rows = append(rows, terms(float64(c), float64(r))...)
			zs = append(zs, z)
		}
	}
	if len(zs) < nterms {
		return nil, errs.InsufficientData(
			fmt.Sprintf("%d finite cell(s), surface fit needs at least %d", len(zs), nterms))
	}

	design := mat.NewDense(len(zs), nterms, rows)
	rhs := mat.NewDense(len(zs), 1, zs)

	var qr mat.QR
	qr.Factorize(design)
	var theta mat.Dense
	if err := qr.SolveTo(&theta, false, rhs); err != nil {
		return nil, errs.InsufficientData("surface fit is underdetermined")
	}

	coef := make([]float64, nterms)
	for i := range coef {
		coef[i] = theta.At(i, 0)
	}

	out := g.Clone()
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			v := out.At(r, c)
			if math.IsNaN(v) {
				continue
			}
			var bg float64
			for i, term := range terms(float64(c), float64(r)) {
				bg += coef[i] * term
			}
			out.Set(r, c, v-bg)
		}
	}
	return out, nil
}

// SubtractPlane removes the least-squares plane a*x + b*y + c, the
// standard tilt correction.
func SubtractPlane(g *domain.Grid) (*domain.Grid, error) {
	return subtractSurface(g, func(x, y float64) []float64 {
		return []float64{x, y, 1}
	}, 3)
}

// SubtractQuadraticPlane removes a full second-order surface, taking
// out scanner bow as well as tilt.
func SubtractQuadraticPlane(g *domain.Grid) (*domain.Grid, error) {
	return subtractSurface(g, func(x, y float64) []float64 {
		return []float64{x * x, y * y, x * y, x, y, 1}
	}, 6)
}

// reflectIndex mirrors an out-of-range index back into [0, n).
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i = ((i % period) + period) % period
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// gaussianKernel returns normalized weights for a radius of 3 sigma.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// convolveLine writes the 1D convolution of src into dst with reflected
// edges, renormalizing around NaN samples.
func convolveLine(dst, src, kernel []float64) {
	radius := len(kernel) / 2
	n := len(src)
	for i := 0; i < n; i++ {
		if math.IsNaN(src[i]) {
			dst[i] = math.NaN()
			continue
		}
		var acc, weight float64
		for k, w := range kernel {
			v := src[reflectIndex(i+k-radius, n)]
			if math.IsNaN(v) {
				continue
			}
			acc += w * v
			weight += w
		}
		if weight == 0 {
			dst[i] = math.NaN()
			continue
		}
		dst[i] = acc / weight
	}
}

// Gaussian smooths the grid with a separable Gaussian of the given
// sigma, in pixels.
func Gaussian(g *domain.Grid, sigma float64) (*domain.Grid, error) {
	if sigma <= 0 {
		return nil, errs.Validation(fmt.Sprintf("sigma must be positive, got %g", sigma), nil)
	}
	kernel := gaussianKernel(sigma)

	out := g.Clone()
	line := make([]float64, g.Cols)
	smoothed := make([]float64, g.Cols)
	for r := 0; r < g.Rows; r++ {
		copy(line, out.Data[r*g.Cols:(r+1)*g.Cols])
		convolveLine(smoothed, line, kernel)
		copy(out.Data[r*g.Cols:(r+1)*g.Cols], smoothed)
	}

	col := make([]float64, g.Rows)
	colOut := make([]float64, g.Rows)
	for c := 0; c < g.Cols; c++ {
		for r := 0; r < g.Rows; r++ {
			col[r] = out.At(r, c)
		}
		convolveLine(colOut, col, kernel)
		for r := 0; r < g.Rows; r++ {
			out.Set(r, c, colOut[r])
		}
	}
	return out, nil
}

// Highpass subtracts the Gaussian-smoothed background, keeping features
// sharper than sigma.
func Highpass(g *domain.Grid, sigma float64) (*domain.Grid, error) {
	smoothed, err := Gaussian(g, sigma)
	if err != nil {
		return nil, err
	}
	out := g.Clone()
	for i, v := range out.Data {
		out.Data[i] = v - smoothed.Data[i]
	}
	return out, nil
}
