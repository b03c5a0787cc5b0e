// Package fitting estimates quadratic models over spectroscopy sweeps.
// The solver is deliberately conservative: a degenerate axis never
// raises an error, it produces a non-convergent result with the
// constant-model residual so batch callers can rank every cell.
package fitting

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

// DefaultEpsilon is the |A| threshold below which a fitted parabola has
// no meaningful vertex.
const DefaultEpsilon = 1e-12

// Fitter solves value = A*x*x + B*x + C in the least-squares sense.
// Safe for concurrent use.
type Fitter struct {
	logger  *slog.Logger
	epsilon float64
}

// NewFitter creates a fitter. A non-positive epsilon applies the package
// default.
func NewFitter(logger *slog.Logger, epsilon float64) *Fitter {
	if logger == nil {
		logger = slog.Default()
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Fitter{logger: logger, epsilon: epsilon}
}

// Epsilon returns the configured vertex threshold.
func (f *Fitter) Epsilon() float64 {
	return f.epsilon
}

// Fit fits the named channel of a sweep against its axis.
func (f *Fitter) Fit(rec *domain.SpectroscopyRecord, channel string) (domain.FitResult, error) {
	ch, ok := rec.Channel(channel)
	if !ok {
		return domain.FitResult{}, errs.Validation(
			fmt.Sprintf("sweep %s has no channel %q", rec.Source, channel), nil)
	}
	return f.FitXY(rec.Axis, ch.Data)
}

// FitXY fits ys over xs. Fewer than 3 samples is an InsufficientData
// error; fewer than 3 distinct axis values, or a solver failure, is the
// non-convergent result described on domain.FitResult.
func (f *Fitter) FitXY(xs, ys []float64) (domain.FitResult, error) {
	if len(xs) != len(ys) {
		return domain.FitResult{}, errs.Validation(
			fmt.Sprintf("axis has %d samples, values have %d", len(xs), len(ys)), nil)
	}
	n := len(xs)
	if n < 3 {
		return domain.FitResult{}, errs.InsufficientData(
			fmt.Sprintf("%d sample(s), a quadratic needs at least 3", n))
	}
	if distinctCount(xs) < 3 {
		return constantFallback(ys), nil
	}

	// center the axis before solving; offset sweeps otherwise lose
	// precision in the normal equations
	xm := stat.Mean(xs, nil)
	u := append([]float64(nil), xs...)
	floats.AddConst(-xm, u)

	v := mat.NewDense(n, 3, nil)
	for i, ui := range u {
		v.Set(i, 0, ui*ui)
		v.Set(i, 1, ui)
		v.Set(i, 2, 1)
	}
	rhs := mat.NewDense(n, 1, append([]float64(nil), ys...))

	var qr mat.QR
	qr.Factorize(v)
	var theta mat.Dense
	if err := qr.SolveTo(&theta, false, rhs); err != nil {
		return constantFallback(ys), nil
	}

	a := theta.At(0, 0)
	b := theta.At(1, 0)
	c := theta.At(2, 0)

	// shift coefficients back to the raw axis
	res := domain.FitResult{
		A: a,
		B: b - 2*a*xm,
		C: a*xm*xm - b*xm + c,
		N: n,
	}
	if !finite(res.A) || !finite(res.B) || !finite(res.C) {
		return constantFallback(ys), nil
	}

	var rss float64
	for i, ui := range u {
		r := ys[i] - (a*ui*ui + b*ui + c)
		rss += r * r
	}
	res.RSS = rss
	res.RMSE = math.Sqrt(rss / float64(n))
	res.Converged = true
	res.AErr, res.BErr, res.CErr = coefficientErrors(v, xm, rss, n)

	if math.Abs(res.A) > f.epsilon {
		res.Vertex = domain.Vertex{
			X:     -res.B / (2 * res.A),
			Y:     res.C - res.B*res.B/(4*res.A),
			Valid: true,
		}
	}
	return res, nil
}

// constantFallback is the non-convergent result: NaN coefficients and
// the residual of the mean model.
func constantFallback(ys []float64) domain.FitResult {
	mean := stat.Mean(ys, nil)
	var rss float64
	for _, y := range ys {
		d := y - mean
		rss += d * d
	}
	nan := math.NaN()
	return domain.FitResult{
		A: nan, B: nan, C: nan,
		AErr: nan, BErr: nan, CErr: nan,
		RSS:  rss,
		RMSE: math.Sqrt(rss / float64(len(ys))),
		N:    len(ys),
	}
}

// coefficientErrors estimates standard errors from the residual
// variance and the covariance of the centered design, shifted back to
// raw-axis coefficients. Exact interpolation (n == 3) has no residual
// degrees of freedom and reports NaN.
func coefficientErrors(v *mat.Dense, xm, rss float64, n int) (float64, float64, float64) {
	nan := math.NaN()
	if n <= 3 {
		return nan, nan, nan
	}
	sigma2 := rss / float64(n-3)

	var vtv mat.Dense
	vtv.Mul(v.T(), v)
	var inv mat.Dense
	if err := inv.Inverse(&vtv); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nan, nan, nan
		}
	}

	// raw coefficients are a linear map of centered ones
	shift := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		-2 * xm, 1, 0,
		xm * xm, -xm, 1,
	})
	var tmp, cov mat.Dense
	tmp.Mul(shift, &inv)
	cov.Mul(&tmp, shift.T())
	cov.Scale(sigma2, &cov)

	return math.Sqrt(cov.At(0, 0)), math.Sqrt(cov.At(1, 1)), math.Sqrt(cov.At(2, 2))
}

// distinctCount returns the number of distinct values in xs, stopping
// early once three are found.
func distinctCount(xs []float64) int {
	seen := make(map[float64]struct{}, 3)
	for _, x := range xs {
		seen[x] = struct{}{}
		if len(seen) >= 3 {
			return len(seen)
		}
	}
	return len(seen)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
