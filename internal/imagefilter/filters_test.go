package imagefilter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

func gridFrom(rows, cols int, data ...float64) *domain.Grid {
	g := domain.NewGrid(rows, cols)
	copy(g.Data, data)
	return g
}

func TestFlattenMedianRows(t *testing.T) {
	g := gridFrom(2, 3,
		1, 2, 3,
		11, 12, 13,
	)

	out, err := FlattenMedian(g, AxisRows)
	require.NoError(t, err)

	want := []float64{-1, 0, 1, -1, 0, 1}
	for i, w := range want {
		assert.InDelta(t, w, out.Data[i], 1e-12)
	}

	// the input grid is untouched
	assert.Equal(t, 1.0, g.At(0, 0))
	assert.Equal(t, 13.0, g.At(1, 2))
}

func TestFlattenMedianSkipsNaN(t *testing.T) {
	g := gridFrom(1, 3, 1, math.NaN(), 3)

	out, err := FlattenMedian(g, AxisRows)
	require.NoError(t, err)

	assert.InDelta(t, -1, out.At(0, 0), 1e-12)
	assert.True(t, math.IsNaN(out.At(0, 1)))
	assert.InDelta(t, 1, out.At(0, 2), 1e-12)
}

func TestFlattenMedianBothAxes(t *testing.T) {
	g := gridFrom(2, 2,
		1, 2,
		3, 4,
	)

	out, err := FlattenMedian(g, AxisBoth)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, 0, v, 1e-12)
	}
}

func TestFlattenMedianUnknownAxis(t *testing.T) {
	_, err := FlattenMedian(domain.NewGrid(2, 2), Axis("diagonal"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestSubtractPlaneRemovesTilt(t *testing.T) {
	g := domain.NewGrid(4, 4)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			g.Set(r, c, 2*float64(c)+3*float64(r)+5)
		}
	}
	g.Set(1, 2, math.NaN())

	out, err := SubtractPlane(g)
	require.NoError(t, err)

	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if r == 1 && c == 2 {
				assert.True(t, math.IsNaN(out.At(r, c)))
				continue
			}
			assert.InDelta(t, 0, out.At(r, c), 1e-9)
		}
	}
}

func TestSubtractPlaneInsufficientCells(t *testing.T) {
	_, err := SubtractPlane(gridFrom(1, 2, 1, 2))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInsufficientData))
}

func TestSubtractQuadraticPlaneRemovesBow(t *testing.T) {
	g := domain.NewGrid(5, 5)
	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			x, y := float64(c), float64(r)
			g.Set(r, c, 0.5*x*x+0.25*y*y-0.1*x*y+x-y+3)
		}
	}

	out, err := SubtractQuadraticPlane(g)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, 0, v, 1e-9)
	}
}

func TestSubtractQuadraticPlaneNeedsSixCells(t *testing.T) {
	_, err := SubtractQuadraticPlane(gridFrom(1, 5, 1, 2, 3, 4, 5))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInsufficientData))
}

func TestGaussianPreservesConstantField(t *testing.T) {
	g := domain.NewGrid(6, 6)
	for i := range g.Data {
		g.Data[i] = 7
	}

	out, err := Gaussian(g, 1.5)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, 7, v, 1e-9)
	}
}

func TestGaussianSpreadsSpike(t *testing.T) {
	g := domain.NewGrid(7, 7)
	g.Set(3, 3, 1)

	out, err := Gaussian(g, 1)
	require.NoError(t, err)

	center := out.At(3, 3)
	assert.Greater(t, center, 0.0)
	assert.Less(t, center, 1.0)
	assert.Greater(t, out.At(3, 4), 0.0)
	assert.Greater(t, center, out.At(3, 4))
	assert.Less(t, out.At(0, 0), out.At(3, 4))
}

func TestGaussianKeepsNaNHoles(t *testing.T) {
	g := domain.NewGrid(5, 5)
	for i := range g.Data {
		g.Data[i] = 2
	}
	g.Set(2, 2, math.NaN())

	out, err := Gaussian(g, 1)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(out.At(2, 2)))
	// neighbors renormalize around the hole instead of absorbing it
	assert.InDelta(t, 2, out.At(2, 1), 1e-9)
	assert.InDelta(t, 2, out.At(0, 0), 1e-9)
}

func TestGaussianRejectsNonPositiveSigma(t *testing.T) {
	for _, sigma := range []float64{0, -1} {
		_, err := Gaussian(domain.NewGrid(3, 3), sigma)
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindValidation))
	}
}

func TestHighpassRemovesSmoothBackground(t *testing.T) {
	g := domain.NewGrid(6, 6)
	for i := range g.Data {
		g.Data[i] = 5
	}

	out, err := Highpass(g, 2)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, 0, v, 1e-9)
	}
}

func TestHighpassKeepsSharpFeature(t *testing.T) {
	g := domain.NewGrid(7, 7)
	g.Set(3, 3, 1)

	out, err := Highpass(g, 1)
	require.NoError(t, err)
	assert.Greater(t, out.At(3, 3), 0.5)
}

func TestApplyRegistry(t *testing.T) {
	g := gridFrom(2, 3,
		1, 2, 3,
		11, 12, 13,
	)

	t.Run("known key dispatches", func(t *testing.T) {
		out, err := Apply("flatten", g, 0)
		require.NoError(t, err)
		assert.InDelta(t, -1, out.At(0, 0), 1e-12)
	})

	t.Run("sigma default applied", func(t *testing.T) {
		_, err := Apply("gaussian", g, 0)
		require.NoError(t, err)
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		_, err := Apply("sharpen", g, 0)
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindValidation))
	})
}

func TestDefinitionsStable(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 6)
	assert.Equal(t, "flatten", defs[0].Key)

	keys := make(map[string]bool, len(defs))
	for _, d := range defs {
		keys[d.Key] = true
	}
	for _, want := range []string{"flatten", "flatten-xy", "plane", "quadratic", "gaussian", "highpass"} {
		assert.True(t, keys[want], "missing filter %s", want)
	}
}
