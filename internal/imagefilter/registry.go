package imagefilter

import (
	"fmt"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

// Definition describes one selectable filter for CLI and facade use.
type Definition struct {
	Key          string  `json:"key"`
	Label        string  `json:"label"`
	NeedsSigma   bool    `json:"needs_sigma"`
	DefaultSigma float64 `json:"default_sigma,omitempty"`
}

var definitions = []Definition{
	{Key: "flatten", Label: "Median line flatten (rows)"},
	{Key: "flatten-xy", Label: "Median line flatten (rows then columns)"},
	{Key: "plane", Label: "Plane subtract"},
	{Key: "quadratic", Label: "Quadratic plane subtract"},
	{Key: "gaussian", Label: "Gaussian smooth", NeedsSigma: true, DefaultSigma: 1},
	{Key: "highpass", Label: "Gaussian highpass", NeedsSigma: true, DefaultSigma: 2},
}

// Definitions lists the available filters in display order.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Apply runs the filter named by key. A non-positive sigma selects the
// filter's default; filters that take no sigma ignore it.
func Apply(key string, g *domain.Grid, sigma float64) (*domain.Grid, error) {
	var def *Definition
	for i := range definitions {
		if definitions[i].Key == key {
			def = &definitions[i]
			break
		}
	}
	if def == nil {
		return nil, errs.Validation(fmt.Sprintf("unknown filter %q", key), nil)
	}
	if def.NeedsSigma && sigma <= 0 {
		sigma = def.DefaultSigma
	}

	switch def.Key {
	case "flatten":
		return FlattenMedian(g, AxisRows)
	case "flatten-xy":
		return FlattenMedian(g, AxisBoth)
	case "plane":
		return SubtractPlane(g)
	case "quadratic":
		return SubtractQuadraticPlane(g)
	case "gaussian":
		return Gaussian(g, sigma)
	case "highpass":
		return Highpass(g, sigma)
	default:
		return nil, errs.Validation(fmt.Sprintf("filter %q has no implementation", key), nil)
	}
}
