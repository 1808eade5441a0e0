package domain

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// FiniteRange returns the min/max of one component, ignoring NaN and ±Inf.
// ok is false when the array holds no finite value of that component.
func (a *Array) FiniteRange(component int) (r Range, ok bool) {
	r = Range{Min: math.Inf(1), Max: math.Inf(-1)}
	n := a.Tuples()
	for t := 0; t < n; t++ {
		v := a.Component(t, component)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < r.Min {
			r.Min = v
		}
		if v > r.Max {
			r.Max = v
		}
		ok = true
	}
	if !ok {
		return UnitRange, false
	}
	return r, true
}

// ClampComponent maps an out-of-range component index to 0.
func (a *Array) ClampComponent(component int) int {
	if component < 0 || component >= a.Components {
		return 0
	}
	return component
}

// Total sums every cell of the grid.
func (g *Grid) Total() float64 {
	if g == nil || g.Counts == nil {
		return 0
	}
	return floats.Sum(g.Data())
}

// Marginal collapses the grid onto one axis (0 or 1), giving the 1D histogram
// of that axis with bin lower edges in Bins.
func (g *Grid) Marginal(axis int) (Histogram, error) {
	if g == nil || g.Counts == nil || axis < 0 || axis > 1 {
		return Histogram{}, ErrInvalidGrid
	}

	n := g.Dimensions[axis]
	vals := make([]float64, n)
	bins := make([]float64, n)
	for i := 0; i < n; i++ {
		bins[i] = g.Origin[axis] + float64(i)*g.Spacing[axis]
	}

	rows, cols := g.Counts.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if axis == 0 {
				vals[c] += g.Counts.At(r, c)
			} else {
				vals[r] += g.Counts.At(r, c)
			}
		}
	}

	return Histogram{
		Bins: bins,
		Vals: vals,
		Len:  n,
	}, nil
}
