package gradient

import (
	"fmt"
	"hist2d/internal/domain"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// Operator вычисляет дискретный градиент скалярного поля на прямолинейной сетке.
type Operator struct {
	logger *zap.Logger
}

func NewOperator(logger *zap.Logger) *Operator {
	return &Operator{logger: logger}
}

// Gradient returns one 3-component vector per grid point for the given
// component of arr. Interior points use central differences, boundary points
// one-sided differences, and axes with a single coordinate a zero derivative.
func (o *Operator) Gradient(grid *domain.StructuredGrid, arr *domain.Array, component int) ([][3]float64, error) {
	if grid == nil {
		return nil, domain.ErrNoGeometry
	}
	n := grid.NumPoints()
	if arr.Tuples() != n {
		return nil, fmt.Errorf("%w: array %q has %d tuples, grid has %d points",
			domain.ErrSizeMismatch, arr.Name, arr.Tuples(), n)
	}
	component = arr.ClampComponent(component)

	nx, ny := grid.Dims[0], grid.Dims[1]
	strides := [3]int{1, nx, nx * ny}
	result := make([][3]float64, n)

	for k := 0; k < grid.Dims[2]; k++ {
		for j := 0; j < grid.Dims[1]; j++ {
			for i := 0; i < grid.Dims[0]; i++ {
				idx := [3]int{i, j, k}
				p := i + j*strides[1] + k*strides[2]
				for axis := 0; axis < 3; axis++ {
					result[p][axis] = derivative(grid, arr, component, p, axis, idx[axis], strides[axis])
				}
			}
		}
	}

	o.logger.Debug("Gradient computed",
		zap.String("array", arr.Name),
		zap.Int("component", component),
		zap.Int("points", n))

	return result, nil
}

// Magnitude returns the Euclidean norm of every vector. A NaN component gives NaN.
func Magnitude(vectors [][3]float64) []float64 {
	mag := make([]float64, len(vectors))
	for i := range vectors {
		if floats.HasNaN(vectors[i][:]) {
			mag[i] = math.NaN()
			continue
		}
		mag[i] = floats.Norm(vectors[i][:], 2)
	}
	return mag
}

// GradientMagnitude derives the scalar gradient-magnitude array of arr's component.
func (o *Operator) GradientMagnitude(grid *domain.StructuredGrid, arr *domain.Array, component int) (*domain.Array, error) {
	vectors, err := o.Gradient(grid, arr, component)
	if err != nil {
		return nil, err
	}
	return domain.NewArray(domain.GradientArrayName, 1, Magnitude(vectors)), nil
}

// derivative вычисляет разностную производную вдоль одной оси
func derivative(grid *domain.StructuredGrid, arr *domain.Array, component, p, axis, i, stride int) float64 {
	n := grid.Dims[axis]
	if n < 2 {
		return 0
	}
	c := grid.Coords[axis]

	lo, hi := i-1, i+1
	if i == 0 {
		lo = 0
	}
	if i == n-1 {
		hi = n - 1
	}

	dx := c[hi] - c[lo]
	df := arr.Component(p+(hi-i)*stride, component) - arr.Component(p+(lo-i)*stride, component)
	if dx == 0 {
		return 0
	}
	return df / dx
}
