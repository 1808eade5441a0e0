package domain_test

import (
	"errors"
	"hist2d/internal/domain"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

func TestRangeNormalize(t *testing.T) {
	r := domain.Range{Min: 8, Max: 2}.Normalize()
	assert.Equal(t, domain.Range{Min: 2, Max: 8}, r)
	assert.Equal(t, 6.0, r.Width())
	assert.False(t, r.Degenerate())
	assert.True(t, domain.Range{Min: 3, Max: 3}.Degenerate())
}

func TestParseAssociation(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.Association
		wantErr bool
	}{
		{"", domain.AssociationPoint, false},
		{"points", domain.AssociationPoint, false},
		{"Cell", domain.AssociationCell, false},
		{" field ", domain.AssociationField, false},
		{"vertex", 0, true},
	}
	for _, tt := range tests {
		got, err := domain.ParseAssociation(tt.in)
		if tt.wantErr {
			require.ErrorIs(t, err, domain.ErrInvalidConfig, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestConfigYAML(t *testing.T) {
	src := `
bins: [10, 20]
components: [1, 0]
custom_range_0: {enabled: true, min: 2, max: 8}
use_gradient_for_y_axis: true
arrays:
  - name: density
    association: cell
workers: 3
`
	var cfg domain.Config
	require.NoError(t, yaml.Unmarshal([]byte(src), &cfg))

	assert.Equal(t, [2]int{10, 20}, cfg.Bins)
	assert.Equal(t, [2]int{1, 0}, cfg.Components)
	assert.True(t, cfg.CustomRange0.Enabled)
	assert.Equal(t, domain.Range{Min: 2, Max: 8}, cfg.CustomRange0.Range())
	assert.False(t, cfg.CustomRange1.Enabled)
	assert.True(t, cfg.UseGradientForYAxis)
	require.Len(t, cfg.Arrays, 1)
	assert.Equal(t, domain.ArraySpec{Name: "density", Association: domain.AssociationCell}, cfg.Arrays[0])
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateCollectsAllErrors(t *testing.T) {
	cfg := domain.Config{Bins: [2]int{0, -3}, Workers: -1}

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidBins))
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "axis 0")
	assert.Contains(t, err.Error(), "axis 1")
	assert.Contains(t, err.Error(), "workers")
}

func TestDatasetLookup(t *testing.T) {
	ds := domain.NewDataset(nil)
	a := domain.NewArray("a", 1, []float64{1, 2, 3})
	b := domain.NewArray("b", 2, []float64{1, 2, 3, 4})
	require.NoError(t, ds.AddArray(domain.AssociationField, a))
	require.NoError(t, ds.AddArray(domain.AssociationField, b))

	got, err := ds.Lookup(domain.ArraySpec{Name: "b", Association: domain.AssociationField})
	require.NoError(t, err)
	assert.Same(t, b, got)

	got, err = ds.Lookup(domain.ArraySpec{Index: 0, Association: domain.AssociationField})
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = ds.Lookup(domain.ArraySpec{Name: "b", Association: domain.AssociationPoint})
	require.ErrorIs(t, err, domain.ErrArrayNotFound)

	_, err = ds.Lookup(domain.ArraySpec{Index: 5, Association: domain.AssociationField})
	require.ErrorIs(t, err, domain.ErrArrayNotFound)
}

func TestDatasetReplaceKeepsPositionAndBumpsGeneration(t *testing.T) {
	ds := domain.NewDataset(nil)
	require.NoError(t, ds.AddArray(domain.AssociationField, domain.NewArray("a", 1, []float64{1})))
	require.NoError(t, ds.AddArray(domain.AssociationField, domain.NewArray("b", 1, []float64{2})))
	gen := ds.Generation()

	replacement := domain.NewArray("a", 1, []float64{7})
	require.NoError(t, ds.AddArray(domain.AssociationField, replacement))

	assert.Greater(t, ds.Generation(), gen)
	got, ok := ds.ArrayAt(domain.AssociationField, 0)
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestDatasetSetGeometry(t *testing.T) {
	ds := domain.NewDataset(nil)
	require.NoError(t, ds.AddArray(domain.AssociationPoint, domain.NewArray("p", 1, make([]float64, 6))))
	require.NoError(t, ds.AddArray(domain.AssociationField, domain.NewArray("f", 1, make([]float64, 2))))
	gen := ds.Generation()

	grid := domain.NewStructuredGrid([]float64{0, 1, 2}, []float64{0, 1}, nil)
	require.NoError(t, ds.SetGeometry(grid))
	assert.Same(t, grid, ds.Geometry())
	assert.Greater(t, ds.Generation(), gen)

	gen = ds.Generation()
	err := ds.SetGeometry(domain.NewStructuredGrid([]float64{0, 1}, nil, nil))
	require.ErrorIs(t, err, domain.ErrSizeMismatch)
	assert.Same(t, grid, ds.Geometry())
	assert.Equal(t, gen, ds.Generation())
}

func TestDatasetValidatesTupleCounts(t *testing.T) {
	grid := domain.NewStructuredGrid([]float64{0, 1, 2}, []float64{0, 1}, nil)
	ds := domain.NewDataset(grid)

	require.NoError(t, ds.AddArray(domain.AssociationPoint, domain.NewArray("p", 1, make([]float64, 6))))
	require.NoError(t, ds.AddArray(domain.AssociationCell, domain.NewArray("c", 1, make([]float64, 2))))

	err := ds.AddArray(domain.AssociationPoint, domain.NewArray("bad", 1, make([]float64, 5)))
	require.ErrorIs(t, err, domain.ErrSizeMismatch)

	err = ds.AddArray(domain.AssociationField, domain.NewArray("odd", 2, make([]float64, 3)))
	require.ErrorIs(t, err, domain.ErrSizeMismatch)

	err = ds.AddArray(domain.AssociationField, &domain.Array{Name: "zero", Values: []float64{1}})
	require.ErrorIs(t, err, domain.ErrSizeMismatch)
}

func TestStructuredGridCellCenters(t *testing.T) {
	grid := domain.NewStructuredGrid([]float64{0, 1, 3}, []float64{0, 2}, nil)
	assert.Equal(t, [3]int{3, 2, 1}, grid.Dims)
	assert.Equal(t, 6, grid.NumPoints())
	assert.Equal(t, 2, grid.NumCells())

	centers := grid.CellCenters()
	assert.Equal(t, [3]int{2, 1, 1}, centers.Dims)
	assert.Equal(t, []float64{0.5, 2}, centers.Coords[0])
	assert.Equal(t, []float64{1}, centers.Coords[1])
	assert.Equal(t, []float64{0}, centers.Coords[2])
}

func TestFiniteRangeIgnoresNonFinite(t *testing.T) {
	arr := domain.NewArray("a", 2, []float64{
		1, 10,
		math.NaN(), -4,
		-2, math.Inf(1),
		5, 3,
		math.Inf(-1), 0,
	})

	r, ok := arr.FiniteRange(0)
	require.True(t, ok)
	assert.Equal(t, domain.Range{Min: -2, Max: 5}, r)

	r, ok = arr.FiniteRange(1)
	require.True(t, ok)
	assert.Equal(t, domain.Range{Min: -4, Max: 10}, r)

	empty := domain.NewArray("nan", 1, []float64{math.NaN(), math.Inf(1)})
	r, ok = empty.FiniteRange(0)
	assert.False(t, ok)
	assert.Equal(t, domain.UnitRange, r)
}

func TestClampComponent(t *testing.T) {
	arr := domain.NewArray("v", 3, make([]float64, 6))
	assert.Equal(t, 2, arr.ClampComponent(2))
	assert.Equal(t, 0, arr.ClampComponent(3))
	assert.Equal(t, 0, arr.ClampComponent(-1))
}

func TestMetadata(t *testing.T) {
	meta := domain.NewMetadata([2]int{4, 5}, [2]domain.Range{{Min: 2, Max: 8}, {Min: -1, Max: 1}})
	assert.Equal(t, [6]int{0, 3, 0, 4, 0, 0}, meta.Extent)
	assert.Equal(t, [3]int{4, 5, 1}, meta.Dimensions)
	assert.Equal(t, [3]float64{1.5, 0.4, 1}, meta.Spacing)
	assert.Equal(t, [3]float64{2, -1, 0}, meta.Origin)
	assert.Equal(t, 1, meta.Components)
}

func TestGridMarginal(t *testing.T) {
	meta := domain.NewMetadata([2]int{3, 2}, [2]domain.Range{{Min: 0, Max: 3}, {Min: 0, Max: 2}})
	grid := &domain.Grid{
		Metadata: meta,
		Counts: mat.NewDense(2, 3, []float64{
			1, 2, 3,
			4, 5, 6,
		}),
	}

	assert.Equal(t, 21.0, grid.Total())
	assert.Equal(t, 6.0, grid.At(2, 1))

	h0, err := grid.Marginal(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 7, 9}, h0.Vals)
	assert.Equal(t, []float64{0, 1, 2}, h0.Bins)

	h1, err := grid.Marginal(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 15}, h1.Vals)
	assert.Equal(t, 2, h1.Len)

	_, err = grid.Marginal(2)
	require.ErrorIs(t, err, domain.ErrInvalidGrid)
}
