package app

import (
	"fmt"
	"hist2d/internal/domain"

	"gonum.org/v1/gonum/mat"
)

// MergeGrids sums histograms computed independently on dataset partitions.
// All grids must share the same metadata; agreeing on a common range beforehand
// (for example with custom ranges) is the caller's job.
func MergeGrids(grids ...*domain.Grid) (*domain.Grid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("%w: nothing to merge", domain.ErrShapeMismatch)
	}

	for i, g := range grids {
		if g == nil || g.Counts == nil {
			return nil, fmt.Errorf("%w: grid %d is empty", domain.ErrShapeMismatch, i)
		}
	}

	first := grids[0]
	rows, cols := first.Counts.Dims()
	merged := &domain.Grid{
		Metadata: first.Metadata,
		Counts:   mat.NewDense(rows, cols, nil),
	}

	for i, g := range grids {
		if g.Metadata != first.Metadata {
			return nil, fmt.Errorf("%w: grid %d has dimensions %v origin %v spacing %v, want %v %v %v",
				domain.ErrShapeMismatch, i, g.Dimensions, g.Origin, g.Spacing,
				first.Dimensions, first.Origin, first.Spacing)
		}
		merged.Counts.Add(merged.Counts, g.Counts)
		merged.Tuples += g.Tuples
		merged.Skipped += g.Skipped
	}

	return merged, nil
}
