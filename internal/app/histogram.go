package app

import (
	"context"
	"fmt"
	"hist2d/internal/domain"
	"hist2d/pkg/gradient"
	"math"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// partitionSize is the number of tuples handed to a worker at a time.
const partitionSize = 1 << 16

var _ domain.HistogramService = (*HistogramEngine)(nil)

type HistogramEngine struct {
	logger   *zap.Logger
	config   *domain.Config
	gradient *gradient.Operator

	// кэш производного массива модуля градиента
	mu         sync.Mutex
	derived    *domain.DerivedArray
	derivedKey derivedKey
}

type derivedKey struct {
	dataset    *domain.Dataset
	geometry   *domain.StructuredGrid
	generation uint64
	spec       domain.ArraySpec
	component  int
}

func NewHistogramEngine(logger *zap.Logger, config *domain.Config) *HistogramEngine {
	return &HistogramEngine{
		logger:   logger,
		config:   config,
		gradient: gradient.NewOperator(logger),
	}
}

// Describe resolves arrays and ranges and returns the output shape without binning.
func (e *HistogramEngine) Describe(ctx context.Context, ds *domain.Dataset) (domain.Metadata, error) {
	req, err := e.Resolve(ctx, ds)
	if err != nil {
		return domain.Metadata{}, err
	}
	meta := req.Metadata()

	e.logger.Info("Histogram described",
		zap.Ints("dimensions", meta.Dimensions[:]),
		zap.Float64s("origin", meta.Origin[:]),
		zap.Float64s("spacing", meta.Spacing[:]))

	return meta, nil
}

// Execute resolves arrays and ranges exactly as Describe does and fills the grid.
func (e *HistogramEngine) Execute(ctx context.Context, ds *domain.Dataset) (*domain.Grid, error) {
	req, err := e.Resolve(ctx, ds)
	if err != nil {
		return nil, err
	}
	return e.Bin(ctx, req)
}

// Resolve builds the immutable request for one call: the two arrays, their
// clamped components and their normalized ranges.
func (e *HistogramEngine) Resolve(ctx context.Context, ds *domain.Dataset) (*domain.Request, error) {
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, fmt.Errorf("%w: no input dataset", domain.ErrArrayNotFound)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	arr0, err := ds.Lookup(e.config.Arrays[0])
	if err != nil {
		return nil, fmt.Errorf("resolve array 0: %w", err)
	}

	axis1, err := e.selectAxis1(ds, arr0)
	if err != nil {
		return nil, err
	}

	req := &domain.Request{
		Arrays: [2]*domain.Array{arr0, axis1.Array()},
		Bins:   e.config.Bins,
		Axis1:  axis1,
		Ranges: [2]domain.Range{domain.UnitRange, domain.UnitRange},
	}
	e.computeRanges(req)

	e.logger.Debug("Request resolved",
		zap.String("array0", arr0.Name),
		zap.String("array1", req.Arrays[1].Name),
		zap.Bool("derived", axis1.Owned()),
		zap.Ints("components", req.Components[:]),
		zap.Any("ranges", req.Ranges))

	return req, nil
}

func (e *HistogramEngine) selectAxis1(ds *domain.Dataset, arr0 *domain.Array) (domain.AxisSource, error) {
	if e.config.UseGradientForYAxis {
		if len(e.config.Arrays) > 1 {
			e.logger.Debug("Gradient mode ignores the second array to process",
				zap.Stringer("array", e.config.Arrays[1]))
		}
		derived, err := e.deriveGradient(ds, arr0)
		if err != nil {
			return nil, err
		}
		return derived, nil
	}

	e.releaseDerived()

	if len(e.config.Arrays) > 1 {
		arr1, err := ds.Lookup(e.config.Arrays[1])
		if err != nil {
			return nil, fmt.Errorf("resolve array 1: %w", err)
		}
		return domain.ExternalArray{Ref: arr1}, nil
	}
	return domain.ExternalArray{Ref: arr0}, nil
}

// deriveGradient returns the cached gradient magnitude of arr0 when the input
// is unchanged, otherwise computes it and replaces the cache entry.
func (e *HistogramEngine) deriveGradient(ds *domain.Dataset, arr0 *domain.Array) (*domain.DerivedArray, error) {
	spec := e.config.Arrays[0]
	component := arr0.ClampComponent(e.config.Components[0])
	key := derivedKey{
		dataset:    ds,
		geometry:   ds.Geometry(),
		generation: ds.Generation(),
		spec:       spec,
		component:  component,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.derived != nil && e.derivedKey == key {
		return e.derived, nil
	}

	grid, err := geometryFor(ds, spec.Association)
	if err != nil {
		return nil, fmt.Errorf("gradient of %s: %w", spec, err)
	}
	mag, err := e.gradient.GradientMagnitude(grid, arr0, component)
	if err != nil {
		return nil, fmt.Errorf("gradient of %s: %w", spec, err)
	}

	e.derived = &domain.DerivedArray{Data: mag, Source: spec, Component: component}
	e.derivedKey = key

	e.logger.Info("Gradient magnitude derived",
		zap.Stringer("source", spec),
		zap.Int("tuples", mag.Tuples()))

	return e.derived, nil
}

func (e *HistogramEngine) releaseDerived() {
	e.mu.Lock()
	e.derived = nil
	e.derivedKey = derivedKey{}
	e.mu.Unlock()
}

func geometryFor(ds *domain.Dataset, assoc domain.Association) (*domain.StructuredGrid, error) {
	geometry := ds.Geometry()
	if geometry == nil {
		return nil, domain.ErrNoGeometry
	}
	switch assoc {
	case domain.AssociationPoint:
		return geometry, nil
	case domain.AssociationCell:
		return geometry.CellCenters(), nil
	default:
		return nil, fmt.Errorf("%w: %s arrays have no spatial layout", domain.ErrNoGeometry, assoc)
	}
}

func (e *HistogramEngine) computeRanges(req *domain.Request) {
	for axis := 0; axis < 2; axis++ {
		want := e.config.Components[axis]
		req.Components[axis] = req.Arrays[axis].ClampComponent(want)
		if req.Components[axis] != want {
			e.logger.Warn("Component index out of range, using 0",
				zap.Int("axis", axis),
				zap.Int("component", want),
				zap.Int("components", req.Arrays[axis].Components))
		}
	}

	custom := [2]domain.CustomRange{e.config.CustomRange0, e.config.CustomRange1}
	if e.config.UseGradientForYAxis && custom[1].Enabled {
		e.logger.Warn("Custom range for axis 1 is ignored in gradient mode")
		custom[1].Enabled = false
	}

	for axis := 0; axis < 2; axis++ {
		if custom[axis].Enabled {
			req.Ranges[axis] = custom[axis].Range()
			continue
		}
		r, ok := req.Arrays[axis].FiniteRange(req.Components[axis])
		if !ok {
			e.logger.Warn("Array has no finite values, using unit range",
				zap.Int("axis", axis),
				zap.String("array", req.Arrays[axis].Name))
		}
		req.Ranges[axis] = r.Normalize()
	}
}

// Bin accumulates every tuple of the request into a fresh grid.
func (e *HistogramEngine) Bin(ctx context.Context, req *domain.Request) (*domain.Grid, error) {
	for axis, n := range req.Bins {
		if n < 1 {
			return nil, fmt.Errorf("%w: axis %d has %d bins", domain.ErrInvalidBins, axis, n)
		}
	}
	n := req.Arrays[0].Tuples()
	if m := req.Arrays[1].Tuples(); m != n {
		e.logger.Error("Both arrays should be the same size",
			zap.String("array0", req.Arrays[0].Name),
			zap.Int("tuples0", n),
			zap.String("array1", req.Arrays[1].Name),
			zap.Int("tuples1", m))
		return nil, fmt.Errorf("%w: array %q has %d tuples, array %q has %d",
			domain.ErrSizeMismatch, req.Arrays[0].Name, n, req.Arrays[1].Name, m)
	}

	workers := e.config.Workers
	if workers == 0 {
		workers = domain.DefaultWorkers()
	}
	workers = max(1, min(workers, (n+partitionSize-1)/partitionSize))
	cells := req.Bins[0] * req.Bins[1]

	var wg sync.WaitGroup
	taskChan := make(chan domain.BinningTask, workers*2)
	resultChan := make(chan *domain.BinningResult, workers)

	// Запускаем воркеры
	for i := 0; i < workers; i++ {
		wg.Add(1)
		e.logger.Debug("Starting worker", zap.Int("id", i))
		go e.worker(ctx, i, cells, taskChan, resultChan, &wg)
	}

	// Отправляем задачи
	go func() {
		defer close(taskChan)
		for id, start := 0, 0; start < n; id, start = id+1, start+partitionSize {
			task := domain.BinningTask{
				ID:      id,
				Start:   start,
				End:     min(start+partitionSize, n),
				Request: req,
			}
			select {
			case taskChan <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Собираем результаты
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	counts := make([]float64, cells)
	skipped := 0
	for result := range resultChan {
		floats.Add(counts, result.Counts)
		skipped += result.Skipped
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if skipped > 0 {
		e.logger.Warn("Skipped tuples with non-finite values", zap.Int("count", skipped))
	}

	meta := req.Metadata()
	grid := &domain.Grid{
		Metadata: meta,
		Counts:   mat.NewDense(req.Bins[1], req.Bins[0], counts),
		Tuples:   n,
		Skipped:  skipped,
	}

	e.logger.Info("Histogram computed",
		zap.Int("tuples", n),
		zap.Ints("bins", req.Bins[:]),
		zap.Int("workers", workers))

	return grid, nil
}

// worker accumulates all of its tasks into one partial grid and sends it when the task channel closes.
func (e *HistogramEngine) worker(ctx context.Context, id, cells int, tasks <-chan domain.BinningTask, results chan<- *domain.BinningResult, wg *sync.WaitGroup) {
	defer wg.Done()

	partial := &domain.BinningResult{ID: id, Counts: make([]float64, cells)}
	for task := range tasks {
		if ctx.Err() != nil {
			continue
		}
		e.logger.Debug("Processing partition",
			zap.Int("worker", id),
			zap.Int("task", task.ID),
			zap.Int("start", task.Start),
			zap.Int("end", task.End))

		partial.Skipped += accumulate(task.Request, task.Start, task.End, partial.Counts)
	}

	results <- partial
}

// accumulate bins tuples [start, end) into counts and returns how many were skipped.
func accumulate(req *domain.Request, start, end int, counts []float64) int {
	arr0, arr1 := req.Arrays[0], req.Arrays[1]
	c0, c1 := req.Components[0], req.Components[1]
	bins0, bins1 := req.Bins[0], req.Bins[1]

	skipped := 0
	for t := start; t < end; t++ {
		v0 := arr0.Component(t, c0)
		v1 := arr1.Component(t, c1)
		if !finite(v0) || !finite(v1) {
			skipped++
			continue
		}
		bin0 := BinIndex(v0, req.Ranges[0], bins0)
		bin1 := BinIndex(v1, req.Ranges[1], bins1)
		counts[bin1*bins0+bin0]++
	}
	return skipped
}

// BinIndex maps v to floor((v-min)*(bins-1)/(max-min)), clamped into [0, bins-1].
// A zero-width range maps every value to bin 0.
func BinIndex(v float64, r domain.Range, bins int) int {
	if bins <= 1 || r.Degenerate() {
		return 0
	}
	n := float64(bins - 1)
	offset, width := v-r.Min, r.Width()
	var b float64
	if math.IsInf(offset*n, 0) || math.IsInf(width, 0) {
		// половинный масштаб, чтобы не переполнить float64 у границ диапазона
		offset, width = v/2-r.Min/2, r.Max/2-r.Min/2
		b = math.Floor(offset / width * n)
	} else {
		b = math.Floor(offset * n / width)
	}
	if !(b >= 0) {
		return 0
	}
	if b > float64(bins-1) {
		return bins - 1
	}
	return int(b)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
