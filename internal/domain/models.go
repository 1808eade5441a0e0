package domain

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultBins     = 256
	DefaultDecimals = 6

	// GradientArrayName is the name of the derived axis-1 array.
	GradientArrayName = "gradient-magnitude"
)

// DefaultWorkers is used when Config.Workers is 0.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

// Config представляет конфигурацию приложения
type Config struct {
	Bins                [2]int         `yaml:"bins"`
	Components          [2]int         `yaml:"components"`
	CustomRange0        CustomRange    `yaml:"custom_range_0"`
	CustomRange1        CustomRange    `yaml:"custom_range_1"`
	UseGradientForYAxis bool           `yaml:"use_gradient_for_y_axis"`
	Arrays              []ArraySpec    `yaml:"arrays"`
	Dataset             []ArraySource  `yaml:"dataset"`
	Workers             int            `yaml:"workers"`
	LogLevel            string         `yaml:"log_level"`
	LogFile             string         `yaml:"log_file"`
	Decimals            int            `yaml:"decimals"`
	Output              OutputSettings `yaml:"output"`
}

// CustomRange overrides the computed extent of one axis when Enabled.
type CustomRange struct {
	Enabled bool    `yaml:"enabled"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

func (c CustomRange) Range() Range {
	return Range{Min: c.Min, Max: c.Max}.Normalize()
}

// ArraySpec selects an "array to process": by name, or by position when Name is empty.
type ArraySpec struct {
	Name        string      `yaml:"name"`
	Index       int         `yaml:"index"`
	Association Association `yaml:"association"`
}

func (s ArraySpec) String() string {
	if s.Name != "" {
		return fmt.Sprintf("%s:%s", s.Association, s.Name)
	}
	return fmt.Sprintf("%s:#%d", s.Association, s.Index)
}

// ArraySource описывает массив набора данных, загружаемый из файлов (один файл на компоненту)
type ArraySource struct {
	Name        string      `yaml:"name"`
	Association Association `yaml:"association"`
	Files       []string    `yaml:"files"`
}

type OutputSettings struct {
	Grid     string `yaml:"grid"`
	Bins     string `yaml:"bins"`
	Image    string `yaml:"image"`
	Metadata string `yaml:"metadata"`
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	for axis, n := range c.Bins {
		if n < 1 {
			errs = append(errs, fmt.Errorf("%w: axis %d has %d bins", ErrInvalidBins, axis, n))
		}
	}
	if len(c.Arrays) == 0 {
		errs = append(errs, fmt.Errorf("%w: no arrays to process", ErrInvalidConfig))
	}
	if len(c.Arrays) > 2 {
		errs = append(errs, fmt.Errorf("%w: at most two arrays to process, got %d", ErrInvalidConfig, len(c.Arrays)))
	}
	for i, spec := range c.Arrays {
		if spec.Name == "" && spec.Index < 0 {
			errs = append(errs, fmt.Errorf("%w: array %d has negative index %d", ErrInvalidConfig, i, spec.Index))
		}
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, c.Workers))
	}
	return multierr.Combine(errs...)
}

// Association определяет, к каким элементам набора данных относится массив
type Association int

const (
	AssociationPoint Association = iota
	AssociationCell
	AssociationField
)

func (a Association) String() string {
	switch a {
	case AssociationPoint:
		return "point"
	case AssociationCell:
		return "cell"
	case AssociationField:
		return "field"
	default:
		return fmt.Sprintf("association(%d)", int(a))
	}
}

func ParseAssociation(s string) (Association, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "point", "points":
		return AssociationPoint, nil
	case "cell", "cells":
		return AssociationCell, nil
	case "field":
		return AssociationField, nil
	default:
		return 0, fmt.Errorf("%w: unknown association %q", ErrInvalidConfig, s)
	}
}

func (a Association) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

func (a *Association) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseAssociation(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Range is a closed value interval of one histogram axis.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// UnitRange is the range used before anything has been computed.
var UnitRange = Range{Min: 0, Max: 1}

func (r Range) Normalize() Range {
	if r.Max < r.Min {
		r.Min, r.Max = r.Max, r.Min
	}
	return r
}

func (r Range) Width() float64 {
	return r.Max - r.Min
}

func (r Range) Degenerate() bool {
	return r.Max == r.Min
}

// Array is a named stream of interleaved tuples.
type Array struct {
	Name       string
	Components int
	Values     []float64
}

func NewArray(name string, components int, values []float64) *Array {
	if components < 1 {
		components = 1
	}
	return &Array{Name: name, Components: components, Values: values}
}

func (a *Array) Tuples() int {
	if a == nil || a.Components == 0 {
		return 0
	}
	return len(a.Values) / a.Components
}

func (a *Array) Component(tuple, component int) float64 {
	return a.Values[tuple*a.Components+component]
}

// StructuredGrid описывает прямолинейную сетку; индекс точки растёт быстрее всего по x
type StructuredGrid struct {
	Dims   [3]int
	Coords [3][]float64
}

// NewStructuredGrid builds a grid from per-axis coordinates. Empty axes get a single zero coordinate.
func NewStructuredGrid(x, y, z []float64) *StructuredGrid {
	g := &StructuredGrid{}
	for axis, c := range [3][]float64{x, y, z} {
		if len(c) == 0 {
			c = []float64{0}
		}
		g.Coords[axis] = c
		g.Dims[axis] = len(c)
	}
	return g
}

func (g *StructuredGrid) NumPoints() int {
	return g.Dims[0] * g.Dims[1] * g.Dims[2]
}

func (g *StructuredGrid) NumCells() int {
	n := 1
	for _, d := range g.Dims {
		if d > 1 {
			n *= d - 1
		}
	}
	return n
}

// CellCenters returns the lattice of cell midpoints, used for cell-associated arrays.
func (g *StructuredGrid) CellCenters() *StructuredGrid {
	var centers [3][]float64
	for axis, c := range g.Coords {
		if len(c) < 2 {
			centers[axis] = c
			continue
		}
		mid := make([]float64, len(c)-1)
		for i := range mid {
			mid[i] = 0.5 * (c[i] + c[i+1])
		}
		centers[axis] = mid
	}
	return NewStructuredGrid(centers[0], centers[1], centers[2])
}

type namedArrays struct {
	order  []*Array
	byName map[string]*Array
}

// Dataset holds point, cell and field arrays over an optional structured geometry.
// Arrays are shared, not copied: after changing an array's values in place,
// attach it again with AddArray so cached results derived from it are dropped.
type Dataset struct {
	geometry   *StructuredGrid
	arrays     map[Association]*namedArrays
	generation uint64
}

func NewDataset(geometry *StructuredGrid) *Dataset {
	return &Dataset{geometry: geometry, arrays: make(map[Association]*namedArrays)}
}

// Geometry returns the structured grid, or nil for a dataset without one.
func (d *Dataset) Geometry() *StructuredGrid {
	return d.geometry
}

// SetGeometry replaces the grid. Every point and cell array must match it.
func (d *Dataset) SetGeometry(geometry *StructuredGrid) error {
	for _, assoc := range []Association{AssociationPoint, AssociationCell} {
		set, ok := d.arrays[assoc]
		if !ok {
			continue
		}
		for _, arr := range set.order {
			if err := checkTuples(geometry, assoc, arr); err != nil {
				return err
			}
		}
	}
	d.geometry = geometry
	d.generation++
	return nil
}

func checkTuples(geometry *StructuredGrid, assoc Association, arr *Array) error {
	if geometry == nil {
		return nil
	}
	want := -1
	switch assoc {
	case AssociationPoint:
		want = geometry.NumPoints()
	case AssociationCell:
		want = geometry.NumCells()
	}
	if want >= 0 && arr.Tuples() != want {
		return fmt.Errorf("%w: %s array %q has %d tuples, geometry expects %d",
			ErrSizeMismatch, assoc, arr.Name, arr.Tuples(), want)
	}
	return nil
}

// AddArray attaches an array, replacing any array with the same name and association.
func (d *Dataset) AddArray(assoc Association, arr *Array) error {
	if arr == nil || arr.Name == "" {
		return fmt.Errorf("%w: array must have a name", ErrInvalidConfig)
	}
	if arr.Components < 1 || len(arr.Values)%arr.Components != 0 {
		return fmt.Errorf("%w: array %q has %d values for %d components",
			ErrSizeMismatch, arr.Name, len(arr.Values), arr.Components)
	}
	if err := checkTuples(d.geometry, assoc, arr); err != nil {
		return err
	}

	set, ok := d.arrays[assoc]
	if !ok {
		set = &namedArrays{byName: make(map[string]*Array)}
		d.arrays[assoc] = set
	}
	if old, ok := set.byName[arr.Name]; ok {
		for i, a := range set.order {
			if a == old {
				set.order[i] = arr
			}
		}
	} else {
		set.order = append(set.order, arr)
	}
	set.byName[arr.Name] = arr
	d.generation++
	return nil
}

func (d *Dataset) Array(assoc Association, name string) (*Array, bool) {
	set, ok := d.arrays[assoc]
	if !ok {
		return nil, false
	}
	arr, ok := set.byName[name]
	return arr, ok
}

func (d *Dataset) ArrayAt(assoc Association, index int) (*Array, bool) {
	set, ok := d.arrays[assoc]
	if !ok || index < 0 || index >= len(set.order) {
		return nil, false
	}
	return set.order[index], true
}

// Lookup resolves an ArraySpec against the dataset.
func (d *Dataset) Lookup(spec ArraySpec) (*Array, error) {
	var (
		arr *Array
		ok  bool
	)
	if spec.Name != "" {
		arr, ok = d.Array(spec.Association, spec.Name)
	} else {
		arr, ok = d.ArrayAt(spec.Association, spec.Index)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArrayNotFound, spec)
	}
	return arr, nil
}

// Generation changes whenever an array is added or replaced or the geometry changes.
func (d *Dataset) Generation() uint64 {
	return d.generation
}

// AxisSource is the array behind histogram axis 1: either borrowed from the
// dataset (ExternalArray) or computed and owned by the engine (DerivedArray).
type AxisSource interface {
	Array() *Array
	Owned() bool
	axisSource()
}

type ExternalArray struct {
	Ref *Array
}

func (e ExternalArray) Array() *Array { return e.Ref }
func (e ExternalArray) Owned() bool   { return false }
func (ExternalArray) axisSource()     {}

// DerivedArray is a gradient magnitude computed from Source's Component.
type DerivedArray struct {
	Data      *Array
	Source    ArraySpec
	Component int
}

func (d *DerivedArray) Array() *Array { return d.Data }
func (d *DerivedArray) Owned() bool   { return true }
func (*DerivedArray) axisSource()     {}

// Request is the fully resolved, read-only input of one describe or execute call.
type Request struct {
	Arrays     [2]*Array
	Components [2]int
	Ranges     [2]Range
	Bins       [2]int
	Axis1      AxisSource
}

// Metadata returns the shape of the grid the request produces.
func (r *Request) Metadata() Metadata {
	return NewMetadata(r.Bins, r.Ranges)
}

// Metadata описывает форму выходной сетки без данных
type Metadata struct {
	Extent     [6]int     `yaml:"extent"`
	Dimensions [3]int     `yaml:"dimensions"`
	Spacing    [3]float64 `yaml:"spacing"`
	Origin     [3]float64 `yaml:"origin"`
	ScalarType string     `yaml:"scalar_type"`
	Components int        `yaml:"components"`
}

func NewMetadata(bins [2]int, ranges [2]Range) Metadata {
	return Metadata{
		Extent:     [6]int{0, bins[0] - 1, 0, bins[1] - 1, 0, 0},
		Dimensions: [3]int{bins[0], bins[1], 1},
		Spacing: [3]float64{
			ranges[0].Width() / float64(bins[0]),
			ranges[1].Width() / float64(bins[1]),
			1,
		},
		Origin:     [3]float64{ranges[0].Min, ranges[1].Min, 0},
		ScalarType: "float64",
		Components: 1,
	}
}

// Grid is the filled 2D histogram. Counts has Dimensions[1] rows and Dimensions[0] columns.
type Grid struct {
	Metadata
	Counts  *mat.Dense
	Tuples  int
	Skipped int
}

// At returns the count of cell (bin0, bin1).
func (g *Grid) At(bin0, bin1 int) float64 {
	return g.Counts.At(bin1, bin0)
}

// Data returns the counts in flat order, index bin1*bins0 + bin0.
func (g *Grid) Data() []float64 {
	return g.Counts.RawMatrix().Data
}

// Histogram представляет одномерную гистограмму
type Histogram struct {
	Bins []float64
	Vals []float64
	Len  int
}

var (
	ErrInvalidFileFormat = errors.New("invalid file format")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidBins       = errors.New("number of bins must be positive")
	ErrArrayNotFound     = errors.New("array not found")
	ErrSizeMismatch      = errors.New("size mismatch")
	ErrNoGeometry        = errors.New("dataset has no structured geometry")
	ErrShapeMismatch     = errors.New("grid shapes differ")
	ErrInvalidGrid       = errors.New("invalid grid")
)
