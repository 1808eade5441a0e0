package infrastructure

import (
	"bufio"
	"fmt"
	"hist2d/internal/domain"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// LabeledMatrix is one TXT grid file: x coordinates in the header row, a y
// coordinate at the start of every data row, values stored x fastest.
type LabeledMatrix struct {
	X, Y   []float64
	Values []float64
}

var _ domain.DatasetReader = (*TXTDatasetReader)(nil)

type TXTDatasetReader struct {
	logger  *zap.Logger
	baseDir string
}

// NewTXTDatasetReader creates a reader resolving relative file names against baseDir.
func NewTXTDatasetReader(logger *zap.Logger, baseDir string) *TXTDatasetReader {
	return &TXTDatasetReader{logger: logger, baseDir: baseDir}
}

// ReadDataset loads every source as one array, one file per component. The
// geometry comes from the first point-associated source; without one the
// dataset has no geometry and gradients cannot be derived.
func (r *TXTDatasetReader) ReadDataset(sources []domain.ArraySource) (*domain.Dataset, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: dataset has no arrays", domain.ErrInvalidConfig)
	}

	matrices := make([][]*LabeledMatrix, len(sources))
	var geometry *domain.StructuredGrid
	for i, src := range sources {
		if len(src.Files) == 0 {
			return nil, fmt.Errorf("%w: array %q has no files", domain.ErrInvalidConfig, src.Name)
		}
		for _, name := range src.Files {
			m, err := r.ReadMatrix(r.resolve(name))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
			matrices[i] = append(matrices[i], m)
		}
		if geometry == nil && src.Association == domain.AssociationPoint {
			first := matrices[i][0]
			geometry = domain.NewStructuredGrid(first.X, first.Y, nil)
		}
	}

	ds := domain.NewDataset(geometry)
	for i, src := range sources {
		arr, err := interleave(src.Name, matrices[i])
		if err != nil {
			return nil, err
		}
		if err := ds.AddArray(src.Association, arr); err != nil {
			return nil, err
		}
		r.logger.Info("Array loaded",
			zap.String("name", src.Name),
			zap.Stringer("association", src.Association),
			zap.Int("components", arr.Components),
			zap.Int("tuples", arr.Tuples()))
	}

	return ds, nil
}

func (r *TXTDatasetReader) resolve(name string) string {
	if r.baseDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.baseDir, name)
}

func (r *TXTDatasetReader) ReadMatrix(filename string) (*LabeledMatrix, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(lines) < 2 {
		return nil, domain.ErrInvalidFileFormat
	}

	// Первая строка: метка углового поля и координаты x
	header := strings.Fields(lines[0])
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: header has no x labels", domain.ErrInvalidFileFormat)
	}
	x := r.parseLabels(filename, header[1:])

	var y, values []float64
	for i := 1; i < len(lines); i++ {
		fields := strings.Fields(lines[i])
		if len(fields) < 2 {
			continue
		}
		if len(fields)-1 != len(x) {
			return nil, fmt.Errorf("%w: line %d has %d values, header has %d labels",
				domain.ErrInvalidFileFormat, i+1, len(fields)-1, len(x))
		}

		// Первый столбец - координата y
		label, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidFileFormat, i+1, err)
		}
		y = append(y, label)

		for j := 1; j < len(fields); j++ {
			value, err := strconv.ParseFloat(fields[j], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidFileFormat, i+1, err)
			}
			values = append(values, value)
		}
	}

	if len(y) == 0 {
		return nil, fmt.Errorf("%w: no data rows", domain.ErrInvalidFileFormat)
	}

	return &LabeledMatrix{X: x, Y: y, Values: values}, nil
}

// parseLabels returns numeric x labels, falling back to column indices when
// any label is not a number (for example timestamps).
func (r *TXTDatasetReader) parseLabels(filename string, labels []string) []float64 {
	coords := make([]float64, len(labels))
	for i, l := range labels {
		v, err := strconv.ParseFloat(l, 64)
		if err != nil {
			r.logger.Debug("Non-numeric x labels, using column indices",
				zap.String("file", filename),
				zap.String("label", l))
			for j := range coords {
				coords[j] = float64(j)
			}
			return coords
		}
		coords[i] = v
	}
	return coords
}

// interleave merges per-component matrices into one multi-component array.
func interleave(name string, components []*LabeledMatrix) (*domain.Array, error) {
	n := len(components[0].Values)
	nc := len(components)
	values := make([]float64, n*nc)
	for c, m := range components {
		if len(m.Values) != n {
			return nil, fmt.Errorf("%w: array %q component %d has %d values, component 0 has %d",
				domain.ErrSizeMismatch, name, c, len(m.Values), n)
		}
		for t, v := range m.Values {
			values[t*nc+c] = v
		}
	}
	return domain.NewArray(name, nc, values), nil
}
