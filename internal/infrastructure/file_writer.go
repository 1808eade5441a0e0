package infrastructure

import (
	"bufio"
	"fmt"
	"hist2d/internal/domain"
	"image"
	"image/color"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"
)

type FmtFunc func(float64) string

var _ domain.GridWriter = (*TXTGridWriter)(nil)

type TXTGridWriter struct {
	logger *zap.Logger
	format FmtFunc
}

func NewTXTGridWriter(logger *zap.Logger, decimals int) *TXTGridWriter {
	return &TXTGridWriter{
		logger: logger,
		format: func(val float64) string {
			return strconv.FormatFloat(val, 'f', decimals, 64)
		},
	}
}

// WriteGrid writes the counts as a labelled matrix in the same layout the
// dataset reader accepts: bin centers of axis 0 in the header, one row per bin
// of axis 1.
func (w *TXTGridWriter) WriteGrid(filename string, grid *domain.Grid) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	bins0, bins1 := grid.Dimensions[0], grid.Dimensions[1]

	// Записываем центры бинов по оси 0
	labels := make([]string, bins0)
	for i := 0; i < bins0; i++ {
		labels[i] = w.format(binCenter(grid.Metadata, 0, i))
	}
	fmt.Fprintf(writer, "Y/X\t%s\n", strings.Join(labels, "\t"))

	// Записываем данные с центрами бинов по оси 1
	row := make([]string, bins0)
	for j := 0; j < bins1; j++ {
		for i := 0; i < bins0; i++ {
			row[i] = strconv.FormatFloat(grid.At(i, j), 'f', -1, 64)
		}
		fmt.Fprintf(writer, "%s\t%s\n", w.format(binCenter(grid.Metadata, 1, j)), strings.Join(row, "\t"))
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	w.logger.Debug("Grid written", zap.String("file", filename))
	return nil
}

// WriteBins writes one line per non-empty cell: lower edges of both bins and the count.
func (w *TXTGridWriter) WriteBins(filename string, grid *domain.Grid) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	fmt.Fprintf(writer, "%s\n", strings.Join([]string{"X", "Y", "Count"}, "\t"))

	for j := 0; j < grid.Dimensions[1]; j++ {
		for i := 0; i < grid.Dimensions[0]; i++ {
			count := grid.At(i, j)
			if count == 0 {
				continue
			}
			x := grid.Origin[0] + float64(i)*grid.Spacing[0]
			y := grid.Origin[1] + float64(j)*grid.Spacing[1]
			fmt.Fprintf(writer, "%.6e\t%.6e\t%10d\n", x, y, int64(count))
		}
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	w.logger.Debug("Bins written", zap.String("file", filename))
	return nil
}

// WriteImage exports the grid as a 16-bit grayscale TIFF, log-scaled to the
// largest count. Bin (0, 0) is the bottom-left pixel.
func (w *TXTGridWriter) WriteImage(filename string, grid *domain.Grid) error {
	bins0, bins1 := grid.Dimensions[0], grid.Dimensions[1]
	img := image.NewGray16(image.Rect(0, 0, bins0, bins1))

	peak := floats.Max(grid.Data())
	scale := 0.0
	if peak > 0 {
		scale = math.MaxUint16 / math.Log1p(peak)
	}
	for j := 0; j < bins1; j++ {
		for i := 0; i < bins0; i++ {
			v := math.Log1p(grid.At(i, j)) * scale
			img.SetGray16(i, bins1-1-j, color.Gray16{Y: uint16(math.Round(v))})
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return err
	}
	w.logger.Debug("Image written", zap.String("file", filename), zap.Float64("peak", peak))
	return nil
}

// WriteMetadata writes the grid shape as YAML; "-" writes to stdout.
func (w *TXTGridWriter) WriteMetadata(filename string, meta domain.Metadata) error {
	out := os.Stdout
	if filename != "-" {
		file, err := os.Create(filename)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return err
	}
	return enc.Close()
}

func binCenter(meta domain.Metadata, axis, i int) float64 {
	return meta.Origin[axis] + (float64(i)+0.5)*meta.Spacing[axis]
}
