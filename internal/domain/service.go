package domain

import "context"

// HistogramService двухфазный сервис построения 2D гистограммы
type HistogramService interface {
	Describe(ctx context.Context, ds *Dataset) (Metadata, error)
	Execute(ctx context.Context, ds *Dataset) (*Grid, error)
}

// BinningTask задача обработки диапазона кортежей [Start, End)
type BinningTask struct {
	ID         int
	Start, End int
	Request    *Request
}

// BinningResult частичная гистограмма одного диапазона
type BinningResult struct {
	ID      int
	Counts  []float64
	Skipped int
}
