package domain

// DatasetReader интерфейс для чтения набора данных
type DatasetReader interface {
	ReadDataset(sources []ArraySource) (*Dataset, error)
}

// GridWriter интерфейс для записи результатов
type GridWriter interface {
	WriteGrid(filename string, grid *Grid) error
	WriteBins(filename string, grid *Grid) error
	WriteImage(filename string, grid *Grid) error
	WriteMetadata(filename string, meta Metadata) error
}

// ConfigReader интерфейс для чтения конфигурации
type ConfigReader interface {
	ReadConfig(path string) (*Config, error)
}
