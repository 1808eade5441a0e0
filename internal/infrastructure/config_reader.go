package infrastructure

import (
	"fmt"
	"hist2d/internal/domain"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type YAMLConfigReader struct {
	logger *zap.Logger
	flags  *pflag.FlagSet
}

var _ domain.ConfigReader = (*YAMLConfigReader)(nil)

// NewYAMLConfigReader creates a reader; flags may be nil. Only flags the user
// explicitly set override values from the file.
func NewYAMLConfigReader(logger *zap.Logger, flags *pflag.FlagSet) *YAMLConfigReader {
	return &YAMLConfigReader{logger: logger, flags: flags}
}

// RegisterFlags adds the config override flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("bins-x", domain.DefaultBins, "Number of bins along axis 0")
	fs.Int("bins-y", domain.DefaultBins, "Number of bins along axis 1")
	fs.Int("workers", 0, "Number of workers")
	fs.Bool("gradient", false, "Use the gradient magnitude of array 0 for axis 1")
	fs.String("log-level", "info", "Log level")
}

func (r *YAMLConfigReader) ReadConfig(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Значения по умолчанию для ключей, отсутствующих в файле; явный 0 остаётся ошибкой
	config := domain.Config{
		Bins:     [2]int{domain.DefaultBins, domain.DefaultBins},
		Decimals: domain.DefaultDecimals,
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidConfig, path, err)
	}

	// Применяем аргументы командной строки
	if err := r.applyCommandLineFlags(&config); err != nil {
		return nil, err
	}

	// Устанавливаем значения по умолчанию
	setDefaults(&config)

	r.logger.Debug("Config loaded",
		zap.String("path", path),
		zap.Ints("bins", config.Bins[:]),
		zap.Int("workers", config.Workers),
		zap.Bool("gradient", config.UseGradientForYAxis))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (r *YAMLConfigReader) applyCommandLineFlags(config *domain.Config) error {
	if r.flags == nil {
		return nil
	}

	var err error
	r.flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "bins-x":
			config.Bins[0], err = r.flags.GetInt(f.Name)
		case "bins-y":
			config.Bins[1], err = r.flags.GetInt(f.Name)
		case "workers":
			config.Workers, err = r.flags.GetInt(f.Name)
		case "gradient":
			config.UseGradientForYAxis, err = r.flags.GetBool(f.Name)
		case "log-level":
			config.LogLevel, err = r.flags.GetString(f.Name)
		}
	})
	return err
}

func setDefaults(config *domain.Config) {
	if len(config.Arrays) == 0 && len(config.Dataset) > 0 {
		config.Arrays = []domain.ArraySpec{{
			Name:        config.Dataset[0].Name,
			Association: config.Dataset[0].Association,
		}}
	}
	if config.Workers == 0 {
		config.Workers = domain.DefaultWorkers()
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}
