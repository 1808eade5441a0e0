package main

import (
	"context"
	"fmt"
	"hist2d/internal/app"
	"hist2d/internal/domain"
	"hist2d/internal/infrastructure"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultGridFile = "histogram.txt"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "hist2d",
		Short:        "hist2d bins two dataset arrays into a 2D histogram",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "config.yaml", "Path to config file")
	infrastructure.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newDescribeCmd())
	root.AddCommand(newExecuteCmd())
	return root
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the shape, origin and spacing of the histogram without binning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, config, ds, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			engine := app.NewHistogramEngine(logger, config)
			meta, err := engine.Describe(cmd.Context(), ds)
			if err != nil {
				logger.Error("Describe failed", zap.Error(err))
				return err
			}

			target := config.Output.Metadata
			if target == "" {
				target = "-"
			}
			return infrastructure.NewTXTGridWriter(logger, config.Decimals).WriteMetadata(target, meta)
		},
	}
}

func newExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute",
		Short: "Compute the histogram and write the configured outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, config, ds, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			engine := app.NewHistogramEngine(logger, config)
			grid, err := engine.Execute(cmd.Context(), ds)
			if err != nil {
				logger.Error("Execute failed", zap.Error(err))
				return err
			}

			return writeOutputs(logger, config, grid)
		},
	}
}

// setup reads the config, reinitializes the logger from it and loads the dataset.
func setup(cmd *cobra.Command) (*zap.Logger, *domain.Config, *domain.Dataset, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, nil, err
	}

	// Инициализация логгера
	logger := initLogger("info")

	// Чтение конфигурации
	config, err := infrastructure.NewYAMLConfigReader(logger, cmd.Flags()).ReadConfig(configPath)
	if err != nil {
		logger.Error("Failed to read config", zap.String("path", configPath), zap.Error(err))
		return nil, nil, nil, err
	}

	// Обновляем уровень логирования
	logger = initLogger(config.LogLevel, config.LogFile)

	reader := infrastructure.NewTXTDatasetReader(logger, filepath.Dir(configPath))
	ds, err := reader.ReadDataset(config.Dataset)
	if err != nil {
		logger.Error("Failed to read dataset", zap.Error(err))
		return nil, nil, nil, err
	}

	return logger, config, ds, nil
}

func writeOutputs(logger *zap.Logger, config *domain.Config, grid *domain.Grid) error {
	writer := infrastructure.NewTXTGridWriter(logger, config.Decimals)

	out := config.Output
	if out == (domain.OutputSettings{}) {
		out.Grid = defaultGridFile
	}

	type output struct {
		file  string
		write func(string) error
	}
	outputs := []output{
		{out.Grid, func(f string) error { return writer.WriteGrid(f, grid) }},
		{out.Bins, func(f string) error { return writer.WriteBins(f, grid) }},
		{out.Image, func(f string) error { return writer.WriteImage(f, grid) }},
		{out.Metadata, func(f string) error { return writer.WriteMetadata(f, grid.Metadata) }},
	}

	for _, o := range outputs {
		if o.file == "" {
			continue
		}
		if err := o.write(o.file); err != nil {
			logger.Error("Failed to write result",
				zap.String("file", o.file),
				zap.Error(err))
			return err
		}
		logger.Info("Successfully written result",
			zap.String("file", o.file))
	}

	logger.Info("Histogram completed successfully",
		zap.Float64("total", grid.Total()),
		zap.Int("skipped", grid.Skipped))
	return nil
}

// initLogger initializes the logger with the specified level and log file name.
func initLogger(level string, logfileName ...string) *zap.Logger {
	config := zap.NewProductionConfig()

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	outputPath := []string{"stderr"}
	for _, item := range logfileName {
		if item != "" {
			outputPath = append(outputPath, item)
		}
	}

	config.OutputPaths = outputPath
	config.ErrorOutputPaths = outputPath
	config.EncoderConfig.TimeKey = "t"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	config.DisableCaller = false

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
