package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/cropsense-service/internal/config"
	"github.com/kjstillabower/cropsense-service/internal/observability"
	"github.com/kjstillabower/cropsense-service/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cropsense",
	Short: "Weather advisory and crop disease detection service for farmers",
	Long: `cropsense serves current weather and forecasts with farming recommendations,
manages saved farm locations, and classifies crop leaf images for disease.
Forecasts are cached in SQL, memcached, redis or memory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default config/{ENV_NAME}.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config and builds the process logger shared by every subcommand.
func setup() (*config.Config, *zap.Logger, error) {
	logger, err := observability.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	store.SetMigrationLogger(logger)
	return cfg, logger, nil
}
