package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/cropsense-service/internal/store"
)

var dryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if dryRun {
		current, migrations, err := db.MigrationStatus()
		if err != nil {
			return err
		}
		pending := 0
		for _, m := range migrations {
			if !m.Applied {
				pending++
				logger.Info("pending migration", zap.Int64("version", m.Version), zap.String("source", m.Source))
			}
		}
		logger.Info("migration status",
			zap.String("driver", cfg.DatabaseDriver),
			zap.Int64("current_version", current),
			zap.Int("pending", pending))
		return nil
	}

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate %s: %w", cfg.DatabaseDriver, err)
	}
	logger.Info("migrations complete", zap.String("driver", cfg.DatabaseDriver))
	return nil
}
