package main

import (
	"context"
	"fmt"

	"github.com/septivank/fleetwatch/internal/config"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/presence"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one offline sweep and deliver its notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context())
		},
	}
}

func runSweep(ctx context.Context) error {
	var (
		scheduler *presence.Scheduler
		logger    *zap.Logger
	)
	app := fx.New(
		coreModule(serveOptions{}),
		fx.Populate(&scheduler, &logger),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	startCtx, startCancel := context.WithTimeout(ctx, lifecycleTimeout)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	res, sweepErr := scheduler.RunOnce(ctx)
	logger.Info("one-shot sweep finished",
		zap.Int("candidates", res.Candidates),
		zap.Int("stage1", res.Stage1),
		zap.Int("stage2", res.Stage2),
		zap.Int("failed", res.Failed),
	)

	// Stopping drains the notification queue
	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("error stopping app: %w", err)
	}
	return sweepErr
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.StoreDriver != "postgres" {
		return fmt.Errorf("migrate requires STORE_DRIVER=postgres")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(ctx, lifecycleTimeout)
	defer cancel()

	pool, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("database schema applied")
	return nil
}
