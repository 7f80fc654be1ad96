package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/reelyard/internal/db"
	"github.com/zulandar/reelyard/internal/status"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		workerID   string
		noStatus   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a scheduler worker",
		Long: `Runs the polling loop: expand pending jobs, rescue stuck videos, requeue
videos for model upgrades, then claim and process one video at a time.
Start as many workers as needed against the same database. The status
server (health, counts, breakers, metrics) runs alongside unless disabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, workerID, noStatus)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Reelyard config file")
	cmd.Flags().StringVar(&workerID, "worker-id", "", "claim owner name (default: hostname plus random suffix)")
	cmd.Flags().BoolVar(&noStatus, "no-status", false, "do not start the status server")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, workerID string, noStatus bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if workerID != "" {
		cfg.Scheduler.WorkerID = workerID
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := buildWorker(ctx, cfg, gormDB, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn("close worker", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.scheduler.Run(gctx)
	})
	if cfg.Status.Enabled && !noStatus {
		g.Go(func() error {
			return status.Start(gctx, status.StartOpts{
				DB:       gormDB,
				Port:     cfg.Status.Port,
				Registry: w.registry,
				Worker:   w.scheduler,
				Out:      cmd.OutOrStdout(),
			})
		})
	}

	logger.Info("worker running", "worker", w.scheduler.WorkerID())
	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("worker stopped")
	return nil
}
