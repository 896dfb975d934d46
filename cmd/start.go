package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/everping/everping/internal/alert"
	"github.com/everping/everping/internal/build"
	"github.com/everping/everping/internal/config"
	"github.com/everping/everping/internal/engine"
	"github.com/everping/everping/internal/fileutil"
	"github.com/everping/everping/internal/frontend"
	"github.com/everping/everping/internal/holiday"
	"github.com/everping/everping/internal/jobs"
	"github.com/everping/everping/internal/logger"
	"github.com/everping/everping/internal/metricsio"
	"github.com/everping/everping/internal/runlog"
	"github.com/everping/everping/internal/scheduler"
	"github.com/everping/everping/internal/store"
	"github.com/everping/everping/internal/worker"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the orchestrator: scheduler, workers and admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			cfg, err := config.Load(config.WithEnvFile(envFile))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return runStart(cmd.Context(), cfg)
		},
	}
}

func runStart(ctx context.Context, cfg *config.Config) error {
	dataDir := filepath.Dir(cfg.DBPath)
	for _, dir := range []string{dataDir, cfg.LogDir, cfg.MetricsDir} {
		if err := fileutil.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logWriter, err := logger.NewRotatingWriter(cfg.LogDir, cfg.AppLogName, cfg.LogMaxBytes, cfg.LogBackupCount)
	if err != nil {
		return fmt.Errorf("failed to open application log: %w", err)
	}
	lg := logger.NewLogger(
		logger.WithLevel(cfg.LogLevel),
		logger.WithWriter(logWriter),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, lg)

	// One orchestrator per data directory.
	instanceLock := flock.New(filepath.Join(dataDir, build.Slug+".lock"))
	locked, err := instanceLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another instance is already running in %s", dataDir)
	}
	defer func() { _ = instanceLock.Unlock() }()

	st, err := store.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer func() { _ = st.Close() }()

	catalogue := jobs.NewRegistry(cfg.JobsFile)
	if err := catalogue.Reload(); err != nil {
		logger.Warn(ctx, "jobs file not loaded", "path", cfg.JobsFile, "err", err)
	}

	alerts := alert.New(st, cfg.AlertSuppressSec, alert.Push{
		Script: cfg.AlertPushScript,
		Title:  cfg.AlertPushTitle,
		Group:  cfg.AlertPushGroup,
		Level:  cfg.AlertPushLevel,
	})
	runLogs := runlog.NewWriter(cfg.LogDir, cfg.Location, cfg.LogBackupCount)
	metrics := metricsio.NewWriter(cfg.MetricsDir, cfg.Location, cfg.MetricsRetentionDays)

	eng := engine.New(st, catalogue, alerts, runLogs, metrics, cfg.DefaultTimeoutSec, cfg.RunZombieSec)
	pool := worker.New(st, eng, cfg.MaxWorkers)
	evaluator := scheduler.New(st, &holiday.Calendar{}, cfg.Location)
	server := frontend.New(cfg, st, catalogue, evaluator)

	logger.Info(ctx, "starting", "app", build.AppName, "version", build.Version,
		"db", cfg.DBPath, "workers", cfg.MaxWorkers, "tz", cfg.Timezone)

	go evaluator.Start(ctx)
	go pool.Start(ctx)

	err = server.Serve(ctx)

	evaluator.Stop()
	pool.Stop(context.WithoutCancel(ctx))
	return err
}
