package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"crmflow/internal/config"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
)

var (
	configFile string
	version    = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "automation-worker",
		Short:   "Automation worker for CRM events",
		Long:    "Automation Worker consumes CRM events, runs matching rules and advances cadence enrollments",
		Version: version,
		RunE:    serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd(), sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logger.Logger, error) {
	early := logger.Bootstrap()
	defer early.Sync()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			early.Errorw("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		early.Errorw("Failed to load config", "path", configFile, "error", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		early.Errorw("Failed to init logger", "error", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the automation worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Automation Worker", "version", version)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			log.InfowCtx(ctx, "Service running")
			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", err)
				return err
			}
			log.InfowCtx(ctx, "Service shutdown complete")
			return nil
		},
	}
}

// sweepCmd runs one scheduler job immediately and exits, for cron-less deployments and backfills.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep {" + constants.LockNameDeferredSweep + "|" + constants.LockNameCadenceSweep + "}",
		Short:     "Run one scheduler sweep and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{constants.LockNameDeferredSweep, constants.LockNameCadenceSweep},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg.Scheduler.Enabled = true
			app := NewApp(cfg, log)
			if err := app.Initialize(cmd.Context()); err != nil {
				return err
			}
			defer app.Shutdown(context.Background())

			return app.scheduler.Trigger(cmd.Context(), args[0])
		},
	}
}
