package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	_ "crmflow/cmd/management-service/docs"
	"crmflow/internal/config"
	"crmflow/internal/logger"
	"crmflow/internal/store/postgres"
	"crmflow/pkg/bootstrap"
)

var (
	configFile string
	version    = "dev"
)

// @title           crmflow Management API
// @version         1.0
// @description     REST API for CRM automation rules, cadence sequences, enrollments and executions
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.url    http://www.example.com/support
// @contact.email  support@example.com

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

func main() {
	rootCmd := &cobra.Command{
		Use:     "management-service",
		Short:   "Management API for CRM automation",
		Long:    "Management Service exposes the REST API for rules, sequences, enrollments and executions",
		Version: version,
		RunE:    serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd(), migrateCmd())

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
		Short: "Start the management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Management Service", "version", version)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	withDB := func(run func(ctx context.Context, dc *bootstrap.DatabaseConnector, log logger.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			// migrations run explicitly below
			cfg.Database.RunMigrations = false
			dc := bootstrap.NewDatabaseConnector(cfg, log)
			if _, err := dc.InitPostgreSQL(cmd.Context()); err != nil {
				return err
			}
			defer dc.ShutdownDatabases(cmd.Context())
			return run(cmd.Context(), dc, log)
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withDB(func(ctx context.Context, dc *bootstrap.DatabaseConnector, log logger.Logger) error {
			if err := postgres.Migrate(dc.DB); err != nil {
				return err
			}
			v, _, err := postgres.SchemaVersion(dc.DB)
			if err != nil {
				return err
			}
			log.InfowCtx(ctx, "Schema migrated", "version", v)
			return nil
		}),
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
	}
	down.RunE = func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return errors.New("steps must be a positive integer")
			}
			steps = n
		}
		return withDB(func(ctx context.Context, dc *bootstrap.DatabaseConnector, log logger.Logger) error {
			if err := postgres.MigrateDown(dc.DB, steps); err != nil {
				return err
			}
			log.InfowCtx(ctx, "Schema rolled back", "steps", steps)
			return nil
		})(cmd, args)
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: withDB(func(_ context.Context, dc *bootstrap.DatabaseConnector, _ logger.Logger) error {
			v, dirty, err := postgres.SchemaVersion(dc.DB)
			if err != nil {
				return err
			}
			fmt.Printf("version=%d dirty=%t\n", v, dirty)
			return nil
		}),
	}

	cmd.AddCommand(up, down, ver)
	return cmd
}
