package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crmflow/internal/config"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/internal/store/postgres"
	"crmflow/pkg/health"
)

var ErrPostgresNotConfigured = errors.New("database.postgres.host is required")

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger

	DB    *sql.DB
	Redis *redis.Client
	Mongo *mongo.Client
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// PostgresDSN builds the lib/pq connection string.
func PostgresDSN(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, sslMode)
}

// InitPostgreSQL connects to the primary store and applies pending migrations when
// database.run_migrations is set.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	if dc.Config.Database.Postgres.Host == "" {
		return nil, ErrPostgresNotConfigured
	}

	db, err := sql.Open("postgres", PostgresDSN(dc.Config.Database.Postgres))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dc.Config.Database.RunMigrations {
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
		version, _, _ := postgres.SchemaVersion(db)
		dc.Logger.InfowCtx(ctx, "PostgreSQL migrations applied", "version", version)
	}

	dc.Logger.InfowCtx(ctx, "PostgreSQL connected")
	dc.DB = db
	return db, nil
}

// InitRedis returns nil when no host is configured; the scheduler lock then falls back to a no-op.
func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	if dc.Config.Database.Redis.Host == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port),
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.InfowCtx(ctx, "Redis connected")
	dc.Redis = rdb
	return rdb, nil
}

// InitMongoDB returns nil when no URI is configured; the execution archive is then disabled.
func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Database, error) {
	if dc.Config.Database.MongoDB.URI == "" {
		return nil, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dc.Config.Database.MongoDB.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	name := dc.Config.Database.MongoDB.Database
	if name == "" {
		name = constants.DefaultMongoDBName
	}

	dc.Logger.InfowCtx(ctx, "MongoDB connected", "database", name)
	dc.Mongo = client
	return client.Database(name), nil
}

// HealthRegistry checks every connection opened so far. Postgres is required; the others only degrade.
func (dc *DatabaseConnector) HealthRegistry() *health.CheckerRegistry {
	registry := health.NewCheckerRegistry()
	registry.Register(health.NewPostgreSQLChecker(dc.DB))
	if dc.Redis != nil {
		registry.RegisterOptional(health.NewRedisChecker(dc.Redis))
	}
	if dc.Mongo != nil {
		registry.RegisterOptional(health.NewMongoDBChecker(dc.Mongo))
	}
	return registry
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context) []error {
	var errs []error

	if dc.Redis != nil {
		if err := dc.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if dc.DB != nil {
		if err := dc.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if dc.Mongo != nil {
		if err := dc.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}
