package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"crmflow/internal/archive"
	"crmflow/internal/broker"
	"crmflow/internal/config"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/internal/management"
	"crmflow/pkg/bootstrap"
	"crmflow/pkg/metrics"
	"crmflow/pkg/middleware"
	"crmflow/pkg/ratelimit"
	"crmflow/pkg/tracing"
)

const serviceName = "management-service"

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	automation  *bootstrap.Automation
	server      *http.Server
	router      *gin.Engine
	cancel      context.CancelFunc
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, serviceName),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	ctx = a.Context(ctx)

	if err := a.InitObservability(version); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	if _, err := a.dbConnector.InitPostgreSQL(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.initAutomation(ctx); err != nil {
		return fmt.Errorf("failed to initialize automation: %w", err)
	}

	metrics.RegisterAutomationMetrics()
	metrics.RegisterManagementMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initRouter(ctx)
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

// initAutomation wires the engine used by POST /events and the enrollment endpoints. Executions it
// runs inline are archived and published exactly like the worker's.
func (a *App) initAutomation(ctx context.Context) error {
	var opts bootstrap.AutomationOptions

	if a.Config.Broker.Type != "" {
		if err := a.InitProducer(); err != nil {
			a.Logger.WarnwCtx(ctx, "Broker unavailable, config and audit events disabled", "error", err)
		} else if topic := a.Config.Broker.Kafka.OutputTopic; topic != "" {
			metrics.RegisterBrokerMetrics()
			audit := broker.NewAuditPublisher(a.Producer, topic, a.Logger)
			opts.ExecutionObservers = append(opts.ExecutionObservers, audit)
			opts.EnrollmentObservers = append(opts.EnrollmentObservers, audit)
		}
	}

	mongoDB, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "MongoDB connection failed, continuing without archive", "error", err)
	} else if mongoDB != nil {
		if err := archive.EnsureIndexes(ctx, mongoDB); err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to ensure archive indexes", "error", err)
		}
		arch := archive.New(mongoDB, a.Logger)
		opts.ExecutionObservers = append(opts.ExecutionObservers, arch)
		opts.EnrollmentObservers = append(opts.EnrollmentObservers, arch)
	}

	auto, err := bootstrap.BuildAutomation(a.Config, a.dbConnector.DB, a.Logger, opts)
	if err != nil {
		return err
	}
	a.automation = auto
	return nil
}

func (a *App) newService() management.Service {
	opts := []management.ServiceOption{
		management.WithMatcher(a.automation.Matcher),
		management.WithAudit(management.NewAuditRepository(a.dbConnector.DB)),
	}
	if a.Producer != nil && a.Config.Broker.Kafka.ConfigUpdateTopic != "" {
		opts = append(opts, management.WithConfigEvents(
			management.NewConfigEventProducer(a.Producer, a.Config.Broker.Kafka.ConfigUpdateTopic)))
	}

	return management.NewService(
		a.automation.Store,
		a.automation.Store,
		a.automation.Store,
		a.automation.Engine,
		a.automation.Dispatcher,
		a.Logger,
		opts...,
	)
}

func (a *App) initRouter(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger, a.Reporter))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(management.ActorMiddleware())

	// health checks stay outside the rate limit
	router.GET("/health", a.dbConnector.HealthRegistry().Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if rl := a.Config.Management.RateLimit; rl.Enabled {
		limiterCtx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		router.Use(ratelimit.RateLimitMiddleware(limiterCtx, ratelimit.RateLimitConfig{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: time.Duration(rl.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(rl.MaxAge) * time.Second,
		}, ratelimit.HeaderKey(management.ChangedByHeader)))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
	}

	management.NewHandler(a.newService(), a.Logger).RegisterRoutes(router)
	a.router = router
}

func (a *App) Run(ctx context.Context) error {
	ctx = a.Context(ctx)
	errChan := make(chan error, 1)
	go func() {
		a.Logger.InfowCtx(ctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown(context.Background())
	case err := <-errChan:
		a.Shutdown(context.Background())
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error

		if a.cancel != nil {
			a.cancel()
		}

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}

		return append(errs, a.dbConnector.ShutdownDatabases(ctx)...)
	})
}
