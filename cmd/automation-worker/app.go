package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"crmflow/internal/archive"
	"crmflow/internal/broker"
	"crmflow/internal/config"
	"crmflow/internal/config_handler"
	"crmflow/internal/constants"
	"crmflow/internal/lock"
	"crmflow/internal/logger"
	"crmflow/internal/scheduler"
	"crmflow/pkg/bootstrap"
	"crmflow/pkg/circuitbreaker"
	"crmflow/pkg/clock"
	"crmflow/pkg/metrics"
	"crmflow/pkg/middleware"
	"crmflow/pkg/models"
)

const serviceName = "automation-worker"

// App consumes CRM events, runs the scheduler sweeps and keeps the rule catalog fresh.
type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	automation     *bootstrap.Automation
	scheduler      *scheduler.Scheduler
	configConsumer broker.Consumer
	server         *http.Server
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

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initAutomation(ctx); err != nil {
		return fmt.Errorf("failed to initialize automation: %w", err)
	}

	if err := a.initScheduler(ctx); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	metrics.RegisterAutomationMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initAutomation(ctx context.Context) error {
	opts := bootstrap.AutomationOptions{CachedRules: true}

	if topic := a.Config.Broker.Kafka.OutputTopic; topic != "" {
		audit := broker.NewAuditPublisher(a.Producer, topic, a.Logger)
		opts.ExecutionObservers = append(opts.ExecutionObservers, audit)
		opts.EnrollmentObservers = append(opts.EnrollmentObservers, audit)
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

	if err := auto.Catalog.ReloadRules(ctx); err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to load initial rules", "error", err)
	}

	a.automation = auto
	return nil
}

func (a *App) initScheduler(ctx context.Context) error {
	sc := a.Config.Scheduler
	if !sc.Enabled {
		a.Logger.InfowCtx(ctx, "Scheduler disabled, deferred executions and cadences will not advance here")
		return nil
	}

	var locker lock.Locker = lock.Noop{}
	if sc.Lock.Enabled {
		client, err := a.dbConnector.InitRedis(ctx)
		switch {
		case err != nil:
			a.Logger.WarnwCtx(ctx, "Redis unavailable, sweeps rely on database claims only", "error", err)
		case client != nil:
			locker = lock.NewRedisLocker(client, a.Logger,
				lock.WithCircuitBreaker(circuitbreaker.FromConfig("redis-lock", a.Config.CircuitBreaker)))
		}
	}

	ttl := sc.Lock.TTLSeconds
	if ttl <= 0 {
		ttl = constants.DefaultLockTTLSeconds
	}
	batch := sc.BatchSize
	if batch <= 0 {
		batch = constants.DefaultSweepBatchSize
	}
	deferredSpec, cadenceSpec := sc.DeferredSpec, sc.CadenceSpec
	if deferredSpec == "" {
		deferredSpec = constants.DefaultSchedulerSpec
	}
	if cadenceSpec == "" {
		cadenceSpec = constants.DefaultSchedulerSpec
	}

	s := scheduler.New(a.Logger,
		scheduler.WithLocker(locker, time.Duration(ttl)*time.Second),
		scheduler.WithReporter(a.Reporter),
	)
	clk := clock.Real{}
	if err := s.Add(scheduler.DeferredExecutionsJob(deferredSpec, a.automation.Runner, clk, batch, a.Logger)); err != nil {
		return err
	}
	if err := s.Add(scheduler.CadenceJob(cadenceSpec, a.automation.Engine, clk, a.Logger)); err != nil {
		return err
	}
	a.scheduler = s
	return nil
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(a.Logger, a.Reporter))
	router.GET("/health", a.dbConnector.HealthRegistry().Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: router,
	}
}

func (a *App) Run(ctx context.Context) error {
	ctx = a.Context(ctx)
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.automation.Catalog.StartReloader(gCtx)
	})

	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gCtx)
		})
	}

	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		consumer, err := a.NewConsumer()
		if err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to create config event consumer, event-driven reload disabled", "error", err)
		} else {
			a.configConsumer = consumer
			configHandler := config_handler.NewHandler(models.ServiceTypeAutomation, a.automation.Catalog, a.Logger,
				models.EventTypeRuleUpdated)
			g.Go(func() error {
				a.Logger.InfowCtx(gCtx, "Starting config update event consumer", "topic", topic)
				return consumer.Consume(gCtx, topic, configHandler.HandleConfigUpdateEvent)
			})
		}
	}

	inputTopic := a.Config.Broker.Kafka.InputTopic
	if inputTopic == "" {
		inputTopic = constants.DefaultInputTopic
	}
	events := broker.NewEventHandler(a.automation.Dispatcher, a.Logger)
	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Consuming CRM events", "topic", inputTopic)
		return a.Consumer.Consume(gCtx, inputTopic, events.Handle)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, a.Shutdown(context.Background()))
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error
		if a.configConsumer != nil {
			if err := a.configConsumer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("config consumer close error: %w", err))
			}
		}
		return append(errs, a.dbConnector.ShutdownDatabases(ctx)...)
	})
}
