package bootstrap

import (
	"context"
	"fmt"
	"time"

	"crmflow/internal/broker"
	"crmflow/internal/config"
	"crmflow/internal/logger"
	"crmflow/pkg/errreport"
	"crmflow/pkg/logging"
	"crmflow/pkg/tracing"
)

const reporterFlushTimeout = 2 * time.Second

// Base carries what every binary shares: config, logging, error reporting, tracing and the broker.
type Base struct {
	Config      *config.Config
	Logger      logger.Logger
	ServiceName string
	Reporter    errreport.Reporter
	Tracer      *tracing.TracerProvider
	Producer    broker.Producer
	Consumer    broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger, serviceName string) *Base {
	if sugared, ok := log.(*logger.SugaredLogger); ok {
		sugared.SetServiceName(serviceName)
	}
	return &Base{
		Config:      cfg,
		Logger:      log,
		ServiceName: serviceName,
		Reporter:    errreport.Noop{},
	}
}

// Context tags ctx with the service name for log correlation.
func (b *Base) Context(ctx context.Context) context.Context {
	return logging.WithServiceName(ctx, b.ServiceName)
}

func (b *Base) InitObservability(release string) error {
	reporter, err := errreport.Init(b.Config.Sentry, release)
	if err != nil {
		return err
	}
	b.Reporter = reporter

	tp, err := tracing.Init(b.Config.Tracing, b.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	b.Tracer = tp
	return nil
}

// InitProducer creates only the producer; binaries that publish but never consume use it.
func (b *Base) InitProducer() error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	b.Producer = producer
	return nil
}

func (b *Base) InitBroker() error {
	if err := b.InitProducer(); err != nil {
		return err
	}

	consumer, err := b.NewConsumer()
	if err != nil {
		b.Producer.Close()
		b.Producer = nil
		return err
	}
	b.Consumer = consumer
	return nil
}

// NewConsumer returns an extra consumer; each topic needs its own reader.
func (b *Base) NewConsumer() (broker.Consumer, error) {
	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	consumer.SetServiceName(b.ServiceName)
	return consumer, nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	ctx = b.Context(ctx)
	b.Logger.InfowCtx(ctx, "Shutting down application")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker()...)

	if b.Tracer != nil {
		if err := b.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	b.Reporter.Flush(reporterFlushTimeout)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
