// Package errreport forwards unexpected failures to Sentry when a DSN is configured.
package errreport

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"crmflow/internal/config"
	"crmflow/pkg/logging"
)

type Reporter interface {
	Capture(ctx context.Context, err error, tags map[string]string)
	CapturePanic(ctx context.Context, recovered interface{}, tags map[string]string)
	Flush(timeout time.Duration) bool
}

// Init configures the Sentry client. Without a DSN it returns a Reporter that drops everything.
func Init(cfg config.SentryConfig, release string) (Reporter, error) {
	if cfg.DSN == "" {
		return Noop{}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		TracesSampleRate: cfg.TracesSampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return &sentryReporter{hub: sentry.CurrentHub()}, nil
}

type sentryReporter struct {
	hub *sentry.Hub
}

func (r *sentryReporter) scoped(ctx context.Context, tags map[string]string, fn func(hub *sentry.Hub)) {
	hub := r.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		if traceID := logging.GetTraceID(ctx); traceID != "" {
			scope.SetTag("trace_id", traceID)
		}
	})
	fn(hub)
}

func (r *sentryReporter) Capture(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.scoped(ctx, tags, func(hub *sentry.Hub) { hub.CaptureException(err) })
}

func (r *sentryReporter) CapturePanic(ctx context.Context, recovered interface{}, tags map[string]string) {
	r.scoped(ctx, tags, func(hub *sentry.Hub) { hub.Recover(recovered) })
}

func (r *sentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

type Noop struct{}

func (Noop) Capture(context.Context, error, map[string]string) {}

func (Noop) CapturePanic(context.Context, interface{}, map[string]string) {}

func (Noop) Flush(time.Duration) bool { return true }
