// Package circuitbreaker guards calls to outbound dependencies such as SendGrid, the messaging
// gateway, webhook targets and the Redis lock. A nil *Wrapper is valid and calls straight through.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"crmflow/internal/config"
	"crmflow/pkg/metrics"
)

const (
	defaultMaxRequests  = 3
	defaultInterval     = time.Minute
	defaultTimeout      = time.Minute
	defaultMinRequests  = 3
	defaultFailureRatio = 0.5
)

type Wrapper struct {
	cb *gobreaker.CircuitBreaker
}

// FromConfig builds a named breaker from the shared circuit_breaker settings. It returns nil when
// breaking is disabled.
func FromConfig(name string, cfg config.CircuitBreakerConfig) *Wrapper {
	if !cfg.Enabled {
		return nil
	}

	minRequests, ratio := uint32(defaultMinRequests), defaultFailureRatio
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		minRequests, ratio = cfg.MinRequests, cfg.FailureRatio
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: orDefault(cfg.MaxRequests, defaultMaxRequests),
		Interval:    orDefault(cfg.Interval, defaultInterval),
		Timeout:     orDefault(cfg.Timeout, defaultTimeout),
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minRequests && float64(c.TotalFailures)/float64(c.Requests) >= ratio
		},
		// a caller giving up is not a fault of the dependency
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			setStateGauge(name, to)
		},
	}
	return newWrapper(settings)
}

func newWrapper(settings gobreaker.Settings) *Wrapper {
	cb := gobreaker.NewCircuitBreaker(settings)
	setStateGauge(cb.Name(), cb.State())
	return &Wrapper{cb: cb}
}

// ExecuteWithContext runs fn unless ctx is already done or the breaker rejects the call.
func (w *Wrapper) ExecuteWithContext(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w == nil {
		return fn()
	}

	result, err := w.cb.Execute(fn)

	state := w.cb.State().String()
	metrics.CircuitBreakerRequests.WithLabelValues(w.cb.Name(), state).Inc()
	if err != nil && !IsOpenError(err) {
		metrics.CircuitBreakerFailures.WithLabelValues(w.cb.Name()).Inc()
	}
	return result, err
}

// IsOpenError reports whether err was returned because the breaker rejected the call.
func IsOpenError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (w *Wrapper) Name() string {
	return w.cb.Name()
}

func (w *Wrapper) State() gobreaker.State {
	return w.cb.State()
}

func (w *Wrapper) IsOpen() bool {
	return w != nil && w.cb.State() == gobreaker.StateOpen
}

// setStateGauge exports closed as 0, half-open as 1 and open as 2.
func setStateGauge(name string, state gobreaker.State) {
	value := map[gobreaker.State]float64{
		gobreaker.StateClosed:   0,
		gobreaker.StateHalfOpen: 1,
		gobreaker.StateOpen:     2,
	}[state]
	metrics.CircuitBreakerState.WithLabelValues(name).Set(value)
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
