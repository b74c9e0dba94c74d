package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"crmflow/internal/config"
)

func TestKafkaHeadersCarryTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := InjectTraceContext(ctx, []kafka.Header{{Key: "source", Value: []byte("crm")}})
	require.Len(t, headers, 2)
	assert.Equal(t, "source", headers[0].Key)

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	assert.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())
	assert.True(t, extracted.IsRemote())
}

func TestInjectOverwritesExistingHeader(t *testing.T) {
	carrier := headerCarrier{{Key: "traceparent", Value: []byte("old")}}
	carrier.Set("traceparent", "new")
	assert.Len(t, carrier, 1)
	assert.Equal(t, "new", carrier.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.NeverSample().Description(), Sampler(config.SamplerConfig{Type: "always_off"}).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), Sampler(config.SamplerConfig{Type: "bogus"}).Description())
	assert.Equal(t,
		sdktrace.TraceIDRatioBased(0.25).Description(),
		Sampler(config.SamplerConfig{Type: "traceidratio", Param: 0.25}).Description())
}

func TestInitDisabled(t *testing.T) {
	tp, err := Init(config.TracingConfig{}, "automation-worker")
	require.NoError(t, err)
	_, span := tp.Tracer("x").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))
}
