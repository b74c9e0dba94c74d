package errreport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/config"
)

func TestInitWithoutDSNIsNoop(t *testing.T) {
	r, err := Init(config.SentryConfig{}, "test")
	require.NoError(t, err)
	assert.IsType(t, Noop{}, r)

	assert.NotPanics(t, func() {
		r.Capture(context.Background(), errors.New("boom"), map[string]string{"job": "cadence"})
		r.CapturePanic(context.Background(), "boom", nil)
	})
	assert.True(t, r.Flush(time.Millisecond))
}

func TestInitRejectsMalformedDSN(t *testing.T) {
	_, err := Init(config.SentryConfig{DSN: "not-a-dsn"}, "test")
	assert.Error(t, err)
}
