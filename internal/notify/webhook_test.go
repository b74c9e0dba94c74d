package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/config"
	"crmflow/internal/logger"
	"crmflow/pkg/circuitbreaker"
)

func fastRetry(attempts int) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestWebhookSignsPayload(t *testing.T) {
	payload := []byte(`{"lead_id":"l-1"}`)
	var gotSig, gotMethod string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	defer srv.Close()

	client := NewWebhookClient(config.WebhookConfig{SigningSecret: "s3cret", Retry: fastRetry(1)}, logger.NopLogger())
	resp := client.Call(context.Background(), srv.URL, http.MethodPut, payload, time.Second)

	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", resp.Body)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, payload, gotBody)
	assert.True(t, VerifySignature(payload, gotSig, "s3cret"))
	assert.False(t, VerifySignature(payload, gotSig, "other"))
}

func TestWebhookWithoutSecretIsUnsigned(t *testing.T) {
	var hasSig atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasSig.Store(r.Header.Get(SignatureHeader) != "")
	}))
	defer srv.Close()

	resp := NewWebhookClient(config.WebhookConfig{}, nil).Call(context.Background(), srv.URL, "", []byte(`{}`), 0)

	assert.True(t, resp.Success)
	assert.False(t, hasSig.Load())
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewWebhookClient(config.WebhookConfig{Retry: fastRetry(3)}, logger.NopLogger())
	resp := client.Call(context.Background(), srv.URL, http.MethodPost, []byte(`{}`), time.Second)

	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewWebhookClient(config.WebhookConfig{Retry: fastRetry(2)}, logger.NopLogger())
	resp := client.Call(context.Background(), srv.URL, http.MethodPost, nil, time.Second)

	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.EqualValues(t, 2, calls.Load())
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewWebhookClient(config.WebhookConfig{Retry: fastRetry(3)}, logger.NopLogger())
	resp := client.Call(context.Background(), srv.URL, http.MethodPost, nil, time.Second)

	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWebhookTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewWebhookClient(config.WebhookConfig{Retry: fastRetry(1)}, logger.NopLogger())
	resp := client.Call(context.Background(), srv.URL, http.MethodPost, nil, 50*time.Millisecond)

	assert.False(t, resp.Success)
	assert.Zero(t, resp.StatusCode)
	assert.NotEmpty(t, resp.Error)
}

func TestWebhookOpenBreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := circuitbreaker.FromConfig("webhook-test", config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  1,
	})
	require.NotNil(t, cb)
	client := NewWebhookClient(config.WebhookConfig{Retry: fastRetry(1)}, logger.NopLogger(), WithWebhookBreaker(cb))

	first := client.Call(context.Background(), srv.URL, http.MethodPost, nil, time.Second)
	assert.Equal(t, http.StatusInternalServerError, first.StatusCode)

	second := client.Call(context.Background(), srv.URL, http.MethodPost, nil, time.Second)
	assert.False(t, second.Success)
	assert.Contains(t, second.Error, "open")
	assert.EqualValues(t, 1, calls.Load())
}
