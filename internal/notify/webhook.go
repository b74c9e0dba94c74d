package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"crmflow/internal/actions"
	"crmflow/internal/config"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/circuitbreaker"
	"crmflow/pkg/metrics"
	"crmflow/pkg/retry"
)

const (
	SignatureHeader = "X-Automation-Signature"
	channelWebhook  = "webhook"
)

var _ actions.WebhookCaller = (*WebhookClient)(nil)

// WebhookClient delivers webhook actions. 5xx responses and transport errors are retried,
// 4xx responses are returned as-is.
type WebhookClient struct {
	client *http.Client
	secret string
	policy retry.Policy
	cb     *circuitbreaker.Wrapper
	logger logger.Logger
}

type WebhookOption func(*WebhookClient)

func WithWebhookBreaker(cb *circuitbreaker.Wrapper) WebhookOption {
	return func(c *WebhookClient) {
		c.cb = cb
	}
}

func NewWebhookClient(cfg config.WebhookConfig, log logger.Logger, opts ...WebhookOption) *WebhookClient {
	if log == nil {
		log = logger.NopLogger()
	}
	c := &WebhookClient{
		client: newHTTPClient(),
		secret: cfg.SigningSecret,
		policy: retry.FromConfig(cfg.Retry, retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
			MaxElapsedTime:  2 * constants.MaxWebhookTimeout,
		}),
		logger: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}

func (c *WebhookClient) Call(ctx context.Context, url, method string, payload []byte, timeout time.Duration) actions.WebhookResponse {
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	if timeout > constants.MaxWebhookTimeout {
		timeout = constants.MaxWebhookTimeout
	}
	if method == "" {
		method = http.MethodPost
	}

	var last actions.WebhookResponse
	err := retry.Do(ctx, c.policy, func() error {
		resp, err := c.attempt(ctx, url, method, payload, timeout)
		last = resp
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		c.logger.WarnwCtx(ctx, "Webhook attempt failed, retrying",
			"url", url, "attempt", attempt, "next_delay", nextDelay, "error", err)
	})
	metrics.IncNotificationRequest(channelWebhook, err == nil && last.Success)

	if err != nil {
		last.Success = false
		if last.Error == "" && last.StatusCode == 0 {
			last.Error = err.Error()
		}
		c.logger.ErrorwCtx(ctx, "Webhook delivery failed", "url", url, "method", method,
			"status_code", last.StatusCode, "error", err)
	}
	return last
}

func (c *WebhookClient) attempt(ctx context.Context, url, method string, payload []byte, timeout time.Duration) (actions.WebhookResponse, error) {
	var out actions.WebhookResponse

	_, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		body := bytes.NewReader(payload)
		if method == http.MethodGet {
			body = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(reqCtx, method, url, body)
		if err != nil {
			return nil, retry.NewFatalError(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.secret != "" {
			req.Header.Set(SignatureHeader, Sign(payload, c.secret))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			out = actions.WebhookResponse{Error: err.Error()}
			return nil, err
		}
		defer resp.Body.Close()

		out = actions.WebhookResponse{
			Success:    okStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       readBody(resp.Body),
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if circuitbreaker.IsOpenError(err) {
		out = actions.WebhookResponse{Error: err.Error()}
		return out, retry.NewFatalError(err)
	}
	// 4xx leaves err nil; the response itself carries the failure.
	return out, err
}
