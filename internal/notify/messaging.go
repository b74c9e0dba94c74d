package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"crmflow/internal/actions"
	"crmflow/internal/config"
	"crmflow/internal/logger"
	"crmflow/pkg/circuitbreaker"
	"crmflow/pkg/metrics"
)

var _ actions.MessagingService = (*Gateway)(nil)

type gatewayMessage struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Body    string `json:"body"`
}

// Gateway posts SMS and WhatsApp messages to an HTTP provider, one endpoint per channel.
type Gateway struct {
	cfg     config.MessagingConfig
	client  *http.Client
	limiter *rate.Limiter
	cb      *circuitbreaker.Wrapper
	logger  logger.Logger
}

type GatewayOption func(*Gateway)

func WithGatewayBreaker(cb *circuitbreaker.Wrapper) GatewayOption {
	return func(g *Gateway) {
		g.cb = cb
	}
}

func NewGateway(cfg config.MessagingConfig, log logger.Logger, opts ...GatewayOption) *Gateway {
	if log == nil {
		log = logger.NopLogger()
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	g := &Gateway{
		cfg:     cfg,
		client:  newHTTPClient(),
		limiter: rate.NewLimiter(limit, burst),
		logger:  log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) endpoint(channel actions.Channel) string {
	switch channel {
	case actions.ChannelSMS:
		return g.cfg.SMSURL
	case actions.ChannelWhatsApp:
		return g.cfg.WhatsAppURL
	}
	return ""
}

func (g *Gateway) Send(ctx context.Context, channel actions.Channel, to, body string) (err error) {
	defer func() {
		metrics.IncNotificationRequest(string(channel), err == nil)
	}()

	url := g.endpoint(channel)
	if url == "" {
		return fmt.Errorf("no gateway configured for channel %s", channel)
	}
	number, err := actions.NormalizePhone(to, g.cfg.DefaultRegion)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	payload, err := json.Marshal(gatewayMessage{Channel: string(channel), To: number, Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("messaging rate limit wait: %w", err)
	}

	_, err = g.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if g.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if !okStatus(resp.StatusCode) {
			return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, readBody(resp.Body))
		}
		return nil, nil
	})
	if err != nil {
		g.logger.ErrorwCtx(ctx, "Failed to send message", "channel", channel, "to", number, "error", err)
		return fmt.Errorf("%s delivery failed: %w", channel, err)
	}

	g.logger.DebugwCtx(ctx, "Message sent", "channel", channel, "to", number)
	return nil
}
