package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/actions"
	"crmflow/internal/config"
	"crmflow/internal/logger"
)

type gatewayRecorder struct {
	path    string
	auth    string
	message gatewayMessage
}

func newGatewayServer(t *testing.T, status int, rec *gatewayRecorder) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&rec.message)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayRoutesByChannel(t *testing.T) {
	var rec gatewayRecorder
	srv := newGatewayServer(t, http.StatusOK, &rec)
	gw := NewGateway(config.MessagingConfig{
		SMSURL:        srv.URL + "/sms",
		WhatsAppURL:   srv.URL + "/whatsapp",
		APIKey:        "key-1",
		DefaultRegion: "US",
	}, logger.NopLogger())

	require.NoError(t, gw.Send(context.Background(), actions.ChannelWhatsApp, "(201) 555-0123", "hello"))
	assert.Equal(t, "/whatsapp", rec.path)
	assert.Equal(t, "Bearer key-1", rec.auth)
	assert.Equal(t, gatewayMessage{Channel: "whatsapp", To: "+12015550123", Body: "hello"}, rec.message)

	require.NoError(t, gw.Send(context.Background(), actions.ChannelSMS, "+12015550123", "again"))
	assert.Equal(t, "/sms", rec.path)
	assert.Equal(t, "sms", rec.message.Channel)
}

func TestGatewayRejectsInvalidNumber(t *testing.T) {
	var rec gatewayRecorder
	srv := newGatewayServer(t, http.StatusOK, &rec)
	gw := NewGateway(config.MessagingConfig{SMSURL: srv.URL}, nil)

	err := gw.Send(context.Background(), actions.ChannelSMS, "12", "hello")
	require.Error(t, err)
	assert.Empty(t, rec.path)
}

func TestGatewayWithoutEndpoint(t *testing.T) {
	gw := NewGateway(config.MessagingConfig{}, nil)
	err := gw.Send(context.Background(), actions.ChannelWhatsApp, "+12015550123", "hello")
	assert.ErrorContains(t, err, "no gateway configured")
}

func TestGatewayProviderError(t *testing.T) {
	var rec gatewayRecorder
	srv := newGatewayServer(t, http.StatusTooManyRequests, &rec)
	gw := NewGateway(config.MessagingConfig{SMSURL: srv.URL}, nil)

	err := gw.Send(context.Background(), actions.ChannelSMS, "+12015550123", "hello")
	assert.ErrorContains(t, err, "status 429")
}

func TestGatewayRateLimitHonoursContext(t *testing.T) {
	var rec gatewayRecorder
	srv := newGatewayServer(t, http.StatusOK, &rec)
	gw := NewGateway(config.MessagingConfig{SMSURL: srv.URL, RPS: 0.001, Burst: 1}, nil)

	require.NoError(t, gw.Send(context.Background(), actions.ChannelSMS, "+12015550123", "first"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := gw.Send(ctx, actions.ChannelSMS, "+12015550123", "second")
	assert.ErrorContains(t, err, "rate limit")
	assert.Equal(t, "first", rec.message.Body)
}
