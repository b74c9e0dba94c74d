// Package notify holds the outbound adapters automation actions deliver through:
// SendGrid email, an HTTP SMS/WhatsApp gateway and signed webhooks.
package notify

import (
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"crmflow/internal/constants"
)

// maxResponseBody caps how much of a remote response is kept for logs and execution records.
const maxResponseBody = 4 << 10

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   constants.MaxWebhookTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxResponseBody))
	return string(b)
}

func okStatus(code int) bool {
	return code >= constants.HTTPStatusOKMin && code < constants.HTTPStatusOKMax
}
