package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"crmflow/internal/actions"
	"crmflow/internal/config"
	"crmflow/internal/logger"
	"crmflow/pkg/circuitbreaker"
	"crmflow/pkg/metrics"
)

const (
	sendGridEndpoint = "/v3/mail/send"
	channelEmail     = "email"
)

var _ actions.EmailService = (*EmailSender)(nil)

// EmailSender delivers through SendGrid. Without an API key it logs the message and reports success,
// which keeps local environments usable.
type EmailSender struct {
	cfg    config.EmailConfig
	host   string
	cb     *circuitbreaker.Wrapper
	logger logger.Logger
}

type EmailOption func(*EmailSender)

// WithSendGridHost points the sender at a different API host.
func WithSendGridHost(host string) EmailOption {
	return func(s *EmailSender) {
		s.host = host
	}
}

func WithEmailBreaker(cb *circuitbreaker.Wrapper) EmailOption {
	return func(s *EmailSender) {
		s.cb = cb
	}
}

func NewEmailSender(cfg config.EmailConfig, log logger.Logger, opts ...EmailOption) *EmailSender {
	if log == nil {
		log = logger.NopLogger()
	}
	s := &EmailSender{cfg: cfg, logger: log}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.SendGridAPIKey == "" {
		log.Warnw("Email sender in console-only mode, set email.sendgrid_api_key to deliver")
	}
	return s
}

func (s *EmailSender) Send(ctx context.Context, msg actions.EmailMessage) actions.SendResult {
	if msg.ToAddress == "" {
		return actions.SendResult{Message: "recipient address is empty"}
	}

	fromEmail, fromName := s.cfg.FromEmail, s.cfg.FromName
	var replyTo string
	if msg.Sender != nil {
		if msg.Sender.FromEmail != "" {
			fromEmail = msg.Sender.FromEmail
		}
		if msg.Sender.FromName != "" {
			fromName = msg.Sender.FromName
		}
		replyTo = msg.Sender.ReplyTo
	}

	if s.cfg.SendGridAPIKey == "" {
		s.logger.InfowCtx(ctx, "Email not sent (console mode)",
			"to", msg.ToAddress, "from", fromEmail, "subject", msg.Subject)
		metrics.IncNotificationRequest(channelEmail, true)
		return actions.SendResult{Success: true, Message: fmt.Sprintf("email to %s logged", msg.ToAddress)}
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(fromName, fromEmail))
	m.Subject = msg.Subject
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.ToName, msg.ToAddress))
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/html", msg.HTMLContent))
	if replyTo != "" {
		m.SetReplyTo(mail.NewEmail("", replyTo))
	}

	request := sendgrid.GetRequest(s.cfg.SendGridAPIKey, sendGridEndpoint, s.host)
	request.Method = "POST"
	client := &sendgrid.Client{Request: request}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		resp, err := client.SendWithContext(ctx, m)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
		}
		return nil, nil
	})
	metrics.IncNotificationRequest(channelEmail, err == nil)
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to send email", "to", msg.ToAddress, "error", err)
		return actions.SendResult{Message: err.Error()}
	}

	s.logger.DebugwCtx(ctx, "Email sent", "to", msg.ToAddress, "subject", msg.Subject)
	return actions.SendResult{Success: true, Message: fmt.Sprintf("email sent to %s", msg.ToAddress)}
}
