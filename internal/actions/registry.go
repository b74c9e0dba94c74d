package actions

import (
	"context"
	"fmt"
	"time"

	"crmflow/internal/logger"
	"crmflow/pkg/clock"
	"crmflow/pkg/errors"
	"crmflow/pkg/metrics"
)

// Dependencies are the collaborators handlers call out to. Nil services make the
// corresponding actions fail with a descriptive message instead of panicking.
type Dependencies struct {
	Email         EmailService
	Tasks         TaskService
	Leads         LeadStore
	Opportunities OpportunityService
	Messaging     MessagingService
	Webhooks      WebhookCaller
	Clock         clock.Clock
	Logger        logger.Logger
	// DefaultRegion is the ISO region used to parse phone numbers without a country prefix.
	DefaultRegion string
	// DefaultWebhookTimeout applies when a webhook config does not set its own.
	DefaultWebhookTimeout time.Duration
}

type Registry struct {
	handlers map[ActionType]Handler
	logger   logger.Logger
}

// NewRegistry wires one handler per ActionType.
func NewRegistry(deps Dependencies) *Registry {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NopLogger()
	}

	h := &handlers{deps: deps}
	return &Registry{
		logger: deps.Logger,
		handlers: map[ActionType]Handler{
			SendEmail:         typed(h.sendEmail),
			CreateTask:        typed(h.createTask),
			UpdateLeadStatus:  typed(h.updateLeadStatus),
			MoveLeadStage:     typed(h.moveLeadStage),
			AssignUser:        typed(h.assignUser),
			AddTag:            typed(h.addTag),
			RemoveTag:         typed(h.removeTag),
			CreateOpportunity: typed(h.createOpportunity),
			SendSMS:           typed(h.sendMessage),
			SendWhatsApp:      typed(h.sendMessage),
			Webhook:           typed(h.callWebhook),
			Wait:              typed(h.wait),
		},
	}
}

// Register replaces the handler for t.
func (r *Registry) Register(t ActionType, handler Handler) {
	r.handlers[t] = handler
}

func (r *Registry) Types() []string {
	return sortedTypes(r.handlers)
}

// Execute runs the handler for t. A non-nil error means the handler could not be
// invoked or panicked; the returned Result is then a failure describing it.
func (r *Registry) Execute(ctx context.Context, t ActionType, cfg Config, req Request) (res Result, err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.ErrActionExecution.WithCause(errors.RecoverPanic(rec)).WithDetail("action_type", string(t))
			res = Failure("%s handler panicked: %v", t, rec)
			r.logger.ErrorwCtx(ctx, "Action handler panicked",
				"action_type", t,
				"panic", rec,
			)
		}
		metrics.ObserveAction(string(t), res.Success, time.Since(start))
	}()

	if invalid, ok := cfg.(*InvalidConfig); ok {
		return Failure("stored %s config is invalid: %v", t, invalid.Err),
			errors.ErrActionExecution.WithCause(invalid.Err).WithDetail("action_type", string(t))
	}

	handler, ok := r.handlers[t]
	if !ok {
		return Failure("no handler registered for action type %q", t),
			errors.ErrActionExecution.WithDetail("message", fmt.Sprintf("no handler for %s", t))
	}

	return handler(ctx, cfg, req), nil
}

func typed[C Config](fn func(context.Context, C, Request) Result) Handler {
	return func(ctx context.Context, cfg Config, req Request) Result {
		c, ok := cfg.(C)
		if !ok {
			return Failure("config %T does not match handler", cfg)
		}
		return fn(ctx, c, req)
	}
}
