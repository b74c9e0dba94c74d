package broker

import (
	"context"

	"crmflow/internal/automation"
	"crmflow/internal/logger"
	"crmflow/pkg/models"
)

// Triggerer is the part of the dispatcher the event handler needs.
type Triggerer interface {
	Trigger(ctx context.Context, eventType automation.TriggerType, payload map[string]any) []string
}

// EventHandler feeds CRM domain events from the input topic into the trigger dispatcher.
// Malformed events and unknown event types are dropped, never retried.
type EventHandler struct {
	dispatcher Triggerer
	logger     logger.Logger
}

func NewEventHandler(dispatcher Triggerer, log logger.Logger) *EventHandler {
	if log == nil {
		log = logger.NopLogger()
	}
	return &EventHandler{dispatcher: dispatcher, logger: log}
}

func (h *EventHandler) Handle(ctx context.Context, msg models.MessageEnvelope) error {
	if err := models.ValidateMessageEnvelope(&msg); err != nil {
		h.logger.WarnwCtx(ctx, "Dropping invalid CRM event", "id", msg.ID, "error", err)
		return nil
	}

	trigger, err := automation.ParseTriggerType(msg.Type)
	if err != nil {
		h.logger.DebugwCtx(ctx, "Ignoring event without a trigger", "id", msg.ID, "type", msg.Type)
		return nil
	}

	ids := h.dispatcher.Trigger(ctx, trigger, msg.Payload)
	h.logger.InfowCtx(ctx, "CRM event dispatched",
		"id", msg.ID,
		"trigger_type", trigger,
		"executions", len(ids),
	)
	return nil
}
