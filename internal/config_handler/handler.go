package config_handler

import (
	"context"

	"crmflow/internal/logger"
	"crmflow/pkg/models"
)

type ConfigReloader interface {
	ReloadRules(ctx context.Context) error
}

// Handler reacts to configuration update events by reloading the rule catalog. Events for other
// services or unrelated event types are ignored.
type Handler struct {
	eventTypes          map[string]struct{}
	expectedServiceType string
	reloader            ConfigReloader
	logger              logger.Logger
}

func NewHandler(expectedServiceType string, reloader ConfigReloader, log logger.Logger, eventTypes ...string) *Handler {
	if log == nil {
		log = logger.NopLogger()
	}
	types := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}
	return &Handler{
		eventTypes:          types,
		expectedServiceType: expectedServiceType,
		reloader:            reloader,
		logger:              log,
	}
}

// field looks a key up in the envelope attributes first, then in the payload.
func field(envelope models.MessageEnvelope, key string) (string, bool) {
	if v, ok := envelope.Metadata.Attributes[key].(string); ok {
		return v, true
	}
	v, ok := envelope.Payload[key].(string)
	return v, ok
}

func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.MessageEnvelope) error {
	eventType, ok := field(envelope, "event_type")
	if !ok {
		h.logger.WarnwCtx(ctx, "Config event missing event_type", "id", envelope.ID)
		return nil
	}
	if _, wanted := h.eventTypes[eventType]; !wanted {
		return nil
	}

	serviceType, ok := field(envelope, "service_type")
	if !ok {
		h.logger.WarnwCtx(ctx, "Config event missing service_type", "id", envelope.ID)
		return nil
	}
	if serviceType != h.expectedServiceType {
		return nil
	}

	event, err := models.ConfigUpdateEventFrom(envelope)
	if err != nil {
		// a malformed event will not improve on retry
		h.logger.ErrorwCtx(ctx, "Dropping undecodable config event", "error", err, "id", envelope.ID)
		return nil
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"entity_id", event.EntityID,
	)

	if h.reloader == nil {
		return nil
	}
	if err := h.reloader.ReloadRules(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload rules after config update", "error", err)
		return err
	}
	h.logger.InfowCtx(ctx, "Rules reloaded after config update", "action", event.Action)
	return nil
}
