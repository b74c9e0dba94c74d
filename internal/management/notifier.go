package management

import (
	"context"
	"time"

	"crmflow/internal/broker"
	"crmflow/pkg/logging"
	"crmflow/pkg/models"
)

// ConfigEventPublisher announces configuration changes so workers can reload their rule catalog.
type ConfigEventPublisher interface {
	PublishRuleEvent(ctx context.Context, action, ruleID, changedBy string) error
	PublishSequenceEvent(ctx context.Context, action, sequenceID, changedBy string) error
}

const configEventSource = "management-service"

type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
	now      func() time.Time
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

func (p *ConfigEventProducer) PublishRuleEvent(ctx context.Context, action, ruleID, changedBy string) error {
	return p.publishEvent(ctx, models.ConfigUpdateEvent{
		EventType:   models.EventTypeRuleUpdated,
		ServiceType: models.ServiceTypeAutomation,
		EntityID:    ruleID,
		Action:      action,
		Timestamp:   p.now().UTC(),
		ChangedBy:   changedBy,
	})
}

func (p *ConfigEventProducer) PublishSequenceEvent(ctx context.Context, action, sequenceID, changedBy string) error {
	return p.publishEvent(ctx, models.ConfigUpdateEvent{
		EventType:   models.EventTypeSequenceUpdated,
		ServiceType: models.ServiceTypeAutomation,
		EntityID:    sequenceID,
		Action:      action,
		Timestamp:   p.now().UTC(),
		ChangedBy:   changedBy,
	})
}

func (p *ConfigEventProducer) publishEvent(ctx context.Context, event models.ConfigUpdateEvent) error {
	if p.producer == nil || p.topic == "" {
		return nil
	}

	envelope, err := event.Envelope(configEventSource, logging.GetTraceID(ctx))
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, p.topic, *envelope)
}
