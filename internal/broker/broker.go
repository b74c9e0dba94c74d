// Package broker moves CRM events and automation audit records over the message bus.
package broker

import (
	"context"
	"errors"
	"fmt"

	"crmflow/internal/config"
	"crmflow/internal/logger"
	"crmflow/pkg/models"
)

var ErrBrokerNotConfigured = errors.New("broker type is not configured")

// Producer publishes envelopes. Publish returns once the bus has acknowledged the write.
type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

// Consumer delivers envelopes from a topic to a handler until ctx is done. Messages whose handler
// keeps failing are parked on the dead letter topic and committed so the partition keeps moving.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error

const TypeKafka = "kafka"

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case TypeKafka:
		return NewKafkaProducer(cfg.Kafka, log), nil
	case "":
		return nil, ErrBrokerNotConfigured
	}
	return nil, fmt.Errorf("unsupported broker type %q", cfg.Type)
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case TypeKafka:
		return NewKafkaConsumer(cfg.Kafka, log), nil
	case "":
		return nil, ErrBrokerNotConfigured
	}
	return nil, fmt.Errorf("unsupported broker type %q", cfg.Type)
}

// partitionKeyFields lists payload fields that identify the CRM record an event is about, most
// specific first. Events for one record share a key and therefore a partition, which keeps them
// in order for the consumer.
var partitionKeyFields = []string{"target_id", "lead_id", "contact_id", "deal_id"}

func partitionKey(msg models.MessageEnvelope) []byte {
	if id, ok := msg.Metadata.Attributes["target_id"].(string); ok && id != "" {
		return []byte(id)
	}
	for _, field := range partitionKeyFields {
		if v, ok := msg.Payload[field]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return []byte(s)
			}
		}
	}
	return []byte(msg.ID)
}
