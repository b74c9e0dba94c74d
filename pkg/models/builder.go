package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageEnvelopeBuilder assembles an envelope. Build fills in an ID and a UTC timestamp when the
// caller did not set them.
type MessageEnvelopeBuilder struct {
	env MessageEnvelope
}

func NewMessageEnvelopeBuilder() *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{env: MessageEnvelope{Payload: map[string]interface{}{}}}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.env.ID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithType(eventType string) *MessageEnvelopeBuilder {
	b.env.Type = eventType
	return b
}

func (b *MessageEnvelopeBuilder) WithSource(source string) *MessageEnvelopeBuilder {
	b.env.Source = source
	return b
}

func (b *MessageEnvelopeBuilder) WithTimestamp(ts time.Time) *MessageEnvelopeBuilder {
	b.env.Timestamp = ts
	return b
}

// WithPayload replaces the payload. A nil map is kept as an empty one.
func (b *MessageEnvelopeBuilder) WithPayload(payload map[string]interface{}) *MessageEnvelopeBuilder {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	b.env.Payload = payload
	return b
}

func (b *MessageEnvelopeBuilder) WithTraceID(traceID string) *MessageEnvelopeBuilder {
	b.env.Metadata.TraceID = traceID
	return b
}

func (b *MessageEnvelopeBuilder) WithAttribute(key string, value interface{}) *MessageEnvelopeBuilder {
	if b.env.Metadata.Attributes == nil {
		b.env.Metadata.Attributes = map[string]interface{}{}
	}
	b.env.Metadata.Attributes[key] = value
	return b
}

// ForTarget tags the envelope with the CRM record it concerns, which also decides its partition.
func (b *MessageEnvelopeBuilder) ForTarget(targetType, targetID string) *MessageEnvelopeBuilder {
	return b.WithAttribute("target_type", targetType).WithAttribute("target_id", targetID)
}

func (b *MessageEnvelopeBuilder) WithAutomation(info *AutomationInfo) *MessageEnvelopeBuilder {
	b.env.Metadata.Automation = info
	return b
}

func (b *MessageEnvelopeBuilder) Build() *MessageEnvelope {
	env := b.env
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	return &env
}
