package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConfigUpdateEvent announces a change to automation configuration made through the management
// API. Workers use it to refresh their cached rule catalog.
type ConfigUpdateEvent struct {
	EventType   string                 `json:"event_type"`
	ServiceType string                 `json:"service_type"`
	EntityID    string                 `json:"entity_id,omitempty"`
	Action      string                 `json:"action"`
	Timestamp   time.Time              `json:"timestamp"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeRuleUpdated     = "automation_rule_updated"
	EventTypeSequenceUpdated = "cadence_sequence_updated"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionToggle = "toggle"
	ActionReload = "reload"
)

const ServiceTypeAutomation = "automation"

// Envelope wraps the event for the config update topic. event_type and service_type are copied
// into the attributes so consumers can filter without decoding the payload.
func (e ConfigUpdateEvent) Envelope(source, traceID string) (*MessageEnvelope, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode config event: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("encode config event: %w", err)
	}

	return NewMessageEnvelopeBuilder().
		WithType(e.EventType).
		WithSource(source).
		WithTimestamp(e.Timestamp).
		WithTraceID(traceID).
		WithPayload(payload).
		WithAttribute("event_type", e.EventType).
		WithAttribute("service_type", e.ServiceType).
		Build(), nil
}

// ConfigUpdateEventFrom decodes the payload of an envelope built by Envelope.
func ConfigUpdateEventFrom(env MessageEnvelope) (ConfigUpdateEvent, error) {
	var event ConfigUpdateEvent
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return event, fmt.Errorf("decode config event %s: %w", env.ID, err)
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return event, fmt.Errorf("decode config event %s: %w", env.ID, err)
	}
	return event, nil
}
