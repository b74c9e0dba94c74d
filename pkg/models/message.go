package models

import "time"

// MessageEnvelope is the broker wire format for CRM domain events consumed by the automation worker
// and for the audit events it publishes.
type MessageEnvelope struct {
	ID        string                 `json:"id" validate:"required,max=128"`
	Type      string                 `json:"type" validate:"required,max=64"`
	Source    string                 `json:"source" validate:"required,max=64"`
	Timestamp time.Time              `json:"timestamp" validate:"required"`
	Payload   map[string]interface{} `json:"payload" validate:"required"`
	Metadata  Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID    string                 `json:"trace_id,omitempty"`
	Automation *AutomationInfo        `json:"automation,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// AutomationInfo is attached to a consumed event once the dispatcher has handled it.
type AutomationInfo struct {
	DispatchedAt time.Time `json:"dispatched_at"`
	ExecutionIDs []string  `json:"execution_ids"`
}
