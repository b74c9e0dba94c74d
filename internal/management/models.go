package management

import (
	"encoding/json"
	"time"
)

type CreateRuleRequest struct {
	Name                string              `json:"name" binding:"required"`
	Description         string              `json:"description"`
	TriggerType         string              `json:"trigger_type" binding:"required"`
	TriggerConditions   map[string]any      `json:"trigger_conditions"`
	Filters             map[string][]string `json:"filters"`
	ConditionExpression string              `json:"condition_expression"`
	DelayMinutes        int                 `json:"delay_minutes" binding:"gte=0"`
	Priority            int                 `json:"priority"`
	IsActive            *bool               `json:"is_active"`
}

type UpdateRuleRequest struct {
	Name                *string             `json:"name"`
	Description         *string             `json:"description"`
	TriggerType         *string             `json:"trigger_type"`
	TriggerConditions   map[string]any      `json:"trigger_conditions"`
	Filters             map[string][]string `json:"filters"`
	ConditionExpression *string             `json:"condition_expression"`
	DelayMinutes        *int                `json:"delay_minutes" binding:"omitempty,gte=0"`
	Priority            *int                `json:"priority"`
	IsActive            *bool               `json:"is_active"`
}

// CreateActionRequest carries the raw action config; it is decoded against ActionType.
type CreateActionRequest struct {
	ActionType string          `json:"action_type" binding:"required"`
	Config     json.RawMessage `json:"action_config" swaggertype:"object"`
	Order      int             `json:"order" binding:"gte=0"`
	Conditions map[string]any  `json:"conditions"`
	IsActive   *bool           `json:"is_active"`
}

type UpdateActionRequest struct {
	ActionType *string         `json:"action_type"`
	Config     json.RawMessage `json:"action_config" swaggertype:"object"`
	Order      *int            `json:"order" binding:"omitempty,gte=0"`
	Conditions map[string]any  `json:"conditions"`
	IsActive   *bool           `json:"is_active"`
}

type CreateSequenceRequest struct {
	Name              string         `json:"name" binding:"required"`
	Description       string         `json:"description"`
	TriggerConditions map[string]any `json:"trigger_conditions"`
	IsActive          *bool          `json:"is_active"`
}

type UpdateSequenceRequest struct {
	Name              *string        `json:"name"`
	Description       *string        `json:"description"`
	TriggerConditions map[string]any `json:"trigger_conditions"`
	IsActive          *bool          `json:"is_active"`
}

type CreateStepRequest struct {
	Order        int             `json:"order" binding:"gte=1"`
	DelayDays    int             `json:"delay_days" binding:"gte=0"`
	DelayHours   int             `json:"delay_hours" binding:"gte=0"`
	DelayMinutes int             `json:"delay_minutes" binding:"gte=0"`
	ActionType   string          `json:"action_type" binding:"required"`
	Config       json.RawMessage `json:"action_config" swaggertype:"object"`
	Conditions   map[string]any  `json:"conditions"`
}

type UpdateStepRequest struct {
	Order        *int            `json:"order" binding:"omitempty,gte=1"`
	DelayDays    *int            `json:"delay_days" binding:"omitempty,gte=0"`
	DelayHours   *int            `json:"delay_hours" binding:"omitempty,gte=0"`
	DelayMinutes *int            `json:"delay_minutes" binding:"omitempty,gte=0"`
	ActionType   *string         `json:"action_type"`
	Config       json.RawMessage `json:"action_config" swaggertype:"object"`
	Conditions   map[string]any  `json:"conditions"`
}

type EnrollRequest struct {
	TargetType string `json:"target_type" binding:"required"`
	TargetID   string `json:"target_id" binding:"required"`
	EnrolledBy string `json:"enrolled_by"`
}

type EnrollResponse struct {
	EnrollmentID string `json:"enrollment_id"`
}

// TriggerEventRequest is an inline CRM event. Payload should carry target_type and target_id.
type TriggerEventRequest struct {
	EventType string         `json:"event_type" binding:"required"`
	Payload   map[string]any `json:"payload"`
}

type TriggerEventResponse struct {
	ExecutionIDs []string `json:"execution_ids"`
}

// AuditLog is one configuration change made through the API.
type AuditLog struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	OldValue   map[string]any `json:"old_value,omitempty"`
	NewValue   map[string]any `json:"new_value,omitempty"`
	ChangedBy  string         `json:"changed_by"`
	IPAddress  string         `json:"ip_address,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Limit      int
}

const (
	EntityRule     = "rule"
	EntityAction   = "action"
	EntitySequence = "sequence"
	EntityStep     = "step"
)
