// Package automation matches CRM events against configured rules and runs the matched rules'
// action pipelines.
package automation

import (
	"fmt"
	"strings"
	"time"

	"crmflow/internal/actions"
)

type TriggerType string

const (
	LeadCreated             TriggerType = "lead_created"
	LeadStatusChanged       TriggerType = "lead_status_changed"
	LeadStageChanged        TriggerType = "lead_stage_changed"
	OpportunityCreated      TriggerType = "opportunity_created"
	OpportunityStageChanged TriggerType = "opportunity_stage_changed"
	ProposalSent            TriggerType = "proposal_sent"
	ProposalViewed          TriggerType = "proposal_viewed"
	ContractSigned          TriggerType = "contract_signed"
	CallCompleted           TriggerType = "call_completed"
	EmailOpened             TriggerType = "email_opened"
	EmailClicked            TriggerType = "email_clicked"
	TaskCompleted           TriggerType = "task_completed"
	TimeBased               TriggerType = "time_based"
	Inactivity              TriggerType = "inactivity"
)

var triggerTypes = map[TriggerType]struct{}{
	LeadCreated: {}, LeadStatusChanged: {}, LeadStageChanged: {}, OpportunityCreated: {},
	OpportunityStageChanged: {}, ProposalSent: {}, ProposalViewed: {}, ContractSigned: {},
	CallCompleted: {}, EmailOpened: {}, EmailClicked: {}, TaskCompleted: {}, TimeBased: {},
	Inactivity: {},
}

func (t TriggerType) Valid() bool {
	_, ok := triggerTypes[t]
	return ok
}

func ParseTriggerType(s string) (TriggerType, error) {
	t := TriggerType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown trigger type %q", s)
	}
	return t, nil
}

// Payload keys every trigger event carries.
const (
	PayloadTargetType = "target_type"
	PayloadTargetID   = "target_id"
)

type Rule struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	Description         string              `json:"description,omitempty"`
	TriggerType         TriggerType         `json:"trigger_type"`
	TriggerConditions   map[string]any      `json:"trigger_conditions,omitempty"`
	Filters             map[string][]string `json:"filters,omitempty"`
	ConditionExpression string              `json:"condition_expression,omitempty"`
	DelayMinutes        int                 `json:"delay_minutes"`
	IsActive            bool                `json:"is_active"`
	Priority            int                 `json:"priority"`
	ActionIDs           []string            `json:"action_ids"`
	ExecutionCount      int64               `json:"execution_count"`
	SuccessCount        int64               `json:"success_count"`
	ErrorCount          int64               `json:"error_count"`
	LastExecutedAt      *time.Time          `json:"last_executed_at,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Action is one step of a rule's pipeline. Config has already been decoded and validated; a stored
// config that no longer decodes is an *actions.InvalidConfig and fails when run.
type Action struct {
	ID         string             `json:"id"`
	RuleID     string             `json:"rule_id"`
	Type       actions.ActionType `json:"action_type"`
	Config     actions.Config     `json:"action_config"`
	Order      int                `json:"order"`
	Conditions map[string]any     `json:"conditions,omitempty"`
	IsActive   bool               `json:"is_active"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type LogEntry struct {
	ActionID   string             `json:"action_id"`
	ActionType actions.ActionType `json:"action_type"`
	Timestamp  time.Time          `json:"timestamp"`
	Success    bool               `json:"success"`
	Message    string             `json:"message,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type Execution struct {
	ID                string          `json:"id"`
	RuleID            string          `json:"rule_id"`
	TriggerType       TriggerType     `json:"trigger_type"`
	TriggerData       map[string]any  `json:"trigger_data"`
	TargetType        string          `json:"target_type"`
	TargetID          string          `json:"target_id"`
	Status            ExecutionStatus `json:"status"`
	ScheduledAt       time.Time       `json:"scheduled_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	ActionsExecuted   int             `json:"actions_executed"`
	ActionsSuccessful int             `json:"actions_successful"`
	ActionsFailed     int             `json:"actions_failed"`
	Log               []LogEntry      `json:"execution_log"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// record appends one attempted action and keeps the counters consistent with the log.
func (e *Execution) record(entry LogEntry) {
	e.Log = append(e.Log, entry)
	e.ActionsExecuted++
	if entry.Success {
		e.ActionsSuccessful++
	} else {
		e.ActionsFailed++
	}
}

// ExecutionFilter narrows ListExecutions. Zero values mean no restriction.
type ExecutionFilter struct {
	RuleID string
	Status ExecutionStatus
	Limit  int
	Offset int
}
