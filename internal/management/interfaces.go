package management

import (
	"context"

	"crmflow/internal/automation"
	"crmflow/internal/cadence"
)

type Service interface {
	ListRules(ctx context.Context, limit, offset int) ([]automation.Rule, error)
	CreateRule(ctx context.Context, req CreateRuleRequest) (*automation.Rule, error)
	GetRule(ctx context.Context, id string) (*automation.Rule, error)
	UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*automation.Rule, error)
	DeleteRule(ctx context.Context, id string) error

	ListRuleActions(ctx context.Context, ruleID string) ([]automation.Action, error)
	CreateAction(ctx context.Context, ruleID string, req CreateActionRequest) (*automation.Action, error)
	GetAction(ctx context.Context, id string) (*automation.Action, error)
	UpdateAction(ctx context.Context, id string, req UpdateActionRequest) (*automation.Action, error)
	DeleteAction(ctx context.Context, id string) error

	ListSequences(ctx context.Context, limit, offset int) ([]cadence.Sequence, error)
	CreateSequence(ctx context.Context, req CreateSequenceRequest) (*cadence.Sequence, error)
	GetSequence(ctx context.Context, id string) (*cadence.Sequence, error)
	UpdateSequence(ctx context.Context, id string, req UpdateSequenceRequest) (*cadence.Sequence, error)
	DeleteSequence(ctx context.Context, id string) error

	ListSequenceSteps(ctx context.Context, sequenceID string) ([]cadence.Step, error)
	CreateStep(ctx context.Context, sequenceID string, req CreateStepRequest) (*cadence.Step, error)
	GetStep(ctx context.Context, id string) (*cadence.Step, error)
	UpdateStep(ctx context.Context, id string, req UpdateStepRequest) (*cadence.Step, error)
	DeleteStep(ctx context.Context, id string) error

	Enroll(ctx context.Context, sequenceID string, req EnrollRequest) (*cadence.Enrollment, error)
	ListEnrollments(ctx context.Context, filter cadence.EnrollmentFilter) ([]cadence.Enrollment, error)
	GetEnrollment(ctx context.Context, id string) (*cadence.Enrollment, error)
	PauseEnrollment(ctx context.Context, id string) (*cadence.Enrollment, error)
	ResumeEnrollment(ctx context.Context, id string) (*cadence.Enrollment, error)
	CancelEnrollment(ctx context.Context, id string) (*cadence.Enrollment, error)

	ListExecutions(ctx context.Context, filter automation.ExecutionFilter) ([]automation.Execution, error)
	GetExecution(ctx context.Context, id string) (*automation.Execution, error)

	TriggerEvent(ctx context.Context, req TriggerEventRequest) ([]string, error)

	GetAuditLogs(ctx context.Context, filter AuditFilter) ([]AuditLog, error)
}

// EnrollmentManager is implemented by *cadence.Engine.
type EnrollmentManager interface {
	Enroll(ctx context.Context, targetType, targetID, sequenceID, enrolledBy string) (string, error)
	Pause(ctx context.Context, enrollmentID string) (*cadence.Enrollment, error)
	Resume(ctx context.Context, enrollmentID string) (*cadence.Enrollment, error)
	Cancel(ctx context.Context, enrollmentID string) (*cadence.Enrollment, error)
}

// Triggerer is implemented by *automation.Dispatcher.
type Triggerer interface {
	Trigger(ctx context.Context, eventType automation.TriggerType, payload map[string]any) []string
}
