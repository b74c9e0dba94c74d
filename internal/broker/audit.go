package broker

import (
	"context"
	"time"

	"crmflow/internal/actions"
	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/logging"
	"crmflow/pkg/models"
)

const (
	auditSource         = "automation"
	auditPublishTimeout = 5 * time.Second
)

// AuditPublisher writes an audit event to the output topic whenever an execution finishes or an
// enrollment advances. Publishing is best effort.
type AuditPublisher struct {
	producer Producer
	topic    string
	now      func() time.Time
	logger   logger.Logger
}

var (
	_ automation.ExecutionObserver = (*AuditPublisher)(nil)
	_ cadence.EnrollmentObserver   = (*AuditPublisher)(nil)
)

func NewAuditPublisher(producer Producer, topic string, log logger.Logger) *AuditPublisher {
	if topic == "" {
		topic = constants.DefaultOutputTopic
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &AuditPublisher{producer: producer, topic: topic, now: time.Now, logger: log}
}

func (p *AuditPublisher) ExecutionFinished(ctx context.Context, exec *automation.Execution) {
	payload := map[string]interface{}{
		"execution_id":       exec.ID,
		"rule_id":            exec.RuleID,
		"trigger_type":       string(exec.TriggerType),
		"target_type":        exec.TargetType,
		"target_id":          exec.TargetID,
		"status":             string(exec.Status),
		"actions_executed":   exec.ActionsExecuted,
		"actions_successful": exec.ActionsSuccessful,
		"actions_failed":     exec.ActionsFailed,
	}
	if exec.ErrorMessage != "" {
		payload["error_message"] = exec.ErrorMessage
	}

	msg := p.envelope(ctx, constants.EventExecutionFinished, payload).
		ForTarget(exec.TargetType, exec.TargetID).
		WithAutomation(&models.AutomationInfo{DispatchedAt: exec.CreatedAt, ExecutionIDs: []string{exec.ID}}).
		Build()
	p.publish(ctx, msg)
}

func (p *AuditPublisher) EnrollmentChanged(ctx context.Context, e *cadence.Enrollment, step *cadence.Step, result *actions.Result) {
	payload := map[string]interface{}{
		"enrollment_id":   e.ID,
		"sequence_id":     e.SequenceID,
		"target_type":     e.TargetType,
		"target_id":       e.TargetID,
		"status":          string(e.Status),
		"steps_completed": e.StepsCompleted,
	}
	if e.CurrentStep != nil {
		payload["current_step"] = *e.CurrentStep
	}
	if e.NextActionAt != nil {
		payload["next_action_at"] = e.NextActionAt.UTC()
	}
	if step != nil {
		payload["step_id"] = step.ID
		payload["action_type"] = string(step.ActionType)
	}
	if result != nil {
		payload["success"] = result.Success
		payload["message"] = result.Message
	}

	p.publish(ctx, p.envelope(ctx, constants.EventEnrollmentAdvance, payload).
		ForTarget(e.TargetType, e.TargetID).
		Build())
}

func (p *AuditPublisher) envelope(ctx context.Context, eventType string, payload map[string]interface{}) *models.MessageEnvelopeBuilder {
	return models.NewMessageEnvelopeBuilder().
		WithType(eventType).
		WithSource(auditSource).
		WithTimestamp(p.now().UTC()).
		WithTraceID(logging.GetTraceID(ctx)).
		WithPayload(payload)
}

func (p *AuditPublisher) publish(ctx context.Context, msg *models.MessageEnvelope) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditPublishTimeout)
	defer cancel()

	if err := p.producer.Publish(pubCtx, p.topic, *msg); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to publish audit event",
			"type", msg.Type,
			"topic", p.topic,
			"error", err,
		)
	}
}
