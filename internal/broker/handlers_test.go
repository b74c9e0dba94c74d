package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/actions"
	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/logging"
	"crmflow/pkg/models"
)

type triggerCall struct {
	eventType automation.TriggerType
	payload   map[string]any
}

type fakeTriggerer struct {
	calls []triggerCall
}

func (f *fakeTriggerer) Trigger(_ context.Context, eventType automation.TriggerType, payload map[string]any) []string {
	f.calls = append(f.calls, triggerCall{eventType: eventType, payload: payload})
	return []string{"ex-1"}
}

type published struct {
	topic string
	msg   models.MessageEnvelope
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakeProducer) Publish(_ context.Context, topic string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, msg: msg})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func crmEvent(eventType string) models.MessageEnvelope {
	return *models.NewMessageEnvelopeBuilder().
		WithID("evt-1").
		WithType(eventType).
		WithSource("crm").
		WithPayload(map[string]interface{}{"lead_id": "l-1", "status": "qualified"}).
		Build()
}

func TestEventHandlerDispatchesKnownTriggers(t *testing.T) {
	d := &fakeTriggerer{}
	h := NewEventHandler(d, logger.NopLogger())

	require.NoError(t, h.Handle(context.Background(), crmEvent("lead_status_changed")))

	require.Len(t, d.calls, 1)
	assert.Equal(t, automation.LeadStatusChanged, d.calls[0].eventType)
	assert.Equal(t, "l-1", d.calls[0].payload["lead_id"])
}

func TestEventHandlerDropsUnusableEvents(t *testing.T) {
	d := &fakeTriggerer{}
	h := NewEventHandler(d, nil)

	invalid := crmEvent("lead_created")
	invalid.Source = ""

	assert.NoError(t, h.Handle(context.Background(), crmEvent("invoice_paid")))
	assert.NoError(t, h.Handle(context.Background(), invalid))
	assert.Empty(t, d.calls)
}

func TestAuditPublisherExecutionFinished(t *testing.T) {
	prod := &fakeProducer{}
	p := NewAuditPublisher(prod, "", logger.NopLogger())

	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ctx := logging.WithTraceID(context.Background(), "trace-1")
	p.ExecutionFinished(ctx, &automation.Execution{
		ID:              "ex-1",
		RuleID:          "r-1",
		TriggerType:     automation.LeadCreated,
		TargetType:      "lead",
		TargetID:        "l-1",
		Status:          automation.StatusCompleted,
		ActionsExecuted: 1,
		CreatedAt:       created,
	})

	require.Len(t, prod.msgs, 1)
	got := prod.msgs[0]
	assert.Equal(t, constants.DefaultOutputTopic, got.topic)
	assert.Equal(t, constants.EventExecutionFinished, got.msg.Type)
	assert.Equal(t, "trace-1", got.msg.Metadata.TraceID)
	assert.Equal(t, "completed", got.msg.Payload["status"])
	require.NotNil(t, got.msg.Metadata.Automation)
	assert.Equal(t, []string{"ex-1"}, got.msg.Metadata.Automation.ExecutionIDs)
	assert.Equal(t, created, got.msg.Metadata.Automation.DispatchedAt)
	assert.Equal(t, "l-1", got.msg.Metadata.Attributes["target_id"])
	assert.Equal(t, "l-1", string(partitionKey(got.msg)))
	assert.NotEmpty(t, got.msg.ID)
	assert.NoError(t, models.ValidateMessageEnvelope(&got.msg))
}

func TestAuditPublisherEnrollmentChanged(t *testing.T) {
	prod := &fakeProducer{}
	p := NewAuditPublisher(prod, "audit", nil)

	step := 1
	p.EnrollmentChanged(context.Background(),
		&cadence.Enrollment{ID: "en-1", SequenceID: "s-1", Status: cadence.EnrollmentActive, CurrentStep: &step, StepsCompleted: 1},
		&cadence.Step{ID: "st-0", ActionType: actions.SendEmail},
		&actions.Result{Success: true, Message: "email sent"},
	)

	require.Len(t, prod.msgs, 1)
	got := prod.msgs[0]
	assert.Equal(t, "audit", got.topic)
	assert.Equal(t, constants.EventEnrollmentAdvance, got.msg.Type)
	assert.Equal(t, 1, got.msg.Payload["current_step"])
	assert.Equal(t, "send_email", got.msg.Payload["action_type"])
	assert.Equal(t, true, got.msg.Payload["success"])
}

func TestAuditPublishFailureIsSwallowed(t *testing.T) {
	prod := &fakeProducer{err: errors.New("broker unavailable")}
	p := NewAuditPublisher(prod, "audit", logger.NopLogger())

	assert.NotPanics(t, func() {
		p.ExecutionFinished(context.Background(), &automation.Execution{ID: "ex-1"})
	})
	assert.Empty(t, prod.msgs)
}
