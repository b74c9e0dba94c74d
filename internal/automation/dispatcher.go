package automation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"crmflow/internal/actions"
	"crmflow/internal/logger"
	"crmflow/pkg/clock"
	"crmflow/pkg/errors"
	"crmflow/pkg/logging"
	"crmflow/pkg/metrics"
	"crmflow/pkg/tracing"
)

// Enroller enrolls the event's target into sequences configured to start on this trigger.
type Enroller interface {
	AutoEnroll(ctx context.Context, trigger string, payload map[string]any) ([]string, error)
}

type Dispatcher struct {
	rules      RuleSource
	executions ExecutionRepository
	targets    actions.TargetResolver
	runner     *Runner
	matcher    *Matcher
	enroller   Enroller
	clock      clock.Clock
	logger     logger.Logger
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherClock(c clock.Clock) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

func WithMatcher(m *Matcher) DispatcherOption {
	return func(d *Dispatcher) {
		d.matcher = m
	}
}

func WithEnroller(e Enroller) DispatcherOption {
	return func(d *Dispatcher) {
		d.enroller = e
	}
}

func NewDispatcher(rules RuleSource, executions ExecutionRepository, targets actions.TargetResolver, runner *Runner, log logger.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		rules:      rules,
		executions: executions,
		targets:    targets,
		runner:     runner,
		clock:      clock.Real{},
		logger:     log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger is called after a CRM mutation has committed. It creates one execution per matching
// rule, runs zero-delay executions inline and schedules the rest. It never fails: errors are
// logged and the ids of the executions that were created are returned.
func (d *Dispatcher) Trigger(ctx context.Context, eventType TriggerType, payload map[string]any) []string {
	ctx, span := tracing.GetTracer("automation").Start(ctx, "automation.trigger")
	defer span.End()
	span.SetAttributes(attribute.String("trigger.type", string(eventType)))

	metrics.IncTriggerEvent(string(eventType))

	if !eventType.Valid() {
		d.logger.WarnwCtx(ctx, "Ignoring event with unknown trigger type",
			"trigger_type", eventType,
		)
		return nil
	}

	targetType, targetID := TargetRef(payload)
	ids := d.dispatchRules(ctx, eventType, payload, targetType, targetID)

	if d.enroller != nil {
		if _, err := d.enroller.AutoEnroll(ctx, string(eventType), payload); err != nil {
			d.logger.ErrorwCtx(ctx, "Auto-enrollment failed",
				"trigger_type", eventType,
				"target_id", targetID,
				"error", err,
			)
		}
	}

	span.SetAttributes(attribute.Int("executions.created", len(ids)))
	return ids
}

func (d *Dispatcher) dispatchRules(ctx context.Context, eventType TriggerType, payload map[string]any, targetType, targetID string) []string {
	rules, err := d.rules.ActiveRules(ctx, eventType)
	if err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to load rules for trigger",
			"trigger_type", eventType,
			"error", err,
		)
		return nil
	}
	if len(rules) == 0 {
		return nil
	}

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	target := d.resolveTarget(ctx, targetType, targetID)

	ids := make([]string, 0, len(rules))
	for i := range rules {
		rule := &rules[i]
		if !rule.IsActive || rule.TriggerType != eventType {
			continue
		}
		if !d.matches(ctx, rule, payload, target) {
			continue
		}

		id, err := d.schedule(ctx, rule, eventType, payload, targetType, targetID)
		if err != nil {
			metrics.IncRuleEvaluation(string(eventType), "error")
			d.logger.ErrorwCtx(ctx, "Failed to create execution",
				"rule_id", rule.ID,
				"error", err,
			)
			continue
		}
		metrics.IncRuleEvaluation(string(eventType), "matched")
		ids = append(ids, id)
	}
	return ids
}

func (d *Dispatcher) matches(ctx context.Context, rule *Rule, payload map[string]any, target *actions.Target) bool {
	if !MatchConditions(rule.TriggerConditions, payload) {
		metrics.IncRuleEvaluation(string(rule.TriggerType), "conditions_unmet")
		return false
	}
	if !MatchFilters(rule.Filters, target) {
		metrics.IncRuleEvaluation(string(rule.TriggerType), "filters_unmet")
		return false
	}
	if !d.matcher.Expression(ctx, rule.ConditionExpression, rule.TriggerType, payload, target) {
		metrics.IncRuleEvaluation(string(rule.TriggerType), "conditions_unmet")
		return false
	}
	return true
}

func (d *Dispatcher) schedule(ctx context.Context, rule *Rule, eventType TriggerType, payload map[string]any, targetType, targetID string) (string, error) {
	now := d.clock.Now()
	exec := &Execution{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		TriggerType: eventType,
		TriggerData: payload,
		TargetType:  targetType,
		TargetID:    targetID,
		Status:      StatusPending,
		ScheduledAt: now.Add(time.Duration(rule.DelayMinutes) * time.Minute),
		CreatedAt:   now,
	}
	if err := d.executions.CreateExecution(ctx, exec); err != nil {
		return "", err
	}

	runCtx := logging.WithRuleID(ctx, rule.ID)
	if rule.DelayMinutes > 0 {
		d.logger.InfowCtx(runCtx, "Execution scheduled",
			"execution_id", exec.ID,
			"scheduled_at", exec.ScheduledAt,
		)
		return exec.ID, nil
	}

	if err := d.runner.Run(runCtx, exec.ID); err != nil {
		level := d.logger.ErrorwCtx
		if errors.IsSchedulingConflict(err) {
			level = d.logger.InfowCtx
		}
		level(runCtx, "Inline execution did not complete",
			"execution_id", exec.ID,
			"error", err,
		)
	}
	return exec.ID, nil
}

func (d *Dispatcher) resolveTarget(ctx context.Context, targetType, targetID string) *actions.Target {
	if d.targets == nil || targetID == "" {
		return nil
	}
	target, err := d.targets.Resolve(ctx, targetType, targetID)
	if err != nil {
		if !errors.IsTargetNotFound(err) {
			d.logger.ErrorwCtx(ctx, "Failed to resolve trigger target",
				"target_type", targetType,
				"target_id", targetID,
				"error", err,
			)
		}
		return nil
	}
	return target
}

// TargetRef extracts target_type and target_id from an event payload.
func TargetRef(payload map[string]any) (targetType, targetID string) {
	return stringField(payload, PayloadTargetType), stringField(payload, PayloadTargetID)
}

func stringField(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
