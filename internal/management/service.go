package management

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/internal/logger"
	"crmflow/pkg/clock"
	pkgerrors "crmflow/pkg/errors"
	"crmflow/pkg/models"
)

type service struct {
	rules        automation.RuleStore
	executions   automation.ExecutionRepository
	sequences    cadence.Store
	enrollments  EnrollmentManager
	triggerer    Triggerer
	matcher      *automation.Matcher
	auditRepo    AuditRepository
	configEvents ConfigEventPublisher
	clock        clock.Clock
	logger       logger.Logger
}

type ServiceOption func(*service)

// WithMatcher enables save-time validation of CEL condition expressions.
func WithMatcher(m *automation.Matcher) ServiceOption {
	return func(s *service) {
		s.matcher = m
	}
}

func WithAudit(repo AuditRepository) ServiceOption {
	return func(s *service) {
		s.auditRepo = repo
	}
}

func WithConfigEvents(publisher ConfigEventPublisher) ServiceOption {
	return func(s *service) {
		s.configEvents = publisher
	}
}

func WithClock(c clock.Clock) ServiceOption {
	return func(s *service) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewService(
	rules automation.RuleStore,
	executions automation.ExecutionRepository,
	sequences cadence.Store,
	enrollments EnrollmentManager,
	triggerer Triggerer,
	log logger.Logger,
	opts ...ServiceOption,
) Service {
	if log == nil {
		log = logger.NopLogger()
	}
	s := &service{
		rules:       rules,
		executions:  executions,
		sequences:   sequences,
		enrollments: enrollments,
		triggerer:   triggerer,
		clock:       clock.Real{},
		logger:      log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Rules

func (s *service) ListRules(ctx context.Context, limit, offset int) ([]automation.Rule, error) {
	rules, err := s.rules.ListRules(ctx, limit, offset)
	if err != nil {
		return nil, storeError(err, "list rules")
	}
	return rules, nil
}

func (s *service) CreateRule(ctx context.Context, req CreateRuleRequest) (*automation.Rule, error) {
	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	trigger, err := parseTrigger(req.TriggerType)
	if err != nil {
		return nil, err
	}
	if err := s.validateRuleMatching(req.Filters, req.ConditionExpression, req.DelayMinutes); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rule := &automation.Rule{
		ID:                  uuid.New().String(),
		Name:                strings.TrimSpace(req.Name),
		Description:         req.Description,
		TriggerType:         trigger,
		TriggerConditions:   req.TriggerConditions,
		Filters:             req.Filters,
		ConditionExpression: req.ConditionExpression,
		DelayMinutes:        req.DelayMinutes,
		IsActive:            boolOr(req.IsActive, true),
		Priority:            req.Priority,
		ActionIDs:           []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.rules.CreateRule(ctx, rule); err != nil {
		return nil, storeError(err, "create rule")
	}

	s.recordChange(ctx, EntityRule, rule.ID, models.ActionCreate, nil, rule)
	s.publishRuleEvent(ctx, models.ActionCreate, rule.ID)
	return rule, nil
}

func (s *service) GetRule(ctx context.Context, id string) (*automation.Rule, error) {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return nil, storeError(err, "get rule")
	}
	return rule, nil
}

func (s *service) UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*automation.Rule, error) {
	oldRule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	rule := *oldRule

	if req.Name != nil {
		if err := validateName(*req.Name); err != nil {
			return nil, err
		}
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.TriggerType != nil {
		if rule.TriggerType, err = parseTrigger(*req.TriggerType); err != nil {
			return nil, err
		}
	}
	if req.TriggerConditions != nil {
		rule.TriggerConditions = req.TriggerConditions
	}
	if req.Filters != nil {
		rule.Filters = req.Filters
	}
	if req.ConditionExpression != nil {
		rule.ConditionExpression = *req.ConditionExpression
	}
	if req.DelayMinutes != nil {
		rule.DelayMinutes = *req.DelayMinutes
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := s.validateRuleMatching(rule.Filters, rule.ConditionExpression, rule.DelayMinutes); err != nil {
		return nil, err
	}
	rule.UpdatedAt = s.clock.Now()

	if err := s.rules.UpdateRule(ctx, &rule); err != nil {
		return nil, storeError(err, "update rule")
	}

	action := models.ActionUpdate
	if oldRule.IsActive != rule.IsActive {
		action = models.ActionToggle
	}
	s.recordChange(ctx, EntityRule, rule.ID, action, oldRule, &rule)
	s.publishRuleEvent(ctx, action, rule.ID)
	return &rule, nil
}

func (s *service) DeleteRule(ctx context.Context, id string) error {
	oldRule, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return storeError(err, "delete rule")
	}

	s.recordChange(ctx, EntityRule, id, models.ActionDelete, oldRule, nil)
	s.publishRuleEvent(ctx, models.ActionDelete, id)
	return nil
}

func (s *service) validateRuleMatching(filters map[string][]string, expression string, delay int) error {
	if err := validateFilters(filters); err != nil {
		return err
	}
	if err := validateDelay("delay_minutes", delay); err != nil {
		return err
	}
	if err := s.matcher.Validate(expression); err != nil {
		return pkgerrors.ErrValidation.
			WithDetail("message", "invalid condition expression: "+err.Error()).
			WithDetail("field", "condition_expression").
			WithCause(err)
	}
	return nil
}

// Actions

func (s *service) ListRuleActions(ctx context.Context, ruleID string) ([]automation.Action, error) {
	rule, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	list, err := s.rules.GetActions(ctx, rule.ActionIDs)
	if err != nil {
		return nil, storeError(err, "list actions")
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Order < list[j].Order })
	return list, nil
}

func (s *service) CreateAction(ctx context.Context, ruleID string, req CreateActionRequest) (*automation.Action, error) {
	if _, err := s.GetRule(ctx, ruleID); err != nil {
		return nil, err
	}
	actionType, cfg, err := decodeActionConfig(req.ActionType, req.Config)
	if err != nil {
		return nil, err
	}
	if req.Order < 0 {
		return nil, validationError("order", "order must not be negative")
	}

	now := s.clock.Now()
	action := &automation.Action{
		ID:         uuid.New().String(),
		RuleID:     ruleID,
		Type:       actionType,
		Config:     cfg,
		Order:      req.Order,
		Conditions: req.Conditions,
		IsActive:   boolOr(req.IsActive, true),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.rules.CreateAction(ctx, action); err != nil {
		return nil, storeError(err, "create action")
	}

	s.recordChange(ctx, EntityAction, action.ID, models.ActionCreate, nil, action)
	s.publishRuleEvent(ctx, models.ActionUpdate, ruleID)
	return action, nil
}

func (s *service) GetAction(ctx context.Context, id string) (*automation.Action, error) {
	action, err := s.rules.GetAction(ctx, id)
	if err != nil {
		return nil, storeError(err, "get action")
	}
	return action, nil
}

func (s *service) UpdateAction(ctx context.Context, id string, req UpdateActionRequest) (*automation.Action, error) {
	oldAction, err := s.GetAction(ctx, id)
	if err != nil {
		return nil, err
	}
	action := *oldAction
	if err := requireReplacedConfig(action.Config, req.Config); err != nil {
		return nil, err
	}

	if req.ActionType != nil || len(req.Config) > 0 {
		typeName := string(action.Type)
		if req.ActionType != nil {
			typeName = *req.ActionType
		}
		// a new type without config is decoded from an empty object
		if action.Type, action.Config, err = decodeActionConfig(typeName, req.Config); err != nil {
			return nil, err
		}
	}
	if req.Order != nil {
		if *req.Order < 0 {
			return nil, validationError("order", "order must not be negative")
		}
		action.Order = *req.Order
	}
	if req.Conditions != nil {
		action.Conditions = req.Conditions
	}
	if req.IsActive != nil {
		action.IsActive = *req.IsActive
	}
	action.UpdatedAt = s.clock.Now()

	if err := s.rules.UpdateAction(ctx, &action); err != nil {
		return nil, storeError(err, "update action")
	}

	s.recordChange(ctx, EntityAction, action.ID, models.ActionUpdate, oldAction, &action)
	s.publishRuleEvent(ctx, models.ActionUpdate, action.RuleID)
	return &action, nil
}

func (s *service) DeleteAction(ctx context.Context, id string) error {
	oldAction, err := s.GetAction(ctx, id)
	if err != nil {
		return err
	}
	if err := s.rules.DeleteAction(ctx, id); err != nil {
		return storeError(err, "delete action")
	}

	s.recordChange(ctx, EntityAction, id, models.ActionDelete, oldAction, nil)
	s.publishRuleEvent(ctx, models.ActionUpdate, oldAction.RuleID)
	return nil
}

// Sequences

func (s *service) ListSequences(ctx context.Context, limit, offset int) ([]cadence.Sequence, error) {
	seqs, err := s.sequences.ListSequences(ctx, limit, offset)
	if err != nil {
		return nil, storeError(err, "list sequences")
	}
	return seqs, nil
}

func (s *service) CreateSequence(ctx context.Context, req CreateSequenceRequest) (*cadence.Sequence, error) {
	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if err := validateSequenceTrigger(req.TriggerConditions); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	seq := &cadence.Sequence{
		ID:                uuid.New().String(),
		Name:              strings.TrimSpace(req.Name),
		Description:       req.Description,
		TriggerConditions: req.TriggerConditions,
		IsActive:          boolOr(req.IsActive, true),
		StepIDs:           []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.sequences.CreateSequence(ctx, seq); err != nil {
		return nil, storeError(err, "create sequence")
	}

	s.recordChange(ctx, EntitySequence, seq.ID, models.ActionCreate, nil, seq)
	s.publishSequenceEvent(ctx, models.ActionCreate, seq.ID)
	return seq, nil
}

func (s *service) GetSequence(ctx context.Context, id string) (*cadence.Sequence, error) {
	seq, err := s.sequences.GetSequence(ctx, id)
	if err != nil {
		return nil, storeError(err, "get sequence")
	}
	return seq, nil
}

func (s *service) UpdateSequence(ctx context.Context, id string, req UpdateSequenceRequest) (*cadence.Sequence, error) {
	oldSeq, err := s.GetSequence(ctx, id)
	if err != nil {
		return nil, err
	}
	seq := *oldSeq

	if req.Name != nil {
		if err := validateName(*req.Name); err != nil {
			return nil, err
		}
		seq.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		seq.Description = *req.Description
	}
	if req.TriggerConditions != nil {
		if err := validateSequenceTrigger(req.TriggerConditions); err != nil {
			return nil, err
		}
		seq.TriggerConditions = req.TriggerConditions
	}
	if req.IsActive != nil {
		seq.IsActive = *req.IsActive
	}
	seq.UpdatedAt = s.clock.Now()

	if err := s.sequences.UpdateSequence(ctx, &seq); err != nil {
		return nil, storeError(err, "update sequence")
	}

	action := models.ActionUpdate
	if oldSeq.IsActive != seq.IsActive {
		action = models.ActionToggle
	}
	s.recordChange(ctx, EntitySequence, seq.ID, action, oldSeq, &seq)
	s.publishSequenceEvent(ctx, action, seq.ID)
	return &seq, nil
}

func (s *service) DeleteSequence(ctx context.Context, id string) error {
	oldSeq, err := s.GetSequence(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sequences.DeleteSequence(ctx, id); err != nil {
		return storeError(err, "delete sequence")
	}

	s.recordChange(ctx, EntitySequence, id, models.ActionDelete, oldSeq, nil)
	s.publishSequenceEvent(ctx, models.ActionDelete, id)
	return nil
}

// Steps

func (s *service) ListSequenceSteps(ctx context.Context, sequenceID string) ([]cadence.Step, error) {
	seq, err := s.GetSequence(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	steps, err := s.sequences.GetSteps(ctx, seq.StepIDs)
	if err != nil {
		return nil, storeError(err, "list steps")
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps, nil
}

func (s *service) CreateStep(ctx context.Context, sequenceID string, req CreateStepRequest) (*cadence.Step, error) {
	if _, err := s.GetSequence(ctx, sequenceID); err != nil {
		return nil, err
	}
	actionType, cfg, err := decodeActionConfig(req.ActionType, req.Config)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	step := &cadence.Step{
		ID:           uuid.New().String(),
		SequenceID:   sequenceID,
		Order:        req.Order,
		DelayDays:    req.DelayDays,
		DelayHours:   req.DelayHours,
		DelayMinutes: req.DelayMinutes,
		ActionType:   actionType,
		Config:       cfg,
		Conditions:   req.Conditions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validateStep(step); err != nil {
		return nil, err
	}
	if err := s.sequences.CreateStep(ctx, step); err != nil {
		return nil, storeError(err, "create step")
	}

	s.recordChange(ctx, EntityStep, step.ID, models.ActionCreate, nil, step)
	s.publishSequenceEvent(ctx, models.ActionUpdate, sequenceID)
	return step, nil
}

func (s *service) GetStep(ctx context.Context, id string) (*cadence.Step, error) {
	step, err := s.sequences.GetStep(ctx, id)
	if err != nil {
		return nil, storeError(err, "get step")
	}
	return step, nil
}

func (s *service) UpdateStep(ctx context.Context, id string, req UpdateStepRequest) (*cadence.Step, error) {
	oldStep, err := s.GetStep(ctx, id)
	if err != nil {
		return nil, err
	}
	step := *oldStep
	if err := requireReplacedConfig(step.Config, req.Config); err != nil {
		return nil, err
	}

	if req.ActionType != nil || len(req.Config) > 0 {
		typeName := string(step.ActionType)
		if req.ActionType != nil {
			typeName = *req.ActionType
		}
		if step.ActionType, step.Config, err = decodeActionConfig(typeName, req.Config); err != nil {
			return nil, err
		}
	}
	if req.Order != nil {
		step.Order = *req.Order
	}
	if req.DelayDays != nil {
		step.DelayDays = *req.DelayDays
	}
	if req.DelayHours != nil {
		step.DelayHours = *req.DelayHours
	}
	if req.DelayMinutes != nil {
		step.DelayMinutes = *req.DelayMinutes
	}
	if req.Conditions != nil {
		step.Conditions = req.Conditions
	}
	if err := validateStep(&step); err != nil {
		return nil, err
	}
	step.UpdatedAt = s.clock.Now()

	if err := s.sequences.UpdateStep(ctx, &step); err != nil {
		return nil, storeError(err, "update step")
	}

	s.recordChange(ctx, EntityStep, step.ID, models.ActionUpdate, oldStep, &step)
	s.publishSequenceEvent(ctx, models.ActionUpdate, step.SequenceID)
	return &step, nil
}

func (s *service) DeleteStep(ctx context.Context, id string) error {
	oldStep, err := s.GetStep(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sequences.DeleteStep(ctx, id); err != nil {
		return storeError(err, "delete step")
	}

	s.recordChange(ctx, EntityStep, id, models.ActionDelete, oldStep, nil)
	s.publishSequenceEvent(ctx, models.ActionUpdate, oldStep.SequenceID)
	return nil
}

func validateStep(step *cadence.Step) error {
	if step.Order < 1 {
		return validationError("order", "order must be at least 1")
	}
	if err := validateDelay("delay_days", step.DelayDays); err != nil {
		return err
	}
	if err := validateDelay("delay_hours", step.DelayHours); err != nil {
		return err
	}
	return validateDelay("delay_minutes", step.DelayMinutes)
}

// Enrollments

func (s *service) Enroll(ctx context.Context, sequenceID string, req EnrollRequest) (*cadence.Enrollment, error) {
	enrolledBy := req.EnrolledBy
	if enrolledBy == "" {
		enrolledBy = getChangedBy(ctx)
	}
	id, err := s.enrollments.Enroll(ctx, req.TargetType, req.TargetID, sequenceID, enrolledBy)
	if err != nil {
		return nil, storeError(err, "enroll")
	}
	return s.GetEnrollment(ctx, id)
}

func (s *service) ListEnrollments(ctx context.Context, filter cadence.EnrollmentFilter) ([]cadence.Enrollment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validationError("status", "unknown enrollment status %q", filter.Status)
	}
	list, err := s.sequences.ListEnrollments(ctx, filter)
	if err != nil {
		return nil, storeError(err, "list enrollments")
	}
	return list, nil
}

func (s *service) GetEnrollment(ctx context.Context, id string) (*cadence.Enrollment, error) {
	en, err := s.sequences.GetEnrollment(ctx, id)
	if err != nil {
		return nil, storeError(err, "get enrollment")
	}
	return en, nil
}

func (s *service) PauseEnrollment(ctx context.Context, id string) (*cadence.Enrollment, error) {
	en, err := s.enrollments.Pause(ctx, id)
	if err != nil {
		return nil, storeError(err, "pause enrollment")
	}
	return en, nil
}

func (s *service) ResumeEnrollment(ctx context.Context, id string) (*cadence.Enrollment, error) {
	en, err := s.enrollments.Resume(ctx, id)
	if err != nil {
		return nil, storeError(err, "resume enrollment")
	}
	return en, nil
}

func (s *service) CancelEnrollment(ctx context.Context, id string) (*cadence.Enrollment, error) {
	en, err := s.enrollments.Cancel(ctx, id)
	if err != nil {
		return nil, storeError(err, "cancel enrollment")
	}
	return en, nil
}

// Executions

func (s *service) ListExecutions(ctx context.Context, filter automation.ExecutionFilter) ([]automation.Execution, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validationError("status", "unknown execution status %q", filter.Status)
	}
	list, err := s.executions.ListExecutions(ctx, filter)
	if err != nil {
		return nil, storeError(err, "list executions")
	}
	return list, nil
}

func (s *service) GetExecution(ctx context.Context, id string) (*automation.Execution, error) {
	exec, err := s.executions.GetExecution(ctx, id)
	if err != nil {
		return nil, storeError(err, "get execution")
	}
	return exec, nil
}

// TriggerEvent dispatches an event inline. Immediate executions have finished by the time it returns.
func (s *service) TriggerEvent(ctx context.Context, req TriggerEventRequest) ([]string, error) {
	trigger, err := automation.ParseTriggerType(req.EventType)
	if err != nil {
		return nil, validationError("event_type", "unknown event type %q", req.EventType)
	}
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	ids := s.triggerer.Trigger(ctx, trigger, payload)
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *service) GetAuditLogs(ctx context.Context, filter AuditFilter) ([]AuditLog, error) {
	if s.auditRepo == nil {
		return []AuditLog{}, nil
	}
	logs, err := s.auditRepo.GetAuditLogs(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return logs, nil
}

// recordChange writes the audit trail. Failures are logged and do not fail the request.
func (s *service) recordChange(ctx context.Context, entityType, entityID, action string, oldValue, newValue any) {
	if s.auditRepo == nil {
		return
	}

	entry := &AuditLog{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ChangedBy:  getChangedBy(ctx),
		IPAddress:  getClientIP(ctx),
		Timestamp:  s.clock.Now(),
	}
	var err error
	if oldValue != nil {
		if entry.OldValue, err = toMap(oldValue); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to encode audit old value", "error", err, "entity_id", entityID)
		}
	}
	if newValue != nil {
		if entry.NewValue, err = toMap(newValue); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to encode audit new value", "error", err, "entity_id", entityID)
		}
	}

	if err := s.auditRepo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to write audit log",
			"error", err,
			"entity_type", entityType,
			"entity_id", entityID,
		)
	}
}

func (s *service) publishRuleEvent(ctx context.Context, action, ruleID string) {
	if s.configEvents == nil {
		return
	}
	if err := s.configEvents.PublishRuleEvent(ctx, action, ruleID, getChangedBy(ctx)); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish rule config event", "error", err, "rule_id", ruleID)
	}
}

func (s *service) publishSequenceEvent(ctx context.Context, action, sequenceID string) {
	if s.configEvents == nil {
		return
	}
	if err := s.configEvents.PublishSequenceEvent(ctx, action, sequenceID, getChangedBy(ctx)); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish sequence config event", "error", err, "sequence_id", sequenceID)
	}
}

// storeError keeps typed errors and wraps anything else as an internal error.
func storeError(err error, op string) error {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return pkgerrors.ErrInternal.WithDetail("operation", op).WithCause(err)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
