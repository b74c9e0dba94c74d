// Package memory is a mutex-guarded, process-local implementation of the automation and cadence
// repositories. Claims are compare-and-swap under the store lock, so concurrent runners sharing one
// Store behave like workers sharing one database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/pkg/errors"
)

type Store struct {
	mu  sync.Mutex
	seq int64

	rules       map[string]*automation.Rule
	actions     map[string]*automation.Action
	executions  map[string]*automation.Execution
	sequences   map[string]*cadence.Sequence
	steps       map[string]*cadence.Step
	enrollments map[string]*cadence.Enrollment

	// insertion order, used to break ties the way created_at does in SQL
	order map[string]int64
}

var (
	_ automation.RuleStore           = (*Store)(nil)
	_ automation.ExecutionRepository = (*Store)(nil)
	_ cadence.Store                  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		rules:       make(map[string]*automation.Rule),
		actions:     make(map[string]*automation.Action),
		executions:  make(map[string]*automation.Execution),
		sequences:   make(map[string]*cadence.Sequence),
		steps:       make(map[string]*cadence.Step),
		enrollments: make(map[string]*cadence.Enrollment),
		order:       make(map[string]int64),
	}
}

func (s *Store) track(id string) {
	s.seq++
	s.order[id] = s.seq
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

func notFound(kind, id string) error {
	return errors.ErrNotFound.WithDetail("message", fmt.Sprintf("%s %s not found", kind, id)).WithDetail("id", id)
}

func conflict(format string, args ...any) error {
	return errors.ErrConflict.WithDetail("message", fmt.Sprintf(format, args...))
}

func applyPage[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Rules

func (s *Store) ActiveRules(_ context.Context, trigger automation.TriggerType) ([]automation.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []automation.Rule
	for _, r := range s.sortedRules() {
		if r.IsActive && r.TriggerType == trigger {
			out = append(out, cloneRule(r))
		}
	}
	return out, nil
}

func (s *Store) ListActiveRules(_ context.Context) ([]automation.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []automation.Rule
	for _, r := range s.sortedRules() {
		if r.IsActive {
			out = append(out, cloneRule(r))
		}
	}
	return out, nil
}

// sortedRules orders by priority descending, then insertion order.
func (s *Store) sortedRules() []*automation.Rule {
	rules := make([]*automation.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return s.order[rules[i].ID] < s.order[rules[j].ID]
	})
	return rules
}

func (s *Store) ListRules(_ context.Context, limit, offset int) ([]automation.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := make([]automation.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		rules = append(rules, cloneRule(r))
	}
	sort.Slice(rules, func(i, j int) bool { return s.order[rules[i].ID] < s.order[rules[j].ID] })
	return applyPage(rules, limit, offset), nil
}

func (s *Store) GetRule(_ context.Context, id string) (*automation.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, notFound("rule", id)
	}
	c := cloneRule(r)
	return &c, nil
}

func (s *Store) CreateRule(_ context.Context, rule *automation.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ensureID(&rule.ID)
	if _, exists := s.rules[rule.ID]; exists {
		return conflict("rule %s already exists", rule.ID)
	}
	c := cloneRule(rule)
	s.rules[rule.ID] = &c
	s.track(rule.ID)
	return nil
}

// UpdateRule writes the configuration fields only; counters and action ids are owned by the engine.
func (s *Store) UpdateRule(_ context.Context, rule *automation.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rules[rule.ID]
	if !ok {
		return notFound("rule", rule.ID)
	}
	stored.Name = rule.Name
	stored.Description = rule.Description
	stored.TriggerType = rule.TriggerType
	stored.TriggerConditions = cloneMap(rule.TriggerConditions)
	stored.Filters = cloneFilters(rule.Filters)
	stored.ConditionExpression = rule.ConditionExpression
	stored.DelayMinutes = rule.DelayMinutes
	stored.IsActive = rule.IsActive
	stored.Priority = rule.Priority
	stored.UpdatedAt = rule.UpdatedAt
	return nil
}

func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return notFound("rule", id)
	}
	for _, actionID := range r.ActionIDs {
		delete(s.actions, actionID)
	}
	for execID, exec := range s.executions {
		if exec.RuleID == id {
			delete(s.executions, execID)
		}
	}
	delete(s.rules, id)
	return nil
}

// Actions

func (s *Store) GetActions(_ context.Context, ids []string) ([]automation.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]automation.Action, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.actions[id]; ok {
			out = append(out, cloneAction(a))
		}
	}
	return out, nil
}

func (s *Store) GetAction(_ context.Context, id string) (*automation.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[id]
	if !ok {
		return nil, notFound("action", id)
	}
	c := cloneAction(a)
	return &c, nil
}

func (s *Store) CreateAction(_ context.Context, action *automation.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[action.RuleID]
	if !ok {
		return notFound("rule", action.RuleID)
	}
	if err := s.checkActionOrder(rule, action); err != nil {
		return err
	}
	ensureID(&action.ID)
	if _, exists := s.actions[action.ID]; exists {
		return conflict("action %s already exists", action.ID)
	}
	c := cloneAction(action)
	s.actions[action.ID] = &c
	rule.ActionIDs = append(rule.ActionIDs, action.ID)
	s.track(action.ID)
	return nil
}

func (s *Store) UpdateAction(_ context.Context, action *automation.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.actions[action.ID]
	if !ok {
		return notFound("action", action.ID)
	}
	if err := s.checkActionOrder(s.rules[stored.RuleID], action); err != nil {
		return err
	}
	stored.Type = action.Type
	stored.Config = action.Config
	stored.Order = action.Order
	stored.Conditions = cloneMap(action.Conditions)
	stored.IsActive = action.IsActive
	stored.UpdatedAt = action.UpdatedAt
	return nil
}

func (s *Store) checkActionOrder(rule *automation.Rule, action *automation.Action) error {
	if rule == nil {
		return nil
	}
	for _, id := range rule.ActionIDs {
		if other, ok := s.actions[id]; ok && other.ID != action.ID && other.Order == action.Order {
			return conflict("rule %s already has an action at order %d", rule.ID, action.Order)
		}
	}
	return nil
}

func (s *Store) DeleteAction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[id]
	if !ok {
		return notFound("action", id)
	}
	if rule, ok := s.rules[a.RuleID]; ok {
		rule.ActionIDs = removeID(rule.ActionIDs, id)
	}
	delete(s.actions, id)
	return nil
}

// Executions

func (s *Store) CreateExecution(_ context.Context, exec *automation.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[exec.RuleID]; !ok {
		return notFound("rule", exec.RuleID)
	}
	ensureID(&exec.ID)
	if _, exists := s.executions[exec.ID]; exists {
		return conflict("execution %s already exists", exec.ID)
	}
	c := cloneExecution(exec)
	s.executions[exec.ID] = &c
	s.track(exec.ID)
	return nil
}

func (s *Store) GetExecution(_ context.Context, id string) (*automation.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, notFound("execution", id)
	}
	c := cloneExecution(e)
	return &c, nil
}

func (s *Store) ClaimExecution(_ context.Context, id string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return false, notFound("execution", id)
	}
	if e.Status != automation.StatusPending {
		return false, nil
	}
	e.Status = automation.StatusRunning
	e.StartedAt = &startedAt
	return true, nil
}

func (s *Store) FinishExecution(_ context.Context, exec *automation.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.executions[exec.ID]
	if !ok {
		return notFound("execution", exec.ID)
	}
	if stored.Status != automation.StatusRunning {
		return errors.ErrSchedulingConflict.WithDetail("execution_id", exec.ID).WithDetail("status", string(stored.Status))
	}
	if !exec.Status.Terminal() {
		return errors.ErrValidation.WithDetail("message", fmt.Sprintf("execution cannot finish as %s", exec.Status))
	}

	c := cloneExecution(exec)
	s.executions[exec.ID] = &c

	if rule, ok := s.rules[exec.RuleID]; ok {
		rule.ExecutionCount++
		if exec.Status == automation.StatusCompleted {
			rule.SuccessCount++
		} else {
			rule.ErrorCount++
		}
		if exec.CompletedAt != nil {
			at := *exec.CompletedAt
			rule.LastExecutedAt = &at
		}
	}
	return nil
}

func (s *Store) ListDueExecutions(_ context.Context, now time.Time, limit int) ([]automation.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []automation.Execution
	for _, e := range s.executions {
		if e.Status == automation.StatusPending && !e.ScheduledAt.After(now) {
			due = append(due, cloneExecution(e))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return s.order[due[i].ID] < s.order[due[j].ID]
	})
	return applyPage(due, limit, 0), nil
}

func (s *Store) ListStaleExecutions(_ context.Context, startedBefore time.Time, limit int) ([]automation.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []automation.Execution
	for _, e := range s.executions {
		if e.Status == automation.StatusRunning && e.StartedAt != nil && e.StartedAt.Before(startedBefore) {
			stale = append(stale, cloneExecution(e))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if !stale[i].StartedAt.Equal(*stale[j].StartedAt) {
			return stale[i].StartedAt.Before(*stale[j].StartedAt)
		}
		return s.order[stale[i].ID] < s.order[stale[j].ID]
	})
	return applyPage(stale, limit, 0), nil
}

func (s *Store) ListExecutions(_ context.Context, filter automation.ExecutionFilter) ([]automation.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []automation.Execution
	for _, e := range s.executions {
		if filter.RuleID != "" && e.RuleID != filter.RuleID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, cloneExecution(e))
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] > s.order[out[j].ID] })
	return applyPage(out, filter.Limit, filter.Offset), nil
}

// Sequences and steps

func (s *Store) GetSequence(_ context.Context, id string) (*cadence.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[id]
	if !ok {
		return nil, notFound("sequence", id)
	}
	c := cloneSequence(seq)
	return &c, nil
}

func (s *Store) ListActiveSequences(_ context.Context) ([]cadence.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []cadence.Sequence
	for _, seq := range s.sequences {
		if seq.IsActive {
			out = append(out, cloneSequence(seq))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out, nil
}

func (s *Store) ListSequences(_ context.Context, limit, offset int) ([]cadence.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]cadence.Sequence, 0, len(s.sequences))
	for _, seq := range s.sequences {
		out = append(out, cloneSequence(seq))
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return applyPage(out, limit, offset), nil
}

func (s *Store) CreateSequence(_ context.Context, seq *cadence.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ensureID(&seq.ID)
	if _, exists := s.sequences[seq.ID]; exists {
		return conflict("sequence %s already exists", seq.ID)
	}
	c := cloneSequence(seq)
	s.sequences[seq.ID] = &c
	s.track(seq.ID)
	return nil
}

func (s *Store) UpdateSequence(_ context.Context, seq *cadence.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sequences[seq.ID]
	if !ok {
		return notFound("sequence", seq.ID)
	}
	stored.Name = seq.Name
	stored.Description = seq.Description
	stored.TriggerConditions = cloneMap(seq.TriggerConditions)
	stored.IsActive = seq.IsActive
	stored.UpdatedAt = seq.UpdatedAt
	return nil
}

func (s *Store) DeleteSequence(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[id]
	if !ok {
		return notFound("sequence", id)
	}
	for _, stepID := range seq.StepIDs {
		delete(s.steps, stepID)
	}
	for enrID, en := range s.enrollments {
		if en.SequenceID == id {
			delete(s.enrollments, enrID)
		}
	}
	delete(s.sequences, id)
	return nil
}

func (s *Store) GetSteps(_ context.Context, ids []string) ([]cadence.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]cadence.Step, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.steps[id]; ok {
			out = append(out, cloneStep(st))
		}
	}
	return out, nil
}

func (s *Store) GetStep(_ context.Context, id string) (*cadence.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.steps[id]
	if !ok {
		return nil, notFound("step", id)
	}
	c := cloneStep(st)
	return &c, nil
}

func (s *Store) CreateStep(_ context.Context, step *cadence.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[step.SequenceID]
	if !ok {
		return notFound("sequence", step.SequenceID)
	}
	if err := s.checkStepOrder(seq, step); err != nil {
		return err
	}
	ensureID(&step.ID)
	if _, exists := s.steps[step.ID]; exists {
		return conflict("step %s already exists", step.ID)
	}
	c := cloneStep(step)
	s.steps[step.ID] = &c
	seq.StepIDs = append(seq.StepIDs, step.ID)
	s.track(step.ID)
	return nil
}

func (s *Store) UpdateStep(_ context.Context, step *cadence.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.steps[step.ID]
	if !ok {
		return notFound("step", step.ID)
	}
	if err := s.checkStepOrder(s.sequences[stored.SequenceID], step); err != nil {
		return err
	}
	stored.Order = step.Order
	stored.DelayDays = step.DelayDays
	stored.DelayHours = step.DelayHours
	stored.DelayMinutes = step.DelayMinutes
	stored.ActionType = step.ActionType
	stored.Config = step.Config
	stored.Conditions = cloneMap(step.Conditions)
	stored.UpdatedAt = step.UpdatedAt
	return nil
}

func (s *Store) checkStepOrder(seq *cadence.Sequence, step *cadence.Step) error {
	if seq == nil {
		return nil
	}
	for _, id := range seq.StepIDs {
		if other, ok := s.steps[id]; ok && other.ID != step.ID && other.Order == step.Order {
			return conflict("sequence %s already has a step at order %d", seq.ID, step.Order)
		}
	}
	return nil
}

func (s *Store) DeleteStep(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.steps[id]
	if !ok {
		return notFound("step", id)
	}
	if seq, ok := s.sequences[st.SequenceID]; ok {
		seq.StepIDs = removeID(seq.StepIDs, id)
	}
	delete(s.steps, id)
	return nil
}

// Enrollments

func (s *Store) CreateEnrollment(_ context.Context, e *cadence.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[e.SequenceID]
	if !ok {
		return notFound("sequence", e.SequenceID)
	}
	for _, other := range s.enrollments {
		if other.SequenceID == e.SequenceID && other.TargetType == e.TargetType && other.TargetID == e.TargetID &&
			(other.Status == cadence.EnrollmentActive || other.Status == cadence.EnrollmentPaused) {
			return errors.ErrSchedulingConflict.
				WithDetail("message", fmt.Sprintf("target %s is already enrolled in sequence %s", e.TargetID, e.SequenceID)).
				WithDetail("enrollment_id", other.ID)
		}
	}
	ensureID(&e.ID)
	c := cloneEnrollment(e)
	s.enrollments[e.ID] = &c
	seq.EnrolledCount++
	s.track(e.ID)
	return nil
}

func (s *Store) GetEnrollment(_ context.Context, id string) (*cadence.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[id]
	if !ok {
		return nil, notFound("enrollment", id)
	}
	c := cloneEnrollment(e)
	return &c, nil
}

func (s *Store) ListEnrollments(_ context.Context, filter cadence.EnrollmentFilter) ([]cadence.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []cadence.Enrollment
	for _, e := range s.enrollments {
		if filter.SequenceID != "" && e.SequenceID != filter.SequenceID {
			continue
		}
		if filter.TargetID != "" && e.TargetID != filter.TargetID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, cloneEnrollment(e))
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] > s.order[out[j].ID] })
	return applyPage(out, filter.Limit, filter.Offset), nil
}

func (s *Store) ListDueEnrollments(_ context.Context, now time.Time, limit int) ([]cadence.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []cadence.Enrollment
	for _, e := range s.enrollments {
		if e.Status == cadence.EnrollmentActive && e.NextActionAt != nil && !e.NextActionAt.After(now) {
			due = append(due, cloneEnrollment(e))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextActionAt.Equal(*due[j].NextActionAt) {
			return due[i].NextActionAt.Before(*due[j].NextActionAt)
		}
		return s.order[due[i].ID] < s.order[due[j].ID]
	})
	return applyPage(due, limit, 0), nil
}

func (s *Store) ClaimEnrollment(_ context.Context, id string, step int, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[id]
	if !ok {
		return false, notFound("enrollment", id)
	}
	if e.Status != cadence.EnrollmentActive || e.CurrentStep == nil || *e.CurrentStep != step {
		return false, nil
	}
	if e.ClaimedAt != nil && !e.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	claimed := now
	e.ClaimedAt = &claimed
	return true, nil
}

func (s *Store) SaveProgress(_ context.Context, e *cadence.Enrollment, claimedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.enrollments[e.ID]
	if !ok {
		return notFound("enrollment", e.ID)
	}
	if stored.Status != cadence.EnrollmentActive || stored.ClaimedAt == nil || !stored.ClaimedAt.Equal(claimedAt) {
		return errors.ErrSchedulingConflict.WithDetail("enrollment_id", e.ID).WithDetail("status", string(stored.Status))
	}

	c := cloneEnrollment(e)
	c.ClaimedAt = nil
	s.enrollments[e.ID] = &c
	if c.Status == cadence.EnrollmentCompleted {
		if seq, ok := s.sequences[c.SequenceID]; ok {
			seq.CompletedCount++
		}
	}
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, e *cadence.Enrollment, from cadence.EnrollmentStatus, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.enrollments[e.ID]
	if !ok {
		return false, notFound("enrollment", e.ID)
	}
	if stored.Status != from {
		return false, nil
	}
	if stored.ClaimedAt != nil && !stored.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	stored.Status = e.Status
	stored.CurrentStep = cloneIntPtr(e.CurrentStep)
	stored.NextActionAt = cloneTimePtr(e.NextActionAt)
	stored.CompletedAt = cloneTimePtr(e.CompletedAt)
	stored.ClaimedAt = cloneTimePtr(e.ClaimedAt)
	stored.UpdatedAt = e.UpdatedAt
	if e.Status == cadence.EnrollmentCompleted {
		if seq, ok := s.sequences[e.SequenceID]; ok {
			seq.CompletedCount++
		}
	}
	return true, nil
}
