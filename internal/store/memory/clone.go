package memory

import (
	"time"

	"crmflow/internal/automation"
	"crmflow/internal/cadence"
)

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFilters(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneRule(r *automation.Rule) automation.Rule {
	c := *r
	c.TriggerConditions = cloneMap(r.TriggerConditions)
	c.Filters = cloneFilters(r.Filters)
	c.ActionIDs = cloneStrings(r.ActionIDs)
	c.LastExecutedAt = cloneTimePtr(r.LastExecutedAt)
	return c
}

func cloneAction(a *automation.Action) automation.Action {
	c := *a
	c.Conditions = cloneMap(a.Conditions)
	return c
}

func cloneExecution(e *automation.Execution) automation.Execution {
	c := *e
	c.TriggerData = cloneMap(e.TriggerData)
	c.StartedAt = cloneTimePtr(e.StartedAt)
	c.CompletedAt = cloneTimePtr(e.CompletedAt)
	if e.Log != nil {
		c.Log = append([]automation.LogEntry(nil), e.Log...)
	}
	return c
}

func cloneSequence(s *cadence.Sequence) cadence.Sequence {
	c := *s
	c.TriggerConditions = cloneMap(s.TriggerConditions)
	c.StepIDs = cloneStrings(s.StepIDs)
	return c
}

func cloneStep(s *cadence.Step) cadence.Step {
	c := *s
	c.Conditions = cloneMap(s.Conditions)
	return c
}

func cloneEnrollment(e *cadence.Enrollment) cadence.Enrollment {
	c := *e
	c.CurrentStep = cloneIntPtr(e.CurrentStep)
	c.NextActionAt = cloneTimePtr(e.NextActionAt)
	c.CompletedAt = cloneTimePtr(e.CompletedAt)
	c.ClaimedAt = cloneTimePtr(e.ClaimedAt)
	return c
}
