package automation

import (
	"context"
	"fmt"

	"crmflow/internal/actions"
	"crmflow/internal/logger"
	"crmflow/pkg/cel"
)

// TagsFilter is the filter key matched against the target's tag set rather than a scalar field.
const TagsFilter = "tags"

// MatchConditions reports whether payload satisfies conditions. A key absent from conditions, or
// present with a nil or empty-string value, is not constrained. Any other key must be present in
// payload with an equal value; JSON numbers and strings compare through their printed form.
func MatchConditions(conditions map[string]any, payload map[string]any) bool {
	for key, want := range conditions {
		if isUnconstrained(want) {
			continue
		}
		got, ok := payload[key]
		if !ok || got == nil {
			return false
		}
		if !equalValues(want, got) {
			return false
		}
	}
	return true
}

// MatchFilters reports whether target's fields are members of every filter's allow-list.
// Empty filters always match. A nil target or a missing field fails closed. Empty allow-lists
// are ignored.
func MatchFilters(filters map[string][]string, target *actions.Target) bool {
	if len(filters) == 0 {
		return true
	}
	if target == nil {
		return false
	}

	for field, allowed := range filters {
		if len(allowed) == 0 {
			continue
		}
		if field == TagsFilter {
			if !anyTagAllowed(target, allowed) {
				return false
			}
			continue
		}
		value, ok := target.Field(field)
		if !ok || !contains(allowed, value) {
			return false
		}
	}
	return true
}

func isUnconstrained(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func equalValues(want, got any) bool {
	if list, ok := want.([]any); ok {
		for _, candidate := range list {
			if fmt.Sprint(candidate) == fmt.Sprint(got) {
				return true
			}
		}
		return false
	}
	return fmt.Sprint(want) == fmt.Sprint(got)
}

func anyTagAllowed(target *actions.Target, allowed []string) bool {
	for _, tag := range allowed {
		if target.HasTag(tag) {
			return true
		}
	}
	return false
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// Matcher evaluates optional CEL condition expressions. A nil Matcher treats every expression as met.
type Matcher struct {
	evaluator *cel.Evaluator
	logger    logger.Logger
}

func NewMatcher(evaluator *cel.Evaluator, log logger.Logger) *Matcher {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Matcher{evaluator: evaluator, logger: log}
}

// Validate checks an expression at save time. Empty expressions are valid.
func (m *Matcher) Validate(expression string) error {
	if expression == "" || m == nil || m.evaluator == nil {
		return nil
	}
	return m.evaluator.ValidateCondition(expression)
}

// Expression evaluates expression against the event. Evaluation errors fail closed.
func (m *Matcher) Expression(ctx context.Context, expression string, trigger TriggerType, payload map[string]any, target *actions.Target) bool {
	if expression == "" || m == nil || m.evaluator == nil {
		return true
	}

	in := cel.Input{
		TriggerType: string(trigger),
		Payload:     payload,
	}
	if target != nil {
		in.Target = target.TemplateVars()
	}

	ok, err := m.evaluator.EvaluateCondition(ctx, expression, in)
	if err != nil {
		m.logger.WarnwCtx(ctx, "Condition expression failed, treating as unmet",
			"trigger_type", trigger,
			"expression", expression,
			"error", err,
		)
		return false
	}
	return ok
}
