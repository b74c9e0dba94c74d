package management

import (
	"fmt"
	"strings"

	"crmflow/internal/actions"
	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/pkg/errors"
)

func validationError(field, format string, args ...any) error {
	return errors.ErrValidation.
		WithDetail("message", fmt.Sprintf(format, args...)).
		WithDetail("field", field)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return validationError("name", "name is required")
	}
	return nil
}

func parseTrigger(s string) (automation.TriggerType, error) {
	t, err := automation.ParseTriggerType(s)
	if err != nil {
		return "", validationError("trigger_type", "unknown trigger type %q", s)
	}
	return t, nil
}

// validateFilters rejects filter keys with no allowed values; such a filter could never match.
func validateFilters(filters map[string][]string) error {
	for key, values := range filters {
		if strings.TrimSpace(key) == "" {
			return validationError("filters", "filter key must not be empty")
		}
		if len(values) == 0 {
			return validationError("filters", "filter %q has no allowed values", key)
		}
	}
	return nil
}

func validateDelay(field string, v int) error {
	if v < 0 {
		return validationError(field, "%s must not be negative", field)
	}
	return nil
}

// decodeActionConfig resolves the action type and decodes its config. Missing config decodes as an
// empty object so required fields are reported by name.
func decodeActionConfig(actionType string, raw []byte) (actions.ActionType, actions.Config, error) {
	t, err := actions.ParseActionType(actionType)
	if err != nil {
		return "", nil, validationError("action_type", "unknown action type %q", actionType)
	}
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	cfg, err := actions.DecodeConfig(t, raw)
	if err != nil {
		return "", nil, err
	}
	return t, cfg, nil
}

// requireReplacedConfig refuses an update that would write an undecodable
// stored config back unchanged.
func requireReplacedConfig(cfg actions.Config, raw []byte) error {
	if _, invalid := cfg.(*actions.InvalidConfig); invalid && len(raw) == 0 {
		return validationError("config", "stored config is invalid and must be replaced")
	}
	return nil
}

// validateSequenceTrigger checks the auto-enrollment trigger named in trigger_conditions.
func validateSequenceTrigger(conditions map[string]any) error {
	raw, ok := conditions[cadence.TriggerTypeKey]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return validationError("trigger_conditions", "trigger_type must be a string")
	}
	if _, err := parseTrigger(s); err != nil {
		return err
	}
	return nil
}
