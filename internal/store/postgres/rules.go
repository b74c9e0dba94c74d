package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"crmflow/internal/actions"
	"crmflow/internal/automation"
	pkgerrors "crmflow/pkg/errors"
)

const ruleColumns = `id, name, description, trigger_type, trigger_conditions, filters, condition_expression,
	delay_minutes, is_active, priority, action_ids, execution_count, success_count, error_count,
	last_executed_at, created_at, updated_at`

const actionColumns = `id, rule_id, action_type, action_config, "order", conditions, is_active, created_at, updated_at`

func scanRule(row scanner) (*automation.Rule, error) {
	var (
		rule       automation.Rule
		conditions []byte
		filters    []byte
		actionIDs  pq.StringArray
		lastRun    sql.NullTime
	)
	if err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.TriggerType, &conditions, &filters,
		&rule.ConditionExpression, &rule.DelayMinutes, &rule.IsActive, &rule.Priority, &actionIDs,
		&rule.ExecutionCount, &rule.SuccessCount, &rule.ErrorCount, &lastRun, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if rule.TriggerConditions, err = decodeMap(conditions); err != nil {
		return nil, fmt.Errorf("failed to decode trigger conditions of rule %s: %w", rule.ID, err)
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &rule.Filters); err != nil {
			return nil, fmt.Errorf("failed to decode filters of rule %s: %w", rule.ID, err)
		}
		if len(rule.Filters) == 0 {
			rule.Filters = nil
		}
	}
	rule.ActionIDs = []string(actionIDs)
	if rule.ActionIDs == nil {
		rule.ActionIDs = []string{}
	}
	rule.LastExecutedAt = timePtr(lastRun)
	return &rule, nil
}

func scanAction(row scanner) (*automation.Action, error) {
	var (
		action     automation.Action
		rawConfig  []byte
		conditions []byte
	)
	if err := row.Scan(
		&action.ID, &action.RuleID, &action.Type, &rawConfig, &action.Order, &conditions,
		&action.IsActive, &action.CreatedAt, &action.UpdatedAt,
	); err != nil {
		return nil, err
	}

	action.Config = actions.DecodeStoredConfig(action.Type, rawConfig)
	conds, err := decodeMap(conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to decode conditions of action %s: %w", action.ID, err)
	}
	action.Conditions = conds
	return &action, nil
}

func (s *Store) queryRules(ctx context.Context, op, query string, args ...any) (rules []automation.Rule, err error) {
	defer func(start time.Time) { s.observe(op, start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules = []automation.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

func (s *Store) ActiveRules(ctx context.Context, trigger automation.TriggerType) ([]automation.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM automation_rules
		WHERE trigger_type = $1 AND is_active
		ORDER BY priority DESC, created_at ASC, id ASC`
	return s.queryRules(ctx, "active_rules", query, string(trigger))
}

func (s *Store) ListActiveRules(ctx context.Context) ([]automation.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM automation_rules
		WHERE is_active
		ORDER BY priority DESC, created_at ASC, id ASC`
	return s.queryRules(ctx, "list_active_rules", query)
}

func (s *Store) ListRules(ctx context.Context, limit, offset int) ([]automation.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM automation_rules
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $1 OFFSET $2`
	return s.queryRules(ctx, "list_rules", query, limitArg(limit), offset)
}

func (s *Store) GetRule(ctx context.Context, id string) (rule *automation.Rule, err error) {
	defer func(start time.Time) { s.observe("get_rule", start, err) }(time.Now())

	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id = $1`
	rule, err = scanRule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("rule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (s *Store) CreateRule(ctx context.Context, rule *automation.Rule) (err error) {
	defer func(start time.Time) { s.observe("create_rule", start, err) }(time.Now())

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := s.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}
	if rule.ActionIDs == nil {
		rule.ActionIDs = []string{}
	}

	conditions, err := jsonb(rule.TriggerConditions)
	if err != nil {
		return fmt.Errorf("failed to encode trigger conditions: %w", err)
	}
	filters, err := jsonb(rule.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}

	query := `
		INSERT INTO automation_rules (id, name, description, trigger_type, trigger_conditions, filters,
			condition_expression, delay_minutes, is_active, priority, action_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, string(rule.TriggerType), conditions, filters,
		rule.ConditionExpression, rule.DelayMinutes, rule.IsActive, rule.Priority,
		pq.Array(rule.ActionIDs), rule.CreatedAt, rule.UpdatedAt,
	)
	if pqCode(err) == uniqueViolation {
		return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("rule %s already exists", rule.ID))
	}
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// UpdateRule writes the configuration fields only; counters and action ids are owned by the engine.
func (s *Store) UpdateRule(ctx context.Context, rule *automation.Rule) (err error) {
	defer func(start time.Time) { s.observe("update_rule", start, err) }(time.Now())

	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = s.now()
	}
	conditions, err := jsonb(rule.TriggerConditions)
	if err != nil {
		return fmt.Errorf("failed to encode trigger conditions: %w", err)
	}
	filters, err := jsonb(rule.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}

	query := `
		UPDATE automation_rules
		SET name = $1, description = $2, trigger_type = $3, trigger_conditions = $4, filters = $5,
			condition_expression = $6, delay_minutes = $7, is_active = $8, priority = $9, updated_at = $10
		WHERE id = $11
	`
	res, err := s.db.ExecContext(ctx, query,
		rule.Name, rule.Description, string(rule.TriggerType), conditions, filters,
		rule.ConditionExpression, rule.DelayMinutes, rule.IsActive, rule.Priority, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return expectOne(res, "rule", rule.ID)
}

// DeleteRule removes the rule together with its actions and executions.
func (s *Store) DeleteRule(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("delete_rule", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return expectOne(res, "rule", id)
}

// GetActions returns the actions in the order of ids.
func (s *Store) GetActions(ctx context.Context, ids []string) (out []automation.Action, err error) {
	defer func(start time.Time) { s.observe("get_actions", start, err) }(time.Now())

	out = []automation.Action{}
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + actionColumns + ` FROM automation_actions WHERE id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get actions: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]automation.Action, len(ids))
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		byID[action.ID] = *action
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate actions: %w", err)
	}

	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) GetAction(ctx context.Context, id string) (action *automation.Action, err error) {
	defer func(start time.Time) { s.observe("get_action", start, err) }(time.Now())

	query := `SELECT ` + actionColumns + ` FROM automation_actions WHERE id = $1`
	action, err = scanAction(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("action", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return action, nil
}

func actionConflict(err error, action *automation.Action) error {
	return pkgerrors.ErrConflict.WithCause(err).
		WithDetail("message", fmt.Sprintf("rule %s already has an action at order %d", action.RuleID, action.Order))
}

func (s *Store) CreateAction(ctx context.Context, action *automation.Action) (err error) {
	defer func(start time.Time) { s.observe("create_action", start, err) }(time.Now())

	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	now := s.now()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now
	}
	if action.UpdatedAt.IsZero() {
		action.UpdatedAt = now
	}
	rawConfig, err := json.Marshal(action.Config)
	if err != nil {
		return fmt.Errorf("failed to encode action config: %w", err)
	}
	conditions, err := jsonb(action.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode action conditions: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO automation_actions (id, rule_id, action_type, action_config, "order", conditions,
				is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, action.ID, action.RuleID, string(action.Type), rawConfig, action.Order, conditions,
			action.IsActive, action.CreatedAt, action.UpdatedAt)
		switch pqCode(err) {
		case uniqueViolation:
			return actionConflict(err, action)
		case foreignKeyViolation:
			return notFound("rule", action.RuleID)
		}
		if err != nil {
			return fmt.Errorf("failed to create action: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE automation_rules SET action_ids = array_append(action_ids, $1), updated_at = $2 WHERE id = $3
		`, action.ID, action.UpdatedAt, action.RuleID)
		if err != nil {
			return fmt.Errorf("failed to link action to rule: %w", err)
		}
		return expectOne(res, "rule", action.RuleID)
	})
}

func (s *Store) UpdateAction(ctx context.Context, action *automation.Action) (err error) {
	defer func(start time.Time) { s.observe("update_action", start, err) }(time.Now())

	if action.UpdatedAt.IsZero() {
		action.UpdatedAt = s.now()
	}
	rawConfig, err := json.Marshal(action.Config)
	if err != nil {
		return fmt.Errorf("failed to encode action config: %w", err)
	}
	conditions, err := jsonb(action.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode action conditions: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_actions
		SET action_type = $1, action_config = $2, "order" = $3, conditions = $4, is_active = $5, updated_at = $6
		WHERE id = $7
	`, string(action.Type), rawConfig, action.Order, conditions, action.IsActive, action.UpdatedAt, action.ID)
	if pqCode(err) == uniqueViolation {
		return actionConflict(err, action)
	}
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}
	return expectOne(res, "action", action.ID)
}

func (s *Store) DeleteAction(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("delete_action", start, err) }(time.Now())

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var ruleID string
		err := tx.QueryRowContext(ctx, `DELETE FROM automation_actions WHERE id = $1 RETURNING rule_id`, id).Scan(&ruleID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("action", id)
		}
		if err != nil {
			return fmt.Errorf("failed to delete action: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE automation_rules SET action_ids = array_remove(action_ids, $1), updated_at = $2 WHERE id = $3
		`, id, s.now(), ruleID)
		if err != nil {
			return fmt.Errorf("failed to unlink action from rule: %w", err)
		}
		return nil
	})
}
