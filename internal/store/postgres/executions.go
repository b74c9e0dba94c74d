package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"crmflow/internal/automation"
	pkgerrors "crmflow/pkg/errors"
)

const executionColumns = `id, rule_id, trigger_type, trigger_data, target_type, target_id, status, scheduled_at,
	started_at, completed_at, actions_executed, actions_successful, actions_failed, execution_log,
	error_message, created_at`

func scanExecution(row scanner) (*automation.Execution, error) {
	var (
		exec        automation.Execution
		triggerData []byte
		log         []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&exec.ID, &exec.RuleID, &exec.TriggerType, &triggerData, &exec.TargetType, &exec.TargetID,
		&exec.Status, &exec.ScheduledAt, &startedAt, &completedAt, &exec.ActionsExecuted,
		&exec.ActionsSuccessful, &exec.ActionsFailed, &log, &exec.ErrorMessage, &exec.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if exec.TriggerData, err = decodeMap(triggerData); err != nil {
		return nil, fmt.Errorf("failed to decode trigger data of execution %s: %w", exec.ID, err)
	}
	if len(log) > 0 {
		if err := json.Unmarshal(log, &exec.Log); err != nil {
			return nil, fmt.Errorf("failed to decode log of execution %s: %w", exec.ID, err)
		}
	}
	exec.StartedAt = timePtr(startedAt)
	exec.CompletedAt = timePtr(completedAt)
	return &exec, nil
}

func (s *Store) queryExecutions(ctx context.Context, op, query string, args ...any) (out []automation.Execution, err error) {
	defer func(start time.Time) { s.observe(op, start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	out = []automation.Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return out, nil
}

func (s *Store) CreateExecution(ctx context.Context, exec *automation.Execution) (err error) {
	defer func(start time.Time) { s.observe("create_execution", start, err) }(time.Now())

	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = s.now()
	}
	if exec.Status == "" {
		exec.Status = automation.StatusPending
	}
	triggerData, err := jsonb(exec.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to encode trigger data: %w", err)
	}
	log, err := jsonb(exec.Log)
	if err != nil {
		return fmt.Errorf("failed to encode execution log: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_executions (id, rule_id, trigger_type, trigger_data, target_type, target_id,
			status, scheduled_at, started_at, completed_at, actions_executed, actions_successful,
			actions_failed, execution_log, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, exec.ID, exec.RuleID, string(exec.TriggerType), triggerData, exec.TargetType, exec.TargetID,
		string(exec.Status), exec.ScheduledAt, nullTime(exec.StartedAt), nullTime(exec.CompletedAt),
		exec.ActionsExecuted, exec.ActionsSuccessful, exec.ActionsFailed, log, exec.ErrorMessage, exec.CreatedAt)
	switch pqCode(err) {
	case uniqueViolation:
		return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("execution %s already exists", exec.ID))
	case foreignKeyViolation:
		return notFound("rule", exec.RuleID)
	}
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (exec *automation.Execution, err error) {
	defer func(start time.Time) { s.observe("get_execution", start, err) }(time.Now())

	query := `SELECT ` + executionColumns + ` FROM automation_executions WHERE id = $1`
	exec, err = scanExecution(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

func (s *Store) ClaimExecution(ctx context.Context, id string, startedAt time.Time) (ok bool, err error) {
	defer func(start time.Time) { s.observe("claim_execution", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_executions SET status = 'running', started_at = $1
		WHERE id = $2 AND status = 'pending'
	`, startedAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim execution: %w", err)
	}
	ok, err = affected(res)
	if err != nil || ok {
		return ok, err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM automation_executions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check execution: %w", err)
	}
	if !exists {
		return false, notFound("execution", id)
	}
	return false, nil
}

func (s *Store) FinishExecution(ctx context.Context, exec *automation.Execution) (err error) {
	defer func(start time.Time) { s.observe("finish_execution", start, err) }(time.Now())

	if !exec.Status.Terminal() {
		return pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("execution cannot finish as %s", exec.Status))
	}
	log, err := jsonb(exec.Log)
	if err != nil {
		return fmt.Errorf("failed to encode execution log: %w", err)
	}
	completedAt := exec.CompletedAt
	if completedAt == nil {
		now := s.now()
		completedAt = &now
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE automation_executions
			SET status = $1, completed_at = $2, actions_executed = $3, actions_successful = $4,
				actions_failed = $5, execution_log = $6, error_message = $7
			WHERE id = $8 AND status = 'running'
		`, string(exec.Status), *completedAt, exec.ActionsExecuted, exec.ActionsSuccessful,
			exec.ActionsFailed, log, exec.ErrorMessage, exec.ID)
		if err != nil {
			return fmt.Errorf("failed to finish execution: %w", err)
		}
		ok, err := affected(res)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.ErrSchedulingConflict.WithDetail("execution_id", exec.ID).
				WithDetail("message", fmt.Sprintf("execution %s is not running", exec.ID))
		}

		var successInc, errorInc int
		if exec.Status == automation.StatusCompleted {
			successInc = 1
		} else {
			errorInc = 1
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE automation_rules
			SET execution_count = execution_count + 1, success_count = success_count + $1,
				error_count = error_count + $2, last_executed_at = $3
			WHERE id = $4
		`, successInc, errorInc, *completedAt, exec.RuleID)
		if err != nil {
			return fmt.Errorf("failed to update rule counters: %w", err)
		}
		return nil
	})
}

func (s *Store) ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]automation.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM automation_executions
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, created_at ASC
		LIMIT $2`
	return s.queryExecutions(ctx, "list_due_executions", query, now, limitArg(limit))
}

func (s *Store) ListStaleExecutions(ctx context.Context, startedBefore time.Time, limit int) ([]automation.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM automation_executions
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at ASC, created_at ASC
		LIMIT $2`
	return s.queryExecutions(ctx, "list_stale_executions", query, startedBefore, limitArg(limit))
}

func (s *Store) ListExecutions(ctx context.Context, filter automation.ExecutionFilter) ([]automation.Execution, error) {
	var (
		where []string
		args  []any
	)
	if filter.RuleID != "" {
		args = append(args, filter.RuleID)
		where = append(where, fmt.Sprintf("rule_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + executionColumns + ` FROM automation_executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limitArg(filter.Limit), filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return s.queryExecutions(ctx, "list_executions", query, args...)
}
