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
	"github.com/lib/pq"

	"crmflow/internal/actions"
	"crmflow/internal/cadence"
	pkgerrors "crmflow/pkg/errors"
)

const sequenceColumns = `id, name, description, trigger_conditions, is_active, step_ids, enrolled_count,
	completed_count, created_at, updated_at`

const stepColumns = `id, sequence_id, "order", delay_days, delay_hours, delay_minutes, action_type, action_config,
	conditions, created_at, updated_at`

const enrollmentColumns = `id, sequence_id, target_type, target_id, status, current_step, next_action_at,
	steps_completed, emails_sent, tasks_created, sms_sent, whatsapp_sent, webhooks_called, enrolled_at,
	enrolled_by, completed_at, claimed_at, updated_at`

func scanSequence(row scanner) (*cadence.Sequence, error) {
	var (
		seq        cadence.Sequence
		conditions []byte
		stepIDs    pq.StringArray
	)
	if err := row.Scan(
		&seq.ID, &seq.Name, &seq.Description, &conditions, &seq.IsActive, &stepIDs,
		&seq.EnrolledCount, &seq.CompletedCount, &seq.CreatedAt, &seq.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if seq.TriggerConditions, err = decodeMap(conditions); err != nil {
		return nil, fmt.Errorf("failed to decode trigger conditions of sequence %s: %w", seq.ID, err)
	}
	seq.StepIDs = []string(stepIDs)
	if seq.StepIDs == nil {
		seq.StepIDs = []string{}
	}
	return &seq, nil
}

func scanStep(row scanner) (*cadence.Step, error) {
	var (
		step       cadence.Step
		rawConfig  []byte
		conditions []byte
	)
	if err := row.Scan(
		&step.ID, &step.SequenceID, &step.Order, &step.DelayDays, &step.DelayHours, &step.DelayMinutes,
		&step.ActionType, &rawConfig, &conditions, &step.CreatedAt, &step.UpdatedAt,
	); err != nil {
		return nil, err
	}
	step.Config = actions.DecodeStoredConfig(step.ActionType, rawConfig)
	conds, err := decodeMap(conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to decode conditions of step %s: %w", step.ID, err)
	}
	step.Conditions = conds
	return &step, nil
}

func scanEnrollment(row scanner) (*cadence.Enrollment, error) {
	var (
		e            cadence.Enrollment
		currentStep  sql.NullInt64
		nextActionAt sql.NullTime
		completedAt  sql.NullTime
		claimedAt    sql.NullTime
	)
	if err := row.Scan(
		&e.ID, &e.SequenceID, &e.TargetType, &e.TargetID, &e.Status, &currentStep, &nextActionAt,
		&e.StepsCompleted, &e.EmailsSent, &e.TasksCreated, &e.SMSSent, &e.WhatsAppSent, &e.WebhooksCalled,
		&e.EnrolledAt, &e.EnrolledBy, &completedAt, &claimedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.CurrentStep = intPtr(currentStep)
	e.NextActionAt = timePtr(nextActionAt)
	e.CompletedAt = timePtr(completedAt)
	e.ClaimedAt = timePtr(claimedAt)
	return &e, nil
}

// Sequences

func (s *Store) querySequences(ctx context.Context, op, query string, args ...any) (out []cadence.Sequence, err error) {
	defer func(start time.Time) { s.observe(op, start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}
	defer rows.Close()

	out = []cadence.Sequence{}
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sequence: %w", err)
		}
		out = append(out, *seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sequences: %w", err)
	}
	return out, nil
}

func (s *Store) GetSequence(ctx context.Context, id string) (seq *cadence.Sequence, err error) {
	defer func(start time.Time) { s.observe("get_sequence", start, err) }(time.Now())

	query := `SELECT ` + sequenceColumns + ` FROM cadence_sequences WHERE id = $1`
	seq, err = scanSequence(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("sequence", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence: %w", err)
	}
	return seq, nil
}

func (s *Store) ListActiveSequences(ctx context.Context) ([]cadence.Sequence, error) {
	query := `SELECT ` + sequenceColumns + ` FROM cadence_sequences WHERE is_active ORDER BY created_at ASC, id ASC`
	return s.querySequences(ctx, "list_active_sequences", query)
}

func (s *Store) ListSequences(ctx context.Context, limit, offset int) ([]cadence.Sequence, error) {
	query := `SELECT ` + sequenceColumns + `
		FROM cadence_sequences
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2`
	return s.querySequences(ctx, "list_sequences", query, limitArg(limit), offset)
}

func (s *Store) CreateSequence(ctx context.Context, seq *cadence.Sequence) (err error) {
	defer func(start time.Time) { s.observe("create_sequence", start, err) }(time.Now())

	if seq.ID == "" {
		seq.ID = uuid.New().String()
	}
	now := s.now()
	if seq.CreatedAt.IsZero() {
		seq.CreatedAt = now
	}
	if seq.UpdatedAt.IsZero() {
		seq.UpdatedAt = now
	}
	if seq.StepIDs == nil {
		seq.StepIDs = []string{}
	}
	conditions, err := jsonb(seq.TriggerConditions)
	if err != nil {
		return fmt.Errorf("failed to encode trigger conditions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cadence_sequences (id, name, description, trigger_conditions, is_active, step_ids,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, seq.ID, seq.Name, seq.Description, conditions, seq.IsActive, pq.Array(seq.StepIDs), seq.CreatedAt, seq.UpdatedAt)
	if pqCode(err) == uniqueViolation {
		return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("sequence %s already exists", seq.ID))
	}
	if err != nil {
		return fmt.Errorf("failed to create sequence: %w", err)
	}
	return nil
}

func (s *Store) UpdateSequence(ctx context.Context, seq *cadence.Sequence) (err error) {
	defer func(start time.Time) { s.observe("update_sequence", start, err) }(time.Now())

	if seq.UpdatedAt.IsZero() {
		seq.UpdatedAt = s.now()
	}
	conditions, err := jsonb(seq.TriggerConditions)
	if err != nil {
		return fmt.Errorf("failed to encode trigger conditions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE cadence_sequences
		SET name = $1, description = $2, trigger_conditions = $3, is_active = $4, updated_at = $5
		WHERE id = $6
	`, seq.Name, seq.Description, conditions, seq.IsActive, seq.UpdatedAt, seq.ID)
	if err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}
	return expectOne(res, "sequence", seq.ID)
}

func (s *Store) DeleteSequence(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("delete_sequence", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM cadence_sequences WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sequence: %w", err)
	}
	return expectOne(res, "sequence", id)
}

// Steps

// GetSteps returns the steps in the order of ids.
func (s *Store) GetSteps(ctx context.Context, ids []string) (out []cadence.Step, err error) {
	defer func(start time.Time) { s.observe("get_steps", start, err) }(time.Now())

	out = []cadence.Step{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+stepColumns+` FROM cadence_steps WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get steps: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]cadence.Step, len(ids))
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		byID[step.ID] = *step
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	for _, id := range ids {
		if st, ok := byID[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) GetStep(ctx context.Context, id string) (step *cadence.Step, err error) {
	defer func(start time.Time) { s.observe("get_step", start, err) }(time.Now())

	step, err = scanStep(s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM cadence_steps WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("step", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

func stepConflict(err error, step *cadence.Step) error {
	return pkgerrors.ErrConflict.WithCause(err).
		WithDetail("message", fmt.Sprintf("sequence %s already has a step at order %d", step.SequenceID, step.Order))
}

func (s *Store) CreateStep(ctx context.Context, step *cadence.Step) (err error) {
	defer func(start time.Time) { s.observe("create_step", start, err) }(time.Now())

	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	now := s.now()
	if step.CreatedAt.IsZero() {
		step.CreatedAt = now
	}
	if step.UpdatedAt.IsZero() {
		step.UpdatedAt = now
	}
	rawConfig, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("failed to encode step config: %w", err)
	}
	conditions, err := jsonb(step.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode step conditions: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cadence_steps (id, sequence_id, "order", delay_days, delay_hours, delay_minutes,
				action_type, action_config, conditions, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, step.ID, step.SequenceID, step.Order, step.DelayDays, step.DelayHours, step.DelayMinutes,
			string(step.ActionType), rawConfig, conditions, step.CreatedAt, step.UpdatedAt)
		switch pqCode(err) {
		case uniqueViolation:
			return stepConflict(err, step)
		case foreignKeyViolation:
			return notFound("sequence", step.SequenceID)
		}
		if err != nil {
			return fmt.Errorf("failed to create step: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE cadence_sequences SET step_ids = array_append(step_ids, $1), updated_at = $2 WHERE id = $3
		`, step.ID, step.UpdatedAt, step.SequenceID)
		if err != nil {
			return fmt.Errorf("failed to link step to sequence: %w", err)
		}
		return expectOne(res, "sequence", step.SequenceID)
	})
}

func (s *Store) UpdateStep(ctx context.Context, step *cadence.Step) (err error) {
	defer func(start time.Time) { s.observe("update_step", start, err) }(time.Now())

	if step.UpdatedAt.IsZero() {
		step.UpdatedAt = s.now()
	}
	rawConfig, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("failed to encode step config: %w", err)
	}
	conditions, err := jsonb(step.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode step conditions: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE cadence_steps
		SET "order" = $1, delay_days = $2, delay_hours = $3, delay_minutes = $4, action_type = $5,
			action_config = $6, conditions = $7, updated_at = $8
		WHERE id = $9
	`, step.Order, step.DelayDays, step.DelayHours, step.DelayMinutes, string(step.ActionType),
		rawConfig, conditions, step.UpdatedAt, step.ID)
	if pqCode(err) == uniqueViolation {
		return stepConflict(err, step)
	}
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	return expectOne(res, "step", step.ID)
}

func (s *Store) DeleteStep(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("delete_step", start, err) }(time.Now())

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var sequenceID string
		err := tx.QueryRowContext(ctx, `DELETE FROM cadence_steps WHERE id = $1 RETURNING sequence_id`, id).Scan(&sequenceID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("step", id)
		}
		if err != nil {
			return fmt.Errorf("failed to delete step: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE cadence_sequences SET step_ids = array_remove(step_ids, $1), updated_at = $2 WHERE id = $3
		`, id, s.now(), sequenceID)
		if err != nil {
			return fmt.Errorf("failed to unlink step from sequence: %w", err)
		}
		return nil
	})
}

// Enrollments

func (s *Store) queryEnrollments(ctx context.Context, op, query string, args ...any) (out []cadence.Enrollment, err error) {
	defer func(start time.Time) { s.observe(op, start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	out = []cadence.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enrollments: %w", err)
	}
	return out, nil
}

func (s *Store) CreateEnrollment(ctx context.Context, e *cadence.Enrollment) (err error) {
	defer func(start time.Time) { s.observe("create_enrollment", start, err) }(time.Now())

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.EnrolledAt
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cadence_enrollments (id, sequence_id, target_type, target_id, status, current_step,
				next_action_at, steps_completed, emails_sent, tasks_created, sms_sent, whatsapp_sent,
				webhooks_called, enrolled_at, enrolled_by, completed_at, claimed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`, e.ID, e.SequenceID, e.TargetType, e.TargetID, string(e.Status), nullInt(e.CurrentStep),
			nullTime(e.NextActionAt), e.StepsCompleted, e.EmailsSent, e.TasksCreated, e.SMSSent, e.WhatsAppSent,
			e.WebhooksCalled, e.EnrolledAt, e.EnrolledBy, nullTime(e.CompletedAt), nullTime(e.ClaimedAt), e.UpdatedAt)
		switch pqCode(err) {
		case uniqueViolation:
			return pkgerrors.ErrSchedulingConflict.WithCause(err).
				WithDetail("message", fmt.Sprintf("target %s is already enrolled in sequence %s", e.TargetID, e.SequenceID))
		case foreignKeyViolation:
			return notFound("sequence", e.SequenceID)
		}
		if err != nil {
			return fmt.Errorf("failed to create enrollment: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE cadence_sequences SET enrolled_count = enrolled_count + 1 WHERE id = $1
		`, e.SequenceID)
		if err != nil {
			return fmt.Errorf("failed to update enrolled count: %w", err)
		}
		return nil
	})
}

func (s *Store) GetEnrollment(ctx context.Context, id string) (e *cadence.Enrollment, err error) {
	defer func(start time.Time) { s.observe("get_enrollment", start, err) }(time.Now())

	e, err = scanEnrollment(s.db.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM cadence_enrollments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("enrollment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return e, nil
}

func (s *Store) ListEnrollments(ctx context.Context, filter cadence.EnrollmentFilter) ([]cadence.Enrollment, error) {
	var (
		where []string
		args  []any
	)
	if filter.SequenceID != "" {
		args = append(args, filter.SequenceID)
		where = append(where, fmt.Sprintf("sequence_id = $%d", len(args)))
	}
	if filter.TargetID != "" {
		args = append(args, filter.TargetID)
		where = append(where, fmt.Sprintf("target_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + enrollmentColumns + ` FROM cadence_enrollments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limitArg(filter.Limit), filter.Offset)
	query += fmt.Sprintf(` ORDER BY enrolled_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return s.queryEnrollments(ctx, "list_enrollments", query, args...)
}

func (s *Store) ListDueEnrollments(ctx context.Context, now time.Time, limit int) ([]cadence.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + `
		FROM cadence_enrollments
		WHERE status = 'active' AND next_action_at <= $1
		ORDER BY next_action_at ASC, enrolled_at ASC
		LIMIT $2`
	return s.queryEnrollments(ctx, "list_due_enrollments", query, now, limitArg(limit))
}

func (s *Store) ClaimEnrollment(ctx context.Context, id string, step int, now, staleBefore time.Time) (ok bool, err error) {
	defer func(start time.Time) { s.observe("claim_enrollment", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE cadence_enrollments SET claimed_at = $1
		WHERE id = $2 AND status = 'active' AND current_step = $3
			AND (claimed_at IS NULL OR claimed_at < $4)
	`, now.Truncate(time.Microsecond), id, step, staleBefore)
	if err != nil {
		return false, fmt.Errorf("failed to claim enrollment: %w", err)
	}
	return affected(res)
}

func (s *Store) SaveProgress(ctx context.Context, e *cadence.Enrollment, claimedAt time.Time) (err error) {
	defer func(start time.Time) { s.observe("save_progress", start, err) }(time.Now())

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE cadence_enrollments
			SET status = $1, current_step = $2, next_action_at = $3, steps_completed = $4, emails_sent = $5,
				tasks_created = $6, sms_sent = $7, whatsapp_sent = $8, webhooks_called = $9,
				completed_at = $10, claimed_at = NULL, updated_at = $11
			WHERE id = $12 AND status = 'active' AND claimed_at = $13
		`, string(e.Status), nullInt(e.CurrentStep), nullTime(e.NextActionAt), e.StepsCompleted, e.EmailsSent,
			e.TasksCreated, e.SMSSent, e.WhatsAppSent, e.WebhooksCalled, nullTime(e.CompletedAt), e.UpdatedAt,
			e.ID, claimedAt.Truncate(time.Microsecond))
		if err != nil {
			return fmt.Errorf("failed to save enrollment progress: %w", err)
		}
		ok, err := affected(res)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.ErrSchedulingConflict.WithDetail("enrollment_id", e.ID).
				WithDetail("message", fmt.Sprintf("enrollment %s is no longer claimed by this worker", e.ID))
		}
		return bumpCompleted(ctx, tx, e)
	})
}

func (s *Store) UpdateStatus(ctx context.Context, e *cadence.Enrollment, from cadence.EnrollmentStatus, staleBefore time.Time) (ok bool, err error) {
	defer func(start time.Time) { s.observe("update_enrollment_status", start, err) }(time.Now())

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE cadence_enrollments
			SET status = $1, current_step = $2, next_action_at = $3, completed_at = $4, claimed_at = $5,
				updated_at = $6
			WHERE id = $7 AND status = $8 AND (claimed_at IS NULL OR claimed_at < $9)
		`, string(e.Status), nullInt(e.CurrentStep), nullTime(e.NextActionAt), nullTime(e.CompletedAt),
			nullTime(e.ClaimedAt), e.UpdatedAt, e.ID, string(from), staleBefore)
		if pqCode(err) == uniqueViolation {
			return pkgerrors.ErrSchedulingConflict.WithCause(err).
				WithDetail("message", fmt.Sprintf("target %s already has a live enrollment in sequence %s", e.TargetID, e.SequenceID))
		}
		if err != nil {
			return fmt.Errorf("failed to update enrollment status: %w", err)
		}
		if ok, err = affected(res); err != nil || !ok {
			return err
		}
		return bumpCompleted(ctx, tx, e)
	})
	return ok, err
}

func bumpCompleted(ctx context.Context, tx *sql.Tx, e *cadence.Enrollment) error {
	if e.Status != cadence.EnrollmentCompleted {
		return nil
	}
	_, err := tx.ExecContext(ctx, `UPDATE cadence_sequences SET completed_count = completed_count + 1 WHERE id = $1`, e.SequenceID)
	if err != nil {
		return fmt.Errorf("failed to update completed count: %w", err)
	}
	return nil
}
