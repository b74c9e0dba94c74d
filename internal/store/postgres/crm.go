package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"crmflow/internal/actions"
	pkgerrors "crmflow/pkg/errors"
)

const TargetTypeLead = "lead"

// CRM adapts the leads, tasks and opportunities tables to the services automation actions call.
type CRM struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ actions.TargetResolver     = (*CRM)(nil)
	_ actions.LeadStore          = (*CRM)(nil)
	_ actions.TaskService        = (*CRM)(nil)
	_ actions.OpportunityService = opportunities{}
)

func NewCRM(db *sql.DB) *CRM {
	return &CRM{db: db, now: time.Now}
}

func targetNotFound(targetType, id string) error {
	return pkgerrors.ErrTargetNotFound.
		WithDetail("message", fmt.Sprintf("%s %s not found", targetType, id)).
		WithDetail("target_type", targetType).
		WithDetail("target_id", id)
}

func (c *CRM) Resolve(ctx context.Context, targetType, targetID string) (*actions.Target, error) {
	if targetType != TargetTypeLead {
		return nil, targetNotFound(targetType, targetID)
	}

	var (
		t          = actions.Target{Type: TargetTypeLead}
		tags       pq.StringArray
		attributes []byte
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, phone, company, status, stage_id, origin, assigned_to, tags, attributes
		FROM leads WHERE id = $1
	`, targetID).Scan(&t.ID, &t.FirstName, &t.LastName, &t.Email, &t.Phone, &t.Company, &t.Status,
		&t.StageID, &t.Origin, &t.AssignedTo, &tags, &attributes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, targetNotFound(targetType, targetID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}

	t.Tags = []string(tags)
	if t.Attributes, err = decodeMap(attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes of lead %s: %w", t.ID, err)
	}
	return &t, nil
}

func (c *CRM) updateLead(ctx context.Context, leadID, set string, arg any) error {
	res, err := c.db.ExecContext(ctx, `UPDATE leads SET `+set+`, updated_at = $2 WHERE id = $3`, arg, c.now(), leadID)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return targetNotFound(TargetTypeLead, leadID)
	}
	return nil
}

func (c *CRM) UpdateStatus(ctx context.Context, leadID, status string) error {
	return c.updateLead(ctx, leadID, "status = $1", status)
}

func (c *CRM) MoveStage(ctx context.Context, leadID, stageID string) error {
	return c.updateLead(ctx, leadID, "stage_id = $1", stageID)
}

func (c *CRM) Assign(ctx context.Context, leadID, userID string) error {
	return c.updateLead(ctx, leadID, "assigned_to = $1", userID)
}

// AddTag is idempotent.
func (c *CRM) AddTag(ctx context.Context, leadID, tagID string) error {
	return c.updateLead(ctx, leadID,
		"tags = CASE WHEN $1 = ANY(tags) THEN tags ELSE array_append(tags, $1) END", tagID)
}

func (c *CRM) RemoveTag(ctx context.Context, leadID, tagID string) error {
	return c.updateLead(ctx, leadID, "tags = array_remove(tags, $1)", tagID)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a task. It satisfies actions.TaskService.
func (c *CRM) Create(ctx context.Context, req actions.TaskRequest) (string, error) {
	id := uuid.New().String()
	var due sql.NullTime
	if !req.DueDate.IsZero() {
		due = sql.NullTime{Time: req.DueDate, Valid: true}
	}
	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, assigned_to, due_date, priority, task_type, lead_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, req.Title, req.Description, req.AssignedTo, due, priority, req.TaskType, nullString(req.LeadID), c.now())
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	return id, nil
}

// Opportunities returns the opportunity side of the adapter. Create is taken by tasks on CRM itself.
func (c *CRM) Opportunities() actions.OpportunityService {
	return opportunities{c}
}

type opportunities struct{ c *CRM }

func (o opportunities) Create(ctx context.Context, req actions.OpportunityRequest) (string, error) {
	id := uuid.New().String()
	_, err := o.c.db.ExecContext(ctx, `
		INSERT INTO opportunities (id, title, value, stage_id, lead_id, assigned_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, req.Title, req.Value, req.StageID, nullString(req.LeadID), req.AssignedTo, o.c.now())
	if err != nil {
		return "", fmt.Errorf("failed to create opportunity: %w", err)
	}
	return id, nil
}
