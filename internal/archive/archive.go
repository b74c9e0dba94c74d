// Package archive keeps an append-only MongoDB history of finished executions and enrollment changes.
package archive

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crmflow/internal/actions"
	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/migrations"
)

const writeTimeout = 5 * time.Second

type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

type ExecutionRecord struct {
	ExecutionID       string                `bson:"execution_id"`
	RuleID            string                `bson:"rule_id"`
	TriggerType       string                `bson:"trigger_type"`
	TriggerData       map[string]any        `bson:"trigger_data,omitempty"`
	TargetType        string                `bson:"target_type"`
	TargetID          string                `bson:"target_id"`
	Status            string                `bson:"status"`
	ScheduledAt       time.Time             `bson:"scheduled_at"`
	StartedAt         *time.Time            `bson:"started_at,omitempty"`
	CompletedAt       *time.Time            `bson:"completed_at,omitempty"`
	ActionsExecuted   int                   `bson:"actions_executed"`
	ActionsSuccessful int                   `bson:"actions_successful"`
	ActionsFailed     int                   `bson:"actions_failed"`
	Log               []automation.LogEntry `bson:"execution_log"`
	ErrorMessage      string                `bson:"error_message,omitempty"`
}

type EnrollmentRecord struct {
	EnrollmentID   string     `bson:"enrollment_id"`
	SequenceID     string     `bson:"sequence_id"`
	TargetType     string     `bson:"target_type"`
	TargetID       string     `bson:"target_id"`
	Status         string     `bson:"status"`
	StepID         string     `bson:"step_id,omitempty"`
	StepOrder      *int       `bson:"step_order,omitempty"`
	ActionType     string     `bson:"action_type,omitempty"`
	Success        *bool      `bson:"success,omitempty"`
	Message        string     `bson:"message,omitempty"`
	StepsCompleted int        `bson:"steps_completed"`
	NextActionAt   *time.Time `bson:"next_action_at,omitempty"`
	RecordedAt     time.Time  `bson:"recorded_at"`
}

// Archive implements automation.ExecutionObserver and cadence.EnrollmentObserver. Write failures are
// logged and never surface to the engine.
type Archive struct {
	executions  inserter
	enrollments inserter
	now         func() time.Time
	logger      logger.Logger
}

var (
	_ automation.ExecutionObserver = (*Archive)(nil)
	_ cadence.EnrollmentObserver   = (*Archive)(nil)
)

func New(db *mongo.Database, log logger.Logger) *Archive {
	return newArchive(
		db.Collection(constants.ExecutionArchiveCollection),
		db.Collection(constants.EnrollmentArchiveCollection),
		log,
	)
}

func newArchive(executions, enrollments inserter, log logger.Logger) *Archive {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Archive{executions: executions, enrollments: enrollments, now: time.Now, logger: log}
}

// EnsureIndexes prepares the archive collections.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	return migrations.EnsureMongoIndexes(ctx, db,
		migrations.ArchiveIndexes(constants.ExecutionArchiveCollection, constants.EnrollmentArchiveCollection))
}

func (a *Archive) ExecutionFinished(ctx context.Context, exec *automation.Execution) {
	rec := ExecutionRecord{
		ExecutionID:       exec.ID,
		RuleID:            exec.RuleID,
		TriggerType:       string(exec.TriggerType),
		TriggerData:       exec.TriggerData,
		TargetType:        exec.TargetType,
		TargetID:          exec.TargetID,
		Status:            string(exec.Status),
		ScheduledAt:       exec.ScheduledAt,
		StartedAt:         exec.StartedAt,
		CompletedAt:       exec.CompletedAt,
		ActionsExecuted:   exec.ActionsExecuted,
		ActionsSuccessful: exec.ActionsSuccessful,
		ActionsFailed:     exec.ActionsFailed,
		Log:               exec.Log,
		ErrorMessage:      exec.ErrorMessage,
	}
	a.insert(ctx, a.executions, rec, "execution_id", exec.ID)
}

func (a *Archive) EnrollmentChanged(ctx context.Context, e *cadence.Enrollment, step *cadence.Step, result *actions.Result) {
	rec := EnrollmentRecord{
		EnrollmentID:   e.ID,
		SequenceID:     e.SequenceID,
		TargetType:     e.TargetType,
		TargetID:       e.TargetID,
		Status:         string(e.Status),
		StepsCompleted: e.StepsCompleted,
		NextActionAt:   e.NextActionAt,
		RecordedAt:     a.now().UTC(),
	}
	if step != nil {
		order := step.Order
		rec.StepID = step.ID
		rec.StepOrder = &order
		rec.ActionType = string(step.ActionType)
	}
	if result != nil {
		success := result.Success
		rec.Success = &success
		rec.Message = result.Message
	}
	a.insert(ctx, a.enrollments, rec, "enrollment_id", e.ID)
}

func (a *Archive) insert(ctx context.Context, coll inserter, doc any, idKey, id string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	_, err := coll.InsertOne(writeCtx, doc)
	if err == nil {
		return
	}
	if mongo.IsDuplicateKeyError(err) {
		a.logger.DebugwCtx(ctx, "Archive record already exists", idKey, id)
		return
	}
	a.logger.WarnwCtx(ctx, "Failed to write archive record", idKey, id, "error", err)
}
