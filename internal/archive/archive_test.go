package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crmflow/internal/actions"
	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/internal/logger"
)

type fakeCollection struct {
	mu   sync.Mutex
	docs []interface{}
	err  error
}

func (c *fakeCollection) InsertOne(ctx context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("archive writes must be bounded")
	}
	if c.err != nil {
		return nil, c.err
	}
	c.docs = append(c.docs, doc)
	return &mongo.InsertOneResult{}, nil
}

func TestExecutionFinishedArchivesRecord(t *testing.T) {
	execs, enrolls := &fakeCollection{}, &fakeCollection{}
	a := newArchive(execs, enrolls, logger.NopLogger())

	done := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	a.ExecutionFinished(context.Background(), &automation.Execution{
		ID:                "ex-1",
		RuleID:            "r-1",
		TriggerType:       automation.LeadCreated,
		TargetType:        "lead",
		TargetID:          "l-1",
		Status:            automation.StatusFailed,
		CompletedAt:       &done,
		ActionsExecuted:   2,
		ActionsSuccessful: 1,
		ActionsFailed:     1,
		ErrorMessage:      "1 of 2 actions failed",
	})

	require.Len(t, execs.docs, 1)
	assert.Empty(t, enrolls.docs)
	rec := execs.docs[0].(ExecutionRecord)
	assert.Equal(t, "ex-1", rec.ExecutionID)
	assert.Equal(t, "failed", rec.Status)
	assert.Equal(t, 2, rec.ActionsExecuted)
	assert.Equal(t, &done, rec.CompletedAt)
}

func TestEnrollmentChangedCapturesStepResult(t *testing.T) {
	execs, enrolls := &fakeCollection{}, &fakeCollection{}
	a := newArchive(execs, enrolls, nil)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	a.EnrollmentChanged(context.Background(),
		&cadence.Enrollment{ID: "en-1", SequenceID: "s-1", Status: cadence.EnrollmentActive, StepsCompleted: 1},
		&cadence.Step{ID: "st-1", Order: 0, ActionType: actions.SendEmail},
		&actions.Result{Success: true, Message: "sent"},
	)
	a.EnrollmentChanged(context.Background(),
		&cadence.Enrollment{ID: "en-2", SequenceID: "s-1", Status: cadence.EnrollmentActive}, nil, nil)

	require.Len(t, enrolls.docs, 2)
	first := enrolls.docs[0].(EnrollmentRecord)
	assert.Equal(t, "st-1", first.StepID)
	require.NotNil(t, first.StepOrder)
	assert.Equal(t, 0, *first.StepOrder)
	require.NotNil(t, first.Success)
	assert.True(t, *first.Success)
	assert.Equal(t, now, first.RecordedAt)

	second := enrolls.docs[1].(EnrollmentRecord)
	assert.Nil(t, second.StepOrder)
	assert.Nil(t, second.Success)
}

func TestArchiveSwallowsWriteErrors(t *testing.T) {
	execs := &fakeCollection{err: errors.New("no primary")}
	a := newArchive(execs, &fakeCollection{}, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() {
		a.ExecutionFinished(ctx, &automation.Execution{ID: "ex-1"})
	})
	assert.Empty(t, execs.docs)
}
