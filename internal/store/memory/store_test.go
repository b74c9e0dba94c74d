package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/actions"
	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/pkg/errors"
)

func TestActionOrderIsUniquePerRule(t *testing.T) {
	ctx := context.Background()
	s := New()
	rule := &automation.Rule{Name: "r", TriggerType: automation.LeadCreated, IsActive: true}
	require.NoError(t, s.CreateRule(ctx, rule))

	first := &automation.Action{RuleID: rule.ID, Type: actions.Wait, Config: &actions.WaitConfig{}, Order: 1}
	require.NoError(t, s.CreateAction(ctx, first))

	err := s.CreateAction(ctx, &automation.Action{RuleID: rule.ID, Type: actions.Wait, Config: &actions.WaitConfig{}, Order: 1})
	assert.True(t, errors.IsConflict(err))

	second := &automation.Action{RuleID: rule.ID, Type: actions.Wait, Config: &actions.WaitConfig{}, Order: 2}
	require.NoError(t, s.CreateAction(ctx, second))

	second.Order = 1
	assert.True(t, errors.IsConflict(s.UpdateAction(ctx, second)))

	stored, err := s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, stored.ActionIDs)

	require.NoError(t, s.DeleteAction(ctx, first.ID))
	stored, err = s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, stored.ActionIDs)
}

func TestDeleteRuleCascades(t *testing.T) {
	ctx := context.Background()
	s := New()
	rule := &automation.Rule{Name: "r", TriggerType: automation.LeadCreated}
	require.NoError(t, s.CreateRule(ctx, rule))
	action := &automation.Action{RuleID: rule.ID, Type: actions.Wait, Config: &actions.WaitConfig{}, Order: 1}
	require.NoError(t, s.CreateAction(ctx, action))
	exec := &automation.Execution{RuleID: rule.ID, Status: automation.StatusPending}
	require.NoError(t, s.CreateExecution(ctx, exec))

	require.NoError(t, s.DeleteRule(ctx, rule.ID))

	_, err := s.GetAction(ctx, action.ID)
	assert.True(t, errors.IsNotFound(err))
	_, err = s.GetExecution(ctx, exec.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestExecutionClaimAndFinish(t *testing.T) {
	ctx := context.Background()
	s := New()
	rule := &automation.Rule{Name: "r", TriggerType: automation.LeadCreated}
	require.NoError(t, s.CreateRule(ctx, rule))
	exec := &automation.Execution{RuleID: rule.ID, Status: automation.StatusPending}
	require.NoError(t, s.CreateExecution(ctx, exec))

	exec.Status = automation.StatusCompleted
	err := s.FinishExecution(ctx, exec)
	assert.True(t, errors.IsSchedulingConflict(err), "cannot finish an unclaimed execution")

	now := time.Now()
	ok, err := s.ClaimExecution(ctx, exec.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimExecution(ctx, exec.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	exec.Status = automation.StatusFailed
	exec.CompletedAt = &now
	require.NoError(t, s.FinishExecution(ctx, exec))

	stored, err := s.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ExecutionCount)
	assert.Equal(t, int64(1), stored.ErrorCount)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	seq := &cadence.Sequence{Name: "s", TriggerConditions: map[string]any{"k": "v"}}
	require.NoError(t, s.CreateSequence(ctx, seq))

	got, err := s.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	got.TriggerConditions["k"] = "changed"
	got.StepIDs = append(got.StepIDs, "bogus")

	again, err := s.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", again.TriggerConditions["k"])
	assert.Empty(t, again.StepIDs)
}

func TestSaveProgressRequiresClaim(t *testing.T) {
	ctx := context.Background()
	s := New()
	seq := &cadence.Sequence{Name: "s", IsActive: true}
	require.NoError(t, s.CreateSequence(ctx, seq))

	step := 1
	now := time.Now()
	en := &cadence.Enrollment{SequenceID: seq.ID, TargetID: "t", Status: cadence.EnrollmentActive, CurrentStep: &step, NextActionAt: &now}
	require.NoError(t, s.CreateEnrollment(ctx, en))

	err := s.SaveProgress(ctx, en, now)
	assert.True(t, errors.IsSchedulingConflict(err))

	ok, err := s.ClaimEnrollment(ctx, en.ID, 1, now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ClaimEnrollment(ctx, en.ID, 2, now, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "step mismatch")

	en.Status = cadence.EnrollmentCompleted
	en.CurrentStep = nil
	en.NextActionAt = nil
	require.NoError(t, s.SaveProgress(ctx, en, now))

	stored, err := s.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.EnrolledCount)
	assert.Equal(t, int64(1), stored.CompletedCount)
}

func TestUpdateStatusRespectsLiveClaim(t *testing.T) {
	ctx := context.Background()
	s := New()
	seq := &cadence.Sequence{Name: "s", IsActive: true}
	require.NoError(t, s.CreateSequence(ctx, seq))

	step := 1
	now := time.Now()
	en := &cadence.Enrollment{SequenceID: seq.ID, TargetID: "t", Status: cadence.EnrollmentActive, CurrentStep: &step, NextActionAt: &now}
	require.NoError(t, s.CreateEnrollment(ctx, en))

	ok, err := s.ClaimEnrollment(ctx, en.ID, 1, now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	paused := *en
	paused.Status = cadence.EnrollmentPaused
	paused.NextActionAt = nil
	ok, err = s.UpdateStatus(ctx, &paused, cadence.EnrollmentActive, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "claim is still live")

	ok, err = s.UpdateStatus(ctx, &paused, cadence.EnrollmentActive, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "claim is stale")

	stored, err := s.GetEnrollment(ctx, en.ID)
	require.NoError(t, err)
	assert.Equal(t, cadence.EnrollmentPaused, stored.Status)
	assert.Nil(t, stored.ClaimedAt)
}

func TestListStaleExecutions(t *testing.T) {
	ctx := context.Background()
	s := New()
	rule := &automation.Rule{Name: "r", TriggerType: automation.LeadCreated}
	require.NoError(t, s.CreateRule(ctx, rule))

	now := time.Now()
	var ids []string
	for _, started := range []time.Duration{-2 * time.Hour, -time.Hour, -time.Second} {
		exec := &automation.Execution{RuleID: rule.ID, Status: automation.StatusPending}
		require.NoError(t, s.CreateExecution(ctx, exec))
		ok, err := s.ClaimExecution(ctx, exec.ID, now.Add(started))
		require.NoError(t, err)
		require.True(t, ok)
		ids = append(ids, exec.ID)
	}
	pending := &automation.Execution{RuleID: rule.ID, Status: automation.StatusPending}
	require.NoError(t, s.CreateExecution(ctx, pending))

	stale, err := s.ListStaleExecutions(ctx, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, ids[0], stale[0].ID)
	assert.Equal(t, ids[1], stale[1].ID)

	stale, err = s.ListStaleExecutions(ctx, now.Add(-time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}
