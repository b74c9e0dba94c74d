//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"crmflow/internal/actions"
	"crmflow/internal/actions/actionstest"
	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/internal/logger"
	"crmflow/internal/store/postgres"
	"crmflow/pkg/clock"
	"crmflow/pkg/errors"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase("crmflow_test"),
		postgresmodule.WithUsername("test_user"),
		postgresmodule.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", conn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, postgres.Migrate(db))
	require.NoError(t, postgres.Migrate(db), "migrating twice is a no-op")
	return db
}

func insertLead(t *testing.T, db *sql.DB, id, email, phone string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO leads (id, first_name, last_name, email, phone, origin, tags, attributes)
		VALUES ($1, 'Ana', 'Lima', $2, $3, 'website', '{vip}', '{"industry": "saas"}')
	`, id, email, phone)
	require.NoError(t, err)
}

func TestRuleAndActionPersistence(t *testing.T) {
	db := setupDB(t)
	store := postgres.New(db)
	ctx := context.Background()

	low := &automation.Rule{Name: "low", TriggerType: automation.LeadCreated, IsActive: true, Priority: 1,
		TriggerConditions: map[string]any{"origin": "website"},
		Filters:           map[string][]string{"origin": {"website"}}}
	high := &automation.Rule{Name: "high", TriggerType: automation.LeadCreated, IsActive: true, Priority: 5}
	off := &automation.Rule{Name: "off", TriggerType: automation.LeadCreated}
	for _, r := range []*automation.Rule{low, high, off} {
		require.NoError(t, store.CreateRule(ctx, r))
	}

	email := &automation.Action{RuleID: low.ID, Type: actions.SendEmail, Order: 1, IsActive: true,
		Config: &actions.EmailConfig{Subject: "Hi {{first_name}}", Content: "Welcome"}}
	tag := &automation.Action{RuleID: low.ID, Type: actions.AddTag, Order: 2, IsActive: true,
		Config: &actions.TagConfig{TagID: "t-1", Action: actions.AddTag}}
	require.NoError(t, store.CreateAction(ctx, email))
	require.NoError(t, store.CreateAction(ctx, tag))

	dup := &automation.Action{RuleID: low.ID, Type: actions.Wait, Order: 1, Config: &actions.WaitConfig{}}
	assert.True(t, errors.IsConflict(store.CreateAction(ctx, dup)))

	missing := &automation.Action{RuleID: "nope", Type: actions.Wait, Order: 1, Config: &actions.WaitConfig{}}
	assert.True(t, errors.IsNotFound(store.CreateAction(ctx, missing)))

	rules, err := store.ActiveRules(ctx, automation.LeadCreated)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "high", rules[0].Name)
	assert.Equal(t, "low", rules[1].Name)
	assert.Equal(t, []string{email.ID, tag.ID}, rules[1].ActionIDs)
	assert.Equal(t, "website", rules[1].TriggerConditions["origin"])
	assert.Equal(t, []string{"website"}, rules[1].Filters["origin"])

	got, err := store.GetActions(ctx, []string{tag.ID, "unknown", email.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, tag.ID, got[0].ID)
	assert.Equal(t, actions.AddTag, got[0].Config.Type())
	cfg, ok := got[1].Config.(*actions.EmailConfig)
	require.True(t, ok)
	assert.Equal(t, "Hi {{first_name}}", cfg.Subject)

	require.NoError(t, store.DeleteAction(ctx, email.ID))
	rule, err := store.GetRule(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{tag.ID}, rule.ActionIDs)

	require.NoError(t, store.DeleteRule(ctx, low.ID))
	_, err = store.GetAction(ctx, tag.ID)
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(store.DeleteRule(ctx, low.ID)))
}

func TestExecutionClaimIsExclusive(t *testing.T) {
	db := setupDB(t)
	store := postgres.New(db)
	ctx := context.Background()

	rule := &automation.Rule{Name: "r", TriggerType: automation.LeadCreated, IsActive: true}
	require.NoError(t, store.CreateRule(ctx, rule))
	exec := &automation.Execution{RuleID: rule.ID, TriggerType: automation.LeadCreated,
		TriggerData: map[string]any{"target_id": "lead-1"}, ScheduledAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.CreateExecution(ctx, exec))

	due, err := store.ListDueExecutions(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ClaimExecution(ctx, exec.ID, time.Now())
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	now := time.Now()
	exec.Status = automation.StatusFailed
	exec.CompletedAt = &now
	exec.Log = []automation.LogEntry{{ActionID: "a1", ActionType: actions.SendSMS, Timestamp: now, Error: "no phone"}}
	exec.ActionsExecuted, exec.ActionsFailed = 1, 1
	exec.ErrorMessage = "1 of 1 actions failed"
	require.NoError(t, store.FinishExecution(ctx, exec))
	assert.True(t, errors.IsSchedulingConflict(store.FinishExecution(ctx, exec)), "finish only once")

	stored, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, automation.StatusFailed, stored.Status)
	require.Len(t, stored.Log, 1)
	assert.Equal(t, "no phone", stored.Log[0].Error)

	r, err := store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.ExecutionCount)
	assert.Equal(t, int64(1), r.ErrorCount)
	assert.NotNil(t, r.LastExecutedAt)

	list, err := store.ListExecutions(ctx, automation.ExecutionFilter{RuleID: rule.ID, Status: automation.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDuplicateLiveEnrollmentIsRejected(t *testing.T) {
	db := setupDB(t)
	store := postgres.New(db)
	ctx := context.Background()

	seq := &cadence.Sequence{Name: "nurture", IsActive: true}
	require.NoError(t, store.CreateSequence(ctx, seq))

	step := 1
	now := time.Now()
	first := &cadence.Enrollment{SequenceID: seq.ID, TargetType: "lead", TargetID: "lead-1",
		Status: cadence.EnrollmentActive, CurrentStep: &step, NextActionAt: &now, EnrolledAt: now}
	require.NoError(t, store.CreateEnrollment(ctx, first))

	second := &cadence.Enrollment{SequenceID: seq.ID, TargetType: "lead", TargetID: "lead-1",
		Status: cadence.EnrollmentActive, CurrentStep: &step, NextActionAt: &now, EnrolledAt: now}
	assert.True(t, errors.IsSchedulingConflict(store.CreateEnrollment(ctx, second)))

	first.Status = cadence.EnrollmentCancelled
	first.NextActionAt = nil
	ok, err := store.UpdateStatus(ctx, first, cadence.EnrollmentActive, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	second.ID = ""
	require.NoError(t, store.CreateEnrollment(ctx, second), "a cancelled enrollment does not block")

	stored, err := store.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.EnrolledCount)
}

func TestCadenceRunsAgainstPostgres(t *testing.T) {
	db := setupDB(t)
	store := postgres.New(db)
	crm := postgres.NewCRM(db)
	ctx := context.Background()
	insertLead(t, db, "lead-1", "ana@example.com", "+14155552671")

	seq := &cadence.Sequence{Name: "onboarding", IsActive: true}
	require.NoError(t, store.CreateSequence(ctx, seq))
	require.NoError(t, store.CreateStep(ctx, &cadence.Step{SequenceID: seq.ID, Order: 1, ActionType: actions.SendEmail,
		Config: &actions.EmailConfig{Subject: "Welcome {first_name}", Content: "Hello"}}))
	require.NoError(t, store.CreateStep(ctx, &cadence.Step{SequenceID: seq.ID, Order: 2, DelayDays: 3,
		ActionType: actions.CreateTask, Config: &actions.TaskConfig{Title: "Call {full_name}", AssignedTo: "u-1", DueInDays: 1}}))

	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	svc := actionstest.NewServices()
	registry := actions.NewRegistry(actions.Dependencies{
		Email: svc.Email,
		Tasks: crm,
		Leads: crm,
		Clock: clk,
	})
	engine := cadence.NewEngine(store, crm, registry, logger.NopLogger(), cadence.WithClock(clk))

	id, err := engine.Enroll(ctx, "lead", "lead-1", seq.ID, "u-1")
	require.NoError(t, err)

	res, err := engine.ProcessDue(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	require.Equal(t, 1, svc.Email.Count())
	assert.Equal(t, "Welcome Ana", svc.Email.Sent[0].Subject)

	res, err = engine.ProcessDue(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	later := start.Add(72 * time.Hour)
	clk.Set(later)
	res, err = engine.ProcessDue(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	en, err := store.GetEnrollment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cadence.EnrollmentCompleted, en.Status)
	assert.Nil(t, en.CurrentStep)
	assert.Nil(t, en.NextActionAt)
	assert.Equal(t, 2, en.StepsCompleted)
	assert.Equal(t, 1, en.EmailsSent)
	assert.Equal(t, 1, en.TasksCreated)

	var title string
	require.NoError(t, db.QueryRow(`SELECT title FROM tasks WHERE lead_id = 'lead-1'`).Scan(&title))
	assert.Equal(t, "Call Ana Lima", title)
}

func TestCRMLeadMutations(t *testing.T) {
	db := setupDB(t)
	crm := postgres.NewCRM(db)
	ctx := context.Background()
	insertLead(t, db, "lead-1", "ana@example.com", "")

	require.NoError(t, crm.UpdateStatus(ctx, "lead-1", "qualified"))
	require.NoError(t, crm.AddTag(ctx, "lead-1", "hot"))
	require.NoError(t, crm.AddTag(ctx, "lead-1", "hot"))
	require.NoError(t, crm.RemoveTag(ctx, "lead-1", "vip"))
	require.NoError(t, crm.Assign(ctx, "lead-1", "u-9"))

	target, err := crm.Resolve(ctx, "lead", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "qualified", target.Status)
	assert.Equal(t, []string{"hot"}, target.Tags)
	assert.Equal(t, "u-9", target.AssignedTo)
	assert.Equal(t, "saas", target.Attributes["industry"])

	_, err = crm.Resolve(ctx, "lead", "missing")
	assert.True(t, errors.IsTargetNotFound(err))
	assert.True(t, errors.IsTargetNotFound(crm.MoveStage(ctx, "missing", "s-1")))

	oppID, err := crm.Opportunities().Create(ctx, actions.OpportunityRequest{Title: "Deal", Value: 1200, LeadID: "lead-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, oppID)
}

func TestUndecodableRowsFailInsteadOfBlocking(t *testing.T) {
	db := setupDB(t)
	store := postgres.New(db)
	crm := postgres.NewCRM(db)
	ctx := context.Background()
	insertLead(t, db, "lead-1", "ana@example.com", "")

	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	svc := actionstest.NewServices()
	registry := actions.NewRegistry(actions.Dependencies{Email: svc.Email, Tasks: crm, Leads: crm, Clock: clk})

	seq := &cadence.Sequence{Name: "legacy", IsActive: true}
	require.NoError(t, store.CreateSequence(ctx, seq))
	first := &cadence.Step{SequenceID: seq.ID, Order: 1, ActionType: actions.SendEmail,
		Config: &actions.EmailConfig{Subject: "Hi", Content: "Hello"}}
	require.NoError(t, store.CreateStep(ctx, first))
	require.NoError(t, store.CreateStep(ctx, &cadence.Step{SequenceID: seq.ID, Order: 2, DelayDays: 1,
		ActionType: actions.CreateTask, Config: &actions.TaskConfig{Title: "Call", AssignedTo: "u-1"}}))

	engine := cadence.NewEngine(store, crm, registry, logger.NopLogger(), cadence.WithClock(clk))
	id, err := engine.Enroll(ctx, "lead", "lead-1", seq.ID, "")
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE cadence_steps SET action_type = 'fax' WHERE id = $1`, first.ID)
	require.NoError(t, err)

	res, err := engine.ProcessDue(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, cadence.ProcessResult{Processed: 1, Errors: 1}, res)
	en, err := store.GetEnrollment(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, en.CurrentStep)
	assert.Equal(t, 2, *en.CurrentStep)
	assert.Zero(t, svc.Email.Count())

	rule := &automation.Rule{Name: "legacy", TriggerType: automation.LeadCreated, IsActive: true}
	require.NoError(t, store.CreateRule(ctx, rule))
	broken := &automation.Action{RuleID: rule.ID, Type: actions.SendEmail, Order: 1, IsActive: true,
		Config: &actions.EmailConfig{Subject: "Hi", Content: "Hello"}}
	require.NoError(t, store.CreateAction(ctx, broken))
	require.NoError(t, store.CreateAction(ctx, &automation.Action{RuleID: rule.ID, Type: actions.AddTag, Order: 2,
		IsActive: true, Config: &actions.TagConfig{TagID: "legacy", Action: actions.AddTag}}))
	_, err = db.Exec(`UPDATE automation_actions SET action_config = '{"content":"no subject"}' WHERE id = $1`, broken.ID)
	require.NoError(t, err)

	exec := &automation.Execution{RuleID: rule.ID, TriggerType: automation.LeadCreated, Status: automation.StatusPending,
		TargetType: "lead", TargetID: "lead-1", TriggerData: map[string]any{"target_id": "lead-1"}, ScheduledAt: start}
	require.NoError(t, store.CreateExecution(ctx, exec))

	runner := automation.NewRunner(store, store, crm, registry, logger.NopLogger(), automation.WithRunnerClock(clk))
	require.NoError(t, runner.Run(ctx, exec.ID))

	stored, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, automation.StatusFailed, stored.Status)
	assert.Equal(t, 2, stored.ActionsExecuted)
	assert.Equal(t, 1, stored.ActionsFailed)

	target, err := crm.Resolve(ctx, "lead", "lead-1")
	require.NoError(t, err)
	assert.Contains(t, target.Tags, "legacy")
}

func TestStatusChangeRefusedWhileClaimed(t *testing.T) {
	db := setupDB(t)
	store := postgres.New(db)
	ctx := context.Background()

	seq := &cadence.Sequence{Name: "claimed", IsActive: true}
	require.NoError(t, store.CreateSequence(ctx, seq))
	step := 1
	now := time.Now().UTC().Truncate(time.Microsecond)
	en := &cadence.Enrollment{SequenceID: seq.ID, TargetType: "lead", TargetID: "lead-1",
		Status: cadence.EnrollmentActive, CurrentStep: &step, NextActionAt: &now, EnrolledAt: now}
	require.NoError(t, store.CreateEnrollment(ctx, en))

	ok, err := store.ClaimEnrollment(ctx, en.ID, 1, now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	paused := *en
	paused.Status = cadence.EnrollmentPaused
	paused.NextActionAt = nil
	paused.ClaimedAt = nil
	ok, err = store.UpdateStatus(ctx, &paused, cadence.EnrollmentActive, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "live claim blocks the pause")

	ok, err = store.UpdateStatus(ctx, &paused, cadence.EnrollmentActive, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "stale claim does not")

	stored, err := store.GetEnrollment(ctx, en.ID)
	require.NoError(t, err)
	assert.Equal(t, cadence.EnrollmentPaused, stored.Status)
	assert.Nil(t, stored.ClaimedAt)
}
