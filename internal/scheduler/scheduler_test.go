package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/actions"
	"crmflow/internal/actions/actionstest"
	"crmflow/internal/cadence"
	"crmflow/internal/lock"
	"crmflow/internal/logger"
	"crmflow/internal/store/memory"
	"crmflow/pkg/clock"
)

type capturingReporter struct {
	errs []error
}

func (r *capturingReporter) Capture(_ context.Context, err error, _ map[string]string) {
	r.errs = append(r.errs, err)
}

func (r *capturingReporter) CapturePanic(context.Context, interface{}, map[string]string) {}

func (r *capturingReporter) Flush(time.Duration) bool { return true }

func TestAddRejectsBadJobs(t *testing.T) {
	s := New(logger.NopLogger())
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Job{Name: "bad", Spec: "not a spec", Run: noop}))
	assert.Error(t, s.Add(Job{Spec: "@every 1m", Run: noop}))
	require.NoError(t, s.Add(Job{Name: "ok", Spec: "@every 1m", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "ok", Spec: "@every 1m", Run: noop}))
	assert.Error(t, s.Trigger(context.Background(), "missing"))
}

func TestTriggerReportsFailures(t *testing.T) {
	reporter := &capturingReporter{}
	s := New(logger.NopLogger(), WithReporter(reporter))
	boom := errors.New("boom")
	require.NoError(t, s.Add(Job{Name: "failing", Spec: "@every 1m", Run: func(context.Context) error { return boom }}))

	assert.ErrorIs(t, s.Trigger(context.Background(), "failing"), boom)
	require.Len(t, reporter.errs, 1)
}

func TestHeldLeaseSkipsJob(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := lock.NewRedisLocker(client, logger.NopLogger())

	var runs atomic.Int32
	s := New(logger.NopLogger(), WithLocker(locker, time.Minute))
	require.NoError(t, s.Add(Job{Name: "sweep", Spec: "@every 1m", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	ctx := context.Background()
	held, err := locker.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	require.NoError(t, s.Trigger(ctx, "sweep"))
	assert.Equal(t, int32(0), runs.Load())

	require.NoError(t, held.Release(ctx))
	require.NoError(t, s.Trigger(ctx, "sweep"))
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, mr.Exists("crmflow:lock:sweep"), "lease released after the run")
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(logger.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestCadenceJobAdvancesDueEnrollments(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	lead := &actions.Target{Type: "lead", ID: "lead-1", FirstName: "Ana", Email: "ana@example.com"}
	svc := actionstest.NewServices(lead)
	clk := clock.NewFake(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))

	seq := &cadence.Sequence{Name: "welcome", IsActive: true}
	require.NoError(t, store.CreateSequence(ctx, seq))
	require.NoError(t, store.CreateStep(ctx, &cadence.Step{SequenceID: seq.ID, Order: 1, ActionType: actions.SendEmail,
		Config: &actions.EmailConfig{Subject: "Hi", Content: "Hello"}}))

	deps := svc.Dependencies()
	deps.Clock = clk
	engine := cadence.NewEngine(store, svc.Leads, actions.NewRegistry(deps), logger.NopLogger(), cadence.WithClock(clk))
	_, err := engine.Enroll(ctx, "lead", "lead-1", seq.ID, "u-1")
	require.NoError(t, err)

	s := New(logger.NopLogger())
	require.NoError(t, s.Add(CadenceJob("@every 1m", engine, clk, logger.NopLogger())))
	require.NoError(t, s.Trigger(ctx, "cadence-due"))

	assert.Equal(t, 1, svc.Email.Count())
}
