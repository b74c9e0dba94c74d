// Package scheduler drives the periodic sweeps: deferred rule executions and due cadence steps.
//
// Each job runs on a cron spec. Overlapping ticks in one process are skipped by the cron chain;
// overlapping ticks across processes are skipped by a named lease.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"crmflow/internal/lock"
	"crmflow/internal/logger"
	"crmflow/pkg/errreport"
	"crmflow/pkg/metrics"
)

// Job is one named sweep. Run receives a context bounded by Timeout.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Scheduler struct {
	cron     *cron.Cron
	locker   lock.Locker
	lockTTL  time.Duration
	reporter errreport.Reporter
	logger   logger.Logger
	jobs     map[string]Job
	baseCtx  context.Context
}

type Option func(*Scheduler)

func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = l
		s.lockTTL = ttl
	}
}

func WithReporter(r errreport.Reporter) Option {
	return func(s *Scheduler) {
		s.reporter = r
	}
}

func New(log logger.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = logger.NopLogger()
	}
	s := &Scheduler{
		locker:   lock.Noop{},
		lockTTL:  time.Minute,
		reporter: errreport.Noop{},
		logger:   log,
		jobs:     make(map[string]Job),
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{log: log}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job requires a name and a run function")
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { _ = s.execute(s.baseCtx, job) }); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
	}
	s.jobs[job.Name] = job
	return nil
}

// Trigger runs a registered job immediately, outside its schedule, still honouring the lease.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	return s.execute(ctx, job)
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.baseCtx = ctx
	s.cron.Start()
	s.logger.Infow("Scheduler started", "jobs", len(s.jobs))

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) execute(ctx context.Context, job Job) (err error) {
	start := time.Now()
	status := "success"
	defer func() {
		metrics.ObserveSchedulerRun(job.Name, status, time.Since(start))
	}()

	lease, err := s.locker.Acquire(ctx, job.Name, s.lockTTL)
	if err != nil {
		status = "error"
		s.logger.ErrorwCtx(ctx, "Failed to acquire scheduler lock", "job", job.Name, "error", err)
		return err
	}
	if lease == nil {
		status = "skipped"
		s.logger.DebugwCtx(ctx, "Job is running elsewhere, skipping", "job", job.Name)
		return nil
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logger.WarnwCtx(ctx, "Failed to release scheduler lock", "job", job.Name, "error", relErr)
		}
	}()

	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	if err = job.Run(runCtx); err != nil {
		status = "error"
		s.logger.ErrorwCtx(ctx, "Scheduled job failed", "job", job.Name, "error", err)
		s.reporter.Capture(ctx, err, map[string]string{"job": job.Name})
		return err
	}
	return nil
}

// cronLogger adapts the service logger to cron's logging interface.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
