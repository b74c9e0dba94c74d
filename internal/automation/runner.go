package automation

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"crmflow/internal/actions"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/clock"
	"crmflow/pkg/errors"
	"crmflow/pkg/logging"
	"crmflow/pkg/metrics"
	"crmflow/pkg/tracing"
)

// ExecutionObserver is notified after an execution reaches a terminal state.
type ExecutionObserver interface {
	ExecutionFinished(ctx context.Context, exec *Execution)
}

// RunStats summarizes one RunDue sweep.
type RunStats struct {
	Processed int
	Conflicts int
	Errors    int
	// Abandoned counts executions found stuck in running and marked failed.
	Abandoned int
}

const abandonedMessage = "execution abandoned while running"


type Runner struct {
	rules      RuleRepository
	executions ExecutionRepository
	targets    actions.TargetResolver
	registry   *actions.Registry
	clock      clock.Clock
	logger     logger.Logger
	observers  []ExecutionObserver
	staleAfter time.Duration
}

type RunnerOption func(*Runner)

func WithRunnerClock(c clock.Clock) RunnerOption {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithStaleExecutionTimeout sets how long an execution may stay running before RunDue fails it.
func WithStaleExecutionTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

func WithExecutionObserver(o ExecutionObserver) RunnerOption {
	return func(r *Runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

func NewRunner(rules RuleRepository, executions ExecutionRepository, targets actions.TargetResolver, registry *actions.Registry, log logger.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		rules:      rules,
		executions: executions,
		targets:    targets,
		registry:   registry,
		clock:      clock.Real{},
		logger:     log,
		staleAfter: constants.DefaultClaimStaleSeconds * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run claims the pending execution and attempts each of its rule's active actions once, in order.
// It returns an error matching errors.IsSchedulingConflict when the execution was claimed elsewhere.
// Everything the runner needs is loaded before the claim, so infrastructure errors leave the
// execution pending for the next sweep.
func (r *Runner) Run(ctx context.Context, executionID string) error {
	ctx = logging.WithExecutionID(ctx, executionID)
	ctx, span := tracing.GetTracer("automation").Start(ctx, "automation.run_execution")
	defer span.End()

	exec, err := r.executions.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution: %w", err)
	}
	if exec.Status != StatusPending {
		metrics.IncClaimConflict("execution")
		return errors.ErrSchedulingConflict.WithDetail("execution_id", executionID).WithDetail("status", string(exec.Status))
	}

	ctx = logging.WithRuleID(ctx, exec.RuleID)
	span.SetAttributes(
		attribute.String("execution.id", exec.ID),
		attribute.String("rule.id", exec.RuleID),
	)

	rule, err := r.rules.GetRule(ctx, exec.RuleID)
	if err != nil {
		return fmt.Errorf("failed to load rule: %w", err)
	}
	acts, err := r.rules.GetActions(ctx, rule.ActionIDs)
	if err != nil {
		return fmt.Errorf("failed to load actions: %w", err)
	}
	target, err := r.resolveTarget(ctx, exec.TargetType, exec.TargetID)
	if err != nil {
		return err
	}

	start := r.clock.Now()
	claimed, err := r.executions.ClaimExecution(ctx, exec.ID, start)
	if err != nil {
		return fmt.Errorf("failed to claim execution: %w", err)
	}
	if !claimed {
		metrics.IncClaimConflict("execution")
		r.logger.InfowCtx(ctx, "Execution claimed by another worker, skipping")
		return errors.ErrSchedulingConflict.WithDetail("execution_id", executionID)
	}
	exec.Status = StatusRunning
	exec.StartedAt = &start

	r.runActions(ctx, exec, acts, target)

	finished := r.clock.Now()
	exec.CompletedAt = &finished
	if exec.ActionsFailed > 0 {
		exec.Status = StatusFailed
		exec.ErrorMessage = fmt.Sprintf("%d of %d actions failed", exec.ActionsFailed, exec.ActionsExecuted)
		span.SetStatus(codes.Error, exec.ErrorMessage)
	} else {
		exec.Status = StatusCompleted
	}

	if err := r.executions.FinishExecution(ctx, exec); err != nil {
		r.logger.ErrorwCtx(ctx, "Failed to persist finished execution",
			"status", exec.Status,
			"error", err,
		)
		return fmt.Errorf("failed to finish execution: %w", err)
	}

	metrics.ObserveExecution(string(exec.Status), finished.Sub(start))
	r.logger.InfowCtx(ctx, "Execution finished",
		"status", exec.Status,
		"actions_executed", exec.ActionsExecuted,
		"actions_failed", exec.ActionsFailed,
	)

	r.notify(ctx, exec)
	return nil
}

func (r *Runner) notify(ctx context.Context, exec *Execution) {
	for _, o := range r.observers {
		o.ExecutionFinished(ctx, exec)
	}
}

func (r *Runner) runActions(ctx context.Context, exec *Execution, acts []Action, target *actions.Target) {
	sort.SliceStable(acts, func(i, j int) bool { return acts[i].Order < acts[j].Order })
	vars := actions.BuildVars(exec.TriggerData, target)

	for _, a := range acts {
		if !a.IsActive {
			continue
		}
		if !MatchConditions(a.Conditions, vars) {
			r.logger.DebugwCtx(ctx, "Action conditions unmet, skipping",
				"action_id", a.ID,
				"action_type", a.Type,
			)
			continue
		}

		res, err := r.registry.Execute(ctx, a.Type, a.Config, actions.Request{Target: target, Vars: vars})
		entry := LogEntry{
			ActionID:   a.ID,
			ActionType: a.Type,
			Timestamp:  r.clock.Now(),
			Success:    res.Success && err == nil,
			Message:    res.Message,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		exec.record(entry)

		if !entry.Success {
			r.logger.WarnwCtx(ctx, "Action failed",
				"action_id", a.ID,
				"action_type", a.Type,
				"message", res.Message,
				"error", err,
			)
		}
	}
}

// resolveTarget returns a nil target when the entity no longer exists.
func (r *Runner) resolveTarget(ctx context.Context, targetType, targetID string) (*actions.Target, error) {
	if r.targets == nil || targetID == "" {
		return nil, nil
	}
	target, err := r.targets.Resolve(ctx, targetType, targetID)
	if err != nil {
		if errors.IsTargetNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve target: %w", err)
	}
	return target, nil
}

// FailStale marks executions that stayed running past the stale timeout as failed, settling their
// rule counters. Their action log is whatever was persisted, usually empty, so they are the one
// failed state with actions_failed == 0.
func (r *Runner) FailStale(ctx context.Context, now time.Time, limit int) (int, error) {
	stale, err := r.executions.ListStaleExecutions(ctx, now.Add(-r.staleAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale executions: %w", err)
	}

	failed := 0
	var errs []error
	for i := range stale {
		exec := &stale[i]
		exec.Status = StatusFailed
		exec.CompletedAt = &now
		exec.ErrorMessage = abandonedMessage

		ctx := logging.WithRuleID(logging.WithExecutionID(ctx, exec.ID), exec.RuleID)
		if err := r.executions.FinishExecution(ctx, exec); err != nil {
			if !errors.IsSchedulingConflict(err) {
				errs = append(errs, fmt.Errorf("execution %s: %w", exec.ID, err))
			}
			continue
		}
		failed++
		if exec.StartedAt != nil {
			metrics.ObserveExecution(string(exec.Status), now.Sub(*exec.StartedAt))
		}
		r.logger.WarnwCtx(ctx, "Execution abandoned while running, marked failed", "started_at", exec.StartedAt)
		r.notify(ctx, exec)
	}
	return failed, stderrors.Join(errs...)
}

// RunDue fails stale running executions, then runs pending executions scheduled at or before now.
// Lost claims are counted, not retried.
func (r *Runner) RunDue(ctx context.Context, now time.Time, limit int) (RunStats, error) {
	var stats RunStats

	abandoned, err := r.FailStale(ctx, now, limit)
	stats.Abandoned = abandoned
	if err != nil {
		r.logger.ErrorwCtx(ctx, "Failed to settle stale executions", "error", err)
	}

	due, err := r.executions.ListDueExecutions(ctx, now, limit)
	if err != nil {
		return stats, fmt.Errorf("failed to list due executions: %w", err)
	}

	for _, exec := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		err := r.Run(ctx, exec.ID)
		switch {
		case err == nil:
			stats.Processed++
		case errors.IsSchedulingConflict(err):
			stats.Conflicts++
		default:
			stats.Errors++
			r.logger.ErrorwCtx(ctx, "Deferred execution failed to run",
				"execution_id", exec.ID,
				"error", err,
			)
		}
	}
	return stats, nil
}
