package cadence

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"crmflow/internal/actions"
	"crmflow/internal/automation"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/clock"
	"crmflow/pkg/errors"
	"crmflow/pkg/logging"
	"crmflow/pkg/metrics"
	"crmflow/pkg/tracing"
)

// AutoEnrolledBy is recorded as EnrolledBy for enrollments created from trigger events.
const AutoEnrolledBy = "automation"

// EnrollmentObserver is notified after an enrollment was created or advanced.
type EnrollmentObserver interface {
	EnrollmentChanged(ctx context.Context, e *Enrollment, step *Step, result *actions.Result)
}

type Engine struct {
	repo       Repository
	targets    actions.TargetResolver
	registry   *actions.Registry
	clock      clock.Clock
	logger     logger.Logger
	batchSize  int
	claimStale time.Duration
	observers  []EnrollmentObserver
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithClaimStaleAfter sets how long a claim may be held before another worker takes it over.
func WithClaimStaleAfter(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.claimStale = d
		}
	}
}

func WithObserver(o EnrollmentObserver) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

func NewEngine(repo Repository, targets actions.TargetResolver, registry *actions.Registry, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		targets:    targets,
		registry:   registry,
		clock:      clock.Real{},
		logger:     log,
		batchSize:  constants.DefaultSweepBatchSize,
		claimStale: constants.DefaultClaimStaleSeconds * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enroll starts targetID on the first step of the sequence.
func (e *Engine) Enroll(ctx context.Context, targetType, targetID, sequenceID, enrolledBy string) (string, error) {
	ctx, span := tracing.GetTracer("cadence").Start(ctx, "cadence.enroll")
	defer span.End()

	seq, steps, err := e.loadSequence(ctx, sequenceID)
	if err != nil {
		return "", err
	}
	if !seq.IsActive {
		return "", errors.ErrValidation.WithDetail("message", fmt.Sprintf("sequence %s is not active", seq.ID))
	}
	if len(steps) == 0 {
		return "", errors.ErrValidation.WithDetail("message", fmt.Sprintf("sequence %s has no steps", seq.ID))
	}
	if targetID == "" {
		return "", errors.ErrValidation.WithDetail("message", "target_id is required").WithDetail("field", "target_id")
	}
	if e.targets != nil {
		if _, err := e.targets.Resolve(ctx, targetType, targetID); err != nil {
			return "", err
		}
	}

	now := e.clock.Now()
	first := 1
	next := now.Add(steps[0].Delay())
	enrollment := &Enrollment{
		ID:           uuid.New().String(),
		SequenceID:   seq.ID,
		TargetType:   targetType,
		TargetID:     targetID,
		Status:       EnrollmentActive,
		CurrentStep:  &first,
		NextActionAt: &next,
		EnrolledAt:   now,
		EnrolledBy:   enrolledBy,
		UpdatedAt:    now,
	}
	if err := e.repo.CreateEnrollment(ctx, enrollment); err != nil {
		return "", err
	}

	span.SetAttributes(attribute.String("enrollment.id", enrollment.ID))
	metrics.IncEnrollmentTransition("enrolled")
	e.logger.InfowCtx(logging.WithEnrollmentID(ctx, enrollment.ID), "Target enrolled",
		"sequence_id", seq.ID,
		"target_type", targetType,
		"target_id", targetID,
		"next_action_at", next,
	)
	e.notify(ctx, enrollment, nil, nil)
	return enrollment.ID, nil
}

// AutoEnroll enrolls the event's target into every active sequence whose trigger_conditions name
// this trigger and whose remaining conditions match the payload. Existing active enrollments are
// left alone.
func (e *Engine) AutoEnroll(ctx context.Context, trigger string, payload map[string]any) ([]string, error) {
	targetType, targetID := automation.TargetRef(payload)
	if targetID == "" {
		return nil, nil
	}

	sequences, err := e.repo.ListActiveSequences(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}

	var ids []string
	var errs []error
	for _, seq := range sequences {
		if !autoEnrolls(seq, trigger, payload) {
			continue
		}
		id, err := e.Enroll(ctx, targetType, targetID, seq.ID, AutoEnrolledBy)
		switch {
		case err == nil:
			ids = append(ids, id)
		case errors.IsSchedulingConflict(err):
			e.logger.DebugwCtx(ctx, "Target already enrolled, skipping",
				"sequence_id", seq.ID,
				"target_id", targetID,
			)
		default:
			errs = append(errs, fmt.Errorf("sequence %s: %w", seq.ID, err))
		}
	}
	return ids, stderrors.Join(errs...)
}

func autoEnrolls(seq Sequence, trigger string, payload map[string]any) bool {
	want, ok := seq.TriggerConditions[TriggerTypeKey]
	if !ok || fmt.Sprint(want) != trigger {
		return false
	}
	rest := make(map[string]any, len(seq.TriggerConditions))
	for k, v := range seq.TriggerConditions {
		if k != TriggerTypeKey {
			rest[k] = v
		}
	}
	return automation.MatchConditions(rest, payload)
}

// ProcessDue advances every active enrollment whose next action is due at now. Each enrollment is
// claimed before its step runs; enrollments claimed elsewhere are skipped. A failed step still
// advances the enrollment.
func (e *Engine) ProcessDue(ctx context.Context, now time.Time) (ProcessResult, error) {
	ctx, span := tracing.GetTracer("cadence").Start(ctx, "cadence.process_due")
	defer span.End()

	var result ProcessResult
	due, err := e.repo.ListDueEnrollments(ctx, now, e.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list due enrollments: %w", err)
	}

	for i := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		enrollment := &due[i]
		outcome := e.processOne(logging.WithEnrollmentID(ctx, enrollment.ID), enrollment, now)
		switch outcome {
		case outcomeConflict:
			result.Conflicts++
		case outcomeFailed:
			result.Processed++
			result.Errors++
		case outcomeAdvanced:
			result.Processed++
		case outcomeError:
			result.Errors++
		}
	}

	span.SetAttributes(
		attribute.Int("enrollments.processed", result.Processed),
		attribute.Int("enrollments.errors", result.Errors),
	)
	return result, nil
}

type outcome int

const (
	outcomeAdvanced outcome = iota
	outcomeFailed
	outcomeConflict
	outcomeError
)

func (e *Engine) processOne(ctx context.Context, enrollment *Enrollment, now time.Time) outcome {
	if enrollment.CurrentStep == nil {
		e.logger.ErrorwCtx(ctx, "Active enrollment without current step")
		return outcomeError
	}
	stepIndex := *enrollment.CurrentStep

	seq, steps, err := e.loadSequence(ctx, enrollment.SequenceID)
	if err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to load sequence for enrollment", "error", err)
		return outcomeError
	}
	target, err := e.resolveTarget(ctx, enrollment)
	if err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to resolve enrollment target", "error", err)
		return outcomeError
	}

	claimed, err := e.repo.ClaimEnrollment(ctx, enrollment.ID, stepIndex, now, now.Add(-e.claimStale))
	if err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to claim enrollment", "error", err)
		return outcomeError
	}
	if !claimed {
		metrics.IncClaimConflict("enrollment")
		e.logger.InfowCtx(ctx, "Enrollment claimed by another worker, skipping", "step", stepIndex)
		return outcomeConflict
	}

	if stepIndex < 1 || stepIndex > len(steps) {
		enrollment.complete(now)
		return e.save(ctx, enrollment, now, nil, nil, false)
	}

	step := steps[stepIndex-1]
	vars := actions.BuildVars(map[string]any{
		"sequence_id":   seq.ID,
		"sequence_name": seq.Name,
		"enrollment_id": enrollment.ID,
		"step_order":    step.Order,
	}, target)

	var res *actions.Result
	failed := false
	if automation.MatchConditions(step.Conditions, vars) {
		r, execErr := e.registry.Execute(ctx, step.ActionType, step.Config, actions.Request{Target: target, Vars: vars})
		if execErr != nil {
			r.Success = false
		}
		res = &r
		enrollment.StepsCompleted++
		enrollment.countStep(step.ActionType)
		if r.Success {
			metrics.IncCadenceStep(string(step.ActionType), "success")
		} else {
			failed = true
			metrics.IncCadenceStep(string(step.ActionType), "failure")
			e.logger.WarnwCtx(ctx, "Cadence step failed, advancing anyway",
				"step", stepIndex,
				"action_type", step.ActionType,
				"message", r.Message,
				"error", execErr,
			)
		}
	} else {
		metrics.IncCadenceStep(string(step.ActionType), "skipped")
		e.logger.DebugwCtx(ctx, "Cadence step conditions unmet, skipping", "step", stepIndex)
	}

	nextIndex := stepIndex + 1
	if nextIndex > len(steps) {
		enrollment.complete(now)
	} else {
		next := now.Add(steps[nextIndex-1].Delay())
		enrollment.CurrentStep = &nextIndex
		enrollment.NextActionAt = &next
	}
	return e.save(ctx, enrollment, now, &step, res, failed)
}

func (e *Engine) save(ctx context.Context, enrollment *Enrollment, claimedAt time.Time, step *Step, res *actions.Result, failed bool) outcome {
	enrollment.ClaimedAt = nil
	enrollment.UpdatedAt = claimedAt
	if err := e.repo.SaveProgress(ctx, enrollment, claimedAt); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to save enrollment progress", "error", err)
		return outcomeError
	}

	if enrollment.Status == EnrollmentCompleted {
		metrics.IncEnrollmentTransition("completed")
		e.logger.InfowCtx(ctx, "Enrollment completed", "steps_completed", enrollment.StepsCompleted)
	} else {
		metrics.IncEnrollmentTransition("advanced")
	}
	e.notify(ctx, enrollment, step, res)

	if failed {
		return outcomeFailed
	}
	return outcomeAdvanced
}

// Pause stops an active enrollment from advancing until it is resumed.
func (e *Engine) Pause(ctx context.Context, enrollmentID string) (*Enrollment, error) {
	return e.transition(ctx, enrollmentID, EnrollmentActive, func(en *Enrollment, _ []Step, _ time.Time) {
		en.Status = EnrollmentPaused
		en.NextActionAt = nil
		en.ClaimedAt = nil
	})
}

// Resume reactivates a paused enrollment. The current step becomes due after its own delay,
// counted from now. An enrollment whose current step no longer exists is completed instead.
func (e *Engine) Resume(ctx context.Context, enrollmentID string) (*Enrollment, error) {
	return e.transition(ctx, enrollmentID, EnrollmentPaused, func(en *Enrollment, steps []Step, now time.Time) {
		if en.CurrentStep == nil || *en.CurrentStep < 1 || *en.CurrentStep > len(steps) {
			en.complete(now)
			return
		}
		next := now.Add(steps[*en.CurrentStep-1].Delay())
		en.Status = EnrollmentActive
		en.NextActionAt = &next
	})
}

// Cancel ends an active or paused enrollment. CurrentStep is kept for the audit trail.
func (e *Engine) Cancel(ctx context.Context, enrollmentID string) (*Enrollment, error) {
	en, err := e.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if en.Status.Terminal() {
		return nil, errors.ErrValidation.WithDetail("message", fmt.Sprintf("enrollment is already %s", en.Status))
	}
	return e.transition(ctx, enrollmentID, en.Status, func(en *Enrollment, _ []Step, _ time.Time) {
		en.Status = EnrollmentCancelled
		en.NextActionAt = nil
		en.ClaimedAt = nil
	})
}

func (e *Engine) transition(ctx context.Context, enrollmentID string, from EnrollmentStatus, apply func(*Enrollment, []Step, time.Time)) (*Enrollment, error) {
	en, err := e.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if en.Status != from {
		return nil, errors.ErrValidation.WithDetail("message", fmt.Sprintf("enrollment is %s, expected %s", en.Status, from))
	}

	var steps []Step
	if from == EnrollmentPaused {
		if _, steps, err = e.loadSequence(ctx, en.SequenceID); err != nil {
			return nil, err
		}
	}

	now := e.clock.Now()
	apply(en, steps, now)
	en.UpdatedAt = now

	// a step in flight must save its progress first
	ok, err := e.repo.UpdateStatus(ctx, en, from, now.Add(-e.claimStale))
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.IncClaimConflict("enrollment")
		return nil, errors.ErrSchedulingConflict.WithDetail("enrollment_id", enrollmentID).
			WithDetail("message", "enrollment changed or is running a step, retry shortly")
	}

	metrics.IncEnrollmentTransition(string(en.Status))
	e.logger.InfowCtx(logging.WithEnrollmentID(ctx, en.ID), "Enrollment status changed",
		"from", from,
		"to", en.Status,
	)
	e.notify(ctx, en, nil, nil)
	return en, nil
}

func (e *Engine) loadSequence(ctx context.Context, sequenceID string) (*Sequence, []Step, error) {
	seq, err := e.repo.GetSequence(ctx, sequenceID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := e.repo.GetSteps(ctx, seq.StepIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load steps: %w", err)
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return seq, steps, nil
}

// resolveTarget returns a nil target when the entity no longer exists; its steps then fail.
func (e *Engine) resolveTarget(ctx context.Context, en *Enrollment) (*actions.Target, error) {
	if e.targets == nil {
		return nil, nil
	}
	target, err := e.targets.Resolve(ctx, en.TargetType, en.TargetID)
	if err != nil {
		if errors.IsTargetNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return target, nil
}

func (e *Engine) notify(ctx context.Context, en *Enrollment, step *Step, res *actions.Result) {
	for _, o := range e.observers {
		o.EnrollmentChanged(ctx, en, step, res)
	}
}
