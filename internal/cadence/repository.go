package cadence

import (
	"context"
	"time"
)

type Repository interface {
	GetSequence(ctx context.Context, id string) (*Sequence, error)
	ListActiveSequences(ctx context.Context) ([]Sequence, error)
	// GetSteps resolves step ids. Unknown ids are skipped.
	GetSteps(ctx context.Context, ids []string) ([]Step, error)

	// CreateEnrollment inserts an active enrollment and bumps the sequence's enrolled_count.
	// A second active enrollment for the same sequence and target fails with
	// errors.ErrSchedulingConflict.
	CreateEnrollment(ctx context.Context, e *Enrollment) error
	GetEnrollment(ctx context.Context, id string) (*Enrollment, error)
	ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]Enrollment, error)
	// ListDueEnrollments returns active enrollments with next_action_at <= now, oldest first.
	ListDueEnrollments(ctx context.Context, now time.Time, limit int) ([]Enrollment, error)

	// ClaimEnrollment marks an active enrollment still at step as in progress. Claims older than
	// staleBefore are considered abandoned and may be taken over. It returns false when the
	// enrollment moved on or is claimed by another worker.
	ClaimEnrollment(ctx context.Context, id string, step int, now, staleBefore time.Time) (bool, error)
	// SaveProgress persists the enrollment after a step and releases the claim taken at claimedAt.
	// It fails with errors.ErrSchedulingConflict when the enrollment left the active state or the
	// claim was taken over meanwhile. Completing bumps the sequence's completed_count.
	SaveProgress(ctx context.Context, e *Enrollment, claimedAt time.Time) error
	// UpdateStatus applies a pause, resume, cancel or completion if the stored status is still
	// from and no claim newer than staleBefore is held. It returns false otherwise.
	UpdateStatus(ctx context.Context, e *Enrollment, from EnrollmentStatus, staleBefore time.Time) (bool, error)
}

// Store adds the configuration writes used by the management API.
type Store interface {
	Repository
	ListSequences(ctx context.Context, limit, offset int) ([]Sequence, error)
	CreateSequence(ctx context.Context, seq *Sequence) error
	UpdateSequence(ctx context.Context, seq *Sequence) error
	DeleteSequence(ctx context.Context, id string) error
	GetStep(ctx context.Context, id string) (*Step, error)
	// CreateStep appends the step id to its sequence. Order must be unique within the sequence.
	CreateStep(ctx context.Context, step *Step) error
	UpdateStep(ctx context.Context, step *Step) error
	DeleteStep(ctx context.Context, id string) error
}
