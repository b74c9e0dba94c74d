// Package cadence drives targets through multi-step, time-delayed sequences.
package cadence

import (
	"time"

	"crmflow/internal/actions"
	"crmflow/internal/constants"
)

// TriggerTypeKey is the TriggerConditions key that makes a sequence auto-enroll on a trigger.
const TriggerTypeKey = "trigger_type"

type Sequence struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	TriggerConditions map[string]any `json:"trigger_conditions,omitempty"`
	IsActive          bool           `json:"is_active"`
	StepIDs           []string       `json:"step_ids"`
	EnrolledCount     int64          `json:"enrolled_count"`
	CompletedCount    int64          `json:"completed_count"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type Step struct {
	ID           string             `json:"id"`
	SequenceID   string             `json:"sequence_id"`
	Order        int                `json:"order"`
	DelayDays    int                `json:"delay_days"`
	DelayHours   int                `json:"delay_hours"`
	DelayMinutes int                `json:"delay_minutes"`
	ActionType   actions.ActionType `json:"action_type"`
	Config       actions.Config     `json:"action_config"`
	Conditions   map[string]any     `json:"conditions,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Delay is days*1440 + hours*60 + minutes, in minutes.
func (s Step) Delay() time.Duration {
	minutes := s.DelayDays*constants.MinutesPerDay + s.DelayHours*constants.MinutesPerHour + s.DelayMinutes
	return time.Duration(minutes) * time.Minute
}

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentCancelled
}

func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentActive, EnrollmentPaused, EnrollmentCompleted, EnrollmentCancelled:
		return true
	}
	return false
}

// Enrollment is a target's progress through a sequence. While Status is active, CurrentStep
// references an existing step and NextActionAt is set; otherwise NextActionAt is nil.
type Enrollment struct {
	ID             string           `json:"id"`
	SequenceID     string           `json:"sequence_id"`
	TargetType     string           `json:"target_type"`
	TargetID       string           `json:"target_id"`
	Status         EnrollmentStatus `json:"status"`
	CurrentStep    *int             `json:"current_step,omitempty"`
	NextActionAt   *time.Time       `json:"next_action_at,omitempty"`
	StepsCompleted int              `json:"steps_completed"`
	EmailsSent     int              `json:"emails_sent"`
	TasksCreated   int              `json:"tasks_created"`
	SMSSent        int              `json:"sms_sent"`
	WhatsAppSent   int              `json:"whatsapp_sent"`
	WebhooksCalled int              `json:"webhooks_called"`
	EnrolledAt     time.Time        `json:"enrolled_at"`
	EnrolledBy     string           `json:"enrolled_by,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	ClaimedAt      *time.Time       `json:"claimed_at,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// countStep bumps the progress counter of an attempted step's type. Like StepsCompleted it
// counts attempts, successful or not.
func (e *Enrollment) countStep(t actions.ActionType) {
	switch t {
	case actions.SendEmail:
		e.EmailsSent++
	case actions.CreateTask:
		e.TasksCreated++
	case actions.SendSMS:
		e.SMSSent++
	case actions.SendWhatsApp:
		e.WhatsAppSent++
	case actions.Webhook:
		e.WebhooksCalled++
	}
}

// complete moves the enrollment to its terminal completed state.
func (e *Enrollment) complete(now time.Time) {
	e.Status = EnrollmentCompleted
	e.CurrentStep = nil
	e.NextActionAt = nil
	e.CompletedAt = &now
}

type EnrollmentFilter struct {
	SequenceID string
	TargetID   string
	Status     EnrollmentStatus
	Limit      int
	Offset     int
}

// ProcessResult summarizes one ProcessDue sweep. Errors counts enrollments whose step failed or
// whose progress could not be saved.
type ProcessResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Conflicts int `json:"conflicts"`
}
