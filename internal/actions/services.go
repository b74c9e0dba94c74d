package actions

import (
	"context"
	"time"
)

type SenderOverride struct {
	FromEmail string
	FromName  string
	ReplyTo   string
}

type EmailMessage struct {
	ToAddress   string
	ToName      string
	Subject     string
	HTMLContent string
	Sender      *SenderOverride
}

type SendResult struct {
	Success bool
	Message string
}

type EmailService interface {
	Send(ctx context.Context, msg EmailMessage) SendResult
}

type TaskRequest struct {
	Title       string
	Description string
	AssignedTo  string
	DueDate     time.Time
	Priority    string
	TaskType    string
	LeadID      string
}

type TaskService interface {
	Create(ctx context.Context, req TaskRequest) (taskID string, err error)
}

// LeadStore applies the lead mutations automation actions are allowed to make.
type LeadStore interface {
	UpdateStatus(ctx context.Context, leadID, status string) error
	MoveStage(ctx context.Context, leadID, stageID string) error
	Assign(ctx context.Context, leadID, userID string) error
	AddTag(ctx context.Context, leadID, tagID string) error
	RemoveTag(ctx context.Context, leadID, tagID string) error
}

type OpportunityRequest struct {
	Title      string
	Value      float64
	StageID    string
	LeadID     string
	AssignedTo string
}

type OpportunityService interface {
	Create(ctx context.Context, req OpportunityRequest) (opportunityID string, err error)
}

type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// MessagingService delivers a text message. to is always an E.164 number.
type MessagingService interface {
	Send(ctx context.Context, channel Channel, to, body string) error
}

type WebhookResponse struct {
	Success    bool
	StatusCode int
	Body       string
	Error      string
}

type WebhookCaller interface {
	Call(ctx context.Context, url, method string, payload []byte, timeout time.Duration) WebhookResponse
}
