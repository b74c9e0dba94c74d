package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"

	"crmflow/internal/constants"
	"crmflow/internal/render"
)

var errInvalidNumber = errors.New("not a valid phone number")

type handlers struct {
	deps Dependencies
}

func (h *handlers) sendEmail(ctx context.Context, cfg *EmailConfig, req Request) Result {
	if req.Target == nil {
		return Failure("target not found")
	}
	if req.Target.Email == "" {
		return Failure("target %s has no email address", req.Target.ID)
	}
	if h.deps.Email == nil {
		return Failure("email service not configured")
	}

	msg := EmailMessage{
		ToAddress:   req.Target.Email,
		ToName:      req.Target.FullName(),
		Subject:     render.Render(cfg.Subject, req.Vars),
		HTMLContent: render.Render(cfg.Content, req.Vars),
	}
	if cfg.FromEmail != "" || cfg.FromName != "" || cfg.ReplyTo != "" {
		msg.Sender = &SenderOverride{FromEmail: cfg.FromEmail, FromName: cfg.FromName, ReplyTo: cfg.ReplyTo}
	}

	sent := h.deps.Email.Send(ctx, msg)
	if !sent.Success {
		return Failure("email to %s failed: %s", msg.ToAddress, sent.Message)
	}
	return Success("email sent to %s", msg.ToAddress)
}

func (h *handlers) createTask(ctx context.Context, cfg *TaskConfig, req Request) Result {
	if h.deps.Tasks == nil {
		return Failure("task service not configured")
	}

	assignee := cfg.AssignedTo
	leadID := ""
	if req.Target != nil {
		if assignee == "" {
			assignee = req.Target.AssignedTo
		}
		leadID = req.Target.ID
	}
	if assignee == "" {
		return Failure("task has no assignee and target has no owner")
	}

	priority := cfg.Priority
	if priority == "" {
		priority = "medium"
	}
	taskType := cfg.TaskType
	if taskType == "" {
		taskType = "follow_up"
	}

	taskID, err := h.deps.Tasks.Create(ctx, TaskRequest{
		Title:       render.Render(cfg.Title, req.Vars),
		Description: render.Render(cfg.Description, req.Vars),
		AssignedTo:  assignee,
		DueDate:     h.deps.Clock.Now().AddDate(0, 0, cfg.DueInDays),
		Priority:    priority,
		TaskType:    taskType,
		LeadID:      leadID,
	})
	if err != nil {
		return Failure("task creation failed: %v", err)
	}
	return Success("task %s created", taskID)
}

func (h *handlers) leadMutation(ctx context.Context, req Request, verb string, fn func(ctx context.Context, store LeadStore, leadID string) error) Result {
	if req.Target == nil {
		return Failure("target not found")
	}
	if h.deps.Leads == nil {
		return Failure("lead store not configured")
	}
	if err := fn(ctx, h.deps.Leads, req.Target.ID); err != nil {
		return Failure("%s failed for %s: %v", verb, req.Target.ID, err)
	}
	return Success("%s applied to %s", verb, req.Target.ID)
}

func (h *handlers) updateLeadStatus(ctx context.Context, cfg *StatusConfig, req Request) Result {
	return h.leadMutation(ctx, req, "status change to "+cfg.NewStatus, func(ctx context.Context, s LeadStore, id string) error {
		return s.UpdateStatus(ctx, id, cfg.NewStatus)
	})
}

func (h *handlers) moveLeadStage(ctx context.Context, cfg *StageConfig, req Request) Result {
	return h.leadMutation(ctx, req, "stage move to "+cfg.NewStageID, func(ctx context.Context, s LeadStore, id string) error {
		return s.MoveStage(ctx, id, cfg.NewStageID)
	})
}

func (h *handlers) assignUser(ctx context.Context, cfg *AssignConfig, req Request) Result {
	return h.leadMutation(ctx, req, "assignment to "+cfg.UserID, func(ctx context.Context, s LeadStore, id string) error {
		return s.Assign(ctx, id, cfg.UserID)
	})
}

func (h *handlers) addTag(ctx context.Context, cfg *TagConfig, req Request) Result {
	return h.leadMutation(ctx, req, "tag "+cfg.TagID, func(ctx context.Context, s LeadStore, id string) error {
		return s.AddTag(ctx, id, cfg.TagID)
	})
}

func (h *handlers) removeTag(ctx context.Context, cfg *TagConfig, req Request) Result {
	return h.leadMutation(ctx, req, "untag "+cfg.TagID, func(ctx context.Context, s LeadStore, id string) error {
		return s.RemoveTag(ctx, id, cfg.TagID)
	})
}

func (h *handlers) createOpportunity(ctx context.Context, cfg *OpportunityConfig, req Request) Result {
	if req.Target == nil {
		return Failure("target not found")
	}
	if h.deps.Opportunities == nil {
		return Failure("opportunity service not configured")
	}

	id, err := h.deps.Opportunities.Create(ctx, OpportunityRequest{
		Title:      render.Render(cfg.Title, req.Vars),
		Value:      cfg.Value,
		StageID:    cfg.StageID,
		LeadID:     req.Target.ID,
		AssignedTo: req.Target.AssignedTo,
	})
	if err != nil {
		return Failure("opportunity creation failed: %v", err)
	}
	return Success("opportunity %s created", id)
}

func (h *handlers) sendMessage(ctx context.Context, cfg *MessageConfig, req Request) Result {
	if req.Target == nil {
		return Failure("target not found")
	}
	if req.Target.Phone == "" {
		return Failure("target %s has no phone number", req.Target.ID)
	}
	if h.deps.Messaging == nil {
		return Failure("%s service not configured", cfg.Channel)
	}

	to, err := NormalizePhone(req.Target.Phone, h.deps.DefaultRegion)
	if err != nil {
		return Failure("invalid phone number for %s: %v", req.Target.ID, err)
	}

	if err := h.deps.Messaging.Send(ctx, cfg.Channel, to, render.Render(cfg.Content, req.Vars)); err != nil {
		return Failure("%s to %s failed: %v", cfg.Channel, to, err)
	}
	return Success("%s sent to %s", cfg.Channel, to)
}

func (h *handlers) callWebhook(ctx context.Context, cfg *WebhookConfig, req Request) Result {
	if h.deps.Webhooks == nil {
		return Failure("webhook caller not configured")
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	timeout := h.deps.DefaultWebhookTimeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if timeout > constants.MaxWebhookTimeout {
		timeout = constants.MaxWebhookTimeout
	}

	var body []byte
	if cfg.Payload != "" {
		body = []byte(renderPayload(cfg.Payload, req.Vars))
	} else {
		encoded, err := json.Marshal(req.Vars)
		if err != nil {
			return Failure("webhook payload encoding failed: %v", err)
		}
		body = encoded
	}

	resp := h.deps.Webhooks.Call(ctx, cfg.URL, method, body, timeout)
	if !resp.Success {
		if resp.Error != "" {
			return Failure("webhook %s %s failed: %s", method, cfg.URL, resp.Error)
		}
		return Failure("webhook %s %s returned status %d", method, cfg.URL, resp.StatusCode)
	}
	return Success("webhook %s %s returned status %d", method, cfg.URL, resp.StatusCode)
}

// wait never blocks; the delay is recorded for the audit trail only.
func (h *handlers) wait(_ context.Context, cfg *WaitConfig, _ Request) Result {
	return Success("wait of %d minutes recorded", cfg.WaitMinutes)
}

// NormalizePhone parses raw in the given default region and formats it as E.164.
func NormalizePhone(raw, region string) (string, error) {
	if region == "" {
		region = constants.DefaultPhoneRegion
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errInvalidNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// renderPayload escapes values when the payload template is a JSON object or array.
func renderPayload(payload string, vars map[string]any) string {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return render.RenderJSON(payload, vars)
	}
	return render.Render(payload, vars)
}
