// Package actionstest provides in-memory collaborators for exercising action handlers.
package actionstest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crmflow/internal/actions"
	"crmflow/pkg/errors"
)

type EmailService struct {
	mu   sync.Mutex
	Sent []actions.EmailMessage
	Fail string
}

func (s *EmailService) Send(_ context.Context, msg actions.EmailMessage) actions.SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != "" {
		return actions.SendResult{Success: false, Message: s.Fail}
	}
	s.Sent = append(s.Sent, msg)
	return actions.SendResult{Success: true, Message: "queued"}
}

func (s *EmailService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

type TaskService struct {
	mu      sync.Mutex
	Created []actions.TaskRequest
	Err     error
}

func (s *TaskService) Create(_ context.Context, req actions.TaskRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.Created = append(s.Created, req)
	return fmt.Sprintf("task-%d", len(s.Created)), nil
}

func (s *TaskService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Created)
}

type OpportunityService struct {
	mu      sync.Mutex
	Created []actions.OpportunityRequest
}

func (s *OpportunityService) Create(_ context.Context, req actions.OpportunityRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Created = append(s.Created, req)
	return fmt.Sprintf("opp-%d", len(s.Created)), nil
}

type Message struct {
	Channel actions.Channel
	To      string
	Body    string
}

type MessagingService struct {
	mu   sync.Mutex
	Sent []Message
	Err  error
}

func (s *MessagingService) Send(_ context.Context, channel actions.Channel, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Sent = append(s.Sent, Message{Channel: channel, To: to, Body: body})
	return nil
}

type WebhookCall struct {
	URL     string
	Method  string
	Payload []byte
	Timeout time.Duration
}

type WebhookCaller struct {
	mu       sync.Mutex
	Calls    []WebhookCall
	Response actions.WebhookResponse
}

func (c *WebhookCaller) Call(_ context.Context, url, method string, payload []byte, timeout time.Duration) actions.WebhookResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, WebhookCall{URL: url, Method: method, Payload: payload, Timeout: timeout})
	if c.Response.StatusCode == 0 && c.Response.Error == "" {
		return actions.WebhookResponse{Success: true, StatusCode: 200}
	}
	return c.Response
}

// Leads is an in-memory lead table that doubles as a TargetResolver and LeadStore.
type Leads struct {
	mu    sync.Mutex
	leads map[string]*actions.Target
	// PanicOn makes the named mutation panic, for exercising recovery.
	PanicOn string
}

func NewLeads(targets ...*actions.Target) *Leads {
	l := &Leads{leads: make(map[string]*actions.Target)}
	for _, t := range targets {
		l.Put(t)
	}
	return l
}

func (l *Leads) Put(t *actions.Target) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *t
	if cp.Type == "" {
		cp.Type = "lead"
	}
	l.leads[cp.ID] = &cp
}

func (l *Leads) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leads, id)
}

func (l *Leads) Get(id string) (actions.Target, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.leads[id]
	if !ok {
		return actions.Target{}, false
	}
	return *t, true
}

func (l *Leads) Resolve(_ context.Context, targetType, targetID string) (*actions.Target, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.leads[targetID]
	if !ok || (targetType != "" && t.Type != targetType) {
		return nil, errors.ErrTargetNotFound.WithDetail("target_id", targetID)
	}
	cp := *t
	cp.Tags = append([]string(nil), t.Tags...)
	return &cp, nil
}

func (l *Leads) mutate(op, id string, fn func(t *actions.Target)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.PanicOn == op {
		panic(op + " exploded")
	}
	t, ok := l.leads[id]
	if !ok {
		return errors.ErrTargetNotFound.WithDetail("target_id", id)
	}
	fn(t)
	return nil
}

func (l *Leads) UpdateStatus(_ context.Context, id, status string) error {
	return l.mutate("status", id, func(t *actions.Target) { t.Status = status })
}

func (l *Leads) MoveStage(_ context.Context, id, stageID string) error {
	return l.mutate("stage", id, func(t *actions.Target) { t.StageID = stageID })
}

func (l *Leads) Assign(_ context.Context, id, userID string) error {
	return l.mutate("assign", id, func(t *actions.Target) { t.AssignedTo = userID })
}

func (l *Leads) AddTag(_ context.Context, id, tagID string) error {
	return l.mutate("add_tag", id, func(t *actions.Target) {
		if !t.HasTag(tagID) {
			t.Tags = append(t.Tags, tagID)
		}
	})
}

func (l *Leads) RemoveTag(_ context.Context, id, tagID string) error {
	return l.mutate("remove_tag", id, func(t *actions.Target) {
		kept := t.Tags[:0]
		for _, tag := range t.Tags {
			if tag != tagID {
				kept = append(kept, tag)
			}
		}
		t.Tags = kept
	})
}

// Services bundles one of every fake.
type Services struct {
	Email         *EmailService
	Tasks         *TaskService
	Opportunities *OpportunityService
	Messaging     *MessagingService
	Webhooks      *WebhookCaller
	Leads         *Leads
}

func NewServices(targets ...*actions.Target) *Services {
	return &Services{
		Email:         &EmailService{},
		Tasks:         &TaskService{},
		Opportunities: &OpportunityService{},
		Messaging:     &MessagingService{},
		Webhooks:      &WebhookCaller{},
		Leads:         NewLeads(targets...),
	}
}

func (s *Services) Dependencies() actions.Dependencies {
	return actions.Dependencies{
		Email:         s.Email,
		Tasks:         s.Tasks,
		Leads:         s.Leads,
		Opportunities: s.Opportunities,
		Messaging:     s.Messaging,
		Webhooks:      s.Webhooks,
		DefaultRegion: "US",
	}
}
