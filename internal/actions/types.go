// Package actions holds the executors for every automation action type.
//
// Each ActionType maps to exactly one Handler through a Registry. Handlers receive a typed Config
// that was decoded and validated when the owning rule or cadence step was saved, plus the resolved
// target of the execution. They report failure through Result and never panic past Registry.Execute.
package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type ActionType string

const (
	SendEmail         ActionType = "send_email"
	CreateTask        ActionType = "create_task"
	UpdateLeadStatus  ActionType = "update_lead_status"
	MoveLeadStage     ActionType = "move_lead_stage"
	AssignUser        ActionType = "assign_user"
	AddTag            ActionType = "add_tag"
	RemoveTag         ActionType = "remove_tag"
	CreateOpportunity ActionType = "create_opportunity"
	SendSMS           ActionType = "send_sms"
	SendWhatsApp      ActionType = "send_whatsapp"
	Webhook           ActionType = "webhook"
	Wait              ActionType = "wait"
)

var allActionTypes = []ActionType{
	SendEmail, CreateTask, UpdateLeadStatus, MoveLeadStage, AssignUser, AddTag,
	RemoveTag, CreateOpportunity, SendSMS, SendWhatsApp, Webhook, Wait,
}

func AllActionTypes() []ActionType {
	out := make([]ActionType, len(allActionTypes))
	copy(out, allActionTypes)
	return out
}

func (t ActionType) Valid() bool {
	_, ok := configFactories[t]
	return ok
}

func ParseActionType(s string) (ActionType, error) {
	t := ActionType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown action type %q", s)
	}
	return t, nil
}

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func Success(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

func Failure(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Request is everything a handler may look at besides its own config.
type Request struct {
	// Target is nil when the referenced entity no longer exists.
	Target *Target
	// Vars is the template context: the triggering payload overlaid with target fields.
	Vars map[string]any
}

type Handler func(ctx context.Context, cfg Config, req Request) Result

// Target is the CRM entity an execution or enrollment acts upon. Only the fields the engine
// reads or writes are modelled; everything else travels in Attributes.
type Target struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	FirstName  string         `json:"first_name,omitempty"`
	LastName   string         `json:"last_name,omitempty"`
	Email      string         `json:"email,omitempty"`
	Phone      string         `json:"phone,omitempty"`
	Company    string         `json:"company,omitempty"`
	Status     string         `json:"status,omitempty"`
	StageID    string         `json:"stage_id,omitempty"`
	Origin     string         `json:"origin,omitempty"`
	AssignedTo string         `json:"assigned_to,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (t *Target) FullName() string {
	return strings.TrimSpace(t.FirstName + " " + t.LastName)
}

// Field resolves a filterable field by name. The second return value is false when the
// target does not carry the field at all.
func (t *Target) Field(name string) (string, bool) {
	if t == nil {
		return "", false
	}
	switch name {
	case "id":
		return t.ID, true
	case "type":
		return t.Type, true
	case "status":
		return t.Status, t.Status != ""
	case "stage_id":
		return t.StageID, t.StageID != ""
	case "origin":
		return t.Origin, t.Origin != ""
	case "assigned_to":
		return t.AssignedTo, t.AssignedTo != ""
	case "email":
		return t.Email, t.Email != ""
	case "company":
		return t.Company, t.Company != ""
	}
	v, ok := t.Attributes[name]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

func (t *Target) HasTag(tagID string) bool {
	if t == nil {
		return false
	}
	for _, tag := range t.Tags {
		if tag == tagID {
			return true
		}
	}
	return false
}

// TemplateVars is the render context derived from the target.
func (t *Target) TemplateVars() map[string]any {
	if t == nil {
		return map[string]any{}
	}
	vars := make(map[string]any, len(t.Attributes)+12)
	for k, v := range t.Attributes {
		vars[k] = v
	}
	vars["target_type"] = t.Type
	vars["target_id"] = t.ID
	vars["first_name"] = t.FirstName
	vars["last_name"] = t.LastName
	vars["full_name"] = t.FullName()
	vars["email"] = t.Email
	vars["phone"] = t.Phone
	vars["company"] = t.Company
	vars["status"] = t.Status
	vars["stage_id"] = t.StageID
	vars["origin"] = t.Origin
	vars["assigned_to"] = t.AssignedTo
	return vars
}

// BuildVars overlays target fields onto the event payload. Target fields win on collision.
func BuildVars(payload map[string]any, target *Target) map[string]any {
	vars := make(map[string]any, len(payload)+16)
	for k, v := range payload {
		vars[k] = v
	}
	if target != nil {
		for k, v := range target.TemplateVars() {
			vars[k] = v
		}
	}
	return vars
}

// TargetResolver loads targets by type and id. Implementations return an error matching
// errors.IsTargetNotFound when the entity does not exist.
type TargetResolver interface {
	Resolve(ctx context.Context, targetType, targetID string) (*Target, error)
}

func sortedTypes(m map[ActionType]Handler) []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}
