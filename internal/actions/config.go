package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"crmflow/pkg/errors"
)

// Config is the typed configuration of one action. Every ActionType has exactly one Config type.
type Config interface {
	Type() ActionType
}

type EmailConfig struct {
	Subject   string `json:"subject" validate:"required"`
	Content   string `json:"content" validate:"required"`
	FromEmail string `json:"from_email,omitempty" validate:"omitempty,email"`
	FromName  string `json:"from_name,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty" validate:"omitempty,email"`
}

func (*EmailConfig) Type() ActionType { return SendEmail }

type TaskConfig struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	DueInDays   int    `json:"due_in_days" validate:"gte=0,lte=365"`
	Priority    string `json:"priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
	TaskType    string `json:"task_type,omitempty"`
}

func (*TaskConfig) Type() ActionType { return CreateTask }

type StatusConfig struct {
	NewStatus string `json:"new_status" validate:"required"`
}

func (*StatusConfig) Type() ActionType { return UpdateLeadStatus }

type StageConfig struct {
	NewStageID string `json:"new_stage_id" validate:"required"`
}

func (*StageConfig) Type() ActionType { return MoveLeadStage }

type AssignConfig struct {
	UserID string `json:"user_id" validate:"required"`
}

func (*AssignConfig) Type() ActionType { return AssignUser }

// TagConfig is shared by add_tag and remove_tag; Action records which of the two it is.
type TagConfig struct {
	TagID  string     `json:"tag_id" validate:"required"`
	Action ActionType `json:"-"`
}

func (c *TagConfig) Type() ActionType { return c.Action }

type OpportunityConfig struct {
	Title   string  `json:"title" validate:"required"`
	Value   float64 `json:"value" validate:"gte=0"`
	StageID string  `json:"stage_id,omitempty"`
}

func (*OpportunityConfig) Type() ActionType { return CreateOpportunity }

// MessageConfig is shared by send_sms and send_whatsapp.
type MessageConfig struct {
	Content string  `json:"content" validate:"required,max=1600"`
	Channel Channel `json:"-"`
}

func (c *MessageConfig) Type() ActionType {
	if c.Channel == ChannelWhatsApp {
		return SendWhatsApp
	}
	return SendSMS
}

type WebhookConfig struct {
	URL            string `json:"url" validate:"required,url"`
	Method         string `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Payload        string `json:"payload,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" validate:"gte=0,lte=60"`
}

func (*WebhookConfig) Type() ActionType { return Webhook }

type WaitConfig struct {
	WaitMinutes int `json:"wait_minutes" validate:"gte=0"`
}

func (*WaitConfig) Type() ActionType { return Wait }

var configFactories = map[ActionType]func() Config{
	SendEmail:         func() Config { return &EmailConfig{} },
	CreateTask:        func() Config { return &TaskConfig{} },
	UpdateLeadStatus:  func() Config { return &StatusConfig{} },
	MoveLeadStage:     func() Config { return &StageConfig{} },
	AssignUser:        func() Config { return &AssignConfig{} },
	AddTag:            func() Config { return &TagConfig{Action: AddTag} },
	RemoveTag:         func() Config { return &TagConfig{Action: RemoveTag} },
	CreateOpportunity: func() Config { return &OpportunityConfig{} },
	SendSMS:           func() Config { return &MessageConfig{Channel: ChannelSMS} },
	SendWhatsApp:      func() Config { return &MessageConfig{Channel: ChannelWhatsApp} },
	Webhook:           func() Config { return &WebhookConfig{} },
	Wait:              func() Config { return &WaitConfig{} },
}

var validate = validator.New()

// DecodeConfig parses and validates raw JSON configuration for the given action type.
// Unknown fields are ignored. Failures are reported as errors.ErrValidation.
func DecodeConfig(actionType ActionType, raw []byte) (Config, error) {
	factory, ok := configFactories[actionType]
	if !ok {
		return nil, errors.ErrValidation.
			WithDetail("message", fmt.Sprintf("unknown action type %q", actionType)).
			WithDetail("field", "action_type")
	}

	cfg := factory()
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, errors.ErrValidation.
				WithCause(err).
				WithDetail("message", fmt.Sprintf("invalid %s config: %v", actionType, err)).
				WithDetail("field", "action_config")
		}
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InvalidConfig stands in for a persisted configuration that no longer decodes, such as a row
// whose action type was removed. Executing it fails without reaching a handler.
type InvalidConfig struct {
	ActionType ActionType
	Err        error
}

func (c *InvalidConfig) Type() ActionType { return c.ActionType }

func (c *InvalidConfig) MarshalJSON() ([]byte, error) {
	msg := ""
	if c.Err != nil {
		msg = c.Err.Error()
	}
	return json.Marshal(map[string]any{"invalid": true, "error": msg})
}

// DecodeStoredConfig decodes a persisted configuration. Rows that fail DecodeConfig become an
// *InvalidConfig so the surrounding rule or sequence still loads.
func DecodeStoredConfig(actionType ActionType, raw []byte) Config {
	cfg, err := DecodeConfig(actionType, raw)
	if err != nil {
		return &InvalidConfig{ActionType: actionType, Err: err}
	}
	return cfg
}

// ValidateConfig runs the struct validation tags of cfg.
func ValidateConfig(cfg Config) error {
	if cfg == nil {
		return errors.ErrValidation.WithDetail("message", "action config is required")
	}
	if err := validate.Struct(cfg); err != nil {
		return errors.ErrValidation.
			WithCause(err).
			WithDetail("message", fmt.Sprintf("invalid %s config: %s", cfg.Type(), describeValidation(err))).
			WithDetail("field", "action_config")
	}
	return nil
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors)
	if ok {
		*target = v
	}
	return ok
}
