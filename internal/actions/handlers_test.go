package actions_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/actions"
	"crmflow/internal/actions/actionstest"
	"crmflow/pkg/clock"
	"crmflow/pkg/errors"
)

func fakeLead(t *testing.T) *actions.Target {
	t.Helper()
	gofakeit.Seed(42)
	return &actions.Target{
		Type:       "lead",
		ID:         gofakeit.UUID(),
		FirstName:  gofakeit.FirstName(),
		LastName:   gofakeit.LastName(),
		Email:      gofakeit.Email(),
		Phone:      "(201) 555-0123",
		Company:    gofakeit.Company(),
		Status:     "new",
		AssignedTo: "owner-1",
	}
}

func newRegistry(svc *actionstest.Services, now time.Time) *actions.Registry {
	deps := svc.Dependencies()
	deps.Clock = clock.NewFake(now)
	return actions.NewRegistry(deps)
}

func decode(t *testing.T, at actions.ActionType, raw string) actions.Config {
	t.Helper()
	cfg, err := actions.DecodeConfig(at, []byte(raw))
	require.NoError(t, err)
	return cfg
}

func TestSendEmailRendersTemplates(t *testing.T) {
	lead := fakeLead(t)
	svc := actionstest.NewServices(lead)
	reg := newRegistry(svc, time.Now())

	cfg := decode(t, actions.SendEmail, `{"subject":"Welcome {first_name}","content":"<p>Hi {full_name} from {company}, {unknown}</p>","from_name":"Sales"}`)
	res, err := reg.Execute(context.Background(), actions.SendEmail, cfg, actions.Request{
		Target: lead,
		Vars:   actions.BuildVars(nil, lead),
	})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)

	require.Len(t, svc.Email.Sent, 1)
	sent := svc.Email.Sent[0]
	assert.Equal(t, lead.Email, sent.ToAddress)
	assert.Equal(t, "Welcome "+lead.FirstName, sent.Subject)
	assert.Equal(t, "<p>Hi "+lead.FullName()+" from "+lead.Company+", {unknown}</p>", sent.HTMLContent)
	require.NotNil(t, sent.Sender)
	assert.Equal(t, "Sales", sent.Sender.FromName)
}

func TestHandlersFailWithoutTarget(t *testing.T) {
	svc := actionstest.NewServices()
	reg := newRegistry(svc, time.Now())

	cases := map[actions.ActionType]string{
		actions.SendEmail:         `{"subject":"s","content":"c"}`,
		actions.UpdateLeadStatus:  `{"new_status":"qualified"}`,
		actions.MoveLeadStage:     `{"new_stage_id":"stage-2"}`,
		actions.AssignUser:        `{"user_id":"u-1"}`,
		actions.AddTag:            `{"tag_id":"vip"}`,
		actions.RemoveTag:         `{"tag_id":"vip"}`,
		actions.CreateOpportunity: `{"title":"Deal","value":10}`,
		actions.SendSMS:           `{"content":"hi"}`,
		actions.SendWhatsApp:      `{"content":"hi"}`,
	}

	for at, raw := range cases {
		t.Run(string(at), func(t *testing.T) {
			res, err := reg.Execute(context.Background(), at, decode(t, at, raw), actions.Request{})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Contains(t, res.Message, "target not found")
		})
	}
}

func TestCreateTaskDefaultsToTargetOwner(t *testing.T) {
	lead := fakeLead(t)
	svc := actionstest.NewServices(lead)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := newRegistry(svc, now)

	cfg := decode(t, actions.CreateTask, `{"title":"Call {first_name}","due_in_days":2}`)
	res, err := reg.Execute(context.Background(), actions.CreateTask, cfg, actions.Request{Target: lead, Vars: actions.BuildVars(nil, lead)})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)

	require.Len(t, svc.Tasks.Created, 1)
	task := svc.Tasks.Created[0]
	assert.Equal(t, "owner-1", task.AssignedTo)
	assert.Equal(t, "Call "+lead.FirstName, task.Title)
	assert.Equal(t, now.AddDate(0, 0, 2), task.DueDate)
	assert.Equal(t, "medium", task.Priority)
	assert.Equal(t, lead.ID, task.LeadID)
}

func TestLeadMutations(t *testing.T) {
	lead := fakeLead(t)
	svc := actionstest.NewServices(lead)
	reg := newRegistry(svc, time.Now())
	ctx := context.Background()
	req := actions.Request{Target: lead}

	steps := []struct {
		at  actions.ActionType
		raw string
	}{
		{actions.UpdateLeadStatus, `{"new_status":"qualified"}`},
		{actions.MoveLeadStage, `{"new_stage_id":"stage-2"}`},
		{actions.AssignUser, `{"user_id":"u-9"}`},
		{actions.AddTag, `{"tag_id":"vip"}`},
		{actions.AddTag, `{"tag_id":"hot"}`},
		{actions.RemoveTag, `{"tag_id":"vip"}`},
	}
	for _, s := range steps {
		res, err := reg.Execute(ctx, s.at, decode(t, s.at, s.raw), req)
		require.NoError(t, err)
		require.True(t, res.Success, res.Message)
	}

	got, ok := svc.Leads.Get(lead.ID)
	require.True(t, ok)
	assert.Equal(t, "qualified", got.Status)
	assert.Equal(t, "stage-2", got.StageID)
	assert.Equal(t, "u-9", got.AssignedTo)
	assert.Equal(t, []string{"hot"}, got.Tags)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	lead := fakeLead(t)
	svc := actionstest.NewServices(lead)
	svc.Leads.PanicOn = "status"
	reg := newRegistry(svc, time.Now())

	res, err := reg.Execute(context.Background(), actions.UpdateLeadStatus,
		decode(t, actions.UpdateLeadStatus, `{"new_status":"won"}`), actions.Request{Target: lead})
	require.Error(t, err)
	assert.True(t, errors.IsActionExecution(err))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "panicked")
}

func TestSendSMSNormalizesPhone(t *testing.T) {
	lead := fakeLead(t)
	svc := actionstest.NewServices(lead)
	reg := newRegistry(svc, time.Now())

	res, err := reg.Execute(context.Background(), actions.SendWhatsApp,
		decode(t, actions.SendWhatsApp, `{"content":"Hello {first_name}"}`),
		actions.Request{Target: lead, Vars: actions.BuildVars(nil, lead)})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	require.Len(t, svc.Messaging.Sent, 1)
	assert.Equal(t, actions.ChannelWhatsApp, svc.Messaging.Sent[0].Channel)
	assert.Equal(t, "+12015550123", svc.Messaging.Sent[0].To)
	assert.Equal(t, "Hello "+lead.FirstName, svc.Messaging.Sent[0].Body)
}

func TestSendSMSRejectsInvalidPhone(t *testing.T) {
	lead := fakeLead(t)
	lead.Phone = "12"
	svc := actionstest.NewServices(lead)
	reg := newRegistry(svc, time.Now())

	res, err := reg.Execute(context.Background(), actions.SendSMS,
		decode(t, actions.SendSMS, `{"content":"hi"}`), actions.Request{Target: lead})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, svc.Messaging.Sent)
}

func TestWebhookPayloadAndTimeout(t *testing.T) {
	lead := fakeLead(t)
	svc := actionstest.NewServices(lead)
	reg := newRegistry(svc, time.Now())
	vars := actions.BuildVars(map[string]any{"event": "lead_created"}, lead)

	res, err := reg.Execute(context.Background(), actions.Webhook,
		decode(t, actions.Webhook, `{"url":"https://hooks.example.com/crm","payload":"{\"lead\":\"{target_id}\"}","timeout_seconds":5}`),
		actions.Request{Target: lead, Vars: vars})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	_, err = reg.Execute(context.Background(), actions.Webhook,
		decode(t, actions.Webhook, `{"url":"https://hooks.example.com/crm","method":"PUT"}`),
		actions.Request{Vars: vars})
	require.NoError(t, err)

	require.Len(t, svc.Webhooks.Calls, 2)
	first := svc.Webhooks.Calls[0]
	assert.Equal(t, "POST", first.Method)
	assert.Equal(t, 5*time.Second, first.Timeout)
	assert.JSONEq(t, `{"lead":"`+lead.ID+`"}`, string(first.Payload))

	second := svc.Webhooks.Calls[1]
	assert.Equal(t, "PUT", second.Method)
	assert.Equal(t, 10*time.Second, second.Timeout)
	var body map[string]any
	require.NoError(t, json.Unmarshal(second.Payload, &body))
	assert.Equal(t, "lead_created", body["event"])
}

func TestWebhookJSONPayloadEscapesValues(t *testing.T) {
	lead := fakeLead(t)
	lead.FirstName = `Jo "JJ"`
	lead.Company = `Back\slash Ltd`
	svc := actionstest.NewServices(lead)
	reg := newRegistry(svc, time.Now())

	cfg := decode(t, actions.Webhook, `{"url":"https://hooks.example.com/crm","payload":"{\"name\":\"{first_name}\",\"company\":\"{company}\"}"}`)
	res, err := reg.Execute(context.Background(), actions.Webhook, cfg,
		actions.Request{Target: lead, Vars: actions.BuildVars(nil, lead)})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	require.Len(t, svc.Webhooks.Calls, 1)
	var body map[string]string
	require.NoError(t, json.Unmarshal(svc.Webhooks.Calls[0].Payload, &body), string(svc.Webhooks.Calls[0].Payload))
	assert.Equal(t, `Jo "JJ"`, body["name"])
	assert.Equal(t, `Back\slash Ltd`, body["company"])
}

func TestPlainWebhookPayloadIsNotEscaped(t *testing.T) {
	lead := fakeLead(t)
	lead.FirstName = `Jo "JJ"`
	svc := actionstest.NewServices(lead)
	reg := newRegistry(svc, time.Now())

	cfg := decode(t, actions.Webhook, `{"url":"https://hooks.example.com/crm","payload":"name={first_name}"}`)
	_, err := reg.Execute(context.Background(), actions.Webhook, cfg,
		actions.Request{Target: lead, Vars: actions.BuildVars(nil, lead)})
	require.NoError(t, err)
	require.Len(t, svc.Webhooks.Calls, 1)
	assert.Equal(t, `name=Jo "JJ"`, string(svc.Webhooks.Calls[0].Payload))
}

func TestUndecodableStoredConfigFailsWithoutHandler(t *testing.T) {
	lead := fakeLead(t)
	svc := actionstest.NewServices(lead)
	reg := newRegistry(svc, time.Now())

	cfg := actions.DecodeStoredConfig(actions.SendEmail, []byte(`{"content":"no subject"}`))
	res, err := reg.Execute(context.Background(), actions.SendEmail, cfg, actions.Request{Target: lead})
	require.Error(t, err)
	assert.True(t, errors.IsActionExecution(err))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "stored send_email config is invalid")
	assert.Zero(t, svc.Email.Count())
}

func TestWebhookFailureIsReported(t *testing.T) {
	svc := actionstest.NewServices()
	svc.Webhooks.Response = actions.WebhookResponse{StatusCode: 502}
	reg := newRegistry(svc, time.Now())

	res, err := reg.Execute(context.Background(), actions.Webhook,
		decode(t, actions.Webhook, `{"url":"https://hooks.example.com/crm"}`), actions.Request{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "502")
}

func TestWaitHasNoSideEffects(t *testing.T) {
	svc := actionstest.NewServices()
	reg := newRegistry(svc, time.Now())

	start := time.Now()
	res, err := reg.Execute(context.Background(), actions.Wait, decode(t, actions.Wait, `{"wait_minutes":1440}`), actions.Request{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUnknownHandler(t *testing.T) {
	reg := newRegistry(actionstest.NewServices(), time.Now())
	res, err := reg.Execute(context.Background(), actions.ActionType("fax"), nil, actions.Request{})
	require.Error(t, err)
	assert.False(t, res.Success)
}

func TestMissingServiceFailsGracefully(t *testing.T) {
	lead := fakeLead(t)
	reg := actions.NewRegistry(actions.Dependencies{})

	res, err := reg.Execute(context.Background(), actions.SendEmail,
		decode(t, actions.SendEmail, `{"subject":"s","content":"c"}`), actions.Request{Target: lead})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not configured")
}

func TestRegistryCoversEveryActionType(t *testing.T) {
	types := actions.NewRegistry(actions.Dependencies{}).Types()
	assert.Len(t, types, 12)
	assert.IsIncreasing(t, types)
	assert.Contains(t, types, "send_whatsapp")
	assert.Contains(t, types, "wait")
}
