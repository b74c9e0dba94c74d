package actions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/pkg/errors"
)

func TestDecodeConfig(t *testing.T) {
	tests := []struct {
		name    string
		at      ActionType
		raw     string
		wantErr bool
	}{
		{name: "email", at: SendEmail, raw: `{"subject":"Hi","content":"Body","extra":"ignored"}`},
		{name: "email missing subject", at: SendEmail, raw: `{"content":"Body"}`, wantErr: true},
		{name: "email bad sender", at: SendEmail, raw: `{"subject":"Hi","content":"Body","from_email":"nope"}`, wantErr: true},
		{name: "task", at: CreateTask, raw: `{"title":"Call","due_in_days":3,"priority":"high"}`},
		{name: "task bad priority", at: CreateTask, raw: `{"title":"Call","priority":"whenever"}`, wantErr: true},
		{name: "task negative due", at: CreateTask, raw: `{"title":"Call","due_in_days":-1}`, wantErr: true},
		{name: "status", at: UpdateLeadStatus, raw: `{"new_status":"qualified"}`},
		{name: "status empty", at: UpdateLeadStatus, raw: `{}`, wantErr: true},
		{name: "webhook", at: Webhook, raw: `{"url":"https://example.com/hook","method":"POST"}`},
		{name: "webhook bad url", at: Webhook, raw: `{"url":"not a url"}`, wantErr: true},
		{name: "webhook timeout too long", at: Webhook, raw: `{"url":"https://example.com","timeout_seconds":600}`, wantErr: true},
		{name: "wait", at: Wait, raw: `{"wait_minutes":60}`},
		{name: "wait null config", at: Wait, raw: `null`},
		{name: "malformed json", at: AddTag, raw: `{"tag_id":`, wantErr: true},
		{name: "unknown type", at: ActionType("teleport"), raw: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DecodeConfig(tt.at, []byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.at, cfg.Type())
		})
	}
}

func TestDecodeStoredConfig(t *testing.T) {
	cfg := DecodeStoredConfig(AddTag, []byte(`{"tag_id":"vip"}`))
	assert.IsType(t, &TagConfig{}, cfg)

	cfg = DecodeStoredConfig(ActionType("fax"), []byte(`{"number":"1"}`))
	invalid, ok := cfg.(*InvalidConfig)
	require.True(t, ok)
	assert.Equal(t, ActionType("fax"), invalid.Type())
	assert.True(t, errors.IsValidation(invalid.Err))

	encoded, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"invalid":true`)
}

func TestSharedConfigsKeepTheirType(t *testing.T) {
	cfg, err := DecodeConfig(RemoveTag, []byte(`{"tag_id":"vip"}`))
	require.NoError(t, err)
	assert.Equal(t, RemoveTag, cfg.Type())

	cfg, err = DecodeConfig(SendWhatsApp, []byte(`{"content":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, SendWhatsApp, cfg.Type())
}

func TestParseActionType(t *testing.T) {
	for _, at := range AllActionTypes() {
		parsed, err := ParseActionType(string(at))
		require.NoError(t, err)
		assert.Equal(t, at, parsed)
	}
	_, err := ParseActionType("fax")
	assert.Error(t, err)
}

func TestTargetField(t *testing.T) {
	target := &Target{ID: "l-1", Type: "lead", Status: "new", Attributes: map[string]any{"score": 42}}

	v, ok := target.Field("status")
	assert.True(t, ok)
	assert.Equal(t, "new", v)

	v, ok = target.Field("score")
	assert.True(t, ok)
	assert.Equal(t, "42", v)

	_, ok = target.Field("origin")
	assert.False(t, ok)

	var missing *Target
	_, ok = missing.Field("status")
	assert.False(t, ok)
}

func TestBuildVarsTargetWins(t *testing.T) {
	vars := BuildVars(map[string]any{"status": "payload", "from_status": "new"}, &Target{ID: "l-1", Status: "target"})
	assert.Equal(t, "target", vars["status"])
	assert.Equal(t, "new", vars["from_status"])
	assert.Equal(t, "l-1", vars["target_id"])
}
