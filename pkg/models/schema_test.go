package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessageEnvelope(t *testing.T) {
	valid := func() *MessageEnvelope {
		return NewMessageEnvelopeBuilder().
			WithID("evt-1").
			WithType("lead_created").
			WithSource("crm").
			WithTimestamp(time.Now()).
			WithPayload(map[string]interface{}{"lead_id": "l-1"}).
			Build()
	}

	tests := []struct {
		name   string
		mutate func(m *MessageEnvelope)
		field  string
	}{
		{name: "valid", mutate: func(m *MessageEnvelope) {}},
		{name: "missing id", mutate: func(m *MessageEnvelope) { m.ID = "" }, field: "id"},
		{name: "missing type", mutate: func(m *MessageEnvelope) { m.Type = "" }, field: "type"},
		{name: "missing source", mutate: func(m *MessageEnvelope) { m.Source = "" }, field: "source"},
		{name: "nil payload", mutate: func(m *MessageEnvelope) { m.Payload = nil }, field: "payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid()
			tt.mutate(msg)
			err := ValidateMessageEnvelope(msg)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	assert.Error(t, ValidateMessageEnvelope(nil))
}

func TestValidationMessages(t *testing.T) {
	msg := &MessageEnvelope{
		ID:        strings.Repeat("x", 129),
		Type:      "lead_created",
		Source:    "crm",
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{},
	}
	err := ValidateMessageEnvelope(msg)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "id", vErr.Field)
	assert.Equal(t, "must be at most 128 characters", vErr.Message)

	msg.ID = "evt-1"
	msg.Timestamp = time.Time{}
	require.ErrorAs(t, ValidateMessageEnvelope(msg), &vErr)
	assert.Equal(t, "timestamp", vErr.Field)
	assert.Equal(t, "value is required", vErr.Message)
}
