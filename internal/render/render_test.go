package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	vars := map[string]any{
		"first_name": "Ada",
		"company":    "Acme",
		"phone":      nil,
		"value":      1500,
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{name: "single key", template: "Hi {first_name}", want: "Hi Ada"},
		{name: "repeated and multiple keys", template: "{first_name} at {company}, {first_name}!", want: "Ada at Acme, Ada!"},
		{name: "unknown key left verbatim", template: "Hi {nickname}", want: "Hi {nickname}"},
		{name: "nil value renders empty", template: "Call {phone} now", want: "Call  now"},
		{name: "non string value", template: "Deal worth {value}", want: "Deal worth 1500"},
		{name: "no placeholders", template: "plain text", want: "plain text"},
		{name: "empty template", template: "", want: ""},
		{name: "unclosed brace", template: "Hi {first_name", want: "Hi {first_name"},
		{name: "nested brace", template: "{{first_name}}", want: "{Ada}"},
		{name: "empty key", template: "{} {first_name}", want: "{} Ada"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, vars))
		})
	}
}

func TestRenderWithoutVarsIsIdentity(t *testing.T) {
	assert.Equal(t, "Hi {first_name}", Render("Hi {first_name}", nil))
}

func TestRenderJSONEscapesValues(t *testing.T) {
	vars := map[string]any{
		"first_name": `Ada "The Countess"`,
		"note":       "line one\nline two \\ end",
		"value":      1500,
	}
	out := RenderJSON(`{"name":"{first_name}","note":"{note}","value":{value},"keep":"{nickname}"}`, vars)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	assert.Equal(t, `Ada "The Countess"`, doc["name"])
	assert.Equal(t, "line one\nline two \\ end", doc["note"])
	assert.Equal(t, float64(1500), doc["value"])
	assert.Equal(t, "{nickname}", doc["keep"])
}
