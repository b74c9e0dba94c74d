package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateConditionRejectsBadInput(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range map[string]string{
		"syntax":             `invalid syntax here!!!`,
		"undeclared":         `undefinedVar == "test"`,
		"string result":      `trigger_type + "x"`,
		"dangling selection": `payload.`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, eval.ValidateCondition(expr))
		})
	}
}

func TestValidateCondition(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, eval.ValidateCondition(`target.status == "new"`))
	assert.NoError(t, eval.ValidateCondition(`trigger_type == "lead_created"`))
	assert.Error(t, eval.ValidateCondition(`trigger_type + "x"`))
	assert.Error(t, eval.ValidateCondition(`payload.`))
}

func TestEvaluateCondition(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	in := Input{
		TriggerType: "lead_status_changed",
		Payload:     map[string]any{"to_status": "qualified", "value": 12000.0},
		Target:      map[string]any{"origin": "website", "email": "ana@example.com"},
	}

	tests := []struct {
		name    string
		expr    string
		want    bool
		wantErr bool
	}{
		{name: "payload match", expr: `payload.to_status == "qualified"`, want: true},
		{name: "payload mismatch", expr: `payload.to_status == "lost"`, want: false},
		{name: "numeric", expr: `payload.value > 10000.0`, want: true},
		{name: "target field", expr: `target.origin == "website"`, want: true},
		{name: "trigger type", expr: `trigger_type == "lead_created"`, want: false},
		{name: "string method", expr: `target.email.endsWith("@example.com")`, want: true},
		{name: "strings extension", expr: `target.origin.upperAscii() == "WEBSITE"`, want: true},
		{name: "missing key errors", expr: `payload.missing == "x"`, wantErr: true},
		{name: "non bool", expr: `payload.value`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.EvaluateCondition(context.Background(), tt.expr, in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateConditionNilMaps(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	got, err := eval.EvaluateCondition(context.Background(), `!has(target.email)`, Input{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range ConditionExpressionExamples {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, eval.ValidateCondition(expr))
		})
	}
}
