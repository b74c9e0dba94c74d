package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/actions"
	"crmflow/pkg/cel"
)

func TestMatchConditions(t *testing.T) {
	tests := []struct {
		name       string
		conditions map[string]any
		payload    map[string]any
		want       bool
	}{
		{name: "no conditions", conditions: nil, payload: map[string]any{"to_status": "qualified"}, want: true},
		{
			name:       "both keys match",
			conditions: map[string]any{"from_status": "new", "to_status": "qualified"},
			payload:    map[string]any{"from_status": "new", "to_status": "qualified"},
			want:       true,
		},
		{
			name:       "one key mismatches",
			conditions: map[string]any{"from_status": "new", "to_status": "qualified"},
			payload:    map[string]any{"from_status": "new", "to_status": "contacted"},
			want:       false,
		},
		{
			name:       "absent key is don't care",
			conditions: map[string]any{"to_status": "qualified"},
			payload:    map[string]any{"from_status": "lost", "to_status": "qualified"},
			want:       true,
		},
		{
			name:       "empty value is don't care",
			conditions: map[string]any{"from_status": "", "to_status": "qualified"},
			payload:    map[string]any{"to_status": "qualified"},
			want:       true,
		},
		{
			name:       "key missing from payload",
			conditions: map[string]any{"to_status": "qualified"},
			payload:    map[string]any{},
			want:       false,
		},
		{
			name:       "json number equals int",
			conditions: map[string]any{"new_stage_id": 3},
			payload:    map[string]any{"new_stage_id": float64(3)},
			want:       true,
		},
		{
			name:       "list means any of",
			conditions: map[string]any{"to_status": []any{"qualified", "won"}},
			payload:    map[string]any{"to_status": "won"},
			want:       true,
		},
		{
			name:       "nil payload",
			conditions: map[string]any{"to_status": "won"},
			payload:    nil,
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchConditions(tt.conditions, tt.payload))
			assert.Equal(t, tt.want, MatchConditions(tt.conditions, tt.payload), "evaluation must be pure")
		})
	}
}

func TestMatchFilters(t *testing.T) {
	lead := &actions.Target{
		Type:       "lead",
		ID:         "lead-1",
		Status:     "new",
		Origin:     "website",
		AssignedTo: "u-1",
		Tags:       []string{"vip"},
		Attributes: map[string]any{"industry": "saas"},
	}

	tests := []struct {
		name    string
		filters map[string][]string
		target  *actions.Target
		want    bool
	}{
		{name: "empty filters", filters: nil, target: nil, want: true},
		{name: "missing target fails closed", filters: map[string][]string{"origin": {"website"}}, target: nil, want: false},
		{name: "member", filters: map[string][]string{"origin": {"website", "referral"}}, target: lead, want: true},
		{name: "not a member", filters: map[string][]string{"origin": {"referral"}}, target: lead, want: false},
		{name: "all keys must match", filters: map[string][]string{"origin": {"website"}, "assigned_to": {"u-2"}}, target: lead, want: false},
		{name: "missing field fails closed", filters: map[string][]string{"stage_id": {"s-1"}}, target: lead, want: false},
		{name: "attribute field", filters: map[string][]string{"industry": {"saas"}}, target: lead, want: true},
		{name: "tags any of", filters: map[string][]string{"tags": {"hot", "vip"}}, target: lead, want: true},
		{name: "tags none", filters: map[string][]string{"tags": {"hot"}}, target: lead, want: false},
		{name: "empty allow-list ignored", filters: map[string][]string{"origin": {}}, target: lead, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.want, MatchFilters(tt.filters, tt.target))
			})
		})
	}
}

func TestMatcherExpression(t *testing.T) {
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	m := NewMatcher(eval, nil)
	ctx := context.Background()
	target := &actions.Target{ID: "lead-1", Origin: "website"}

	assert.True(t, m.Expression(ctx, "", LeadCreated, nil, nil))
	assert.True(t, m.Expression(ctx, `target.origin == "website"`, LeadCreated, nil, target))
	assert.False(t, m.Expression(ctx, `target.origin == "ads"`, LeadCreated, nil, target))
	assert.False(t, m.Expression(ctx, `payload.missing == 1`, LeadCreated, map[string]any{}, target), "errors fail closed")

	var nilMatcher *Matcher
	assert.True(t, nilMatcher.Expression(ctx, `false`, LeadCreated, nil, nil))

	assert.NoError(t, m.Validate(""))
	assert.Error(t, m.Validate(`payload.x + 1`))
}

func TestExecutionRecordKeepsCountersConsistent(t *testing.T) {
	exec := &Execution{}
	exec.record(LogEntry{ActionID: "a1", Success: true})
	exec.record(LogEntry{ActionID: "a2", Success: false})
	exec.record(LogEntry{ActionID: "a3", Success: true})

	assert.Equal(t, 3, exec.ActionsExecuted)
	assert.Equal(t, exec.ActionsExecuted, exec.ActionsSuccessful+exec.ActionsFailed)
	assert.Len(t, exec.Log, 3)
}

func TestParseTriggerType(t *testing.T) {
	tt, err := ParseTriggerType(" lead_created ")
	require.NoError(t, err)
	assert.Equal(t, LeadCreated, tt)

	_, err = ParseTriggerType("lead_deleted")
	assert.Error(t, err)
}
