package postgres

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/actions"
)

// fakeRow assigns its values to Scan destinations in column order.
type fakeRow []any

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("expected %d columns, got %d", len(dest), len(r))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r[i]).Convert(target.Type()))
	}
	return nil
}

func TestScanStepKeepsUndecodableConfig(t *testing.T) {
	now := time.Now()
	row := fakeRow{"step-1", "seq-1", 1, 0, 2, 0, "fax", []byte(`{"number":"555"}`), []byte(`{"status":"new"}`), now, now}

	step, err := scanStep(row)
	require.NoError(t, err)
	assert.Equal(t, actions.ActionType("fax"), step.ActionType)
	assert.Equal(t, "new", step.Conditions["status"])

	invalid, ok := step.Config.(*actions.InvalidConfig)
	require.True(t, ok)
	assert.Error(t, invalid.Err)
}

func TestScanActionKeepsUndecodableConfig(t *testing.T) {
	now := time.Now()
	good := fakeRow{"a-1", "rule-1", "add_tag", []byte(`{"tag_id":"vip"}`), 1, []byte(nil), true, now, now}
	action, err := scanAction(good)
	require.NoError(t, err)
	assert.IsType(t, &actions.TagConfig{}, action.Config)

	bad := fakeRow{"a-2", "rule-1", "send_email", []byte(`{"content":"no subject"}`), 2, []byte(nil), true, now, now}
	action, err = scanAction(bad)
	require.NoError(t, err)
	assert.IsType(t, &actions.InvalidConfig{}, action.Config)
	assert.Equal(t, actions.SendEmail, action.Config.Type())
}
