package management

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"crmflow/internal/actions"
	"crmflow/pkg/errors"
)

func TestRequireReplacedConfig(t *testing.T) {
	invalid := &actions.InvalidConfig{ActionType: actions.SendEmail, Err: stderrors.New("bad json")}

	err := requireReplacedConfig(invalid, nil)
	assert.True(t, errors.IsValidation(err), "a partial update must not write the invalid marker back")

	assert.NoError(t, requireReplacedConfig(invalid, []byte(`{"subject":"s","content":"b"}`)))
	assert.NoError(t, requireReplacedConfig(&actions.EmailConfig{Subject: "s", Content: "b"}, nil))
}
