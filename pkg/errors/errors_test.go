package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailedCopiesKeepIdentity(t *testing.T) {
	err := ErrNotFound.WithDetail("message", "rule r-1 not found").WithDetail("id", "r-1")

	assert.True(t, IsNotFound(err))
	assert.True(t, stderrors.Is(err, ErrNotFound))
	assert.False(t, stderrors.Is(err, ErrConflict))
	assert.Equal(t, "NOT_FOUND: rule r-1 not found", err.Error())
	assert.Empty(t, ErrNotFound.Details, "sentinel must not be mutated")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(cause, ErrInternal)

	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(nil, ErrInternal))
}

func TestFatalClassification(t *testing.T) {
	assert.True(t, ErrValidation.IsFatal())
	assert.True(t, ErrSchedulingConflict.IsFatal())
	assert.False(t, ErrInternal.IsFatal())
	assert.False(t, ErrActionExecution.IsFatal())
	assert.True(t, ErrInternal.AsFatal().IsFatal())
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrValidation.WithDetail("field", "name"))
	assert.Equal(t, "VALIDATION_ERROR", resp.ErrorCode)
	assert.Equal(t, "name", resp.Details["field"])
	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(ErrValidation))

	opaque := ToErrorResponse(stderrors.New("pq: password authentication failed"))
	assert.Equal(t, "INTERNAL_ERROR", opaque.ErrorCode)
	assert.Equal(t, "internal server error", opaque.Error)
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(stderrors.New("x")))
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("boom")
	require.Error(t, err)
	var appErr *Error
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, true, appErr.Details["panic"])
	assert.True(t, appErr.IsFatal())
	assert.Contains(t, err.Error(), "panic: boom")
}
