// Package errors defines the application error type shared by the stores, the engine and the
// management API. Each *Error carries a stable code, an HTTP status and free-form details.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)

	ErrTargetNotFound     = NewError("TARGET_NOT_FOUND", "automation target not found", http.StatusNotFound)
	ErrActionExecution    = NewError("ACTION_EXECUTION_FAILED", "action execution failed", http.StatusBadGateway)
	ErrSchedulingConflict = NewError("SCHEDULING_CONFLICT", "scheduling conflict", http.StatusConflict)
)

// permanent codes fail the same way on every attempt; retrying them only delays the DLQ.
var permanent = map[string]bool{
	ErrValidation.Code:         true,
	ErrNotFound.Code:           true,
	ErrTargetNotFound.Code:     true,
	ErrSchedulingConflict.Code: true,
	ErrConflict.Code:           true,
}

type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
	fatal   *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if detail, ok := e.Details["message"].(string); ok && detail != "" {
		msg = detail
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on code, so errors.Is(err, ErrNotFound) holds for any detailed copy of ErrNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsFatal tells pkg/retry whether another attempt can succeed.
func (e *Error) IsFatal() bool {
	if e.fatal != nil {
		return *e.fatal
	}
	return permanent[e.Code]
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

// AsFatal marks the error as not worth retrying whatever its code.
func (e *Error) AsFatal() *Error {
	err := *e
	fatal := true
	err.fatal = &fatal
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrValidation.Code)
}

func IsConflict(err error) bool {
	return hasCode(err, ErrConflict.Code)
}

func IsTargetNotFound(err error) bool {
	return hasCode(err, ErrTargetNotFound.Code)
}

func IsActionExecution(err error) bool {
	return hasCode(err, ErrActionExecution.Code)
}

// IsSchedulingConflict reports whether a claim on an execution or enrollment was lost to another worker,
// or a duplicate active enrollment was rejected.
func IsSchedulingConflict(err error) bool {
	return hasCode(err, ErrSchedulingConflict.Code)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the JSON body of every failed management API call.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ToErrorResponse renders err for a client. Errors outside this package surface as INTERNAL_ERROR
// without their cause.
func ToErrorResponse(err error) ErrorResponse {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal
	}

	resp := ErrorResponse{
		Error:     appErr.Message,
		ErrorCode: appErr.Code,
	}
	if len(appErr.Details) > 0 {
		resp.Details = appErr.Details
	}
	return resp
}
