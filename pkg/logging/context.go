// Package logging carries correlation IDs through a context so every log entry written while
// handling an event, execution or request can be joined up later.
package logging

import (
	"context"
)

// Field names as they appear in log entries.
const (
	TraceIDKey      = "trace_id"
	MessageIDKey    = "message_id"
	ServiceNameKey  = "service_name"
	ExecutionIDKey  = "execution_id"
	RuleIDKey       = "rule_id"
	EnrollmentIDKey = "enrollment_id"
)

type ctxKey string

// fieldOrder is the order fields are emitted in.
var fieldOrder = []string{TraceIDKey, MessageIDKey, ServiceNameKey, ExecutionIDKey, RuleIDKey, EnrollmentIDKey}

func with(ctx context.Context, field, value string) context.Context {
	return context.WithValue(ctx, ctxKey(field), value)
}

func get(ctx context.Context, field string) string {
	v, _ := ctx.Value(ctxKey(field)).(string)
	return v
}

func WithTraceID(ctx context.Context, id string) context.Context { return with(ctx, TraceIDKey, id) }
func WithMessageID(ctx context.Context, id string) context.Context { return with(ctx, MessageIDKey, id) }
func WithServiceName(ctx context.Context, name string) context.Context { return with(ctx, ServiceNameKey, name) }
func WithExecutionID(ctx context.Context, id string) context.Context { return with(ctx, ExecutionIDKey, id) }
func WithRuleID(ctx context.Context, id string) context.Context { return with(ctx, RuleIDKey, id) }
func WithEnrollmentID(ctx context.Context, id string) context.Context { return with(ctx, EnrollmentIDKey, id) }

func GetTraceID(ctx context.Context) string { return get(ctx, TraceIDKey) }
func GetServiceName(ctx context.Context) string { return get(ctx, ServiceNameKey) }

// GetLogFields returns the IDs set on ctx as alternating key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	var fields []interface{}
	for _, field := range fieldOrder {
		if v := get(ctx, field); v != "" {
			fields = append(fields, field, v)
		}
	}
	return fields
}
