package automation

import (
	"context"
	"time"
)

// RuleSource yields the active rules for one trigger, ordered by priority descending and then
// insertion order.
type RuleSource interface {
	ActiveRules(ctx context.Context, trigger TriggerType) ([]Rule, error)
}

type RuleRepository interface {
	RuleSource
	// ListActiveRules returns every active rule in dispatch order.
	ListActiveRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id string) (*Rule, error)
	// GetActions resolves action ids. Unknown ids are skipped.
	GetActions(ctx context.Context, ids []string) ([]Action, error)
}

// RuleStore adds the configuration writes used by the management API.
type RuleStore interface {
	RuleRepository
	ListRules(ctx context.Context, limit, offset int) ([]Rule, error)
	CreateRule(ctx context.Context, rule *Rule) error
	UpdateRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, id string) error
	GetAction(ctx context.Context, id string) (*Action, error)
	// CreateAction appends the action id to its rule. Order must be unique within the rule.
	CreateAction(ctx context.Context, action *Action) error
	UpdateAction(ctx context.Context, action *Action) error
	DeleteAction(ctx context.Context, id string) error
}

type ExecutionRepository interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	// ClaimExecution moves a pending execution to running. It returns false when another
	// worker claimed it first.
	ClaimExecution(ctx context.Context, id string, startedAt time.Time) (bool, error)
	// FinishExecution persists the terminal execution and, in the same transaction, bumps the
	// owning rule's aggregate counters.
	FinishExecution(ctx context.Context, exec *Execution) error
	// ListDueExecutions returns pending executions scheduled at or before now, oldest first.
	ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]Execution, error)
	// ListStaleExecutions returns running executions started before startedBefore, oldest first.
	ListStaleExecutions(ctx context.Context, startedBefore time.Time, limit int) ([]Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error)
}
