package bootstrap

import (
	"database/sql"
	"fmt"
	"time"

	"crmflow/internal/actions"
	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/internal/config"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/internal/notify"
	"crmflow/internal/store/postgres"
	"crmflow/pkg/cel"
	"crmflow/pkg/circuitbreaker"
)

// AutomationOptions tune BuildAutomation for one binary.
type AutomationOptions struct {
	// CachedRules makes the dispatcher read rules from the reloading Catalog instead of the store.
	CachedRules         bool
	ExecutionObservers  []automation.ExecutionObserver
	EnrollmentObservers []cadence.EnrollmentObserver
}

// Automation is the wired rule and cadence engine over one Postgres database.
type Automation struct {
	Store      *postgres.Store
	CRM        *postgres.CRM
	Registry   *actions.Registry
	Matcher    *automation.Matcher
	Catalog    *automation.Catalog
	Runner     *automation.Runner
	Engine     *cadence.Engine
	Dispatcher *automation.Dispatcher
}

func BuildAutomation(cfg *config.Config, db *sql.DB, log logger.Logger, opts AutomationOptions) (*Automation, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	store := postgres.New(db)
	crm := postgres.NewCRM(db)

	region := cfg.Messaging.DefaultRegion
	if region == "" {
		region = constants.DefaultPhoneRegion
	}

	registry := actions.NewRegistry(actions.Dependencies{
		Email: notify.NewEmailSender(cfg.Email, log,
			notify.WithEmailBreaker(circuitbreaker.FromConfig("sendgrid", cfg.CircuitBreaker))),
		Tasks:         crm,
		Leads:         crm,
		Opportunities: crm.Opportunities(),
		Messaging: notify.NewGateway(cfg.Messaging, log,
			notify.WithGatewayBreaker(circuitbreaker.FromConfig("messaging", cfg.CircuitBreaker))),
		Webhooks: notify.NewWebhookClient(cfg.Webhook, log,
			notify.WithWebhookBreaker(circuitbreaker.FromConfig("webhook", cfg.CircuitBreaker))),
		Logger:                log,
		DefaultRegion:         region,
		DefaultWebhookTimeout: constants.DefaultHTTPTimeout,
	})

	runnerOpts := []automation.RunnerOption{
		automation.WithStaleExecutionTimeout(time.Duration(cfg.Scheduler.ClaimStaleSeconds) * time.Second),
	}
	for _, o := range opts.ExecutionObservers {
		runnerOpts = append(runnerOpts, automation.WithExecutionObserver(o))
	}

	engineOpts := []cadence.Option{
		cadence.WithBatchSize(cfg.Scheduler.BatchSize),
		cadence.WithClaimStaleAfter(time.Duration(cfg.Scheduler.ClaimStaleSeconds) * time.Second),
	}
	for _, o := range opts.EnrollmentObservers {
		engineOpts = append(engineOpts, cadence.WithObserver(o))
	}

	matcher := automation.NewMatcher(evaluator, log)
	catalog := automation.NewCatalog(store, time.Duration(cfg.Rules.Reload.IntervalSeconds)*time.Second, log)
	runner := automation.NewRunner(store, store, crm, registry, log, runnerOpts...)
	engine := cadence.NewEngine(store, crm, registry, log, engineOpts...)

	var rules automation.RuleSource = store
	if opts.CachedRules {
		rules = catalog
	}
	dispatcher := automation.NewDispatcher(rules, store, crm, runner, log,
		automation.WithMatcher(matcher),
		automation.WithEnroller(engine),
	)

	return &Automation{
		Store:      store,
		CRM:        crm,
		Registry:   registry,
		Matcher:    matcher,
		Catalog:    catalog,
		Runner:     runner,
		Engine:     engine,
		Dispatcher: dispatcher,
	}, nil
}
