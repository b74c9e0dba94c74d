package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TriggerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_trigger_events_total",
			Help: "Total number of trigger events received by the dispatcher (count)",
		},
		[]string{"trigger_type"},
	)

	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_rule_evaluations_total",
			Help: "Total number of rule evaluations by outcome (count)",
		},
		[]string{"trigger_type", "result"},
	)

	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_executions_total",
			Help: "Total number of finished executions (count)",
		},
		[]string{"status"},
	)

	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_execution_duration_ms",
			Help:    "Duration of one execution pipeline in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"status"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_actions_total",
			Help: "Total number of action handler invocations (count)",
		},
		[]string{"action_type", "result"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_action_duration_ms",
			Help:    "Duration of action handler invocations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"action_type"},
	)

	CadenceStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_steps_total",
			Help: "Total number of cadence steps processed (count)",
		},
		[]string{"action_type", "result"},
	)

	CadenceEnrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_enrollments_total",
			Help: "Total number of enrollment lifecycle transitions (count)",
		},
		[]string{"transition"},
	)

	ClaimConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_claim_conflicts_total",
			Help: "Total number of work claims lost to another worker (count)",
		},
		[]string{"kind"},
	)

	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "automation_active_rules",
			Help: "Number of active automation rules in the catalog cache (count)",
		},
	)

	SchedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Total number of scheduler sweeps by outcome (count)",
		},
		[]string{"job", "status"},
	)

	SchedulerRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_run_duration_ms",
			Help:    "Duration of scheduler sweeps in milliseconds",
			Buckets: []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"job"},
	)

	LockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_lock_acquisitions_total",
			Help: "Total number of distributed lock attempts (count)",
		},
		[]string{"name", "result"},
	)

	NotificationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_requests_total",
			Help: "Total number of outbound notification requests (count)",
		},
		[]string{"channel", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var (
	automationOnce     sync.Once
	brokerOnce         sync.Once
	circuitBreakerOnce sync.Once
	managementOnce     sync.Once
)

// RegisterAutomationMetrics registers the dispatcher, runner, cadence and scheduler collectors.
func RegisterAutomationMetrics() {
	automationOnce.Do(func() {
		prometheus.MustRegister(TriggerEventsTotal)
		prometheus.MustRegister(RuleEvaluationsTotal)
		prometheus.MustRegister(ExecutionsTotal)
		prometheus.MustRegister(ExecutionDuration)
		prometheus.MustRegister(ActionsTotal)
		prometheus.MustRegister(ActionDuration)
		prometheus.MustRegister(CadenceStepsTotal)
		prometheus.MustRegister(CadenceEnrollmentsTotal)
		prometheus.MustRegister(ClaimConflictsTotal)
		prometheus.MustRegister(ActiveRules)
		prometheus.MustRegister(SchedulerRunsTotal)
		prometheus.MustRegister(SchedulerRunDuration)
		prometheus.MustRegister(LockAcquisitionsTotal)
		prometheus.MustRegister(NotificationRequestsTotal)
		prometheus.MustRegister(DatabaseQueriesTotal)
		prometheus.MustRegister(DatabaseQueryDuration)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(DLQMessagesTotal)
		prometheus.MustRegister(KafkaMessagesReadTotal)
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterManagementMetrics() {
	managementOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func IncTriggerEvent(triggerType string) {
	TriggerEventsTotal.WithLabelValues(triggerType).Inc()
}

// IncRuleEvaluation records one rule outcome: "matched", "conditions_unmet", "filters_unmet" or "error".
func IncRuleEvaluation(triggerType, result string) {
	RuleEvaluationsTotal.WithLabelValues(triggerType, result).Inc()
}

func ObserveExecution(status string, duration time.Duration) {
	ExecutionsTotal.WithLabelValues(status).Inc()
	ExecutionDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveAction(actionType string, success bool, duration time.Duration) {
	ActionsTotal.WithLabelValues(actionType, resultLabel(success)).Inc()
	ActionDuration.WithLabelValues(actionType).Observe(float64(duration.Milliseconds()))
}

func IncCadenceStep(actionType, result string) {
	CadenceStepsTotal.WithLabelValues(actionType, result).Inc()
}

func IncEnrollmentTransition(transition string) {
	CadenceEnrollmentsTotal.WithLabelValues(transition).Inc()
}

func IncClaimConflict(kind string) {
	ClaimConflictsTotal.WithLabelValues(kind).Inc()
}

func SetActiveRules(count int) {
	ActiveRules.Set(float64(count))
}

func ObserveSchedulerRun(job, status string, duration time.Duration) {
	SchedulerRunsTotal.WithLabelValues(job, status).Inc()
	SchedulerRunDuration.WithLabelValues(job).Observe(float64(duration.Milliseconds()))
}

func IncLockAcquisition(name string, acquired bool) {
	result := "acquired"
	if !acquired {
		result = "held_elsewhere"
	}
	LockAcquisitionsTotal.WithLabelValues(name, result).Inc()
}

func IncNotificationRequest(channel string, success bool) {
	NotificationRequestsTotal.WithLabelValues(channel, resultLabel(success)).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
