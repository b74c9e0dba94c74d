package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	MaxWebhookTimeout  = 60 * time.Second
)

const (
	LockKeyPrefix            = "crmflow:lock:"
	LockNameDeferredSweep    = "deferred-executions"
	LockNameCadenceSweep     = "cadence-due"
	DefaultLockTTLSeconds    = 55
	DefaultSweepBatchSize    = 200
	DefaultClaimStaleSeconds = 300
)

const (
	DefaultInputTopic  = "crm_events"
	DefaultOutputTopic = "automation_events"
)

const (
	DefaultMongoDBName          = "crmflow"
	ExecutionArchiveCollection  = "execution_archive"
	EnrollmentArchiveCollection = "enrollment_archive"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultSchedulerSpec  = "@every 60s"
	DefaultReloadInterval = 30
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	DefaultPhoneRegion = "US"
	MinutesPerDay      = 1440
	MinutesPerHour     = 60
)

const (
	EventExecutionFinished = "execution_finished"
	EventEnrollmentAdvance = "enrollment_advanced"
)

const (
	ServiceTypeAutomation = "automation"
)
