package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/robfig/cron/v3"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

var sslModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

// problems collects every invalid field so one load reports all of them.
type problems []error

func (p *problems) check(ok bool, field, format string, args ...interface{}) {
	if !ok {
		*p = append(*p, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
}

func (p *problems) port(field string, port int) {
	p.check(port >= 1 && port <= 65535, field, "port must be between 1 and 65535, got %d", port)
}

// ValidateStatic checks the settings that can be judged without touching any backing service.
func ValidateStatic(cfg *Config) error {
	var p problems

	p.port("server.port", cfg.Server.Port)
	p.check(cfg.Server.ReadTimeoutSeconds > 0, "server.read_timeout_seconds", "read timeout must be positive")
	p.check(cfg.Server.WriteTimeoutSeconds > 0, "server.write_timeout_seconds", "write timeout must be positive")

	p.broker(cfg.Broker)
	p.database(cfg.Database)
	p.scheduler(cfg.Scheduler)
	p.messaging(cfg.Messaging)
	p.retry("webhook.retry", cfg.Webhook.Retry)
	p.rateLimit(cfg.Management.RateLimit)

	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%d invalid setting(s): %w", len(p), errors.Join(p...))
}

func (p *problems) broker(cfg BrokerConfig) {
	switch cfg.Type {
	case "":
		// no bus: the management API runs without config events or audit publishing
	case "kafka":
		k := cfg.Kafka
		p.check(len(k.Brokers) > 0, "broker.kafka.brokers", "at least one Kafka broker is required")
		for i, addr := range k.Brokers {
			p.check(strings.TrimSpace(addr) != "", fmt.Sprintf("broker.kafka.brokers[%d]", i), "broker address cannot be empty")
		}
		p.check(k.GroupID != "", "broker.kafka.group_id", "Kafka consumer group ID is required")
		p.check(k.DLQTopic == "" || (k.DLQTopic != k.InputTopic && k.DLQTopic != k.ConfigUpdateTopic),
			"broker.kafka.dlq_topic", "dead letter topic must differ from the consumed topics")
		p.retry("broker.kafka.retry", k.Retry)
	default:
		p.check(false, "broker.type", "unknown broker type: %s (supported: kafka)", cfg.Type)
	}
}

func (p *problems) retry(prefix string, cfg RetryConfig) {
	p.check(cfg.MaxAttempts >= 0, prefix+".max_attempts", "max_attempts must be non-negative")
	p.check(cfg.InitialInterval >= 0, prefix+".initial_interval", "initial_interval must be non-negative")
	p.check(cfg.MaxInterval >= 0, prefix+".max_interval", "max_interval must be non-negative")
	p.check(cfg.MaxInterval <= 0 || cfg.InitialInterval <= 0 || cfg.MaxInterval >= cfg.InitialInterval,
		prefix+".max_interval", "max_interval must be greater than or equal to initial_interval")
	p.check(cfg.Multiplier > 0, prefix+".multiplier", "multiplier must be positive")
}

func (p *problems) database(cfg DatabaseConfig) {
	if pg := cfg.Postgres; pg.Host != "" || pg.Port > 0 {
		p.check(pg.Host != "", "database.postgres.host", "PostgreSQL host is required")
		p.port("database.postgres.port", pg.Port)
		p.check(pg.User != "", "database.postgres.user", "PostgreSQL user is required")
		p.check(pg.DBName != "", "database.postgres.dbname", "PostgreSQL database name is required")
		p.check(pg.SSLMode == "" || sslModes[strings.ToLower(pg.SSLMode)], "database.postgres.sslmode",
			"invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", pg.SSLMode)
	}

	if r := cfg.Redis; r.Host != "" || r.Port > 0 {
		p.check(r.Host != "", "database.redis.host", "Redis host is required")
		p.port("database.redis.port", r.Port)
	}

	if m := cfg.MongoDB; m.URI != "" {
		p.check(strings.HasPrefix(m.URI, "mongodb://") || strings.HasPrefix(m.URI, "mongodb+srv://"),
			"database.mongodb.uri", "MongoDB URI must start with mongodb:// or mongodb+srv://")
		p.check(m.Database != "", "database.mongodb.database", "MongoDB database name is required")
	}
}

func (p *problems) scheduler(cfg SchedulerConfig) {
	if !cfg.Enabled {
		return
	}
	for _, s := range []struct{ field, spec string }{
		{"scheduler.deferred_spec", cfg.DeferredSpec},
		{"scheduler.cadence_spec", cfg.CadenceSpec},
	} {
		_, err := cron.ParseStandard(s.spec)
		p.check(err == nil, s.field, "invalid schedule %q: %v", s.spec, err)
	}
	p.check(cfg.BatchSize > 0, "scheduler.batch_size", "batch size must be positive")
	p.check(cfg.ClaimStaleSeconds > 0, "scheduler.claim_stale_seconds", "claim stale timeout must be positive")
	p.check(!cfg.Lock.Enabled || cfg.Lock.TTLSeconds > 0, "scheduler.lock.ttl_seconds",
		"lock TTL must be positive when locking is enabled")
}

func (p *problems) messaging(cfg MessagingConfig) {
	p.check(cfg.DefaultRegion == "" || phonenumbers.GetSupportedRegions()[strings.ToUpper(cfg.DefaultRegion)],
		"messaging.default_region", "unsupported phone region: %s", cfg.DefaultRegion)
	p.check(cfg.RPS >= 0 && cfg.Burst >= 0, "messaging.rps", "rate limit values must be non-negative")
}

func (p *problems) rateLimit(cfg RateLimitConfig) {
	if !cfg.Enabled {
		return
	}
	p.check(cfg.RPS > 0, "management.rate_limit.rps", "rps must be positive when rate limiting is enabled")
	p.check(cfg.Burst > 0, "management.rate_limit.burst", "burst must be positive when rate limiting is enabled")
}
