package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"crmflow/internal/constants"
)

// envKeys are the settings that may be overridden from the environment. Each key maps to its
// upper-cased, underscore-separated name: database.postgres.host reads DATABASE_POSTGRES_HOST.
var envKeys = []string{
	"broker.type",
	"broker.kafka.brokers",
	"broker.kafka.group_id",
	"broker.kafka.input_topic",
	"broker.kafka.output_topic",
	"broker.kafka.config_update_topic",
	"broker.kafka.dlq_topic",

	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.user",
	"database.postgres.password",
	"database.postgres.dbname",
	"database.postgres.sslmode",
	"database.run_migrations",
	"database.redis.host",
	"database.redis.port",
	"database.redis.password",
	"database.redis.db",
	"database.mongodb.uri",
	"database.mongodb.database",

	"server.port",
	"server.read_timeout_seconds",
	"server.write_timeout_seconds",
	"logging.level",
	"logging.format",

	"tracing.enabled",
	"tracing.service_name",
	"tracing.otlp.endpoint",
	"tracing.otlp.insecure",
	"sentry.dsn",
	"sentry.environment",

	"email.sendgrid_api_key",
	"email.from_email",
	"email.from_name",
	"messaging.sms_url",
	"messaging.whatsapp_url",
	"messaging.api_key",
	"webhook.signing_secret",

	"scheduler.enabled",
	"scheduler.lock.enabled",
	"management.rate_limit.enabled",
}

var defaults = map[string]interface{}{
	"broker.type":                   "kafka",
	"broker.kafka.input_topic":      constants.DefaultInputTopic,
	"broker.kafka.output_topic":     constants.DefaultOutputTopic,
	"broker.kafka.retry.multiplier": 2.0,

	"scheduler.enabled":             true,
	"scheduler.deferred_spec":       constants.DefaultSchedulerSpec,
	"scheduler.cadence_spec":        constants.DefaultSchedulerSpec,
	"scheduler.batch_size":          constants.DefaultSweepBatchSize,
	"scheduler.claim_stale_seconds": constants.DefaultClaimStaleSeconds,
	"scheduler.lock.ttl_seconds":    constants.DefaultLockTTLSeconds,

	"rules.reload.interval_seconds": constants.DefaultReloadInterval,
	"messaging.default_region":      constants.DefaultPhoneRegion,
	"webhook.retry.multiplier":      2.0,
	"database.mongodb.database":     constants.DefaultMongoDBName,
}

// LoadConfig reads the YAML file, layers environment overrides on top and validates the result.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Broker.Kafka.Brokers = splitList(cfg.Broker.Kafka.Brokers)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// splitList flattens comma separated entries, as they arrive from the environment, and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
