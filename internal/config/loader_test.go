package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
server:
  port: 8080
  read_timeout_seconds: 15s
  write_timeout_seconds: 15s
broker:
  type: kafka
  kafka:
    brokers: ["localhost:9092"]
    group_id: automation
database:
  postgres:
    host: localhost
    port: 5432
    user: crm
    dbname: crm
    sslmode: disable
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeoutSeconds)
	assert.Equal(t, "crm_events", cfg.Broker.Kafka.InputTopic)
	assert.Equal(t, "automation_events", cfg.Broker.Kafka.OutputTopic)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "@every 60s", cfg.Scheduler.CadenceSpec)
	assert.Equal(t, 200, cfg.Scheduler.BatchSize)
	assert.Equal(t, "US", cfg.Messaging.DefaultRegion)
	assert.Equal(t, 30, cfg.Rules.Reload.IntervalSeconds)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("BROKER_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("EMAIL_SENDGRID_API_KEY", "sg-key")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "sg-key", cfg.Email.SendGridAPIKey)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, 0.6, cfg.CircuitBreaker.FailureRatio)
	assert.Equal(t, 3, cfg.Webhook.Retry.MaxAttempts)
}
