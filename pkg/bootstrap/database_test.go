package bootstrap

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/config"
	"crmflow/internal/logger"
	"crmflow/pkg/health"
)

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.PostgresConfig{
		Host: "db", Port: 5432, User: "crm", Password: "secret", DBName: "crmflow",
	})
	assert.Equal(t, "postgres://crm:secret@db:5432/crmflow?sslmode=disable", dsn)
}

func TestOptionalStoresAreSkipped(t *testing.T) {
	dc := NewDatabaseConnector(&config.Config{}, logger.NopLogger())
	ctx := context.Background()

	_, err := dc.InitPostgreSQL(ctx)
	assert.ErrorIs(t, err, ErrPostgresNotConfigured)

	rdb, err := dc.InitRedis(ctx)
	require.NoError(t, err)
	assert.Nil(t, rdb)

	mdb, err := dc.InitMongoDB(ctx)
	require.NoError(t, err)
	assert.Nil(t, mdb)

	assert.Empty(t, dc.ShutdownDatabases(ctx))
}

func TestHealthRegistryMarksRedisOptional(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Database.Redis.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Database.Redis.Port = port

	dc := NewDatabaseConnector(cfg, logger.NopLogger())
	rdb, err := dc.InitRedis(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rdb)
	t.Cleanup(func() { dc.ShutdownDatabases(context.Background()) })

	// no postgres connection yet, so the required check fails
	h := dc.HealthRegistry().Check(context.Background())
	assert.Equal(t, health.StatusUnhealthy, h.Status)
	assert.Equal(t, health.StatusHealthy, h.Checks["redis"].Status)
	assert.True(t, h.Checks["redis"].Optional)
	assert.Equal(t, health.StatusUnhealthy, h.Checks["postgresql"].Status)
}
