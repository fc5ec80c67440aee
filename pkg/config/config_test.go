package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, []string{"MRI_AGCM3_2_S", "EC_Earth3P_HR"}, cfg.Climate.Models)
	assert.Equal(t, 5000, cfg.Batch.MaxCells)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, 60*time.Second, cfg.Batch.FetchTimeout)
	assert.Equal(t, time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Batch.MinDate)
	assert.Equal(t, time.Date(2050, 12, 31, 0, 0, 0, 0, time.UTC), cfg.Batch.MaxDate)
	assert.Equal(t, 91, cfg.Maps.NLat)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "climate.batches", cfg.Kafka.TopicBatches)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", "/tmp/climate.db")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CLIMATE_MODELS", "EC_Earth3P_HR")
	t.Setenv("BATCH_WORKERS", "8")
	t.Setenv("CLIMATE_CACHE_TTL", "15m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/climate.db", cfg.Database.DSN())
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"EC_Earth3P_HR"}, cfg.Climate.Models)
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Climate.CacheTTL)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("BATCH_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
	assert.Contains(t, err.Error(), "BATCH_WORKERS")
}

func TestLoad_InvalidDate(t *testing.T) {
	t.Setenv("BATCH_MIN_DATE", "1950/01/01")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_PostgresDSN(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5433, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=disable", d.DSN())
}
