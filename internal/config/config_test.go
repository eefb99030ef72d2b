package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("RATE_LIMIT_REQUESTS", "")
	t.Setenv("SESSION_SWEEP_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 30*time.Minute, cfg.Session.InactivityTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Session.SweepInterval)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, int64(10<<20), cfg.MaxBodyBytes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://streamin.example")
	t.Setenv("SESSION_INACTIVITY_TIMEOUT", "10m")
	t.Setenv("POSTGRES_MAX_OPEN_CONNS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"https://streamin.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 10*time.Minute, cfg.Session.InactivityTimeout)
	assert.Equal(t, 25, cfg.Postgres.MaxOpenConns)
}

func TestValidate(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	_, err := Load()
	assert.ErrorIs(t, err, ErrUnknownStoreDriver)

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SESSION_SWEEP_INTERVAL", "-1s")
	_, err = Load()
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestLocation(t *testing.T) {
	cfg := &Config{Timezone: "Local"}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.Timezone = "Nowhere/Special"
	_, err = cfg.Location()
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", Username: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", cfg.PostgresDSN())
}
