package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "sqlite", cfg.Store.Driver)
	require.Equal(t, 5*time.Second, cfg.Store.OpTimeout)
	require.True(t, cfg.Store.SeedSituations)
	require.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	require.False(t, cfg.Kafka.Enabled)
	require.Equal(t, 100, cfg.Dispatch.BatchSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MARKETPLACE_STORE_DRIVER", "postgres")
	t.Setenv("MARKETPLACE_STORE_OP_TIMEOUT", "750ms")
	t.Setenv("MARKETPLACE_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("MARKETPLACE_IDENTITY_BASE_URL", "http://users.local/")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Store.Driver)
	require.Equal(t, 750*time.Millisecond, cfg.Store.OpTimeout)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, "http://users.local", cfg.Identity.BaseURL)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("MARKETPLACE_STORE_DRIVER", "mysql")

	_, err := Load()
	require.ErrorContains(t, err, "unsupported store.driver")
}
