package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/streaks")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LEDGER_URL", "http://ledger.internal/")
	t.Setenv("CLERK_SECRET_KEY", "sk_test")
	t.Setenv("INGEST_SIGNING_KEY", "ingest")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "3333", cfg.Port)
	assert.Equal(t, "http://ledger.internal", cfg.LedgerURL)
	assert.Equal(t, 3*time.Second, cfg.LedgerTimeout)
	assert.Equal(t, 3, cfg.LedgerAttempts)
	assert.Equal(t, 100, cfg.RecoveryRegularCost)
	assert.Equal(t, 24*time.Hour, cfg.RecoveryWindow)
	assert.False(t, cfg.OtelEnabled)
}

func TestFromEnv_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RECOVERY_REGULAR_COST", "250")
	t.Setenv("RECOVERY_TTL", "12h")
	t.Setenv("LEDGER_TIMEOUT", "not-a-duration")
	t.Setenv("OTEL_ENABLED", "yes")
	t.Setenv("REDIS_DB", "2")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.RecoveryRegularCost)
	assert.Equal(t, 12*time.Hour, cfg.RecoveryWindow)
	assert.Equal(t, 3*time.Second, cfg.LedgerTimeout)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, 2, cfg.RedisDB)
}

func TestFromEnv_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LEDGER_URL", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_URL, REDIS_ADDR")
}

func TestFromEnv_NegativeCost(t *testing.T) {
	setRequired(t)
	t.Setenv("RECOVERY_REGULAR_COST", "-1")

	_, err := FromEnv()
	assert.Error(t, err)
}
