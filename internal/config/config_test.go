package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reclaim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Recovery.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Recovery.AttemptTimeout)
	assert.Equal(t, []int{1}, cfg.Recovery.Notifications.ReminderAfter)
	assert.Equal(t, 1, cfg.Recovery.Notifications.ReminderBeforeExhaustion)
	assert.False(t, cfg.SMTP.Enabled)
	assert.Equal(t, 10*time.Second, cfg.SMTP.Timeout)
}

func TestLoad_RecoveryOverrides(t *testing.T) {
	path := writeConfig(t, `
recovery:
  poll_interval: 0s
  workers: 2
  max_retries:
    insufficient_funds: 6
  schedules:
    processing_error: ["30m", "2h", "12h"]
  notifications:
    reminder_after: [1, 2]
    reminder_before_exhaustion: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Zero(t, cfg.Recovery.PollInterval)
	assert.Equal(t, 2, cfg.Recovery.Workers)
	assert.Equal(t, 6, cfg.Recovery.MaxRetries["insufficient_funds"])
	assert.Equal(t, []time.Duration{30 * time.Minute, 2 * time.Hour, 12 * time.Hour},
		cfg.Recovery.Schedules["processing_error"])
	assert.Equal(t, []int{1, 2}, cfg.Recovery.Notifications.ReminderAfter)
	assert.Zero(t, cfg.Recovery.Notifications.ReminderBeforeExhaustion)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RECLAIM_STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("RECLAIM_RECOVERY_BATCH_SIZE", "25")

	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)
	assert.Equal(t, 25, cfg.Recovery.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "recovery:\n  workers: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "smtp:\n  enabled: true\n"))
	assert.Error(t, err)
}
