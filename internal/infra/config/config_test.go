package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 15*time.Minute, cfg.HoldTTL)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
	assert.Len(t, cfg.CancellationPolicies, 3)
	assert.Equal(t, 10*time.Minute, cfg.RefundSweepIdle)
	assert.Equal(t, time.Minute, cfg.longestRetryDelay())

	book, err := cfg.PolicyBook()
	require.NoError(t, err)
	assert.Equal(t, 50, book.Lookup("strict").Windows[0].RefundPercent)
	assert.Equal(t, "flexible", book.Lookup("unknown").ID)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RETRY_BACKOFF", "2s,10s")
	t.Setenv("WEBHOOK_SECRETS", "stripe:s3cr3t,adyen:other")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CANCELLATION_POLICIES", `[{"id":"flexible","windows":[{"min_hours_before":48,"refund_percent":100}]}]`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second}, cfg.RetryBackoff)
	assert.Equal(t, "s3cr3t", cfg.WebhookSecrets["stripe"])
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Len(t, cfg.CancellationPolicies, 1)
	assert.Equal(t, 48, cfg.CancellationPolicies[0].Windows[0].MinHoursBefore)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"mongo without uri":    {"STORAGE": "mongo"},
		"asynq without redis":  {"REFUND_DISPATCHER": "asynq"},
		"unknown storage":      {"STORAGE": "postgres"},
		"bad backoff":          {"RETRY_BACKOFF": "1s,soon"},
		"bad policies":         {"CANCELLATION_POLICIES": "{"},
		"sweep before retries": {"REFUND_SWEEP_IDLE": "30s"},
	}
	for name, env := range cases {
		env := env // per-iteration copy; go.mod targets go1.21 loop semantics
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
