package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "POSTGRES_URL", "DB_LOCK_TIMEOUT", "KAFKA_BROKERS", "REDIS_URL",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "PAYMENT_BASE_URL", "PAYMENT_API_KEY",
	"PAYMENT_SUCCESS_URL", "PAYMENT_CANCEL_URL", "PAYMENT_WEBHOOK_SECRET", "PAYMENT_SANDBOX",
	"CART_MAX_LINE_QTY", "REORDER_MULTIPLIER", "OUTBOX_POLL_INTERVAL",
	"OUTBOX_BATCH_SIZE", "SESSION_CACHE_TTL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_URL", "postgres://localhost/bookstore")
	t.Setenv("PAYMENT_SANDBOX", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 100, cfg.CartMaxLineQty)
	assert.Equal(t, 3, cfg.ReorderMultiplier)
	assert.Equal(t, time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, 24*time.Hour, cfg.SessionCacheTTL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.True(t, cfg.SandboxPayments())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_URL", "postgres://db/bookstore")
	t.Setenv("PORT", "9000")
	t.Setenv("DB_LOCK_TIMEOUT", "250ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REORDER_MULTIPLIER", "4")
	t.Setenv("PAYMENT_BASE_URL", "https://pay.example/")
	t.Setenv("PAYMENT_API_KEY", "sk_test")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 4, cfg.ReorderMultiplier)
	assert.Equal(t, "https://pay.example", cfg.PaymentBaseURL)
	assert.False(t, cfg.SandboxPayments())
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_LOCK_TIMEOUT", "soon")
	t.Setenv("CART_MAX_LINE_QTY", "many")
	t.Setenv("PAYMENT_SANDBOX", "maybe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_LOCK_TIMEOUT")
	assert.Contains(t, err.Error(), "CART_MAX_LINE_QTY")
	assert.Contains(t, err.Error(), "PAYMENT_SANDBOX")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYMENT_BASE_URL", "https://pay.example")
	t.Setenv("REORDER_MULTIPLIER", "0")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_URL is required")
	assert.Contains(t, err.Error(), "PAYMENT_API_KEY")
	assert.Contains(t, err.Error(), "REORDER_MULTIPLIER")
}

func TestValidate_PaymentProvider(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "no provider and no sandbox opt-in",
			env:     map[string]string{},
			wantErr: "PAYMENT_BASE_URL is required unless PAYMENT_SANDBOX=true",
		},
		{
			name:    "sandbox explicitly disabled",
			env:     map[string]string{"PAYMENT_SANDBOX": "false"},
			wantErr: "PAYMENT_BASE_URL is required unless PAYMENT_SANDBOX=true",
		},
		{
			name:    "sandbox and provider together",
			env:     map[string]string{"PAYMENT_SANDBOX": "true", "PAYMENT_BASE_URL": "https://pay.example", "PAYMENT_API_KEY": "sk"},
			wantErr: "mutually exclusive",
		},
		{
			name: "sandbox opt-in",
			env:  map[string]string{"PAYMENT_SANDBOX": "true"},
		},
		{
			name: "real provider",
			env:  map[string]string{"PAYMENT_BASE_URL": "https://pay.example", "PAYMENT_API_KEY": "sk"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("POSTGRES_URL", "postgres://localhost/bookstore")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.NoError(t, err)

			err = cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.env["PAYMENT_SANDBOX"] == "true", cfg.SandboxPayments())
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
