// Package config reads the bookstore service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port         string
	PostgresURL  string
	LockTimeout  time.Duration
	KafkaBrokers []string
	RedisURL     string
	OTLPEndpoint string

	PaymentBaseURL       string
	PaymentAPIKey        string
	PaymentSuccessURL    string
	PaymentCancelURL     string
	PaymentWebhookSecret string
	// PaymentSandbox approves every hosted session without a provider.
	PaymentSandbox bool

	CartMaxLineQty    int
	ReorderMultiplier int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	SessionCacheTTL    time.Duration
}

// Load applies defaults for unset variables. Values that are set but do not
// parse are reported together.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:                 getString("PORT", "8081"),
		PostgresURL:          os.Getenv("POSTGRES_URL"),
		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		RedisURL:             os.Getenv("REDIS_URL"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PaymentBaseURL:       strings.TrimRight(os.Getenv("PAYMENT_BASE_URL"), "/"),
		PaymentAPIKey:        os.Getenv("PAYMENT_API_KEY"),
		PaymentSuccessURL:    getString("PAYMENT_SUCCESS_URL", "http://localhost:3000/checkout/success"),
		PaymentCancelURL:     getString("PAYMENT_CANCEL_URL", "http://localhost:3000/cart"),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
	}

	cfg.PaymentSandbox = getBool("PAYMENT_SANDBOX", false, &errs)
	cfg.LockTimeout = getDuration("DB_LOCK_TIMEOUT", 5*time.Second, &errs)
	cfg.CartMaxLineQty = getInt("CART_MAX_LINE_QTY", 100, &errs)
	cfg.ReorderMultiplier = getInt("REORDER_MULTIPLIER", 3, &errs)
	cfg.OutboxPollInterval = getDuration("OUTBOX_POLL_INTERVAL", time.Second, &errs)
	cfg.OutboxBatchSize = getInt("OUTBOX_BATCH_SIZE", 100, &errs)
	cfg.SessionCacheTTL = getDuration("SESSION_CACHE_TTL", 24*time.Hour, &errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.PostgresURL == "" {
		errs = append(errs, errors.New("POSTGRES_URL is required"))
	}
	switch {
	case c.PaymentSandbox && c.PaymentBaseURL != "":
		errs = append(errs, errors.New("PAYMENT_SANDBOX and PAYMENT_BASE_URL are mutually exclusive"))
	case !c.PaymentSandbox && c.PaymentBaseURL == "":
		errs = append(errs, errors.New("PAYMENT_BASE_URL is required unless PAYMENT_SANDBOX=true"))
	case c.PaymentBaseURL != "" && c.PaymentAPIKey == "":
		errs = append(errs, errors.New("PAYMENT_API_KEY is required when PAYMENT_BASE_URL is set"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("DB_LOCK_TIMEOUT must be positive"))
	}
	if c.CartMaxLineQty < 1 {
		errs = append(errs, errors.New("CART_MAX_LINE_QTY must be at least 1"))
	}
	if c.ReorderMultiplier < 1 {
		errs = append(errs, errors.New("REORDER_MULTIPLIER must be at least 1"))
	}
	if c.OutboxBatchSize < 1 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be at least 1"))
	}
	return errors.Join(errs...)
}

// SandboxPayments reports whether the operator opted into auto-approved
// payments instead of a real provider.
func (c *Config) SandboxPayments() bool {
	return c.PaymentSandbox
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getBool(key string, fallback bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
