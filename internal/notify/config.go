package notify

import (
	"time"

	"dagpilot/internal/config"
)

// Hardcoded delivery defaults - these rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultInitialBackoff   = 100 * time.Millisecond
	defaultMaxBackoff       = 5 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

// WebhookConfig holds configuration for the webhook notifier.
type WebhookConfig struct {
	URL         string        // destination, empty disables delivery
	SigningKey  string        // HMAC key, empty = no signing
	BufferSize  int           // pending events buffer (default: 256)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
}

// LoadConfigFromEnv loads notifier configuration from environment variables.
// The URL and signing key come from the service config.
func LoadConfigFromEnv(url, signingKey string) WebhookConfig {
	cfg := WebhookConfig{
		URL:         url,
		SigningKey:  signingKey,
		BufferSize:  config.GetIntEnv("NOTIFIER_BUFFER_SIZE", 256),
		HTTPTimeout: config.GetDurationEnv("NOTIFIER_HTTP_TIMEOUT", 10*time.Second),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c WebhookConfig) withDefaults() WebhookConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}
