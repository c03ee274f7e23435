// Package config provides configuration loading from environment variables
// and the YAML DAG definition file.
package config

import (
	"log/slog"
	"time"
)

// ServiceConfig holds process-level settings for dagpilot.
type ServiceConfig struct {
	DAGFile           string // Path to the YAML DAG definition
	MetricsPort       string // Port for /metrics, /livez, /readyz and /v1/session (empty disables)
	StatusAPIKey      string // Bearer token for /v1 endpoints (empty disables auth)
	LogLevel          slog.Level
	WebhookURL        string        // Optional CloudEvents sink for lifecycle transitions
	WebhookKey        string        // HMAC key for webhook signing
	ShutdownGrace     time.Duration // Time allowed to abort a live run on shutdown
	GeneratorMode     string        // "template", "command" or "inbox"
	GeneratorCommand  string        // Program run by the command generator
	GeneratorInboxDir string        // Directory watched by the inbox generator
	GeneratorTimeout  time.Duration
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		DAGFile:           GetEnv("DAG_FILE", "dag.yaml"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		StatusAPIKey:      GetSecretFile(GetEnv("STATUS_API_KEY_FILE", "")),
		LogLevel:          GetLevelEnv("LOG_LEVEL", slog.LevelInfo),
		WebhookURL:        GetEnv("WEBHOOK_URL", ""),
		WebhookKey:        GetSecretFile(GetEnv("WEBHOOK_KEY_FILE", "")),
		ShutdownGrace:     GetDurationEnv("SHUTDOWN_GRACE", 10*time.Second),
		GeneratorMode:     GetEnv("GENERATOR", "template"),
		GeneratorCommand:  GetEnv("GENERATOR_COMMAND", ""),
		GeneratorInboxDir: GetEnv("GENERATOR_INBOX_DIR", ".dagpilot/inbox"),
		GeneratorTimeout:  GetDurationEnv("GENERATOR_TIMEOUT", 10*time.Minute),
	}
}
