package airflow

import (
	"strings"
	"time"

	"dagpilot/internal/config"
)

// Config holds configuration for the Airflow REST client.
type Config struct {
	BaseURL                string        // e.g. http://localhost:8080
	Username               string        // basic auth user
	Password               string        // basic auth password
	DAGID                  string        // dag_id managed by this client
	HTTPTimeout            time.Duration // per-request timeout (default: 30s)
	ValidationTimeout      time.Duration // bound on waiting for a parse result (default: 5m)
	ValidationPollInterval time.Duration // delay between parse checks (default: 5s)
	ClockSkew              time.Duration // tolerated host/scheduler clock difference (default: 2s)
	LogTailLines           int           // task log lines attached to run diagnostics (default: 20)
}

// LoadConfigFromEnv loads client configuration from environment variables.
// The password is read from AIRFLOW_PASSWORD_FILE when set.
func LoadConfigFromEnv(d config.DAG) Config {
	password := config.GetSecretFile(config.GetEnv("AIRFLOW_PASSWORD_FILE", ""))
	if password == "" {
		password = config.GetEnv("AIRFLOW_PASSWORD", "airflow")
	}
	cfg := Config{
		BaseURL:                config.GetEnv("AIRFLOW_URL", "http://localhost:8080"),
		Username:               config.GetEnv("AIRFLOW_USERNAME", "airflow"),
		Password:               password,
		DAGID:                  d.ID,
		HTTPTimeout:            config.GetDurationEnv("AIRFLOW_HTTP_TIMEOUT", 30*time.Second),
		ValidationTimeout:      config.GetDurationEnv("VALIDATION_TIMEOUT", 5*time.Minute),
		ValidationPollInterval: config.GetDurationEnv("VALIDATION_POLL_INTERVAL", 5*time.Second),
		ClockSkew:              config.GetDurationEnv("AIRFLOW_CLOCK_SKEW", 2*time.Second),
		LogTailLines:           config.GetIntEnv("TASK_LOG_TAIL_LINES", 20),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.ValidationTimeout <= 0 {
		c.ValidationTimeout = 5 * time.Minute
	}
	if c.ValidationPollInterval <= 0 {
		c.ValidationPollInterval = 5 * time.Second
	}
	if c.ClockSkew < 0 {
		c.ClockSkew = 0
	}
	if c.LogTailLines < 0 {
		c.LogTailLines = 0
	}
	return c
}
