package lifecycle

import (
	"time"

	"dagpilot/internal/config"
	"dagpilot/pkg/backoff"
)

// Config bounds a session. The generation ceiling and the infrastructure
// retry budget are independent.
type Config struct {
	DAGsDir        string         // scheduler definitions directory (default: dags)
	MaxGenerations int            // generation ceiling (default: 10)
	MaxWallClock   time.Duration  // session wall-clock ceiling (default: 1h)
	Infra          backoff.Policy // per-call retry budget for transient faults
	Poll           backoff.Config // monitor wait policy (default: 5s doubling to 60s)
	AbortTimeout   time.Duration  // time allowed to abort a live run on shutdown (default: 10s)
}

// LoadConfigFromEnv loads controller configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		DAGsDir:        config.GetEnv("DAGS_DIR", "dags"),
		MaxGenerations: config.GetIntEnv("MAX_GENERATIONS", 10),
		MaxWallClock:   config.GetDurationEnv("MAX_WALL_CLOCK", time.Hour),
		Infra: backoff.Policy{
			Config: backoff.Config{
				Initial: config.GetDurationEnv("INFRA_BACKOFF_INITIAL", time.Second),
				Max:     config.GetDurationEnv("INFRA_BACKOFF_MAX", 30*time.Second),
			},
			MaxRetries: config.GetIntEnv("INFRA_MAX_RETRIES", 3),
		},
		Poll: backoff.Config{
			Initial: config.GetDurationEnv("POLL_INITIAL", 5*time.Second),
			Max:     config.GetDurationEnv("POLL_MAX", 60*time.Second),
		},
		AbortTimeout: config.GetDurationEnv("SHUTDOWN_GRACE", 10*time.Second),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.DAGsDir == "" {
		c.DAGsDir = "dags"
	}
	if c.MaxGenerations <= 0 {
		c.MaxGenerations = 10
	}
	if c.MaxWallClock <= 0 {
		c.MaxWallClock = time.Hour
	}
	if c.Infra.MaxRetries <= 0 {
		c.Infra.MaxRetries = 3
	}
	if c.Infra.Initial <= 0 {
		c.Infra.Initial = time.Second
	}
	if c.Infra.Max <= 0 {
		c.Infra.Max = 30 * time.Second
	}
	if c.Poll.Initial <= 0 {
		c.Poll.Initial = 5 * time.Second
	}
	if c.Poll.Max <= 0 {
		c.Poll.Max = 60 * time.Second
	}
	if c.AbortTimeout <= 0 {
		c.AbortTimeout = 10 * time.Second
	}
	return c
}
