package dockerexec

import (
	"time"

	"dagpilot/internal/config"
)

// Config holds configuration for the scheduler container client.
type Config struct {
	Container   string        // scheduler container name or id
	DAGID       string        // dag_id passed to `airflow dags test`
	LogicalDate string        // logical date for the trial run (YYYY-MM-DD)
	ExecTimeout time.Duration // upper bound for one exec (default: 15m)
}

// LoadConfigFromEnv loads client configuration from environment variables.
// DAGID and the fallback logical date come from the DAG config.
func LoadConfigFromEnv(d config.DAG) Config {
	cfg := Config{
		Container:   config.GetEnv("AIRFLOW_CONTAINER", "airflow-scheduler"),
		DAGID:       d.ID,
		LogicalDate: config.GetEnv("TEST_LOGICAL_DATE", ""),
		ExecTimeout: config.GetDurationEnv("EXEC_TIMEOUT", 15*time.Minute),
	}
	if cfg.LogicalDate == "" && !d.StartDate.IsZero() {
		cfg.LogicalDate = d.StartDate.Format("2006-01-02")
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Container == "" {
		c.Container = "airflow-scheduler"
	}
	if c.LogicalDate == "" {
		c.LogicalDate = time.Now().UTC().Format("2006-01-02")
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 15 * time.Minute
	}
	return c
}
