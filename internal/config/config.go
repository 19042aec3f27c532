// Package config parses and validates process-level configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at command startup; pass the resulting [Config] to
// subcommands. Only plumbing lives here (database URL, pool sizing, logging);
// queue tunables such as backoff_base are shared state between processes and
// live in the database config table instead.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all process configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL       string        `env:"DATABASE_URL,required"`
	DBMaxConns        int32         `env:"DB_MAX_CONNS"          envDefault:"10"`
	DBMaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`

	// ── Workers ──────────────────────────────────────────────────────────────────
	// PollInterval is how long an idle worker sleeps between claim attempts.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	// ShutdownGrace bounds how long `worker start` waits for in-flight jobs
	// after requesting a stop before force-cancelling stragglers.
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"30s"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
