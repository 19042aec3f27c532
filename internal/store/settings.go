// ABOUTME: Store methods for the config key/value table — the one piece of
// ABOUTME: shared mutable state between the CLI, the enqueue path, and workers.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// Config keys understood by the system. Defaults are seeded by the initial
// migration; readers still fall back to the same defaults if a row is
// missing or malformed, so a partially seeded table never breaks a worker.
const (
	KeyBackoffBase       = "backoff_base"        // integer >= 1, default 2
	KeyDefaultMaxRetries = "default_max_retries" // integer >= 0, default 3
	KeyJobTimeoutSeconds = "job_timeout_seconds" // integer, 0 = unlimited
	KeyWorkersStop       = "workers:stop"        // "0" or "1"
)

// KnownSettings lists every valid config key, for `config set` validation.
var KnownSettings = []string{
	KeyBackoffBase, KeyDefaultMaxRetries, KeyJobTimeoutSeconds, KeyWorkersStop,
}

// GetSetting returns the config value for key, or def when no row exists.
func (s *Store) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a config value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// intSetting reads key as an integer, falling back to def on a missing row
// or an unparsable value.
func (s *Store) intSetting(ctx context.Context, key string, def int) (int, error) {
	v, err := s.GetSetting(ctx, key, strconv.Itoa(def))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// BackoffBase returns the exponential backoff base (>= 1, default 2).
func (s *Store) BackoffBase(ctx context.Context) (int, error) {
	n, err := s.intSetting(ctx, KeyBackoffBase, 2)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 2, nil
	}
	return n, nil
}

// DefaultMaxRetries returns the max_retries applied to jobs enqueued
// without one (default 3).
func (s *Store) DefaultMaxRetries(ctx context.Context) (int, error) {
	n, err := s.intSetting(ctx, KeyDefaultMaxRetries, 3)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 3, nil
	}
	return n, nil
}

// JobTimeout returns the configured per-job execution timeout.
// Zero means unlimited.
func (s *Store) JobTimeout(ctx context.Context) (time.Duration, error) {
	n, err := s.intSetting(ctx, KeyJobTimeoutSeconds, 0)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}
	return time.Duration(n) * time.Second, nil
}

// StopRequested reports whether the cooperative stop flag is set. Workers
// poll this at the top of every loop iteration.
func (s *Store) StopRequested(ctx context.Context) (bool, error) {
	v, err := s.GetSetting(ctx, KeyWorkersStop, "0")
	if err != nil {
		return false, err
	}
	return v == "1", nil
}
