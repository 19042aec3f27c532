// ABOUTME: Worker registry — heartbeat rows so operators can see which
// ABOUTME: workers are alive when deciding whether a processing job is stuck.
package store

import (
	"context"
	"fmt"
	"time"
)

// WorkerHeartbeat upserts the registry row for workerID, stamping
// last_heartbeat with the current time.
func (s *Store) WorkerHeartbeat(ctx context.Context, workerID string, pid int) error {
	now := time.Now().UTC().Truncate(time.Second)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workers (worker_id, pid, started_at, last_heartbeat)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (worker_id) DO UPDATE SET last_heartbeat = excluded.last_heartbeat`,
		workerID, pid, now,
	)
	if err != nil {
		return fmt.Errorf("worker heartbeat %s: %w", workerID, err)
	}
	return nil
}

// RemoveWorker deletes the registry row for workerID. Called on clean
// worker exit; a crashed worker leaves its row behind, which is exactly the
// evidence `worker requeue-stale` is for.
func (s *Store) RemoveWorker(ctx context.Context, workerID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM workers WHERE worker_id = $1`, workerID); err != nil {
		return fmt.Errorf("remove worker %s: %w", workerID, err)
	}
	return nil
}

// CountWorkers returns the number of registered workers with a heartbeat
// newer than within.
func (s *Store) CountWorkers(ctx context.Context, within time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-within)
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM workers WHERE last_heartbeat >= $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count workers: %w", err)
	}
	return n, nil
}
