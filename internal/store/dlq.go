// ABOUTME: Dead-letter queue operations — listing dead jobs and resurrecting
// ABOUTME: one back to pending with its attempt budget reset.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ListDead returns jobs in the dead state, ordered by creation time
// ascending, bounded by limit.
func (s *Store) ListDead(ctx context.Context, limit int) ([]Job, error) {
	dead := StateDead
	return s.ListJobs(ctx, &dead, limit)
}

// RetryDead moves a dead job back to pending: attempts reset to 0,
// last_error cleared, available_at set to now. Returns the updated job.
//
// The state guard lives inside the UPDATE itself, so a concurrent retry of
// the same job (or a racing state change) can affect at most one caller.
// Returns ErrJobNotFound if no such job exists and ErrJobNotDead if it
// exists in any other state; neither mutates anything.
func (s *Store) RetryDead(ctx context.Context, id string) (*Job, error) {
	now := time.Now().UTC().Truncate(time.Second)
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET state = $1, attempts = 0, available_at = $2, updated_at = $2,
			last_error = NULL, locked_by = NULL
		WHERE id = $3 AND state = $4
		RETURNING `+jobColumns,
		StatePending, now, id, StateDead,
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish missing from wrong-state for the caller's error message.
		if _, getErr := s.GetJob(ctx, id); errors.Is(getErr, ErrJobNotFound) {
			return nil, ErrJobNotFound
		} else if getErr != nil {
			return nil, getErr
		}
		return nil, ErrJobNotDead
	}
	if err != nil {
		return nil, fmt.Errorf("retry dead job %s: %w", id, err)
	}
	return j, nil
}
