// ABOUTME: Store methods for the jobs table — insert, read, list, claim, and
// ABOUTME: post-execution result persistence.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// State is a job lifecycle state.
type State string

// Job lifecycle states. Completed and dead are terminal; failed is terminal
// unless an operator re-enqueues the job by hand.
const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateDead       State = "dead"
)

// States lists all job states in display order.
var States = []State{StatePending, StateProcessing, StateCompleted, StateFailed, StateDead}

// Job is the unit of work. IDs are caller-supplied and immutable.
// AvailableAt is only meaningful while the job is pending: it is the
// earliest time a claim may succeed, nil meaning immediately eligible.
type Job struct {
	ID          string
	Command     string
	State       State
	Attempts    int
	MaxRetries  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	AvailableAt *time.Time
	LockedBy    *string
	LastError   *string
	Stdout      string
	Stderr      string
}

const jobColumns = `id, command, state, attempts, max_retries, created_at, updated_at,
	available_at, locked_by, last_error, COALESCE(stdout, ''), COALESCE(stderr, '')`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.Command, &j.State, &j.Attempts, &j.MaxRetries,
		&j.CreatedAt, &j.UpdatedAt, &j.AvailableAt, &j.LockedBy, &j.LastError,
		&j.Stdout, &j.Stderr,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// InsertJob persists a new pending job. Returns ErrDuplicateID if a job with
// the same id already exists; nothing is written in that case.
func (s *Store) InsertJob(ctx context.Context, j *Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, command, state, attempts, max_retries,
			created_at, updated_at, available_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		j.ID, j.Command, j.State, j.Attempts, j.MaxRetries,
		j.CreatedAt, j.UpdatedAt, j.AvailableAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns the job with the given id, or ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns jobs ordered by creation time ascending, optionally
// filtered by state, bounded by limit.
func (s *Store) ListJobs(ctx context.Context, state *State, limit int) ([]Job, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.Select(jobColumns).
		From("jobs").
		OrderBy("created_at ASC").
		Limit(uint64(limit))
	if state != nil {
		sb = sb.Where(sq.Eq{"state": string(*state)})
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Claim atomically transitions the oldest eligible pending job to processing
// and binds it to workerID. Returns (nil, nil) when no job is currently
// eligible.
//
// The eligibility check, the transition, and the read-back are one statement:
// FOR UPDATE SKIP LOCKED makes concurrent claimants skip a row already won
// by another transaction, and the outer state='pending' guard re-checks the
// row at update time. There is no read-then-write gap for two workers to
// race through.
func (s *Store) Claim(ctx context.Context, workerID string) (*Job, error) {
	now := time.Now().UTC().Truncate(time.Second)
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET state = $1, locked_by = $2, updated_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = $4 AND (available_at IS NULL OR available_at <= $3)
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		AND state = $4
		RETURNING `+jobColumns,
		StateProcessing, workerID, now, StatePending,
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// CompleteJob marks a processing job as completed, clearing last_error and
// the worker lock, and stores the captured output of the final attempt.
func (s *Store) CompleteJob(ctx context.Context, id, stdout, stderr string) error {
	now := time.Now().UTC().Truncate(time.Second)
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = $1, updated_at = $2, locked_by = NULL, last_error = NULL,
			stdout = $3, stderr = $4
		WHERE id = $5`,
		StateCompleted, now, stdout, stderr, id,
	)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// RescheduleJob records a failed attempt and puts the job back in pending,
// eligible again at availableAt.
func (s *Store) RescheduleJob(ctx context.Context, id string, attempts int, availableAt time.Time, lastError, stdout, stderr string) error {
	now := time.Now().UTC().Truncate(time.Second)
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = $1, attempts = $2, available_at = $3, updated_at = $4,
			locked_by = NULL, last_error = $5, stdout = $6, stderr = $7
		WHERE id = $8`,
		StatePending, attempts, availableAt.UTC().Truncate(time.Second), now,
		lastError, stdout, stderr, id,
	)
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", id, err)
	}
	return nil
}

// BuryJob moves a job whose retries are exhausted to the dead-letter queue.
func (s *Store) BuryJob(ctx context.Context, id string, attempts int, lastError, stdout, stderr string) error {
	now := time.Now().UTC().Truncate(time.Second)
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = $1, attempts = $2, updated_at = $3, locked_by = NULL,
			last_error = $4, stdout = $5, stderr = $6
		WHERE id = $7`,
		StateDead, attempts, now, lastError, stdout, stderr, id,
	)
	if err != nil {
		return fmt.Errorf("bury job %s: %w", id, err)
	}
	return nil
}

// MarkFailed records a processor fault — something went wrong outside the
// command's own success or failure. The job is parked in failed and is not
// retried automatically.
func (s *Store) MarkFailed(ctx context.Context, id, diagnostic string) error {
	now := time.Now().UTC().Truncate(time.Second)
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = $1, updated_at = $2, locked_by = NULL, last_error = $3
		WHERE id = $4`,
		StateFailed, now, diagnostic, id,
	)
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", id, err)
	}
	return nil
}

// CountByState returns per-state job counts, zero-filled for all five states.
func (s *Store) CountByState(ctx context.Context) (map[State]int, error) {
	counts := make(map[State]int, len(States))
	for _, st := range States {
		counts[st] = 0
	}

	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st State
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

// RequeueStale resets jobs stuck in processing longer than olderThan back to
// pending, clearing the stale lock. Attempts are left untouched — the stuck
// attempt never produced a result to judge. Returns the number requeued.
//
// Only invoked explicitly by `worker requeue-stale`; nothing reclaims a
// stale lock automatically.
func (s *Store) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC().Truncate(time.Second)
	cutoff := now.Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = $1, locked_by = NULL, available_at = $2, updated_at = $2
		WHERE state = $3 AND updated_at < $4`,
		StatePending, now, StateProcessing, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
