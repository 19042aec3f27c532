// Package store provides the data access layer over a pgx connection pool.
// Every method issues a single committed statement; the only compound
// operation is the claim, which folds its eligibility check and state
// transition into one atomic UPDATE so concurrent workers can never both
// win the same job.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors returned by store methods. Callers match with errors.Is.
var (
	// ErrDuplicateID is returned by InsertJob when a job with the same id
	// already exists.
	ErrDuplicateID = errors.New("job id already exists")

	// ErrJobNotFound is returned when no job with the requested id exists.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotDead is returned by RetryDead when the job exists but is not
	// in the dead state.
	ErrJobNotDead = errors.New("job is not in the dead state")
)

// Store is the central data access object shared by the CLI commands and
// the worker loops. It is safe for concurrent use; the pool serializes
// conflicting writes through Postgres transaction isolation.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for callers that need raw access
// (currently only tests).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
