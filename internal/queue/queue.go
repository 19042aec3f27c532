// Package queue holds the producer-side operations: payload validation,
// enqueue, and the status summary. Validation failures never touch the
// store — a job is either written whole or not at all.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ridhi-215/queuectl/internal/store"
)

// payload is the JSON object accepted by enqueue.
// MaxRetries is a pointer to tell "absent" apart from an explicit 0.
type payload struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	MaxRetries *int   `json:"max_retries"`
}

// ValidationError marks a rejected enqueue payload. Callers surface it to
// the user verbatim; it never indicates a store problem.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Enqueue parses, validates, and inserts a job described by raw JSON.
// When max_retries is absent the current default_max_retries config value is
// frozen into the job; later config changes do not affect it. Returns the
// inserted job.
func Enqueue(ctx context.Context, s *store.Store, raw []byte) (*store.Job, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, validationErrorf("invalid job JSON: %v", err)
	}

	if strings.TrimSpace(p.ID) == "" {
		return nil, validationErrorf("job must contain a non-empty string 'id' field")
	}
	if strings.TrimSpace(p.Command) == "" {
		return nil, validationErrorf("job must contain a non-empty string 'command' field")
	}

	maxRetries := 0
	if p.MaxRetries != nil {
		if *p.MaxRetries < 0 {
			return nil, validationErrorf("max_retries must be a non-negative integer")
		}
		maxRetries = *p.MaxRetries
	} else {
		def, err := s.DefaultMaxRetries(ctx)
		if err != nil {
			return nil, err
		}
		maxRetries = def
	}

	now := time.Now().UTC().Truncate(time.Second)
	job := &store.Job{
		ID:          strings.TrimSpace(p.ID),
		Command:     strings.TrimSpace(p.Command),
		State:       store.StatePending,
		Attempts:    0,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
		AvailableAt: &now,
	}

	if err := s.InsertJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Summary is the output of Status: zero-filled per-state counts, the
// current stop flag, and the number of workers with a recent heartbeat.
type Summary struct {
	Counts        map[store.State]int
	StopFlag      string
	ActiveWorkers int
}

// heartbeatWindow is how recent a heartbeat must be for a worker to count
// as active in the status summary.
const heartbeatWindow = 30 * time.Second

// Status returns the queue summary.
func Status(ctx context.Context, s *store.Store) (*Summary, error) {
	counts, err := s.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	stopFlag, err := s.GetSetting(ctx, store.KeyWorkersStop, "0")
	if err != nil {
		return nil, err
	}
	workers, err := s.CountWorkers(ctx, heartbeatWindow)
	if err != nil {
		return nil, err
	}
	return &Summary{Counts: counts, StopFlag: stopFlag, ActiveWorkers: workers}, nil
}

// IsValidation reports whether err is a payload validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
