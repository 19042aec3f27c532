// Package worker runs the claim-execute-persist loop against the shared
// store. Workers hold no in-memory state in common — the store's atomic
// claim is the only coordination between them — so the same loop works
// whether workers run as goroutines in one process or across machines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Ridhi-215/queuectl/internal/runner"
	"github.com/Ridhi-215/queuectl/internal/store"
)

// Worker is a single claim-execute loop bound to one worker identity.
type Worker struct {
	id           string
	store        *store.Store
	pollInterval time.Duration
}

// New creates a Worker with a fresh identity. The id lands in the locked_by
// column of every job this worker claims.
func New(s *store.Store, pollInterval time.Duration) *Worker {
	return &Worker{
		id:           uuid.NewString(),
		store:        s,
		pollInterval: pollInterval,
	}
}

// ID returns the worker's identity.
func (w *Worker) ID() string { return w.id }

// Run executes the worker loop until ctx is cancelled or the shared
// workers:stop flag is observed. Each iteration checks the stop flag,
// attempts one claim, and either sleeps the poll interval (nothing eligible)
// or executes the claimed job and immediately loops again.
//
// Store errors are logged and absorbed — an autonomous worker never dies on
// a transient failure. Cancellation during execution does not revert the
// claim; the in-flight job finishes (or hits its timeout) first.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker started", "worker_id", w.id)
	defer w.deregister()

	for {
		if ctx.Err() != nil {
			slog.Info("worker cancelled", "worker_id", w.id)
			return
		}

		stop, err := w.store.StopRequested(ctx)
		if err != nil {
			slog.Error("read stop flag", "worker_id", w.id, "error", err)
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		if stop {
			slog.Info("stop requested, worker exiting", "worker_id", w.id)
			return
		}

		w.heartbeat(ctx)

		job, err := w.store.Claim(ctx, w.id)
		if err != nil {
			slog.Error("claim", "worker_id", w.id, "error", err)
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		if job == nil {
			if !w.sleep(ctx) {
				return
			}
			continue
		}

		w.process(ctx, job)
		// Work-conserving: go straight back for the next claim.
	}
}

// process executes one claimed job and persists the policy's decision.
// A panic anywhere in this path is converted into the failed state rather
// than crashing the worker.
func (w *Worker) process(ctx context.Context, job *store.Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("processor fault", "worker_id", w.id, "job_id", job.ID, "panic", r)
			diag := fmt.Sprintf("processor fault: %v", r)
			if err := w.store.MarkFailed(ctx, job.ID, diag); err != nil {
				slog.Error("mark failed", "job_id", job.ID, "error", err)
			}
		}
	}()

	slog.Info("executing job",
		"worker_id", w.id, "job_id", job.ID,
		"command", job.Command, "attempts", job.Attempts)

	timeout, err := w.store.JobTimeout(ctx)
	if err != nil {
		slog.Warn("read job timeout, running unlimited", "job_id", job.ID, "error", err)
		timeout = 0
	}

	res := runner.Run(ctx, job.Command, timeout)

	backoffBase, err := w.store.BackoffBase(ctx)
	if err != nil {
		slog.Warn("read backoff base, using default", "job_id", job.ID, "error", err)
		backoffBase = 2
	}

	out := decide(job, res, backoffBase, time.Now().UTC())

	switch out.State {
	case store.StateCompleted:
		err = w.store.CompleteJob(ctx, job.ID, res.Stdout, res.Stderr)
		slog.Info("job completed", "worker_id", w.id, "job_id", job.ID)
	case store.StatePending:
		err = w.store.RescheduleJob(ctx, job.ID, out.Attempts, out.AvailableAt,
			out.LastError, res.Stdout, res.Stderr)
		slog.Info("job retry scheduled",
			"worker_id", w.id, "job_id", job.ID,
			"attempts", out.Attempts, "delay", out.Delay)
	case store.StateDead:
		err = w.store.BuryJob(ctx, job.ID, out.Attempts, out.LastError,
			res.Stdout, res.Stderr)
		slog.Warn("job moved to dead-letter queue",
			"worker_id", w.id, "job_id", job.ID,
			"attempts", out.Attempts, "exit_code", res.ExitCode)
	default:
		panic(fmt.Sprintf("policy produced state %q", out.State))
	}

	if err != nil {
		// The attempt ran but its outcome could not be persisted; park the
		// job in failed for external remediation rather than letting a
		// half-recorded attempt retry as if nothing happened.
		slog.Error("persist outcome", "job_id", job.ID, "error", err)
		diag := fmt.Sprintf("failed to persist %s outcome: %v", out.State, err)
		if mfErr := w.store.MarkFailed(ctx, job.ID, diag); mfErr != nil {
			slog.Error("mark failed", "job_id", job.ID, "error", mfErr)
		}
	}
}

// sleep blocks for the poll interval, returning false if ctx was cancelled
// first. A timer (not time.After) so cancellation doesn't leak it.
func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// heartbeat refreshes this worker's registry row. Failures are logged only;
// the registry is advisory.
func (w *Worker) heartbeat(ctx context.Context) {
	if err := w.store.WorkerHeartbeat(ctx, w.id, os.Getpid()); err != nil {
		slog.Warn("heartbeat", "worker_id", w.id, "error", err)
	}
}

// deregister removes the registry row on clean exit. Uses a fresh context:
// the loop context is usually already cancelled by the time we get here.
func (w *Worker) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.RemoveWorker(ctx, w.id); err != nil {
		slog.Warn("deregister worker", "worker_id", w.id, "error", err)
	}
	slog.Info("worker stopped", "worker_id", w.id)
}
