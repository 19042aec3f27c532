// ABOUTME: The retry/backoff policy — a pure function from (job, execution
// ABOUTME: result) to the next persisted state.
package worker

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Ridhi-215/queuectl/internal/runner"
	"github.com/Ridhi-215/queuectl/internal/store"
)

// outcome is the next persisted state decided for a job after an execution
// attempt.
type outcome struct {
	State       store.State
	Attempts    int
	AvailableAt time.Time // meaningful only when State is pending
	Delay       time.Duration
	LastError   string // empty on success
}

// decide computes the state transition for a finished attempt.
//
// Exit 0 completes the job. Any other exit increments attempts; once
// attempts exceed the job's max_retries the job is dead, otherwise it goes
// back to pending with a delay of backoffBase^attempts seconds. The growth
// is deliberately unbounded — no jitter, no cap; operators tune
// backoff_base instead.
func decide(j *store.Job, res runner.Result, backoffBase int, now time.Time) outcome {
	if res.Ok() {
		return outcome{State: store.StateCompleted, Attempts: j.Attempts}
	}

	attempts := j.Attempts + 1
	lastError := fmt.Sprintf("exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))

	if attempts > j.MaxRetries {
		return outcome{
			State:     store.StateDead,
			Attempts:  attempts,
			LastError: lastError,
		}
	}

	delay := time.Duration(math.Pow(float64(backoffBase), float64(attempts)) * float64(time.Second))
	return outcome{
		State:       store.StatePending,
		Attempts:    attempts,
		AvailableAt: now.Add(delay),
		Delay:       delay,
		LastError:   lastError,
	}
}
