package worker

import (
	"strings"
	"testing"
	"time"

	"github.com/Ridhi-215/queuectl/internal/runner"
	"github.com/Ridhi-215/queuectl/internal/store"
)

func job(attempts, maxRetries int) *store.Job {
	return &store.Job{
		ID:         "j",
		Command:    "true",
		State:      store.StateProcessing,
		Attempts:   attempts,
		MaxRetries: maxRetries,
	}
}

func TestDecide_Success(t *testing.T) {
	now := time.Now().UTC()
	out := decide(job(2, 3), runner.Result{ExitCode: 0, Stdout: "ok\n"}, 2, now)

	if out.State != store.StateCompleted {
		t.Errorf("State = %q, want completed", out.State)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want unchanged 2 — success does not count an attempt", out.Attempts)
	}
	if out.LastError != "" {
		t.Errorf("LastError = %q, want empty", out.LastError)
	}
}

func TestDecide_RetryWithBackoff(t *testing.T) {
	now := time.Now().UTC()

	// The delay before the k-th retry is base^k seconds.
	cases := []struct {
		attempts int
		base     int
		want     time.Duration
	}{
		{0, 2, 2 * time.Second},
		{1, 2, 4 * time.Second},
		{2, 2, 8 * time.Second},
		{0, 3, 3 * time.Second},
		{2, 3, 27 * time.Second},
		{0, 1, 1 * time.Second},
	}
	for _, tc := range cases {
		out := decide(job(tc.attempts, 10), runner.Result{ExitCode: 1, Stderr: "nope"}, tc.base, now)
		if out.State != store.StatePending {
			t.Errorf("attempts=%d: State = %q, want pending", tc.attempts, out.State)
		}
		if out.Attempts != tc.attempts+1 {
			t.Errorf("attempts=%d: Attempts = %d, want %d", tc.attempts, out.Attempts, tc.attempts+1)
		}
		if out.Delay != tc.want {
			t.Errorf("attempts=%d base=%d: Delay = %v, want %v", tc.attempts, tc.base, out.Delay, tc.want)
		}
		if !out.AvailableAt.Equal(now.Add(tc.want)) {
			t.Errorf("attempts=%d: AvailableAt = %v, want now+%v", tc.attempts, out.AvailableAt, tc.want)
		}
	}
}

func TestDecide_DeadAfterMaxRetries(t *testing.T) {
	now := time.Now().UTC()

	// max_retries=1: the second failure (attempts 1 -> 2) exhausts the budget.
	out := decide(job(1, 1), runner.Result{ExitCode: 7, Stderr: "kaput"}, 2, now)
	if out.State != store.StateDead {
		t.Errorf("State = %q, want dead", out.State)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
	if !strings.Contains(out.LastError, "exit code 7") || !strings.Contains(out.LastError, "kaput") {
		t.Errorf("LastError = %q, want exit code and stderr in the message", out.LastError)
	}
}

func TestDecide_LastRetryBeforeDead(t *testing.T) {
	now := time.Now().UTC()

	// attempts == max_retries after increment is still a retry; only
	// attempts > max_retries is dead.
	out := decide(job(0, 1), runner.Result{ExitCode: 1}, 2, now)
	if out.State != store.StatePending {
		t.Errorf("State = %q, want pending — budget not exhausted yet", out.State)
	}
}

func TestDecide_ZeroRetriesDiesImmediately(t *testing.T) {
	now := time.Now().UTC()

	out := decide(job(0, 0), runner.Result{ExitCode: 1}, 2, now)
	if out.State != store.StateDead {
		t.Errorf("State = %q, want dead on first failure with max_retries=0", out.State)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
}

func TestDecide_SentinelFailureRetries(t *testing.T) {
	now := time.Now().UTC()

	// Timeouts and launch failures arrive as the sentinel exit code and go
	// through the ordinary backoff path.
	out := decide(job(0, 3), runner.Result{
		ExitCode: runner.ExitFailure,
		Stderr:   "command timed out after 1s",
	}, 2, now)
	if out.State != store.StatePending {
		t.Errorf("State = %q, want pending", out.State)
	}
	if !strings.Contains(out.LastError, "timed out") {
		t.Errorf("LastError = %q, want timeout message preserved", out.LastError)
	}
}
