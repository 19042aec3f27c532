// ABOUTME: Integration tests for the config key/value table — seeded
// ABOUTME: defaults, upserts, and the typed tunables' fallback behavior.
package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/Ridhi-215/queuectl/internal/store"
	"github.com/Ridhi-215/queuectl/internal/testutil"
)

func TestSettings_SeededDefaults(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	base, err := s.BackoffBase(ctx)
	if err != nil {
		t.Fatalf("BackoffBase: %v", err)
	}
	if base != 2 {
		t.Errorf("BackoffBase = %d, want 2", base)
	}

	retries, err := s.DefaultMaxRetries(ctx)
	if err != nil {
		t.Fatalf("DefaultMaxRetries: %v", err)
	}
	if retries != 3 {
		t.Errorf("DefaultMaxRetries = %d, want 3", retries)
	}

	timeout, err := s.JobTimeout(ctx)
	if err != nil {
		t.Fatalf("JobTimeout: %v", err)
	}
	if timeout != 0 {
		t.Errorf("JobTimeout = %v, want 0 (unlimited)", timeout)
	}

	stop, err := s.StopRequested(ctx)
	if err != nil {
		t.Fatalf("StopRequested: %v", err)
	}
	if stop {
		t.Error("StopRequested = true, want false on a fresh store")
	}
}

func TestSettings_Upsert(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	if err := s.SetSetting(ctx, store.KeyBackoffBase, "5"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	base, err := s.BackoffBase(ctx)
	if err != nil {
		t.Fatalf("BackoffBase: %v", err)
	}
	if base != 5 {
		t.Errorf("BackoffBase = %d, want 5", base)
	}

	if err := s.SetSetting(ctx, store.KeyJobTimeoutSeconds, "7"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	timeout, err := s.JobTimeout(ctx)
	if err != nil {
		t.Fatalf("JobTimeout: %v", err)
	}
	if timeout != 7*time.Second {
		t.Errorf("JobTimeout = %v, want 7s", timeout)
	}

	if err := s.SetSetting(ctx, store.KeyWorkersStop, "1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	stop, err := s.StopRequested(ctx)
	if err != nil {
		t.Fatalf("StopRequested: %v", err)
	}
	if !stop {
		t.Error("StopRequested = false after setting flag to 1")
	}
}

func TestSettings_MalformedFallsBack(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	// A worker reading a mangled tunable must get the documented default,
	// not an error and not a nonsense value.
	if err := s.SetSetting(ctx, store.KeyBackoffBase, "banana"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	base, err := s.BackoffBase(ctx)
	if err != nil {
		t.Fatalf("BackoffBase: %v", err)
	}
	if base != 2 {
		t.Errorf("BackoffBase = %d, want fallback 2", base)
	}

	if err := s.SetSetting(ctx, store.KeyBackoffBase, "0"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	base, err = s.BackoffBase(ctx)
	if err != nil {
		t.Fatalf("BackoffBase: %v", err)
	}
	if base != 2 {
		t.Errorf("BackoffBase = %d, want fallback 2 for out-of-range value", base)
	}
}

func TestSettings_MissingKeyUsesDefault(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	v, err := s.GetSetting(ctx, "no-such-key", "fallback")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "fallback" {
		t.Errorf("GetSetting = %q, want %q", v, "fallback")
	}
}
