// ABOUTME: Pool runs N independent worker loops as goroutines and handles
// ABOUTME: the stop-flag drain dance for `worker start`.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Ridhi-215/queuectl/internal/store"
)

// Pool runs a fixed number of Workers against the same store. The workers
// share nothing but the store handle; each has its own identity and loop.
type Pool struct {
	store        *store.Store
	count        int
	pollInterval time.Duration
}

// NewPool creates a Pool of count workers polling at pollInterval.
func NewPool(s *store.Store, count int, pollInterval time.Duration) *Pool {
	return &Pool{store: s, count: count, pollInterval: pollInterval}
}

// Run clears the shared stop flag, starts the workers, and blocks until all
// of them exit — either because the stop flag was set or because ctx was
// cancelled. When ctx is cancelled first, Run sets the stop flag so workers
// drain cooperatively, waits up to grace for them, then force-cancels
// stragglers and waits for the forced exits.
func (p *Pool) Run(ctx context.Context, grace time.Duration) error {
	if err := p.store.SetSetting(ctx, store.KeyWorkersStop, "0"); err != nil {
		return err
	}

	// Workers get their own cancellable context so the drain path can
	// separate "stop claiming" (flag) from "abandon in-flight work" (cancel).
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runAll(workerCtx, p.store, p.count, p.pollInterval)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	slog.Info("interrupt received, requesting worker stop", "grace", grace)
	// Fresh context: ctx is already cancelled.
	flagCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.SetSetting(flagCtx, store.KeyWorkersStop, "1"); err != nil {
		slog.Error("set stop flag", "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		slog.Warn("grace period elapsed, terminating remaining workers")
		cancelWorkers()
		<-done
		return nil
	}
}

// runAll starts count workers and blocks until the last one returns.
func runAll(ctx context.Context, s *store.Store, count int, pollInterval time.Duration) {
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		w := New(s, pollInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}
