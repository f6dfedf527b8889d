// Package scheduler computes, per channel, the moment a Formula's process
// may be spawned: the point at which every dependency await and its
// guarding delay, and the channel's own top-level delay, have all elapsed.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/oskarlin/multiplex/internal/eventbus"
	"github.com/oskarlin/multiplex/internal/formula"
)

// Await blocks until f is ready to start, or ctx is canceled (e.g. by a
// shutdown request arriving before the spawn point). It returns ctx.Err()
// in the latter case; the caller must abort the spawn silently and leave
// the channel PENDING.
func Await(ctx context.Context, bus *eventbus.Bus, f formula.Formula) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(f.Deps)+1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- sleep(ctx, sumDurations(f.StartDelays))
	}()

	for _, dep := range f.Deps {
		dep := dep
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- awaitDep(ctx, bus, dep)
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// awaitDep waits for one Dep's target signal, then its guarding delay. A
// dep with an empty target carries no process wait, only the delay.
func awaitDep(ctx context.Context, bus *eventbus.Bus, dep formula.Dep) error {
	if dep.Target != "" {
		sig := eventbus.Ended
		if dep.On == formula.Start {
			sig = eventbus.Started
		}
		if err := bus.Await(ctx, dep.Target, sig); err != nil {
			return err
		}
	}
	return sleep(ctx, sumDurations(dep.After))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sumDurations(ds []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total
}
