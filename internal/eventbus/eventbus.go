// Package eventbus is the process-wide latched signal registry that
// schedulers and supervisors use to coordinate channel start/end ordering.
// Each channel name carries two one-shot signals, Started and Ended; once
// fired a signal stays fired, so an awaiter that arrives after the fact
// still observes it immediately.
package eventbus

import (
	"context"
	"sync"
)

// Signal identifies which lifecycle event a channel entry tracks.
type Signal int

const (
	// Started fires when a channel's process has been spawned.
	Started Signal = iota
	// Ended fires when a channel's process has exited, or its spawn failed.
	// A channel whose spawn was aborted by shutdown never fires it.
	Ended
)

// entry holds the latch state for one channel's Started and Ended signals.
// A closed channel is the latch: awaiters select on it, firing is a single
// close guarded by sync.Once so repeat fires are no-ops (spec: idempotent).
type entry struct {
	mu sync.Mutex

	startedOnce sync.Once
	startedCh   chan struct{}

	endedOnce sync.Once
	endedCh   chan struct{}
	exitCode  int
}

func newEntry() *entry {
	return &entry{
		startedCh: make(chan struct{}),
		endedCh:   make(chan struct{}),
	}
}

// Bus is the registry, keyed by channel name. The zero value is not usable;
// construct with New.
type Bus struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{entries: make(map[string]*entry)}
}

func (b *Bus) entryFor(name string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[name]
	if !ok {
		e = newEntry()
		b.entries[name] = e
	}
	return e
}

// FireStarted latches the STARTED signal for name. The first call wins;
// later calls are no-ops.
func (b *Bus) FireStarted(name string) {
	e := b.entryFor(name)
	e.startedOnce.Do(func() { close(e.startedCh) })
}

// FireEnded latches the ENDED signal for name, recording its exit code. The
// first call wins; later calls are no-ops.
func (b *Bus) FireEnded(name string, exitCode int) {
	e := b.entryFor(name)
	e.endedOnce.Do(func() {
		e.mu.Lock()
		e.exitCode = exitCode
		e.mu.Unlock()
		close(e.endedCh)
	})
}

// Await blocks until name's signal has fired or ctx is canceled. It returns
// ctx.Err() if cancellation happens first. Many goroutines may await the
// same signal concurrently.
func (b *Bus) Await(ctx context.Context, name string, sig Signal) error {
	e := b.entryFor(name)
	ch := e.startedCh
	if sig == Ended {
		ch = e.endedCh
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode returns the exit code latched by FireEnded(name, ...). It is
// meaningless (and returns 0, false) before ENDED has fired.
func (b *Bus) ExitCode(name string) (code int, fired bool) {
	e := b.entryFor(name)
	select {
	case <-e.endedCh:
	default:
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCode, true
}

// Started reports whether name's STARTED signal has fired.
func (b *Bus) Started(name string) bool {
	e := b.entryFor(name)
	select {
	case <-e.startedCh:
		return true
	default:
		return false
	}
}
