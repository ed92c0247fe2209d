// Package ec implements event counts: monotonically advancing counters
// that processes block on, waiting for a specific next value. They are
// the kernel's only blocking-wakeup primitive — netbuf exhaustion,
// socket arrivals, retry backoff timers, and process cancellation are
// all expressed as an EC a caller waits on.
//
// There is no third-party event-count library in the ecosystem this
// module draws on; the broadcast-on-advance shape below is the
// standard Go idiom (a version counter paired with a channel that is
// closed and replaced on every change), the same pattern the teacher
// used for its notify-on-channel-close shutdown signal in
// eventsocket.Server.Serve.
package ec

import (
	"context"
	"sync"
)

// EC is an event count.
type EC struct {
	mu  sync.Mutex
	val uint64
	ch  chan struct{}
}

// New returns a fresh event count starting at 0.
func New() *EC {
	return &EC{ch: make(chan struct{})}
}

// Read returns the current value without blocking.
func (e *EC) Read() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.val
}

// Advance increments the event count by one and wakes every waiter.
// It returns the new value.
func (e *EC) Advance() uint64 {
	e.mu.Lock()
	e.val++
	v := e.val
	old := e.ch
	e.ch = make(chan struct{})
	e.mu.Unlock()
	close(old)
	return v
}

func (e *EC) snapshot() (uint64, chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.val, e.ch
}

// Wait blocks until e's value is at least target, or ctx is done.
// It returns the observed value and, on cancellation, ctx.Err().
func (e *EC) Wait(ctx context.Context, target uint64) (uint64, error) {
	for {
		v, ch := e.snapshot()
		if v >= target {
			return v, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// WaitNext blocks until e is advanced at least once past its value at
// call time.
func (e *EC) WaitNext(ctx context.Context) (uint64, error) {
	v, _ := e.snapshot()
	return e.Wait(ctx, v+1)
}
