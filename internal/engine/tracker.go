package engine

import (
	"sync/atomic"
	"time"
)

// defaultDrainTimeout bounds the wait for in-flight detours during shutdown.
const defaultDrainTimeout = 5 * time.Second

// activityTracker counts detour invocations currently on host threads. The
// hot path is two atomic operations; nothing here ever blocks.
type activityTracker struct {
	inFlight     atomic.Int64
	shuttingDown atomic.Bool
}

// enter marks a detour invocation in flight and samples the shutdown flag
// exactly once. The sampled value decides whether callbacks fire for this
// call; sampling once keeps the Pre and Post decision symmetric even if
// shutdown begins mid-call.
func (t *activityTracker) enter() callGuard {
	t.inFlight.Add(1)
	return callGuard{tracker: t, skip: t.shuttingDown.Load()}
}

// callGuard is held for the duration of one detour invocation.
type callGuard struct {
	tracker *activityTracker
	skip    bool
}

// Skip reports whether callbacks are suppressed for this call.
func (g callGuard) Skip() bool { return g.skip }

// exit marks the invocation finished. Must be called exactly once.
func (g callGuard) exit() {
	g.tracker.inFlight.Add(-1)
}

// drain raises the shutdown flag and spin-waits until no invocation remains
// in flight, yielding the processor each iteration. Returns false if the
// timeout elapsed with calls still inside.
func (t *activityTracker) drain(timeout time.Duration, yield func()) bool {
	t.shuttingDown.Store(true)
	deadline := time.Now().Add(timeout)
	for t.inFlight.Load() != 0 {
		if time.Now().After(deadline) {
			return false
		}
		yield()
	}
	return true
}
